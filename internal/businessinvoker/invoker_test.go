package businessinvoker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchInvokesRegisteredMethod(t *testing.T) {
	d := NewDispatch()
	d.Register("ServiceA", "op1", func(_ context.Context, sequenceID int64, args []any) (Result, error) {
		return Result{Value: sequenceID, DeclaredType: "long"}, nil
	})

	res, err := d.Invoke(context.Background(), 42, "ServiceA", "op1", nil, "token", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Value)
	assert.Equal(t, "long", res.DeclaredType)
}

func TestDispatchErrorsOnUnregisteredMethod(t *testing.T) {
	d := NewDispatch()
	_, err := d.Invoke(context.Background(), 1, "ServiceA", "op1", nil, "token", "v1")
	require.Error(t, err)
}

func TestDispatchReRegisterReplacesBinding(t *testing.T) {
	d := NewDispatch()
	d.Register("ServiceA", "op1", func(_ context.Context, _ int64, _ []any) (Result, error) {
		return Result{Value: "first"}, nil
	})
	d.Register("ServiceA", "op1", func(_ context.Context, _ int64, _ []any) (Result, error) {
		return Result{Value: "second"}, nil
	})

	res, err := d.Invoke(context.Background(), 1, "ServiceA", "op1", nil, "token", "v1")
	require.NoError(t, err)
	assert.Equal(t, "second", res.Value)
}
