package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSatisfiedString(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Satisfied("string", "approved", "approved")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSatisfiedBoolean(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Satisfied("boolean", "true", true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Satisfied("boolean", "false", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSatisfiedInt(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Satisfied("int", "42", 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSatisfiedJSONRoutingPath(t *testing.T) {
	e := NewEvaluator()
	payload := `{"routing_decision":{"routing_path":"false"}}`
	ok, err := e.Satisfied("json", "false", payload)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Satisfied("json", "true", payload)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSatisfiedCELExpressionFallback(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Satisfied("output > 10", "", 42)
	require.NoError(t, err)
	assert.True(t, ok)

	// cached program reused on second call
	ok, err = e.Satisfied("output > 10", "", 4)
	require.NoError(t, err)
	assert.False(t, ok)
}
