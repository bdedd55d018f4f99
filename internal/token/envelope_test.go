package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tk := &Token{
		Header: Header{SequenceID: 1_000_000, RuleBaseVersion: "v1", MonitorIncomingEvents: true},
		Service: Service{ServiceName: "svc1", Operation: "op1"},
		Monitor: Monitor{ProcessStartTime: 100, EventArrivalTime: 150, CallingService: "caller"},
		Join:    &Join{AttributeName: "token", AttributeValue: "x", NotAfter: 5000},
	}

	data, err := Marshal(tk)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), decoded.Header.SequenceID)
	assert.Equal(t, "v1", decoded.Header.RuleBaseVersion)
	assert.Equal(t, "svc1", decoded.Service.ServiceName)
	require.NotNil(t, decoded.Join)
	assert.Equal(t, "x", decoded.Join.AttributeValue)
	assert.Equal(t, int64(5000), decoded.Join.NotAfter)
}

func TestTokenJoinAttributeOmittedWhenNil(t *testing.T) {
	tk := &Token{
		Header:  Header{SequenceID: 7, RuleBaseVersion: "v1"},
		Service: Service{ServiceName: "svc1", Operation: "op1"},
	}
	data, err := Marshal(tk)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Join)
}
