package intents

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload_EveryKind(t *testing.T) {
	for _, kind := range Kinds() {
		if kind == KindStartRide || kind == KindAlert {
			continue
		}
		p, err := DecodePayload(kind, nil)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, p.Kind())
	}
}

func TestDecodePayload_StartRide(t *testing.T) {
	raw := json.RawMessage(`{"pickup":{"address":"Ikeja"},"dropoff":{"address":"Lekki"},"passenger_name":"Ada"}`)
	p, err := DecodePayload(KindStartRide, raw)
	require.NoError(t, err)
	ride := p.(*StartRide)
	assert.Equal(t, "Ikeja", ride.Pickup.Address)
	assert.False(t, ride.Pickup.Resolved())

	_, err = DecodePayload(KindStartRide, json.RawMessage(`{"pickup":{"address":"Ikeja"}}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestDecodePayload_Errors(t *testing.T) {
	_, err := DecodePayload("LAUNCH_ROCKET", nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = DecodePayload(KindDimScreen, json.RawMessage(`{"level":3}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = DecodePayload(KindStartTracking, json.RawMessage(`{"interval_seconds":-1}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = DecodePayload(KindStartTracking, json.RawMessage(`{"interval_seconds":9223372036}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	p, err := DecodePayload(KindStartTracking, json.RawMessage(`{"interval_seconds":86400}`))
	require.NoError(t, err)
	assert.Equal(t, MaxTrackingIntervalSeconds, p.(*StartTracking).IntervalSeconds)

	_, err = DecodePayload(KindSOS, json.RawMessage(`[1,2]`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	_, err = DecodePayload(KindAlert, json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestIntentDecode(t *testing.T) {
	in := Intent{Kind: KindAlert, Payload: json.RawMessage(`{"type":"LOW_BATTERY","value":12}`)}
	p, err := in.Decode()
	require.NoError(t, err)
	alert := p.(*Alert)
	assert.Equal(t, AlertLowBattery, alert.Type)
	assert.Equal(t, 12.0, alert.Value)
}
