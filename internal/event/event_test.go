package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadUnmarshal(t *testing.T) {
	t.Run("extra fields are preserved verbatim", func(t *testing.T) {
		input := `{"message":"deploy finished","timestamp":"2025-06-01T10:00:00Z","region":"eu-west-1","attempt":3,"meta":{"host":"node-7"}}`

		var p Payload
		require.NoError(t, json.Unmarshal([]byte(input), &p))

		assert.Equal(t, "deploy finished", p.Message)
		assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), p.Timestamp)
		assert.Len(t, p.Extra, 3)
		assert.JSONEq(t, `"eu-west-1"`, string(p.Extra["region"]))
		assert.JSONEq(t, `3`, string(p.Extra["attempt"]))
		assert.JSONEq(t, `{"host":"node-7"}`, string(p.Extra["meta"]))
	})

	t.Run("missing message is rejected", func(t *testing.T) {
		var p Payload
		err := json.Unmarshal([]byte(`{"timestamp":"2025-06-01T10:00:00Z"}`), &p)
		assert.ErrorIs(t, err, ErrPayloadMissingMessage)
	})

	t.Run("missing timestamp is rejected", func(t *testing.T) {
		var p Payload
		err := json.Unmarshal([]byte(`{"message":"hi"}`), &p)
		assert.ErrorIs(t, err, ErrPayloadMissingTimestamp)
	})

	t.Run("malformed timestamp is rejected", func(t *testing.T) {
		var p Payload
		err := json.Unmarshal([]byte(`{"message":"hi","timestamp":"yesterday"}`), &p)
		assert.ErrorIs(t, err, ErrPayloadInvalidTimestamp)
	})

	t.Run("timestamp with offset is accepted", func(t *testing.T) {
		var p Payload
		require.NoError(t, json.Unmarshal(
			[]byte(`{"message":"hi","timestamp":"2025-06-01T12:00:00+02:00"}`), &p))
		assert.Equal(t, int64(1748772000), p.Timestamp.Unix())
	})
}

func TestPayloadRoundTrip(t *testing.T) {
	input := `{"message":"m","timestamp":"2025-06-01T10:00:00Z","trace_id":"abc-123","level":"warn"}`

	var p Payload
	require.NoError(t, json.Unmarshal([]byte(input), &p))

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestEventJSON(t *testing.T) {
	input := `{
		"event_id": "e1",
		"topic": "payments",
		"source": "gateway",
		"payload": {"message": "charge ok", "timestamp": "2025-06-01T10:00:00Z"},
		"timestamp": "2025-06-01T10:00:01Z"
	}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(input), &ev))

	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, "payments", ev.Topic)
	assert.Equal(t, "gateway", ev.Source)
	assert.Equal(t, "charge ok", ev.Payload.Message)
	assert.Nil(t, ev.Payload.Extra)

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}
