package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		expected time.Time
	}{
		{
			name:     "unix milliseconds as string",
			jsonData: `{"type":"ping","data":{},"timestamp":"1753104374613"}`,
			expected: time.Unix(0, 1753104374613*int64(time.Millisecond)),
		},
		{
			name:     "unix seconds as string",
			jsonData: `{"type":"ping","data":{},"timestamp":"1753104374"}`,
			expected: time.Unix(1753104374, 0),
		},
		{
			name:     "unix milliseconds as number",
			jsonData: `{"type":"ping","data":{},"timestamp":1753104374613}`,
			expected: time.Unix(0, 1753104374613*int64(time.Millisecond)),
		},
		{
			name:     "RFC3339",
			jsonData: `{"type":"ping","data":{},"timestamp":"2025-07-21T09:26:14.613Z"}`,
			expected: time.Date(2025, 7, 21, 9, 26, 14, 613000000, time.UTC),
		},
		{
			name:     "missing timestamp",
			jsonData: `{"type":"ping","data":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.jsonData), &msg))
			assert.Equal(t, "ping", msg.Type)

			if tt.expected.IsZero() {
				assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Minute)
				return
			}
			assert.WithinDuration(t, tt.expected, msg.Timestamp, time.Millisecond)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected time.Time
	}{
		{name: "nil", input: nil},
		{name: "string millis", input: "1753104374613", expected: time.Unix(0, 1753104374613*int64(time.Millisecond))},
		{name: "string seconds", input: "1753104374", expected: time.Unix(1753104374, 0)},
		{name: "float64 millis", input: float64(1753104374613), expected: time.Unix(0, 1753104374613*int64(time.Millisecond))},
		{name: "int64 millis", input: int64(1753104374613), expected: time.Unix(0, 1753104374613*int64(time.Millisecond))},
		{name: "int seconds", input: int(1753104374), expected: time.Unix(1753104374, 0)},
		{name: "RFC3339", input: "2025-07-21T09:26:14.613Z", expected: time.Date(2025, 7, 21, 9, 26, 14, 613000000, time.UTC)},
		{name: "invalid string", input: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.input)
			if tt.expected.IsZero() {
				assert.WithinDuration(t, time.Now(), got, time.Minute)
				return
			}
			assert.WithinDuration(t, tt.expected, got, time.Millisecond)
		})
	}
}

func TestMessageField(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"subscribe","data":{"plan_id":"exec-1","n":3}}`), &msg))
	assert.Equal(t, "exec-1", msg.field("plan_id"))
	assert.Empty(t, msg.field("n"))
	assert.Empty(t, Message{Data: "text"}.field("plan_id"))
}
