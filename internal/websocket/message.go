package websocket

import (
	"encoding/json"
	"strconv"
	"time"
)

// Message types exchanged with clients. Execution progress is sent under
// execution.EventStepResult.
const (
	MessageTypeConnection  = "connection"
	MessageTypeHeartbeat   = "heartbeat"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeSubscribed  = "subscription_update"
	MessageTypeError       = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// UnmarshalJSON accepts RFC3339 timestamps as well as unix seconds or
// milliseconds, given as numbers or strings. A missing timestamp means now.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      string      `json:"type"`
		Data      interface{} `json:"data"`
		Timestamp interface{} `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	m.Data = raw.Data
	m.Timestamp = parseTimestamp(raw.Timestamp)
	return nil
}

// field returns a string value of the message's object payload.
func (m Message) field(key string) string {
	obj, ok := m.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

// millisThreshold separates unix seconds from milliseconds.
const millisThreshold = 1e11

func parseTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case nil:
		return time.Now()
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return fromUnix(n)
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
		return time.Now()
	case float64:
		return fromUnix(int64(t))
	case int64:
		return fromUnix(t)
	case int:
		return fromUnix(int64(t))
	}
	return time.Now()
}

func fromUnix(n int64) time.Time {
	if n > millisThreshold {
		return time.Unix(0, n*int64(time.Millisecond))
	}
	return time.Unix(n, 0)
}
