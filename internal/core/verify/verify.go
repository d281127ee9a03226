// Package verify decides whether an observed device response matches the
// expected pattern of a test step.
package verify

import (
	"encoding/json"
	"strings"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
)

// Result is the outcome of one verification.
type Result struct {
	Passed bool
	// Message is empty on success and holds the diagnostic otherwise.
	Message string
}

// Err converts a failed result into a *MismatchError.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return &MismatchError{Message: r.Message}
}

func pass() Result { return Result{Passed: true} }

func fail(msg string) Result { return Result{Message: msg} }

// Response verifies a response received over protocol p against expected.
//
// MQTT responses are {topic, payload} envelopes and only the payloads are
// compared. SSH output passes when it contains the expected text. Every other
// protocol compares the response text with the normalized expectation.
func Response(p connection.Protocol, response []byte, expected string) Result {
	switch p {
	case connection.ProtocolMQTT:
		return envelope(response, expected)
	case connection.ProtocolSSH:
		if strings.Contains(string(response), expected) {
			return pass()
		}
		return fail("Response does not contain expected string")
	default:
		ok, msg := DeepCompare(string(response), Normalize(expected), "")
		return Result{Passed: ok, Message: msg}
	}
}

func envelope(response []byte, expected string) Result {
	actual, err := Decode(Normalize(string(response)))
	if err != nil {
		return fail("Error verifying response: " + parseError("response", err).Error())
	}
	want, err := Decode(Normalize(expected))
	if err != nil {
		return fail("Error verifying response: " + parseError("expected result", err).Error())
	}

	wantPayload := field(want, "payload")
	if actual == nil || wantPayload == nil {
		return fail("Invalid payload structure")
	}

	ok, msg := DeepCompare(field(actual, "payload"), wantPayload, "")
	return Result{Passed: ok, Message: msg}
}

// Decode parses JSON text into generic values.
func Decode(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func field(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}
