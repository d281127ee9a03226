package verify

import (
	"errors"
	"fmt"
)

var (
	ErrVerificationFailure = errors.New("verification failed")
	ErrParseFailure        = errors.New("failed to parse json")
)

// MismatchError carries the diagnostic of a failed comparison.
type MismatchError struct {
	Path    string
	Message string
}

func (e *MismatchError) Error() string {
	return e.Message
}

func (e *MismatchError) Unwrap() error {
	return ErrVerificationFailure
}

func parseError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrParseFailure, what, err)
}
