package connection

import (
	"errors"
	"fmt"
)

// Connection errors
var (
	ErrUnsupportedConnectionType = errors.New("unsupported connection type")
	ErrConnectionNotFound        = errors.New("connection not found")
	ErrUnsupportedOperation      = errors.New("unsupported operation")
	ErrConnectFailure            = errors.New("connect failed")
	ErrNotConnected              = errors.New("not connected")
	ErrTimeout                   = errors.New("timed out waiting for response")
	ErrInvalidConfig             = errors.New("invalid connection config")
)

// OperationError names the protocol and operation that failed.
type OperationError struct {
	Protocol Protocol
	Op       string
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Protocol, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Unsupported reports that protocol p cannot perform op.
func Unsupported(p Protocol, op string) error {
	return &OperationError{Protocol: p, Op: op, Err: ErrUnsupportedOperation}
}

// ConnectError wraps an adapter's dial/handshake failure.
func ConnectError(p Protocol, err error) error {
	return &OperationError{Protocol: p, Op: "connect", Err: fmt.Errorf("%w: %w", ErrConnectFailure, err)}
}
