// Package stream holds the deadline handling shared by the socket adapters.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
)

// ReadBufferSize bounds a single response chunk.
const ReadBufferSize = 64 * 1024

// DefaultTimeout applies when neither the caller nor the context sets a deadline.
const DefaultTimeout = 10 * time.Second

// Write sends data, giving up after timeout or when ctx ends.
func Write(ctx context.Context, conn net.Conn, data []byte, timeout time.Duration) error {
	stop := context.AfterFunc(ctx, func() { conn.SetWriteDeadline(time.Now()) })
	defer stop()

	conn.SetWriteDeadline(deadline(ctx, timeout))
	if _, err := conn.Write(data); err != nil {
		return translate(ctx, "write", err)
	}
	return nil
}

// Read returns the first chunk that arrives before the deadline.
func Read(ctx context.Context, conn net.Conn, timeout time.Duration) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	conn.SetReadDeadline(deadline(ctx, timeout))
	buf := make([]byte, ReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, translate(ctx, "read", err)
	}
	return buf[:n], nil
}

// Exchange writes payload and waits for one response chunk.
func Exchange(ctx context.Context, conn net.Conn, payload []byte, timeout time.Duration) ([]byte, error) {
	if err := Write(ctx, conn, payload, timeout); err != nil {
		return nil, err
	}
	return Read(ctx, conn, timeout)
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func translate(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", op, connection.ErrTimeout)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
