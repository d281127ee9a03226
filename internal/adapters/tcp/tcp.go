// Package tcp is a stream socket adapter.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/stream"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
)

type Conn struct {
	cfg         connection.TCPConfig
	dialTimeout time.Duration
	logger      *logrus.Logger

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg connection.TCPConfig, dialTimeout time.Duration, logger *logrus.Logger) *Conn {
	return &Conn{
		cfg:         cfg,
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	address := c.cfg.Endpoint()
	c.logger.WithField("address", address).Info("Connecting to TCP device...")

	dialer := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return connection.ConnectError(connection.ProtocolTCP, err)
	}

	c.conn = conn
	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.logger.WithField("address", c.cfg.Endpoint()).Info("Disconnected from TCP device")
	return err
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return connection.ErrNotConnected
	}
	return stream.Write(ctx, c.conn, data, 0)
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, connection.ErrNotConnected
	}
	return stream.Read(ctx, c.conn, 0)
}

func (c *Conn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, connection.ErrNotConnected
	}
	return stream.Exchange(ctx, c.conn, []byte(payload), timeout)
}
