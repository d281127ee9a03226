// Package udp is a datagram adapter. Each payload is sent as one datagram
// and the first datagram received back is the response.
package udp

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
	cfg    connection.UDPConfig
	logger *logrus.Logger

	mu   sync.Mutex
	conn net.Conn
}

func New(cfg connection.UDPConfig, logger *logrus.Logger) *Conn {
	return &Conn{cfg: cfg, logger: logger}
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", c.cfg.Endpoint())
	if err != nil {
		return connection.ConnectError(connection.ProtocolUDP, err)
	}
	c.conn = conn
	c.logger.WithField("address", c.cfg.Endpoint()).Info("UDP socket ready")
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
