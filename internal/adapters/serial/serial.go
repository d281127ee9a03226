// Package serial talks to devices over a serial line.
package serial

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	defaultBaudRate = 115200
	defaultDataBits = 8
	readChunk       = 4096
	// quietPeriod ends a response once the line has been idle this long.
	quietPeriod = 50 * time.Millisecond
)

// OpenFunc opens a serial port. Tests replace it.
type OpenFunc func(name string, mode *serial.Mode) (serial.Port, error)

type Conn struct {
	cfg      connection.SerialConfig
	protocol connection.Protocol
	open     OpenFunc
	logger   *logrus.Logger

	mu   sync.Mutex
	port serial.Port
}

func New(cfg connection.SerialConfig, logger *logrus.Logger) *Conn {
	return NewWithOpener(cfg, serial.Open, logger)
}

// NewWithOpener builds a connection that opens its port through open.
func NewWithOpener(cfg connection.SerialConfig, open OpenFunc, logger *logrus.Logger) *Conn {
	return &Conn{
		cfg:      cfg,
		protocol: connection.ProtocolSerial,
		open:     open,
		logger:   logger,
	}
}

// WithProtocol makes errors report p instead of serial. Used by adapters
// that tunnel over a tty.
func (c *Conn) WithProtocol(p connection.Protocol) *Conn {
	c.protocol = p
	return c
}

// Mode converts the line settings into a serial.Mode.
func Mode(cfg connection.SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = defaultBaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = defaultDataBits
	}

	switch strings.ToLower(cfg.Parity) {
	case "", "none", "n":
		mode.Parity = serial.NoParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "mark", "m":
		mode.Parity = serial.MarkParity
	case "space", "s":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: parity %q", connection.ErrInvalidConfig, cfg.Parity)
	}

	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", connection.ErrInvalidConfig, cfg.StopBits)
	}
	return mode, nil
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		return nil
	}

	mode, err := Mode(c.cfg)
	if err != nil {
		return connection.ConnectError(c.protocol, err)
	}

	port, err := c.open(c.cfg.ComNumber, mode)
	if err != nil {
		return connection.ConnectError(c.protocol, err)
	}
	c.port = port

	c.logger.WithFields(logrus.Fields{
		"port":     c.cfg.ComNumber,
		"baudrate": mode.BaudRate,
	}).Info("Serial port opened")
	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return connection.ErrNotConnected
	}
	return c.write(data)
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil, connection.ErrNotConnected
	}
	return c.read(ctx, 0)
}

// SendAndReceive flushes stale input, writes the payload and collects bytes
// until the line goes quiet or the timeout expires.
func (c *Conn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil, connection.ErrNotConnected
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		c.logger.WithError(err).Debug("Failed to reset serial input buffer")
	}
	if err := c.write([]byte(payload)); err != nil {
		return nil, err
	}
	return c.read(ctx, timeout)
}

func (c *Conn) write(data []byte) error {
	if _, err := c.port.Write(data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", c.cfg.ComNumber, err)
	}
	return nil
}

func (c *Conn) read(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	var out []byte
	buf := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait := time.Until(deadline)
		if len(out) > 0 && wait > quietPeriod {
			wait = quietPeriod
		}
		if wait <= 0 {
			break
		}
		if err := c.port.SetReadTimeout(wait); err != nil {
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}

		n, err := c.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read from %s: %w", c.cfg.ComNumber, err)
		}
		if n == 0 {
			// Read timed out: either the response is complete or nothing came.
			if len(out) > 0 || !time.Now().Before(deadline) {
				break
			}
			continue
		}
		out = append(out, buf[:n]...)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s read: %w", c.protocol, connection.ErrTimeout)
	}
	return out, nil
}
