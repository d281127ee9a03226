// Package bluetooth reaches RFCOMM devices by binding them to a tty with
// rfcomm(1) and speaking to the tty as a serial line.
package bluetooth

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	serialadapter "github.com/frostdev-ops/devtest-backend-go/internal/adapters/serial"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var (
	addressPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)
	deviceLine     = regexp.MustCompile(`Device ([0-9A-F:]{17}) (.+)`)
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type Options struct {
	// RFCOMMIndex selects /dev/rfcomm<N>.
	RFCOMMIndex    int
	BaudRate       int
	CommandTimeout time.Duration
	Run            Runner
	Open           serialadapter.OpenFunc
}

func DefaultOptions() Options {
	return Options{
		BaudRate:       115200,
		CommandTimeout: 15 * time.Second,
		Run:            execRunner,
		Open:           serial.Open,
	}
}

type Conn struct {
	cfg    connection.BluetoothConfig
	opts   Options
	logger *logrus.Logger

	mu   sync.Mutex
	line *serialadapter.Conn
}

func New(cfg connection.BluetoothConfig, opts Options, logger *logrus.Logger) *Conn {
	defaults := DefaultOptions()
	if opts.Run == nil {
		opts.Run = defaults.Run
	}
	if opts.Open == nil {
		opts.Open = defaults.Open
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaults.CommandTimeout
	}
	return &Conn{cfg: cfg, opts: opts, logger: logger}
}

func (c *Conn) device() string {
	return "/dev/rfcomm" + strconv.Itoa(c.opts.RFCOMMIndex)
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.line != nil {
		return nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	address, err := c.resolveAddress(cmdCtx)
	if err != nil {
		return connection.ConnectError(connection.ProtocolBluetooth, err)
	}

	channel := c.cfg.Channel
	if channel == 0 {
		channel = 1
	}
	index := strconv.Itoa(c.opts.RFCOMMIndex)
	if _, err := c.opts.Run(cmdCtx, "rfcomm", "bind", index, address, strconv.Itoa(channel)); err != nil {
		return connection.ConnectError(connection.ProtocolBluetooth, fmt.Errorf("rfcomm bind %s: %w", address, err))
	}

	line := serialadapter.NewWithOpener(connection.SerialConfig{
		ComNumber: c.device(),
		BaudRate:  c.opts.BaudRate,
	}, c.opts.Open, c.logger).WithProtocol(connection.ProtocolBluetooth)

	if err := line.Connect(ctx); err != nil {
		c.release(context.Background())
		return err
	}
	c.line = line

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"channel": channel,
		"device":  c.device(),
	}).Info("Bluetooth RFCOMM channel bound")
	return nil
}

// resolveAddress accepts a MAC address or looks the configured name up among
// the devices bluetoothctl knows.
func (c *Conn) resolveAddress(ctx context.Context) (string, error) {
	if addressPattern.MatchString(c.cfg.BluetoothName) {
		return strings.ToUpper(c.cfg.BluetoothName), nil
	}

	name := c.cfg.BluetoothName
	if name == "" {
		name = c.cfg.Name
	}
	output, err := c.opts.Run(ctx, "bluetoothctl", "devices")
	if err != nil {
		return "", fmt.Errorf("failed to list devices: %w", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		m := deviceLine.FindStringSubmatch(line)
		if len(m) == 3 && strings.TrimSpace(m[2]) == name {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("bluetooth device %q not found", name)
}

func (c *Conn) release(ctx context.Context) {
	cmdCtx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()
	if _, err := c.opts.Run(cmdCtx, "rfcomm", "release", strconv.Itoa(c.opts.RFCOMMIndex)); err != nil {
		c.logger.WithError(err).Warn("Failed to release rfcomm device")
	}
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.line == nil {
		return nil
	}
	err := c.line.Disconnect()
	c.line = nil
	c.release(context.Background())
	return err
}

func (c *Conn) current() (*serialadapter.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.line == nil {
		return nil, connection.ErrNotConnected
	}
	return c.line, nil
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	line, err := c.current()
	if err != nil {
		return err
	}
	return line.Send(ctx, data)
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	line, err := c.current()
	if err != nil {
		return nil, err
	}
	return line.Receive(ctx)
}

func (c *Conn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	line, err := c.current()
	if err != nil {
		return nil, err
	}
	return line.SendAndReceive(ctx, payload, timeout)
}
