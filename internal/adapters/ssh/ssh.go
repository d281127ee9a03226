// Package ssh runs shell commands on a device over SSH.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
	gossh "golang.org/x/crypto/ssh"
)

// Dial opens an authenticated SSH client. Host keys are not pinned: devices
// under test are re-flashed often and regenerate them.
func Dial(ctx context.Context, cfg connection.SSHConfig, timeout time.Duration) (*gossh.Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	address := net.JoinHostPort(cfg.IP, fmt.Sprint(port))

	clientConfig := &gossh.ClientConfig{
		User: cfg.Username,
		Auth: []gossh.AuthMethod{
			gossh.Password(cfg.Password),
			gossh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return gossh.NewClient(sshConn, chans, reqs), nil
}

type Conn struct {
	cfg         connection.SSHConfig
	dialTimeout time.Duration
	logger      *logrus.Logger

	mu     sync.Mutex
	client *gossh.Client
}

func New(cfg connection.SSHConfig, dialTimeout time.Duration, logger *logrus.Logger) *Conn {
	return &Conn{
		cfg:         cfg,
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	client, err := Dial(ctx, c.cfg, c.dialTimeout)
	if err != nil {
		return connection.ConnectError(connection.ProtocolSSH, err)
	}
	c.client = client

	c.logger.WithFields(logrus.Fields{
		"address": c.cfg.Endpoint(),
		"user":    c.cfg.Username,
	}).Info("SSH session established")
	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Execute runs command and returns its stdout. A non-zero exit status is
// logged but is not an error: the step's expectation decides the outcome.
func (c *Conn) Execute(ctx context.Context, command string) ([]byte, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return nil, connection.ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Signal(gossh.SIGKILL)
		return nil, ctx.Err()
	case err := <-done:
		var exitErr *gossh.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			c.logger.WithFields(logrus.Fields{
				"command":     command,
				"exit_status": exitErr.ExitStatus(),
			}).Warn("Remote command exited with non-zero status")
		default:
			return nil, fmt.Errorf("failed to run %q: %w", command, err)
		}
	}

	if stderr.Len() > 0 {
		c.logger.WithField("command", command).Debugf("stderr: %s", stderr.String())
	}
	return stdout.Bytes(), nil
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	return connection.Unsupported(connection.ProtocolSSH, "send")
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return nil, connection.Unsupported(connection.ProtocolSSH, "receive")
}

// SendAndReceive runs payload as a command bounded by timeout.
func (c *Conn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Execute(ctx, payload)
}
