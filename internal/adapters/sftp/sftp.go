// Package sftp moves files to and from a device over SFTP.
package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	sshadapter "github.com/frostdev-ops/devtest-backend-go/internal/adapters/ssh"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	gossh "golang.org/x/crypto/ssh"
)

type Conn struct {
	cfg         connection.SSHConfig
	dialTimeout time.Duration
	logger      *logrus.Logger

	mu     sync.Mutex
	ssh    *gossh.Client
	client *sftp.Client
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

	sshClient, err := sshadapter.Dial(ctx, c.cfg, c.dialTimeout)
	if err != nil {
		return connection.ConnectError(connection.ProtocolSFTP, err)
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return connection.ConnectError(connection.ProtocolSFTP, err)
	}

	c.ssh = sshClient
	c.client = client
	c.logger.WithField("address", c.cfg.Endpoint()).Info("SFTP session established")
	return nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	c.client.Close()
	err := c.ssh.Close()
	c.client = nil
	c.ssh = nil
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *Conn) current() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, connection.ErrNotConnected
	}
	return c.client, nil
}

// Upload copies localPath to remotePath, creating remote directories.
func (c *Conn) Upload(ctx context.Context, localPath, remotePath string) error {
	client, err := c.current()
	if err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, &contextReader{ctx: ctx, r: src})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	c.logger.WithFields(logrus.Fields{
		"local":  localPath,
		"remote": remotePath,
		"bytes":  n,
	}).Info("File uploaded")
	return nil
}

// Download copies remotePath to localPath, creating local directories.
func (c *Conn) Download(ctx context.Context, remotePath, localPath string) error {
	client, err := c.current()
	if err != nil {
		return err
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, &contextReader{ctx: ctx, r: src})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}

	c.logger.WithFields(logrus.Fields{
		"remote": remotePath,
		"local":  localPath,
		"bytes":  n,
	}).Info("File downloaded")
	return nil
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	return connection.Unsupported(connection.ProtocolSFTP, "send")
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return nil, connection.Unsupported(connection.ProtocolSFTP, "receive")
}

func (c *Conn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	return nil, connection.Unsupported(connection.ProtocolSFTP, "sendAndReceive")
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
