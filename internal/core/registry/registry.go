// Package registry keeps at most one live connection per protocol and
// dispatches generic operations to the right adapter.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
)

// Factory builds an unconnected adapter for a protocol.
type Factory func(p connection.Protocol, cfg connection.Config) (connection.Connection, error)

// Registry owns the live connections of one plan run.
type Registry struct {
	conns   map[connection.Protocol]connection.Connection
	factory Factory
	mutex   sync.RWMutex
	logger  *logrus.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory replaces the adapter factory.
func WithFactory(f Factory) Option {
	return func(r *Registry) {
		r.factory = f
	}
}

// New creates an empty registry. Without WithFactory, adapters are built by
// NewFactory with default settings.
func New(logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[connection.Protocol]connection.Connection),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = NewFactory(DefaultSettings(), logger)
	}
	return r
}

// AddConnection builds the adapter for p, connects it and stores it, replacing
// any previous connection for p.
func (r *Registry) AddConnection(ctx context.Context, p connection.Protocol, cfg connection.Config) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %s", connection.ErrUnsupportedConnectionType, p)
	}
	if cfg == nil {
		return fmt.Errorf("%w: no parameters for %s", connection.ErrInvalidConfig, p)
	}

	conn, err := r.factory(p, cfg)
	if err != nil {
		return err
	}

	if err := conn.Connect(ctx); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"protocol": p,
			"endpoint": cfg.Endpoint(),
		}).Warn("Failed to connect")
		return err
	}

	r.mutex.Lock()
	previous := r.conns[p]
	r.conns[p] = conn
	r.mutex.Unlock()

	if previous != nil {
		if err := previous.Disconnect(); err != nil {
			r.logger.WithError(err).Warnf("Failed to disconnect replaced %s connection", p)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"protocol": p,
		"endpoint": cfg.Endpoint(),
	}).Info("Connection established")
	return nil
}

// Exists reports whether a live connection for p is registered.
func (r *Registry) Exists(p connection.Protocol) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.conns[p]
	return ok
}

// Protocols lists the protocols with a live connection.
func (r *Registry) Protocols() []connection.Protocol {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]connection.Protocol, 0, len(r.conns))
	for p := range r.conns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RemoveConnection disconnects and forgets the connection for p.
func (r *Registry) RemoveConnection(p connection.Protocol) error {
	r.mutex.Lock()
	conn, ok := r.conns[p]
	delete(r.conns, p)
	r.mutex.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", connection.ErrConnectionNotFound, p)
	}
	return conn.Disconnect()
}

// DisconnectAll closes every connection. It keeps going when one fails and
// returns the joined errors.
func (r *Registry) DisconnectAll() error {
	r.mutex.Lock()
	conns := r.conns
	r.conns = make(map[connection.Protocol]connection.Connection)
	r.mutex.Unlock()

	var errs []error
	for p, conn := range conns {
		if err := conn.Disconnect(); err != nil {
			r.logger.WithError(err).Warnf("Failed to disconnect %s", p)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) get(p connection.Protocol) (connection.Connection, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conn, ok := r.conns[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", connection.ErrConnectionNotFound, p)
	}
	return conn, nil
}

func (r *Registry) Send(ctx context.Context, p connection.Protocol, data []byte) error {
	conn, err := r.get(p)
	if err != nil {
		return err
	}
	return conn.Send(ctx, data)
}

func (r *Registry) Receive(ctx context.Context, p connection.Protocol) ([]byte, error) {
	conn, err := r.get(p)
	if err != nil {
		return nil, err
	}
	return conn.Receive(ctx)
}

func (r *Registry) SendAndReceive(ctx context.Context, p connection.Protocol, payload string, timeout time.Duration) ([]byte, error) {
	conn, err := r.get(p)
	if err != nil {
		return nil, err
	}
	return conn.SendAndReceive(ctx, payload, timeout)
}

func (r *Registry) Execute(ctx context.Context, p connection.Protocol, command string) ([]byte, error) {
	conn, err := r.get(p)
	if err != nil {
		return nil, err
	}
	shell, ok := conn.(connection.Shell)
	if !ok {
		return nil, connection.Unsupported(p, "execute")
	}
	return shell.Execute(ctx, command)
}

func (r *Registry) Upload(ctx context.Context, p connection.Protocol, localPath, remotePath string) error {
	conn, err := r.get(p)
	if err != nil {
		return err
	}
	ft, ok := conn.(connection.FileTransfer)
	if !ok {
		return connection.Unsupported(p, "upload")
	}
	return ft.Upload(ctx, localPath, remotePath)
}

func (r *Registry) Download(ctx context.Context, p connection.Protocol, remotePath, localPath string) error {
	conn, err := r.get(p)
	if err != nil {
		return err
	}
	ft, ok := conn.(connection.FileTransfer)
	if !ok {
		return connection.Unsupported(p, "download")
	}
	return ft.Download(ctx, remotePath, localPath)
}

func (r *Registry) Listen(ctx context.Context, p connection.Protocol, id, expected string, timeout time.Duration, cb connection.ListenCallback) ([]byte, error) {
	conn, err := r.get(p)
	if err != nil {
		return nil, err
	}
	ps, ok := conn.(connection.PubSub)
	if !ok {
		return nil, connection.Unsupported(p, "listen")
	}
	return ps.Listen(ctx, id, expected, timeout, cb)
}

func (r *Registry) Unlisten(p connection.Protocol, id string) error {
	conn, err := r.get(p)
	if err != nil {
		return err
	}
	ps, ok := conn.(connection.PubSub)
	if !ok {
		return connection.Unsupported(p, "unlisten")
	}
	return ps.Unlisten(id)
}
