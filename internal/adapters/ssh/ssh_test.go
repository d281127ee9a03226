package ssh

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/sshtest"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func shell(command string) (string, uint32) {
	switch {
	case command == "uname -m":
		return "aarch64\n", 0
	case strings.HasPrefix(command, "cat "):
		return "", 1
	case command == "sleep 10":
		time.Sleep(2 * time.Second)
		return "", 0
	}
	return "unknown command\n", 127
}

func TestExecute(t *testing.T) {
	srv := sshtest.NewServer(t, shell)
	c := New(srv.Config, 2*time.Second, quietLogger())
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	out, err := c.Execute(ctx, "uname -m")
	require.NoError(t, err)
	assert.Equal(t, "aarch64\n", string(out))

	out, err = c.Execute(ctx, "cat /missing")
	require.NoError(t, err, "non-zero exit is not an error")
	assert.Empty(t, out)

	out, err = c.SendAndReceive(ctx, "uname -m", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "aarch64\n", string(out))
}

func TestExecuteHonoursTimeout(t *testing.T) {
	srv := sshtest.NewServer(t, shell)
	c := New(srv.Config, 2*time.Second, quietLogger())
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	_, err := c.SendAndReceive(context.Background(), "sleep 10", 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBadCredentials(t *testing.T) {
	srv := sshtest.NewServer(t, shell)
	cfg := srv.Config
	cfg.Password = "wrong"

	c := New(cfg, 2*time.Second, quietLogger())
	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, connection.ErrConnectFailure)
}

func TestUnsupportedBaseline(t *testing.T) {
	c := New(connection.SSHConfig{}, time.Second, quietLogger())

	assert.ErrorIs(t, c.Send(context.Background(), []byte("x")), connection.ErrUnsupportedOperation)
	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, connection.ErrUnsupportedOperation)
	_, err = c.Execute(context.Background(), "ls")
	assert.ErrorIs(t, err, connection.ErrNotConnected)
	assert.NoError(t, c.Disconnect())
}
