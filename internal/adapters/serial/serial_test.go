package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort replies to each write with the scripted chunks.
type fakePort struct {
	serial.Port

	mu      sync.Mutex
	replies map[string][]string
	pending []string
	written []string
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, string(b))
	p.pending = append(p.pending, p.replies[string(b)]...)
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0, nil
	}
	n := copy(b, p.pending[0])
	p.pending = p.pending[1:]
	return n, nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error            { return nil }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     connection.SerialConfig
		want    serial.Mode
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  connection.SerialConfig{ComNumber: "/dev/ttyUSB0"},
			want: serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		},
		{
			name: "even parity two stop bits",
			cfg:  connection.SerialConfig{BaudRate: 9600, DataBits: 7, Parity: "even", StopBits: 2},
			want: serial.Mode{BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.TwoStopBits},
		},
		{
			name:    "bad parity",
			cfg:     connection.SerialConfig{Parity: "sometimes"},
			wantErr: true,
		},
		{
			name:    "bad stop bits",
			cfg:     connection.SerialConfig{StopBits: 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := Mode(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, connection.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *mode)
		})
	}
}

func TestSendAndReceiveCollectsChunks(t *testing.T) {
	port := &fakePort{replies: map[string][]string{"AT\r\n": {"O", "K\r\n"}}}
	var openedWith string
	c := NewWithOpener(connection.SerialConfig{ComNumber: "/dev/ttyS1"}, func(name string, mode *serial.Mode) (serial.Port, error) {
		openedWith = name
		return port, nil
	}, quietLogger())

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, "/dev/ttyS1", openedWith)

	resp, err := c.SendAndReceive(ctx, "AT\r\n", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "OK\r\n", string(resp))

	require.NoError(t, c.Disconnect())
	assert.True(t, port.closed)
	assert.NoError(t, c.Disconnect())
}

func TestSendAndReceiveTimeout(t *testing.T) {
	port := &fakePort{}
	c := NewWithOpener(connection.SerialConfig{ComNumber: "/dev/ttyS1"}, func(string, *serial.Mode) (serial.Port, error) {
		return port, nil
	}, quietLogger())
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.SendAndReceive(context.Background(), "AT", 20*time.Millisecond)
	assert.ErrorIs(t, err, connection.ErrTimeout)
}

func TestConnectFailure(t *testing.T) {
	c := NewWithOpener(connection.SerialConfig{ComNumber: "/dev/none"}, func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("no such file or directory")
	}, quietLogger())

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, connection.ErrConnectFailure)
	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, connection.ErrNotConnected)
}
