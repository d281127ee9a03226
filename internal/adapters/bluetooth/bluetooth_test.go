package bluetooth

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type echoPort struct {
	serial.Port
	pending []byte
	closed  bool
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.pending = append(p.pending, b...)
	return len(b), nil
}

func (p *echoPort) Read(b []byte) (int, error) {
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *echoPort) SetReadTimeout(time.Duration) error { return nil }
func (p *echoPort) ResetInputBuffer() error            { return nil }
func (p *echoPort) Close() error                       { p.closed = true; return nil }

type recorder struct {
	calls []string
}

func (r *recorder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	if name == "bluetoothctl" {
		return []byte("Device AA:BB:CC:DD:EE:FF Sensor Hub\nDevice 11:22:33:44:55:66 Phone\n"), nil
	}
	return nil, nil
}

func newConn(cfg connection.BluetoothConfig, rec *recorder, port *echoPort) *Conn {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts := DefaultOptions()
	opts.RFCOMMIndex = 2
	opts.Run = rec.run
	opts.Open = func(string, *serial.Mode) (serial.Port, error) {
		return port, nil
	}
	return New(cfg, opts, logger)
}

func TestConnectByName(t *testing.T) {
	rec := &recorder{}
	port := &echoPort{}
	c := newConn(connection.BluetoothConfig{BluetoothName: "Sensor Hub", Channel: 3}, rec, port)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, []string{
		"bluetoothctl devices",
		"rfcomm bind 2 AA:BB:CC:DD:EE:FF 3",
	}, rec.calls)

	resp, err := c.SendAndReceive(context.Background(), "hello", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp))

	require.NoError(t, c.Disconnect())
	assert.True(t, port.closed)
	assert.Equal(t, "rfcomm release 2", rec.calls[len(rec.calls)-1])
}

func TestConnectByAddress(t *testing.T) {
	rec := &recorder{}
	c := newConn(connection.BluetoothConfig{BluetoothName: "11:22:33:44:55:66"}, rec, &echoPort{})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, []string{"rfcomm bind 2 11:22:33:44:55:66 1"}, rec.calls)
}

func TestConnectUnknownDevice(t *testing.T) {
	rec := &recorder{}
	c := newConn(connection.BluetoothConfig{BluetoothName: "Ghost"}, rec, &echoPort{})

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, connection.ErrConnectFailure)

	_, err = c.SendAndReceive(context.Background(), "x", time.Second)
	assert.ErrorIs(t, err, connection.ErrNotConnected)
}
