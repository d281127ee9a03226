// Package connection defines the uniform contract every transport adapter
// implements, together with the per-protocol parameter types and errors.
package connection

import (
	"context"
	"time"
)

// Protocol is the label a plan uses to name a transport ("tcp", "mqtt", ...).
type Protocol string

const (
	ProtocolTCP       Protocol = "tcp"
	ProtocolUDP       Protocol = "udp"
	ProtocolSerial    Protocol = "serial"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolBluetooth Protocol = "bluetooth"
	ProtocolSSH       Protocol = "ssh"
	ProtocolSFTP      Protocol = "sftp"
)

// Protocols lists every supported protocol in a stable order.
var Protocols = []Protocol{
	ProtocolTCP,
	ProtocolUDP,
	ProtocolSerial,
	ProtocolMQTT,
	ProtocolBluetooth,
	ProtocolSSH,
	ProtocolSFTP,
}

// Valid reports whether p names a known protocol.
func (p Protocol) Valid() bool {
	for _, known := range Protocols {
		if p == known {
			return true
		}
	}
	return false
}

func (p Protocol) String() string {
	return string(p)
}

// Connection is the baseline request/response contract.
//
// Connect and Disconnect are idempotent. Disconnect returns nil when the
// connection is already closed.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error)
}

// Shell is implemented by adapters that run commands on the device.
type Shell interface {
	Execute(ctx context.Context, command string) ([]byte, error)
}

// FileTransfer is implemented by adapters that move files to and from the device.
type FileTransfer interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
}

// ListenCallback receives data for a listener registration.
type ListenCallback func(id string, data []byte)

// PubSub is implemented by event-driven adapters.
//
// Listen returns as soon as the subscription is acknowledged; matched data is
// delivered later through the callback.
type PubSub interface {
	Listen(ctx context.Context, id, expected string, timeout time.Duration, callback ListenCallback) ([]byte, error)
	Unlisten(id string) error
}
