package testplan

import (
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
)

// ConnectionStatus is the live state of one protocol connection to a device.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// DeviceInfo is the device under test.
type DeviceInfo struct {
	ID        string                                   `json:"id" yaml:"id"`
	Name      string                                   `json:"name" yaml:"name"`
	Type      string                                   `json:"type,omitempty" yaml:"type,omitempty"`
	Protocol  string                                   `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Config    DeviceConfig                             `json:"config" yaml:"config"`
	Status    map[connection.Protocol]ConnectionStatus `json:"status" yaml:"status"`
	CreatedAt time.Time                                `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time                                `json:"updatedAt" yaml:"-"`
}

// SetStatus records the connection state for p.
func (d *DeviceInfo) SetStatus(p connection.Protocol, s ConnectionStatus) {
	if d.Status == nil {
		d.Status = make(map[connection.Protocol]ConnectionStatus)
	}
	d.Status[p] = s
}

// DeviceConfig holds the connection parameters of every protocol the device speaks.
type DeviceConfig struct {
	Timeout   int                         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry     int                         `json:"retry,omitempty" yaml:"retry,omitempty"`
	TCP       *connection.TCPConfig       `json:"tcp,omitempty" yaml:"tcp,omitempty"`
	UDP       *connection.UDPConfig       `json:"udp,omitempty" yaml:"udp,omitempty"`
	Serial    *connection.SerialConfig    `json:"serial,omitempty" yaml:"serial,omitempty"`
	MQTT      *connection.MQTTConfig      `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Bluetooth *connection.BluetoothConfig `json:"bluetooth,omitempty" yaml:"bluetooth,omitempty"`
	SFTP      *connection.SSHConfig       `json:"sftp,omitempty" yaml:"sftp,omitempty"`
	SSH       *connection.SSHConfig       `json:"ssh,omitempty" yaml:"ssh,omitempty"`
}

// For returns the parameters configured for p, or false when there are none.
func (c DeviceConfig) For(p connection.Protocol) (connection.Config, bool) {
	switch p {
	case connection.ProtocolTCP:
		if c.TCP != nil {
			return *c.TCP, true
		}
	case connection.ProtocolUDP:
		if c.UDP != nil {
			return *c.UDP, true
		}
	case connection.ProtocolSerial:
		if c.Serial != nil {
			return *c.Serial, true
		}
	case connection.ProtocolMQTT:
		if c.MQTT != nil {
			return *c.MQTT, true
		}
	case connection.ProtocolBluetooth:
		if c.Bluetooth != nil {
			return *c.Bluetooth, true
		}
	case connection.ProtocolSFTP:
		if c.SFTP != nil {
			return *c.SFTP, true
		}
	case connection.ProtocolSSH:
		if c.SSH != nil {
			return *c.SSH, true
		}
	}
	return nil, false
}
