package registry

import (
	"fmt"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/bluetooth"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/mqtt"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/serial"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/sftp"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/ssh"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/tcp"
	"github.com/frostdev-ops/devtest-backend-go/internal/adapters/udp"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/sirupsen/logrus"
)

// Settings carries the adapter tuning that does not come from the plan.
type Settings struct {
	DialTimeout time.Duration
	MQTT        mqtt.Options
	Bluetooth   bluetooth.Options
}

func DefaultSettings() Settings {
	return Settings{
		DialTimeout: 10 * time.Second,
		MQTT:        mqtt.DefaultOptions(),
		Bluetooth:   bluetooth.DefaultOptions(),
	}
}

// NewFactory returns the factory used in production. It is the only place
// that maps a parameter variant to an adapter.
func NewFactory(s Settings, logger *logrus.Logger) Factory {
	return func(p connection.Protocol, cfg connection.Config) (connection.Connection, error) {
		switch c := cfg.(type) {
		case connection.TCPConfig:
			if p != connection.ProtocolTCP {
				return nil, mismatch(p, cfg)
			}
			return tcp.New(c, s.DialTimeout, logger), nil
		case connection.UDPConfig:
			if p != connection.ProtocolUDP {
				return nil, mismatch(p, cfg)
			}
			return udp.New(c, logger), nil
		case connection.SerialConfig:
			if p != connection.ProtocolSerial {
				return nil, mismatch(p, cfg)
			}
			return serial.New(c, logger), nil
		case connection.MQTTConfig:
			if p != connection.ProtocolMQTT {
				return nil, mismatch(p, cfg)
			}
			return mqtt.New(c, s.MQTT, logger), nil
		case connection.BluetoothConfig:
			if p != connection.ProtocolBluetooth {
				return nil, mismatch(p, cfg)
			}
			return bluetooth.New(c, s.Bluetooth, logger), nil
		case connection.SSHConfig:
			switch p {
			case connection.ProtocolSSH:
				return ssh.New(c, s.DialTimeout, logger), nil
			case connection.ProtocolSFTP:
				return sftp.New(c, s.DialTimeout, logger), nil
			}
			return nil, mismatch(p, cfg)
		default:
			return nil, fmt.Errorf("%w: %s (%T)", connection.ErrUnsupportedConnectionType, p, cfg)
		}
	}
}

func mismatch(p connection.Protocol, cfg connection.Config) error {
	return fmt.Errorf("%w: %T cannot configure %s", connection.ErrInvalidConfig, cfg, p)
}
