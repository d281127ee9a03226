package connection

import "fmt"

// Config is the closed set of per-protocol connection parameters.
// Only the variants declared in this file implement it.
type Config interface {
	isConfig()
	// Endpoint is a human readable address used in logs and errors.
	Endpoint() string
}

type TCPConfig struct {
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

type UDPConfig struct {
	IP   string `json:"ip" yaml:"ip"`
	Port int    `json:"port" yaml:"port"`
}

type SerialConfig struct {
	ComNumber string `json:"comnumber" yaml:"comnumber"`
	BaudRate  int    `json:"baudrate" yaml:"baudrate"`
	DataBits  int    `json:"databits" yaml:"databits"`
	StopBits  int    `json:"stopbits" yaml:"stopbits"`
	Parity    string `json:"parity" yaml:"parity"`
}

type MQTTConfig struct {
	IP          string `json:"ip" yaml:"ip"`
	Port        int    `json:"port" yaml:"port"`
	Username    string `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string `json:"password,omitempty" yaml:"password,omitempty"`
	MQTTVersion string `json:"mqttversion,omitempty" yaml:"mqttversion,omitempty"`
	ClientID    string `json:"clientid,omitempty" yaml:"clientid,omitempty"`
	Topic       string `json:"topic,omitempty" yaml:"topic,omitempty"`
	QoS         byte   `json:"qos" yaml:"qos"`
}

type BluetoothConfig struct {
	BluetoothName string `json:"bluetoothname" yaml:"bluetoothname"`
	Channel       int    `json:"channel" yaml:"channel"`
	Name          string `json:"name" yaml:"name"`
}

// SSHConfig is shared by the ssh and sftp protocols.
type SSHConfig struct {
	IP       string `json:"ip" yaml:"ip"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

func (TCPConfig) isConfig()       {}
func (UDPConfig) isConfig()       {}
func (SerialConfig) isConfig()    {}
func (MQTTConfig) isConfig()      {}
func (BluetoothConfig) isConfig() {}
func (SSHConfig) isConfig()       {}

func (c TCPConfig) Endpoint() string  { return fmt.Sprintf("%s:%d", c.IP, c.Port) }
func (c UDPConfig) Endpoint() string  { return fmt.Sprintf("%s:%d", c.IP, c.Port) }
func (c MQTTConfig) Endpoint() string { return fmt.Sprintf("tcp://%s:%d", c.IP, c.Port) }
func (c SSHConfig) Endpoint() string  { return fmt.Sprintf("%s:%d", c.IP, c.Port) }

func (c SerialConfig) Endpoint() string {
	return fmt.Sprintf("%s@%d", c.ComNumber, c.BaudRate)
}

func (c BluetoothConfig) Endpoint() string {
	return fmt.Sprintf("%s/%d", c.BluetoothName, c.Channel)
}
