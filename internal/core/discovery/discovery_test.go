package discovery

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance, service, host, ip string, port int, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, service, "local.")
	e.HostName = host
	e.Port = port
	e.Text = text
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

// staticBrowser answers each service with a fixed set of entries and then
// closes the channel.
func staticBrowser(answers map[string][]*zeroconf.ServiceEntry, failing ...string) BrowseFunc {
	return func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		for _, f := range failing {
			if f == service {
				return errors.New("no multicast interface")
			}
		}
		go func() {
			defer close(entries)
			for _, e := range answers[service] {
				select {
				case entries <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}
}

func newService(services ...string) *Service {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewService(config.DiscoveryConfig{Services: services, BrowseTimeout: time.Second}, logger)
}

func TestScanMergesServicesPerHost(t *testing.T) {
	s := newService("_ssh._tcp", "_mqtt._tcp", "_sftp-ssh._tcp").WithBrowser(staticBrowser(map[string][]*zeroconf.ServiceEntry{
		"_ssh._tcp": {
			entry("gateway", "_ssh._tcp", "gw.local.", "192.168.1.20", 22, "user=root"),
			entry("sensor", "_ssh._tcp", "sensor.local.", "192.168.1.30", 2222),
		},
		"_sftp-ssh._tcp": {
			entry("gateway", "_sftp-ssh._tcp", "gw.local.", "192.168.1.20", 22),
		},
		"_mqtt._tcp": {
			entry("gateway broker", "_mqtt._tcp", "gw.local.", "192.168.1.20", 1883, "topic=dev/gw/cmd", "qos=1"),
		},
	}))

	devices, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	gw := devices[0]
	assert.Equal(t, "gw.local.", gw.Host)
	assert.Equal(t, "192.168.1.20", gw.IP)
	assert.Equal(t, []string{"_mqtt._tcp", "_sftp-ssh._tcp", "_ssh._tcp"}, gw.Services)
	require.NotNil(t, gw.Config.SSH)
	assert.Equal(t, 22, gw.Config.SSH.Port)
	assert.Equal(t, "root", gw.Config.SSH.Username)
	require.NotNil(t, gw.Config.SFTP)
	require.NotNil(t, gw.Config.MQTT)
	assert.Equal(t, 1883, gw.Config.MQTT.Port)
	assert.Equal(t, "dev/gw/cmd", gw.Config.MQTT.Topic)
	assert.Equal(t, byte(1), gw.Config.MQTT.QoS)

	sensor := devices[1]
	assert.Equal(t, "sensor.local.", sensor.Host)
	require.NotNil(t, sensor.Config.SSH)
	assert.Equal(t, 2222, sensor.Config.SSH.Port)
	assert.Nil(t, sensor.Config.MQTT)

	assert.Equal(t, devices, s.Last())
}

func TestScanSkipsEntriesWithoutAddress(t *testing.T) {
	s := newService("_ssh._tcp").WithBrowser(staticBrowser(map[string][]*zeroconf.ServiceEntry{
		"_ssh._tcp": {entry("ghost", "_ssh._tcp", "ghost.local.", "", 22)},
	}))

	devices, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestScanBrowseFailures(t *testing.T) {
	tests := []struct {
		name     string
		services []string
		failing  []string
		wantErr  bool
		want     int
	}{
		{
			name:     "one service fails",
			services: []string{"_ssh._tcp", "_mqtt._tcp"},
			failing:  []string{"_mqtt._tcp"},
			want:     1,
		},
		{
			name:     "every service fails",
			services: []string{"_ssh._tcp"},
			failing:  []string{"_ssh._tcp"},
			wantErr:  true,
		},
		{
			name:     "unknown services are ignored",
			services: []string{"_ssh._tcp", "_printer._tcp"},
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newService(tt.services...).WithBrowser(staticBrowser(map[string][]*zeroconf.ServiceEntry{
				"_ssh._tcp": {entry("gateway", "_ssh._tcp", "gw.local.", "192.168.1.20", 22)},
			}, tt.failing...))

			devices, err := s.Scan(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, devices, tt.want)
		})
	}
}

func TestScanStopsAtTimeout(t *testing.T) {
	s := newService("_ssh._tcp")
	s.timeout = 50 * time.Millisecond
	s.WithBrowser(func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
		// Never answers and never closes until ctx is done.
		go func() {
			<-ctx.Done()
			close(entries)
		}()
		return nil
	})

	start := time.Now()
	devices, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewServiceDefaults(t *testing.T) {
	s := NewService(config.DiscoveryConfig{}, logrus.New())
	assert.Equal(t, "local.", s.domain)
	assert.Equal(t, defaultBrowseTimeout, s.timeout)
	assert.ElementsMatch(t, []string{"_ssh._tcp", "_sftp-ssh._tcp", "_mqtt._tcp"}, s.services)
}
