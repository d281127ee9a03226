// Package discovery finds devices on the local network over mDNS and turns
// the advertised services into device connection configs.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	defaultDomain        = "local."
	defaultBrowseTimeout = 5 * time.Second
)

// serviceProtocols maps advertised service types to the protocol they expose.
var serviceProtocols = map[string]connection.Protocol{
	"_ssh._tcp":      connection.ProtocolSSH,
	"_sftp-ssh._tcp": connection.ProtocolSFTP,
	"_mqtt._tcp":     connection.ProtocolMQTT,
}

// BrowseFunc streams service entries into entries until ctx is done and then
// closes it, like zeroconf's resolver does.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Device is a host found on the network with every endpoint it advertised.
type Device struct {
	Name     string                `json:"name"`
	Host     string                `json:"host"`
	IP       string                `json:"ip"`
	Services []string              `json:"services"`
	Config   testplan.DeviceConfig `json:"config"`
	Text     map[string]string     `json:"text,omitempty"`
	LastSeen time.Time             `json:"lastSeen"`
}

type Service struct {
	services []string
	domain   string
	timeout  time.Duration
	browse   BrowseFunc
	logger   *logrus.Logger

	mu       sync.Mutex
	lastScan []Device
}

func NewService(cfg config.DiscoveryConfig, logger *logrus.Logger) *Service {
	s := &Service{
		services: cfg.Services,
		domain:   cfg.Domain,
		timeout:  cfg.BrowseTimeout,
		browse:   zeroconfBrowse,
		logger:   logger,
	}
	if s.domain == "" {
		s.domain = defaultDomain
	}
	if s.timeout <= 0 {
		s.timeout = defaultBrowseTimeout
	}
	if len(s.services) == 0 {
		for svc := range serviceProtocols {
			s.services = append(s.services, svc)
		}
		sort.Strings(s.services)
	}
	return s
}

// WithBrowser replaces the mDNS browser.
func (s *Service) WithBrowser(b BrowseFunc) *Service {
	s.browse = b
	return s
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Scan browses every configured service for the browse timeout and merges
// the answers per host. Services that fail to browse are logged and skipped.
func (s *Service) Scan(ctx context.Context) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		devices = make(map[string]*Device)
		failed  int
	)

	for _, svc := range s.services {
		protocol, ok := serviceProtocols[svc]
		if !ok {
			s.logger.WithField("service", svc).Warn("Skipping unknown discovery service")
			continue
		}

		entries := make(chan *zeroconf.ServiceEntry, 16)
		if err := s.browse(ctx, svc, s.domain, entries); err != nil {
			s.logger.WithError(err).WithField("service", svc).Error("mDNS discovery failed")
			failed++
			continue
		}

		wg.Add(1)
		go func(svc string, protocol connection.Protocol) {
			defer wg.Done()
			for {
				select {
				case entry, ok := <-entries:
					if !ok {
						return
					}
					mu.Lock()
					merge(devices, svc, protocol, entry)
					mu.Unlock()
				case <-ctx.Done():
					return
				}
			}
		}(svc, protocol)
	}
	wg.Wait()

	if failed > 0 && failed == len(s.services) {
		return nil, fmt.Errorf("failed to browse any of %d services", failed)
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		sort.Strings(d.Services)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })

	s.mu.Lock()
	s.lastScan = out
	s.mu.Unlock()

	s.logger.WithField("devices", len(out)).Info("Discovery scan finished")
	return out, nil
}

// Last returns the result of the latest successful scan.
func (s *Service) Last() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Device(nil), s.lastScan...)
}

func merge(devices map[string]*Device, svc string, protocol connection.Protocol, entry *zeroconf.ServiceEntry) {
	ip := entryIP(entry)
	if ip == "" {
		return
	}
	host := entry.HostName
	if host == "" {
		host = ip
	}

	d, ok := devices[host]
	if !ok {
		d = &Device{Name: entry.Instance, Host: host, IP: ip, Text: make(map[string]string)}
		devices[host] = d
	}
	d.LastSeen = time.Now()
	if !contains(d.Services, svc) {
		d.Services = append(d.Services, svc)
	}

	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			d.Text[parts[0]] = parts[1]
		}
	}

	switch protocol {
	case connection.ProtocolSSH:
		d.Config.SSH = &connection.SSHConfig{IP: ip, Port: entry.Port, Username: d.Text["user"]}
	case connection.ProtocolSFTP:
		d.Config.SFTP = &connection.SSHConfig{IP: ip, Port: entry.Port, Username: d.Text["user"]}
	case connection.ProtocolMQTT:
		cfg := &connection.MQTTConfig{IP: ip, Port: entry.Port, Topic: d.Text["topic"]}
		if qos, err := strconv.Atoi(d.Text["qos"]); err == nil && qos >= 0 && qos <= 2 {
			cfg.QoS = byte(qos)
		}
		d.Config.MQTT = cfg
	}
}

func entryIP(entry *zeroconf.ServiceEntry) string {
	for _, addr := range entry.AddrIPv4 {
		if addr != nil && !addr.Equal(net.IPv4zero) {
			return addr.String()
		}
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0].String()
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
