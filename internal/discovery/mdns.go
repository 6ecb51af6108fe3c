// ABOUTME: mDNS discovery of GazeLink bridges on the local network
// ABOUTME: Bridges advertise _gazelink-server._tcp; monitors browse for it
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	bridgeService  = "_gazelink-server._tcp"
	monitorService = "_gazelink._tcp"
)

// Endpoint is a bridge found on the local network.
type Endpoint struct {
	Name string
	Host string
	Port int
}

// Config holds discovery configuration.
type Config struct {
	InstanceName string
	Port         int
	ServerMode   bool // advertise as a bridge rather than a monitor
}

// Manager advertises this instance and browses for bridges.
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	found  chan *Endpoint
}

// NewManager creates a discovery manager.
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		found:  make(chan *Endpoint, 10),
	}
}

// Advertise announces this instance via mDNS until Stop.
func (m *Manager) Advertise() error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	serviceType := monitorService
	if m.config.ServerMode {
		serviceType = bridgeService
	}

	zone, err := mdns.NewMDNSService(
		m.config.InstanceName,
		serviceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=/gazelink"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	srv, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Discovery: advertising %s on port %d (%s)", m.config.InstanceName, m.config.Port, serviceType)

	go func() {
		<-m.ctx.Done()
		srv.Shutdown()
	}()

	return nil
}

// Browse starts a background query loop for bridges. Results arrive on
// Endpoints.
func (m *Manager) Browse() {
	go func() {
		for m.ctx.Err() == nil {
			m.queryOnce()
		}
	}()
}

// queryOnce runs a single bounded mDNS query.
func (m *Manager) queryOnce() {
	entries := make(chan *mdns.ServiceEntry, 10)

	go func() {
		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			ep := &Endpoint{Name: entry.Name, Host: entry.AddrV4.String(), Port: entry.Port}
			log.Printf("Discovery: found bridge %s at %s:%d", ep.Name, ep.Host, ep.Port)

			select {
			case m.found <- ep:
			case <-m.ctx.Done():
				return
			}
		}
	}()

	mdns.Query(&mdns.QueryParam{
		Service: bridgeService,
		Domain:  "local",
		Timeout: 3 * time.Second,
		Entries: entries,
	})
	close(entries)
}

// Endpoints returns the channel of discovered bridges.
func (m *Manager) Endpoints() <-chan *Endpoint {
	return m.found
}

// Stop shuts the manager down.
func (m *Manager) Stop() {
	m.cancel()
}

// localIPs returns the non-loopback IPv4 addresses of up interfaces.
func localIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	return ips, nil
}
