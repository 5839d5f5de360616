package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_singalong._tcp"
	Domain  = "local."
)

// Node is a TV node found on the LAN
type Node struct {
	Instance string
	Host     string
	Port     int
	URL      string
}

// Advertiser publishes this node over mDNS until Shutdown
type Advertiser struct {
	server *zeroconf.Server
}

// TXT builds the TXT records for a node
func TXT(publicURL, version string) []string {
	txt := []string{"version=" + version}
	if publicURL != "" {
		txt = append(txt, "url="+publicURL)
	}
	return txt
}

// Advertise registers the TV node under instance on port
func Advertise(instance string, port int, txt []string) (*Advertiser, error) {
	if instance == "" {
		instance = "Singalong"
	}
	server, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	log.Printf("[MDNS] Advertising %q as %s on port %d", instance, Service, port)
	return &Advertiser{server: server}, nil
}

// Run advertises until ctx is done
func Run(ctx context.Context, instance string, port int, txt []string) error {
	a, err := Advertise(instance, port, txt)
	if err != nil {
		return err
	}
	<-ctx.Done()
	a.Shutdown()
	return nil
}

// Shutdown withdraws the advertisement
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	log.Printf("[MDNS] Advertisement withdrawn")
}

// Browse collects TV nodes that answer within timeout
func Browse(ctx context.Context, timeout time.Duration) ([]Node, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var nodes []Node
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			nodes = append(nodes, nodeFromEntry(entry.Instance, entry.HostName, entry.Port, entry.AddrIPv4, entry.Text))
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}
	<-ctx.Done()
	<-done
	return nodes, nil
}

func nodeFromEntry(instance, host string, port int, addrs []net.IP, txt []string) Node {
	n := Node{Instance: instance, Host: strings.TrimSuffix(host, "."), Port: port}
	for _, record := range txt {
		if u, ok := strings.CutPrefix(record, "url="); ok {
			n.URL = u
		}
	}
	if n.URL == "" {
		h := n.Host
		if len(addrs) > 0 {
			h = addrs[0].String()
		}
		n.URL = "http://" + net.JoinHostPort(h, strconv.Itoa(port))
	}
	return n
}
