// Package discovery advertises a relay on the local network over mDNS and
// finds the other relays advertising the same service.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const domain = "local."

// Peer is a relay found on the local network.
type Peer struct {
	Instance string
	Host     string
	Port     int
}

// RelayURL returns the websocket base URL of p.
func (p Peer) RelayURL() string {
	return "ws://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port)) + "/ws"
}

// InstanceName names this host's advertisement.
func InstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("CollabText-%s", host)
}

// Advertise registers service on port until ctx is done.
func Advertise(ctx context.Context, instance, service string, port int) error {
	server, err := zeroconf.Register(instance, service, domain, port, []string{"txtv=0", "lo=1", "la=2"}, nil)
	if err != nil {
		return fmt.Errorf("register mdns service %s: %w", service, err)
	}
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// Browse reports every peer advertising service until ctx is done.
// Entries named self are skipped.
func Browse(ctx context.Context, service, self string, found func(Peer)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry.Instance == self {
					continue
				}
				if p, ok := peerFromEntry(entry); ok {
					found(p)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return fmt.Errorf("browse mdns service %s: %w", service, err)
	}
	<-ctx.Done()
	<-done
	return nil
}

func peerFromEntry(entry *zeroconf.ServiceEntry) (Peer, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = entry.HostName
	default:
		return Peer{}, false
	}
	return Peer{Instance: entry.Instance, Host: host, Port: entry.Port}, true
}
