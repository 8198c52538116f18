package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/grandcat/zeroconf"
)

func TestPeerFromEntry(t *testing.T) {
	v4 := zeroconf.NewServiceEntry("CollabText-a", "_collabtext._tcp", "local.")
	v4.Port = 8080
	v4.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	v4.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	v6 := zeroconf.NewServiceEntry("CollabText-b", "_collabtext._tcp", "local.")
	v6.Port = 8081
	v6.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	bare := zeroconf.NewServiceEntry("CollabText-c", "_collabtext._tcp", "local.")

	got, ok := peerFromEntry(v4)
	if !ok {
		t.Fatal("expected ipv4 peer")
	}
	if diff := cmp.Diff(Peer{Instance: "CollabText-a", Host: "192.168.1.20", Port: 8080}, got); diff != "" {
		t.Fatalf("peer mismatch (-want +got):\n%s", diff)
	}
	if got.RelayURL() != "ws://192.168.1.20:8080/ws" {
		t.Fatalf("relay url = %q", got.RelayURL())
	}

	got, ok = peerFromEntry(v6)
	if !ok || got.RelayURL() != "ws://[fe80::1]:8081/ws" {
		t.Fatalf("ipv6 peer = %+v, %v", got, ok)
	}

	if _, ok := peerFromEntry(bare); ok {
		t.Fatal("entry without address accepted")
	}
}

func TestInstanceName(t *testing.T) {
	if name := InstanceName(); !strings.HasPrefix(name, "CollabText-") || name == "CollabText-" {
		t.Fatalf("instance name = %q", name)
	}
}
