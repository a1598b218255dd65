package selector

import (
	"net/netip"
	"testing"

	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/option"
	"github.com/veesix-networks/dhcp6d/internal/wire"
	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

func subnetsFromPrefixes(t *testing.T, prefixes ...string) []config.Subnet {
	t.Helper()
	m := config.New()
	for _, p := range prefixes {
		if err := m.AddSubnet(config.Subnet{Prefix: p}); err != nil {
			t.Fatalf("AddSubnet(%s): %v", p, err)
		}
	}
	return m.ListSubnets()
}

// SubnetSelectByRelayLinkaddr, spec §8 scenario 7.
func TestSelect_RelayLinkAddress(t *testing.T) {
	subnets := subnetsFromPrefixes(t, "2001:db8:1::/48", "2001:db8:2::/48", "2001:db8:3::/48")

	pkt := &wire.Packet{
		MsgType: dhcpv6opt.MsgSolicit,
		Relays: []wire.RelayEnvelope{
			{LinkAddr: netip.MustParseAddr("2001:db8:2::1234").As16()},
		},
	}

	got, ok := Select(pkt, Input{}, subnets)
	if !ok {
		t.Fatal("expected a subnet to be selected")
	}
	if got.Prefix != "2001:db8:2::/48" {
		t.Fatalf("selected %s, want 2001:db8:2::/48", got.Prefix)
	}
}

func TestSelect_RelayInterfaceIDTakesPriority(t *testing.T) {
	m := config.New()
	_ = m.AddSubnet(config.Subnet{Prefix: "2001:db8:1::/48", InterfaceID: "eth0.100"})
	_ = m.AddSubnet(config.Subnet{Prefix: "2001:db8:2::/48"})

	pkt := &wire.Packet{
		Relays: []wire.RelayEnvelope{
			{
				LinkAddr: netip.MustParseAddr("2001:db8:2::1").As16(),
				Options:  []option.Option{option.InterfaceID{Data: []byte("eth0.100")}},
			},
		},
	}

	got, ok := Select(pkt, Input{}, m.ListSubnets())
	if !ok {
		t.Fatal("expected a subnet to be selected")
	}
	if got.Prefix != "2001:db8:1::/48" {
		t.Fatalf("selected %s, want the interface-id match 2001:db8:1::/48", got.Prefix)
	}
}

func TestSelect_NoRelayLinkAddr_ReturnsNone(t *testing.T) {
	subnets := subnetsFromPrefixes(t, "2001:db8:1::/48")
	pkt := &wire.Packet{
		Relays: []wire.RelayEnvelope{{}}, // unspecified link-address
	}
	if _, ok := Select(pkt, Input{}, subnets); ok {
		t.Fatal("expected no subnet selected when relay link-address is unspecified")
	}
}

func TestSelect_DirectLinkLocal_SingleSubnetUnambiguous(t *testing.T) {
	subnets := subnetsFromPrefixes(t, "2001:db8:1::/48")
	pkt := &wire.Packet{}
	in := Input{RemoteAddr: netip.MustParseAddr("fe80::1")}

	got, ok := Select(pkt, in, subnets)
	if !ok {
		t.Fatal("expected the sole subnet to be selected")
	}
	if got.Prefix != "2001:db8:1::/48" {
		t.Fatalf("selected %s", got.Prefix)
	}
}

func TestSelect_DirectLinkLocal_MultipleSubnetsAmbiguous(t *testing.T) {
	subnets := subnetsFromPrefixes(t, "2001:db8:1::/48", "2001:db8:2::/48")
	pkt := &wire.Packet{}
	in := Input{RemoteAddr: netip.MustParseAddr("fe80::1")}

	if _, ok := Select(pkt, in, subnets); ok {
		t.Fatal("expected ambiguous link-local selection with multiple subnets to return none")
	}
}

func TestSelect_DirectByIngressInterface(t *testing.T) {
	m := config.New()
	_ = m.AddSubnet(config.Subnet{Prefix: "2001:db8:1::/48", Interface: "eth0"})
	_ = m.AddSubnet(config.Subnet{Prefix: "2001:db8:2::/48", Interface: "eth1"})

	pkt := &wire.Packet{}
	in := Input{RemoteAddr: netip.MustParseAddr("fe80::1"), IngressIf: "eth1"}

	got, ok := Select(pkt, in, m.ListSubnets())
	if !ok {
		t.Fatal("expected ingress-interface match")
	}
	if got.Prefix != "2001:db8:2::/48" {
		t.Fatalf("selected %s, want 2001:db8:2::/48", got.Prefix)
	}
}

func TestSelect_DirectNonLinkLocal_ReturnsNone(t *testing.T) {
	subnets := subnetsFromPrefixes(t, "2001:db8:1::/48")
	pkt := &wire.Packet{}
	in := Input{RemoteAddr: netip.MustParseAddr("2001:db8:1::1")}

	if _, ok := Select(pkt, in, subnets); ok {
		t.Fatal("expected no selection for a non-link-local, non-relayed source")
	}
}
