// Package selector implements the Subnet Selector: given a decoded packet,
// choose at most one configured subnet. Grounded on the teacher's
// pkg/dhcp/resolve.go signal-priority walk, with relay-chain interface-id
// matching generalized from githedgehog-fabric's relay sub-option walk.
package selector

import (
	"bytes"
	"net/netip"

	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/wire"
	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

// Input carries the signals the selector needs beyond the decoded packet
// itself: the apparent remote address (for the unrelayed, link-local path)
// and the local ingress interface name.
type Input struct {
	RemoteAddr netip.Addr
	IngressIf  string
}

// Select implements §4.5. It returns the chosen subnet and true, or the
// zero value and false if no subnet is selected.
func Select(pkt *wire.Packet, in Input, subnets []config.Subnet) (config.Subnet, bool) {
	if pkt.IsRelayed() {
		return selectRelayed(pkt, subnets)
	}
	return selectDirect(in, subnets)
}

func selectRelayed(pkt *wire.Packet, subnets []config.Subnet) (config.Subnet, bool) {
	// 1b: interface-id match across every relay envelope, outermost to
	// innermost, takes priority over the link-address match.
	for _, relay := range pkt.Relays {
		for _, opt := range relay.Options {
			if opt.Code() != dhcpv6opt.OptInterfaceID {
				continue
			}
			ifaceID := opt.Marshal()
			if len(ifaceID) == 0 {
				continue
			}
			for _, s := range subnets {
				cfgID := s.InterfaceIDBytes()
				if len(cfgID) > 0 && bytes.Equal(cfgID, ifaceID) {
					return s, true
				}
			}
		}
	}

	// 1a/1c: outermost relay envelope with a specified (non-::) link
	// address, matched against subnet prefixes.
	link, ok := outermostSpecifiedLinkAddr(pkt)
	if !ok {
		return config.Subnet{}, false
	}
	for _, s := range subnets {
		if s.ContainsAddr(link) {
			return s, true
		}
	}
	return config.Subnet{}, false
}

func outermostSpecifiedLinkAddr(pkt *wire.Packet) (netip.Addr, bool) {
	for _, relay := range pkt.Relays {
		addr := netip.AddrFrom16(relay.LinkAddr)
		if !addr.IsUnspecified() {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

func selectDirect(in Input, subnets []config.Subnet) (config.Subnet, bool) {
	if !in.RemoteAddr.IsValid() || !isLinkLocal(in.RemoteAddr) {
		return config.Subnet{}, false
	}

	if in.IngressIf != "" {
		for _, s := range subnets {
			if s.Interface != "" && s.Interface == in.IngressIf {
				return s, true
			}
		}
	}

	// 2b: link-local source with no interface match is only unambiguous
	// when exactly one subnet is configured at all.
	if len(subnets) == 1 {
		return subnets[0], true
	}
	return config.Subnet{}, false
}

// fe80::/10
func isLinkLocal(addr netip.Addr) bool {
	if !addr.Is6() {
		return false
	}
	b := addr.As16()
	return b[0] == 0xfe && (b[1]&0xc0) == 0x80
}
