package wire

import (
	"github.com/veesix-networks/dhcp6d/internal/option"
)

// RelayEnvelope is one RELAY-FORW (or RELAY-REPL) layer wrapping a client
// message. Packet.Relays lists envelopes outermost-first, matching the order
// a relay chain is nested on the wire.
type RelayEnvelope struct {
	MsgType  uint8
	HopCount uint8
	LinkAddr [16]byte
	PeerAddr [16]byte
	Options  []option.Option
}

// Packet is a fully decoded DHCPv6 message: the innermost client/server
// message plus, if it arrived relayed, the chain of envelopes it was
// wrapped in.
type Packet struct {
	MsgType       uint8
	TransactionID [3]byte
	Options       []option.Option
	Relays        []RelayEnvelope
}

// IsRelayed reports whether the packet arrived through one or more relays.
func (p *Packet) IsRelayed() bool { return len(p.Relays) > 0 }

// Option returns the first top-level option with the given code, if any.
func (p *Packet) Option(code uint16) (option.Option, bool) {
	for _, o := range p.Options {
		if o.Code() == code {
			return o, true
		}
	}
	return nil, false
}

// RelayOption returns the first option with the given code from any relay
// envelope, searching outermost to innermost.
func (p *Packet) RelayOption(code uint16) (option.Option, bool) {
	for _, r := range p.Relays {
		for _, o := range r.Options {
			if o.Code() == code {
				return o, true
			}
		}
	}
	return nil, false
}
