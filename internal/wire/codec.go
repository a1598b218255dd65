package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/veesix-networks/dhcp6d/internal/option"
	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

const (
	clientHeaderLen = 4  // msg-type(1) + transaction-id(3)
	relayHeaderLen  = 34 // msg-type(1) + hop-count(1) + link-addr(16) + peer-addr(16)
	optionHeaderLen = 4  // code(2) + length(2)
)

// Decode parses a DHCPv6 message from the wire, unwrapping any RELAY-FORW
// envelopes and recursing into the carried relay-message option until it
// reaches the innermost client/server message.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < 1 {
		return nil, shortBuffer("empty packet")
	}

	msgType := buf[0]
	if msgType == dhcpv6opt.MsgRelayForw || msgType == dhcpv6opt.MsgRelayRepl {
		return decodeRelay(buf)
	}
	return decodeClientMessage(buf)
}

func decodeClientMessage(buf []byte) (*Packet, error) {
	if len(buf) < clientHeaderLen {
		return nil, shortBuffer("message header needs %d bytes, got %d", clientHeaderLen, len(buf))
	}

	pkt := &Packet{MsgType: buf[0]}
	copy(pkt.TransactionID[:], buf[1:4])

	opts, err := decodeOptions(buf[clientHeaderLen:])
	if err != nil {
		return nil, err
	}
	pkt.Options = opts
	return pkt, nil
}

func decodeRelay(buf []byte) (*Packet, error) {
	if len(buf) < relayHeaderLen {
		return nil, shortBuffer("relay header needs %d bytes, got %d", relayHeaderLen, len(buf))
	}

	env := RelayEnvelope{MsgType: buf[0], HopCount: buf[1]}
	copy(env.LinkAddr[:], buf[2:18])
	copy(env.PeerAddr[:], buf[18:34])

	opts, err := decodeOptions(buf[relayHeaderLen:])
	if err != nil {
		return nil, err
	}

	var relayMsg []byte
	kept := opts[:0]
	for _, o := range opts {
		if o.Code() == dhcpv6opt.OptRelayMsg {
			relayMsg = o.Marshal()
			continue
		}
		kept = append(kept, o)
	}
	env.Options = kept

	if relayMsg == nil {
		return nil, invalidValue("relay envelope carries no relay-message option")
	}

	inner, err := Decode(relayMsg)
	if err != nil {
		return nil, err
	}
	inner.Relays = append([]RelayEnvelope{env}, inner.Relays...)
	return inner, nil
}

// decodeOptions parses a flat sequence of TLV options, recursing into
// IA_NA/IA_PD containers to decode their nested suboptions.
func decodeOptions(buf []byte) ([]option.Option, error) {
	var opts []option.Option
	for len(buf) > 0 {
		if len(buf) < optionHeaderLen {
			return nil, shortBuffer("option header needs %d bytes, got %d", optionHeaderLen, len(buf))
		}
		code := getU16(buf[0:2])
		length := int(getU16(buf[2:4]))
		buf = buf[optionHeaderLen:]
		if len(buf) < length {
			return nil, shortBuffer("option %d declares length %d, only %d remain", code, length, len(buf))
		}
		data := buf[:length]
		buf = buf[length:]

		opt, err := decodeOption(code, data)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func decodeOption(code uint16, data []byte) (option.Option, error) {
	switch code {
	case dhcpv6opt.OptClientID:
		return option.ClientID{Duid: clone(data)}, nil
	case dhcpv6opt.OptServerID:
		return option.ServerID{Duid: clone(data)}, nil
	case dhcpv6opt.OptIANA:
		return decodeIANA(data)
	case dhcpv6opt.OptIAAddr:
		return decodeIAAddr(data)
	case dhcpv6opt.OptIAPD:
		return decodeIAPD(data)
	case dhcpv6opt.OptIAPrefix:
		return decodeIAPrefix(data)
	case dhcpv6opt.OptOro:
		return decodeORO(data)
	case dhcpv6opt.OptStatusCode:
		return decodeStatusCode(data)
	case dhcpv6opt.OptInterfaceID:
		return option.InterfaceID{Data: clone(data)}, nil
	case dhcpv6opt.OptDNSServers:
		return decodeDNSServers(data)
	case dhcpv6opt.OptSubscriberID:
		return option.SubscriberID{Data: clone(data)}, nil
	default:
		return option.Opaque{CodeVal: code, Data: clone(data)}, nil
	}
}

func decodeIANA(data []byte) (option.Option, error) {
	if len(data) < 12 {
		return nil, shortBuffer("IA_NA needs 12 bytes, got %d", len(data))
	}
	sub, err := decodeOptions(data[12:])
	if err != nil {
		return nil, err
	}
	return option.IANA{
		IAID:    getU32(data[0:4]),
		T1:      getU32(data[4:8]),
		T2:      getU32(data[8:12]),
		Options: sub,
	}, nil
}

func decodeIAAddr(data []byte) (option.Option, error) {
	if len(data) < 24 {
		return nil, shortBuffer("IA Address needs 24 bytes, got %d", len(data))
	}
	addr := netip.AddrFrom16([16]byte(data[0:16]))
	sub, err := decodeOptions(data[24:])
	if err != nil {
		return nil, err
	}
	return option.IAAddr{
		Addr:      addr,
		Preferred: getU32(data[16:20]),
		Valid:     getU32(data[20:24]),
		Options:   sub,
	}, nil
}

func decodeIAPD(data []byte) (option.Option, error) {
	if len(data) < 12 {
		return nil, shortBuffer("IA_PD needs 12 bytes, got %d", len(data))
	}
	sub, err := decodeOptions(data[12:])
	if err != nil {
		return nil, err
	}
	return option.IAPD{
		IAID:    getU32(data[0:4]),
		T1:      getU32(data[4:8]),
		T2:      getU32(data[8:12]),
		Options: sub,
	}, nil
}

// decodeIAPrefix parses an IAPREFIX option. Per RFC 3633, prefixes shorter
// than 25 bytes are malformed, prefix-length is capped at 128, and any bits
// beyond prefix-length are masked to zero so downstream comparisons never
// see stray host bits.
func decodeIAPrefix(data []byte) (option.Option, error) {
	if len(data) < 25 {
		return nil, shortBuffer("IAPREFIX needs 25 bytes, got %d", len(data))
	}
	prefixLen := data[8]
	if prefixLen > 128 {
		return nil, invalidValue("IAPREFIX prefix-length %d exceeds 128", prefixLen)
	}
	var addrBytes [16]byte
	copy(addrBytes[:], data[9:25])
	maskNonSignificant(&addrBytes, prefixLen)

	sub, err := decodeOptions(data[25:])
	if err != nil {
		return nil, err
	}
	return option.IAPrefix{
		Preferred: getU32(data[0:4]),
		Valid:     getU32(data[4:8]),
		PrefixLen: prefixLen,
		Addr:      netip.AddrFrom16(addrBytes),
		Options:   sub,
	}, nil
}

func decodeORO(data []byte) (option.Option, error) {
	if len(data)%2 != 0 {
		return nil, invalidValue("ORO length %d is not a multiple of 2", len(data))
	}
	codes := make([]uint16, len(data)/2)
	for i := range codes {
		codes[i] = getU16(data[2*i : 2*i+2])
	}
	return option.ORO{Codes: codes}, nil
}

func decodeStatusCode(data []byte) (option.Option, error) {
	if len(data) < 2 {
		return nil, shortBuffer("status-code needs 2 bytes, got %d", len(data))
	}
	return option.StatusCode{Value: getU16(data[0:2]), Message: string(data[2:])}, nil
}

func decodeDNSServers(data []byte) (option.Option, error) {
	if len(data)%16 != 0 {
		return nil, invalidValue("dns-servers length %d is not a multiple of 16", len(data))
	}
	addrs := make([]netip.Addr, len(data)/16)
	for i := range addrs {
		addrs[i] = netip.AddrFrom16([16]byte(data[16*i : 16*i+16]))
	}
	return option.DNSServers{Servers: addrs}, nil
}

// maskNonSignificant zeroes the bits of addr beyond prefixLen.
func maskNonSignificant(addr *[16]byte, prefixLen uint8) {
	fullBytes := int(prefixLen) / 8
	remBits := int(prefixLen) % 8
	for i := fullBytes; i < 16; i++ {
		if i == fullBytes && remBits > 0 {
			mask := byte(0xFF << (8 - remBits))
			addr[i] &= mask
			continue
		}
		if i > fullBytes || remBits == 0 {
			addr[i] = 0
		}
	}
}

// Encode serializes a Packet back to wire bytes, rebuilding any relay
// envelopes around the innermost message.
func Encode(pkt *Packet) []byte {
	body := encodeClientMessage(pkt)

	for i := len(pkt.Relays) - 1; i >= 0; i-- {
		body = encodeRelay(pkt.Relays[i], body)
	}
	return body
}

func encodeClientMessage(pkt *Packet) []byte {
	buf := make([]byte, clientHeaderLen)
	buf[0] = pkt.MsgType
	copy(buf[1:4], pkt.TransactionID[:])
	buf = append(buf, option.MarshalOptions(pkt.Options)...)
	return buf
}

func encodeRelay(env RelayEnvelope, inner []byte) []byte {
	buf := make([]byte, relayHeaderLen)
	buf[0] = env.MsgType
	buf[1] = env.HopCount
	copy(buf[2:18], env.LinkAddr[:])
	copy(buf[18:34], env.PeerAddr[:])

	buf = append(buf, option.MarshalOptions(env.Options)...)

	hdr := make([]byte, optionHeaderLen)
	putU16(hdr[0:2], dhcpv6opt.OptRelayMsg)
	putU16(hdr[2:4], uint16(len(inner)))
	buf = append(buf, hdr...)
	buf = append(buf, inner...)
	return buf
}

func clone(b []byte) []byte { return append([]byte{}, b...) }

func getU16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

func getU32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func putU16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}
