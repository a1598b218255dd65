// Package option holds the typed DHCPv6 option variants used by the wire
// codec and the message processors. Each variant knows its own option code
// and how to marshal itself back to wire bytes; unrecognized codes decode to
// Opaque so that re-encoding never drops data.
package option

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

// Option is a single DHCPv6 option (TLV). Code and Marshal together give the
// wire codec everything it needs; equality is defined as byte-exact Marshal
// output, matching the spec's "byte-exact" option equality rule.
type Option interface {
	Code() uint16
	Marshal() []byte
}

// Equal reports whether two options are identical on the wire.
func Equal(a, b Option) bool {
	if a.Code() != b.Code() {
		return false
	}
	return bytes.Equal(a.Marshal(), b.Marshal())
}

// Opaque is an option whose code this package does not model explicitly.
// Its Data is the raw option payload, excluding the code/length header.
type Opaque struct {
	CodeVal uint16
	Data    []byte
}

func (o Opaque) Code() uint16   { return o.CodeVal }
func (o Opaque) Marshal() []byte { return append([]byte{}, o.Data...) }

// ClientID carries a DUID identifying the sending client.
type ClientID struct{ Duid []byte }

func (o ClientID) Code() uint16   { return dhcpv6opt.OptClientID }
func (o ClientID) Marshal() []byte { return append([]byte{}, o.Duid...) }

// ServerID carries a DUID identifying the sending server.
type ServerID struct{ Duid []byte }

func (o ServerID) Code() uint16   { return dhcpv6opt.OptServerID }
func (o ServerID) Marshal() []byte { return append([]byte{}, o.Duid...) }

// IANA is an Identity Association for Non-temporary Addresses container.
type IANA struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options []Option
}

func (o IANA) Code() uint16 { return dhcpv6opt.OptIANA }

func (o IANA) Marshal() []byte {
	buf := make([]byte, 12)
	putU32(buf[0:4], o.IAID)
	putU32(buf[4:8], o.T1)
	putU32(buf[8:12], o.T2)
	return append(buf, marshalOptions(o.Options)...)
}

// IAAddr is an IA Address option, always nested inside an IANA.
type IAAddr struct {
	Addr      netip.Addr
	Preferred uint32
	Valid     uint32
	Options   []Option
}

func (o IAAddr) Code() uint16 { return dhcpv6opt.OptIAAddr }

func (o IAAddr) Marshal() []byte {
	buf := make([]byte, 24)
	addr16 := o.Addr.As16()
	copy(buf[0:16], addr16[:])
	putU32(buf[16:20], o.Preferred)
	putU32(buf[20:24], o.Valid)
	return append(buf, marshalOptions(o.Options)...)
}

// IAPD is an Identity Association for Prefix Delegation container. Parsed
// and re-encoded for interoperability; the allocation engine never hands out
// prefixes (see Non-goals).
type IAPD struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options []Option
}

func (o IAPD) Code() uint16 { return dhcpv6opt.OptIAPD }

func (o IAPD) Marshal() []byte {
	buf := make([]byte, 12)
	putU32(buf[0:4], o.IAID)
	putU32(buf[4:8], o.T1)
	putU32(buf[8:12], o.T2)
	return append(buf, marshalOptions(o.Options)...)
}

// IAPrefix is an IA_PD Prefix option, always nested inside an IAPD. PrefixLen
// governs how many leading bits of Addr are significant; non-significant
// bits are masked to zero by the wire codec on decode.
type IAPrefix struct {
	Preferred uint32
	Valid     uint32
	PrefixLen uint8
	Addr      netip.Addr
	Options   []Option
}

func (o IAPrefix) Code() uint16 { return dhcpv6opt.OptIAPrefix }

func (o IAPrefix) Marshal() []byte {
	buf := make([]byte, 25)
	putU32(buf[0:4], o.Preferred)
	putU32(buf[4:8], o.Valid)
	buf[8] = o.PrefixLen
	addr16 := o.Addr.As16()
	copy(buf[9:25], addr16[:])
	return append(buf, marshalOptions(o.Options)...)
}

// ORO is an Option Request Option: the list of option codes the client asks
// the server to include in its reply.
type ORO struct{ Codes []uint16 }

func (o ORO) Code() uint16 { return dhcpv6opt.OptOro }

func (o ORO) Marshal() []byte {
	buf := make([]byte, 2*len(o.Codes))
	for i, c := range o.Codes {
		putU16(buf[2*i:2*i+2], c)
	}
	return buf
}

// Has reports whether code was requested.
func (o ORO) Has(code uint16) bool {
	for _, c := range o.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// StatusCode carries a result code and optional human-readable text.
type StatusCode struct {
	Value   uint16
	Message string
}

func (o StatusCode) Code16() uint16 { return o.Value }
func (o StatusCode) Code() uint16   { return dhcpv6opt.OptStatusCode }

func (o StatusCode) Marshal() []byte {
	buf := make([]byte, 2+len(o.Message))
	putU16(buf[0:2], o.Value)
	copy(buf[2:], o.Message)
	return buf
}

// InterfaceID is a relay-supplied opaque identifier of the client-facing
// interface. Matched verbatim by the subnet selector.
type InterfaceID struct{ Data []byte }

func (o InterfaceID) Code() uint16   { return dhcpv6opt.OptInterfaceID }
func (o InterfaceID) Marshal() []byte { return append([]byte{}, o.Data...) }

// DNSServers lists recursive DNS server addresses (RFC 3646).
type DNSServers struct{ Servers []netip.Addr }

func (o DNSServers) Code() uint16 { return dhcpv6opt.OptDNSServers }

func (o DNSServers) Marshal() []byte {
	buf := make([]byte, 16*len(o.Servers))
	for i, a := range o.Servers {
		a16 := a.As16()
		copy(buf[16*i:16*i+16], a16[:])
	}
	return buf
}

// SubscriberID is an opaque relay-supplied subscriber identifier, carried
// through unmodified.
type SubscriberID struct{ Data []byte }

func (o SubscriberID) Code() uint16   { return dhcpv6opt.OptSubscriberID }
func (o SubscriberID) Marshal() []byte { return append([]byte{}, o.Data...) }

// ToText renders an option for diagnostics.
func ToText(o Option) string {
	switch v := o.(type) {
	case ClientID:
		return fmt.Sprintf("client-id=%x", v.Duid)
	case ServerID:
		return fmt.Sprintf("server-id=%x", v.Duid)
	case IANA:
		return fmt.Sprintf("IA_NA{iaid=%d t1=%d t2=%d opts=%d}", v.IAID, v.T1, v.T2, len(v.Options))
	case IAAddr:
		return fmt.Sprintf("IAAddr{%s pref=%d valid=%d}", v.Addr, v.Preferred, v.Valid)
	case IAPD:
		return fmt.Sprintf("IA_PD{iaid=%d t1=%d t2=%d opts=%d}", v.IAID, v.T1, v.T2, len(v.Options))
	case IAPrefix:
		return fmt.Sprintf("IAPrefix{%s/%d pref=%d valid=%d}", v.Addr, v.PrefixLen, v.Preferred, v.Valid)
	case ORO:
		return fmt.Sprintf("ORO%v", v.Codes)
	case StatusCode:
		return fmt.Sprintf("status=%d %q", v.Value, v.Message)
	case InterfaceID:
		return fmt.Sprintf("interface-id=%x", v.Data)
	case DNSServers:
		return fmt.Sprintf("dns-servers=%v", v.Servers)
	case SubscriberID:
		return fmt.Sprintf("subscriber-id=%x", v.Data)
	case Opaque:
		return fmt.Sprintf("opt%d=%x", v.CodeVal, v.Data)
	default:
		return fmt.Sprintf("opt%d", o.Code())
	}
}

// MarshalOptions encodes a sequence of options as concatenated TLVs.
func MarshalOptions(opts []Option) []byte {
	return marshalOptions(opts)
}

func marshalOptions(opts []Option) []byte {
	var buf []byte
	for _, o := range opts {
		data := o.Marshal()
		hdr := make([]byte, 4)
		putU16(hdr[0:2], o.Code())
		putU16(hdr[2:4], uint16(len(data)))
		buf = append(buf, hdr...)
		buf = append(buf, data...)
	}
	return buf
}

func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
