// Package config holds the in-memory Configuration Model: subnets, pools,
// and per-subnet option data, loaded from a Kea-flavored YAML document and
// consulted read-only by the selector and allocation engine.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// OptionData is a single configured option in Kea's option-data shape.
type OptionData struct {
	Name      string `yaml:"name,omitempty"`
	Space     string `yaml:"space,omitempty"`
	Code      uint16 `yaml:"code"`
	Data      string `yaml:"data,omitempty"`
	CSVFormat bool   `yaml:"csv-format,omitempty"`
}

// Pool is a contiguous address range within a subnet.
type Pool struct {
	Range string `yaml:"pool"`

	start netip.Addr
	end   netip.Addr
}

// Start returns the pool's first address.
func (p Pool) Start() netip.Addr { return p.start }

// End returns the pool's last address.
func (p Pool) End() netip.Addr { return p.end }

// Contains reports whether addr lies within the pool's range.
func (p Pool) Contains(addr netip.Addr) bool {
	return !addr.Less(p.start) && !p.end.Less(addr)
}

// Subnet is one configured `subnet6` entry.
type Subnet struct {
	ID              int          `yaml:"id"`
	Prefix          string       `yaml:"subnet"`
	Pools           []Pool       `yaml:"pools,omitempty"`
	Interface       string       `yaml:"interface,omitempty"`
	InterfaceID     string       `yaml:"interface-id,omitempty"`
	PreferredLife   uint32       `yaml:"preferred-lifetime"`
	ValidLife       uint32       `yaml:"valid-lifetime"`
	RenewTimer      uint32       `yaml:"renew-timer"`
	RebindTimer     uint32       `yaml:"rebind-timer"`
	OptionData      []OptionData `yaml:"option-data,omitempty"`

	prefix netip.Prefix
}

// NetPrefix returns the parsed subnet prefix.
func (s Subnet) NetPrefix() netip.Prefix { return s.prefix }

// ContainsAddr reports whether addr falls within the subnet's prefix.
func (s Subnet) ContainsAddr(addr netip.Addr) bool {
	return s.prefix.Contains(addr)
}

// InterfaceIDBytes returns the configured interface-id as raw bytes,
// treating the YAML value as ASCII (matching the DHCPv6 relay convention of
// opaque interface-id text).
func (s Subnet) InterfaceIDBytes() []byte {
	if s.InterfaceID == "" {
		return nil
	}
	return []byte(s.InterfaceID)
}

// Document is the top-level parsed configuration tree.
type Document struct {
	PreferredLifetime uint32   `yaml:"preferred-lifetime"`
	ValidLifetime     uint32   `yaml:"valid-lifetime"`
	RenewTimer        uint32   `yaml:"renew-timer"`
	RebindTimer       uint32   `yaml:"rebind-timer"`
	Subnet6           []Subnet `yaml:"subnet6"`
}

// Model is the runtime Configuration Model: an ordered, validated list of
// subnets. It is treated as immutable during request processing;
// reconfiguration replaces the *Model pointer atomically between requests.
type Model struct {
	subnets []Subnet
}

// Load reads and validates a YAML configuration document from path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	doc.applyDefaults()

	m := &Model{}
	for _, s := range doc.Subnet6 {
		if err := m.addSubnet(s); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	return m, nil
}

// New returns an empty Model, used by tests exercising the "no configured
// subnets" scenarios and by callers building configuration programmatically.
func New() *Model { return &Model{} }

func (d *Document) applyDefaults() {
	for i := range d.Subnet6 {
		s := &d.Subnet6[i]
		if s.PreferredLife == 0 {
			s.PreferredLife = d.PreferredLifetime
		}
		if s.ValidLife == 0 {
			s.ValidLife = d.ValidLifetime
		}
		if s.RenewTimer == 0 {
			s.RenewTimer = d.RenewTimer
		}
		if s.RebindTimer == 0 {
			s.RebindTimer = d.RebindTimer
		}
	}
}

// AddSubnet validates and appends a subnet, preserving insertion order.
func (m *Model) AddSubnet(s Subnet) error { return m.addSubnet(s) }

func (m *Model) addSubnet(s Subnet) error {
	prefix, err := netip.ParsePrefix(s.Prefix)
	if err != nil {
		return fmt.Errorf("subnet6[%d].subnet %q: %w", len(m.subnets), s.Prefix, err)
	}
	s.prefix = prefix.Masked()

	for i := range s.Pools {
		if err := parsePoolRange(&s.Pools[i], s.prefix); err != nil {
			return fmt.Errorf("subnet6[%d].pools[%d]: %w", len(m.subnets), i, err)
		}
	}

	if s.ID == 0 {
		s.ID = len(m.subnets) + 1
	}

	m.subnets = append(m.subnets, s)
	return nil
}

// parsePoolRange accepts either a "start-end" range or a bare CIDR pool,
// both of which Kea's option-data-adjacent `pool` field supports.
func parsePoolRange(p *Pool, subnet netip.Prefix) error {
	if prefix, err := netip.ParsePrefix(p.Range); err == nil {
		masked := prefix.Masked()
		p.start = masked.Addr()
		p.end = lastAddr(masked)
	} else {
		start, end, ok := splitRange(p.Range)
		if !ok {
			return fmt.Errorf("pool %q is neither a CIDR nor a start-end range", p.Range)
		}
		a, err := netip.ParseAddr(start)
		if err != nil {
			return fmt.Errorf("pool start %q: %w", start, err)
		}
		b, err := netip.ParseAddr(end)
		if err != nil {
			return fmt.Errorf("pool end %q: %w", end, err)
		}
		p.start, p.end = a, b
	}

	if !subnet.Contains(p.start) || !subnet.Contains(p.end) {
		return fmt.Errorf("pool range %q lies outside subnet %s", p.Range, subnet)
	}
	return nil
}

func splitRange(s string) (start, end string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func lastAddr(p netip.Prefix) netip.Addr {
	addr := p.Addr().As16()
	bits := p.Bits()
	fullBytes := bits / 8
	remBits := bits % 8
	for i := fullBytes; i < 16; i++ {
		if i == fullBytes && remBits > 0 {
			mask := byte(0xFF >> remBits)
			addr[i] |= mask
			continue
		}
		if i > fullBytes || remBits == 0 {
			addr[i] = 0xFF
		}
	}
	return netip.AddrFrom16(addr)
}

// DeleteAllSubnets clears the model.
func (m *Model) DeleteAllSubnets() { m.subnets = nil }

// ListSubnets returns subnets in configuration insertion order. Callers
// MUST NOT mutate the returned slice.
func (m *Model) ListSubnets() []Subnet { return m.subnets }
