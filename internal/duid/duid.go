// Package duid implements the server's DUID Store: generate-once,
// load-verbatim-thereafter persistence of the server's DHCP Unique
// Identifier.
package duid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Type tags for the recognized DUID variants (RFC 3315 §9).
const (
	TypeLLT = uint16(1)
	TypeEN  = uint16(2)
	TypeLL  = uint16(3)
)

// duidEpoch is the DUID-LLT time base, 2000-01-01T00:00:00Z.
var duidEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Store holds the server's DUID once acquired via Ensure or Load.
type Store struct {
	Bytes []byte
}

// Load reads a colon-separated hex DUID from path.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read duid file %s: %w", path, err)
	}
	b, err := parseHex(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse duid file %s: %w", path, err)
	}
	return &Store{Bytes: b}, nil
}

// Write persists the DUID to path in the same colon-separated hex format.
func (s *Store) Write(path string) error {
	if err := os.WriteFile(path, []byte(formatHex(s.Bytes)), 0o644); err != nil {
		return fmt.Errorf("write duid file %s: %w", path, err)
	}
	return nil
}

// Ensure loads the DUID at path if it exists and parses; otherwise it
// synthesizes an LLT DUID from the first available non-loopback interface's
// link-layer address and persists it. Once written, the returned DUID is
// immutable for the life of the installation.
func Ensure(path string) (*Store, error) {
	if s, err := Load(path); err == nil {
		return s, nil
	}

	mac, err := firstHardwareAddr()
	if err != nil {
		return nil, fmt.Errorf("synthesize duid: %w", err)
	}

	s := &Store{Bytes: generateLLT(mac, time.Now())}
	if err := s.Write(path); err != nil {
		return nil, err
	}
	return s, nil
}

// generateLLT builds a DUID-LLT: type(2) hwtype(2) time(4) link-layer-addr.
func generateLLT(mac net.HardwareAddr, now time.Time) []byte {
	b := make([]byte, 8+len(mac))
	putU16(b[0:2], TypeLLT)
	putU16(b[2:4], 1) // hardware type: Ethernet
	putU32(b[4:8], uint32(now.Sub(duidEpoch).Seconds()))
	copy(b[8:], mac)
	return b
}

func firstHardwareAddr() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, fmt.Errorf("no non-loopback interface with a hardware address")
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty duid file")
	}
	parts := strings.Split(s, ":")
	b := make([]byte, len(parts))
	for i, p := range parts {
		v, err := hex.DecodeString(p)
		if err != nil || len(v) != 1 {
			return nil, fmt.Errorf("malformed byte %q", p)
		}
		b[i] = v[0]
	}
	if len(b) < 1 || len(b) > 130 {
		return nil, fmt.Errorf("duid length %d out of range [1,130]", len(b))
	}
	return b, nil
}

func formatHex(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = hex.EncodeToString([]byte{v})
	}
	return strings.Join(parts, ":")
}

func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
