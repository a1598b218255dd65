// Package leasestore implements the persistent mapping from address and
// from (DUID, IAID, subnet-id) to lease records, with pluggable backends.
package leasestore

import (
	"net/netip"
	"time"
)

// Lease is one allocated or renewed address binding.
type Lease struct {
	Address           netip.Addr
	DUID              string
	IAID              uint32
	SubnetID          int
	PreferredLifetime uint32
	ValidLifetime     uint32
	T1                uint32
	T2                uint32
	ClientLastTxTime  time.Time
}

// Key identifies a lease by its secondary key: (DUID, IAID, subnet-id).
type Key struct {
	DUID     string
	IAID     uint32
	SubnetID int
}

func KeyOf(l Lease) Key {
	return Key{DUID: l.DUID, IAID: l.IAID, SubnetID: l.SubnetID}
}

// Store is the Lease Store interface. Backends MUST behave identically
// under single-writer access.
type Store interface {
	// Add inserts lease, failing with coreerr.DuplicateKey if the address
	// is already leased.
	Add(lease Lease) error
	// GetByAddress returns the lease at addr, if any.
	GetByAddress(addr netip.Addr) (Lease, bool, error)
	// GetByClient returns the lease keyed by (duid, iaid, subnetID), if any.
	GetByClient(duid string, iaid uint32, subnetID int) (Lease, bool, error)
	// Update upserts by address; the record MUST already exist.
	Update(lease Lease) error
	// Delete removes the lease at addr, reporting whether one was removed.
	Delete(addr netip.Addr) (bool, error)
	// List returns all leases, for inspection.
	List() ([]Lease, error)
	// Close releases any backend resources.
	Close() error
}
