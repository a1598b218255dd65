// Package memfile is the in-memory Lease Store backend: map-backed,
// mutex-guarded, no persistence across restarts. Grounded on the teacher's
// own ianaLeases/leasesByAddr map pair.
package memfile

import (
	"net/netip"
	"sync"

	"github.com/veesix-networks/dhcp6d/internal/coreerr"
	"github.com/veesix-networks/dhcp6d/internal/leasestore"
)

// Store is the memfile backend: two maps over the same records, guarded by
// one mutex, matching the teacher's ianaLeases/leasesByAddr pairing.
type Store struct {
	mu        sync.RWMutex
	byAddr    map[netip.Addr]*leasestore.Lease
	byClient  map[leasestore.Key]*leasestore.Lease
}

func New() *Store {
	return &Store{
		byAddr:   make(map[netip.Addr]*leasestore.Lease),
		byClient: make(map[leasestore.Key]*leasestore.Lease),
	}
}

func (s *Store) Add(lease leasestore.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddr[lease.Address]; exists {
		return coreerr.Wrap(coreerr.KindDuplicateKey, "address already leased", nil)
	}

	l := lease
	s.byAddr[l.Address] = &l
	s.byClient[leasestore.KeyOf(l)] = &l
	return nil
}

func (s *Store) GetByAddress(addr netip.Addr) (leasestore.Lease, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.byAddr[addr]
	if !ok {
		return leasestore.Lease{}, false, nil
	}
	return *l, true, nil
}

func (s *Store) GetByClient(duid string, iaid uint32, subnetID int) (leasestore.Lease, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.byClient[leasestore.Key{DUID: duid, IAID: iaid, SubnetID: subnetID}]
	if !ok {
		return leasestore.Lease{}, false, nil
	}
	return *l, true, nil
}

func (s *Store) Update(lease leasestore.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byAddr[lease.Address]
	if !ok {
		return coreerr.Wrap(coreerr.KindNoBinding, "update of unknown address", nil)
	}
	// The key may have changed (e.g. a renew carrying the same address but
	// a different logical binding); keep the client index consistent.
	delete(s.byClient, leasestore.KeyOf(*existing))

	l := lease
	s.byAddr[l.Address] = &l
	s.byClient[leasestore.KeyOf(l)] = &l
	return nil
}

func (s *Store) Delete(addr netip.Addr) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byAddr[addr]
	if !ok {
		return false, nil
	}
	delete(s.byAddr, addr)
	delete(s.byClient, leasestore.KeyOf(*l))
	return true, nil
}

func (s *Store) List() ([]leasestore.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]leasestore.Lease, 0, len(s.byAddr))
	for _, l := range s.byAddr {
		out = append(out, *l)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
