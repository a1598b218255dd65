package alloc

import (
	"net/netip"
	"testing"
	"time"

	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/coreerr"
	"github.com/veesix-networks/dhcp6d/internal/leasestore/memfile"
)

func testSubnet(t *testing.T) config.Subnet {
	t.Helper()
	m := config.New()
	if err := m.AddSubnet(config.Subnet{
		Prefix:        "2001:db8:1::/48",
		Pools:         []config.Pool{{Range: "2001:db8:1:1::/64"}},
		PreferredLife: 3000,
		ValidLife:     4000,
		RenewTimer:    1000,
		RebindTimer:   2000,
	}); err != nil {
		t.Fatalf("AddSubnet: %v", err)
	}
	return m.ListSubnets()[0]
}

func TestAllocate_HintHonoredWhenFree(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())
	e.Now = func() time.Time { return time.Unix(0, 0) }

	hint := netip.MustParseAddr("2001:db8:1:1::dead:beef")
	lease, err := e.Allocate(subnet, "duid-a", 234, hint)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if lease.Address != hint {
		t.Fatalf("address = %s, want hint %s", lease.Address, hint)
	}
	if lease.T1 != 1000 || lease.T2 != 2000 {
		t.Fatalf("timers = %d/%d, want 1000/2000", lease.T1, lease.T2)
	}
}

func TestAllocate_DistinctClientsGetDistinctAddresses(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())

	l1, err := e.Allocate(subnet, "duid-a", 1, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate(a): %v", err)
	}
	l2, err := e.Allocate(subnet, "duid-b", 1, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate(b): %v", err)
	}
	if l1.Address == l2.Address {
		t.Fatalf("expected distinct addresses, both got %s", l1.Address)
	}
}

func TestAllocate_DeterministicAcrossCalls(t *testing.T) {
	subnet := testSubnet(t)

	l1, err := New(memfile.New()).Allocate(subnet, "duid-a", 234, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate #1: %v", err)
	}
	l2, err := New(memfile.New()).Allocate(subnet, "duid-a", 234, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate #2: %v", err)
	}
	if l1.Address != l2.Address {
		t.Fatalf("expected deterministic pick, got %s then %s", l1.Address, l2.Address)
	}
}

func TestAllocate_HintOutsidePoolFallsBackToDerived(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())

	outside := netip.MustParseAddr("2001:db8:1:9::1")
	lease, err := e.Allocate(subnet, "duid-a", 1, outside)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if lease.Address == outside {
		t.Fatal("hint outside the subnet's pools should not be honored")
	}
	if !subnet.Pools[0].Contains(lease.Address) {
		t.Fatalf("allocated address %s not within pool", lease.Address)
	}
}

func TestAllocate_HintAlreadyLeased_PicksAnother(t *testing.T) {
	subnet := testSubnet(t)
	store := memfile.New()
	e := New(store)

	hint := netip.MustParseAddr("2001:db8:1:1::dead:beef")
	if _, err := e.Allocate(subnet, "duid-a", 1, hint); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}

	lease, err := e.Allocate(subnet, "duid-b", 2, hint)
	if err != nil {
		t.Fatalf("second Allocate: %v", err)
	}
	if lease.Address == hint {
		t.Fatal("expected a different address once the hint was already leased")
	}
}

func TestAllocate_PoolExhausted(t *testing.T) {
	m := config.New()
	_ = m.AddSubnet(config.Subnet{
		Prefix: "2001:db8:1::/48",
		Pools:  []config.Pool{{Range: "2001:db8:1:1::1-2001:db8:1:1::2"}},
	})
	subnet := m.ListSubnets()[0]
	store := memfile.New()
	e := New(store)

	if _, err := e.Allocate(subnet, "duid-a", 1, netip.Addr{}); err != nil {
		t.Fatalf("Allocate #1: %v", err)
	}
	if _, err := e.Allocate(subnet, "duid-b", 2, netip.Addr{}); err != nil {
		t.Fatalf("Allocate #2: %v", err)
	}
	_, err := e.Allocate(subnet, "duid-c", 3, netip.Addr{})
	if err == nil {
		t.Fatal("expected NoAddressesAvailable once the pool is exhausted")
	}
	kind, ok := coreerr.KindOf(err)
	if !ok || kind != coreerr.KindNoAddressesAvailable {
		t.Fatalf("kind = %v, want NoAddressesAvailable", kind)
	}
}

func TestRenew_NoBindingWhenUnknown(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())

	_, err := e.Renew(subnet, "duid-a", 1, netip.Addr{})
	if err == nil {
		t.Fatal("expected NoBinding for an unknown (duid, iaid)")
	}
	if !isNoBinding(err) {
		t.Fatalf("err = %v, want NoBinding", err)
	}
}

func TestRenew_ReturnsStoredAddressRegardlessOfRequested(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())

	allocated, err := e.Allocate(subnet, "duid-a", 1, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	bogus := netip.MustParseAddr("2001:db8:1:1::ffff")
	renewed, err := e.Renew(subnet, "duid-a", 1, bogus)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.Address != allocated.Address {
		t.Fatalf("renewed address = %s, want stored address %s", renewed.Address, allocated.Address)
	}
}

func TestRelease_NoBindingOnMismatch(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())

	allocated, err := e.Allocate(subnet, "duid-a", 1, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	err = e.Release(subnet, "duid-other", 1, allocated.Address)
	if err == nil {
		t.Fatal("expected NoBinding on duid mismatch")
	}
	if !isNoBinding(err) {
		t.Fatalf("err = %v, want NoBinding", err)
	}

	if _, found, _ := e.Store.GetByAddress(allocated.Address); !found {
		t.Fatal("lease should still be present after a rejected release")
	}
}

func TestRelease_Success(t *testing.T) {
	subnet := testSubnet(t)
	e := New(memfile.New())

	allocated, err := e.Allocate(subnet, "duid-a", 1, netip.Addr{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := e.Release(subnet, "duid-a", 1, allocated.Address); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, found, _ := e.Store.GetByAddress(allocated.Address); found {
		t.Fatal("lease should be gone after a successful release")
	}
}

func isNoBinding(err error) bool {
	kind, ok := coreerr.KindOf(err)
	return ok && kind == coreerr.KindNoBinding
}
