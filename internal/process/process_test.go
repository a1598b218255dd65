package process

import (
	"net/netip"
	"testing"
	"time"

	"github.com/veesix-networks/dhcp6d/internal/alloc"
	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/hooks"
	"github.com/veesix-networks/dhcp6d/internal/leasestore"
	"github.com/veesix-networks/dhcp6d/internal/leasestore/memfile"
	"github.com/veesix-networks/dhcp6d/internal/option"
	"github.com/veesix-networks/dhcp6d/internal/wire"
	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

func clientIDDuid() []byte {
	d := make([]byte, 32)
	for i := range d {
		d[i] = 0x64 + byte(i)
	}
	return d
}

func newCtx(store leasestore.Store, cfg *config.Model) *Context {
	return &Context{
		Config:     cfg,
		Alloc:      alloc.New(store),
		Hooks:      hooks.New(),
		ServerDUID: []byte{0x00, 0x02, 0xaa, 0xbb},
	}
}

func findIANA(resp *wire.Packet, iaid uint32) (option.IANA, bool) {
	for _, o := range resp.Options {
		if ia, ok := o.(option.IANA); ok && ia.IAID == iaid {
			return ia, true
		}
	}
	return option.IANA{}, false
}

func statusOf(ia option.IANA) (uint16, bool) {
	for _, sub := range ia.Options {
		if sc, ok := sub.(option.StatusCode); ok {
			return sc.Code16(), true
		}
	}
	return 0, false
}

func iaAddrOf(ia option.IANA) (option.IAAddr, bool) {
	for _, sub := range ia.Options {
		if a, ok := sub.(option.IAAddr); ok {
			return a, true
		}
	}
	return option.IAAddr{}, false
}

// Scenario 1: SolicitNoSubnet.
func TestSolicit_NoSubnet(t *testing.T) {
	ctx := newCtx(memfile.New(), config.New())
	req := &wire.Packet{
		MsgType:       dhcpv6opt.MsgSolicit,
		TransactionID: [3]byte{0x00, 0x04, 0xd2}, // 1234
		Options: []option.Option{
			option.ClientID{Duid: clientIDDuid()},
			option.IANA{IAID: 234, T1: 1500, T2: 3000},
		},
	}

	resp, err := Solicit(ctx, req, Signals{})
	if err != nil {
		t.Fatalf("Solicit: %v", err)
	}
	if resp.MsgType != dhcpv6opt.MsgAdvertise {
		t.Fatalf("MsgType = %d, want Advertise", resp.MsgType)
	}
	if resp.TransactionID != req.TransactionID {
		t.Fatalf("transaction id not echoed")
	}

	ia, ok := findIANA(resp, 234)
	if !ok {
		t.Fatal("missing IA_NA(234) in response")
	}
	if ia.T1 != 0 || ia.T2 != 0 {
		t.Fatalf("T1/T2 = %d/%d, want 0/0", ia.T1, ia.T2)
	}
	status, ok := statusOf(ia)
	if !ok || status != dhcpv6opt.StatusNoAddrsAvail {
		t.Fatalf("status = %v, want NoAddrsAvail", status)
	}
	if _, hasAddr := iaAddrOf(ia); hasAddr {
		t.Fatal("expected no IA-address suboption")
	}
}

func oneSubnetConfig(t *testing.T) *config.Model {
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
	return m
}

// Scenario 2: SolicitHint.
func TestSolicit_Hint(t *testing.T) {
	ctx := newCtx(memfile.New(), oneSubnetConfig(t))
	hint := netip.MustParseAddr("2001:db8:1:1::dead:beef")

	req := &wire.Packet{
		MsgType: dhcpv6opt.MsgSolicit,
		Options: []option.Option{
			option.ClientID{Duid: clientIDDuid()},
			option.IANA{IAID: 234, Options: []option.Option{
				option.IAAddr{Addr: hint},
			}},
		},
	}

	resp, err := Solicit(ctx, req, Signals{RemoteAddr: netip.MustParseAddr("fe80::1")})
	if err != nil {
		t.Fatalf("Solicit: %v", err)
	}

	ia, ok := findIANA(resp, 234)
	if !ok {
		t.Fatal("missing IA_NA(234)")
	}
	if ia.T1 != 1000 || ia.T2 != 2000 {
		t.Fatalf("T1/T2 = %d/%d, want 1000/2000", ia.T1, ia.T2)
	}
	addr, ok := iaAddrOf(ia)
	if !ok {
		t.Fatal("missing IA-address")
	}
	if addr.Addr != hint {
		t.Fatalf("address = %s, want %s", addr.Addr, hint)
	}
	if addr.Preferred != 3000 || addr.Valid != 4000 {
		t.Fatalf("preferred/valid = %d/%d, want 3000/4000", addr.Preferred, addr.Valid)
	}

	// Solicit must not persist a lease.
	if _, found, _ := ctx.Alloc.Store.GetByAddress(hint); found {
		t.Fatal("Solicit must not create a persisted lease")
	}
}

// Scenario 3: RequestBasic.
func TestRequest_Basic(t *testing.T) {
	store := memfile.New()
	cfg := oneSubnetConfig(t)
	ctx := newCtx(store, cfg)
	hint := netip.MustParseAddr("2001:db8:1:1::dead:beef")
	duid := clientIDDuid()

	req := &wire.Packet{
		MsgType: dhcpv6opt.MsgRequest,
		Options: []option.Option{
			option.ClientID{Duid: duid},
			option.ServerID{Duid: ctx.ServerDUID},
			option.IANA{IAID: 234, Options: []option.Option{
				option.IAAddr{Addr: hint},
			}},
		},
	}

	resp, err := Request(ctx, req, Signals{RemoteAddr: netip.MustParseAddr("fe80::1")})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	ia, ok := findIANA(resp, 234)
	if !ok {
		t.Fatal("missing IA_NA(234)")
	}
	addr, ok := iaAddrOf(ia)
	if !ok || addr.Addr != hint {
		t.Fatalf("address = %v, want %s", addr, hint)
	}

	lease, found, err := store.GetByAddress(hint)
	if err != nil || !found {
		t.Fatalf("expected a persisted lease at %s: found=%v err=%v", hint, found, err)
	}
	if lease.DUID != string(duid) || lease.IAID != 234 {
		t.Fatalf("lease client mismatch: duid=%x iaid=%d", lease.DUID, lease.IAID)
	}
	if lease.SubnetID != cfg.ListSubnets()[0].ID {
		t.Fatalf("lease subnet id = %d, want %d", lease.SubnetID, cfg.ListSubnets()[0].ID)
	}
}

// Scenario 4: RenewReject-bogus-IAID.
func TestRenew_RejectBogusIAID(t *testing.T) {
	store := memfile.New()
	cfg := oneSubnetConfig(t)
	ctx := newCtx(store, cfg)
	duid := clientIDDuid()
	subnetID := cfg.ListSubnets()[0].ID

	cltt := time.Unix(123, 0)
	pre := leasestore.Lease{
		Address:           netip.MustParseAddr("2001:db8:1:1::dead"),
		DUID:              string(duid),
		IAID:              234,
		SubnetID:          subnetID,
		PreferredLifetime: 501,
		ValidLifetime:     502,
		T1:                503,
		T2:                504,
		ClientLastTxTime:  cltt,
	}
	if err := store.Add(pre); err != nil {
		t.Fatalf("seed Add: %v", err)
	}

	req := &wire.Packet{
		MsgType: dhcpv6opt.MsgRenew,
		Options: []option.Option{
			option.ClientID{Duid: duid},
			option.ServerID{Duid: ctx.ServerDUID},
			option.IANA{IAID: 456, Options: []option.Option{
				option.IAAddr{Addr: pre.Address},
			}},
		},
	}

	resp, err := Renew(ctx, req, Signals{RemoteAddr: netip.MustParseAddr("fe80::1")})
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}

	ia, ok := findIANA(resp, 456)
	if !ok {
		t.Fatal("missing IA_NA(456) in reply")
	}
	status, ok := statusOf(ia)
	if !ok || status != dhcpv6opt.StatusNoBinding {
		t.Fatalf("status = %v, want NoBinding", status)
	}

	stillStored, found, err := store.GetByAddress(pre.Address)
	if err != nil || !found {
		t.Fatalf("original lease should remain: found=%v err=%v", found, err)
	}
	if !stillStored.ClientLastTxTime.Equal(cltt) {
		t.Fatalf("ClientLastTxTime changed: got %v, want %v", stillStored.ClientLastTxTime, cltt)
	}
}

// Scenario 5: ReleaseReject-different-client.
func TestRelease_RejectDifferentClient(t *testing.T) {
	store := memfile.New()
	cfg := oneSubnetConfig(t)
	ctx := newCtx(store, cfg)
	subnetID := cfg.ListSubnets()[0].ID

	c1 := clientIDDuid()
	c2 := append([]byte{}, c1...)
	c2[0] ^= 0xff

	addr := netip.MustParseAddr("2001:db8:1:1::dead")
	pre := leasestore.Lease{
		Address:  addr,
		DUID:     string(c1),
		IAID:     234,
		SubnetID: subnetID,
	}
	if err := store.Add(pre); err != nil {
		t.Fatalf("seed Add: %v", err)
	}

	req := &wire.Packet{
		MsgType: dhcpv6opt.MsgRelease,
		Options: []option.Option{
			option.ClientID{Duid: c2},
			option.ServerID{Duid: ctx.ServerDUID},
			option.IANA{IAID: 234, Options: []option.Option{
				option.IAAddr{Addr: addr},
			}},
		},
	}

	resp, err := Release(ctx, req, Signals{RemoteAddr: netip.MustParseAddr("fe80::1")})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	ia, ok := findIANA(resp, 234)
	if !ok {
		t.Fatal("missing IA_NA(234) in reply")
	}
	status, ok := statusOf(ia)
	if !ok || status != dhcpv6opt.StatusNoBinding {
		t.Fatalf("IA status = %v, want NoBinding", status)
	}

	var msgStatus option.StatusCode
	found := false
	for _, o := range resp.Options {
		if sc, ok := o.(option.StatusCode); ok {
			msgStatus = sc
			found = true
		}
	}
	if !found || msgStatus.Code16() != dhcpv6opt.StatusNoBinding {
		t.Fatalf("message-level status = %v, want NoBinding", msgStatus)
	}

	if _, stillThere, _ := store.GetByAddress(addr); !stillThere {
		t.Fatal("lease for A must still be present after a rejected release")
	}
}

func TestRelease_SucceedsSetsMessageLevelSuccess(t *testing.T) {
	store := memfile.New()
	cfg := oneSubnetConfig(t)
	ctx := newCtx(store, cfg)
	subnetID := cfg.ListSubnets()[0].ID
	duid := clientIDDuid()

	addr := netip.MustParseAddr("2001:db8:1:1::dead")
	if err := store.Add(leasestore.Lease{Address: addr, DUID: string(duid), IAID: 234, SubnetID: subnetID}); err != nil {
		t.Fatalf("seed Add: %v", err)
	}

	req := &wire.Packet{
		MsgType: dhcpv6opt.MsgRelease,
		Options: []option.Option{
			option.ClientID{Duid: duid},
			option.ServerID{Duid: ctx.ServerDUID},
			option.IANA{IAID: 234, Options: []option.Option{
				option.IAAddr{Addr: addr},
			}},
		},
	}

	resp, err := Release(ctx, req, Signals{RemoteAddr: netip.MustParseAddr("fe80::1")})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	for _, o := range resp.Options {
		if sc, ok := o.(option.StatusCode); ok && sc.Code16() != dhcpv6opt.StatusSuccess {
			t.Fatalf("message-level status = %d, want Success", sc.Code16())
		}
	}
	if _, stillThere, _ := store.GetByAddress(addr); stillThere {
		t.Fatal("lease should be gone after a successful release")
	}
}

func TestSanityCheck_DropsOnMissingClientID(t *testing.T) {
	ctx := newCtx(memfile.New(), config.New())
	req := &wire.Packet{MsgType: dhcpv6opt.MsgSolicit}

	resp, err := Solicit(ctx, req, Signals{})
	if err == nil {
		t.Fatal("expected RFCViolation for a SOLICIT with no client-id")
	}
	if resp != nil {
		t.Fatal("expected no response on sanity check failure")
	}
}

func TestFinalizeResponse_HookSkipSuppressesEmission(t *testing.T) {
	ctx := newCtx(memfile.New(), config.New())
	ctx.Hooks.Register(hooks.PointPkt6Send, func(a *hooks.Args) { a.SetSkip(true) })

	req := &wire.Packet{
		MsgType: dhcpv6opt.MsgSolicit,
		Options: []option.Option{
			option.ClientID{Duid: clientIDDuid()},
			option.IANA{IAID: 1},
		},
	}

	resp, err := Solicit(ctx, req, Signals{})
	if err != nil {
		t.Fatalf("Solicit: %v", err)
	}
	if resp != nil {
		t.Fatal("expected nil response when a pkt6_send callout sets skip")
	}
}
