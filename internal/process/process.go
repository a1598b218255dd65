// Package process implements the four Message Processors (Solicit, Request,
// Renew, Release) as pure functions over an explicit Context value, per the
// spec's §9 design note replacing the reference codebase's
// singleton-config/singleton-lease-manager/friend-class-testing style with
// free functions over explicit dependencies. Grounded on the teacher's
// plugins/dhcp6/local/provider.go handle* methods, rewritten to take state
// as parameters instead of reading *Provider fields.
package process

import (
	"encoding/hex"
	"net/netip"
	"strings"

	"github.com/veesix-networks/dhcp6d/internal/alloc"
	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/coreerr"
	"github.com/veesix-networks/dhcp6d/internal/hooks"
	"github.com/veesix-networks/dhcp6d/internal/leasestore"
	"github.com/veesix-networks/dhcp6d/internal/option"
	"github.com/veesix-networks/dhcp6d/internal/selector"
	"github.com/veesix-networks/dhcp6d/internal/wire"
	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

// Policy governs whether an option is required, allowed, or forbidden in a
// given message type, per sanityCheck in §4.8.
type Policy int

const (
	PolicyMandatory Policy = iota
	PolicyOptional
	PolicyForbidden
)

// Context is the explicit dependency bundle every processor takes instead
// of reading from process-wide singletons.
type Context struct {
	Config     *config.Model
	Alloc      *alloc.Engine
	Hooks      *hooks.Dispatcher
	ServerDUID []byte
}

// Signals carries the out-of-band information the wire message itself does
// not encode but the selector needs.
type Signals struct {
	RemoteAddr netip.Addr
	IngressIf  string
}

// sanityCheck verifies that client-id and server-id each appear at most
// once and satisfy the given policy. Violations are RFCViolation: the
// caller MUST drop the packet with no response.
func sanityCheck(pkt *wire.Packet, clientPolicy, serverPolicy Policy) error {
	if err := checkCardinality(pkt, dhcpv6opt.OptClientID, clientPolicy); err != nil {
		return err
	}
	return checkCardinality(pkt, dhcpv6opt.OptServerID, serverPolicy)
}

func checkCardinality(pkt *wire.Packet, code uint16, policy Policy) error {
	count := 0
	for _, o := range pkt.Options {
		if o.Code() == code {
			count++
		}
	}
	switch policy {
	case PolicyMandatory:
		if count != 1 {
			return coreerr.Wrap(coreerr.KindRFCViolation, "option required exactly once", nil)
		}
	case PolicyForbidden:
		if count != 0 {
			return coreerr.Wrap(coreerr.KindRFCViolation, "option must not be present", nil)
		}
	case PolicyOptional:
		if count > 1 {
			return coreerr.Wrap(coreerr.KindRFCViolation, "option must appear at most once", nil)
		}
	}
	return nil
}

func clientDUID(pkt *wire.Packet) (string, bool) {
	o, ok := pkt.Option(dhcpv6opt.OptClientID)
	if !ok {
		return "", false
	}
	return string(o.(option.ClientID).Duid), true
}

// selectSubnet runs the subnet6_select hook around the raw Selector result,
// letting a registered callout substitute a different subnet from the
// collection.
func selectSubnet(ctx *Context, pkt *wire.Packet, sig Signals) (config.Subnet, bool) {
	subnets := ctx.Config.ListSubnets()
	chosen, ok := selector.Select(pkt, selector.Input{RemoteAddr: sig.RemoteAddr, IngressIf: sig.IngressIf}, subnets)

	var chosenPtr *config.Subnet
	if ok {
		chosenPtr = &chosen
	}
	args := &hooks.Args{
		Point:             hooks.PointSubnet6Select,
		Pkt6:              pkt,
		Subnet6:           chosenPtr,
		Subnet6Collection: subnets,
	}
	ctx.Hooks.Run(args)
	if args.Subnet6 == nil {
		return config.Subnet{}, false
	}
	return *args.Subnet6, true
}

// Solicit implements §4.8 Solicit -> Advertise.
func Solicit(ctx *Context, pkt *wire.Packet, sig Signals) (*wire.Packet, error) {
	if err := sanityCheck(pkt, PolicyMandatory, PolicyForbidden); err != nil {
		return nil, err
	}
	return buildIANAResponse(ctx, pkt, sig, dhcpv6opt.MsgAdvertise, false)
}

// Request implements §4.8 Request -> Reply.
func Request(ctx *Context, pkt *wire.Packet, sig Signals) (*wire.Packet, error) {
	if err := sanityCheck(pkt, PolicyMandatory, PolicyMandatory); err != nil {
		return nil, err
	}
	return buildIANAResponse(ctx, pkt, sig, dhcpv6opt.MsgReply, true)
}

// buildIANAResponse is shared by Solicit and Request: both walk the
// request's IA_NAs and allocate an address per IA, differing only in
// whether the allocation is persisted (Request) or tentative (Solicit) and
// in the response message type.
func buildIANAResponse(ctx *Context, pkt *wire.Packet, sig Signals, respType uint8, persist bool) (*wire.Packet, error) {
	resp := newResponse(pkt, respType)

	subnet, hasSubnet := selectSubnet(ctx, pkt, sig)

	for _, o := range pkt.Options {
		ia, ok := o.(option.IANA)
		if !ok {
			continue
		}
		resp.Options = append(resp.Options, buildOneIA(ctx, pkt, subnet, hasSubnet, ia, persist))
	}

	attachRequestedOptions(pkt, subnet, hasSubnet, resp)
	return finalizeResponse(ctx, pkt, resp)
}

func buildOneIA(ctx *Context, pkt *wire.Packet, subnet config.Subnet, hasSubnet bool, ia option.IANA, persist bool) option.Option {
	if !hasSubnet {
		return noAddrsAvailIA(ia.IAID, 0, 0)
	}

	duid, _ := clientDUID(pkt)
	hint := hintFromIA(ia)

	if persist {
		lease, err := ctx.Alloc.Allocate(subnet, duid, ia.IAID, hint)
		if err != nil {
			return noAddrsAvailIA(ia.IAID, 0, 0)
		}
		return successIA(ia.IAID, lease)
	}

	addr, ok := ctx.Alloc.Preview(subnet, duid, ia.IAID, hint)
	if !ok {
		return noAddrsAvailIA(ia.IAID, 0, 0)
	}
	return option.IANA{
		IAID: ia.IAID,
		T1:   subnet.RenewTimer,
		T2:   subnet.RebindTimer,
		Options: []option.Option{
			option.IAAddr{
				Addr:      addr,
				Preferred: subnet.PreferredLife,
				Valid:     subnet.ValidLife,
			},
		},
	}
}

func hintFromIA(ia option.IANA) netip.Addr {
	for _, sub := range ia.Options {
		if a, ok := sub.(option.IAAddr); ok {
			return a.Addr
		}
	}
	return netip.Addr{}
}

func successIA(iaid uint32, lease leasestore.Lease) option.Option {
	return option.IANA{
		IAID: iaid,
		T1:   lease.T1,
		T2:   lease.T2,
		Options: []option.Option{
			option.IAAddr{
				Addr:      lease.Address,
				Preferred: lease.PreferredLifetime,
				Valid:     lease.ValidLifetime,
			},
		},
	}
}

// noAddrsAvailIA builds an IA_NA carrying NoAddrsAvail, T1=T2=0, and no
// IA-address, satisfying the status-code symmetry invariant.
func noAddrsAvailIA(iaid uint32, t1, t2 uint32) option.Option {
	return option.IANA{
		IAID: iaid,
		T1:   t1,
		T2:   t2,
		Options: []option.Option{
			option.StatusCode{Value: dhcpv6opt.StatusNoAddrsAvail, Message: "no addresses available"},
		},
	}
}

// Renew implements §4.8 Renew -> Reply.
func Renew(ctx *Context, pkt *wire.Packet, sig Signals) (*wire.Packet, error) {
	if err := sanityCheck(pkt, PolicyMandatory, PolicyMandatory); err != nil {
		return nil, err
	}

	resp := newResponse(pkt, dhcpv6opt.MsgReply)
	subnet, hasSubnet := selectSubnet(ctx, pkt, sig)
	duid, _ := clientDUID(pkt)

	for _, o := range pkt.Options {
		ia, ok := o.(option.IANA)
		if !ok {
			continue
		}
		if !hasSubnet {
			resp.Options = append(resp.Options, noBindingIA(ia.IAID))
			continue
		}

		hint := hintFromIA(ia)
		lease, err := ctx.Alloc.Renew(subnet, duid, ia.IAID, hint)
		if err != nil {
			resp.Options = append(resp.Options, noBindingIA(ia.IAID))
			continue
		}
		resp.Options = append(resp.Options, successIA(ia.IAID, lease))
	}

	attachRequestedOptions(pkt, subnet, hasSubnet, resp)
	return finalizeResponse(ctx, pkt, resp)
}

func noBindingIA(iaid uint32) option.Option {
	return option.IANA{
		IAID: iaid,
		T1:   0,
		T2:   0,
		Options: []option.Option{
			option.StatusCode{Value: dhcpv6opt.StatusNoBinding, Message: "no binding for this IA"},
		},
	}
}

// Release implements §4.8 Release -> Reply. The reply's IA_NA MUST NOT
// contain an IA-address option (RFC 3315 §18.2.6); overall message status
// is Success iff at least one IA released successfully, else NoBinding (per
// the spec's stated resolution of its Open Question on this point).
func Release(ctx *Context, pkt *wire.Packet, sig Signals) (*wire.Packet, error) {
	if err := sanityCheck(pkt, PolicyMandatory, PolicyMandatory); err != nil {
		return nil, err
	}

	resp := newResponse(pkt, dhcpv6opt.MsgReply)
	subnet, hasSubnet := selectSubnet(ctx, pkt, sig)
	duid, _ := clientDUID(pkt)

	anySucceeded := false
	for _, o := range pkt.Options {
		ia, ok := o.(option.IANA)
		if !ok {
			continue
		}

		released := false
		if hasSubnet {
			for _, sub := range ia.Options {
				addrOpt, ok := sub.(option.IAAddr)
				if !ok {
					continue
				}
				if err := ctx.Alloc.Release(subnet, duid, ia.IAID, addrOpt.Addr); err == nil {
					released = true
				}
			}
		}

		if released {
			anySucceeded = true
			resp.Options = append(resp.Options, option.IANA{IAID: ia.IAID, T1: 0, T2: 0, Options: []option.Option{
				option.StatusCode{Value: dhcpv6opt.StatusSuccess},
			}})
		} else {
			resp.Options = append(resp.Options, noBindingIA(ia.IAID))
		}
	}

	msgStatus := uint16(dhcpv6opt.StatusNoBinding)
	if anySucceeded {
		msgStatus = dhcpv6opt.StatusSuccess
	}
	resp.Options = append(resp.Options, option.StatusCode{Value: msgStatus})

	return finalizeResponse(ctx, pkt, resp)
}

func newResponse(req *wire.Packet, msgType uint8) *wire.Packet {
	resp := &wire.Packet{MsgType: msgType, TransactionID: req.TransactionID}
	if cid, ok := req.Option(dhcpv6opt.OptClientID); ok {
		resp.Options = append(resp.Options, cid)
	}
	return resp
}

// attachRequestedOptions appends the selected subnet's configured options
// that the client's ORO asked for. Callers run it before finalizeResponse,
// so these options precede the server-id in the response.
func attachRequestedOptions(req *wire.Packet, subnet config.Subnet, hasSubnet bool, resp *wire.Packet) {
	if !hasSubnet {
		return
	}
	oroOpt, ok := req.Option(dhcpv6opt.OptOro)
	if !ok {
		return
	}
	oro := oroOpt.(option.ORO)

	for _, od := range subnet.OptionData {
		if !oro.Has(od.Code) {
			continue
		}
		if opt, err := buildConfiguredOption(od); err == nil {
			resp.Options = append(resp.Options, opt)
		}
	}
}

// buildConfiguredOption turns one Kea-shaped option-data entry into a wire
// option. DNS-servers are parsed as a comma-separated address list (the
// common csv-format for that option); anything else is treated as
// colon-or-bare hex bytes, matching the DUID file's own hex convention.
func buildConfiguredOption(od config.OptionData) (option.Option, error) {
	if od.Code == dhcpv6opt.OptDNSServers {
		var addrs []netip.Addr
		for _, part := range strings.Split(od.Data, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}
		return option.DNSServers{Servers: addrs}, nil
	}

	raw, err := hex.DecodeString(strings.ReplaceAll(od.Data, ":", ""))
	if err != nil {
		return nil, err
	}
	return option.Opaque{CodeVal: od.Code, Data: raw}, nil
}

// finalizeResponse adds the server-id, runs the pkt6_send hook, and returns
// nil (not an error) if a callout set the skip flag, signaling to the
// caller that no emission should occur.
func finalizeResponse(ctx *Context, req *wire.Packet, resp *wire.Packet) (*wire.Packet, error) {
	resp.Options = append(resp.Options, option.ServerID{Duid: ctx.ServerDUID})

	args := &hooks.Args{Point: hooks.PointPkt6Send, Pkt6: resp}
	if ctx.Hooks.Run(args) {
		return nil, nil
	}
	return resp, nil
}
