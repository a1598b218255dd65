// Package server implements the core's single-threaded event loop: receive,
// decode, sanity-check, dispatch, encode, emit, repeat. Grounded on the
// teacher's pkg/component Base/Orchestrator lifecycle (context.WithCancel
// plus a WaitGroup-tracked goroutine), generalized per the spec's §9 design
// note into an explicit receive-function/emit-function message pump instead
// of the teacher's dataplane channel/callback wiring, so shutdown is a
// first-class end-of-stream signal rather than an out-of-band flag.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/google/uuid"

	"github.com/veesix-networks/dhcp6d/internal/hooks"
	"github.com/veesix-networks/dhcp6d/internal/metrics"
	"github.com/veesix-networks/dhcp6d/internal/process"
	"github.com/veesix-networks/dhcp6d/internal/wire"
	"github.com/veesix-networks/dhcp6d/pkg/dhcpv6opt"
)

// Datagram is one inbound or outbound UDP payload plus the out-of-band
// signals the Subnet Selector needs.
type Datagram struct {
	Payload    []byte
	RemoteAddr netip.Addr
	IngressIf  string
}

// Received is the result of one Receive call: either a Datagram or an
// end-of-stream signal. Treating EOF as data (rather than a sentinel error)
// makes shutdown ordinary control flow through the pump.
type Received struct {
	Datagram Datagram
	EOF      bool
}

// ReceiveFunc yields the next inbound datagram, or EOF when no more will
// arrive. It may block.
type ReceiveFunc func(ctx context.Context) (Received, error)

// EmitFunc sends one outbound datagram.
type EmitFunc func(Datagram) error

// Loop is the message pump. Receive and Emit are supplied by the transport
// layer (out of core scope); Loop only implements the control flow.
type Loop struct {
	Receive ReceiveFunc
	Emit    EmitFunc
	Process *process.Context
	Metrics *metrics.Collectors
	Log     *slog.Logger

	// QueueSize bounds the receive queue drained on shutdown (§5).
	QueueSize int

	queue chan Datagram
	wg    sync.WaitGroup
}

// Run starts the receive goroutine and processes datagrams from the queue
// until EOF is observed and the queue is drained, or ctx is canceled.
// Responses are emitted in the order their requests were received, since a
// single goroutine both dequeues and emits.
func (l *Loop) Run(ctx context.Context) error {
	if l.QueueSize <= 0 {
		l.QueueSize = 64
	}
	l.queue = make(chan Datagram, l.QueueSize)

	recvErr := make(chan error, 1)
	l.wg.Add(1)
	go l.receiveLoop(ctx, recvErr)

	for dg := range l.queue {
		l.handle(dg)
	}

	l.wg.Wait()
	select {
	case err := <-recvErr:
		return err
	default:
		return nil
	}
}

func (l *Loop) receiveLoop(ctx context.Context, errOut chan<- error) {
	defer l.wg.Done()
	defer close(l.queue)

	for {
		res, err := l.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				errOut <- err
			}
			return
		}
		if res.EOF {
			return
		}

		select {
		case l.queue <- res.Datagram:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) handle(dg Datagram) {
	// A correlation id ties together every log line for this datagram across
	// decode, hooks, and processing, mirroring the teacher's per-session id
	// assignment in pkg/session/id.go.
	corrID := uuid.NewString()

	pkt, err := wire.Decode(dg.Payload)
	if err != nil {
		l.logDrop(corrID, "decode", err)
		return
	}

	skip := l.Process.Hooks.Run(&hooks.Args{Point: hooks.PointPkt6Receive, Pkt6: pkt, RemoteAddr: dg.RemoteAddr})
	if skip {
		l.countHookSkip(hooks.PointPkt6Receive)
		return
	}

	l.countMessage(pkt.MsgType)

	sig := process.Signals{RemoteAddr: dg.RemoteAddr, IngressIf: dg.IngressIf}
	resp, err := dispatch(l.Process, pkt, sig)
	if err != nil {
		l.logDrop(corrID, "process", err)
		return
	}
	if resp == nil {
		// No emission. For the four handled message types this means
		// pkt6_send set the skip flag; other types have no processor.
		switch pkt.MsgType {
		case dhcpv6opt.MsgSolicit, dhcpv6opt.MsgRequest, dhcpv6opt.MsgRenew, dhcpv6opt.MsgRelease:
			l.countHookSkip(hooks.PointPkt6Send)
		}
		return
	}

	out := wire.Encode(resp)
	if err := l.Emit(Datagram{Payload: out, RemoteAddr: dg.RemoteAddr, IngressIf: dg.IngressIf}); err != nil {
		l.logDrop(corrID, "emit", err)
	}
}

func dispatch(ctx *process.Context, pkt *wire.Packet, sig process.Signals) (*wire.Packet, error) {
	switch pkt.MsgType {
	case dhcpv6opt.MsgSolicit:
		return process.Solicit(ctx, pkt, sig)
	case dhcpv6opt.MsgRequest:
		return process.Request(ctx, pkt, sig)
	case dhcpv6opt.MsgRenew:
		return process.Renew(ctx, pkt, sig)
	case dhcpv6opt.MsgRelease:
		return process.Release(ctx, pkt, sig)
	default:
		return nil, nil
	}
}

func (l *Loop) countMessage(msgType uint8) {
	if l.Metrics == nil {
		return
	}
	l.Metrics.MessagesTotal.WithLabelValues(dhcpv6opt.MessageTypeName(msgType)).Inc()
}

func (l *Loop) countHookSkip(point hooks.Point) {
	if l.Metrics == nil {
		return
	}
	l.Metrics.HookSkipsTotal.WithLabelValues(string(point)).Inc()
}

func (l *Loop) logDrop(corrID, stage string, err error) {
	if l.Log == nil {
		return
	}
	l.Log.Warn("dropping packet", "correlation_id", corrID, "stage", stage, "error", err)
}
