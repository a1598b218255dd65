// Package hooks implements the Hook Dispatcher: named extension points
// invoked synchronously, in registration order, against a mutable typed
// argument bag. Grounded on the teacher's pkg/provider/registry.go
// name->callback registry pattern, generalized from a single-factory-per-name
// map to an ordered list per hook point (the spec requires every registered
// callout on a point to run, not just one).
package hooks

import (
	"net/netip"
	"sync"

	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/wire"
)

// Point names the fixed hook points a message processor invokes.
type Point string

const (
	PointPkt6Receive     Point = "pkt6_receive"
	PointSubnet6Select   Point = "subnet6_select"
	PointPkt6Send        Point = "pkt6_send"
)

// Args is the typed argument bag passed to every callout. Fields absent for
// a given hook point are left at their zero value; callouts must check
// Point before relying on a field being populated.
type Args struct {
	Point             Point
	Pkt6              *wire.Packet
	Subnet6           *config.Subnet
	Subnet6Collection []config.Subnet
	Skip              bool
	RemoteAddr        netip.Addr
}

// GetPkt6, SetSubnet6 and SetSkip give callouts handle-style accessors,
// while keeping the bag itself a typed struct rather than an untyped map.
func (a *Args) GetPkt6() *wire.Packet { return a.Pkt6 }

func (a *Args) SetSubnet6(s *config.Subnet) { a.Subnet6 = s }

func (a *Args) SetSkip(v bool) { a.Skip = v }

// Callout is one registered hook function.
type Callout func(*Args)

// Dispatcher holds ordered callout lists per hook point.
type Dispatcher struct {
	mu        sync.RWMutex
	callouts  map[Point][]Callout
}

func New() *Dispatcher {
	return &Dispatcher{callouts: make(map[Point][]Callout)}
}

// Register appends fn to point's callout list. Callouts on one point run
// in registration order.
func (d *Dispatcher) Register(point Point, fn Callout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callouts[point] = append(d.callouts[point], fn)
}

// Run invokes every callout registered on args.Point, in order, each
// observing mutations made by prior callouts. It returns args.Skip as a
// convenience for callers that want to short-circuit on a single bool.
func (d *Dispatcher) Run(args *Args) bool {
	d.mu.RLock()
	callouts := append([]Callout(nil), d.callouts[args.Point]...)
	d.mu.RUnlock()

	for _, fn := range callouts {
		fn(args)
	}
	return args.Skip
}
