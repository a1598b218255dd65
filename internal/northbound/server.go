// Package northbound implements a minimal, read-only gRPC lease-inspection
// service, grounded on the teacher's internal/gateway component (a
// grpc.Server registered with a hand-defined ServiceDesc). Unlike the
// teacher's gateway, which registers protoc-generated pb.RegisterXServer
// stubs built from a checked-in proto/ tree compiled by CI, this package
// builds its grpc.ServiceDesc directly: there is no protoc invocation
// available here, so wire messages are google.golang.org/protobuf's
// precompiled structpb.Struct rather than hand-authored generated code
// (fabricating the raw file-descriptor bytes protoc-gen-go embeds is not
// something that can be done reliably by hand). proto/dhcp6.proto documents
// the intended schema for whenever this package is regenerated properly.
package northbound

import (
	"context"
	"fmt"
	"net/netip"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/veesix-networks/dhcp6d/internal/leasestore"
)

const serviceName = "dhcp6d.northbound.Leases"

// Server implements the Leases service against a Store.
type Server struct {
	Store leasestore.Store
}

// Register attaches the Leases service to grpcServer.
func Register(grpcServer *grpc.Server, store leasestore.Store) {
	grpcServer.RegisterService(&serviceDesc, &Server{Store: store})
}

type leasesServer interface {
	listLeases(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	getLease(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*leasesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListLeases", Handler: listLeasesHandler},
		{MethodName: "GetLease", Handler: getLeaseHandler},
	},
	Metadata: "internal/northbound/proto/dhcp6.proto",
}

func listLeasesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(leasesServer)
	if interceptor == nil {
		return s.listLeases(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListLeases"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.listLeases(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getLeaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(leasesServer)
	if interceptor == nil {
		return s.getLease(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetLease"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.getLease(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) listLeases(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	leases, err := s.Store.List()
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}

	records := make([]any, 0, len(leases))
	for _, l := range leases {
		records = append(records, leaseToMap(l))
	}
	return structpb.NewStruct(map[string]any{"leases": records})
}

func (s *Server) getLease(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	addrField, ok := in.GetFields()["address"]
	if !ok {
		return nil, fmt.Errorf("missing address field")
	}
	addr, err := parseAddrField(addrField.GetStringValue())
	if err != nil {
		return nil, err
	}

	lease, found, err := s.Store.GetByAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	if !found {
		return structpb.NewStruct(map[string]any{"found": false})
	}

	fields := leaseToMap(lease)
	fields["found"] = true
	return structpb.NewStruct(fields)
}

func parseAddrField(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return addr, nil
}

func leaseToMap(l leasestore.Lease) map[string]any {
	return map[string]any{
		"address":             l.Address.String(),
		"duid":                fmt.Sprintf("%x", l.DUID),
		"iaid":                float64(l.IAID),
		"subnet_id":           float64(l.SubnetID),
		"preferred_lifetime":  float64(l.PreferredLifetime),
		"valid_lifetime":      float64(l.ValidLifetime),
		"t1":                  float64(l.T1),
		"t2":                  float64(l.T2),
		"client_last_tx_time": float64(l.ClientLastTxTime.Unix()),
	}
}
