// Command dhcp6d runs the DHCPv6 server core: load configuration, ensure
// the server DUID, open the lease store, and run the message pump until
// shutdown. Grounded on the teacher's cmd/osvbngd/main.go flag/config/
// logger wiring, with the VPP dataplane and plugin-registry bootstrap
// dropped since packet transport is out of core scope (the core accepts a
// receive/emit callback pair; this binary supplies a UDP implementation of
// them).
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/veesix-networks/dhcp6d/internal/alloc"
	"github.com/veesix-networks/dhcp6d/internal/config"
	"github.com/veesix-networks/dhcp6d/internal/duid"
	"github.com/veesix-networks/dhcp6d/internal/hooks"
	"github.com/veesix-networks/dhcp6d/internal/leasestore"
	"github.com/veesix-networks/dhcp6d/internal/leasestore/memfile"
	"github.com/veesix-networks/dhcp6d/internal/leasestore/sqlite"
	"github.com/veesix-networks/dhcp6d/internal/logger"
	"github.com/veesix-networks/dhcp6d/internal/metrics"
	"github.com/veesix-networks/dhcp6d/internal/northbound"
	"github.com/veesix-networks/dhcp6d/internal/process"
	"github.com/veesix-networks/dhcp6d/internal/server"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "/etc/dhcp6d/config.yaml", "path to the YAML configuration file")
	duidPath := flag.String("duid-file", "/var/lib/dhcp6d/server.duid", "path to the persisted server DUID")
	leaseBackend := flag.String("lease-backend", "memfile", "lease store backend: memfile or sqlite")
	leaseDBPath := flag.String("lease-db", "/var/lib/dhcp6d/leases.db", "sqlite lease database path (lease-backend=sqlite)")
	listenAddr := flag.String("listen", "[::]:547", "UDP address to listen on")
	northboundAddr := flag.String("northbound-listen", "", "gRPC listen address for the read-only lease inspection service (empty disables it)")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	logger.Configure(*logFormat, logger.LevelInfo, nil)
	mainLog := logger.Component(logger.ComponentCore)

	cfgModel, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	serverDUID, err := duid.Ensure(*duidPath)
	if err != nil {
		log.Fatalf("ensure server duid: %v", err)
	}
	mainLog.Info("server duid ready", "duid", duidHex(serverDUID.Bytes))

	store, err := openLeaseStore(*leaseBackend, *leaseDBPath)
	if err != nil {
		log.Fatalf("open lease store: %v", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)

	if *northboundAddr != "" {
		grpcServer := grpc.NewServer()
		northbound.Register(grpcServer, store)
		lis, err := net.Listen("tcp", *northboundAddr)
		if err != nil {
			log.Fatalf("listen northbound: %v", err)
		}
		go func() {
			mainLog.Info("northbound service listening", "addr", *northboundAddr)
			if err := grpcServer.Serve(lis); err != nil {
				mainLog.Warn("northbound service stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			grpcServer.GracefulStop()
		}()
	}

	conn, err := net.ListenPacket("udp6", *listenAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", *listenAddr, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	allocEngine := alloc.New(store)
	allocEngine.Metrics = collectors

	loop := &server.Loop{
		Receive: udpReceiver(conn),
		Emit:    udpEmitter(conn),
		Process: &process.Context{
			Config:     cfgModel,
			Alloc:      allocEngine,
			Hooks:      hooks.New(),
			ServerDUID: serverDUID.Bytes,
		},
		Metrics: collectors,
		Log:     logger.Component(logger.ComponentWire),
	}

	mainLog.Info("dhcp6d starting", "listen", *listenAddr)
	if err := loop.Run(ctx); err != nil {
		log.Fatalf("server loop: %v", err)
	}
	mainLog.Info("dhcp6d stopped")
}

func openLeaseStore(backend, path string) (leasestore.Store, error) {
	switch backend {
	case "sqlite":
		return sqlite.Open(path)
	default:
		return memfile.New(), nil
	}
}

func duidHex(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hextable[v>>4], hextable[v&0xf])
	}
	return string(out)
}

func udpReceiver(conn net.PacketConn) server.ReceiveFunc {
	buf := make([]byte, 65536)
	return func(ctx context.Context) (server.Received, error) {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return server.Received{EOF: true}, nil
			default:
				return server.Received{}, err
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		remote, _ := netip.ParseAddrPort(addr.String())
		return server.Received{Datagram: server.Datagram{
			Payload:    payload,
			RemoteAddr: remote.Addr(),
		}}, nil
	}
}

func udpEmitter(conn net.PacketConn) server.EmitFunc {
	return func(dg server.Datagram) error {
		addr, err := net.ResolveUDPAddr("udp6", netip.AddrPortFrom(dg.RemoteAddr, 546).String())
		if err != nil {
			return err
		}
		_, err = conn.WriteTo(dg.Payload, addr)
		return err
	}
}
