// Command dhcp6ctl is an interactive operator REPL for lease inspection.
// Grounded on the teacher's cmd/osvbngcli readline.Instance setup (history
// file, interrupt/EOF handling, line trimming), simplified from that CLI's
// command-tree/gRPC-client design since dhcp6ctl talks directly to a lease
// store file rather than a running daemon's control-plane API.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/veesix-networks/dhcp6d/internal/leasestore"
	"github.com/veesix-networks/dhcp6d/internal/leasestore/memfile"
	"github.com/veesix-networks/dhcp6d/internal/leasestore/sqlite"
)

func main() {
	leaseBackend := flag.String("lease-backend", "sqlite", "lease store backend: memfile or sqlite")
	leaseDBPath := flag.String("lease-db", "/var/lib/dhcp6d/leases.db", "sqlite lease database path")
	flag.Parse()

	store, err := openStore(*leaseBackend, *leaseDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open lease store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "dhcp6ctl> ",
		HistoryFile:     os.ExpandEnv("$HOME/.dhcp6ctl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			}
			if err == io.EOF {
				break
			}
			fmt.Fprintf(os.Stderr, "readline: %v\n", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := dispatch(store, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func openStore(backend, path string) (leasestore.Store, error) {
	switch backend {
	case "memfile":
		return memfile.New(), nil
	default:
		return sqlite.Open(path)
	}
}

func dispatch(store leasestore.Store, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "list":
		return cmdList(store)
	case "show":
		if len(fields) != 2 {
			return fmt.Errorf("usage: show <address>")
		}
		return cmdShow(store, fields[1])
	case "help":
		printHelp()
		return nil
	case "exit", "quit":
		os.Exit(0)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}
}

func cmdList(store leasestore.Store) error {
	leases, err := store.List()
	if err != nil {
		return err
	}
	for _, l := range leases {
		fmt.Printf("%-40s duid=%x iaid=%d subnet=%d pref=%d valid=%d t1=%d t2=%d\n",
			l.Address, l.DUID, l.IAID, l.SubnetID, l.PreferredLifetime, l.ValidLifetime, l.T1, l.T2)
	}
	return nil
}

func cmdShow(store leasestore.Store, addrStr string) error {
	addr, err := netip.ParseAddr(addrStr)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	lease, found, err := store.GetByAddress(addr)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("no lease for that address")
		return nil
	}
	fmt.Printf("address:  %s\n", lease.Address)
	fmt.Printf("duid:     %x\n", lease.DUID)
	fmt.Printf("iaid:     %d\n", lease.IAID)
	fmt.Printf("subnet:   %d\n", lease.SubnetID)
	fmt.Printf("preferred:%d\n", lease.PreferredLifetime)
	fmt.Printf("valid:    %d\n", lease.ValidLifetime)
	fmt.Printf("t1/t2:    %d/%d\n", lease.T1, lease.T2)
	fmt.Printf("last tx:  %s\n", lease.ClientLastTxTime)
	return nil
}

func printHelp() {
	fmt.Println("commands: list, show <address>, help, exit")
}
