// tos-vm: management tool for the TOS VM host runtime.
//
// The tool operates on the on-disk state an embedding host executes
// against: the deployed-program store and the chain-state ledger. Program
// execution itself needs a bytecode engine and happens inside the host
// process; see pkg/runtime/executor.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/ledger"
	"github.com/tos-network/tos-vm/pkg/programstore"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir     = flag.String("data-dir", "tos-vm-data", "Data directory for the program store and ledger")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const usage = `Usage: tos-vm [flags] <command> [args]

Commands:
  deploy <file>            Deploy program bytecode, print its id
  list                     List deployed program ids
  remove <program-id>      Remove a deployed program
  balance <address>        Print an account balance
  credit <address> <amt>   Credit an account (host-side funding)
  storage <program-id>     Dump a program's contract storage

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("tos-vm %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(0)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(cmd, args); err != nil {
		log.Fatalf("tos-vm %s: %v", cmd, err)
	}
}

func run(cmd string, args []string) error {
	switch cmd {
	case "deploy":
		if len(args) != 1 {
			return fmt.Errorf("usage: deploy <file>")
		}
		return cmdDeploy(args[0])
	case "list":
		return cmdList()
	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove <program-id>")
		}
		return cmdRemove(args[0])
	case "balance":
		if len(args) != 1 {
			return fmt.Errorf("usage: balance <address>")
		}
		return cmdBalance(args[0])
	case "credit":
		if len(args) != 2 {
			return fmt.Errorf("usage: credit <address> <amount>")
		}
		return cmdCredit(args[0], args[1])
	case "storage":
		if len(args) != 1 {
			return fmt.Errorf("usage: storage <program-id>")
		}
		return cmdStorage(args[0])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func openStore() (*programstore.Store, error) {
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return nil, err
	}
	return programstore.Open(programstore.DefaultConfig(filepath.Join(*dataDir, "programs.db")))
}

func openLedger() (*ledger.Ledger, error) {
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return nil, err
	}
	return ledger.Open(ledger.DefaultConfig(filepath.Join(*dataDir, "ledger")))
}

func cmdDeploy(path string) error {
	bytecode, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Deploy(bytecode)
	if err != nil {
		return err
	}
	fmt.Printf("deployed %s (%d bytes)\n", id, len(bytecode))
	return nil
}

func cmdList() error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func cmdRemove(arg string) error {
	id, err := types.ProgramIDFromBase58(arg)
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	existed, err := store.Remove(id)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("program %s is not deployed", id)
	}
	fmt.Printf("removed %s\n", id)
	return nil
}

func cmdBalance(arg string) error {
	addr, err := types.AddressFromBase58(arg)
	if err != nil {
		return err
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	balance, err := l.GetBalance(addr)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d\n", addr, balance)
	return nil
}

func cmdCredit(addrArg, amountArg string) error {
	addr, err := types.AddressFromBase58(addrArg)
	if err != nil {
		return err
	}
	amount, err := strconv.ParseUint(amountArg, 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", amountArg, err)
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.Credit(addr, amount); err != nil {
		return err
	}
	balance, err := l.GetBalance(addr)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d\n", addr, balance)
	return nil
}

func cmdStorage(arg string) error {
	id, err := types.ProgramIDFromBase58(arg)
	if err != nil {
		return err
	}

	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	count := 0
	err = l.IterateStorage(id, func(key, value []byte) error {
		count++
		fmt.Printf("%x = %x\n", key, value)
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Printf("program %s has no storage entries\n", id)
	}
	return nil
}
