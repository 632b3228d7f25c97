// Package ledger provides the BadgerDB-backed capability providers: account
// balances and per-program contract storage behind the runtime's
// StorageProvider and AccountProvider interfaces.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
)

// Key prefixes. Prefixes allow efficient iteration over one data type.
var (
	// prefixBalance is the prefix for account balances.
	// Key format: prefixBalance + address (32 bytes); value: u64 LE.
	prefixBalance = []byte{0x01}

	// prefixStorage is the prefix for contract storage.
	// Key format: prefixStorage + program id (32 bytes) + raw key. The
	// program id segment is what isolates keyspaces per program.
	prefixStorage = []byte{0x02}
)

// ErrClosed is returned for operations on a closed ledger.
var ErrClosed = errors.New("ledger is closed")

// ErrBalanceOverflow is returned when a credit would wrap an account
// balance past the uint64 range.
var ErrBalanceOverflow = errors.New("balance overflow")

// Config contains configuration for the ledger database.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	// Setting to false improves performance but risks data loss on crash.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables logging.
	Logger badger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: false,
		Logger:     nil,
	}
}

// Ledger is a BadgerDB-backed chain state store. It implements both
// runtime.StorageProvider and runtime.AccountProvider, so a single Ledger
// backs every capability of an execution.
//
// Provider calls are deterministic: results depend only on the stored state
// and the call arguments.
type Ledger struct {
	db     *badger.DB
	closed atomic.Bool
}

// Open opens a ledger database.
func Open(cfg Config) (*Ledger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.closed.Swap(true) {
		return ErrClosed
	}
	return l.db.Close()
}

// balanceKey returns the database key for an account balance.
func balanceKey(addr types.Address) []byte {
	key := make([]byte, 1+32)
	key[0] = prefixBalance[0]
	copy(key[1:], addr[:])
	return key
}

// storageKey returns the database key for a contract storage entry.
func storageKey(program types.ProgramID, key []byte) []byte {
	k := make([]byte, 1+32+len(key))
	k[0] = prefixStorage[0]
	copy(k[1:], program[:])
	copy(k[33:], key)
	return k
}

// Get implements runtime.StorageProvider. A missing key returns (nil, nil).
func (l *Ledger) Get(program types.ProgramID, key []byte) ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	var value []byte
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(program, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set implements runtime.StorageProvider.
func (l *Ledger) Set(program types.ProgramID, key, value []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey(program, key), value)
	})
}

// Delete implements runtime.StorageProvider, reporting whether the key
// existed.
func (l *Ledger) Delete(program types.ProgramID, key []byte) (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}

	existed := false
	err := l.db.Update(func(txn *badger.Txn) error {
		k := storageKey(program, key)
		_, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(k)
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// GetBalance implements runtime.AccountProvider. Unknown accounts read as
// zero.
func (l *Ledger) GetBalance(addr types.Address) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	var balance uint64
	err := l.db.View(func(txn *badger.Txn) error {
		b, err := readBalance(txn, addr)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Transfer implements runtime.AccountProvider. The debit and credit happen
// in one database transaction: a crash or conflict leaves both balances
// untouched.
func (l *Ledger) Transfer(from, to types.Address, amount uint64) error {
	if l.closed.Load() {
		return ErrClosed
	}

	return l.db.Update(func(txn *badger.Txn) error {
		fromBalance, err := readBalance(txn, from)
		if err != nil {
			return err
		}
		if fromBalance < amount {
			return fmt.Errorf("%w: have %d, need %d", runtime.ErrInsufficientBalance, fromBalance, amount)
		}
		// Self-transfer: both balance reads would see the pre-debit value,
		// so the credit below would overwrite the debit. The balance check
		// above still applies; the net effect is zero.
		if from == to {
			return nil
		}
		toBalance, err := readBalance(txn, to)
		if err != nil {
			return err
		}
		if toBalance > math.MaxUint64-amount {
			return fmt.Errorf("%w: balance %d + %d", ErrBalanceOverflow, toBalance, amount)
		}
		if err := writeBalance(txn, from, fromBalance-amount); err != nil {
			return err
		}
		return writeBalance(txn, to, toBalance+amount)
	})
}

// Credit adds amount to an account. This is the host-side mint/funding
// operation; guest programs can only move funds via Transfer.
func (l *Ledger) Credit(addr types.Address, amount uint64) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.db.Update(func(txn *badger.Txn) error {
		balance, err := readBalance(txn, addr)
		if err != nil {
			return err
		}
		if balance > math.MaxUint64-amount {
			return fmt.Errorf("%w: balance %d + %d", ErrBalanceOverflow, balance, amount)
		}
		return writeBalance(txn, addr, balance+amount)
	})
}

// IterateStorage walks a program's storage entries in sorted key order.
// Return an error from the callback to stop iteration.
func (l *Ledger) IterateStorage(program types.ProgramID, fn func(key, value []byte) error) error {
	if l.closed.Load() {
		return ErrClosed
	}

	prefix := storageKey(program, nil)
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()[len(prefix):]
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func readBalance(txn *badger.Txn, addr types.Address) (uint64, error) {
	item, err := txn.Get(balanceKey(addr))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var balance uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed balance record: %d bytes", len(val))
		}
		balance = binary.LittleEndian.Uint64(val)
		return nil
	})
	return balance, err
}

func writeBalance(txn *badger.Txn, addr types.Address, balance uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], balance)
	return txn.Set(balanceKey(addr), buf[:])
}

// Verify interface compliance.
var (
	_ runtime.StorageProvider = (*Ledger)(nil)
	_ runtime.AccountProvider = (*Ledger)(nil)
)
