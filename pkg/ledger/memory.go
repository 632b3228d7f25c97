package ledger

import (
	"fmt"
	"math"
	"sync"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
)

// MemoryLedger is a map-backed ledger for tests and tooling. It implements
// the same provider interfaces as Ledger without touching disk.
type MemoryLedger struct {
	mu       sync.RWMutex
	storage  map[string][]byte
	balances map[types.Address]uint64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		storage:  make(map[string][]byte),
		balances: make(map[types.Address]uint64),
	}
}

func memKey(program types.ProgramID, key []byte) string {
	return string(program[:]) + string(key)
}

// Get implements runtime.StorageProvider.
func (m *MemoryLedger) Get(program types.ProgramID, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.storage[memKey(program, key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// Set implements runtime.StorageProvider.
func (m *MemoryLedger) Set(program types.ProgramID, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.storage[memKey(program, key)] = append([]byte(nil), value...)
	return nil
}

// Delete implements runtime.StorageProvider.
func (m *MemoryLedger) Delete(program types.ProgramID, key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(program, key)
	_, ok := m.storage[k]
	delete(m.storage, k)
	return ok, nil
}

// GetBalance implements runtime.AccountProvider.
func (m *MemoryLedger) GetBalance(addr types.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[addr], nil
}

// Transfer implements runtime.AccountProvider.
func (m *MemoryLedger) Transfer(from, to types.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[from] < amount {
		return fmt.Errorf("%w: have %d, need %d", runtime.ErrInsufficientBalance, m.balances[from], amount)
	}
	if from == to {
		return nil
	}
	if m.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance %d + %d", ErrBalanceOverflow, m.balances[to], amount)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

// Credit adds amount to an account.
func (m *MemoryLedger) Credit(addr types.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[addr] > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance %d + %d", ErrBalanceOverflow, m.balances[addr], amount)
	}
	m.balances[addr] += amount
	return nil
}

// Verify interface compliance.
var (
	_ runtime.StorageProvider = (*MemoryLedger)(nil)
	_ runtime.AccountProvider = (*MemoryLedger)(nil)
)
