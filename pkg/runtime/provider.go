package runtime

import "github.com/tos-network/tos-vm/internal/types"

// StorageProvider is the contract-storage capability supplied by the host.
//
// The provider never sees a raw key without its program namespace: the
// runtime passes the owning program's identity with every call and the
// provider must isolate keyspaces per program. Implementations must be
// deterministic (no wall-clock reads, no randomness) and safe to call
// repeatedly within one invocation.
type StorageProvider interface {
	// Get reads a value. A missing key returns (nil, nil).
	Get(program types.ProgramID, key []byte) ([]byte, error)

	// Set writes a value.
	Set(program types.ProgramID, key, value []byte) error

	// Delete removes a key, reporting whether it existed.
	Delete(program types.ProgramID, key []byte) (bool, error)
}

// AccountProvider is the balance/transfer capability supplied by the host.
//
// Transfers sourced from a program are initiated by the runtime with the
// program's identity as the from address; the provider must return
// ErrInsufficientBalance (possibly wrapped) when the source balance is too
// low. Implementations must be deterministic.
type AccountProvider interface {
	// GetBalance returns the balance of an account in smallest units.
	GetBalance(addr types.Address) (uint64, error)

	// Transfer moves amount from one account to another.
	Transfer(from, to types.Address, amount uint64) error
}

// NoOpStorage is a storage provider that stores nothing. Useful for unit
// tests and benchmarking executions that never touch storage.
type NoOpStorage struct{}

// Get implements StorageProvider.
func (NoOpStorage) Get(types.ProgramID, []byte) ([]byte, error) { return nil, nil }

// Set implements StorageProvider.
func (NoOpStorage) Set(types.ProgramID, []byte, []byte) error { return nil }

// Delete implements StorageProvider.
func (NoOpStorage) Delete(types.ProgramID, []byte) (bool, error) { return false, nil }

// NoOpAccounts is an account provider with no balances. Every balance reads
// zero and every transfer succeeds.
type NoOpAccounts struct{}

// GetBalance implements AccountProvider.
func (NoOpAccounts) GetBalance(types.Address) (uint64, error) { return 0, nil }

// Transfer implements AccountProvider.
func (NoOpAccounts) Transfer(types.Address, types.Address, uint64) error { return nil }
