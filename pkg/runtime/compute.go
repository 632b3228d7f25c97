// Package runtime implements the host-side execution runtime for TOS VM
// programs: compute metering, the per-transaction and per-invocation
// contexts, capability provider interfaces, and the contracts the bytecode
// engine and syscall dispatch table are built against.
//
// The runtime is strictly single-threaded per transaction: one invocation
// executes to completion before the next syscall is dispatched, and no two
// invocations share a TransactionContext concurrently. Concurrency exists
// only at the level of the host processing independent transactions.
package runtime

import "math"

// Default compute budget limits.
const (
	// CUDefault is the default compute unit limit per invocation.
	CUDefault = uint64(200_000)

	// CUMax is the maximum compute unit limit per transaction.
	CUMax = uint64(1_400_000)
)

// ComputeMeter tracks compute unit consumption for one transaction.
//
// The meter is shared by every invocation frame of the transaction and by
// the bytecode engine itself (instruction costs and syscall costs draw from
// the same budget). It is mutated only from the single goroutine executing
// the transaction.
type ComputeMeter struct {
	remaining uint64
	limit     uint64
}

// NewComputeMeter creates a compute meter with the given limit.
// Limits above CUMax are clamped.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume cost compute units. The charge is atomic:
// either the full amount is subtracted or, on ErrOutOfBudget, the meter is
// left exactly as it was. Budget exhaustion is a hard failure for the
// current invocation; callers must not retry at a lower cost.
func (cm *ComputeMeter) Consume(cost uint64) error {
	if cm.remaining < cost {
		return ErrOutOfBudget
	}
	cm.remaining -= cost
	return nil
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return cm.remaining
}

// Consumed returns the compute units consumed so far.
func (cm *ComputeMeter) Consumed() uint64 {
	return cm.limit - cm.remaining
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}

// IsExhausted returns true if no compute units remain.
func (cm *ComputeMeter) IsExhausted() bool {
	return cm.remaining == 0
}

// CostTable holds the compute cost of every chargeable operation.
//
// Costs are a configuration surface: the defaults below carry the
// provisional, unbenchmarked numbers from the reference chain parameters
// and hosts may override any of them per network.
type CostTable struct {
	// LogBase and LogPerByte price the tos_log syscall.
	LogBase    uint64
	LogPerByte uint64

	// ChainQuery prices block/transaction fact queries.
	ChainQuery uint64

	// BalanceQuery and Transfer price account operations.
	BalanceQuery uint64
	Transfer     uint64

	// Storage operation costs. Writes carry a higher base and per-byte
	// multiplier than reads, reflecting asymmetric backend cost.
	StorageReadBase    uint64
	StorageReadPerByte uint64
	StorageWriteBase   uint64
	StorageWritePerByte uint64
	StorageDelete      uint64

	// Return data costs. Get is flat: the payload is bounded by
	// MaxReturnData so no per-byte term is needed.
	ReturnDataSetBase    uint64
	ReturnDataSetPerByte uint64
	ReturnDataGet        uint64

	// Memory operation costs (tos_memcpy and friends).
	MemOpBase    uint64
	MemOpPerByte uint64

	// Hash syscall costs (sha256, keccak256, blake3).
	HashBase    uint64
	HashPerByte uint64

	// Invoke prices cross-program invocation.
	InvokeBase    uint64
	InvokePerByte uint64

	// SyscallBase is the floor cost for syscalls with no specific entry.
	SyscallBase uint64
}

// DefaultCostTable returns the default cost table.
func DefaultCostTable() *CostTable {
	return &CostTable{
		LogBase:              100,
		LogPerByte:           1,
		ChainQuery:           50,
		BalanceQuery:         100,
		Transfer:             500,
		StorageReadBase:      200,
		StorageReadPerByte:   1,
		StorageWriteBase:     500,
		StorageWritePerByte:  2,
		StorageDelete:        300,
		ReturnDataSetBase:    100,
		ReturnDataSetPerByte: 1,
		ReturnDataGet:        50,
		MemOpBase:            10,
		MemOpPerByte:         1,
		HashBase:             85,
		HashPerByte:          1,
		InvokeBase:           1000,
		InvokePerByte:        1,
		SyscallBase:          100,
	}
}

// LinearCost computes base + perByte*n with saturating arithmetic. An
// overflowing cost calculation degrades to the maximum cost, which exhausts
// the budget; it never wraps to a small number.
func LinearCost(base, perByte, n uint64) uint64 {
	if perByte != 0 && n > math.MaxUint64/perByte {
		return math.MaxUint64
	}
	scaled := perByte * n
	if base > math.MaxUint64-scaled {
		return math.MaxUint64
	}
	return base + scaled
}

// Limits holds the size and depth limits enforced on every invocation.
//
// MaxReturnData, MaxKeySize and MaxValueSize are consensus-relevant and must
// be enforced identically on every node.
type Limits struct {
	// MaxReturnData is the maximum return data payload in bytes.
	MaxReturnData uint64

	// MaxKeySize is the maximum storage key size in bytes.
	MaxKeySize uint64

	// MaxValueSize is the maximum storage value size in bytes.
	MaxValueSize uint64

	// MaxLogMessage is the maximum log message length in bytes.
	MaxLogMessage uint64

	// MaxInvokeDepth is the maximum invocation stack depth, root included.
	MaxInvokeDepth int

	// MaxInvokeData is the maximum cross-program invocation payload.
	MaxInvokeData uint64
}

// DefaultLimits returns the default limits.
func DefaultLimits() *Limits {
	return &Limits{
		MaxReturnData:  1024,
		MaxKeySize:     256,
		MaxValueSize:   65_536,
		MaxLogMessage:  10_000,
		MaxInvokeDepth: 8,
		MaxInvokeData:  10_240,
	}
}
