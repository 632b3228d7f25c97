// Package syscall implements the TOS VM syscall dispatch table.
//
// Syscalls are host functions callable from guest programs. Each syscall is
// identified by the murmur3 hash of its name, receives five 64-bit word
// arguments from registers r1-r5 plus access to guest memory, and returns a
// single word in r0 (0 meaning success for boolean-style syscalls). Every
// syscall charges the compute meter before any externally observable side
// effect.
//
// A Registry is built once per execution setup and handed to the engine by
// reference; it is never a process-wide singleton.
package syscall

import (
	"errors"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
)

// Syscall input validation errors.
var (
	ErrInvalidArgument = errors.New("invalid syscall argument")
	ErrTooManySlices   = errors.New("too many data slices")
	ErrAborted         = errors.New("program aborted")
)

// Limits local to syscall argument handling.
const (
	// MaxMemOpSize bounds a single memory operation.
	MaxMemOpSize = 10 * 1024 * 1024

	// MaxHashSlices bounds the slice vector accepted by hash syscalls.
	MaxHashSlices = 100
)

// Syscall names.
const (
	NameLog            = "tos_log"
	NameGetBlockHash   = "tos_get_block_hash"
	NameGetBlockHeight = "tos_get_block_height"
	NameGetTxHash      = "tos_get_tx_hash"
	NameGetTxSender    = "tos_get_tx_sender"
	NameGetProgramID   = "tos_get_program_id"
	NameGetBalance     = "tos_get_balance"
	NameTransfer       = "tos_transfer"
	NameStorageRead    = "tos_storage_read"
	NameStorageWrite   = "tos_storage_write"
	NameStorageDelete  = "tos_storage_delete"
	NameSetReturnData  = "tos_set_return_data"
	NameGetReturnData  = "tos_get_return_data"
	NameInvoke         = "tos_invoke"
	NameGetStackHeight = "tos_get_stack_height"
	NameMemcpy         = "tos_memcpy"
	NameMemmove        = "tos_memmove"
	NameMemset         = "tos_memset"
	NameMemcmp         = "tos_memcmp"
	NameSha256         = "tos_sha256"
	NameKeccak256      = "tos_keccak256"
	NameBlake3         = "tos_blake3"
	NameAbort          = "abort"
	NamePanic          = "tos_panic"
)

// Context is what syscall bodies need from the invocation context. It is
// implemented by *runtime.InvokeContext.
type Context interface {
	// Compute metering.
	ConsumeCU(cost uint64) error
	RemainingCU() uint64
	Costs() *runtime.CostTable
	Limits() *runtime.Limits

	// Identity and chain facts.
	ProgramID() types.ProgramID
	StackHeight() int
	BlockHash() types.Hash
	BlockHeight() uint64
	TxHash() types.Hash
	TxSender() types.Address

	// Capability operations. Each charges before its effect.
	LogMessage(msg []byte) error
	GetBalance(addr types.Address) (uint64, error)
	Transfer(to types.Address, amount uint64) error
	StorageRead(key []byte) ([]byte, error)
	StorageWrite(key, value []byte) error
	StorageDelete(key []byte) (bool, error)
	SetReturnData(data []byte) error
	GetReturnData() (types.ProgramID, []byte, bool, error)
}

// Registry holds the registered syscalls for one execution setup.
type Registry struct {
	syscalls map[uint32]runtime.Syscall
}

// NewRegistry creates a registry with the standard syscall set. CPI
// syscalls require an Invoker and are added separately via AddInvoke.
func NewRegistry(ctx Context) *Registry {
	r := &Registry{
		syscalls: make(map[uint32]runtime.Syscall),
	}

	r.registerLogging(ctx)
	r.registerChainFacts(ctx)
	r.registerBalance(ctx)
	r.registerStorage(ctx)
	r.registerReturnData(ctx)
	r.registerMemOps(ctx)
	r.registerHash(ctx)

	return r
}

// Get returns a syscall by its name hash.
func (r *Registry) Get(hash uint32) (runtime.Syscall, bool) {
	sc, ok := r.syscalls[hash]
	return sc, ok
}

// Lookup returns the registry lookup function handed to the engine.
func (r *Registry) Lookup() runtime.SyscallRegistry {
	return func(hash uint32) (runtime.Syscall, bool) {
		return r.Get(hash)
	}
}

// register adds a syscall under the murmur3 hash of its name.
func (r *Registry) register(name string, fn runtime.SyscallFunc) {
	r.syscalls[Hash(name)] = fn
}

// registerLogging registers tos_log and the abort/panic terminators.
func (r *Registry) registerLogging(ctx Context) {
	// tos_log(msg_ptr, msg_len) - log a UTF-8 message. Output reaches the
	// host only in debug mode; the syscall succeeds either way so logging
	// can never be consensus-relevant.
	r.register(NameLog, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		msg, err := vm.Translate(r1, r2, false)
		if err != nil {
			return 0, err
		}
		if err := ctx.LogMessage(msg); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// abort() - terminate execution unconditionally.
	r.register(NameAbort, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		return 0, ErrAborted
	})

	// tos_panic(file_ptr, file_len, line, col) - panic with source location.
	r.register(NamePanic, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		fileLen := r2
		if fileLen > 256 {
			fileLen = 256
		}
		file := make([]byte, fileLen)
		if err := vm.Read(r1, file); err != nil {
			return 0, ErrAborted
		}
		return 0, errors.New("program panicked at " + string(file))
	})
}

// registerChainFacts registers the block/transaction fact queries. Each
// charges a small fixed cost and copies a fixed-size value into a guest
// buffer through the translator.
func (r *Registry) registerChainFacts(ctx Context) {
	// tos_get_block_hash(out_ptr) - copy the 32-byte block hash.
	r.register(NameGetBlockHash, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if err := ctx.ConsumeCU(ctx.Costs().ChainQuery); err != nil {
			return 0, err
		}
		h := ctx.BlockHash()
		if err := vm.Write(r1, h[:]); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// tos_get_block_height() - return the block height in r0.
	r.register(NameGetBlockHeight, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if err := ctx.ConsumeCU(ctx.Costs().ChainQuery); err != nil {
			return 0, err
		}
		return ctx.BlockHeight(), nil
	})

	// tos_get_tx_hash(out_ptr) - copy the 32-byte transaction hash.
	r.register(NameGetTxHash, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if err := ctx.ConsumeCU(ctx.Costs().ChainQuery); err != nil {
			return 0, err
		}
		h := ctx.TxHash()
		if err := vm.Write(r1, h[:]); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// tos_get_tx_sender(out_ptr) - copy the 32-byte sender address.
	r.register(NameGetTxSender, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if err := ctx.ConsumeCU(ctx.Costs().ChainQuery); err != nil {
			return 0, err
		}
		a := ctx.TxSender()
		if err := vm.Write(r1, a[:]); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// tos_get_program_id(out_ptr) - copy the executing program's identity.
	r.register(NameGetProgramID, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if err := ctx.ConsumeCU(ctx.Costs().ChainQuery); err != nil {
			return 0, err
		}
		id := ctx.ProgramID()
		if err := vm.Write(r1, id[:]); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// tos_get_stack_height() - return the current invocation depth.
	r.register(NameGetStackHeight, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if err := ctx.ConsumeCU(ctx.Costs().SyscallBase); err != nil {
			return 0, err
		}
		return uint64(ctx.StackHeight()), nil
	})
}
