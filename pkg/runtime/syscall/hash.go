package syscall

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/tos-network/tos-vm/pkg/runtime"
)

// registerHash registers the deterministic hash syscalls. All three share
// the same ABI: r1 points to a vector of (ptr, len) pairs, r2 is the number
// of pairs, r3 points to the 32-byte result buffer.
func (r *Registry) registerHash(ctx Context) {
	r.register(NameSha256, r.hashSyscall(ctx, func() hash.Hash { return sha256.New() }))
	r.register(NameKeccak256, r.hashSyscall(ctx, sha3.NewLegacyKeccak256))
	r.register(NameBlake3, r.hashSyscall(ctx, func() hash.Hash { return blake3.New() }))
}

// hashSyscall builds a syscall body hashing a vector of guest slices.
func (r *Registry) hashSyscall(ctx Context, newHash func() hash.Hash) runtime.SyscallFunc {
	return func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		numSlices, resultAddr := r2, r3
		if numSlices > MaxHashSlices {
			return 0, fmt.Errorf("%w: %d slices (max %d)", ErrTooManySlices, numSlices, uint64(MaxHashSlices))
		}

		costs := ctx.Costs()
		if err := ctx.ConsumeCU(costs.HashBase); err != nil {
			return 0, err
		}

		h := newHash()
		for i := uint64(0); i < numSlices; i++ {
			ptr, err := vm.Read64(r1 + i*16)
			if err != nil {
				return 0, err
			}
			length, err := vm.Read64(r1 + i*16 + 8)
			if err != nil {
				return 0, err
			}
			if length > MaxMemOpSize {
				return 0, fmt.Errorf("%w: hash input %d bytes (max %d)", ErrInvalidArgument, length, uint64(MaxMemOpSize))
			}
			if err := ctx.ConsumeCU(runtime.LinearCost(0, costs.HashPerByte, length)); err != nil {
				return 0, err
			}
			data, err := vm.Translate(ptr, length, false)
			if err != nil {
				return 0, err
			}
			h.Write(data)
		}

		result := make([]byte, 0, 32)
		result = h.Sum(result)
		if err := vm.Write(resultAddr, result[:32]); err != nil {
			return 0, err
		}
		return 0, nil
	}
}
