package syscall

import (
	"bytes"
	"fmt"

	"github.com/tos-network/tos-vm/pkg/runtime"
)

// registerMemOps registers the guest memory manipulation syscalls.
func (r *Registry) registerMemOps(ctx Context) {
	chargeMemOp := func(n uint64) error {
		if n > MaxMemOpSize {
			return fmt.Errorf("%w: mem op %d bytes (max %d)", ErrInvalidArgument, n, uint64(MaxMemOpSize))
		}
		costs := ctx.Costs()
		return ctx.ConsumeCU(runtime.LinearCost(costs.MemOpBase, costs.MemOpPerByte, n))
	}

	// tos_memcpy(dst, src, n) - copy guest memory. Overlapping ranges are
	// handled the same as tos_memmove: the source is read in full before
	// the destination is written.
	copyFn := func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		dst, src, n := r1, r2, r3
		if n == 0 {
			return 0, nil
		}
		if err := chargeMemOp(n); err != nil {
			return 0, err
		}
		data := make([]byte, n)
		if err := vm.Read(src, data); err != nil {
			return 0, err
		}
		if err := vm.Write(dst, data); err != nil {
			return 0, err
		}
		return 0, nil
	}
	r.register(NameMemcpy, copyFn)
	r.register(NameMemmove, copyFn)

	// tos_memset(dst, val, n) - fill guest memory with a byte value.
	r.register(NameMemset, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		dst, val, n := r1, uint8(r2), r3
		if n == 0 {
			return 0, nil
		}
		if err := chargeMemOp(n); err != nil {
			return 0, err
		}
		mem, err := vm.Translate(dst, n, true)
		if err != nil {
			return 0, err
		}
		for i := range mem {
			mem[i] = val
		}
		return 0, nil
	})

	// tos_memcmp(a, b, n, result_ptr) - compare guest memory. Writes the
	// signed comparison result as a 32-bit value at result_ptr.
	r.register(NameMemcmp, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		a, b, n, resultAddr := r1, r2, r3, r4

		// Zero-length compares are free, like the other mem ops; the
		// result write still happens.
		var result int32
		if n > 0 {
			if err := chargeMemOp(n); err != nil {
				return 0, err
			}
			memA, err := vm.Translate(a, n, false)
			if err != nil {
				return 0, err
			}
			memB, err := vm.Translate(b, n, false)
			if err != nil {
				return 0, err
			}
			if i := firstDiff(memA, memB); i >= 0 {
				result = int32(memA[i]) - int32(memB[i])
			}
		}

		if err := vm.Write32(resultAddr, uint32(result)); err != nil {
			return 0, err
		}
		return 0, nil
	})
}

// firstDiff returns the index of the first differing byte, or -1 if equal.
func firstDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
