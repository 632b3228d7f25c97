package syscall

import (
	"fmt"

	"github.com/tos-network/tos-vm/pkg/runtime"
)

// registerReturnData registers the return-data syscalls. The slot lives on
// the transaction context, so data set by a nested call remains visible to
// its caller after the nested frame returns.
func (r *Registry) registerReturnData(ctx Context) {
	// tos_set_return_data(data_ptr, data_len) - overwrite the transaction
	// return-data slot. The recorded identity is always the executing
	// program's, taken from the call stack.
	r.register(NameSetReturnData, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if r2 > ctx.Limits().MaxReturnData {
			// Validate before translating so an oversized length fails
			// with the size error even when the guest range is unmapped.
			return 0, fmt.Errorf("%w: %d bytes (max %d)", runtime.ErrReturnDataTooLarge, r2, ctx.Limits().MaxReturnData)
		}
		data, err := vm.Translate(r1, r2, false)
		if err != nil {
			return 0, err
		}
		if err := ctx.SetReturnData(data); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// tos_get_return_data(out_ptr, max_len, program_out_ptr) - copy the
	// slot into a guest buffer. Copies min(max_len, stored) bytes - a
	// short buffer truncates, never errors - and returns the actual
	// stored length in r0 so the caller can detect truncation. An empty
	// slot returns 0 without error.
	r.register(NameGetReturnData, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		program, data, ok, err := ctx.GetReturnData()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}

		actualLen := uint64(len(data))
		copyLen := actualLen
		if r2 < copyLen {
			copyLen = r2
		}
		if copyLen > 0 {
			if err := vm.Write(r1, data[:copyLen]); err != nil {
				return 0, err
			}
			if err := vm.Write(r3, program[:]); err != nil {
				return 0, err
			}
		}
		return actualLen, nil
	})
}
