package syscall

import (
	"fmt"

	"github.com/tos-network/tos-vm/pkg/runtime"
)

// registerStorage registers the contract-storage syscalls. Keys are
// namespaced by the executing program inside the invocation context; the
// storage provider never sees a raw key.
func (r *Registry) registerStorage(ctx Context) {
	// tos_storage_read(key_ptr, key_len, out_ptr, out_len) - read a value
	// into a guest buffer. Returns the value length in r0, 0 when the key
	// is absent. A buffer smaller than the value is an error, not a
	// truncation: storage reads are expected to be exact.
	r.register(NameStorageRead, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		key, err := vm.Translate(r1, r2, false)
		if err != nil {
			return 0, err
		}
		value, err := ctx.StorageRead(key)
		if err != nil {
			return 0, err
		}
		if value == nil {
			return 0, nil
		}
		valueLen := uint64(len(value))
		if r4 < valueLen {
			return 0, fmt.Errorf("%w: need %d bytes, got %d", runtime.ErrBufferTooSmall, valueLen, r4)
		}
		if err := vm.Write(r3, value); err != nil {
			return 0, err
		}
		return valueLen, nil
	})

	// tos_storage_write(key_ptr, key_len, val_ptr, val_len) - write a value.
	r.register(NameStorageWrite, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		key, err := vm.Translate(r1, r2, false)
		if err != nil {
			return 0, err
		}
		value, err := vm.Translate(r3, r4, false)
		if err != nil {
			return 0, err
		}
		if err := ctx.StorageWrite(key, value); err != nil {
			return 0, err
		}
		return 0, nil
	})

	// tos_storage_delete(key_ptr, key_len) - delete a key. Returns 1 in r0
	// if the key existed, 0 otherwise.
	r.register(NameStorageDelete, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		key, err := vm.Translate(r1, r2, false)
		if err != nil {
			return 0, err
		}
		existed, err := ctx.StorageDelete(key)
		if err != nil {
			return 0, err
		}
		if existed {
			return 1, nil
		}
		return 0, nil
	})
}
