package syscall

import (
	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
)

// registerBalance registers the account balance and transfer syscalls.
func (r *Registry) registerBalance(ctx Context) {
	// tos_get_balance(addr_ptr) - return the balance of an account in r0.
	r.register(NameGetBalance, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		var addr types.Address
		if err := vm.Read(r1, addr[:]); err != nil {
			return 0, err
		}
		return ctx.GetBalance(addr)
	})

	// tos_transfer(to_ptr, amount) - transfer from the executing program's
	// account to the recipient. The source is always the current program;
	// a zero amount and insufficient balance are typed errors.
	r.register(NameTransfer, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		var to types.Address
		if err := vm.Read(r1, to[:]); err != nil {
			return 0, err
		}
		if err := ctx.Transfer(to, r2); err != nil {
			return 0, err
		}
		return 0, nil
	})
}
