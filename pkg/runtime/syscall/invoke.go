package syscall

import (
	"fmt"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
)

// Invoker executes a nested cross-program invocation on behalf of a
// syscall. The executor implements it: a nested frame shares the caller's
// transaction context and compute meter, nests strictly LIFO, and is
// subject to the depth cap and the re-entrancy policy (a program already on
// the call stack cannot be invoked again).
type Invoker interface {
	// InvokeProgram runs the target program's entry point with the given
	// input and returns its exit code. Host-side invocation failures
	// (unknown program, depth, re-entrancy) are returned as errors and
	// terminate the calling invocation; a nested guest failure is
	// reported through the exit code instead so the caller can react.
	InvokeProgram(program types.ProgramID, input []byte) (uint64, error)
}

// AddInvoke registers the cross-program invocation syscall. It is separate
// from NewRegistry because only full executor setups can supply an Invoker.
func AddInvoke(r *Registry, ctx Context, invoker Invoker) {
	// tos_invoke(program_id_ptr, data_ptr, data_len) - invoke another
	// program within the same transaction. The nested exit code is
	// returned in r0; 0 means the callee succeeded. Return data written
	// by the callee is visible through tos_get_return_data after this
	// syscall returns.
	r.register(NameInvoke, func(vm runtime.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
		if r3 > ctx.Limits().MaxInvokeData {
			return 0, fmt.Errorf("%w: invoke data %d bytes (max %d)", ErrInvalidArgument, r3, ctx.Limits().MaxInvokeData)
		}

		costs := ctx.Costs()
		cost := runtime.LinearCost(costs.InvokeBase, costs.InvokePerByte, r3)
		if err := ctx.ConsumeCU(cost); err != nil {
			return 0, err
		}

		var program types.ProgramID
		if err := vm.Read(r1, program[:]); err != nil {
			return 0, err
		}

		// Copy the input out of guest memory: the callee's execution must
		// not alias the caller's address space.
		input := make([]byte, r3)
		if r3 > 0 {
			if err := vm.Read(r2, input); err != nil {
				return 0, err
			}
		}

		return invoker.InvokeProgram(program, input)
	})
}
