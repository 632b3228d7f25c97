package runtime

import (
	"fmt"

	"github.com/tos-network/tos-vm/internal/types"
)

// CallFrame is one entry on the invocation stack.
type CallFrame struct {
	// Program is the identity of the program executing in this frame.
	Program types.ProgramID

	// Caller is the stack index of the invoking frame, or -1 for the root.
	Caller int
}

// TransactionContext holds the state that must outlive any single
// invocation: the nested call stack and the return-data slot written by the
// most recent invocation.
//
// Every InvokeContext references (never copies) the TransactionContext of
// its transaction. A transaction owns its context exclusively; it is created
// before the root call and discarded at transaction end.
type TransactionContext struct {
	frames   []CallFrame
	maxDepth int

	// Return data is a single slot, not a stack: a new call's return data
	// replaces the previous one, matching "last return value visible to
	// the immediate caller". It persists across a frame popping within the
	// transaction and is cleared only explicitly by the host.
	returnProgram types.ProgramID
	returnData    []byte
	hasReturnData bool
}

// NewTransactionContext creates an empty transaction context with the given
// maximum invocation depth.
func NewTransactionContext(maxDepth int) *TransactionContext {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &TransactionContext{
		frames:   make([]CallFrame, 0, maxDepth),
		maxDepth: maxDepth,
	}
}

// PushFrame appends an invocation frame for program. The caller index is the
// current top of stack, or -1 for the root frame.
func (tc *TransactionContext) PushFrame(program types.ProgramID) error {
	if len(tc.frames) >= tc.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrStackOverflow, tc.maxDepth)
	}
	tc.frames = append(tc.frames, CallFrame{
		Program: program,
		Caller:  len(tc.frames) - 1,
	})
	return nil
}

// PopFrame removes the top invocation frame. Popping an empty stack is a
// host invariant violation and returns ErrStackUnderflow; it is never
// silently ignored.
func (tc *TransactionContext) PopFrame() error {
	if len(tc.frames) == 0 {
		return ErrStackUnderflow
	}
	tc.frames = tc.frames[:len(tc.frames)-1]
	return nil
}

// Depth returns the current invocation depth.
func (tc *TransactionContext) Depth() int {
	return len(tc.frames)
}

// CurrentProgram returns the identity of the program in the top frame.
// This is the authoritative "who am I" for the active invocation; a nested
// call reports its own identity, not its caller's. The boolean is false
// before the root frame is pushed.
func (tc *TransactionContext) CurrentProgram() (types.ProgramID, bool) {
	if len(tc.frames) == 0 {
		return types.ProgramID{}, false
	}
	return tc.frames[len(tc.frames)-1].Program, true
}

// CallerProgram returns the identity of the invoking program, false for the
// root frame.
func (tc *TransactionContext) CallerProgram() (types.ProgramID, bool) {
	if len(tc.frames) < 2 {
		return types.ProgramID{}, false
	}
	return tc.frames[len(tc.frames)-2].Program, true
}

// OnStack returns true if program currently occupies any frame. Used to
// reject reentrant invocations.
func (tc *TransactionContext) OnStack(program types.ProgramID) bool {
	for i := range tc.frames {
		if tc.frames[i].Program == program {
			return true
		}
	}
	return false
}

// SetReturnData overwrites the return-data slot with the given payload,
// recorded under the identity of the currently executing program. The
// identity is always read from the top frame, never supplied by the caller.
func (tc *TransactionContext) SetReturnData(data []byte, maxLen uint64) error {
	if uint64(len(data)) > maxLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrReturnDataTooLarge, len(data), maxLen)
	}
	program, ok := tc.CurrentProgram()
	if !ok {
		return ErrStackUnderflow
	}
	tc.returnProgram = program
	tc.returnData = append(tc.returnData[:0], data...)
	tc.hasReturnData = true
	return nil
}

// ReturnData returns the identity that wrote the slot and the stored
// payload. An empty slot yields a zero identity, a nil payload and false;
// absence is not a fault.
func (tc *TransactionContext) ReturnData() (types.ProgramID, []byte, bool) {
	if !tc.hasReturnData {
		return types.ProgramID{}, nil, false
	}
	return tc.returnProgram, tc.returnData, true
}

// ClearReturnData empties the return-data slot. The host calls this between
// independent invocations and at transaction boundaries; stale data must
// not leak across transactions but persists across frame pops within one.
func (tc *TransactionContext) ClearReturnData() {
	tc.returnProgram = types.ProgramID{}
	tc.returnData = nil
	tc.hasReturnData = false
}
