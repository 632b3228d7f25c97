package runtime

import (
	"errors"
	"fmt"
)

// Runtime errors. Every failure surfaces as one of these sentinels (possibly
// wrapped with context via fmt.Errorf %w) all the way to the invocation
// boundary; nothing is recovered silently inside the runtime.
var (
	// ErrOutOfBudget is returned when a charge would exceed the remaining
	// compute budget. It terminates the current invocation.
	ErrOutOfBudget = errors.New("compute budget exceeded")

	// ErrReturnDataTooLarge is returned when return data exceeds MaxReturnData.
	ErrReturnDataTooLarge = errors.New("return data too large")

	// ErrStackOverflow is returned when pushing a call frame beyond the
	// maximum invocation depth.
	ErrStackOverflow = errors.New("invocation stack overflow")

	// ErrStackUnderflow is returned when popping an empty call stack.
	// This indicates a host bug, never guest behavior, and is fatal.
	ErrStackUnderflow = errors.New("invocation stack underflow")

	// ErrReentrancy is returned when a program is invoked while already
	// present on the call stack.
	ErrReentrancy = errors.New("reentrant invocation rejected")

	// ErrInvalidUTF8 is returned when a log message is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8 string")

	// ErrInvalidParameter is returned for malformed syscall input.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrKeyTooLarge is returned when a storage key exceeds MaxKeySize.
	ErrKeyTooLarge = errors.New("storage key too large")

	// ErrValueTooLarge is returned when a storage value exceeds MaxValueSize.
	ErrValueTooLarge = errors.New("storage value too large")

	// ErrMessageTooLarge is returned when a log message exceeds MaxLogMessage.
	ErrMessageTooLarge = errors.New("log message too large")

	// ErrBufferTooSmall is returned when a guest output buffer cannot hold
	// a storage value.
	ErrBufferTooSmall = errors.New("output buffer too small")

	// ErrInsufficientBalance is returned by account providers when a
	// transfer exceeds the source balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownSyscall is returned when a program calls an unregistered
	// syscall.
	ErrUnknownSyscall = errors.New("unknown syscall")

	// ErrUnknownEntry is returned when the requested entry symbol is not
	// exported by the program.
	ErrUnknownEntry = errors.New("unknown entry symbol")

	// ErrProgramNotFound is returned when invoking an undeployed program.
	ErrProgramNotFound = errors.New("program not found")
)

// ProviderError wraps a failure from a capability provider (storage or
// accounts). The runtime never treats provider failures as fatal to the
// transaction; the host decides via the exit code.
type ProviderError struct {
	// Op is the provider operation that failed ("storage get", "transfer", ...).
	Op string

	// Err is the underlying provider error.
	Err error
}

// Error implements error.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
