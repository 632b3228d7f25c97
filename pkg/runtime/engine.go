package runtime

// Engine and syscall contracts. The bytecode interpreter/verifier is an
// external collaborator: the runtime only needs to load a verified binary,
// enumerate its entry symbols, and execute an entry against a syscall
// registry and a shared compute meter.

// EntrySymbol is the conventional entry point exported by TOS programs.
const EntrySymbol = "entrypoint"

// VM is the view of a running guest exposed to syscall handlers: address
// translation and bounds-checked memory access. Slices returned by Translate
// alias guest memory and must not be retained across syscall invocations.
type VM interface {
	// Translate converts a guest virtual address range into a host slice.
	Translate(addr, size uint64, write bool) ([]byte, error)

	// Byte-slice access.
	Read(addr uint64, p []byte) error
	Write(addr uint64, p []byte) error

	// Fixed-width scalar access, little-endian, alignment-checked.
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, x uint8) error
	Write16(addr uint64, x uint16) error
	Write32(addr uint64, x uint32) error
	Write64(addr uint64, x uint64) error
}

// Syscall is a host function callable from guest programs. Arguments arrive
// in registers r1-r5; the return value is placed in r0, with 0 meaning
// success for boolean-style syscalls.
type Syscall interface {
	Invoke(vm VM, r1, r2, r3, r4, r5 uint64) (uint64, error)
}

// SyscallFunc adapts a function to the Syscall interface.
type SyscallFunc func(vm VM, r1, r2, r3, r4, r5 uint64) (uint64, error)

// Invoke implements Syscall.
func (f SyscallFunc) Invoke(vm VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
	return f(vm, r1, r2, r3, r4, r5)
}

// SyscallRegistry resolves a syscall hash to its implementation. Lookups
// are O(1); the registry is built once per execution setup and passed to
// the engine by reference, never held as a process-wide singleton.
type SyscallRegistry func(hash uint32) (Syscall, bool)

// ExecEnv is the environment the runtime hands to the engine for one
// invocation frame.
type ExecEnv struct {
	// Input is the guest-visible input segment (read-only to the guest).
	Input []byte

	// Syscalls resolves syscall hashes during execution.
	Syscalls SyscallRegistry

	// Meter is the shared transaction compute meter. The engine charges
	// instruction costs against it and must stop with ErrOutOfBudget when
	// it is exhausted; metering is the only cancellation mechanism.
	Meter *ComputeMeter
}

// Executable is one loaded, verified program.
type Executable interface {
	// Entries lists the callable entry symbols.
	Entries() []string

	// Execute runs the given entry to completion and returns the guest
	// exit code (0 = success). Engine-internal faults surface as errors.
	Execute(entry string, env ExecEnv) (uint64, error)
}

// Engine loads verified program binaries.
type Engine interface {
	Load(bytecode []byte) (Executable, error)
}

// ExecutionResult is what the host observes after an invocation. No stack
// traces or internal state cross the sandbox boundary; failures are
// reported as a non-zero exit code plus an error string.
type ExecutionResult struct {
	// Success is true when execution finished with exit code 0.
	Success bool

	// ExitCode is the guest exit code, or a nonzero runtime code on error.
	ExitCode uint64

	// Err holds the failure description, empty on success.
	Err string

	// ComputeUnitsUsed is the total compute consumed, instructions and
	// syscalls included.
	ComputeUnitsUsed uint64

	// Logs holds the guest log lines captured during execution.
	Logs []string

	// ReturnData and ReturnProgram expose the transaction return-data
	// slot as of this invocation's completion.
	ReturnData    []byte
	ReturnProgram [32]byte
}
