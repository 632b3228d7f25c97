package executor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
	"github.com/tos-network/tos-vm/pkg/runtime/memory"
	"github.com/tos-network/tos-vm/pkg/runtime/syscall"
)

// fakeBehavior is what a fake program does when executed.
type fakeBehavior func(env runtime.ExecEnv) (uint64, error)

// fakeEngine maps bytecode content to scripted behavior.
type fakeEngine struct {
	behaviors map[string]fakeBehavior
	loads     int
	noEntry   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{behaviors: make(map[string]fakeBehavior)}
}

func (e *fakeEngine) Load(bytecode []byte) (runtime.Executable, error) {
	e.loads++
	behavior, ok := e.behaviors[string(bytecode)]
	if !ok {
		return nil, fmt.Errorf("unknown bytecode %q", bytecode)
	}
	return &fakeExecutable{run: behavior, noEntry: e.noEntry}, nil
}

type fakeExecutable struct {
	run     fakeBehavior
	noEntry bool
}

func (f *fakeExecutable) Entries() []string {
	if f.noEntry {
		return []string{"other"}
	}
	return []string{runtime.EntrySymbol}
}

func (f *fakeExecutable) Execute(entry string, env runtime.ExecEnv) (uint64, error) {
	return f.run(env)
}

// mapSource is an in-memory program source.
type mapSource map[types.ProgramID][]byte

func (m mapSource) GetProgram(id types.ProgramID) ([]byte, error) {
	bytecode, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", runtime.ErrProgramNotFound, id)
	}
	return bytecode, nil
}

// harness wires a fake engine and program source into an executor.
type harness struct {
	engine *fakeEngine
	source mapSource
}

func newHarness() *harness {
	return &harness{engine: newFakeEngine(), source: make(mapSource)}
}

// deploy registers a fake program and returns its identity.
func (h *harness) deploy(name string, behavior fakeBehavior) types.ProgramID {
	bytecode := []byte(name)
	h.engine.behaviors[name] = behavior
	id := types.ProgramIDForBytecode(bytecode)
	h.source[id] = bytecode
	return id
}

func (h *harness) executor(cfg Config) *Executor {
	return New(h.engine, h.source, nil, nil, cfg)
}

// callSyscall resolves and invokes a syscall from inside a fake program.
func callSyscall(env runtime.ExecEnv, vm runtime.VM, name string, r1, r2, r3, r4, r5 uint64) (uint64, error) {
	sc, ok := env.Syscalls(syscall.Hash(name))
	if !ok {
		return 0, fmt.Errorf("syscall %q not registered", name)
	}
	return sc.Invoke(vm, r1, r2, r3, r4, r5)
}

// guestHeap builds a writable guest memory with the given bytes at the
// start of the heap region.
func guestHeap(seed []byte) runtime.VM {
	heap := make([]byte, 4096)
	copy(heap, seed)
	return memory.NewStandardLayout(nil, make([]byte, 512), heap, nil)
}

func TestExecuteSuccess(t *testing.T) {
	h := newHarness()
	program := h.deploy("logger", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap([]byte("it works"))
		if _, err := callSyscall(env, vm, syscall.NameLog, memory.VaddrHeap, 8, 0, 0, 0); err != nil {
			return 0, err
		}
		if _, err := callSyscall(env, vm, syscall.NameSetReturnData, memory.VaddrHeap, 8, 0, 0, 0); err != nil {
			return 0, err
		}
		return 0, nil
	})

	result := h.executor(DefaultConfig()).Execute(program, nil, runtime.ChainFacts{})
	if !result.Success {
		t.Fatalf("Success = false, err = %q", result.Err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "it works" {
		t.Errorf("Logs = %v, want [it works]", result.Logs)
	}
	if !bytes.Equal(result.ReturnData, []byte("it works")) {
		t.Errorf("ReturnData = %q, want %q", result.ReturnData, "it works")
	}
	if result.ReturnProgram != [32]byte(program) {
		t.Errorf("ReturnProgram = %x, want %x", result.ReturnProgram, program)
	}
	if result.ComputeUnitsUsed == 0 {
		t.Error("ComputeUnitsUsed = 0, want > 0")
	}
}

func TestExecuteGuestFailure(t *testing.T) {
	h := newHarness()
	program := h.deploy("failer", func(env runtime.ExecEnv) (uint64, error) {
		return 7, nil
	})

	result := h.executor(DefaultConfig()).Execute(program, nil, runtime.ChainFacts{})
	if result.Success {
		t.Fatal("Success = true for nonzero exit")
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}
	if !strings.Contains(result.Err, "7") {
		t.Errorf("Err = %q, want mention of exit code", result.Err)
	}
}

func TestExecuteProgramNotFound(t *testing.T) {
	h := newHarness()
	result := h.executor(DefaultConfig()).Execute(types.ProgramID{0xde}, nil, runtime.ChainFacts{})
	if result.Success {
		t.Fatal("Success = true for missing program")
	}
	if result.ExitCode == 0 {
		t.Error("ExitCode = 0, want nonzero")
	}
	if !strings.Contains(result.Err, "program not found") {
		t.Errorf("Err = %q, want program not found", result.Err)
	}
}

func TestExecuteMissingEntry(t *testing.T) {
	h := newHarness()
	h.engine.noEntry = true
	program := h.deploy("no-entry", func(env runtime.ExecEnv) (uint64, error) {
		t.Error("program with missing entry must not run")
		return 0, nil
	})

	result := h.executor(DefaultConfig()).Execute(program, nil, runtime.ChainFacts{})
	if result.Success {
		t.Fatal("Success = true without entry symbol")
	}
	if !strings.Contains(result.Err, "unknown entry symbol") {
		t.Errorf("Err = %q, want unknown entry symbol", result.Err)
	}
}

func TestExecuteBudgetExhaustion(t *testing.T) {
	h := newHarness()
	program := h.deploy("spender", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap([]byte("x"))
		// Log costs 101, over the 50 CU budget.
		_, err := callSyscall(env, vm, syscall.NameLog, memory.VaddrHeap, 1, 0, 0, 0)
		return 0, err
	})

	cfg := DefaultConfig()
	cfg.ComputeLimit = 50
	result := h.executor(cfg).Execute(program, nil, runtime.ChainFacts{})
	if result.Success {
		t.Fatal("Success = true on exhausted budget")
	}
	if !strings.Contains(result.Err, "compute budget exceeded") {
		t.Errorf("Err = %q, want compute budget exceeded", result.Err)
	}
}

func TestCrossProgramInvoke(t *testing.T) {
	h := newHarness()

	var depthInCallee uint64
	callee := h.deploy("callee", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap([]byte("from callee"))
		var err error
		depthInCallee, err = callSyscall(env, vm, syscall.NameGetStackHeight, 0, 0, 0, 0, 0)
		if err != nil {
			return 0, err
		}
		if _, err := callSyscall(env, vm, syscall.NameSetReturnData, memory.VaddrHeap, 11, 0, 0, 0); err != nil {
			return 0, err
		}
		return 0, nil
	})

	var gotReturn []byte
	var gotProgram [32]byte
	caller := h.deploy("caller", func(env runtime.ExecEnv) (uint64, error) {
		heap := make([]byte, 4096)
		copy(heap, callee[:])
		copy(heap[64:], []byte("cpi payload"))
		vm := memory.NewStandardLayout(nil, make([]byte, 512), heap, nil)

		exit, err := callSyscall(env, vm, syscall.NameInvoke, memory.VaddrHeap, memory.VaddrHeap+64, 11, 0, 0)
		if err != nil {
			return 0, err
		}
		if exit != 0 {
			return exit, nil
		}

		// The callee's return data is visible after its frame popped.
		n, err := callSyscall(env, vm, syscall.NameGetReturnData, memory.VaddrHeap+1024, 64, memory.VaddrHeap+2048, 0, 0)
		if err != nil {
			return 0, err
		}
		gotReturn = make([]byte, n)
		if err := vm.Read(memory.VaddrHeap+1024, gotReturn); err != nil {
			return 0, err
		}
		if err := vm.Read(memory.VaddrHeap+2048, gotProgram[:]); err != nil {
			return 0, err
		}
		return 0, nil
	})

	result := h.executor(DefaultConfig()).Execute(caller, nil, runtime.ChainFacts{})
	if !result.Success {
		t.Fatalf("Success = false, err = %q", result.Err)
	}
	if depthInCallee != 2 {
		t.Errorf("stack height in callee = %d, want 2", depthInCallee)
	}
	if !bytes.Equal(gotReturn, []byte("from callee")) {
		t.Errorf("return data seen by caller = %q, want %q", gotReturn, "from callee")
	}
	if gotProgram != [32]byte(callee) {
		t.Errorf("return program = %x, want callee %x", gotProgram, callee)
	}
	// The root result exposes the slot as the caller left it.
	if result.ReturnProgram != [32]byte(callee) {
		t.Errorf("result.ReturnProgram = %x, want callee %x", result.ReturnProgram, callee)
	}
}

func TestReentrancyRejected(t *testing.T) {
	h := newHarness()

	var callerID types.ProgramID
	callee := h.deploy("bouncer", func(env runtime.ExecEnv) (uint64, error) {
		// Invoke the caller back while it is still on the stack.
		vm := guestHeap(callerID[:])
		_, err := callSyscall(env, vm, syscall.NameInvoke, memory.VaddrHeap, 0, 0, 0, 0)
		return 0, err
	})
	callerID = h.deploy("victim", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap(callee[:])
		_, err := callSyscall(env, vm, syscall.NameInvoke, memory.VaddrHeap, 0, 0, 0, 0)
		return 0, err
	})

	result := h.executor(DefaultConfig()).Execute(callerID, nil, runtime.ChainFacts{})
	if result.Success {
		t.Fatal("Success = true for reentrant invocation")
	}
	if !strings.Contains(result.Err, "reentrant") {
		t.Errorf("Err = %q, want reentrant rejection", result.Err)
	}
}

func TestInvokeDepthLimit(t *testing.T) {
	h := newHarness()

	// a -> b -> c with a depth cap of 2: pushing c must fail.
	c := h.deploy("c", func(env runtime.ExecEnv) (uint64, error) {
		t.Error("frame beyond the depth cap must not run")
		return 0, nil
	})
	b := h.deploy("b", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap(c[:])
		_, err := callSyscall(env, vm, syscall.NameInvoke, memory.VaddrHeap, 0, 0, 0, 0)
		return 0, err
	})
	a := h.deploy("a", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap(b[:])
		_, err := callSyscall(env, vm, syscall.NameInvoke, memory.VaddrHeap, 0, 0, 0, 0)
		return 0, err
	})

	cfg := DefaultConfig()
	limits := runtime.DefaultLimits()
	limits.MaxInvokeDepth = 2
	cfg.Limits = limits

	result := h.executor(cfg).Execute(a, nil, runtime.ChainFacts{})
	if result.Success {
		t.Fatal("Success = true past the depth cap")
	}
	if !strings.Contains(result.Err, "stack overflow") {
		t.Errorf("Err = %q, want stack overflow", result.Err)
	}
}

func TestExecutableCaching(t *testing.T) {
	h := newHarness()
	program := h.deploy("cached", func(env runtime.ExecEnv) (uint64, error) {
		return 0, nil
	})

	exec := h.executor(DefaultConfig())
	exec.Execute(program, nil, runtime.ChainFacts{})
	exec.Execute(program, nil, runtime.ChainFacts{})
	if h.engine.loads != 1 {
		t.Errorf("engine loads = %d, want 1", h.engine.loads)
	}

	exec.ClearCache()
	exec.Execute(program, nil, runtime.ChainFacts{})
	if h.engine.loads != 2 {
		t.Errorf("engine loads after ClearCache = %d, want 2", h.engine.loads)
	}
}

func TestTransactionIsolation(t *testing.T) {
	h := newHarness()

	setter := h.deploy("setter", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap([]byte("stale"))
		_, err := callSyscall(env, vm, syscall.NameSetReturnData, memory.VaddrHeap, 5, 0, 0, 0)
		return 0, err
	})

	var seen uint64
	reader := h.deploy("reader", func(env runtime.ExecEnv) (uint64, error) {
		vm := guestHeap(nil)
		var err error
		seen, err = callSyscall(env, vm, syscall.NameGetReturnData, memory.VaddrHeap, 64, memory.VaddrHeap+2048, 0, 0)
		return 0, err
	})

	exec := h.executor(DefaultConfig())
	if result := exec.Execute(setter, nil, runtime.ChainFacts{}); !result.Success {
		t.Fatalf("setter failed: %q", result.Err)
	}
	if result := exec.Execute(reader, nil, runtime.ChainFacts{}); !result.Success {
		t.Fatalf("reader failed: %q", result.Err)
	}
	// Return data never leaks across transactions.
	if seen != 0 {
		t.Errorf("reader saw %d bytes of stale return data", seen)
	}
}

func TestInputReachesProgram(t *testing.T) {
	h := newHarness()
	var got []byte
	program := h.deploy("echo", func(env runtime.ExecEnv) (uint64, error) {
		got = append([]byte(nil), env.Input...)
		return binary.LittleEndian.Uint64(env.Input), nil
	})

	input := make([]byte, 8)
	binary.LittleEndian.PutUint64(input, 42)
	result := h.executor(DefaultConfig()).Execute(program, input, runtime.ChainFacts{})
	if !bytes.Equal(got, input) {
		t.Errorf("program saw input %x, want %x", got, input)
	}
	if result.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", result.ExitCode)
	}
}
