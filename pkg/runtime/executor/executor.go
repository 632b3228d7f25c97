// Package executor ties the bytecode engine, the deployed-program source
// and the capability providers together into transaction execution.
//
// One Executor serves many transactions sequentially. Per transaction it
// builds the call stack and compute meter, registers the syscall table,
// runs the root invocation through the engine and assembles the
// ExecutionResult. Cross-program invocations nest through the same
// machinery: nested frames share the transaction context and meter and
// unwind strictly LIFO.
package executor

import (
	"fmt"
	"log"

	"github.com/tos-network/tos-vm/internal/types"
	"github.com/tos-network/tos-vm/pkg/runtime"
	"github.com/tos-network/tos-vm/pkg/runtime/syscall"
)

// ProgramSource resolves deployed program bytecode by identity.
type ProgramSource interface {
	// GetProgram returns the verified bytecode for a program, or an error
	// wrapping runtime.ErrProgramNotFound when it is not deployed.
	GetProgram(id types.ProgramID) ([]byte, error)
}

// Config holds the per-executor tunables. The zero value selects defaults.
type Config struct {
	// ComputeLimit is the compute budget per transaction.
	ComputeLimit uint64

	// Costs overrides the default cost table.
	Costs *runtime.CostTable

	// Limits overrides the default size/depth limits.
	Limits *runtime.Limits

	// Debug forwards guest log output to Logger as it happens.
	Debug bool

	// Logger is the debug log sink; nil means the process default.
	Logger *log.Logger
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{ComputeLimit: runtime.CUDefault}
}

// Executor executes programs against a bytecode engine.
//
// The executor is single-threaded by contract: one transaction runs to
// completion before the next starts. Hosts wanting parallelism run one
// Executor per worker over independent transactions.
type Executor struct {
	engine   runtime.Engine
	programs ProgramSource
	storage  runtime.StorageProvider
	accounts runtime.AccountProvider
	cfg      Config

	// cache holds loaded executables keyed by program identity. Identity
	// is content-derived, so a cached entry can never go stale.
	cache map[types.ProgramID]runtime.Executable
}

// New creates an executor. Nil providers default to the no-op
// implementations.
func New(engine runtime.Engine, programs ProgramSource, storage runtime.StorageProvider, accounts runtime.AccountProvider, cfg Config) *Executor {
	if cfg.ComputeLimit == 0 {
		cfg.ComputeLimit = runtime.CUDefault
	}
	if cfg.Costs == nil {
		cfg.Costs = runtime.DefaultCostTable()
	}
	if cfg.Limits == nil {
		cfg.Limits = runtime.DefaultLimits()
	}
	if storage == nil {
		storage = runtime.NoOpStorage{}
	}
	if accounts == nil {
		accounts = runtime.NoOpAccounts{}
	}
	return &Executor{
		engine:   engine,
		programs: programs,
		storage:  storage,
		accounts: accounts,
		cfg:      cfg,
		cache:    make(map[types.ProgramID]runtime.Executable),
	}
}

// Execute runs one transaction: a root invocation of program with the given
// input, under fresh per-transaction state. The error surface is fully
// contained in the result; Execute itself never fails.
func (e *Executor) Execute(program types.ProgramID, input []byte, facts runtime.ChainFacts) *runtime.ExecutionResult {
	meter := runtime.NewComputeMeter(e.cfg.ComputeLimit)
	tx := runtime.NewTransactionContext(e.cfg.Limits.MaxInvokeDepth)
	ctx := runtime.NewInvokeContext(meter, tx, e.storage, e.accounts, facts, e.cfg.Costs, e.cfg.Limits)
	if e.cfg.Debug {
		ctx.EnableDebug(e.cfg.Logger)
	}

	s := &session{exec: e, meter: meter, tx: tx}
	s.registry = syscall.NewRegistry(ctx)
	syscall.AddInvoke(s.registry, ctx, s)

	exit, err := s.runFrame(program, input)

	result := &runtime.ExecutionResult{
		ExitCode:         exit,
		Success:          err == nil && exit == 0,
		ComputeUnitsUsed: meter.Consumed(),
		Logs:             ctx.Logs(),
	}
	if err != nil {
		result.Err = err.Error()
		if result.ExitCode == 0 {
			result.ExitCode = 1
		}
	} else if exit != 0 {
		result.Err = fmt.Sprintf("program exited with code %d", exit)
	}

	// Return data crosses the boundary only on success; a failed
	// transaction exposes nothing it wrote.
	if result.Success {
		if prog, data, ok := tx.ReturnData(); ok {
			result.ReturnData = append([]byte(nil), data...)
			result.ReturnProgram = [32]byte(prog)
		}
	}
	return result
}

// ClearCache drops all cached executables.
func (e *Executor) ClearCache() {
	e.cache = make(map[types.ProgramID]runtime.Executable)
}

// load returns the executable for a program, loading and caching it on
// first use.
func (e *Executor) load(program types.ProgramID) (runtime.Executable, error) {
	if exe, ok := e.cache[program]; ok {
		return exe, nil
	}
	bytecode, err := e.programs.GetProgram(program)
	if err != nil {
		return nil, err
	}
	exe, err := e.engine.Load(bytecode)
	if err != nil {
		return nil, fmt.Errorf("program load %s: %w", program, err)
	}
	e.cache[program] = exe
	return exe, nil
}

// session is the per-transaction execution state. It implements
// syscall.Invoker so nested invocations run through the same frame
// machinery as the root.
type session struct {
	exec     *Executor
	meter    *runtime.ComputeMeter
	tx       *runtime.TransactionContext
	registry *syscall.Registry
}

// InvokeProgram implements syscall.Invoker.
func (s *session) InvokeProgram(program types.ProgramID, input []byte) (uint64, error) {
	return s.runFrame(program, input)
}

// runFrame executes one invocation frame: re-entrancy and depth checks,
// push, engine run, pop. The frame is popped on every path, success or
// failure, so the stack stays consistent for the caller.
func (s *session) runFrame(program types.ProgramID, input []byte) (uint64, error) {
	if s.tx.OnStack(program) {
		return 0, fmt.Errorf("%w: %s", runtime.ErrReentrancy, program)
	}
	exe, err := s.exec.load(program)
	if err != nil {
		return 0, err
	}
	if !hasEntry(exe, runtime.EntrySymbol) {
		return 0, fmt.Errorf("%w: %q", runtime.ErrUnknownEntry, runtime.EntrySymbol)
	}
	if err := s.tx.PushFrame(program); err != nil {
		return 0, err
	}
	defer func() {
		// The push just succeeded; the matching pop cannot underflow.
		_ = s.tx.PopFrame()
	}()

	env := runtime.ExecEnv{
		Input:    input,
		Syscalls: s.registry.Lookup(),
		Meter:    s.meter,
	}
	return exe.Execute(runtime.EntrySymbol, env)
}

func hasEntry(exe runtime.Executable, entry string) bool {
	for _, e := range exe.Entries() {
		if e == entry {
			return true
		}
	}
	return false
}
