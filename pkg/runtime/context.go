package runtime

import (
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/tos-network/tos-vm/internal/types"
)

// ChainFacts carries the block and transaction facts visible to an
// invocation. They are fixed before execution starts and immutable for the
// lifetime of every frame in the transaction.
type ChainFacts struct {
	BlockHash   types.Hash
	BlockHeight uint64
	TxHash      types.Hash
	TxSender    types.Address
}

// InvokeContext is the per-invocation execution environment.
//
// It references (never owns) the transaction context and the capability
// providers, and shares the transaction's compute meter. Because the
// program identity is always read from the transaction call stack, never
// cached here, a single InvokeContext serves every frame of a transaction:
// a nested call reports its own identity through the same context.
type InvokeContext struct {
	meter    *ComputeMeter
	tx       *TransactionContext
	storage  StorageProvider
	accounts AccountProvider
	costs    *CostTable
	limits   *Limits
	facts    ChainFacts

	// debug gates host-side log output. Guest log lines are always
	// captured in logs so observability never becomes consensus-relevant.
	debug  bool
	logger *log.Logger
	logs   []string
}

// NewInvokeContext creates an invocation context. Nil costs or limits select
// the defaults.
func NewInvokeContext(
	meter *ComputeMeter,
	tx *TransactionContext,
	storage StorageProvider,
	accounts AccountProvider,
	facts ChainFacts,
	costs *CostTable,
	limits *Limits,
) *InvokeContext {
	if costs == nil {
		costs = DefaultCostTable()
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	return &InvokeContext{
		meter:    meter,
		tx:       tx,
		storage:  storage,
		accounts: accounts,
		costs:    costs,
		limits:   limits,
		facts:    facts,
	}
}

// EnableDebug turns on host-side log output through logger. A nil logger
// uses the process default.
func (ic *InvokeContext) EnableDebug(logger *log.Logger) {
	ic.debug = true
	if logger == nil {
		logger = log.Default()
	}
	ic.logger = logger
}

// ConsumeCU charges cost compute units against the transaction budget.
func (ic *InvokeContext) ConsumeCU(cost uint64) error {
	return ic.meter.Consume(cost)
}

// RemainingCU returns the remaining compute units.
func (ic *InvokeContext) RemainingCU() uint64 {
	return ic.meter.Remaining()
}

// Costs returns the cost table for this execution.
func (ic *InvokeContext) Costs() *CostTable {
	return ic.costs
}

// Limits returns the limits for this execution.
func (ic *InvokeContext) Limits() *Limits {
	return ic.limits
}

// Transaction returns the transaction context this invocation references.
func (ic *InvokeContext) Transaction() *TransactionContext {
	return ic.tx
}

// ProgramID returns the identity of the currently executing program, read
// from the top of the transaction call stack.
func (ic *InvokeContext) ProgramID() types.ProgramID {
	program, _ := ic.tx.CurrentProgram()
	return program
}

// CallerProgramID returns the invoking program's identity, false at the
// root frame.
func (ic *InvokeContext) CallerProgramID() (types.ProgramID, bool) {
	return ic.tx.CallerProgram()
}

// StackHeight returns the current invocation depth.
func (ic *InvokeContext) StackHeight() int {
	return ic.tx.Depth()
}

// BlockHash returns the current block hash.
func (ic *InvokeContext) BlockHash() types.Hash { return ic.facts.BlockHash }

// BlockHeight returns the current block height.
func (ic *InvokeContext) BlockHeight() uint64 { return ic.facts.BlockHeight }

// TxHash returns the current transaction hash.
func (ic *InvokeContext) TxHash() types.Hash { return ic.facts.TxHash }

// TxSender returns the transaction sender address.
func (ic *InvokeContext) TxSender() types.Address { return ic.facts.TxSender }

// LogMessage records a guest log message. The message must be valid UTF-8;
// malformed encodings are an error, not a panic. Host output happens only
// in debug mode, but the call succeeds either way.
func (ic *InvokeContext) LogMessage(msg []byte) error {
	if uint64(len(msg)) > ic.limits.MaxLogMessage {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(msg), ic.limits.MaxLogMessage)
	}
	cost := LinearCost(ic.costs.LogBase, ic.costs.LogPerByte, uint64(len(msg)))
	if err := ic.meter.Consume(cost); err != nil {
		return err
	}
	if !utf8.Valid(msg) {
		return ErrInvalidUTF8
	}

	line := string(msg)
	ic.logs = append(ic.logs, line)
	if ic.debug {
		ic.logger.Printf("program %s: %s", ic.ProgramID(), line)
	}
	return nil
}

// Logs returns the guest log lines captured so far.
func (ic *InvokeContext) Logs() []string {
	return ic.logs
}

// GetBalance queries the balance of an account through the account provider.
func (ic *InvokeContext) GetBalance(addr types.Address) (uint64, error) {
	if err := ic.meter.Consume(ic.costs.BalanceQuery); err != nil {
		return 0, err
	}
	balance, err := ic.accounts.GetBalance(addr)
	if err != nil {
		return 0, &ProviderError{Op: "get balance", Err: err}
	}
	return balance, nil
}

// Transfer moves amount from the current program's account to the given
// recipient. The source is always the executing program; callers cannot
// transfer on behalf of anyone else.
func (ic *InvokeContext) Transfer(to types.Address, amount uint64) error {
	if err := ic.meter.Consume(ic.costs.Transfer); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("%w: zero transfer amount", ErrInvalidParameter)
	}
	from := types.Address(ic.ProgramID())
	if err := ic.accounts.Transfer(from, to, amount); err != nil {
		return &ProviderError{Op: "transfer", Err: err}
	}
	return nil
}

// StorageRead reads a value from the current program's storage namespace.
// A missing key returns (nil, nil). The charge scales with the size of the
// value actually read.
func (ic *InvokeContext) StorageRead(key []byte) ([]byte, error) {
	if err := ic.checkKey(key); err != nil {
		return nil, err
	}
	value, err := ic.storage.Get(ic.ProgramID(), key)
	if err != nil {
		return nil, &ProviderError{Op: "storage get", Err: err}
	}
	cost := LinearCost(ic.costs.StorageReadBase, ic.costs.StorageReadPerByte, uint64(len(value)))
	if err := ic.meter.Consume(cost); err != nil {
		return nil, err
	}
	return value, nil
}

// StorageWrite writes a value into the current program's storage namespace.
// Oversized keys and values are rejected before the provider is called.
func (ic *InvokeContext) StorageWrite(key, value []byte) error {
	if err := ic.checkKey(key); err != nil {
		return err
	}
	if uint64(len(value)) > ic.limits.MaxValueSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrValueTooLarge, len(value), ic.limits.MaxValueSize)
	}
	cost := LinearCost(ic.costs.StorageWriteBase, ic.costs.StorageWritePerByte, uint64(len(value)))
	if err := ic.meter.Consume(cost); err != nil {
		return err
	}
	if err := ic.storage.Set(ic.ProgramID(), key, value); err != nil {
		return &ProviderError{Op: "storage set", Err: err}
	}
	return nil
}

// StorageDelete removes a key from the current program's storage namespace,
// reporting whether it existed.
func (ic *InvokeContext) StorageDelete(key []byte) (bool, error) {
	if err := ic.checkKey(key); err != nil {
		return false, err
	}
	if err := ic.meter.Consume(ic.costs.StorageDelete); err != nil {
		return false, err
	}
	existed, err := ic.storage.Delete(ic.ProgramID(), key)
	if err != nil {
		return false, &ProviderError{Op: "storage delete", Err: err}
	}
	return existed, nil
}

// SetReturnData stores data in the transaction's return-data slot under the
// current program's identity.
func (ic *InvokeContext) SetReturnData(data []byte) error {
	if uint64(len(data)) > ic.limits.MaxReturnData {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrReturnDataTooLarge, len(data), ic.limits.MaxReturnData)
	}
	cost := LinearCost(ic.costs.ReturnDataSetBase, ic.costs.ReturnDataSetPerByte, uint64(len(data)))
	if err := ic.meter.Consume(cost); err != nil {
		return err
	}
	return ic.tx.SetReturnData(data, ic.limits.MaxReturnData)
}

// GetReturnData returns the transaction's return-data slot. An empty slot
// yields false without error.
func (ic *InvokeContext) GetReturnData() (types.ProgramID, []byte, bool, error) {
	if err := ic.meter.Consume(ic.costs.ReturnDataGet); err != nil {
		return types.ProgramID{}, nil, false, err
	}
	program, data, ok := ic.tx.ReturnData()
	return program, data, ok, nil
}

func (ic *InvokeContext) checkKey(key []byte) error {
	if uint64(len(key)) > ic.limits.MaxKeySize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrKeyTooLarge, len(key), ic.limits.MaxKeySize)
	}
	return nil
}
