package runtime

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tos-network/tos-vm/internal/types"
)

// trackingStorage records provider calls so tests can assert ordering
// against metering.
type trackingStorage struct {
	data map[string][]byte
	sets int
	err  error
}

func newTrackingStorage() *trackingStorage {
	return &trackingStorage{data: make(map[string][]byte)}
}

func (s *trackingStorage) Get(program types.ProgramID, key []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[string(program[:])+string(key)]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *trackingStorage) Set(program types.ProgramID, key, value []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sets++
	s.data[string(program[:])+string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *trackingStorage) Delete(program types.ProgramID, key []byte) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	k := string(program[:]) + string(key)
	_, ok := s.data[k]
	delete(s.data, k)
	return ok, nil
}

func newTestContext(budget uint64, storage StorageProvider) (*InvokeContext, *ComputeMeter, *TransactionContext) {
	if storage == nil {
		storage = NoOpStorage{}
	}
	tx := NewTransactionContext(8)
	tx.PushFrame(types.ProgramID{0x11})
	meter := NewComputeMeter(budget)
	ctx := NewInvokeContext(meter, tx, storage, NoOpAccounts{}, ChainFacts{}, nil, nil)
	return ctx, meter, tx
}

func TestLogMessageCapturesAndCharges(t *testing.T) {
	ctx, meter, _ := newTestContext(CUDefault, nil)

	if err := ctx.LogMessage([]byte("hello")); err != nil {
		t.Fatalf("LogMessage: %v", err)
	}
	if got := meter.Consumed(); got != 105 {
		t.Errorf("consumed = %d, want 105", got)
	}
	if logs := ctx.Logs(); len(logs) != 1 || logs[0] != "hello" {
		t.Errorf("logs = %v, want [hello]", logs)
	}
}

func TestLogMessageTooLarge(t *testing.T) {
	ctx, meter, _ := newTestContext(CUDefault, nil)

	err := ctx.LogMessage(make([]byte, 10_001))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
	// Rejected before charging.
	if got := meter.Consumed(); got != 0 {
		t.Errorf("consumed = %d, want 0", got)
	}
}

func TestLogMessageInvalidUTF8ChargesFirst(t *testing.T) {
	ctx, meter, _ := newTestContext(CUDefault, nil)

	err := ctx.LogMessage([]byte{0xff, 0xfe})
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("err = %v, want ErrInvalidUTF8", err)
	}
	// The charge lands before validation; a failed validation still paid.
	if got := meter.Consumed(); got != 102 {
		t.Errorf("consumed = %d, want 102", got)
	}
	if len(ctx.Logs()) != 0 {
		t.Error("invalid message must not be captured")
	}
}

func TestStorageWriteChargesBeforeEffect(t *testing.T) {
	storage := newTrackingStorage()
	// Budget covers nothing: the write costs 500 + 2*4.
	ctx, meter, _ := newTestContext(100, storage)

	err := ctx.StorageWrite([]byte("k"), []byte("vvvv"))
	if !errors.Is(err, ErrOutOfBudget) {
		t.Fatalf("err = %v, want ErrOutOfBudget", err)
	}
	if storage.sets != 0 {
		t.Error("provider must not be called when the charge fails")
	}
	if got := meter.Remaining(); got != 100 {
		t.Errorf("remaining = %d, want 100 untouched", got)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	storage := newTrackingStorage()
	ctx, _, _ := newTestContext(CUDefault, storage)

	if err := ctx.StorageWrite([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ctx.StorageRead([]byte("key"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Errorf("read = %q, want %q", got, "value")
	}

	existed, err := ctx.StorageDelete([]byte("key"))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Error("delete should report the key existed")
	}

	got, err = ctx.StorageRead([]byte("key"))
	if err != nil {
		t.Fatalf("read after delete: %v", err)
	}
	if got != nil {
		t.Errorf("read after delete = %q, want nil", got)
	}
}

func TestStorageSizeLimits(t *testing.T) {
	ctx, _, _ := newTestContext(CUDefault, nil)

	if err := ctx.StorageWrite(make([]byte, 257), nil); !errors.Is(err, ErrKeyTooLarge) {
		t.Errorf("oversized key err = %v, want ErrKeyTooLarge", err)
	}
	if err := ctx.StorageWrite([]byte("k"), make([]byte, 65_537)); !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("oversized value err = %v, want ErrValueTooLarge", err)
	}
	// Exactly at the limits passes validation.
	if err := ctx.StorageWrite(make([]byte, 256), make([]byte, 65_536)); err != nil {
		t.Errorf("write at limits: %v", err)
	}
}

func TestStorageProviderFailureWrapped(t *testing.T) {
	storage := newTrackingStorage()
	storage.err = errors.New("disk on fire")
	ctx, _, _ := newTestContext(CUDefault, storage)

	_, err := ctx.StorageRead([]byte("k"))
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if pe.Op != "storage get" {
		t.Errorf("Op = %q, want %q", pe.Op, "storage get")
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("error message %q misses the cause", err.Error())
	}
}

func TestTransferUsesProgramAsSource(t *testing.T) {
	var gotFrom, gotTo types.Address
	accounts := transferRecorder{from: &gotFrom, to: &gotTo}

	tx := NewTransactionContext(8)
	program := types.ProgramID{0x42}
	tx.PushFrame(program)
	ctx := NewInvokeContext(NewComputeMeter(CUDefault), tx, NoOpStorage{}, accounts, ChainFacts{}, nil, nil)

	if err := ctx.Transfer(types.Address{0x07}, 5); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if gotFrom != types.Address(program) {
		t.Errorf("from = %x, want the executing program %x", gotFrom, program)
	}
	if gotTo != (types.Address{0x07}) {
		t.Errorf("to = %x, want 07..", gotTo)
	}
}

type transferRecorder struct {
	from, to *types.Address
}

func (transferRecorder) GetBalance(types.Address) (uint64, error) { return 0, nil }

func (r transferRecorder) Transfer(from, to types.Address, amount uint64) error {
	*r.from = from
	*r.to = to
	return nil
}

func TestTransferZeroAmount(t *testing.T) {
	ctx, meter, _ := newTestContext(CUDefault, nil)

	err := ctx.Transfer(types.Address{1}, 0)
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
	// The charge still happened.
	if got := meter.Consumed(); got != 500 {
		t.Errorf("consumed = %d, want 500", got)
	}
}

func TestReturnDataThroughContext(t *testing.T) {
	ctx, _, tx := newTestContext(CUDefault, nil)

	if err := ctx.SetReturnData([]byte("result")); err != nil {
		t.Fatalf("SetReturnData: %v", err)
	}
	program, data, ok, err := ctx.GetReturnData()
	if err != nil {
		t.Fatalf("GetReturnData: %v", err)
	}
	if !ok || !bytes.Equal(data, []byte("result")) {
		t.Errorf("slot = (%q, %v), want (result, true)", data, ok)
	}
	cur, _ := tx.CurrentProgram()
	if program != cur {
		t.Errorf("program = %x, want %x", program, cur)
	}
}

func TestNestedIdentity(t *testing.T) {
	ctx, _, tx := newTestContext(CUDefault, nil)
	root, _ := tx.CurrentProgram()

	nested := types.ProgramID{0x77}
	tx.PushFrame(nested)

	// The same InvokeContext pattern applies per frame, but identity is
	// always read from the stack top.
	if got := ctx.ProgramID(); got != nested {
		t.Errorf("ProgramID = %x, want nested %x", got, nested)
	}
	caller, ok := ctx.CallerProgramID()
	if !ok || caller != root {
		t.Errorf("CallerProgramID = %x, want %x", caller, root)
	}
	if got := ctx.StackHeight(); got != 2 {
		t.Errorf("StackHeight = %d, want 2", got)
	}
}
