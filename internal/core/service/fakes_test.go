package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

// Mock LedgerGateway
type mockLedger struct {
	mu          sync.Mutex
	connected   bool
	account     string
	contract    string
	deployErr   error
	deployments int
	rejectNext  int
	payloads    []string
	known       map[string]bool
	seq         int

	inFlight atomic.Int32
	overlap  atomic.Bool
}

func newMockLedger(connected bool) *mockLedger {
	return &mockLedger{
		connected: connected,
		account:   "0xacc0",
		known:     make(map[string]bool),
	}
}

func (m *mockLedger) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *mockLedger) rejectNextSubmissions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = n
}

func (m *mockLedger) submitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.payloads...)
}

func (m *mockLedger) CheckConnectivity(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockLedger) ResolveAccount(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", &domain.ConnectionError{Op: "resolve account", Err: errors.New("offline")}
	}
	return m.account, nil
}

func (m *mockLedger) EnsureDeployed(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deployErr != nil {
		return "", m.deployErr
	}
	if m.contract == "" {
		m.deployments++
		m.contract = "0xc0ffee"
	}
	return m.contract, nil
}

func (m *mockLedger) ContractAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contract
}

func (m *mockLedger) SubmitRecord(ctx context.Context, payload, from string) (string, error) {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)
	time.Sleep(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", &domain.ConnectionError{Op: "eth_sendTransaction", Err: errors.New("offline")}
	}
	if m.rejectNext > 0 {
		m.rejectNext--
		return "", &domain.LedgerRejectedError{Code: -32000, Reason: "nonce too low"}
	}
	m.seq++
	hash := fmt.Sprintf("0x%064x", m.seq)
	m.payloads = append(m.payloads, payload)
	m.known[hash] = true
	return hash, nil
}

func (m *mockLedger) FetchByHash(ctx context.Context, hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.known[hash]
}

func (m *mockLedger) Balance(ctx context.Context, account string) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	released       []string
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

// failingStore breaks ApplyTransaction while delegating everything else.
type failingStore struct {
	port.LocalStore
	err error
}

func (f *failingStore) ApplyTransaction(ctx context.Context, txn domain.Transaction, delta int64) error {
	return f.err
}

type harness struct {
	store  *storage.MemoryAdapter
	ledger *mockLedger
	coord  *Coordinator
}

func newHarness(t *testing.T, connected bool, opts ...Option) *harness {
	t.Helper()
	store := storage.NewMemoryAdapter()
	ledger := newMockLedger(connected)
	d := NewDispatcher(DispatcherConfig{Workers: 4, QueueSize: 100, TaskTimeout: 2 * time.Second}, nil)
	coord := NewCoordinator(store, ledger, d, opts...)
	t.Cleanup(coord.Close)
	return &harness{store: store, ledger: ledger, coord: coord}
}

func (h *harness) seedProduct(t *testing.T, stock, minStock int64) domain.Product {
	t.Helper()
	now := time.Now().UTC()
	p := domain.Product{
		ID:           uuid.NewString(),
		Name:         "Widget",
		CurrentStock: stock,
		MinStock:     minStock,
		Price:        decimal.NewFromInt(5),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, h.store.CreateProduct(context.Background(), p))
	return p
}

func (h *harness) stock(t *testing.T, id string) int64 {
	t.Helper()
	p, err := h.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.CurrentStock
}

func (h *harness) transaction(t *testing.T, id string) domain.Transaction {
	t.Helper()
	txn, err := h.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return *txn
}

func waitSubmission(t *testing.T, rec *Recorded) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rec.Submission.Wait(ctx)
}
