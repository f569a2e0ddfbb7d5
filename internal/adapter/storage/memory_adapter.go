package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// MemoryAdapter is a Local Store held in process memory. Every write takes
// the single write lock, so a transaction insert and its stock change are
// never observed apart.
type MemoryAdapter struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	transactions map[string]domain.Transaction
	order        []string // transaction IDs in insertion order
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		products:     make(map[string]domain.Product),
		transactions: make(map[string]domain.Transaction),
	}
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (m *MemoryAdapter) UpdateProduct(ctx context.Context, p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.products[p.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	cur.Name = p.Name
	cur.Description = p.Description
	cur.MinStock = p.MinStock
	cur.Price = p.Price
	cur.UpdatedAt = p.UpdatedAt
	m.products[p.ID] = cur
	return nil
}

func (m *MemoryAdapter) SetProductActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Active = active
	p.UpdatedAt = time.Now().UTC()
	m.products[id] = p
	return nil
}

func (m *MemoryAdapter) UpdateStock(ctx context.Context, id string, newStock int64) error {
	if newStock < 0 {
		return domain.ErrInsufficientStock
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.CurrentStock = newStock
	p.UpdatedAt = time.Now().UTC()
	m.products[id] = p
	return nil
}

func (m *MemoryAdapter) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	return m.filterProducts(func(p domain.Product) bool {
		return !activeOnly || p.Active
	}), nil
}

func (m *MemoryAdapter) SearchProducts(ctx context.Context, name string) ([]domain.Product, error) {
	needle := strings.ToLower(name)
	return m.filterProducts(func(p domain.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), needle)
	}), nil
}

func (m *MemoryAdapter) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return m.filterProducts(func(p domain.Product) bool {
		return p.Active && p.LowStock()
	}), nil
}

func (m *MemoryAdapter) filterProducts(keep func(domain.Product) bool) []domain.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Product{}
	for _, p := range m.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *MemoryAdapter) ProductStats(ctx context.Context) (domain.ProductStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.ProductStats
	for _, p := range m.products {
		stats.Total++
		if p.Active {
			stats.Active++
			if p.LowStock() {
				stats.LowStock++
			}
		} else {
			stats.Inactive++
		}
	}
	return stats, nil
}

func (m *MemoryAdapter) ApplyTransaction(ctx context.Context, txn domain.Transaction, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[txn.ProductID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if !p.Active {
		return &domain.ValidationError{Field: "product_id", Reason: "product is inactive"}
	}
	if p.CurrentStock+delta < 0 {
		return domain.ErrInsufficientStock
	}

	if delta != 0 {
		p.CurrentStock += delta
		p.UpdatedAt = txn.Timestamp
		m.products[p.ID] = p
	}
	m.transactions[txn.ID] = txn
	m.order = append(m.order, txn.ID)
	return nil
}

func (m *MemoryAdapter) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &t, nil
}

func (m *MemoryAdapter) ListPending(ctx context.Context) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Transaction{}
	for _, id := range m.order {
		if t := m.transactions[id]; t.SyncState == domain.SyncStatePending {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) MarkSynced(ctx context.Context, id, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || !t.SyncState.CanTransitionTo(domain.SyncStateSynced) {
		return false, nil
	}
	t.LedgerHash = &hash
	t.SyncState = domain.SyncStateSynced
	m.transactions[id] = t
	return true, nil
}

func (m *MemoryAdapter) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := []domain.Transaction{}
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		t := m.transactions[m.order[i]]
		switch {
		case f.ProductID != "" && t.ProductID != f.ProductID:
		case f.Type != "" && t.Type != f.Type:
		case f.User != "" && t.User != f.User:
		case f.State != "" && t.SyncState != f.State:
		case !f.From.IsZero() && t.Timestamp.Before(f.From):
		case !f.To.IsZero() && t.Timestamp.After(f.To):
		default:
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) TransactionStats(ctx context.Context) (domain.TransactionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats domain.TransactionStats
	for _, t := range m.transactions {
		stats.Total++
		switch t.SyncState {
		case domain.SyncStatePending:
			stats.Pending++
		case domain.SyncStateSynced:
			stats.Synced++
		}
		switch t.Type {
		case domain.TransactionTypeIn:
			stats.In++
		case domain.TransactionTypeOut:
			stats.Out++
		case domain.TransactionTypeTransfer:
			stats.Transfer++
		}
	}
	return stats, nil
}
