package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

var suiteEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// runStoreSuite checks the LocalStore contract. newStore must return an
// empty store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) port.LocalStore) {
	t.Run("ProductRoundTrip", func(t *testing.T) { testProductRoundTrip(t, newStore(t)) })
	t.Run("ProductQueries", func(t *testing.T) { testProductQueries(t, newStore(t)) })
	t.Run("ApplyTransaction", func(t *testing.T) { testApplyTransaction(t, newStore(t)) })
	t.Run("InsufficientStockWritesNothing", func(t *testing.T) { testInsufficientStock(t, newStore(t)) })
	t.Run("InactiveProduct", func(t *testing.T) { testInactiveProduct(t, newStore(t)) })
	t.Run("ConcurrentOut", func(t *testing.T) { testConcurrentOut(t, newStore(t)) })
	t.Run("PendingAndMarkSynced", func(t *testing.T) { testPendingAndMarkSynced(t, newStore(t)) })
	t.Run("ListTransactionsAndStats", func(t *testing.T) { testListTransactions(t, newStore(t)) })
}

func seedProduct(t *testing.T, store port.LocalStore, name string, stock, minStock int64) domain.Product {
	t.Helper()
	p := domain.Product{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  name + " description",
		CurrentStock: stock,
		MinStock:     minStock,
		Price:        decimal.RequireFromString("19.99"),
		Active:       true,
		CreatedAt:    suiteEpoch,
		UpdatedAt:    suiteEpoch,
	}
	require.NoError(t, store.CreateProduct(context.Background(), p))
	return p
}

func newTxn(productID string, typ domain.TransactionType, qty int64, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ProductID:   productID,
		Quantity:    qty,
		Type:        typ,
		Description: "suite",
		User:        "alice",
		Timestamp:   at,
		SyncState:   domain.SyncStatePending,
	}
}

func testProductRoundTrip(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	p := seedProduct(t, store, "Widget", 10, 2)

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
	assert.Equal(t, int64(10), got.CurrentStock)
	assert.True(t, p.Price.Equal(got.Price), "price %s", got.Price)
	assert.True(t, got.Active)

	got.Name = "Widget Pro"
	got.MinStock = 5
	got.CurrentStock = 999 // ignored by UpdateProduct
	got.UpdatedAt = suiteEpoch.Add(time.Hour)
	require.NoError(t, store.UpdateProduct(ctx, *got))

	updated, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", updated.Name)
	assert.Equal(t, int64(5), updated.MinStock)
	assert.Equal(t, int64(10), updated.CurrentStock)

	require.NoError(t, store.UpdateStock(ctx, p.ID, 42))
	updated, err = store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), updated.CurrentStock)
	assert.ErrorIs(t, store.UpdateStock(ctx, p.ID, -1), domain.ErrInsufficientStock)

	_, err = store.GetProduct(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, store.SetProductActive(ctx, uuid.NewString(), false), domain.ErrProductNotFound)
}

func testProductQueries(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	seedProduct(t, store, "Blue Pen", 100, 10)
	low := seedProduct(t, store, "Red Pen", 3, 5)
	off := seedProduct(t, store, "Stapler", 0, 1)
	require.NoError(t, store.SetProductActive(ctx, off.ID, false))

	all, err := store.ListProducts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := store.ListProducts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "Blue Pen", active[0].Name)

	found, err := store.SearchProducts(ctx, "pen")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	lows, err := store.LowStockProducts(ctx)
	require.NoError(t, err)
	require.Len(t, lows, 1)
	assert.Equal(t, low.ID, lows[0].ID)

	stats, err := store.ProductStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ProductStats{Total: 3, Active: 2, Inactive: 1, LowStock: 1}, stats)
}

func testApplyTransaction(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	p := seedProduct(t, store, "Bolt", 10, 0)

	in := newTxn(p.ID, domain.TransactionTypeIn, 5, suiteEpoch.Add(time.Second))
	require.NoError(t, store.ApplyTransaction(ctx, in, 5))
	out := newTxn(p.ID, domain.TransactionTypeOut, 3, suiteEpoch.Add(2*time.Second))
	require.NoError(t, store.ApplyTransaction(ctx, out, -3))
	transfer := newTxn(p.ID, domain.TransactionTypeTransfer, 4, suiteEpoch.Add(3*time.Second))
	require.NoError(t, store.ApplyTransaction(ctx, transfer, 0))

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.CurrentStock)

	stored, err := store.GetTransaction(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeOut, stored.Type)
	assert.Equal(t, int64(3), stored.Quantity)
	assert.Equal(t, "alice", stored.User)
	assert.Equal(t, domain.SyncStatePending, stored.SyncState)
	assert.Nil(t, stored.LedgerHash)

	_, err = store.GetTransaction(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	missing := newTxn(uuid.NewString(), domain.TransactionTypeIn, 1, suiteEpoch)
	assert.ErrorIs(t, store.ApplyTransaction(ctx, missing, 1), domain.ErrProductNotFound)
}

func testInsufficientStock(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	p := seedProduct(t, store, "Nut", 2, 0)

	txn := newTxn(p.ID, domain.TransactionTypeOut, 3, suiteEpoch)
	err := store.ApplyTransaction(ctx, txn, -3)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CurrentStock)

	_, err = store.GetTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func testInactiveProduct(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	p := seedProduct(t, store, "Retired", 5, 0)
	require.NoError(t, store.SetProductActive(ctx, p.ID, false))

	err := store.ApplyTransaction(ctx, newTxn(p.ID, domain.TransactionTypeIn, 1, suiteEpoch), 1)
	assert.True(t, domain.IsValidation(err), "got %v", err)

	err = store.ApplyTransaction(ctx, newTxn(p.ID, domain.TransactionTypeTransfer, 1, suiteEpoch), 0)
	assert.True(t, domain.IsValidation(err), "got %v", err)
}

func testConcurrentOut(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	const initialStock = 20
	const totalRequests = 50
	p := seedProduct(t, store, "Hot Item", initialStock, 0)

	var successCount, insufficientCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn := newTxn(p.ID, domain.TransactionTypeOut, 1, suiteEpoch.Add(time.Duration(i)*time.Millisecond))
			err := store.ApplyTransaction(ctx, txn, -1)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	assert.Equal(t, int32(totalRequests-initialStock), insufficientCount.Load())

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.CurrentStock)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, initialStock)
}

func testPendingAndMarkSynced(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	p := seedProduct(t, store, "Gear", 100, 0)

	var ids []string
	for i := 0; i < 3; i++ {
		txn := newTxn(p.ID, domain.TransactionTypeIn, 1, suiteEpoch.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.ApplyTransaction(ctx, txn, 1))
		ids = append(ids, txn.ID)
	}

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, txn := range pending {
		assert.Equal(t, ids[i], txn.ID)
	}

	ok, err := store.MarkSynced(ctx, ids[1], "0xabc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkSynced(ctx, ids[1], "0xdef")
	require.NoError(t, err)
	assert.False(t, ok, "SYNCED is terminal")

	synced, err := store.GetTransaction(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateSynced, synced.SyncState)
	require.NotNil(t, synced.LedgerHash)
	assert.Equal(t, "0xabc", *synced.LedgerHash)

	pending, err = store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
}

func testListTransactions(t *testing.T, store port.LocalStore) {
	ctx := context.Background()
	a := seedProduct(t, store, "A", 100, 0)
	b := seedProduct(t, store, "B", 100, 0)

	t1 := newTxn(a.ID, domain.TransactionTypeIn, 1, suiteEpoch.Add(1*time.Second))
	t2 := newTxn(a.ID, domain.TransactionTypeOut, 1, suiteEpoch.Add(2*time.Second))
	t3 := newTxn(b.ID, domain.TransactionTypeTransfer, 1, suiteEpoch.Add(3*time.Second))
	t3.User = "bob"
	require.NoError(t, store.ApplyTransaction(ctx, t1, 1))
	require.NoError(t, store.ApplyTransaction(ctx, t2, -1))
	require.NoError(t, store.ApplyTransaction(ctx, t3, 0))
	_, err := store.MarkSynced(ctx, t1.ID, "0x1")
	require.NoError(t, err)

	all, err := store.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, t3.ID, all[0].ID, "newest first")

	byProduct, err := store.ListTransactions(ctx, domain.TransactionFilter{ProductID: a.ID})
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	byUser, err := store.ListTransactions(ctx, domain.TransactionFilter{User: "bob"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, t3.ID, byUser[0].ID)

	synced, err := store.ListTransactions(ctx, domain.TransactionFilter{State: domain.SyncStateSynced})
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, t1.ID, synced[0].ID)

	window, err := store.ListTransactions(ctx, domain.TransactionFilter{
		From: suiteEpoch.Add(2 * time.Second),
		To:   suiteEpoch.Add(3 * time.Second),
	})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	limited, err := store.ListTransactions(ctx, domain.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := store.TransactionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStats{Total: 3, Pending: 2, Synced: 1, In: 1, Out: 1, Transfer: 1}, stats)
}
