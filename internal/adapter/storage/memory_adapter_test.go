package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/port"
)

func TestMemoryAdapter(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) port.LocalStore {
		return NewMemoryAdapter()
	})
}

func TestMemoryAdapter_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	p := seedProduct(t, store, "Copy", 5, 0)

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	got.CurrentStock = 1000

	again, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.CurrentStock)

	txn := newTxn(p.ID, domain.TransactionTypeIn, 1, suiteEpoch)
	require.NoError(t, store.ApplyTransaction(ctx, txn, 1))
	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	pending[0].SyncState = domain.SyncStateSynced

	stored, err := store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatePending, stored.SyncState)
}

func TestMemoryAdapter_MarkSyncedUnknown(t *testing.T) {
	ok, err := NewMemoryAdapter().MarkSynced(context.Background(), "nope", "0x1")
	require.NoError(t, err)
	assert.False(t, ok)
}
