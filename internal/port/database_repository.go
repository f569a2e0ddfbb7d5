package port

import (
	"context"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// LocalStore is the source of truth for products and the transaction log.
type LocalStore interface {
	CreateProduct(ctx context.Context, product domain.Product) error

	// GetProduct returns domain.ErrProductNotFound when the ID is unknown
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// UpdateProduct edits descriptive fields; stock is left untouched
	UpdateProduct(ctx context.Context, product domain.Product) error

	SetProductActive(ctx context.Context, id string, active bool) error

	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)

	SearchProducts(ctx context.Context, name string) ([]domain.Product, error)

	LowStockProducts(ctx context.Context) ([]domain.Product, error)

	ProductStats(ctx context.Context) (domain.ProductStats, error)

	// UpdateStock overwrites the stock level of a product. It is an
	// administrative override; recorded transactions go through
	// ApplyTransaction and never call it.
	UpdateStock(ctx context.Context, id string, newStock int64) error

	// ApplyTransaction inserts the transaction and adds delta to the product's
	// stock as one atomic unit. It fails with domain.ErrInsufficientStock,
	// writing nothing, if the stock would go negative.
	ApplyTransaction(ctx context.Context, txn domain.Transaction, delta int64) error

	// GetTransaction returns domain.ErrTransactionNotFound when the ID is unknown
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ListPending returns PENDING transactions in the order they were recorded
	ListPending(ctx context.Context) ([]domain.Transaction, error)

	// MarkSynced sets the ledger hash and flips a PENDING record to SYNCED.
	// It reports false if the record was not PENDING.
	MarkSynced(ctx context.Context, id, hash string) (bool, error)

	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)

	TransactionStats(ctx context.Context) (domain.TransactionStats, error)
}
