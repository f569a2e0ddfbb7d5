package service

import (
	"context"
	"fmt"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

func (c *Coordinator) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return c.store.GetTransaction(ctx, id)
}

func (c *Coordinator) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown transaction type %q", filter.Type)}
	}
	if filter.State != "" && !filter.State.Valid() {
		return nil, &domain.ValidationError{Field: "state", Reason: fmt.Sprintf("unknown sync state %q", filter.State)}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, &domain.ValidationError{Field: "to", Reason: "is before from"}
	}
	return c.store.ListTransactions(ctx, filter)
}

func (c *Coordinator) TransactionStats(ctx context.Context) (domain.TransactionStats, error) {
	return c.store.TransactionStats(ctx)
}
