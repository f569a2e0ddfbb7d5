package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Description  string          `db:"description" json:"description"`
	CurrentStock int64           `db:"current_stock" json:"current_stock"`
	MinStock     int64           `db:"min_stock" json:"min_stock"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Active       bool            `db:"active" json:"active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// LowStock reports whether the product has reached its reorder threshold.
func (p Product) LowStock() bool {
	return p.CurrentStock <= p.MinStock
}

type ProductStats struct {
	Total    int64 `db:"total" json:"total"`
	Active   int64 `db:"active" json:"active"`
	Inactive int64 `db:"inactive" json:"inactive"`
	LowStock int64 `db:"low_stock" json:"low_stock"`
}
