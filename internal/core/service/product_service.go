package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/payload"
	"github.com/rl1809/inventory-ledger/internal/logger"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const maxNameLength = 255

// WitnessSubmitter records untracked events on the ledger node.
type WitnessSubmitter interface {
	SubmitWitness(name string, ev payload.Event) *Submission
}

type CreateProductRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InitialStock int64           `json:"initial_stock"`
	MinStock     int64           `json:"min_stock"`
	Price        decimal.Decimal `json:"price"`
}

// UpdateProductRequest edits descriptive fields. Stock only moves through
// transactions.
type UpdateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	MinStock    int64           `json:"min_stock"`
	Price       decimal.Decimal `json:"price"`
}

type ProductService struct {
	store   port.LocalStore
	witness WitnessSubmitter
	log     *slog.Logger
	now     func() time.Time
}

// NewProductService builds the catalogue service. witness may be nil.
func NewProductService(store port.LocalStore, witness WitnessSubmitter, log *slog.Logger) *ProductService {
	if log == nil {
		log = logger.Discard()
	}
	return &ProductService{
		store:   store,
		witness: witness,
		log:     log.With("component", "product_service"),
		now:     time.Now,
	}
}

func validateProductFields(name, description string, minStock int64, price decimal.Decimal) error {
	switch {
	case name == "":
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	case utf8.RuneCountInString(name) > maxNameLength:
		return &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	case utf8.RuneCountInString(description) > maxDescriptionLength:
		return &domain.ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", maxDescriptionLength)}
	case minStock < 0:
		return &domain.ValidationError{Field: "min_stock", Reason: "cannot be negative"}
	case price.IsNegative():
		return &domain.ValidationError{Field: "price", Reason: "cannot be negative"}
	}
	return nil
}

func (s *ProductService) CreateProduct(ctx context.Context, req CreateProductRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateProductFields(name, req.Description, req.MinStock, req.Price); err != nil {
		return nil, err
	}
	if req.InitialStock < 0 {
		return nil, &domain.ValidationError{Field: "initial_stock", Reason: "cannot be negative"}
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	p := domain.Product{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  req.Description,
		CurrentStock: req.InitialStock,
		MinStock:     req.MinStock,
		Price:        req.Price,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.log.Info("product created", "product_id", p.ID, "name", p.Name, "stock", p.CurrentStock)
	s.witnessProduct(payload.KindAddProduct, p)
	return &p, nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, id string, req UpdateProductRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if err := validateProductFields(name, req.Description, req.MinStock, req.Price); err != nil {
		return nil, err
	}

	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = name
	p.Description = req.Description
	p.MinStock = req.MinStock
	p.Price = req.Price
	p.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	if err := s.store.UpdateProduct(ctx, *p); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.log.Info("product updated", "product_id", p.ID)
	s.witnessProduct(payload.KindUpdateProduct, *p)
	return p, nil
}

func (s *ProductService) witnessProduct(kind string, p domain.Product) {
	if s.witness == nil {
		return
	}
	// outcome is only logged by the dispatcher
	s.witness.SubmitWitness(strings.ToLower(kind)+":"+p.ID, payload.ForProduct(kind, p))
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *ProductService) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	return s.store.ListProducts(ctx, activeOnly)
}

func (s *ProductService) SearchProducts(ctx context.Context, name string) ([]domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.store.ListProducts(ctx, false)
	}
	return s.store.SearchProducts(ctx, name)
}

func (s *ProductService) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.store.LowStockProducts(ctx)
}

// SetActive soft-deactivates or re-activates a product.
func (s *ProductService) SetActive(ctx context.Context, id string, active bool) (*domain.Product, error) {
	if err := s.store.SetProductActive(ctx, id, active); err != nil {
		return nil, err
	}
	s.log.Info("product activation changed", "product_id", id, "active", active)
	return s.store.GetProduct(ctx, id)
}

func (s *ProductService) Stats(ctx context.Context) (domain.ProductStats, error) {
	return s.store.ProductStats(ctx)
}
