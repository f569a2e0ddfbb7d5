package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/payload"
	"github.com/rl1809/inventory-ledger/internal/logger"
	"github.com/rl1809/inventory-ledger/internal/metrics"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	maxUserLength        = 100
	maxDescriptionLength = 1000
)

type RecordRequest struct {
	ProductID   string
	Quantity    int64
	Type        domain.TransactionType
	Description string
	User        string
	// RequestID, when set, makes the call idempotent for the cache TTL.
	RequestID string
}

// Recorded is a committed transaction plus the pending ledger submission.
// Submission may be ignored; the record is retried by SyncPending.
type Recorded struct {
	Transaction domain.Transaction
	Submission  *Submission
}

type LedgerStatus struct {
	Connected       bool   `json:"connected"`
	Account         string `json:"account,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	BalanceWei      string `json:"balance_wei,omitempty"`
	Pending         int    `json:"pending"`
}

// contractAddresser is implemented by gateways that can report the witness
// contract without deploying it.
type contractAddresser interface {
	ContractAddress() string
}

type Option func(*Coordinator)

// WithCache enables request-ID idempotency.
func WithCache(cache port.CacheRepository) Option {
	return func(c *Coordinator) { c.cache = cache }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator applies inventory transactions to the local store and
// projects them onto the ledger node as witness records.
type Coordinator struct {
	store      port.LocalStore
	ledger     port.LedgerGateway
	cache      port.CacheRepository
	dispatcher *Dispatcher
	log        *slog.Logger
	now        func() time.Time

	// submitMu serializes ledger submissions; the nonce is read live and
	// two concurrent sends from one account would collide.
	submitMu sync.Mutex
}

func NewCoordinator(store port.LocalStore, ledger port.LedgerGateway, dispatcher *Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		ledger:     ledger,
		dispatcher: dispatcher,
		log:        logger.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "coordinator")
	return c
}

func validateRecord(req *RecordRequest) error {
	req.User = strings.TrimSpace(req.User)
	switch {
	case strings.TrimSpace(req.ProductID) == "":
		return &domain.ValidationError{Field: "product_id", Reason: "is required"}
	case req.Quantity <= 0:
		return &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	case !req.Type.Valid():
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown transaction type %q", req.Type)}
	case req.User == "":
		return &domain.ValidationError{Field: "user", Reason: "is required"}
	case utf8.RuneCountInString(req.User) > maxUserLength:
		return &domain.ValidationError{Field: "user", Reason: fmt.Sprintf("must be at most %d characters", maxUserLength)}
	case utf8.RuneCountInString(req.Description) > maxDescriptionLength:
		return &domain.ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", maxDescriptionLength)}
	}
	return nil
}

// RecordTransaction validates and commits one inventory event, then hands
// its ledger submission to the dispatcher. Only validation and store
// failures are returned; ledger failures leave the record PENDING.
func (c *Coordinator) RecordTransaction(ctx context.Context, req RecordRequest) (rec *Recorded, err error) {
	if err := validateRecord(&req); err != nil {
		return nil, err
	}

	if req.RequestID != "" && c.cache != nil {
		ok, claimErr := c.cache.SetIdempotency(ctx, req.RequestID)
		if claimErr != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", claimErr)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if relErr := c.cache.ReleaseIdempotency(context.WithoutCancel(ctx), req.RequestID); relErr != nil {
				c.log.Error("failed to release idempotency key", "request_id", req.RequestID, "error", relErr)
			}
		}()
	}

	product, err := c.store.GetProduct(ctx, req.ProductID)
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, &domain.ValidationError{Field: "product_id", Reason: "unknown product"}
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	if !product.Active {
		return nil, &domain.ValidationError{Field: "product_id", Reason: "product is inactive"}
	}

	delta, err := req.Type.StockDelta(req.Quantity)
	if err != nil {
		return nil, err
	}
	if product.CurrentStock+delta < 0 {
		return nil, domain.ErrInsufficientStock
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate transaction id: %w", err)
	}
	txn := domain.Transaction{
		ID:          id.String(),
		ProductID:   product.ID,
		Quantity:    req.Quantity,
		Type:        req.Type,
		Description: req.Description,
		User:        req.User,
		Timestamp:   c.now().UTC().Truncate(time.Millisecond),
		SyncState:   domain.SyncStatePending,
	}

	// the store re-checks the stock guard; a concurrent OUT may have won
	if err := c.store.ApplyTransaction(ctx, txn, delta); err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, &domain.ValidationError{Field: "product_id", Reason: "unknown product"}
		}
		if errors.Is(err, domain.ErrInsufficientStock) || domain.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	metrics.TransactionsRecorded.WithLabelValues(string(txn.Type)).Inc()
	c.log.Info("transaction recorded",
		"txn_id", txn.ID, "product_id", txn.ProductID, "type", txn.Type,
		"quantity", txn.Quantity, "stock", product.CurrentStock+delta)

	sub := c.dispatcher.Dispatch("txn:"+txn.ID, func(ctx context.Context) (string, error) {
		return c.syncOne(ctx, txn.ID)
	})
	return &Recorded{Transaction: txn, Submission: sub}, nil
}

// syncOne is the immediate best-effort submission run by the dispatcher.
func (c *Coordinator) syncOne(ctx context.Context, id string) (string, error) {
	if !c.ledger.CheckConnectivity(ctx) {
		metrics.LedgerSubmissions.WithLabelValues("skipped").Inc()
		c.log.Info("ledger not connected, transaction left pending", "txn_id", id)
		return "", domain.ErrNotConnected
	}
	from, err := c.prepare(ctx)
	if err != nil {
		metrics.LedgerSubmissions.WithLabelValues("unavailable").Inc()
		return "", err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	txn, err := c.store.GetTransaction(ctx, id)
	if err != nil {
		return "", fmt.Errorf("reload transaction: %w", err)
	}
	hash, _, err := c.submitLocked(ctx, *txn, from)
	return hash, err
}

// prepare makes sure the witness contract exists and returns the sending
// account.
func (c *Coordinator) prepare(ctx context.Context) (string, error) {
	if _, err := c.ledger.EnsureDeployed(ctx); err != nil {
		return "", fmt.Errorf("ensure deployed: %w", err)
	}
	from, err := c.ledger.ResolveAccount(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	return from, nil
}

// submitLocked must be called with submitMu held. It reports whether this
// call moved the record to SYNCED; a record already synced is not sent again.
func (c *Coordinator) submitLocked(ctx context.Context, txn domain.Transaction, from string) (string, bool, error) {
	if txn.Synced() {
		if txn.LedgerHash != nil {
			return *txn.LedgerHash, false, nil
		}
		return "", false, nil
	}

	hash, err := c.ledger.SubmitRecord(ctx, payload.Encode(payload.ForTransaction(txn)), from)
	if err != nil {
		var rejected *domain.LedgerRejectedError
		if errors.As(err, &rejected) {
			metrics.LedgerSubmissions.WithLabelValues("rejected").Inc()
		} else {
			metrics.LedgerSubmissions.WithLabelValues("unavailable").Inc()
		}
		c.log.Warn("ledger submission failed, transaction left pending", "txn_id", txn.ID, "error", err)
		return "", false, err
	}

	marked, err := c.store.MarkSynced(ctx, txn.ID, hash)
	if err != nil {
		c.log.Error("witness sent but local state not updated", "txn_id", txn.ID, "hash", hash, "error", err)
		return "", false, fmt.Errorf("mark synced: %w", err)
	}
	if !marked {
		c.log.Warn("transaction was no longer pending", "txn_id", txn.ID, "hash", hash)
		return hash, false, nil
	}

	metrics.LedgerSubmissions.WithLabelValues("synced").Inc()
	c.log.Info("transaction synced", "txn_id", txn.ID, "hash", hash)
	return hash, true, nil
}

// SyncPending submits every PENDING record in the order it was recorded and
// returns how many were newly marked SYNCED. A failed record is logged and
// skipped.
func (c *Coordinator) SyncPending(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SyncPassDuration.Observe(time.Since(start).Seconds()) }()

	if !c.ledger.CheckConnectivity(ctx) {
		return 0, domain.ErrNotConnected
	}
	from, err := c.prepare(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync pending: %w", err)
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	synced := 0
	for _, txn := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if _, marked, err := c.submitLocked(ctx, txn, from); err == nil && marked {
			synced++
		}
	}

	if len(pending) > 0 {
		c.log.Info("sync pass finished", "pending", len(pending), "synced", synced)
	}
	return synced, nil
}

// Verify reports whether the ledger node knows the record's hash. A record
// without a hash, or an unreachable node, yields false.
func (c *Coordinator) Verify(ctx context.Context, transactionID string) (bool, error) {
	txn, err := c.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if txn.LedgerHash == nil || *txn.LedgerHash == "" {
		return false, nil
	}
	return c.ledger.FetchByHash(ctx, *txn.LedgerHash), nil
}

// Run calls SyncPending every interval until ctx ends.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.SyncPending(ctx)
			switch {
			case errors.Is(err, domain.ErrNotConnected):
				c.log.Debug("background sync skipped, ledger not connected")
			case err != nil && ctx.Err() == nil:
				c.log.Warn("background sync failed", "error", err)
			case n > 0:
				c.log.Info("background sync", "synced", n)
			}
		}
	}
}

func (c *Coordinator) LedgerStatus(ctx context.Context) (LedgerStatus, error) {
	var status LedgerStatus

	pending, err := c.store.ListPending(ctx)
	if err != nil {
		return status, fmt.Errorf("list pending: %w", err)
	}
	status.Pending = len(pending)

	status.Connected = c.ledger.CheckConnectivity(ctx)
	if !status.Connected {
		return status, nil
	}

	account, err := c.ledger.ResolveAccount(ctx)
	if err != nil {
		c.log.Warn("status: resolve account failed", "error", err)
		return status, nil
	}
	status.Account = account

	if ca, ok := c.ledger.(contractAddresser); ok {
		status.ContractAddress = ca.ContractAddress()
	}

	if wei, err := c.ledger.Balance(ctx, account); err != nil {
		c.log.Warn("status: balance lookup failed", "error", err)
	} else {
		status.BalanceWei = wei.String()
	}
	return status, nil
}

// SubmitWitness dispatches an untracked witness record, such as a product
// change. It shares the submission lock with transaction syncing.
func (c *Coordinator) SubmitWitness(name string, ev payload.Event) *Submission {
	data := payload.Encode(ev)
	return c.dispatcher.Dispatch(name, func(ctx context.Context) (string, error) {
		if !c.ledger.CheckConnectivity(ctx) {
			metrics.LedgerSubmissions.WithLabelValues("skipped").Inc()
			return "", domain.ErrNotConnected
		}
		from, err := c.prepare(ctx)
		if err != nil {
			return "", err
		}

		c.submitMu.Lock()
		defer c.submitMu.Unlock()
		hash, err := c.ledger.SubmitRecord(ctx, data, from)
		if err != nil {
			c.log.Warn("witness submission failed", "task", name, "error", err)
			return "", err
		}
		c.log.Info("witness recorded", "task", name, "hash", hash)
		return hash, nil
	})
}

// Close drains the dispatcher.
func (c *Coordinator) Close() {
	c.dispatcher.Close()
}
