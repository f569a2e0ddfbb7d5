package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/logger"
	"github.com/rl1809/inventory-ledger/internal/metrics"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	coordinator *service.Coordinator
	products    *service.ProductService
	log         *slog.Logger
}

type RecordTransactionHTTPRequest struct {
	RequestID   string `json:"request_id"`
	ProductID   string `json:"product_id"`
	Quantity    int64  `json:"quantity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	User        string `json:"user"`
}

type ErrorHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SyncHTTPResponse struct {
	Success bool `json:"success"`
	Synced  int  `json:"synced"`
}

type VerifyHTTPResponse struct {
	TransactionID string `json:"transaction_id"`
	Verified      bool   `json:"verified"`
}

func NewHTTPHandler(coordinator *service.Coordinator, products *service.ProductService, log *slog.Logger) *HTTPHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &HTTPHandler{
		coordinator: coordinator,
		products:    products,
		log:         log.With("component", "http"),
	}
}

// Routes builds the chi router serving the REST API, /health and /metrics.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/products", func(r chi.Router) {
		r.Post("/", h.CreateProduct)
		r.Get("/", h.ListProducts)
		r.Get("/low-stock", h.LowStockProducts)
		r.Get("/stats", h.ProductStats)
		r.Get("/{id}", h.GetProduct)
		r.Put("/{id}", h.UpdateProduct)
		r.Post("/{id}/activate", h.setActive(true))
		r.Post("/{id}/deactivate", h.setActive(false))
	})

	r.Route("/api/transactions", func(r chi.Router) {
		r.Post("/", h.RecordTransaction)
		r.Get("/", h.ListTransactions)
		r.Get("/stats", h.TransactionStats)
		r.Get("/{id}", h.GetTransaction)
		r.Get("/{id}/verify", h.Verify)
	})

	r.Route("/api/ledger", func(r chi.Router) {
		r.Post("/sync", h.SyncPending)
		r.Get("/status", h.LedgerStatus)
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordTransactionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: "invalid request body"})
		return
	}

	typ, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		h.writeError(w, err)
		return
	}

	requestID := req.RequestID
	if key := r.Header.Get(idempotencyHeader); key != "" {
		requestID = key
	}

	rec, err := h.coordinator.RecordTransaction(r.Context(), service.RecordRequest{
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		Type:        typ,
		Description: req.Description,
		User:        req.User,
		RequestID:   requestID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec.Transaction)
}

func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TransactionFilter{
		ProductID: q.Get("product_id"),
		User:      q.Get("user"),
	}
	if v := q.Get("type"); v != "" {
		typ, err := domain.ParseTransactionType(v)
		if err != nil {
			h.writeError(w, err)
			return
		}
		filter.Type = typ
	}
	if v := q.Get("state"); v != "" {
		state, err := domain.ParseSyncState(v)
		if err != nil {
			h.writeError(w, err)
			return
		}
		filter.State = state
	}
	var err error
	if filter.From, err = parseTimeParam(q.Get("from"), "from"); err != nil {
		h.writeError(w, err)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to"), "to"); err != nil {
		h.writeError(w, err)
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			h.writeError(w, &domain.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	txns, err := h.coordinator.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func parseTimeParam(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	return t, nil
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.coordinator.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *HTTPHandler) TransactionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coordinator.TransactionStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.coordinator.Verify(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyHTTPResponse{TransactionID: id, Verified: ok})
}

func (h *HTTPHandler) SyncPending(w http.ResponseWriter, r *http.Request) {
	n, err := h.coordinator.SyncPending(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncHTTPResponse{Success: true, Synced: n})
}

func (h *HTTPHandler) LedgerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.LedgerStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: "invalid request body"})
		return
	}
	p, err := h.products.CreateProduct(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []domain.Product
		err      error
	)
	if name := r.URL.Query().Get("q"); name != "" {
		products, err = h.products.SearchProducts(r.Context(), name)
	} else {
		activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
		products, err = h.products.ListProducts(r.Context(), activeOnly)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) LowStockProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.LowStockProducts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *HTTPHandler) ProductStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.products.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTPHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Message: "invalid request body"})
		return
	}
	p, err := h.products.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *HTTPHandler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.products.SetActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var (
		vErr    *domain.ValidationError
		connErr *domain.ConnectionError
	)
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
		message = vErr.Error()
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		status = http.StatusConflict
		message = "insufficient stock"
	case errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
		message = "duplicate request"
	case errors.Is(err, domain.ErrNotConnected):
		status = http.StatusServiceUnavailable
		message = "ledger node not connected"
	case errors.As(err, &connErr):
		status = http.StatusServiceUnavailable
		message = "ledger node unavailable"
		h.log.Warn("ledger node unavailable", "error", err)
	default:
		h.log.Error("request failed", "error", err)
	}

	writeJSON(w, status, ErrorHTTPResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
