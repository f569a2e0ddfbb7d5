package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
	"github.com/rl1809/inventory-ledger/internal/logger"
	"github.com/rl1809/inventory-ledger/internal/port"
)

const (
	ledgerSyncServiceName = "inventory.v1.LedgerSync"

	// LedgerHealthService is the health-check service name that tracks
	// ledger node connectivity.
	LedgerHealthService = "ledger"
)

type RecordTransactionRequest struct {
	RequestID   string `json:"request_id"`
	ProductID   string `json:"product_id"`
	Quantity    int64  `json:"quantity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	User        string `json:"user"`
}

type RecordTransactionResponse struct {
	Transaction domain.Transaction `json:"transaction"`
}

type SyncPendingRequest struct{}

type SyncPendingResponse struct {
	Synced int `json:"synced"`
}

type VerifyRequest struct {
	TransactionID string `json:"transaction_id"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
}

type LedgerStatusRequest struct{}

// LedgerSyncServer is the server API of the inventory.v1.LedgerSync service.
type LedgerSyncServer interface {
	RecordTransaction(context.Context, *RecordTransactionRequest) (*RecordTransactionResponse, error)
	SyncPending(context.Context, *SyncPendingRequest) (*SyncPendingResponse, error)
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
	LedgerStatus(context.Context, *LedgerStatusRequest) (*service.LedgerStatus, error)
}

var ledgerSyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerSyncServiceName,
	HandlerType: (*LedgerSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordTransaction", Handler: unaryHandler("RecordTransaction", LedgerSyncServer.RecordTransaction)},
		{MethodName: "SyncPending", Handler: unaryHandler("SyncPending", LedgerSyncServer.SyncPending)},
		{MethodName: "Verify", Handler: unaryHandler("Verify", LedgerSyncServer.Verify)},
		{MethodName: "LedgerStatus", Handler: unaryHandler("LedgerStatus", LedgerSyncServer.LedgerStatus)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Req, Resp any](method string, call func(LedgerSyncServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ledgerSyncServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerSyncServer), ctx, req.(*Req))
		})
	}
}

type GRPCHandler struct {
	coordinator *service.Coordinator
	ledger      port.LedgerGateway
	health      *health.Server
	log         *slog.Logger
}

func NewGRPCHandler(coordinator *service.Coordinator, ledger port.LedgerGateway, log *slog.Logger) *GRPCHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &GRPCHandler{
		coordinator: coordinator,
		ledger:      ledger,
		health:      health.NewServer(),
		log:         log.With("component", "grpc"),
	}
}

// Register installs LedgerSync and the standard health service on s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ledgerSyncServiceDesc, h)
	healthpb.RegisterHealthServer(s, h.health)
	h.health.SetServingStatus(LedgerHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// WatchLedger probes the ledger node every interval and mirrors the result
// into the "ledger" health entry until ctx ends.
func (h *GRPCHandler) WatchLedger(ctx context.Context, interval time.Duration) {
	h.probe(ctx)
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
			h.probe(ctx)
		}
	}
}

func (h *GRPCHandler) probe(ctx context.Context) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if h.ledger.CheckConnectivity(ctx) {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(LedgerHealthService, st)
}

// Shutdown flips every health entry to NOT_SERVING.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}

func (h *GRPCHandler) RecordTransaction(ctx context.Context, req *RecordTransactionRequest) (*RecordTransactionResponse, error) {
	typ, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		return nil, h.toStatus(err)
	}
	rec, err := h.coordinator.RecordTransaction(ctx, service.RecordRequest{
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		Type:        typ,
		Description: req.Description,
		User:        req.User,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &RecordTransactionResponse{Transaction: rec.Transaction}, nil
}

func (h *GRPCHandler) SyncPending(ctx context.Context, _ *SyncPendingRequest) (*SyncPendingResponse, error) {
	n, err := h.coordinator.SyncPending(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &SyncPendingResponse{Synced: n}, nil
}

func (h *GRPCHandler) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	if req.TransactionID == "" {
		return nil, status.Error(codes.InvalidArgument, "transaction_id required")
	}
	ok, err := h.coordinator.Verify(ctx, req.TransactionID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &VerifyResponse{Verified: ok}, nil
}

func (h *GRPCHandler) LedgerStatus(ctx context.Context, _ *LedgerStatusRequest) (*service.LedgerStatus, error) {
	st, err := h.coordinator.LedgerStatus(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &st, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	var (
		vErr    *domain.ValidationError
		connErr *domain.ConnectionError
	)
	switch {
	case errors.As(err, &vErr):
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, "insufficient stock")
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrNotConnected):
		return status.Error(codes.Unavailable, "ledger node not connected")
	case errors.As(err, &connErr):
		h.log.Warn("ledger node unavailable", "error", err)
		return status.Error(codes.Unavailable, "ledger node unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		h.log.Error("rpc failed", "error", err)
		return status.Errorf(codes.Internal, "internal error")
	}
}

// LedgerSyncClient calls inventory.v1.LedgerSync using the JSON codec.
type LedgerSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerSyncClient(cc grpc.ClientConnInterface) *LedgerSyncClient {
	return &LedgerSyncClient{cc: cc}
}

func (c *LedgerSyncClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ledgerSyncServiceName+"/"+method, in, out, opts...)
}

func (c *LedgerSyncClient) RecordTransaction(ctx context.Context, in *RecordTransactionRequest, opts ...grpc.CallOption) (*RecordTransactionResponse, error) {
	out := new(RecordTransactionResponse)
	if err := c.invoke(ctx, "RecordTransaction", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerSyncClient) SyncPending(ctx context.Context, in *SyncPendingRequest, opts ...grpc.CallOption) (*SyncPendingResponse, error) {
	out := new(SyncPendingResponse)
	if err := c.invoke(ctx, "SyncPending", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerSyncClient) Verify(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*VerifyResponse, error) {
	out := new(VerifyResponse)
	if err := c.invoke(ctx, "Verify", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerSyncClient) LedgerStatus(ctx context.Context, in *LedgerStatusRequest, opts ...grpc.CallOption) (*service.LedgerStatus, error) {
	out := new(service.LedgerStatus)
	if err := c.invoke(ctx, "LedgerStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
