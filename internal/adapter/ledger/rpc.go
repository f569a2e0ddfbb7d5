package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/metrics"
)

const jsonRPCVersion = "2.0"

var errMissingResult = errors.New("response has neither result nor error")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// rpcClient speaks JSON-RPC 2.0 over HTTP POST to a single endpoint. Every
// call is bounded by timeout and paced by limiter.
type rpcClient struct {
	http    *resty.Client
	url     string
	timeout time.Duration
	limiter *rate.Limiter
	nextID  atomic.Uint64
}

func newRPCClient(url string, timeout time.Duration, rps float64, burst int) *rpcClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &rpcClient{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		url:     url,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// call returns the raw result. A JSON-RPC error object becomes a
// *domain.LedgerRejectedError; everything else that goes wrong is a
// *domain.ConnectionError.
func (c *rpcClient) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.ConnectionError{Op: method, Err: err}
	}

	start := time.Now()
	defer func() {
		metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.url)
	if err != nil {
		return nil, &domain.ConnectionError{Op: method, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &domain.ConnectionError{
			Op:  method,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	var out rpcResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &domain.ConnectionError{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != nil {
		return nil, &domain.LedgerRejectedError{Code: out.Error.Code, Reason: out.Error.Message}
	}
	if len(out.Result) == 0 {
		return nil, &domain.ConnectionError{Op: method, Err: errMissingResult}
	}
	return out.Result, nil
}

func (c *rpcClient) callInto(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.call(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.ConnectionError{Op: method, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}
