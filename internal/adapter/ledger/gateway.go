// Package ledger is the gateway to the remote ledger node used as a witness
// log. It owns the RPC connection, the signing account, and the lifecycle of
// the witness contract.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/logger"
)

const (
	GasLimit    = 90000
	GasPriceWei = 20_000_000_000

	// witnessRegistryInitCode is PUSH1 0 PUSH1 0 RETURN: a creation
	// transaction that installs an empty contract used purely as an anchor
	// address for the witness log.
	witnessRegistryInitCode = "0x60006000f3"
)

var errNoAccounts = errors.New("node reports no accounts")

type Config struct {
	RPCURL             string
	CallTimeout        time.Duration
	RPS                float64
	Burst              int
	DeployPollAttempts int
	DeployPollInterval time.Duration
}

type contractState int

const (
	contractUndeployed contractState = iota
	contractDeploying
	contractDeployed
)

func (s contractState) String() string {
	switch s {
	case contractUndeployed:
		return "undeployed"
	case contractDeploying:
		return "deploying"
	case contractDeployed:
		return "deployed"
	default:
		return fmt.Sprintf("contractState(%d)", int(s))
	}
}

// deployFlight is the one-shot result of a single deployment attempt. addr
// and err are written before done is closed.
type deployFlight struct {
	done chan struct{}
	addr string
	err  error
}

type SessionInfo struct {
	Account         string `json:"account,omitempty"`
	ContractState   string `json:"contract_state"`
	ContractAddress string `json:"contract_address,omitempty"`
}

type txParams struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Data     string `json:"data"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
}

type receipt struct {
	TransactionHash string  `json:"transactionHash"`
	ContractAddress *string `json:"contractAddress"`
	Status          string  `json:"status"`
}

// Gateway is safe for concurrent use. One instance is shared by every
// caller in the process.
type Gateway struct {
	rpc *rpcClient
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	account  string
	state    contractState
	contract string
	flight   *deployFlight
}

func NewGateway(cfg Config, log *slog.Logger) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.DeployPollAttempts <= 0 {
		cfg.DeployPollAttempts = 20
	}
	if cfg.DeployPollInterval <= 0 {
		cfg.DeployPollInterval = 250 * time.Millisecond
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Gateway{
		rpc: newRPCClient(cfg.RPCURL, cfg.CallTimeout, cfg.RPS, cfg.Burst),
		cfg: cfg,
		log: log.With("component", "ledger_gateway"),
	}
}

// CheckConnectivity probes the node with web3_clientVersion and falls back
// to eth_blockNumber. It never returns an error.
func (g *Gateway) CheckConnectivity(ctx context.Context) bool {
	var version string
	err := g.rpc.callInto(ctx, &version, "web3_clientVersion")
	if err == nil {
		return true
	}
	g.log.Debug("client version probe failed", "error", err)

	var block string
	if err := g.rpc.callInto(ctx, &block, "eth_blockNumber"); err != nil {
		g.log.Debug("block number probe failed", "error", err)
		return false
	}
	return true
}

// ResolveAccount returns the node's first account. The result is cached for
// the lifetime of the gateway.
func (g *Gateway) ResolveAccount(ctx context.Context) (string, error) {
	g.mu.Lock()
	account := g.account
	g.mu.Unlock()
	if account != "" {
		return account, nil
	}

	var accounts []string
	if err := g.rpc.callInto(ctx, &accounts, "eth_accounts"); err != nil {
		var rejected *domain.LedgerRejectedError
		if errors.As(err, &rejected) {
			return "", &domain.ConnectionError{Op: "resolve account", Err: err}
		}
		return "", err
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return "", &domain.ConnectionError{Op: "resolve account", Err: errNoAccounts}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.account == "" {
		g.account = accounts[0]
		g.log.Info("resolved ledger account", "account", g.account)
	}
	return g.account, nil
}

// EnsureDeployed returns the witness contract address. Exactly one
// deployment runs at a time; concurrent callers wait for its result instead
// of starting another. After a successful deployment the address never
// changes. A failed attempt is reported to every waiter and the next call
// starts a fresh attempt.
func (g *Gateway) EnsureDeployed(ctx context.Context) (string, error) {
	g.mu.Lock()
	switch g.state {
	case contractDeployed:
		addr := g.contract
		g.mu.Unlock()
		return addr, nil

	case contractDeploying:
		f := g.flight
		g.mu.Unlock()
		g.log.Debug("waiting for in-flight contract deployment")
		select {
		case <-f.done:
			return f.addr, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}

	case contractUndeployed:
		f := &deployFlight{done: make(chan struct{})}
		g.state = contractDeploying
		g.flight = f
		g.mu.Unlock()

		// the attempt outlives a cancelled leader because waiters share it
		addr, err := g.deploy(context.WithoutCancel(ctx))

		g.mu.Lock()
		if err != nil {
			g.state = contractUndeployed
		} else {
			g.state = contractDeployed
			g.contract = addr
		}
		g.flight = nil
		f.addr, f.err = addr, err
		g.mu.Unlock()
		close(f.done)

		if err != nil {
			g.log.Error("contract deployment failed", "error", err)
		} else {
			g.log.Info("contract deployed", "address", addr)
		}
		return addr, err

	default:
		state := g.state
		g.mu.Unlock()
		return "", fmt.Errorf("ensure deployed: unknown contract state %s", state)
	}
}

func (g *Gateway) deploy(ctx context.Context) (string, error) {
	from, err := g.ResolveAccount(ctx)
	if err != nil {
		return "", fmt.Errorf("deploy: %w", err)
	}

	nonce, err := g.nonce(ctx, from)
	if err != nil {
		return "", fmt.Errorf("deploy: %w", err)
	}

	var txHash string
	err = g.rpc.callInto(ctx, &txHash, "eth_sendTransaction", txParams{
		From:     from,
		Data:     witnessRegistryInitCode,
		Gas:      toHex(GasLimit),
		GasPrice: toHex(GasPriceWei),
		Value:    toHex(0),
		Nonce:    nonce,
	})
	if err != nil {
		return "", fmt.Errorf("deploy: send creation tx: %w", err)
	}

	for attempt := 0; attempt < g.cfg.DeployPollAttempts; attempt++ {
		var r *receipt
		if err := g.rpc.callInto(ctx, &r, "eth_getTransactionReceipt", txHash); err != nil {
			g.log.Debug("receipt poll failed", "tx_hash", txHash, "error", err)
		} else if r != nil && r.ContractAddress != nil && *r.ContractAddress != "" {
			return *r.ContractAddress, nil
		}

		select {
		case <-time.After(g.cfg.DeployPollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", &domain.ConnectionError{
		Op:  "deploy",
		Err: fmt.Errorf("no contract address for %s after %d polls", txHash, g.cfg.DeployPollAttempts),
	}
}

// nonce is read live on every submission and never cached, so another
// process sharing the account cannot make us reuse a stale value.
func (g *Gateway) nonce(ctx context.Context, account string) (string, error) {
	var raw string
	if err := g.rpc.callInto(ctx, &raw, "eth_getTransactionCount", account, "latest"); err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}
	n, err := parseHexUint64(raw)
	if err != nil {
		return "", &domain.ConnectionError{Op: "eth_getTransactionCount", Err: err}
	}
	return toHex(n), nil
}

// SubmitRecord sends a zero-value, self-directed transaction carrying
// payload as opaque data and returns its hash.
func (g *Gateway) SubmitRecord(ctx context.Context, payload, from string) (string, error) {
	nonce, err := g.nonce(ctx, from)
	if err != nil {
		return "", err
	}

	var txHash string
	err = g.rpc.callInto(ctx, &txHash, "eth_sendTransaction", txParams{
		From:     from,
		To:       from,
		Data:     payload,
		Gas:      toHex(GasLimit),
		GasPrice: toHex(GasPriceWei),
		Value:    toHex(0),
		Nonce:    nonce,
	})
	if err != nil {
		return "", fmt.Errorf("submit record: %w", err)
	}
	if txHash == "" {
		return "", &domain.ConnectionError{Op: "eth_sendTransaction", Err: errors.New("empty transaction hash")}
	}

	g.log.Debug("witness transaction sent", "tx_hash", txHash, "nonce", nonce)
	return txHash, nil
}

// FetchByHash reports whether the node knows the transaction. Errors are
// reported as false.
func (g *Gateway) FetchByHash(ctx context.Context, hash string) bool {
	raw, err := g.rpc.call(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		g.log.Warn("transaction lookup failed", "tx_hash", hash, "error", err)
		return false
	}

	var tx map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tx); err != nil {
		g.log.Warn("transaction lookup returned malformed result", "tx_hash", hash, "error", err)
		return false
	}
	return tx != nil
}

// Balance returns the account balance in wei. Conversion to display units is
// left to callers.
func (g *Gateway) Balance(ctx context.Context, account string) (*big.Int, error) {
	var raw string
	if err := g.rpc.callInto(ctx, &raw, "eth_getBalance", account, "latest"); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	wei, err := parseHexBig(raw)
	if err != nil {
		return nil, &domain.ConnectionError{Op: "eth_getBalance", Err: err}
	}
	return wei, nil
}

// ContractAddress is empty until a deployment has succeeded.
func (g *Gateway) ContractAddress() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contract
}

func (g *Gateway) Session() SessionInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return SessionInfo{
		Account:         g.account,
		ContractState:   g.state.String(),
		ContractAddress: g.contract,
	}
}
