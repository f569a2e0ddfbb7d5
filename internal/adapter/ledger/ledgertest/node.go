// Package ledgertest runs an in-process JSON-RPC ledger node for tests.
package ledgertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SentTx is a transaction accepted by the node.
type SentTx struct {
	Hash     string
	From     string
	To       string
	Data     string
	Gas      string
	GasPrice string
	Value    string
	Nonce    uint64
}

type Node struct {
	Server *httptest.Server

	mu          sync.Mutex
	available   bool
	accounts    []string
	balanceHex  string
	nonces      map[string]uint64
	txs         map[string]SentTx
	receipts    map[string]string // tx hash -> contract address
	calls       map[string]int
	rejectSends string
	deployDelay time.Duration
	seq         int
}

func NewNode() *Node {
	n := &Node{
		available:  true,
		accounts:   []string{"0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1"},
		balanceHex: "0x56bc75e2d63100000",
		nonces:     make(map[string]uint64),
		txs:        make(map[string]SentTx),
		receipts:   make(map[string]string),
		calls:      make(map[string]int),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	return n
}

func (n *Node) URL() string { return n.Server.URL }

func (n *Node) Close() { n.Server.Close() }

// SetAvailable makes the node answer every request with 503 when false.
func (n *Node) SetAvailable(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.available = v
}

func (n *Node) SetAccounts(accounts ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts = accounts
}

// RejectSends makes eth_sendTransaction return a JSON-RPC error with reason.
// An empty reason accepts sends again.
func (n *Node) RejectSends(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejectSends = reason
}

// SetDeployDelay slows down contract-creation transactions so concurrent
// callers overlap.
func (n *Node) SetDeployDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deployDelay = d
}

func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// Deployments counts accepted contract-creation transactions.
func (n *Node) Deployments() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, tx := range n.txs {
		if tx.To == "" {
			count++
		}
	}
	return count
}

// Records returns accepted self-directed witness transactions in nonce order.
func (n *Node) Records() []SentTx {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SentTx, 0, len(n.txs))
	for _, tx := range n.txs {
		if tx.To != "" {
			out = append(out, tx)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Nonce < out[j-1].Nonce; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Forget drops a transaction so lookups by its hash return null.
func (n *Node) Forget(hash string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.txs, hash)
}

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

type rpcErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *Node) serve(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	available := n.available
	n.mu.Unlock()
	if !available {
		http.Error(w, "node offline", http.StatusServiceUnavailable)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	result, rerr := n.dispatch(req)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rerr != nil {
		resp["error"] = rerr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (n *Node) dispatch(req request) (any, *rpcErr) {
	n.mu.Lock()
	n.calls[req.Method]++
	n.mu.Unlock()

	switch req.Method {
	case "web3_clientVersion":
		return "LedgerTest/v1.0.0", nil
	case "eth_blockNumber":
		n.mu.Lock()
		defer n.mu.Unlock()
		return fmt.Sprintf("0x%x", len(n.txs)), nil
	case "eth_accounts":
		n.mu.Lock()
		defer n.mu.Unlock()
		return append([]string{}, n.accounts...), nil
	case "eth_getBalance":
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.balanceHex, nil
	case "eth_getTransactionCount":
		account, err := stringParam(req, 0)
		if err != nil {
			return nil, err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		return fmt.Sprintf("0x%x", n.nonces[strings.ToLower(account)]), nil
	case "eth_sendTransaction":
		return n.send(req)
	case "eth_getTransactionByHash":
		hash, err := stringParam(req, 0)
		if err != nil {
			return nil, err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		tx, ok := n.txs[hash]
		if !ok {
			return nil, nil
		}
		return map[string]any{
			"hash":  tx.Hash,
			"from":  tx.From,
			"to":    nullable(tx.To),
			"input": tx.Data,
			"nonce": fmt.Sprintf("0x%x", tx.Nonce),
		}, nil
	case "eth_getTransactionReceipt":
		hash, err := stringParam(req, 0)
		if err != nil {
			return nil, err
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		tx, ok := n.txs[hash]
		if !ok {
			return nil, nil
		}
		r := map[string]any{"transactionHash": tx.Hash, "status": "0x1", "contractAddress": nil}
		if addr, ok := n.receipts[hash]; ok {
			r["contractAddress"] = addr
		}
		return r, nil
	default:
		return nil, &rpcErr{Code: -32601, Message: "method not found: " + req.Method}
	}
}

func (n *Node) send(req request) (any, *rpcErr) {
	if len(req.Params) != 1 {
		return nil, &rpcErr{Code: -32602, Message: "expected one transaction object"}
	}
	var p struct {
		From     string `json:"from"`
		To       string `json:"to"`
		Data     string `json:"data"`
		Gas      string `json:"gas"`
		GasPrice string `json:"gasPrice"`
		Value    string `json:"value"`
		Nonce    string `json:"nonce"`
	}
	if err := json.Unmarshal(req.Params[0], &p); err != nil {
		return nil, &rpcErr{Code: -32602, Message: err.Error()}
	}

	n.mu.Lock()
	delay := n.deployDelay
	n.mu.Unlock()
	if p.To == "" && delay > 0 {
		time.Sleep(delay)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.rejectSends != "" {
		return nil, &rpcErr{Code: -32000, Message: n.rejectSends}
	}

	from := strings.ToLower(p.From)
	nonce, err := strconv.ParseUint(strings.TrimPrefix(p.Nonce, "0x"), 16, 64)
	if err != nil {
		return nil, &rpcErr{Code: -32602, Message: "invalid nonce"}
	}
	if nonce != n.nonces[from] {
		return nil, &rpcErr{Code: -32000, Message: fmt.Sprintf("nonce mismatch: expected %d, got %d", n.nonces[from], nonce)}
	}
	n.nonces[from]++

	n.seq++
	hash := fmt.Sprintf("0x%064x", n.seq)
	n.txs[hash] = SentTx{
		Hash:     hash,
		From:     p.From,
		To:       p.To,
		Data:     p.Data,
		Gas:      p.Gas,
		GasPrice: p.GasPrice,
		Value:    p.Value,
		Nonce:    nonce,
	}
	if p.To == "" {
		n.receipts[hash] = fmt.Sprintf("0x%040x", 0xc0ffee+n.seq)
	}
	return hash, nil
}

func stringParam(req request, i int) (string, *rpcErr) {
	if len(req.Params) <= i {
		return "", &rpcErr{Code: -32602, Message: "missing params"}
	}
	var s string
	if err := json.Unmarshal(req.Params[i], &s); err != nil {
		return "", &rpcErr{Code: -32602, Message: err.Error()}
	}
	return s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
