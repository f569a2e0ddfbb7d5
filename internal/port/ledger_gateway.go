package port

import (
	"context"
	"math/big"
)

// LedgerGateway is the remote witness log reached over JSON-RPC.
type LedgerGateway interface {
	// CheckConnectivity never fails; any error is reported as false
	CheckConnectivity(ctx context.Context) bool

	ResolveAccount(ctx context.Context) (string, error)

	// EnsureDeployed returns the witness contract address, deploying it at
	// most once per process no matter how many callers race.
	EnsureDeployed(ctx context.Context) (string, error)

	SubmitRecord(ctx context.Context, payload, from string) (string, error)

	// FetchByHash never fails; any error is reported as false
	FetchByHash(ctx context.Context, hash string) bool

	Balance(ctx context.Context, account string) (*big.Int, error)
}
