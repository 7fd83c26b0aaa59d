package evm

import "context"

// API is the chain RPC surface the indexer consumes.
type API interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query FilterQuery) ([]Log, error)
}
