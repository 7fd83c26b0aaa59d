package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/walletmesh/wallet-indexer/internal/rpc"
)

// Client talks JSON-RPC to one EVM node.
type Client struct {
	*rpc.Client
}

func NewClient(url string, auth *rpc.AuthConfig, timeout time.Duration) *Client {
	return &Client{Client: rpc.NewClient(url, auth, timeout)}
}

// GetBlockNumber returns the current chain head.
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	resp, err := c.CallRPC(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}

	var blockHex string
	if err := json.Unmarshal(resp.Result, &blockHex); err != nil {
		return 0, fmt.Errorf("unmarshal block number: %w", err)
	}
	return ParseHexUint64(blockHex)
}

// GetLogs fetches logs for the filter. The node returns them ordered by
// block and log index.
func (c *Client) GetLogs(ctx context.Context, query FilterQuery) ([]Log, error) {
	resp, err := c.CallRPC(ctx, "eth_getLogs", []any{query.toParams()})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d, %d] failed: %w", query.FromBlock, query.ToBlock, err)
	}

	var logs []Log
	if err := json.Unmarshal(resp.Result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	return logs, nil
}
