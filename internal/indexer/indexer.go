package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/walletmesh/wallet-indexer/internal/rpc"
	"github.com/walletmesh/wallet-indexer/internal/rpc/evm"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

// ChainIndexer fetches and decodes ERC-20 Transfer events for one network.
// It owns no state beyond its RPC provider set and token registry; the
// worker drives it through the checkpoint/chunk cycle.
type ChainIndexer struct {
	network     string
	explorerURL string
	failover    *rpc.Failover[evm.API]
	registry    *TokenRegistry
	logger      *slog.Logger
}

func NewChainIndexer(
	network string,
	explorerURL string,
	failover *rpc.Failover[evm.API],
	registry *TokenRegistry,
	logger *slog.Logger,
) *ChainIndexer {
	return &ChainIndexer{
		network:     network,
		explorerURL: explorerURL,
		failover:    failover,
		registry:    registry,
		logger:      logger,
	}
}

func (c *ChainIndexer) Network() string { return c.network }

// NetworkKey is the normalized checkpoint key for this network.
func (c *ChainIndexer) NetworkKey() string { return types.NormalizeNetworkKey(c.network) }

func (c *ChainIndexer) Registry() *TokenRegistry { return c.registry }

// ExplorerTxURL precomputes the display link for a transaction hash.
func (c *ChainIndexer) ExplorerTxURL(txHash string) string {
	if c.explorerURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", c.explorerURL, types.EnsureHexPrefix(txHash))
}

func (c *ChainIndexer) LatestBlock(ctx context.Context) (uint64, error) {
	var latest uint64
	err := c.failover.Execute(ctx, func(api evm.API) error {
		n, err := api.GetBlockNumber(ctx)
		latest = n
		return err
	})
	return latest, err
}

// TransferLogs fetches and decodes Transfer events for the monitored
// contract set over [from, to]. Malformed logs are skipped per entry; the
// decoded events preserve node order (ascending block, log index).
func (c *ChainIndexer) TransferLogs(ctx context.Context, from, to uint64) ([]TransferEvent, error) {
	contracts := c.registry.Contracts()
	if len(contracts) == 0 {
		return nil, nil
	}

	var logs []evm.Log
	err := c.failover.Execute(ctx, func(api evm.API) error {
		var err error
		logs, err = api.GetLogs(ctx, evm.FilterQuery{
			FromBlock: from,
			ToBlock:   to,
			Addresses: contracts,
			Topics:    []string{TransferTopic},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		ev, ok := DecodeTransferLog(log)
		if !ok {
			c.logger.Debug("Skipping malformed transfer log",
				"network", c.network, "tx", log.TxHash, "topics", len(log.Topics))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
