package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/walletmesh/wallet-indexer/internal/indexer"
	"github.com/walletmesh/wallet-indexer/internal/metrics"
	"github.com/walletmesh/wallet-indexer/pkg/cache/txcache"
	"github.com/walletmesh/wallet-indexer/pkg/common/config"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
	"github.com/walletmesh/wallet-indexer/pkg/events"
	"github.com/walletmesh/wallet-indexer/pkg/store/ledger"
)

// Deps groups everything a TransferWorker needs. Store and cache handles
// are injected so the worker is testable against temporary-backed stores.
type Deps struct {
	Chain   *indexer.ChainIndexer
	Ledger  *ledger.Store
	Cache   *txcache.Cache
	Emitter events.Emitter
	Metrics *metrics.Metrics
	Config  config.NetworkConfig
}

// TransferWorker runs the poll/checkpoint/fetch/persist/invalidate cycle
// for one network. Chunk boundaries are the only commit points: the
// checkpoint advances exactly when a chunk is fully persisted, so a failed
// tick resumes at checkpoint+1 with no block skipped.
type TransferWorker struct {
	*BaseWorker
	deps Deps
}

func NewTransferWorker(ctx context.Context, deps Deps) *TransferWorker {
	return &TransferWorker{
		BaseWorker: newBaseWorker(ctx, deps.Chain.Network(), deps.Config.PollInterval),
		deps:       deps,
	}
}

func (w *TransferWorker) Start() {
	w.logger.Info("Starting transfer worker",
		"poll_interval", w.deps.Config.PollInterval,
		"chunk_size", w.deps.Config.ChunkSize,
		"contracts", len(w.deps.Chain.Registry().Contracts()),
	)
	go w.run(w.tick)
}

// tick performs one full pass of the indexing state machine.
func (w *TransferWorker) tick(ctx context.Context) error {
	networkKey := w.deps.Chain.NetworkKey()
	w.deps.Metrics.TicksRun.WithLabelValues(networkKey).Inc()

	// The checkpoint is the correctness anchor; failing to read it aborts
	// the tick before any fetch.
	checkpoint, err := w.deps.Ledger.LastIndexedBlock(networkKey)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	head, err := w.deps.Chain.LatestBlock(ctx)
	if err != nil {
		w.deps.Metrics.RPCErrors.WithLabelValues(networkKey).Inc()
		return fmt.Errorf("fetch head: %w", err)
	}

	// Stay behind the confirmation buffer so indexed logs are final.
	target := head
	if depth := w.deps.Config.ConfirmationDepth; depth > 0 {
		if head <= depth {
			return nil
		}
		target = head - depth
	}

	var start uint64
	if checkpoint == 0 {
		// Bootstrap: look back a bounded window instead of scanning from
		// genesis.
		if target > w.deps.Config.InitialLookback {
			start = target - w.deps.Config.InitialLookback
		}
	} else {
		start = checkpoint + 1
	}

	if start > target {
		return nil // caught up
	}

	if len(w.deps.Chain.Registry().Contracts()) == 0 {
		// Nothing to fetch, but the checkpoint still advances so a later
		// contract addition does not trigger a deep rescan.
		if err := w.deps.Ledger.SetLastIndexedBlock(networkKey, target); err != nil {
			return fmt.Errorf("advance checkpoint: %w", err)
		}
		w.deps.Metrics.LastIndexedBlock.WithLabelValues(networkKey).Set(float64(target))
		return nil
	}

	for chunkStart := start; chunkStart <= target; {
		// Cancellation is instantaneous between chunks.
		if ctx.Err() != nil {
			return nil
		}

		chunkEnd := min(chunkStart+w.deps.Config.ChunkSize-1, target)
		if err := w.processChunk(ctx, networkKey, chunkStart, chunkEnd); err != nil {
			return fmt.Errorf("chunk [%d, %d]: %w", chunkStart, chunkEnd, err)
		}
		chunkStart = chunkEnd + 1
	}
	return nil
}

// processChunk fetches, persists and commits one chunk. The checkpoint
// advances only if every relevant event in the chunk persisted; upserts are
// idempotent, so retrying a failed chunk is safe.
func (w *TransferWorker) processChunk(ctx context.Context, networkKey string, from, to uint64) error {
	transfers, err := w.deps.Chain.TransferLogs(ctx, from, to)
	if err != nil {
		w.deps.Metrics.RPCErrors.WithLabelValues(networkKey).Inc()
		return err
	}

	failures := 0
	for _, ev := range transfers {
		stored, err := w.persistEvent(ev)
		if err != nil {
			failures++
			w.logger.Error("Failed to persist transfer",
				"tx", ev.TxHash, "block", ev.BlockNumber, "err", err)
			w.deps.Metrics.PersistFailures.WithLabelValues(networkKey).Inc()
			continue
		}
		if !stored {
			continue
		}

		w.deps.Metrics.TransfersStored.WithLabelValues(networkKey).Inc()

		// Drop cached first pages for both sides, registered or not, so the
		// next read repopulates from the ledger.
		w.deps.Cache.Invalidate(ev.From)
		w.deps.Cache.Invalidate(ev.To)
		w.deps.Metrics.CacheInvalidations.Add(2)
	}

	if failures > 0 {
		return fmt.Errorf("%d transfers failed to persist, checkpoint held", failures)
	}

	if err := w.deps.Ledger.SetLastIndexedBlock(networkKey, to); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	w.deps.Metrics.LastIndexedBlock.WithLabelValues(networkKey).Set(float64(to))

	if len(transfers) > 0 {
		w.logger.Info("Committed chunk", "from", from, "to", to, "transfers", len(transfers))
	}
	return nil
}

// persistEvent files one transfer under its registered wallet(s). The bool
// reports whether a new record was stored; discarded and duplicate events
// return false with no error.
func (w *TransferWorker) persistEvent(ev indexer.TransferEvent) (bool, error) {
	networkKey := w.deps.Chain.NetworkKey()

	fromWallet, fromRegistered, err := w.deps.Ledger.WalletIDForAddress(ev.From)
	if err != nil {
		return false, fmt.Errorf("resolve from address: %w", err)
	}
	toWallet, toRegistered, err := w.deps.Ledger.WalletIDForAddress(ev.To)
	if err != nil {
		return false, fmt.Errorf("resolve to address: %w", err)
	}
	if !fromRegistered && !toRegistered {
		w.deps.Metrics.EventsDiscarded.WithLabelValues(networkKey).Inc()
		return false, nil
	}

	// Re-ingestion of an already stored event is an expected steady-state
	// occurrence at chunk boundaries, not an error.
	if _, exists, err := w.deps.Ledger.GetTransaction(networkKey, ev.TxHash); err != nil {
		return false, fmt.Errorf("idempotency check: %w", err)
	} else if exists {
		w.deps.Metrics.DuplicatesSkipped.WithLabelValues(networkKey).Inc()
		return false, nil
	}

	token := w.deps.Chain.Registry().Resolve(ev.Contract)
	now := time.Now().UTC()

	tx := &types.Transaction{
		TxHash:      ev.TxHash,
		FromAddress: ev.From,
		ToAddress:   ev.To,
		Amount:      indexer.FormatAmount(ev.Value, token.Decimals),
		Token:       types.NewERC20Token(token.Symbol, ev.Contract),
		Network:     networkKey,
		Status:      types.StatusConfirmed,
		BlockNumber: ev.BlockNumber,
		ExplorerURL: w.deps.Chain.ExplorerTxURL(ev.TxHash),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The from side resolves first when both are registered.
	if fromRegistered {
		tx.WalletID = fromWallet
		if toRegistered && toWallet != fromWallet {
			tx.CounterpartyWalletID = toWallet
		}
	} else {
		tx.WalletID = toWallet
	}

	var entries []ledger.IndexEntry
	if fromRegistered {
		entries = append(entries, ledger.IndexEntry{Address: ev.From, Direction: types.DirectionSent})
	}
	if toRegistered && ev.To != ev.From {
		entries = append(entries, ledger.IndexEntry{Address: ev.To, Direction: types.DirectionReceived})
	}

	if err := w.deps.Ledger.UpsertTransaction(tx, entries); err != nil {
		return false, err
	}

	if err := w.deps.Emitter.EmitTransaction(networkKey, tx); err != nil {
		w.logger.Warn("Failed to emit transaction event", "tx", tx.TxHash, "err", err)
	}
	return true, nil
}
