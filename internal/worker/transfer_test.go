package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmesh/wallet-indexer/internal/indexer"
	"github.com/walletmesh/wallet-indexer/internal/metrics"
	"github.com/walletmesh/wallet-indexer/internal/rpc"
	"github.com/walletmesh/wallet-indexer/internal/rpc/evm"
	"github.com/walletmesh/wallet-indexer/pkg/cache/txcache"
	"github.com/walletmesh/wallet-indexer/pkg/common/config"
	"github.com/walletmesh/wallet-indexer/pkg/common/logger"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
	"github.com/walletmesh/wallet-indexer/pkg/events"
	"github.com/walletmesh/wallet-indexer/pkg/store/ledger"
)

const (
	usdcContract = "0x5425890298aed601595a70ab815c96711a31bc65"
	addrAlice    = "0xaaaa000000000000000000000000000000000001"
	addrBob      = "0xbbbb000000000000000000000000000000000002"
	addrStranger = "0xcccc000000000000000000000000000000000003"
)

// fakeChainAPI is an in-memory evm.API serving canned heads and logs.
type fakeChainAPI struct {
	mu      sync.Mutex
	head    uint64
	headErr error
	logs    []evm.Log
	failAt  func(from, to uint64) error
	calls   [][2]uint64
}

func (f *fakeChainAPI) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChainAPI) GetLogs(ctx context.Context, q evm.FilterQuery) ([]evm.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]uint64{q.FromBlock, q.ToBlock})
	if f.failAt != nil {
		if err := f.failAt(q.FromBlock, q.ToBlock); err != nil {
			return nil, err
		}
	}

	var out []evm.Log
	for _, l := range f.logs {
		n, err := l.BlockNumberUint64()
		if err != nil {
			continue
		}
		if n >= q.FromBlock && n <= q.ToBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChainAPI) rangeCalls() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint64(nil), f.calls...)
}

func addressTopic(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

func transferLog(from, to string, value, block uint64, hash string) evm.Log {
	return evm.Log{
		Address:     usdcContract,
		Topics:      []string{indexer.TransferTopic, addressTopic(from), addressTopic(to)},
		Data:        fmt.Sprintf("0x%064x", value),
		TxHash:      hash,
		BlockNumber: fmt.Sprintf("0x%x", block),
	}
}

type testEnv struct {
	worker *TransferWorker
	fake   *fakeChainAPI
	ledger *ledger.Store
	cache  *txcache.Cache
}

func newTestEnv(t *testing.T, fake *fakeChainAPI, cfg config.NetworkConfig, tokens []config.TokenConfig) *testEnv {
	t.Helper()

	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	failover, err := rpc.NewFailover[evm.API]("fuji", []evm.API{fake})
	require.NoError(t, err)

	chain := indexer.NewChainIndexer(
		"fuji", "https://testnet.snowtrace.io", failover,
		indexer.NewTokenRegistry(tokens), logger.L(),
	)

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	cache := txcache.New(16, time.Minute)
	w := NewTransferWorker(context.Background(), Deps{
		Chain:   chain,
		Ledger:  store,
		Cache:   cache,
		Emitter: events.NewNoop(),
		Metrics: m,
		Config:  cfg,
	})
	t.Cleanup(w.Stop)

	return &testEnv{worker: w, fake: fake, ledger: store, cache: cache}
}

func defaultConfig() config.NetworkConfig {
	return config.NetworkConfig{
		PollInterval:    time.Second,
		ChunkSize:       2000,
		InitialLookback: 10_000,
	}
}

func usdcToken() []config.TokenConfig {
	return []config.TokenConfig{{Contract: usdcContract, Symbol: "USDC", Decimals: 6}}
}

func TestBootstrapUsesLookbackWindow(t *testing.T) {
	fake := &fakeChainAPI{head: 100_000}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())

	require.NoError(t, env.worker.tick(context.Background()))

	calls := fake.rangeCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, uint64(90_000), calls[0][0], "first tick must scan from head minus lookback, not genesis")
	assert.Equal(t, uint64(91_999), calls[0][1])

	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), checkpoint)
}

func TestCaughtUpDoesNothing(t *testing.T) {
	fake := &fakeChainAPI{head: 500}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())

	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 500))
	require.NoError(t, env.worker.tick(context.Background()))

	assert.Empty(t, fake.rangeCalls())
	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), checkpoint)
}

func TestEmptyContractSetStillAdvancesCheckpoint(t *testing.T) {
	fake := &fakeChainAPI{head: 1000}
	env := newTestEnv(t, fake, defaultConfig(), nil)

	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.worker.tick(context.Background()))

	assert.Empty(t, fake.rangeCalls(), "no log fetches without monitored contracts")
	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), checkpoint)
}

func TestConfirmationDepthHoldsBackTarget(t *testing.T) {
	fake := &fakeChainAPI{head: 1000}
	cfg := defaultConfig()
	cfg.ConfirmationDepth = 6
	env := newTestEnv(t, fake, cfg, usdcToken())

	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 900))
	require.NoError(t, env.worker.tick(context.Background()))

	calls := fake.rangeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, uint64(994), calls[0][1], "target must stay behind the confirmation buffer")

	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(994), checkpoint)
}

func TestUnregisteredEventIsDiscarded(t *testing.T) {
	fake := &fakeChainAPI{
		head: 110,
		logs: []evm.Log{transferLog(addrStranger, addrStranger, 1_000_000, 105, "0xaa01")},
	}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))

	require.NoError(t, env.worker.tick(context.Background()))

	_, found, err := env.ledger.GetTransaction("fuji", "0xaa01")
	require.NoError(t, err)
	assert.False(t, found)

	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(110), checkpoint, "irrelevant events still advance the checkpoint")
}

func TestSingleSideRegistered(t *testing.T) {
	fake := &fakeChainAPI{
		head: 110,
		logs: []evm.Log{transferLog(addrAlice, addrStranger, 1_500_000, 105, "0xaa02")},
	}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.ledger.RegisterAddress(addrAlice, "wallet-alice"))

	require.NoError(t, env.worker.tick(context.Background()))

	tx, found, err := env.ledger.GetTransaction("fuji", "0xaa02")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "wallet-alice", tx.WalletID)
	assert.Empty(t, tx.CounterpartyWalletID)
	assert.Equal(t, "1.5", tx.Amount)
	assert.Equal(t, "USDC", tx.Token.Symbol)
	assert.Equal(t, types.StatusConfirmed, tx.Status)
	assert.Equal(t, uint64(105), tx.BlockNumber)
	assert.Contains(t, tx.ExplorerURL, "0xaa02")

	sent, err := env.ledger.ListWalletTransactions(addrAlice, 10, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, types.DirectionSent, sent[0].Direction)

	// the unregistered side has no index entry
	other, err := env.ledger.ListWalletTransactions(addrStranger, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBothSidesRegistered(t *testing.T) {
	fake := &fakeChainAPI{
		head: 110,
		logs: []evm.Log{transferLog(addrAlice, addrBob, 2_000_000, 106, "0xaa03")},
	}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.ledger.RegisterAddress(addrAlice, "wallet-alice"))
	require.NoError(t, env.ledger.RegisterAddress(addrBob, "wallet-bob"))

	require.NoError(t, env.worker.tick(context.Background()))

	tx, found, err := env.ledger.GetTransaction("fuji", "0xaa03")
	require.NoError(t, err)
	require.True(t, found)
	// the from side resolves first
	assert.Equal(t, "wallet-alice", tx.WalletID)
	assert.Equal(t, "wallet-bob", tx.CounterpartyWalletID)

	sent, err := env.ledger.ListWalletTransactions(addrAlice, 10, 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, types.DirectionSent, sent[0].Direction)

	received, err := env.ledger.ListWalletTransactions(addrBob, 10, 0)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, types.DirectionReceived, received[0].Direction)
}

func TestDuplicateHashInChunkSkipped(t *testing.T) {
	// one transaction emitting two transfers: the second insert is skipped,
	// the checkpoint advances normally
	fake := &fakeChainAPI{
		head: 110,
		logs: []evm.Log{
			transferLog(addrAlice, addrStranger, 1_000_000, 105, "0xaa04"),
			transferLog(addrAlice, addrStranger, 2_000_000, 105, "0xaa04"),
		},
	}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.ledger.RegisterAddress(addrAlice, "wallet-alice"))

	require.NoError(t, env.worker.tick(context.Background()))

	tx, found, err := env.ledger.GetTransaction("fuji", "0xaa04")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", tx.Amount, "first transfer wins, second is a duplicate")

	entries, err := env.ledger.ListWalletTransactions(addrAlice, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(110), checkpoint)
}

func TestReingestionIsIdempotent(t *testing.T) {
	fake := &fakeChainAPI{
		head: 110,
		logs: []evm.Log{transferLog(addrAlice, addrBob, 1_000_000, 105, "0xaa05")},
	}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.ledger.RegisterAddress(addrAlice, "wallet-alice"))
	require.NoError(t, env.ledger.RegisterAddress(addrBob, "wallet-bob"))

	require.NoError(t, env.worker.tick(context.Background()))

	// force the same range to be processed again
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.worker.tick(context.Background()))

	entries, err := env.ledger.ListWalletTransactions(addrAlice, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "re-ingestion must not duplicate index entries")

	entries, err = env.ledger.ListWalletTransactions(addrBob, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestChunkFailureHoldsCheckpointAtBoundary(t *testing.T) {
	cfg := defaultConfig()
	cfg.ChunkSize = 100
	fake := &fakeChainAPI{head: 300}
	fake.failAt = func(from, to uint64) error {
		if from >= 201 {
			return errors.New("rpc unavailable")
		}
		return nil
	}
	env := newTestEnv(t, fake, cfg, usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))

	err := env.worker.tick(context.Background())
	require.Error(t, err)

	// the checkpoint reflects exactly the last fully-completed chunk
	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(200), checkpoint)

	// next tick resumes at checkpoint+1 with no block skipped
	fake.mu.Lock()
	fake.failAt = nil
	fake.calls = nil
	fake.mu.Unlock()

	require.NoError(t, env.worker.tick(context.Background()))
	calls := fake.rangeCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, uint64(201), calls[0][0])

	checkpoint, err = env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), checkpoint)
}

func TestHeadFetchFailureAbortsTick(t *testing.T) {
	fake := &fakeChainAPI{headErr: errors.New("connection refused")}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))

	err := env.worker.tick(context.Background())
	require.Error(t, err)

	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), checkpoint, "no checkpoint movement on RPC failure")
}

func TestPersistInvalidatesBothSides(t *testing.T) {
	fake := &fakeChainAPI{
		head: 110,
		logs: []evm.Log{transferLog(addrAlice, addrStranger, 1_000_000, 105, "0xaa06")},
	}
	env := newTestEnv(t, fake, defaultConfig(), usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))
	require.NoError(t, env.ledger.RegisterAddress(addrAlice, "wallet-alice"))

	// pre-populate both sides, registered or not
	env.cache.PutFirstPage(addrAlice, []types.WalletTransaction{})
	env.cache.PutFirstPage(addrStranger, []types.WalletTransaction{})

	require.NoError(t, env.worker.tick(context.Background()))

	_, hit := env.cache.GetFirstPage(addrAlice)
	assert.False(t, hit, "writer must invalidate the sender's first page")
	_, hit = env.cache.GetFirstPage(addrStranger)
	assert.False(t, hit, "receiver side is invalidated even when unregistered")
}

func TestMultiChunkProcessesInOrder(t *testing.T) {
	cfg := defaultConfig()
	cfg.ChunkSize = 50
	fake := &fakeChainAPI{head: 260}
	env := newTestEnv(t, fake, cfg, usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))

	require.NoError(t, env.worker.tick(context.Background()))

	calls := fake.rangeCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, [2]uint64{101, 150}, calls[0])
	assert.Equal(t, [2]uint64{151, 200}, calls[1])
	assert.Equal(t, [2]uint64{201, 250}, calls[2])
	assert.Equal(t, [2]uint64{251, 260}, calls[3])
}

func TestCancelledContextStopsBetweenChunks(t *testing.T) {
	cfg := defaultConfig()
	cfg.ChunkSize = 10
	fake := &fakeChainAPI{head: 200}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.failAt = func(from, to uint64) error {
		cancel() // cancel mid-run, after the first chunk is fetched
		return nil
	}

	env := newTestEnv(t, fake, cfg, usdcToken())
	require.NoError(t, env.ledger.SetLastIndexedBlock("fuji", 100))

	require.NoError(t, env.worker.tick(ctx))
	assert.Len(t, fake.rangeCalls(), 1, "cancellation takes effect at the next chunk boundary")

	checkpoint, err := env.ledger.LastIndexedBlock("fuji")
	require.NoError(t, err)
	assert.Equal(t, uint64(110), checkpoint, "completed chunks stay committed")
}
