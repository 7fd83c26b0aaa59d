package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "wallet_indexer"

// Metrics collects the indexer's operational counters. All vectors are
// labeled by network.
type Metrics struct {
	TicksRun          *prometheus.CounterVec
	RPCErrors         *prometheus.CounterVec
	TransfersStored   *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	EventsDiscarded   *prometheus.CounterVec
	PersistFailures   *prometheus.CounterVec
	LastIndexedBlock  *prometheus.GaugeVec

	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheInvalidations prometheus.Counter
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TicksRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_run_total",
			Help:      "Indexer ticks executed.",
		}, []string{"network"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_errors_total",
			Help:      "Chain RPC failures (head or log fetch).",
		}, []string{"network"}),
		TransfersStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transfers_stored_total",
			Help:      "Transfer events persisted to the ledger.",
		}, []string{"network"}),
		DuplicatesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Events skipped because the transaction already exists.",
		}, []string{"network"}),
		EventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_discarded_total",
			Help:      "Events with no registered address on either side.",
		}, []string{"network"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persist_failures_total",
			Help:      "Events that failed to persist.",
		}, []string{"network"}),
		LastIndexedBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_indexed_block",
			Help:      "Checkpoint block per network.",
		}, []string{"network"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_hits_total",
			Help:      "First-page cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_misses_total",
			Help:      "First-page cache misses.",
		}),
		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_invalidations_total",
			Help:      "Explicit cache invalidations by writers.",
		}),
	}

	collectors := []prometheus.Collector{
		m.TicksRun, m.RPCErrors, m.TransfersStored, m.DuplicatesSkipped,
		m.EventsDiscarded, m.PersistFailures, m.LastIndexedBlock,
		m.CacheHits, m.CacheMisses, m.CacheInvalidations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}
