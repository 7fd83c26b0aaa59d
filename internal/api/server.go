package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/walletmesh/wallet-indexer/internal/metrics"
	"github.com/walletmesh/wallet-indexer/pkg/cache/txcache"
	"github.com/walletmesh/wallet-indexer/pkg/common/logger"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
	"github.com/walletmesh/wallet-indexer/pkg/store/ledger"
)

// Server exposes the ledger read path and the address-provisioning write
// path. Reads go cache-first for the hottest pattern (a wallet's first
// page) and fall back to the store.
type Server struct {
	ledger   *ledger.Store
	cache    *txcache.Cache
	metrics  *metrics.Metrics
	pageSize int
	logger   *slog.Logger
}

func NewServer(store *ledger.Store, cache *txcache.Cache, m *metrics.Metrics, pageSize int) *Server {
	return &Server{
		ledger:   store,
		cache:    cache,
		metrics:  m,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "api")),
	}
}

func (s *Server) Register(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/wallets/{address}/transactions", s.handleWalletTransactions)
	mux.HandleFunc("GET /v1/transactions/{hash}", s.handleGetTransaction)
	mux.HandleFunc("POST /v1/addresses", s.handleRegisterAddress)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Error: msg})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// presentTransaction restores the 0x prefix stripped for on-disk keys.
func presentTransaction(tx types.Transaction) types.Transaction {
	tx.TxHash = types.EnsureHexPrefix(tx.TxHash)
	return tx
}
