package api

import (
	"encoding/json"
	"net/http"

	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

type walletTransactionsResponse struct {
	Address      string                    `json:"address"`
	Transactions []types.WalletTransaction `json:"transactions"`
	Limit        int                       `json:"limit"`
	Offset       int                       `json:"offset"`
}

// handleWalletTransactions serves a wallet's history newest-first. The
// first page is read through the cache; deeper pages and oversized limits
// go straight to the ledger.
func (s *Server) handleWalletTransactions(w http.ResponseWriter, r *http.Request) {
	address := types.NormalizeAddress(r.PathValue("address"))
	if address == "" {
		writeErrorJSON(w, http.StatusBadRequest, "address is required")
		return
	}

	limit := queryInt(r, "limit", s.pageSize)
	offset := queryInt(r, "offset", 0)

	var page []types.WalletTransaction
	if offset == 0 && limit <= s.pageSize {
		cached, hit := s.cache.GetFirstPage(address)
		if hit {
			s.metrics.CacheHits.Inc()
			page = cached
		} else {
			s.metrics.CacheMisses.Inc()
			full, err := s.ledger.ListWalletTransactions(address, s.pageSize, 0)
			if err != nil {
				s.logger.Error("List wallet transactions failed", "address", address, "err", err)
				writeErrorJSON(w, http.StatusInternalServerError, "failed to load transactions")
				return
			}
			s.cache.PutFirstPage(address, full)
			page = full
		}
		if len(page) > limit {
			page = page[:limit]
		}
	} else {
		var err error
		page, err = s.ledger.ListWalletTransactions(address, limit, offset)
		if err != nil {
			s.logger.Error("List wallet transactions failed", "address", address, "err", err)
			writeErrorJSON(w, http.StatusInternalServerError, "failed to load transactions")
			return
		}
	}

	out := make([]types.WalletTransaction, len(page))
	for i, wt := range page {
		out[i] = types.WalletTransaction{
			Transaction: presentTransaction(wt.Transaction),
			Direction:   wt.Direction,
		}
	}

	writeJSON(w, http.StatusOK, walletTransactionsResponse{
		Address:      address,
		Transactions: out,
		Limit:        limit,
		Offset:       offset,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	network := r.URL.Query().Get("network")
	if network == "" {
		writeErrorJSON(w, http.StatusBadRequest, "network query parameter is required")
		return
	}

	tx, found, err := s.ledger.GetTransaction(network, hash)
	if err != nil {
		s.logger.Error("Get transaction failed", "hash", hash, "err", err)
		writeErrorJSON(w, http.StatusInternalServerError, "failed to load transaction")
		return
	}
	if !found {
		writeErrorJSON(w, http.StatusNotFound, "transaction not found")
		return
	}

	writeJSON(w, http.StatusOK, presentTransaction(*tx))
}

type registerAddressRequest struct {
	Address  string `json:"address"`
	WalletID string `json:"wallet_id"`
}

// handleRegisterAddress is the wallet-provisioning boundary: it records an
// address→wallet mapping so the indexer starts filing that address's
// transfers. Idempotent; re-registering a different wallet id overwrites.
func (s *Server) handleRegisterAddress(w http.ResponseWriter, r *http.Request) {
	var req registerAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" || req.WalletID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "address and wallet_id are required")
		return
	}

	if err := s.ledger.RegisterAddress(req.Address, req.WalletID); err != nil {
		s.logger.Error("Register address failed", "address", req.Address, "err", err)
		writeErrorJSON(w, http.StatusInternalServerError, "failed to register address")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"address":   types.NormalizeAddress(req.Address),
		"wallet_id": req.WalletID,
	})
}
