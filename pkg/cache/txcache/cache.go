package txcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

// Cache holds the first page of a wallet's transaction history, keyed by
// lowercased address. Entries are evicted LRU at capacity and expire after a
// fixed TTL; the TTL is not extended on reads. This is a read-aside cache:
// the indexer only ever invalidates, the read path repopulates from the
// ledger on miss.
type Cache struct {
	lru *expirable.LRU[string, []types.WalletTransaction]
}

func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, []types.WalletTransaction](capacity, nil, ttl),
	}
}

// GetFirstPage returns the cached page for an address. Expired entries are
// treated as misses.
func (c *Cache) GetFirstPage(address string) ([]types.WalletTransaction, bool) {
	return c.lru.Get(types.NormalizeAddress(address))
}

func (c *Cache) PutFirstPage(address string, page []types.WalletTransaction) {
	c.lru.Add(types.NormalizeAddress(address), page)
}

// Invalidate unconditionally removes an address's entry. Called by the
// indexer after every write touching the address and by any other writer
// that records a transaction out of band.
func (c *Cache) Invalidate(address string) {
	c.lru.Remove(types.NormalizeAddress(address))
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
