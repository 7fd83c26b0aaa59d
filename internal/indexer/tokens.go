package indexer

import (
	"github.com/walletmesh/wallet-indexer/pkg/common/config"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

const (
	// DefaultDecimals is assumed for contracts missing from the known-token
	// table. A deliberate fallback, not a failure: the event is still
	// indexed, just with generic metadata.
	DefaultDecimals = 18
	UnknownSymbol   = "UNKNOWN"
)

type TokenInfo struct {
	Symbol   string
	Decimals int
}

// TokenRegistry resolves token metadata for a network's monitored contract
// set. The set is built once at startup from config; adding a contract needs
// a restart.
type TokenRegistry struct {
	tokens    map[string]TokenInfo
	contracts []string
}

func NewTokenRegistry(tokens []config.TokenConfig) *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]TokenInfo, len(tokens))}
	for _, t := range tokens {
		contract := types.NormalizeAddress(t.Contract)
		if _, dup := r.tokens[contract]; dup {
			continue
		}
		r.tokens[contract] = TokenInfo{Symbol: t.Symbol, Decimals: t.Decimals}
		r.contracts = append(r.contracts, contract)
	}
	return r
}

// Resolve returns metadata for a contract, falling back to 18 decimals and
// a generic symbol for unknown contracts.
func (r *TokenRegistry) Resolve(contract string) TokenInfo {
	if info, ok := r.tokens[types.NormalizeAddress(contract)]; ok {
		return info
	}
	return TokenInfo{Symbol: UnknownSymbol, Decimals: DefaultDecimals}
}

// Contracts returns the monitored contract address set.
func (r *TokenRegistry) Contracts() []string {
	return r.contracts
}
