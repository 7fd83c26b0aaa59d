package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// Direction tags which side of a transfer a registered wallet was on.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type TokenKind string

const (
	TokenNative TokenKind = "native"
	TokenERC20  TokenKind = "erc20"
)

// Token identifies the asset moved by a transaction. Contract is set only
// for ERC-20 tokens.
type Token struct {
	Kind     TokenKind `json:"kind"`
	Symbol   string    `json:"symbol"`
	Contract string    `json:"contract,omitempty"`
}

func NewERC20Token(symbol, contract string) Token {
	return Token{Kind: TokenERC20, Symbol: symbol, Contract: NormalizeAddress(contract)}
}

func NewNativeToken(symbol string) Token {
	return Token{Kind: TokenNative, Symbol: symbol}
}

// Transaction is the unit of the ledger. TxHash is stored lowercase without
// the 0x prefix; API responses restore the prefix.
type Transaction struct {
	TxHash               string    `json:"tx_hash"`
	WalletID             string    `json:"wallet_id"`
	CounterpartyWalletID string    `json:"counterparty_wallet_id,omitempty"`
	FromAddress          string    `json:"from_address"`
	ToAddress            string    `json:"to_address"`
	Amount               string    `json:"amount"`
	Token                Token     `json:"token"`
	Network              string    `json:"network"`
	Status               TxStatus  `json:"status"`
	BlockNumber          uint64    `json:"block_number,omitempty"`
	GasUsed              uint64    `json:"gas_used,omitempty"`
	ExplorerURL          string    `json:"explorer_url,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (t Transaction) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

func (t *Transaction) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}

func (t Transaction) String() string {
	return fmt.Sprintf("{TxHash: %s, Network: %s, Block: %d, From: %s, To: %s, Amount: %s %s, Status: %s}",
		t.TxHash, t.Network, t.BlockNumber, t.FromAddress, t.ToAddress, t.Amount, t.Token.Symbol, t.Status)
}

// WalletTransaction pairs a ledger record with the direction it has for a
// particular wallet address. It is the unit returned by history queries and
// held by the first-page cache.
type WalletTransaction struct {
	Transaction Transaction `json:"transaction"`
	Direction   Direction   `json:"direction"`
}

// NormalizeAddress lowercases an on-chain address so casing variations never
// produce distinct keys.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeTxHash lowercases a transaction hash and strips the 0x prefix for
// on-disk key use.
func NormalizeTxHash(hash string) string {
	h := strings.ToLower(strings.TrimSpace(hash))
	return strings.TrimPrefix(h, "0x")
}

// EnsureHexPrefix restores the 0x prefix for display.
func EnsureHexPrefix(s string) string {
	if s == "" || strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

// NormalizeNetworkKey produces the checkpoint key form of a network name:
// lowercase, spaces replaced.
func NormalizeNetworkKey(network string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(network)), " ", "-")
}
