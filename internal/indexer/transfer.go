package indexer

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/walletmesh/wallet-indexer/internal/rpc/evm"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the
// topic0 of every ERC-20 Transfer event.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// maxAmountFractionDigits bounds the formatted amount's fractional part.
const maxAmountFractionDigits = 6

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	Contract    string
	From        string
	To          string
	Value       *big.Int
	TxHash      string
	BlockNumber uint64
}

// DecodeTransferLog decodes one log entry. A Transfer carries exactly three
// topics (signature, from, to) and a 32-byte big-endian value in the data
// payload; anything else is reported as not-ok and skipped by the caller.
func DecodeTransferLog(log evm.Log) (TransferEvent, bool) {
	if len(log.Topics) != 3 {
		return TransferEvent{}, false
	}

	from, ok := addressFromTopic(log.Topics[1])
	if !ok {
		return TransferEvent{}, false
	}
	to, ok := addressFromTopic(log.Topics[2])
	if !ok {
		return TransferEvent{}, false
	}

	data := strings.TrimPrefix(log.Data, "0x")
	if len(data) < 64 {
		return TransferEvent{}, false
	}
	value, ok := new(big.Int).SetString(data[:64], 16)
	if !ok {
		return TransferEvent{}, false
	}

	blockNumber, err := log.BlockNumberUint64()
	if err != nil {
		return TransferEvent{}, false
	}

	return TransferEvent{
		Contract:    types.NormalizeAddress(log.Address),
		From:        from,
		To:          to,
		Value:       value,
		TxHash:      types.NormalizeTxHash(log.TxHash),
		BlockNumber: blockNumber,
	}, true
}

// addressFromTopic extracts the low 20 bytes of a 32-byte topic.
func addressFromTopic(topic string) (string, bool) {
	t := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(t) != 64 {
		return "", false
	}
	return "0x" + t[24:], true
}

// FormatAmount divides a raw token value by 10^decimals and formats it with
// at most six fractional digits, trailing zeros trimmed. Zero formats as
// "0" regardless of decimals.
func FormatAmount(raw *big.Int, decimals int) string {
	d := decimal.NewFromBigInt(raw, -int32(decimals)).Truncate(maxAmountFractionDigits)
	if d.IsZero() {
		return "0"
	}

	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
