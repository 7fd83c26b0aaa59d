package evm

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterQuery mirrors the eth_getLogs filter object.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []string
	Topics    []string // positional; only topic0 is used here
}

func (q FilterQuery) toParams() map[string]any {
	params := map[string]any{
		"fromBlock": HexUint64(q.FromBlock),
		"toBlock":   HexUint64(q.ToBlock),
		"address":   q.Addresses,
	}
	if len(q.Topics) > 0 {
		topics := make([]any, len(q.Topics))
		for i, t := range q.Topics {
			topics[i] = t
		}
		params["topics"] = topics
	}
	return params
}

// Log is one eth_getLogs entry.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	TxHash      string   `json:"transactionHash"`
	BlockNumber string   `json:"blockNumber"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

func (l Log) BlockNumberUint64() (uint64, error) {
	return ParseHexUint64(l.BlockNumber)
}

func HexUint64(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

func ParseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(s, 16, 64)
}
