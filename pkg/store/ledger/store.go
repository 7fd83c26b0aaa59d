package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/walletmesh/wallet-indexer/pkg/common/types"
)

// Key layout. The wallet index embeds the bit-complement of the block number
// so that an ascending prefix scan yields entries newest-first without a
// sort step.
const (
	prefixTx         = "tx/"
	prefixWalletTx   = "wtx/"
	prefixAddress    = "addr/"
	prefixCheckpoint = "checkpoint/"
)

var ErrEmptyKey = errors.New("ledger: empty key component")

func txKey(network, txHash string) []byte {
	return []byte(prefixTx + types.NormalizeNetworkKey(network) + "/" + types.NormalizeTxHash(txHash))
}

func walletTxKey(address string, blockNumber uint64, txHash string) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x/%s",
		prefixWalletTx, types.NormalizeAddress(address), ^blockNumber, types.NormalizeTxHash(txHash)))
}

func walletTxPrefix(address string) []byte {
	return []byte(prefixWalletTx + types.NormalizeAddress(address) + "/")
}

func addressKey(address string) []byte {
	return []byte(prefixAddress + types.NormalizeAddress(address))
}

func checkpointKey(networkKey string) []byte {
	return []byte(prefixCheckpoint + types.NormalizeNetworkKey(networkKey))
}

// IndexEntry describes one side of a transfer to be filed under a wallet
// address.
type IndexEntry struct {
	Address   string          `json:"-"`
	Direction types.Direction `json:"direction"`
	Network   string          `json:"network"`
	TxHash    string          `json:"tx_hash"`
}

// Store is the embedded transaction ledger: transaction records, a
// per-wallet reverse-chronological index, the address registry, and
// per-network ingestion checkpoints. All mutations go through Badger
// transactions; callers need no external locking.
type Store struct {
	db *badger.DB
}

func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertTransaction writes the transaction record and all of its wallet
// index entries in a single Badger transaction. Either every table write
// lands or none do.
func (s *Store) UpsertTransaction(tx *types.Transaction, entries []IndexEntry) error {
	if tx.TxHash == "" || tx.Network == "" {
		return ErrEmptyKey
	}

	record := *tx
	record.TxHash = types.NormalizeTxHash(tx.TxHash)
	record.FromAddress = types.NormalizeAddress(tx.FromAddress)
	record.ToAddress = types.NormalizeAddress(tx.ToAddress)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", record.TxHash, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(txKey(record.Network, record.TxHash), data); err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Address == "" {
				return ErrEmptyKey
			}
			entry.Network = record.Network
			entry.TxHash = record.TxHash
			val, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			key := walletTxKey(entry.Address, record.BlockNumber, record.TxHash)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTransaction is a point lookup by hash. The second return reports
// whether the record exists; a missing record is not an error.
func (s *Store) GetTransaction(network, txHash string) (*types.Transaction, bool, error) {
	var record types.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(network, txHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

// RegisterAddress maps an on-chain address to a wallet id. Re-registering
// the same mapping is a no-op; a different wallet id overwrites.
func (s *Store) RegisterAddress(address, walletID string) error {
	if address == "" || walletID == "" {
		return ErrEmptyKey
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(addressKey(address), []byte(walletID))
	})
}

// WalletIDForAddress is a case-insensitive registry lookup.
func (s *Store) WalletIDForAddress(address string) (string, bool, error) {
	var walletID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addressKey(address))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			walletID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return walletID, true, nil
}

// LastIndexedBlock returns the checkpoint for a network, or 0 when no
// checkpoint exists yet (the bootstrap sentinel).
func (s *Store) LastIndexedBlock(networkKey string) (uint64, error) {
	var block uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(networkKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, err := strconv.ParseUint(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt checkpoint for %s: %w", networkKey, err)
			}
			block = n
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	return block, err
}

func (s *Store) SetLastIndexedBlock(networkKey string, block uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(networkKey), []byte(strconv.FormatUint(block, 10)))
	})
}

// ListWalletTransactions returns a wallet's transactions newest-first. The
// composite index key already sorts in descending block order, so the scan
// never sorts; offset entries are skipped, at most limit are returned.
func (s *Store) ListWalletTransactions(address string, limit, offset int) ([]types.WalletTransaction, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}

	results := make([]types.WalletTransaction, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := walletTxPrefix(address)
		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(results) >= limit {
				break
			}

			var entry IndexEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}

			item, err := txn.Get(txKey(entry.Network, entry.TxHash))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// index entry without its parent record; never written
					// atomically, so treat as corrupt and surface it
					return fmt.Errorf("orphan index entry %s/%s", entry.Network, entry.TxHash)
				}
				return err
			}

			var record types.Transaction
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return err
			}

			results = append(results, types.WalletTransaction{
				Transaction: record,
				Direction:   entry.Direction,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
