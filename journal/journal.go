// Package journal persists submitted transactions until they reach a terminal
// state, so confirmation tracking survives a restart.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const pendingBucket = "pending"

// Record is one submitted, not yet finished transaction.
type Record struct {
	ID          uuid.UUID      `json:"id"`
	TxHash      common.Hash    `json:"txHash"`
	Method      string         `json:"method"`
	From        common.Address `json:"from"`
	Data        hexutil.Bytes  `json:"data"`
	ChainID     uint64         `json:"chainId"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// BoltJournal stores records in a bbolt database.
type BoltJournal struct {
	db  *bolt.DB
	log *slog.Logger
}

// Open opens or creates the journal at path.
func Open(path string, log *slog.Logger) (*BoltJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(pendingBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal: %w", err)
	}

	log.Debug("transaction journal opened", "path", path)
	return &BoltJournal{db: db, log: log}, nil
}

// Put stores or replaces rec.
func (j *BoltJournal) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put(rec.ID[:], data)
	})
}

// Delete removes the record with id. Missing records are not an error.
func (j *BoltJournal) Delete(id uuid.UUID) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Delete(id[:])
	})
}

// List returns all records, oldest submission first. Undecodable entries are
// skipped and logged.
func (j *BoltJournal) List() ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				j.log.Warn("skipping corrupt journal entry", "key", fmt.Sprintf("%x", k), "err", err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].SubmittedAt.Before(records[b].SubmittedAt)
	})
	return records, nil
}

func (j *BoltJournal) Close() error {
	return j.db.Close()
}
