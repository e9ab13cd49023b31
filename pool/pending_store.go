package pool

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"umbra-relayer/chain"
)

// PendingRecord tracks an on-chain pending withdrawal the relayer must
// execute once its timelock expires.
type PendingRecord struct {
	// PDA is the on-chain pending-withdrawal account address.
	PDA chain.Pubkey `json:"pda"`
	// PoolPDA is the pool the withdrawal draws from.
	PoolPDA chain.Pubkey `json:"pool_pda"`
	// BucketID of the pool.
	BucketID uint8 `json:"bucket_id"`
	// NullifierHash keys the nullifier PDA.
	NullifierHash [32]byte `json:"nullifier_hash"`
	// Recipient stealth address.
	Recipient chain.Pubkey `json:"recipient"`
	// ExecuteAfter is the unix time execution becomes allowed.
	ExecuteAfter int64 `json:"execute_after"`
	// Amount in micro-units after the fee.
	Amount uint64 `json:"amount"`
	// Fee in micro-units.
	Fee uint64 `json:"fee"`
	// Executed marks a completed withdrawal.
	Executed bool `json:"executed"`
}

var pendingBucket = []byte("pending_withdrawals")

// PendingStore persists pending withdrawals so timelocked executions
// survive relayer restarts.
type PendingStore struct {
	db *bbolt.DB
}

// OpenPendingStore opens (or creates) the store at path.
func OpenPendingStore(path string) (*PendingStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &PendingStore{db: db}, nil
}

// Close closes the underlying database.
func (ps *PendingStore) Close() error {
	return ps.db.Close()
}

// Put stores or updates a record, keyed by its PDA.
func (ps *PendingStore) Put(record PendingRecord) error {
	data, err := json.Marshal(&record)
	if err != nil {
		return err
	}
	return ps.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Put(record.PDA[:], data)
	})
}

// Delete removes a record after execution or cancellation.
func (ps *PendingStore) Delete(pda chain.Pubkey) error {
	return ps.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(pda[:])
	})
}

// Load returns all stored records.
func (ps *PendingStore) Load() ([]PendingRecord, error) {
	var records []PendingRecord
	err := ps.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).ForEach(func(_, v []byte) error {
			var record PendingRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}
