// Package bolt implements the storage interface on top of a bolt database.
// Every block of the main chain is a record in one bucket keyed by height.
package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/boltdb/bolt"
)

var blocksBucket = []byte("blocks")

// Bolt represents the bolt backed storage.
type Bolt struct {
	db *bolt.DB
}

// New opens or creates the database file.
func New(dbFile string) (*Bolt, error) {
	db, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbFile, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Write stores the block data under its height. The record is committed
// with the transaction, a failed commit leaves the database unchanged.
func (b *Bolt) Write(blockData database.BlockData) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(key(blockData.Height), blockData.Encode())
	})
}

// GetBlock returns the block data stored at the height.
func (b *Bolt) GetBlock(height uint64) (database.BlockData, error) {
	var blockData database.BlockData

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(key(height))
		if v == nil {
			return fmt.Errorf("block %d: %w", height, database.ErrNotFound)
		}

		var err error
		blockData, err = database.DecodeBlockData(v)
		return err
	})

	return blockData, err
}

// ForEach returns an iterator to walk through all the blocks starting with
// the genesis block.
func (b *Bolt) ForEach() database.Iterator {
	return &Iterator{bolt: b}
}

// Truncate removes the blocks at the height and above.
func (b *Bolt) Truncate(height uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blocksBucket)

		// Deleting through the cursor while walking it skips records.
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.Seek(key(height)); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset removes all the blocks.
func (b *Bolt) Reset() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(blocksBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(blocksBucket)
		return err
	})
}

// key returns the big endian form of the height so the cursor walks the
// blocks in height order.
func key(height uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, height)
	return k
}

// =============================================================================

// Iterator walks the stored blocks in height order.
type Iterator struct {
	bolt    *Bolt
	current uint64
	eoc     bool
}

// Next retrieves the next block.
func (it *Iterator) Next() (database.BlockData, error) {
	if it.eoc {
		return database.BlockData{}, database.ErrEndOfChain
	}

	blockData, err := it.bolt.GetBlock(it.current)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			it.eoc = true
			return database.BlockData{}, database.ErrEndOfChain
		}
		return database.BlockData{}, err
	}
	it.current++

	return blockData, nil
}

// Done returns the end of chain value.
func (it *Iterator) Done() bool {
	return it.eoc
}
