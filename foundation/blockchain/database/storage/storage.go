// Package storage selects the block storage backend by name.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage/bolt"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage/disk"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage/memory"
)

// Set of supported backends.
const (
	KindDisk   = "disk"
	KindBolt   = "bolt"
	KindMemory = "memory"
)

// Open constructs the backend of the kind rooted at the data directory.
func Open(kind string, dataDir string) (database.Storage, error) {
	switch kind {
	case KindDisk:
		return disk.New(filepath.Join(dataDir, "blocks"))

	case KindBolt:
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, err
		}
		return bolt.New(filepath.Join(dataDir, "blocks.db"))

	case KindMemory:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown storage %q", kind)
}
