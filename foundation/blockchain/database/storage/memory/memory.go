// Package memory implements the storage interface in memory. It is used for
// tests and for nodes that don't need to survive a restart.
package memory

import (
	"fmt"
	"sync"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// Memory keeps the blocks in a slice indexed by height.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData

	// FailWrites makes every Write fail. Used to exercise storage failures.
	FailWrites error
}

// New constructs an empty memory storage.
func New() *Memory {
	return &Memory{}
}

// Write stores the block. Heights must be written in order, writing a
// height at or below the tip replaces the blocks from that height on.
func (m *Memory) Write(blockData database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}

	switch {
	case blockData.Height > uint64(len(m.blocks)):
		return fmt.Errorf("memory: write: height %d leaves a gap after %d", blockData.Height, len(m.blocks))
	case blockData.Height < uint64(len(m.blocks)):
		m.blocks = m.blocks[:blockData.Height]
	}

	m.blocks = append(m.blocks, blockData)
	return nil
}

// GetBlock returns the block stored at the height.
func (m *Memory) GetBlock(height uint64) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height >= uint64(len(m.blocks)) {
		return database.BlockData{}, fmt.Errorf("block %d: %w", height, database.ErrNotFound)
	}
	return m.blocks[height], nil
}

// ForEach returns an iterator over a snapshot of the stored blocks.
func (m *Memory) ForEach() database.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]database.BlockData, len(m.blocks))
	copy(blocks, m.blocks)

	return &Iterator{blocks: blocks}
}

// Truncate removes the blocks at the height and above.
func (m *Memory) Truncate(height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if height < uint64(len(m.blocks)) {
		m.blocks = m.blocks[:height]
	}
	return nil
}

// Reset removes all the blocks.
func (m *Memory) Reset() error {
	return m.Truncate(0)
}

// Close has nothing to release.
func (m *Memory) Close() error {
	return nil
}

// =============================================================================

// Iterator walks a snapshot of the stored blocks.
type Iterator struct {
	blocks  []database.BlockData
	current int
	eoc     bool
}

// Next returns the next block of the snapshot.
func (it *Iterator) Next() (database.BlockData, error) {
	if it.current >= len(it.blocks) {
		it.eoc = true
		return database.BlockData{}, database.ErrEndOfChain
	}

	bd := it.blocks[it.current]
	it.current++
	return bd, nil
}

// Done returns the end of chain value.
func (it *Iterator) Done() bool {
	return it.eoc
}
