package chain

import (
	"slices"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// DifficultyForNextBlock returns the difficulty the next main chain block
// must meet. Zero means the computation overflowed.
func (c *Chain) DifficultyForNextBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.nextDifficulty(c.tail())
}

// CurrentCumulativeBlocksizeLimit returns the largest cumulative size the
// next block can have without losing its whole reward.
func (c *Chain) CurrentCumulativeBlocksizeLimit() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return 2 * c.effectiveMedian(c.tail())
}

// CoinsInCirculation returns the amount emitted by the main chain.
func (c *Chain) CoinsInCirculation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.tail().alreadyGeneratedCoins
}

// LastBlockSizes returns the cumulative sizes of up to count blocks ending
// at the tail, oldest first.
func (c *Chain) LastBlockSizes(count int) []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ancestors := c.ancestors(c.tail(), count)
	sizes := make([]uint64, len(ancestors))
	for i, e := range ancestors {
		sizes[i] = e.blockSize
	}
	return sizes
}

// =============================================================================

// TemplateInfo carries the chain values a block template on top of the tail
// is built from.
type TemplateInfo struct {
	Height                uint32
	PreviousBlockHash     database.Hash
	MajorVersion          uint8
	Difficulty            uint64
	MedianSize            uint64
	AlreadyGeneratedCoins uint64
	MinTimestamp          uint64
}

// TemplateInfo returns the values the next block template is built from.
func (c *Chain) TemplateInfo() TemplateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tail := c.tail()
	height := tail.height + 1

	return TemplateInfo{
		Height:                height,
		PreviousBlockHash:     tail.hash,
		MajorVersion:          c.currency.BlockMajorVersion(height),
		Difficulty:            c.nextDifficulty(tail),
		MedianSize:            c.effectiveMedian(tail),
		AlreadyGeneratedCoins: tail.alreadyGeneratedCoins,
		MinTimestamp:          c.medianTimestamp(tail),
	}
}

// =============================================================================

// ancestors returns up to count blocks of the branch ending at the entry,
// oldest first. The branch may run through alternative blocks before
// joining the main chain.
func (c *Chain) ancestors(last *entry, count int) []*entry {
	if count <= 0 {
		return nil
	}

	var alt []*entry
	e := last
	for len(alt) < count {
		if idx, onMain := c.blockIndex[e.hash]; onMain && c.blocks[idx] == e {
			break
		}
		alt = append(alt, e)

		parent, ok := c.alternatives[e.block.PreviousBlockHash]
		if !ok {
			idx, onMain := c.blockIndex[e.block.PreviousBlockHash]
			if !onMain {
				break
			}
			parent = c.blocks[idx]
		}
		e = parent
	}

	var result []*entry
	if need := count - len(alt); need > 0 {
		if idx, onMain := c.blockIndex[e.hash]; onMain && c.blocks[idx] == e {
			start := max(0, int(idx)+1-need)
			result = append(result, c.blocks[start:idx+1]...)
		}
	}

	for i := len(alt) - 1; i >= 0; i-- {
		result = append(result, alt[i])
	}

	return result
}

// nextDifficulty computes the difficulty of a block on top of the entry.
// The genesis block never takes part in the computation.
func (c *Chain) nextDifficulty(parent *entry) uint64 {
	count := c.currency.DifficultyWindow + c.currency.DifficultyLag
	ancestors := c.ancestors(parent, count)
	if len(ancestors) > 0 && ancestors[0].height == 0 {
		ancestors = ancestors[1:]
	}

	timestamps := make([]uint64, len(ancestors))
	cumulative := make([]uint64, len(ancestors))
	for i, e := range ancestors {
		timestamps[i] = e.block.Timestamp
		cumulative[i] = e.cumulativeDifficulty
	}

	return c.currency.NextDifficulty(timestamps, cumulative)
}

// effectiveMedian returns the median cumulative size of the recent blocks
// ending at the entry, never below the full reward zone.
func (c *Chain) effectiveMedian(last *entry) uint64 {
	ancestors := c.ancestors(last, c.currency.RewardBlocksWindow)
	sizes := make([]uint64, len(ancestors))
	for i, e := range ancestors {
		sizes[i] = e.blockSize
	}
	return max(median(sizes), c.currency.FullRewardZone)
}

// medianTimestamp returns the median timestamp of the recent blocks ending
// at the entry. Zero means the window is not full and any timestamp goes.
func (c *Chain) medianTimestamp(last *entry) uint64 {
	window := c.currency.TimestampCheckWindow
	ancestors := c.ancestors(last, window)
	if len(ancestors) < window {
		return 0
	}

	timestamps := make([]uint64, len(ancestors))
	for i, e := range ancestors {
		timestamps[i] = e.block.Timestamp
	}
	return median(timestamps)
}

// median returns the median of the values, averaging the middle pair.
func median(values []uint64) uint64 {
	n := len(values)
	if n == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
