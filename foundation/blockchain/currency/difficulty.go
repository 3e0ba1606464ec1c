package currency

import (
	"slices"

	"github.com/holiman/uint256"
)

// NextDifficulty computes the difficulty of the next block from the
// timestamps and cumulative difficulties of the preceding blocks, oldest
// first. Only the oldest DifficultyWindow entries are used and the
// DifficultyCut outliers on each side of the sorted timestamps are dropped.
// A zero result means the computation overflowed.
func (c *Currency) NextDifficulty(timestamps []uint64, cumulativeDifficulties []uint64) uint64 {
	window := c.DifficultyWindow
	cut := c.DifficultyCut

	if len(timestamps) > window {
		timestamps = timestamps[:window]
		cumulativeDifficulties = cumulativeDifficulties[:window]
	}

	length := len(timestamps)
	if length != len(cumulativeDifficulties) || length <= 1 {
		return 1
	}

	sorted := slices.Clone(timestamps)
	slices.Sort(sorted)

	cutBegin, cutEnd := 0, length
	if kept := window - 2*cut; length > kept {
		cutBegin = (length - kept + 1) / 2
		cutEnd = cutBegin + kept
	}

	timeSpan := sorted[cutEnd-1] - sorted[cutBegin]
	if timeSpan == 0 {
		timeSpan = 1
	}

	totalWork := cumulativeDifficulties[cutEnd-1] - cumulativeDifficulties[cutBegin]
	if totalWork == 0 {
		return 1
	}

	work, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(totalWork), uint256.NewInt(c.DifficultyTarget))
	if overflow {
		return 0
	}

	work.AddUint64(work, timeSpan-1)
	if !work.IsUint64() {
		return 0
	}

	return work.Uint64() / timeSpan
}

// CheckHash reports if the proof of work hash meets the difficulty. The hash
// is read as a little endian number and must satisfy hash * difficulty < 2^256.
func CheckHash(hash [32]byte, difficulty uint64) bool {
	le := hash
	slices.Reverse(le[:])

	h := new(uint256.Int).SetBytes32(le[:])
	_, overflow := new(uint256.Int).MulOverflow(h, uint256.NewInt(difficulty))

	return !overflow
}
