package currency

import (
	"github.com/holiman/uint256"
)

// BaseReward returns the reward of a block at the height before any size
// penalty. The block at height 1 carries the foundation trust.
func (c *Currency) BaseReward(alreadyGeneratedCoins uint64, height uint32) uint64 {
	if height == 1 && c.FoundationTrust > 0 {
		return min(c.FoundationTrust, c.MoneySupply-alreadyGeneratedCoins)
	}

	// The reward grows by the start reward every interval up to the max.
	steps := uint64(height)/uint64(max(c.RewardIncreaseInterval, 1)) + 1

	reward := c.MaxBlockReward
	if c.StartBlockReward == 0 || steps <= c.MaxBlockReward/c.StartBlockReward {
		reward = c.StartBlockReward * steps
	}
	reward = min(reward, c.MaxBlockReward, c.MoneySupply-alreadyGeneratedCoins)

	return reward
}

// BlockReward calculates the reward of a block and the change in emitted
// coins. The boolean is false when the block is more than twice the size
// of the median.
func (c *Currency) BlockReward(medianSize uint64, blockSize uint64, alreadyGeneratedCoins uint64, fee uint64, height uint32) (reward uint64, emissionChange int64, ok bool) {
	baseReward := c.BaseReward(alreadyGeneratedCoins, height)

	medianSize = max(medianSize, c.FullRewardZone)
	if blockSize > 2*medianSize {
		return 0, 0, false
	}

	penalizedBase := PenalizedAmount(baseReward, medianSize, blockSize)
	penalizedFee := PenalizedAmount(fee, medianSize, blockSize)

	emissionChange = int64(penalizedBase) - int64(fee-penalizedFee)
	reward = penalizedBase + penalizedFee

	return reward, emissionChange, true
}

// PenalizedAmount reduces the amount quadratically once the block size goes
// above the median. The block size must not exceed twice the median.
func PenalizedAmount(amount uint64, medianSize uint64, blockSize uint64) uint64 {
	if amount == 0 {
		return 0
	}
	if blockSize <= medianSize {
		return amount
	}

	multiplicand := blockSize * (2*medianSize - blockSize)

	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(multiplicand))
	median := uint256.NewInt(medianSize)
	product.Div(product, median)
	product.Div(product, median)

	return product.Uint64()
}

// rewardAmounts splits a reward into the output amounts of a coinbase
// transaction. With maxOuts above zero the smallest amounts are merged
// until the count fits.
func (c *Currency) rewardAmounts(reward uint64, maxOuts int) []uint64 {
	chunks, dust := DecomposeAmount(reward, c.DustThreshold)

	amounts := make([]uint64, 0, len(chunks)+1)
	if dust > 0 {
		amounts = append(amounts, dust)
	}
	amounts = append(amounts, chunks...)

	if maxOuts > 0 {
		for len(amounts) > maxOuts {
			last := len(amounts) - 1
			amounts[last-1] += amounts[last]
			amounts = amounts[:last]
		}
	}

	return amounts
}
