// Package currency implements the monetary and consensus parameter math of
// a network: rewards, penalties, difficulty, size limits, fees, unlock rules
// and the genesis block.
package currency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/genesis"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// Block major versions.
const (
	BlockMajorVersion1 uint8 = 1
	BlockMajorVersion2 uint8 = 2
	BlockMajorVersion3 uint8 = 3
)

// BlockMinorVersion0 is the only minor version produced by the node.
const BlockMinorVersion0 uint8 = 0

// ErrOverflow is returned when a money sum overflows.
var ErrOverflow = errors.New("money overflow")

// Currency provides the rules of a network.
type Currency struct {
	genesis.Genesis

	// Interest computes the interest earned by deposits.
	Interest InterestCalculator

	// LegacyInterestFallback retries the balance check of deposit spends at
	// the historical sentinel height. Only needed to validate old chains.
	LegacyInterestFallback bool

	genesisBlock database.Block
	genesisHash  database.Hash
	checkpoints  map[uint32]database.Hash
}

// New constructs the rules for the network definition.
func New(g genesis.Genesis) (*Currency, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	c := Currency{
		Genesis:     g,
		checkpoints: make(map[uint32]database.Hash),
	}
	c.Interest = DepositInterest{c: &c}

	for _, cp := range g.Checkpoints {
		c.checkpoints[cp.Height] = cp.Hash
	}

	block, err := c.buildGenesisBlock()
	if err != nil {
		return nil, fmt.Errorf("genesis block: %w", err)
	}
	c.genesisBlock = block
	c.genesisHash = block.Hash()

	return &c, nil
}

// GenesisBlock returns the hard coded first block of the network.
func (c *Currency) GenesisBlock() database.Block {
	return c.genesisBlock
}

// GenesisHash returns the identity of the genesis block.
func (c *Currency) GenesisHash() database.Hash {
	return c.genesisHash
}

// Checkpoints returns the checkpoints of the network ordered by height.
func (c *Currency) Checkpoints() []genesis.Checkpoint {
	cps := make([]genesis.Checkpoint, 0, len(c.checkpoints))
	for h, hash := range c.checkpoints {
		cps = append(cps, genesis.Checkpoint{Height: h, Hash: hash})
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].Height < cps[j].Height })
	return cps
}

// BlockMajorVersion returns the major version a block at the height must
// carry.
func (c *Currency) BlockMajorVersion(height uint32) uint8 {
	version := BlockMajorVersion1
	for _, h := range c.UpgradeHeights {
		if height < h {
			break
		}
		version++
	}
	return version
}

// MaxTransactionSize returns the largest transaction that fits in a block
// next to the coinbase.
func (c *Currency) MaxTransactionSize() uint64 {
	return c.FullRewardZone - c.CoinbaseBlobReservedSize
}

// MaxBlockCumulativeSize returns the hard cap on the cumulative size of a
// block at the height. The cap grows linearly with the height.
func (c *Currency) MaxBlockCumulativeSize(height uint64) uint64 {
	return c.MaxBlockSizeInitial + height*c.MaxBlockSizeGrowthNumerator/c.MaxBlockSizeGrowthDenominator
}

// =============================================================================

// CheckProofOfWork reports if the proof of work hash of the block satisfies
// the difficulty.
func (c *Currency) CheckProofOfWork(block database.Block, difficulty uint64) bool {
	return CheckHash(block.PowHash(), difficulty)
}

// =============================================================================

// IsUnlocked reports if an output with the unlock time can be spent by a
// transaction added on top of a chain of the given height. Unlock times
// below MaxBlockNumber are heights, the rest are unix timestamps.
func (c *Currency) IsUnlocked(unlockTime uint64, height uint32, now uint64) bool {
	if unlockTime < c.MaxBlockNumber {
		return uint64(height)-1+c.LockedTxAllowedDeltaBlocks >= unlockTime
	}
	return now+c.LockedTxAllowedDeltaBlocks*c.DifficultyTarget >= unlockTime
}

// =============================================================================

// buildGenesisBlock constructs the genesis block from the definition.
func (c *Currency) buildGenesisBlock() (database.Block, error) {
	seed := c.RewardKey

	amounts := c.rewardAmounts(c.GenesisReward, 0)
	outputs := make([]database.Output, 0, len(amounts))
	for i, amount := range amounts {
		key, err := signature.DeriveOutputKey(c.RewardKey, seed, uint32(i))
		if err != nil {
			return database.Block{}, err
		}
		outputs = append(outputs, database.Output{
			Amount: amount,
			Target: database.OutputTarget{Key: &database.KeyOutput{Key: key}},
		})
	}

	base := database.Transaction{
		TransactionPrefix: database.TransactionPrefix{
			Version:    database.TransactionVersion1,
			UnlockTime: uint64(c.MinedMoneyUnlockWindow),
			Inputs:     []database.Input{{Base: &database.BaseInput{Height: 0}}},
			Outputs:    outputs,
			Extra:      database.AppendExtraPublicKey(nil, seed),
		},
	}

	block := database.Block{
		BlockHeader: database.BlockHeader{
			MajorVersion: BlockMajorVersion1,
			MinorVersion: BlockMinorVersion0,
			Timestamp:    c.Timestamp,
			Nonce:        c.Nonce,
		},
		BaseTransaction: base,
	}

	return block, nil
}
