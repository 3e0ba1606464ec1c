package core

import (
	"errors"
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// Set of errors produced when building block templates.
var (
	ErrInvalidAddress       = errors.New("invalid miner address")
	ErrDifficultyOverflow   = errors.New("difficulty overflow")
	ErrTemplateNotConverged = errors.New("block template size did not converge")
)

// templateRetries bounds the coinbase rebuilds of a template. Each rebuild
// changes the coinbase size by a few bytes at most so a couple suffice.
const templateRetries = 10

// minerTxMaxOuts is the number of outputs the reward is split into.
const minerTxMaxOuts = 11

// GetBlockTemplate builds a block on top of the tail paying the reward to
// the address. It returns the block along with the difficulty it must meet
// and its height.
//
// The reward depends on the block size which includes the coinbase, so the
// coinbase is built against the size of the selected transactions first and
// then rebuilt against the measured block size until both agree.
func (c *Core) GetBlockTemplate(address database.AccountAddress, extraNonce []byte) (database.Block, uint64, uint32, error) {
	if !address.IsValid() {
		return database.Block{}, 0, 0, ErrInvalidAddress
	}

	ls := c.LockStorage()
	defer ls.Unlock()

	info := c.chain.TemplateInfo()
	if info.Difficulty == 0 {
		return database.Block{}, 0, 0, ErrDifficultyOverflow
	}

	maxSize := min(2*info.MedianSize, c.currency.MaxBlockCumulativeSize(uint64(info.Height))) - c.currency.CoinbaseBlobReservedSize
	txs, txsSize, fee := c.pool.FillBlockTemplate(maxSize, c.currency.MaxTransactionSize(), info.Height)

	req := currency.MinerTxRequest{
		Height:                info.Height,
		MedianSize:            info.MedianSize,
		AlreadyGeneratedCoins: info.AlreadyGeneratedCoins,
		BlockSize:             txsSize,
		Fee:                   fee,
		Address:               address,
		ExtraNonce:            extraNonce,
		MaxOuts:               minerTxMaxOuts,
	}

	coinbase, err := c.currency.ConstructMinerTx(req)
	if err != nil {
		return database.Block{}, 0, 0, fmt.Errorf("building coinbase: %w", err)
	}
	cumulativeSize := txsSize + coinbase.BlobSize()

	for try := range templateRetries {
		req.BlockSize = cumulativeSize
		if coinbase, err = c.currency.ConstructMinerTx(req); err != nil {
			return database.Block{}, 0, 0, fmt.Errorf("building coinbase: %w", err)
		}

		size := txsSize + coinbase.BlobSize()
		if size != cumulativeSize {
			c.evHandler("core: GetBlockTemplate: try[%d]: coinbase changed the block size from %d to %d", try, cumulativeSize, size)
			cumulativeSize = size
			continue
		}

		hashes := make([]database.Hash, len(txs))
		for i, tx := range txs {
			hashes[i] = tx.Hash()
		}

		block := database.Block{
			BlockHeader: database.BlockHeader{
				MajorVersion:      info.MajorVersion,
				MinorVersion:      currency.BlockMinorVersion0,
				Timestamp:         max(uint64(c.now().Unix()), info.MinTimestamp),
				PreviousBlockHash: info.PreviousBlockHash,
			},
			BaseTransaction:   coinbase,
			TransactionHashes: hashes,
		}

		c.evHandler("core: GetBlockTemplate: height[%d]: txs[%d]: size[%d]: fee[%d]: difficulty[%d]", info.Height, len(txs), size, fee, info.Difficulty)

		return block, info.Difficulty, info.Height, nil
	}

	return database.Block{}, 0, 0, fmt.Errorf("%w after %d tries", ErrTemplateNotConverged, templateRetries)
}
