package currency

import (
	"errors"
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// Set of errors produced when building or checking coinbase transactions.
var (
	ErrBlockTooBig    = errors.New("block cumulative size is too big")
	ErrMinerTxInvalid = errors.New("invalid miner transaction")
)

// MinerTxRequest describes the coinbase transaction of a candidate block.
type MinerTxRequest struct {
	Height                uint32
	MedianSize            uint64
	AlreadyGeneratedCoins uint64
	BlockSize             uint64
	Fee                   uint64
	Address               database.AccountAddress
	ExtraNonce            []byte
	MaxOuts               int
}

// ConstructMinerTx builds the coinbase transaction paying the block reward
// and the fees to the address. Every output pays a one time key derived from
// the address spend key and the transaction public key.
func (c *Currency) ConstructMinerTx(req MinerTxRequest) (database.Transaction, error) {
	txPub, _, err := signature.GenerateKeys()
	if err != nil {
		return database.Transaction{}, err
	}

	extra := database.AppendExtraPublicKey(nil, txPub)
	if len(req.ExtraNonce) > 0 {
		if extra, err = database.AppendExtraNonce(extra, req.ExtraNonce); err != nil {
			return database.Transaction{}, err
		}
	}

	reward, _, ok := c.BlockReward(req.MedianSize, req.BlockSize, req.AlreadyGeneratedCoins, req.Fee, req.Height)
	if !ok {
		return database.Transaction{}, fmt.Errorf("%w: size %d median %d", ErrBlockTooBig, req.BlockSize, req.MedianSize)
	}

	maxOuts := req.MaxOuts
	if maxOuts <= 0 {
		maxOuts = 1
	}

	amounts := c.rewardAmounts(reward, maxOuts)
	outputs := make([]database.Output, 0, len(amounts))
	for i, amount := range amounts {
		key, err := signature.DeriveOutputKey(req.Address.SpendKey, txPub, uint32(i))
		if err != nil {
			return database.Transaction{}, fmt.Errorf("deriving output key: %w", err)
		}
		outputs = append(outputs, database.Output{
			Amount: amount,
			Target: database.OutputTarget{Key: &database.KeyOutput{Key: key}},
		})
	}

	tx := database.Transaction{
		TransactionPrefix: database.TransactionPrefix{
			Version:    database.TransactionVersion1,
			UnlockTime: uint64(req.Height) + uint64(c.MinedMoneyUnlockWindow),
			Inputs:     []database.Input{{Base: &database.BaseInput{Height: req.Height}}},
			Outputs:    outputs,
			Extra:      extra,
		},
	}

	return tx, nil
}

// PrevalidateMinerTx checks the shape of the coinbase transaction of a block
// at the height.
func (c *Currency) PrevalidateMinerTx(tx database.Transaction, height uint32) error {
	if !tx.IsCoinbase() {
		return fmt.Errorf("%w: coinbase must have exactly one base input", ErrMinerTxInvalid)
	}
	if tx.Inputs[0].Base.Height != height {
		return fmt.Errorf("%w: base input height %d, expected %d", ErrMinerTxInvalid, tx.Inputs[0].Base.Height, height)
	}
	if tx.UnlockTime != uint64(height)+uint64(c.MinedMoneyUnlockWindow) {
		return fmt.Errorf("%w: unlock time %d, expected %d", ErrMinerTxInvalid, tx.UnlockTime, uint64(height)+uint64(c.MinedMoneyUnlockWindow))
	}
	if len(tx.Signatures) != 0 {
		return fmt.Errorf("%w: coinbase carries signatures", ErrMinerTxInvalid)
	}
	for _, out := range tx.Outputs {
		if !out.IsKey() || out.Amount == 0 {
			return fmt.Errorf("%w: coinbase outputs must be non zero key outputs", ErrMinerTxInvalid)
		}
	}
	return nil
}

// ValidateMinerTxReward checks the coinbase pays exactly the reward the
// block is entitled to. It returns the reward and the emission change.
func (c *Currency) ValidateMinerTxReward(tx database.Transaction, height uint32, medianSize uint64, blockSize uint64, alreadyGeneratedCoins uint64, fee uint64) (uint64, int64, error) {
	paid, ok := tx.OutputsAmount()
	if !ok {
		return 0, 0, fmt.Errorf("%w: outputs overflow", ErrMinerTxInvalid)
	}

	reward, emissionChange, ok := c.BlockReward(medianSize, blockSize, alreadyGeneratedCoins, fee, height)
	if !ok {
		return 0, 0, fmt.Errorf("%w: size %d median %d", ErrBlockTooBig, blockSize, medianSize)
	}

	switch {
	case paid > reward:
		return 0, 0, fmt.Errorf("%w: coinbase spends %d, reward is %d", ErrMinerTxInvalid, paid, reward)
	case paid < reward:
		return 0, 0, fmt.Errorf("%w: coinbase doesn't use the full reward %d, spends %d", ErrMinerTxInvalid, reward, paid)
	}

	return reward, emissionChange, nil
}
