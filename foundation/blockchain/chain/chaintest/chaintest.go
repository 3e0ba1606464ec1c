// Package chaintest provides support for building chains in tests. Blocks
// are spaced exactly one difficulty target apart so the difficulty stays at
// one and any nonce satisfies the proof of work.
package chaintest

import (
	"testing"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage/memory"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/genesis"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
	"github.com/stretchr/testify/require"
)

// Pool is a chain.Pool backed by a map.
type Pool struct {
	txs map[database.Hash]database.Transaction
}

// NewPool constructs an empty pool.
func NewPool() *Pool {
	return &Pool{txs: make(map[database.Hash]database.Transaction)}
}

// Get implements chain.Pool.
func (p *Pool) Get(hash database.Hash) (database.Transaction, bool) {
	tx, ok := p.txs[hash]
	return tx, ok
}

// Take implements chain.Pool.
func (p *Pool) Take(hash database.Hash) (database.Transaction, bool) {
	tx, ok := p.txs[hash]
	delete(p.txs, hash)
	return tx, ok
}

// AddKept implements chain.Pool.
func (p *Pool) AddKept(tx database.Transaction) bool {
	p.txs[tx.Hash()] = tx
	return true
}

// RemoveInvalid implements chain.Pool.
func (p *Pool) RemoveInvalid(check func(tx database.Transaction) error) []database.Hash {
	var removed []database.Hash
	for hash, tx := range p.txs {
		if check(tx) != nil {
			delete(p.txs, hash)
			removed = append(removed, hash)
		}
	}
	return removed
}

// =============================================================================

// Harness builds blocks on top of any known block of a chain and spends
// the coinbase outputs it mined.
type Harness struct {
	T        *testing.T
	Currency *currency.Currency
	Store    *memory.Memory
	Chain    *chain.Chain
	Pool     chain.Pool
	Address  database.AccountAddress
	SpendSec database.SecretKey
}

// New constructs a harness over a fresh mainnet chain held in memory.
func New(t *testing.T) *Harness {
	cur, err := currency.New(genesis.MainnetDefinition())
	require.NoError(t, err)

	return NewWithCurrency(t, cur)
}

// NewWithCurrency constructs a harness over a fresh chain of the currency.
func NewWithCurrency(t *testing.T, cur *currency.Currency) *Harness {
	spendPub, spendSec, err := signature.GenerateKeys()
	require.NoError(t, err)
	viewPub, _, err := signature.GenerateKeys()
	require.NoError(t, err)

	h := Harness{
		T:        t,
		Currency: cur,
		Store:    memory.New(),
		Pool:     NewPool(),
		Address:  database.AccountAddress{SpendKey: spendPub, ViewKey: viewPub},
		SpendSec: spendSec,
	}
	h.Chain = h.Open()

	return &h
}

// Now is the fixed clock of the harness chains, far enough after genesis
// for every block the harness builds.
func (h *Harness) Now() time.Time {
	return time.Unix(int64(h.Currency.Timestamp)+10_000_000, 0)
}

// Validator returns a validator for the harness currency.
func (h *Harness) Validator() *validator.Validator {
	return validator.New(h.Currency, signature.Default)
}

// Open constructs a chain over the harness storage.
func (h *Harness) Open() *chain.Chain {
	ch, err := chain.New(chain.Config{
		Currency:  h.Currency,
		Validator: h.Validator(),
		Storage:   h.Store,
		Now:       h.Now,
	})
	require.NoError(h.T, err)
	return ch
}

// Timestamp returns the timestamp the harness gives a block at the height.
func (h *Harness) Timestamp(height uint32) uint64 {
	return h.Currency.Timestamp + uint64(height)*h.Currency.DifficultyTarget
}

// Block builds a block on top of the parent holding the transactions.
func (h *Harness) Block(parent database.Hash, txs ...database.Transaction) database.Block {
	info, ok := h.Chain.BlockInfo(parent)
	require.True(h.T, ok, "parent block must be known")
	height := info.Height + 1

	var fees uint64
	hashes := make([]database.Hash, len(txs))
	for i, tx := range txs {
		fee, ok := h.Currency.TransactionFee(tx, height)
		require.True(h.T, ok)
		fees += fee
		hashes[i] = tx.Hash()
	}

	coinbase, err := h.Currency.ConstructMinerTx(currency.MinerTxRequest{
		Height:                height,
		MedianSize:            h.Currency.FullRewardZone,
		AlreadyGeneratedCoins: info.AlreadyGeneratedCoins,
		Fee:                   fees,
		Address:               h.Address,
		MaxOuts:               1,
	})
	require.NoError(h.T, err)

	return database.Block{
		BlockHeader: database.BlockHeader{
			MajorVersion:      h.Currency.BlockMajorVersion(height),
			Timestamp:         h.Timestamp(height),
			PreviousBlockHash: parent,
		},
		BaseTransaction:   coinbase,
		TransactionHashes: hashes,
	}
}

// Submit hands the transactions to the pool and adds the block.
func (h *Harness) Submit(b database.Block, txs ...database.Transaction) chain.BlockVerification {
	for _, tx := range txs {
		h.Pool.AddKept(tx)
	}
	bv, err := h.Chain.AddNewBlock(b, h.Pool)
	require.NoError(h.T, err)
	return bv
}

// Extend mines count empty blocks on top of the parent and returns the
// last one.
func (h *Harness) Extend(parent database.Hash, count int) database.Hash {
	for range count {
		b := h.Block(parent)
		bv := h.Submit(b)
		require.False(h.T, bv.VerificationFailed, bv.String())
		parent = b.Hash()
	}
	return parent
}

// SpendCoinbase builds a transaction spending the coinbase output of the
// main chain block at the height, paying the fee.
func (h *Harness) SpendCoinbase(height uint32, fee uint64) database.Transaction {
	return h.SpendCoinbaseWithExtra(height, fee, nil)
}

// SpendCoinbaseWithExtra is SpendCoinbase with the extra field of the
// transaction set.
func (h *Harness) SpendCoinbaseWithExtra(height uint32, fee uint64, extra []byte) database.Transaction {
	return h.spendCoinbase(height, extra, func(amount uint64) []database.Output {
		return h.keyOutputs(amount - fee)
	})
}

// FundMultisig builds a transaction moving the coinbase output of the main
// chain block at the height, less the fee, to a 1 of 1 multisignature
// output. It returns the secret key spending that output.
func (h *Harness) FundMultisig(height uint32, fee uint64) (database.Transaction, database.SecretKey) {
	pub, sec, err := signature.GenerateKeys()
	require.NoError(h.T, err)

	tx := h.spendCoinbase(height, nil, func(amount uint64) []database.Output {
		ms := database.MultisigOutput{Keys: []database.PublicKey{pub}, RequiredSignatures: 1}
		return []database.Output{{Amount: amount - fee, Target: database.OutputTarget{Multisig: &ms}}}
	})

	return tx, sec
}

// SpendMultisig builds a transaction spending the 1 of 1 multisignature
// output of the amount at the global index, paying the fee.
func (h *Harness) SpendMultisig(amount uint64, globalIndex uint32, sec database.SecretKey, fee uint64) database.Transaction {
	tx := database.Transaction{
		TransactionPrefix: database.TransactionPrefix{
			Version: database.TransactionVersion1,
			Inputs: []database.Input{
				{Multisig: &database.MultisigInput{Amount: amount, SignatureCount: 1, OutputIndex: globalIndex}},
			},
			Outputs: h.keyOutputs(amount - fee),
		},
	}

	sig, err := signature.Sign(tx.PrefixHash(), sec)
	require.NoError(h.T, err)
	tx.Signatures = [][]database.Signature{{sig}}

	return tx
}

// spendCoinbase signs a transaction spending the coinbase output of the
// main chain block at the height into the outputs built for its amount.
func (h *Harness) spendCoinbase(height uint32, extra []byte, outputs func(amount uint64) []database.Output) database.Transaction {
	blocks := h.Chain.GetBlocksByHeight(height, 1)
	require.Len(h.T, blocks, 1)

	cb := blocks[0].Block.BaseTransaction
	txPub, ok := database.PublicKeyFromExtra(cb.Extra)
	require.True(h.T, ok)

	sec, err := signature.DeriveOutputSecret(h.SpendSec, txPub, 0)
	require.NoError(h.T, err)
	pub := cb.Outputs[0].Target.Key.Key

	indexes, ok := h.Chain.GlobalOutputIndexes(cb.Hash())
	require.True(h.T, ok)

	image, err := signature.Default.DeriveKeyImage(pub, sec)
	require.NoError(h.T, err)

	amount := cb.Outputs[0].Amount
	tx := database.Transaction{
		TransactionPrefix: database.TransactionPrefix{
			Version: database.TransactionVersion1,
			Inputs: []database.Input{
				{Key: &database.KeyInput{Amount: amount, OutputIndexes: database.RelativeOffsets(indexes[:1]), KeyImage: image}},
			},
			Outputs: outputs(amount),
			Extra:   extra,
		},
	}

	sigs, err := signature.SignRing(tx.PrefixHash(), image, []database.PublicKey{pub}, 0, sec)
	require.NoError(h.T, err)
	tx.Signatures = [][]database.Signature{sigs}

	return tx
}

// keyOutputs splits the amount into decomposed outputs to fresh keys.
func (h *Harness) keyOutputs(amount uint64) []database.Output {
	chunks, _ := currency.DecomposeAmount(amount, 0)
	outputs := make([]database.Output, len(chunks))
	for i, chunk := range chunks {
		key, _, err := signature.GenerateKeys()
		require.NoError(h.T, err)
		outputs[i] = database.Output{Amount: chunk, Target: database.OutputTarget{Key: &database.KeyOutput{Key: key}}}
	}
	return outputs
}
