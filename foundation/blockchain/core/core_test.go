package core_test

import (
	"slices"
	"testing"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain/chaintest"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// recorder stands in for the observers, the miner and the relay layer.
type recorder struct {
	chainEvents []core.ChainEvent
	poolEvents  int
	paused      int
	resumed     int
	relayed     []database.Block
	relayedTxs  []database.Transaction
	poolSyncs   int
}

func (r *recorder) BlockchainUpdated(ev core.ChainEvent) { r.chainEvents = append(r.chainEvents, ev) }
func (r *recorder) PoolUpdated()                         { r.poolEvents++ }

func (r *recorder) Pause() func() {
	r.paused++
	return func() { r.resumed++ }
}

func (r *recorder) RelayBlock(block database.Block, txs []database.Transaction) {
	r.relayed = append(r.relayed, block)
}

func (r *recorder) RelayTransactions(txs []database.Transaction) {
	r.relayedTxs = append(r.relayedTxs, txs...)
}

func (r *recorder) RequestPoolSync() { r.poolSyncs++ }

// clock is a settable time source.
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

// setup constructs a core over the storage of a new harness.
func setup(t *testing.T) (*chaintest.Harness, *core.Core, *recorder, *clock) {
	return setupWith(t, chaintest.New(t))
}

// setupWith constructs a core over the storage of the harness and points
// the harness at the chain and pool of the core.
func setupWith(t *testing.T, h *chaintest.Harness) (*chaintest.Harness, *core.Core, *recorder, *clock) {
	clk := clock{now: h.Now()}

	c, err := core.New(core.Config{
		Currency: h.Currency,
		Crypto:   signature.Default,
		Storage:  h.Store,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	ls := c.LockStorage()
	h.Chain = ls.Chain()
	h.Pool = ls.Pool()
	ls.Unlock()

	var rec recorder
	c.AddObserver(&rec)
	c.SetMiner(&rec)
	c.SetRelay(&rec)

	return h, c, &rec, &clk
}

// mine adds count empty blocks through the core.
func mine(t *testing.T, h *chaintest.Harness, c *core.Core, count int) {
	for range count {
		bv, err := c.HandleIncomingBlock(h.Block(c.TailID()), true, true)
		require.NoError(t, err)
		require.True(t, bv.AddedToMainChain, bv.String())
	}
}

func submit(c *core.Core, tx database.Transaction) validator.TxVerification {
	return c.HandleIncomingTransaction(tx, tx.Hash(), tx.BlobSize(), false, c.Height())
}

// =============================================================================

func Test_HandleIncomingBlock(t *testing.T) {
	h, c, rec, _ := setup(t)
	mine(t, h, c, 4)

	t.Log("Given the need to extend the chain through the core.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a block extends the tail.", testID)
		{
			b := h.Block(c.TailID())
			bv, err := c.HandleIncomingBlock(b, true, true)
			require.NoError(t, err)

			if !bv.AddedToMainChain || c.Height() != 6 {
				t.Fatalf("\t%s\tTest %d:\tShould add the block as the sixth: %s", failed, testID, bv)
			}
			t.Logf("\t%s\tTest %d:\tShould add the block as the sixth.", success, testID)

			require.Equal(t, 5, rec.paused)
			require.Equal(t, 5, rec.resumed)
			t.Logf("\t%s\tTest %d:\tShould pause and resume the miner around the change.", success, testID)

			require.Len(t, rec.chainEvents, 5)
			last := rec.chainEvents[4]
			require.Equal(t, uint32(6), last.Height)
			require.Equal(t, b.Hash(), last.TailID)
			require.Equal(t, b.Hash(), rec.relayed[4].Hash())
			t.Logf("\t%s\tTest %d:\tShould notify the observers and relay the block.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the same block arrives again.", testID)
		{
			events := len(rec.chainEvents)
			tail, _ := c.GetBlockByHeight(c.Height() - 1)

			bv, err := c.HandleIncomingBlock(tail.Block, true, true)
			require.NoError(t, err)

			if !bv.AlreadyExists || len(rec.chainEvents) != events {
				t.Fatalf("\t%s\tTest %d:\tShould report it as known without notifying: %s", failed, testID, bv)
			}
			t.Logf("\t%s\tTest %d:\tShould report it as known without notifying.", success, testID)
		}
	}
}

func Test_DuplicateKeyImage(t *testing.T) {
	h, c, rec, _ := setup(t)
	mine(t, h, c, 12)

	t.Log("Given the need to keep one spend of a key image in the pool.")
	{
		tx1 := h.SpendCoinbase(2, h.Currency.MinimumFee)
		tx2 := h.SpendCoinbase(2, 2*h.Currency.MinimumFee)

		testID := 0
		t.Logf("\tTest %d:\tWhen the first spend arrives.", testID)
		{
			tv := submit(c, tx1)
			if !tv.AddedToPool {
				t.Fatalf("\t%s\tTest %d:\tShould add the transaction: %s", failed, testID, tv)
			}
			require.Equal(t, 1, rec.poolEvents)
			t.Logf("\t%s\tTest %d:\tShould add the transaction and notify.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a second spend of the key image arrives.", testID)
		{
			tv := submit(c, tx2)
			if !tv.VerificationFailed {
				t.Fatalf("\t%s\tTest %d:\tShould fail the transaction: %s", failed, testID, tv)
			}
			require.Equal(t, 1, c.Stats().PoolSize)
			require.Equal(t, 1, rec.poolEvents)
			t.Logf("\t%s\tTest %d:\tShould keep the pool at one transaction.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen the transaction is malformed.", testID)
		{
			bad := tx1
			bad.Signatures = nil

			tv := submit(c, bad)
			require.True(t, tv.VerificationFailed)
			require.ErrorIs(t, tv.Reason, validator.ErrSignatureCount)
			t.Logf("\t%s\tTest %d:\tShould fail the syntax check.", success, testID)
		}
	}
}

func Test_SubmitTransaction(t *testing.T) {
	h, c, rec, _ := setup(t)
	mine(t, h, c, 12)

	t.Log("Given the need to accept locally submitted transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a wallet submits an encoded transaction.", testID)
		{
			tx := h.SpendCoinbase(3, h.Currency.MinimumFee)

			hash, tv, err := c.SubmitTransaction(tx.Encode())
			require.NoError(t, err)
			require.Equal(t, tx.Hash(), hash)
			require.True(t, tv.AddedToPool, tv.String())
			require.Len(t, rec.relayedTxs, 1)
			t.Logf("\t%s\tTest %d:\tShould pool and relay the transaction.", success, testID)

			details, ok := c.GetTransaction(hash)
			require.True(t, ok)
			require.True(t, details.InPool)
			t.Logf("\t%s\tTest %d:\tShould find the transaction in the pool.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the blob doesn't decode.", testID)
		{
			_, _, err := c.SubmitTransaction([]byte{0xff, 0x01})
			if err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould fail to decode.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould fail to decode.", success, testID)
		}
	}
}

func Test_GetBlockTemplate(t *testing.T) {
	h, c, rec, _ := setup(t)
	mine(t, h, c, 12)

	tx := h.SpendCoinbase(4, 3*h.Currency.MinimumFee)
	require.True(t, submit(c, tx).AddedToPool)

	t.Log("Given the need to mine on top of the tail.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen asking for a template.", testID)
		{
			block, difficulty, height, err := c.GetBlockTemplate(h.Address, []byte("pool"))
			require.NoError(t, err)

			if height != c.Height() || block.PreviousBlockHash != c.TailID() {
				t.Fatalf("\t%s\tTest %d:\tShould build on top of the tail.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould build on top of the tail.", success, testID)

			require.Equal(t, c.DifficultyForNextBlock(), difficulty)
			require.Equal(t, []database.Hash{tx.Hash()}, block.TransactionHashes)
			t.Logf("\t%s\tTest %d:\tShould include the pooled transaction.", success, testID)

			bv, err := c.HandleBlockFound(block)
			require.NoError(t, err)
			if !bv.AddedToMainChain {
				t.Fatalf("\t%s\tTest %d:\tShould accept the mined template: %s", failed, testID, bv)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the mined template.", success, testID)

			require.Equal(t, 0, c.Stats().PoolSize)
			require.True(t, c.HaveTransaction(tx.Hash()))
			details, ok := c.GetTransaction(tx.Hash())
			require.True(t, ok)
			require.False(t, details.InPool)
			require.Equal(t, height, details.BlockHeight)
			t.Logf("\t%s\tTest %d:\tShould move the transaction from the pool to the chain.", success, testID)

			require.Equal(t, 12, rec.paused)
			t.Logf("\t%s\tTest %d:\tShould not pause the miner for its own block.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the address is not valid.", testID)
		{
			_, _, _, err := c.GetBlockTemplate(database.AccountAddress{}, nil)
			require.ErrorIs(t, err, core.ErrInvalidAddress)
			t.Logf("\t%s\tTest %d:\tShould refuse to build a template.", success, testID)
		}
	}
}

func Test_Reorganization(t *testing.T) {
	h, c, rec, _ := setup(t)
	mine(t, h, c, 12)
	split := c.TailID()

	tx1 := h.SpendCoinbase(1, h.Currency.MinimumFee)
	tx2 := h.SpendCoinbase(2, h.Currency.MinimumFee)

	require.True(t, submit(c, tx1).AddedToPool)
	a1 := h.Block(split, tx1)
	bv, err := c.HandleIncomingBlock(a1, true, true)
	require.NoError(t, err)
	require.True(t, bv.AddedToMainChain, bv.String())

	a2 := h.Block(a1.Hash())
	bv, err = c.HandleIncomingBlock(a2, true, true)
	require.NoError(t, err)
	require.True(t, bv.AddedToMainChain, bv.String())

	t.Log("Given the need to keep the pool and the chain disjoint across a reorganization.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a heavier branch without the confirmed transaction arrives.", testID)
		{
			require.True(t, submit(c, tx2).AddedToPool)

			b1 := h.Block(split)
			b2 := h.Block(b1.Hash(), tx2)
			b3 := h.Block(b2.Hash())

			var last bool
			for _, b := range []database.Block{b1, b2, b3} {
				bv, err := c.HandleIncomingBlock(b, true, true)
				require.NoError(t, err)
				require.False(t, bv.VerificationFailed, bv.String())
				last = bv.SwitchedToAltChain
			}

			if !last || c.TailID() != b3.Hash() {
				t.Fatalf("\t%s\tTest %d:\tShould switch to the heavier branch.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould switch to the heavier branch.", success, testID)

			require.Equal(t, 1, rec.poolSyncs)
			t.Logf("\t%s\tTest %d:\tShould ask the peers for their pools.", success, testID)

			pooled := c.PoolTransactions()
			require.Len(t, pooled, 1)
			require.Equal(t, tx1.Hash(), pooled[0].Hash())
			for _, tx := range pooled {
				details, ok := c.GetTransaction(tx.Hash())
				require.True(t, ok)
				require.True(t, details.InPool)
			}
			require.True(t, c.HaveTransaction(tx2.Hash()))
			t.Logf("\t%s\tTest %d:\tShould return the dropped transaction to the pool only.", success, testID)
		}
	}
}

func Test_ReorganizationConflict(t *testing.T) {
	h, c, _, _ := setup(t)
	mine(t, h, c, 12)
	split := c.TailID()

	pooled := h.SpendCoinbase(2, h.Currency.MinimumFee)
	rival := h.SpendCoinbase(2, 2*h.Currency.MinimumFee)

	require.True(t, submit(c, pooled).AddedToPool)
	mine(t, h, c, 1)

	t.Log("Given the need to drop pool transactions a new main chain invalidates.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a heavier branch confirms a rival spend.", testID)
		{
			require.True(t, h.Pool.AddKept(rival))

			b1 := h.Block(split, rival)
			b2 := h.Block(b1.Hash())

			var last bool
			for _, b := range []database.Block{b1, b2} {
				bv, err := c.HandleIncomingBlock(b, true, true)
				require.NoError(t, err)
				require.False(t, bv.VerificationFailed, bv.String())
				last = bv.SwitchedToAltChain
			}
			require.True(t, last)
			require.True(t, c.HaveTransaction(rival.Hash()))
			t.Logf("\t%s\tTest %d:\tShould switch to the heavier branch.", success, testID)

			if len(c.PoolTransactions()) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould remove the conflicting transaction from the pool.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remove the conflicting transaction from the pool.", success, testID)
		}
	}
}

func Test_AddChain(t *testing.T) {
	src, sc, _, _ := setup(t)
	mine(t, src, sc, 12)

	tx := src.SpendCoinbase(1, src.Currency.MinimumFee)
	require.True(t, submit(sc, tx).AddedToPool)
	b := src.Block(sc.TailID(), tx)
	bv, err := sc.HandleIncomingBlock(b, false, false)
	require.NoError(t, err)
	require.True(t, bv.AddedToMainChain, bv.String())

	var raws []database.RawBlock
	for height := uint32(1); height < sc.Height(); height++ {
		details, ok := sc.GetBlockByHeight(height)
		require.True(t, ok)
		raws = append(raws, database.NewRawBlock(details.Block, details.Transactions))
	}

	t.Log("Given the need to import a batch of blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen every block of the batch is valid.", testID)
		{
			_, dst, rec, _ := setupWith(t, chaintest.NewWithCurrency(t, src.Currency))

			accepted, err := dst.AddChain(raws)
			require.NoError(t, err)

			if accepted != len(raws) || dst.TailID() != sc.TailID() {
				t.Fatalf("\t%s\tTest %d:\tShould import all %d blocks, got %d.", failed, testID, len(raws), accepted)
			}
			t.Logf("\t%s\tTest %d:\tShould import all the blocks.", success, testID)

			require.True(t, dst.HaveTransaction(tx.Hash()))
			require.Equal(t, 0, dst.Stats().PoolSize)
			require.Len(t, rec.chainEvents, 1)
			t.Logf("\t%s\tTest %d:\tShould confirm the transactions and notify once.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a block in the middle is invalid.", testID)
		{
			_, dst, _, _ := setupWith(t, chaintest.NewWithCurrency(t, src.Currency))

			broken := slices.Clone(raws)
			details, ok := sc.GetBlockByHeight(4)
			require.True(t, ok)
			bad := details.Block
			bad.BaseTransaction.Outputs[0].Amount++
			broken[3] = database.NewRawBlock(bad, nil)

			accepted, err := dst.AddChain(broken)
			require.NoError(t, err)

			if accepted != 3 || dst.Height() != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould stop at the invalid block, accepted %d.", failed, testID, accepted)
			}
			t.Logf("\t%s\tTest %d:\tShould stop at the invalid block.", success, testID)
		}
	}
}

func Test_OnIdle(t *testing.T) {
	h, c, rec, clk := setup(t)
	mine(t, h, c, 12)

	tx := h.SpendCoinbase(5, h.Currency.MinimumFee)
	require.True(t, submit(c, tx).AddedToPool)
	events := rec.poolEvents

	t.Log("Given the need to evict stale pool transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a transaction outlives its time to live.", testID)
		{
			clk.now = clk.now.Add(time.Duration(h.Currency.MempoolTxLiveTime+1) * time.Second)
			c.OnIdle()

			if c.HaveTransaction(tx.Hash()) {
				t.Fatalf("\t%s\tTest %d:\tShould evict the transaction.", failed, testID)
			}
			require.Equal(t, events+1, rec.poolEvents)
			t.Logf("\t%s\tTest %d:\tShould evict the transaction and notify.", success, testID)
		}
	}
}

func Test_LockStorage(t *testing.T) {
	_, c, _, _ := setup(t)

	t.Log("Given the need to hold the chain and the pool together.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen unlocking the guard twice.", testID)
		{
			ls := c.LockStorage()
			require.Equal(t, uint32(1), ls.Chain().Height())
			require.Equal(t, 0, ls.Pool().Count())
			ls.Unlock()
			ls.Unlock()

			ls = c.LockStorage()
			ls.Unlock()
			t.Logf("\t%s\tTest %d:\tShould release the lock exactly once.", success, testID)
		}
	}
}
