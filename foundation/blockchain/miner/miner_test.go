package miner_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain/chaintest"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/miner"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

// clock moves one block target forward every time it is read so the
// difficulty of the mined chain stays low.
type clock struct {
	start time.Time
	step  time.Duration
	ticks atomic.Int64
}

func (c *clock) Now() time.Time {
	return c.start.Add(time.Duration(c.ticks.Add(1)) * c.step)
}

func setup(t *testing.T) (*chaintest.Harness, *core.Core, *miner.Miner) {
	h := chaintest.New(t)

	clk := clock{
		start: time.Unix(int64(h.Currency.Timestamp), 0),
		step:  time.Duration(h.Currency.DifficultyTarget) * time.Second,
	}

	c, err := core.New(core.Config{
		Currency: h.Currency,
		Crypto:   signature.Default,
		Storage:  h.Store,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	m := miner.New(miner.Config{
		Core:            c,
		RefreshInterval: 50 * time.Millisecond,
	})
	c.SetMiner(m)
	c.AddObserver(m)

	t.Cleanup(func() {
		if m.IsMining() {
			m.Stop()
		}
	})

	return h, c, m
}

// =============================================================================

func Test_Mining(t *testing.T) {
	h, c, m := setup(t)

	t.Log("Given the need to mine blocks on top of the chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the miner is started.", testID)
		{
			if err := m.Start(h.Address, 2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to start the miner: %s", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to start the miner.", success, testID)

			require.ErrorIs(t, m.Start(h.Address, 2), miner.ErrAlreadyMining)
			require.True(t, m.IsMining())
			t.Logf("\t%s\tTest %d:\tShould refuse a second start.", success, testID)

			require.Eventually(t, func() bool { return c.Height() >= 5 }, waitFor, tick)
			t.Logf("\t%s\tTest %d:\tShould extend the chain.", success, testID)

			stats := m.Stats()
			require.Positive(t, stats.BlocksFound)
			require.Positive(t, stats.Hashes)
			require.Equal(t, 2, stats.Threads)
			t.Logf("\t%s\tTest %d:\tShould report the blocks found.", success, testID)

			details, ok := c.GetBlockByHeight(1)
			require.True(t, ok)
			coinbase := details.Block.BaseTransaction
			txPub, ok := database.PublicKeyFromExtra(coinbase.Extra)
			require.True(t, ok)
			key, err := signature.DeriveOutputKey(h.Address.SpendKey, txPub, 0)
			require.NoError(t, err)
			require.Equal(t, key, coinbase.Outputs[0].Target.Key.Key)
			t.Logf("\t%s\tTest %d:\tShould pay the reward to the miner address.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the miner is stopped.", testID)
		{
			require.NoError(t, m.Stop())
			require.False(t, m.IsMining())

			height := c.Height()
			time.Sleep(100 * time.Millisecond)
			require.Equal(t, height, c.Height())
			t.Logf("\t%s\tTest %d:\tShould stop extending the chain.", success, testID)

			require.ErrorIs(t, m.Stop(), miner.ErrNotMining)
			t.Logf("\t%s\tTest %d:\tShould refuse a second stop.", success, testID)
		}
	}
}

func Test_Pause(t *testing.T) {
	h, c, m := setup(t)

	t.Log("Given the need to hold the miner while the chain changes.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the miner is paused twice.", testID)
		{
			require.NoError(t, m.Start(h.Address, 1))
			require.Eventually(t, func() bool { return c.Height() >= 2 }, waitFor, tick)

			resume1 := m.Pause()
			resume2 := m.Pause()

			// A block found before the pause may still be on its way in.
			time.Sleep(50 * time.Millisecond)

			height := c.Height()
			time.Sleep(100 * time.Millisecond)
			if c.Height() != height {
				t.Fatalf("\t%s\tTest %d:\tShould not mine while paused: got %d, exp %d", failed, testID, c.Height(), height)
			}
			t.Logf("\t%s\tTest %d:\tShould not mine while paused.", success, testID)

			resume1()
			resume1()
			time.Sleep(100 * time.Millisecond)
			require.Equal(t, height, c.Height())
			t.Logf("\t%s\tTest %d:\tShould stay paused until every pause is resumed.", success, testID)

			resume2()
			require.Eventually(t, func() bool { return c.Height() > height }, waitFor, tick)
			t.Logf("\t%s\tTest %d:\tShould mine again once resumed.", success, testID)
		}
	}
}

func Test_StartErrors(t *testing.T) {
	h, _, m := setup(t)

	type table struct {
		name    string
		address database.AccountAddress
		threads int
		err     error
	}

	tt := []table{
		{name: "address", address: database.AccountAddress{}, threads: 1, err: miner.ErrInvalidAddress},
		{name: "threads", address: h.Address, threads: 0, err: miner.ErrInvalidThreads},
	}

	t.Log("Given the need to validate the mining parameters.")
	{
		for testID, test := range tt {
			tf := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen starting with an invalid %s.", testID, test.name)
				{
					err := m.Start(test.address, test.threads)
					if err == nil || err != test.err {
						t.Fatalf("\t%s\tTest %d:\tShould get %v: got %v", failed, testID, test.err, err)
					}
					t.Logf("\t%s\tTest %d:\tShould get %v.", success, testID, test.err)

					require.False(t, m.IsMining())
				}
			}

			t.Run(test.name, tf)
		}
	}
}
