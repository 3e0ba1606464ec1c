package currency_test

import (
	"math/rand"
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/genesis"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func newCurrency(t *testing.T) *currency.Currency {
	c, err := currency.New(genesis.MainnetDefinition())
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the currency: %v", failed, err)
	}
	return c
}

// =============================================================================

func Test_Decompose(t *testing.T) {
	type table struct {
		amount uint64
		dust   uint64
		chunks []uint64
		left   uint64
	}

	tt := []table{
		{amount: 0, dust: 10, chunks: nil, left: 0},
		{amount: 5003, dust: 10, chunks: []uint64{5000}, left: 3},
		{amount: 18, dust: 10, chunks: []uint64{10}, left: 8},
		{amount: 123456, dust: 0, chunks: []uint64{6, 50, 400, 3000, 20000, 100000}, left: 0},
		{amount: 505, dust: 1000, chunks: nil, left: 505},
	}

	t.Log("Given the need to decompose amounts into denominations.")
	{
		for testID, tst := range tt {
			chunks, dust := currency.DecomposeAmount(tst.amount, tst.dust)
			if dust != tst.left || len(chunks) != len(tst.chunks) {
				t.Fatalf("\t%s\tTest %d:\tShould decompose %d into %v + %d, got %v + %d.", failed, testID, tst.amount, tst.chunks, tst.left, chunks, dust)
			}
			for i := range chunks {
				if chunks[i] != tst.chunks[i] {
					t.Fatalf("\t%s\tTest %d:\tShould decompose %d into %v, got %v.", failed, testID, tst.amount, tst.chunks, chunks)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould decompose %d.", success, testID, tst.amount)
		}

		testID := len(tt)
		rnd := rand.New(rand.NewSource(1))
		for i := 0; i < 10000; i++ {
			amount := rnd.Uint64()
			threshold := uint64(rnd.Intn(100000))
			chunks, dust := currency.DecomposeAmount(amount, threshold)

			sum := dust
			for _, c := range chunks {
				if !currency.IsPrettyAmount(c) {
					t.Fatalf("\t%s\tTest %d:\tShould only produce pretty chunks, got %d.", failed, testID, c)
				}
				sum += c
			}
			if sum != amount {
				t.Fatalf("\t%s\tTest %d:\tShould add back up to %d, got %d.", failed, testID, amount, sum)
			}
		}
		t.Logf("\t%s\tTest %d:\tShould always add back up to the amount.", success, testID)
	}
}

func Test_PrettyAmount(t *testing.T) {
	t.Log("Given the need to recognize decomposed amounts.")
	{
		testID := 0
		for _, v := range []uint64{1, 9, 10, 70, 300000, 9000000000000000000} {
			if !currency.IsPrettyAmount(v) {
				t.Fatalf("\t%s\tTest %d:\tShould accept %d.", failed, testID, v)
			}
		}
		for _, v := range []uint64{0, 11, 101, 1234, 18446744073709551615} {
			if currency.IsPrettyAmount(v) {
				t.Fatalf("\t%s\tTest %d:\tShould reject %d.", failed, testID, v)
			}
		}
		t.Logf("\t%s\tTest %d:\tShould classify amounts.", success, testID)
	}
}

func Test_BlockReward(t *testing.T) {
	c := newCurrency(t)
	zone := c.FullRewardZone

	t.Log("Given the need to calculate block rewards.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the block is within the full reward zone.", testID)
		{
			reward, emission, ok := c.BlockReward(0, zone, 0, 100, 10)
			if !ok || reward != c.StartBlockReward+100 || emission != int64(c.StartBlockReward) {
				t.Fatalf("\t%s\tTest %d:\tShould get the full reward, got %d %d %t.", failed, testID, reward, emission, ok)
			}
			t.Logf("\t%s\tTest %d:\tShould get the full reward.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the block is above the median.", testID)
		{
			reward, emission, ok := c.BlockReward(zone, zone*3/2, 0, 1000, 10)
			if !ok || reward >= c.StartBlockReward+1000 {
				t.Fatalf("\t%s\tTest %d:\tShould get a penalized reward, got %d.", failed, testID, reward)
			}
			if emission >= int64(c.StartBlockReward) {
				t.Fatalf("\t%s\tTest %d:\tShould burn part of the fee, got %d.", failed, testID, emission)
			}
			t.Logf("\t%s\tTest %d:\tShould get a penalized reward.", success, testID)

			if _, _, ok := c.BlockReward(zone, 2*zone+1, 0, 0, 10); ok {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block over twice the median.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block over twice the median.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen the reward increases over time.", testID)
		{
			interval := c.RewardIncreaseInterval
			if c.BaseReward(0, interval-1) != c.StartBlockReward || c.BaseReward(0, interval) != 2*c.StartBlockReward {
				t.Fatalf("\t%s\tTest %d:\tShould step the reward every interval.", failed, testID)
			}
			if c.BaseReward(0, interval*10000) != c.MaxBlockReward {
				t.Fatalf("\t%s\tTest %d:\tShould cap the reward.", failed, testID)
			}
			if c.BaseReward(c.MoneySupply-5, 20) != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould not exceed the money supply.", failed, testID)
			}
			if c.BaseReward(0, 1) != c.FoundationTrust {
				t.Fatalf("\t%s\tTest %d:\tShould pay the foundation trust at height 1.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould follow the emission schedule.", success, testID)
		}
	}
}

func Test_Difficulty(t *testing.T) {
	c := newCurrency(t)

	build := func(n int, spacing uint64, diff uint64) ([]uint64, []uint64) {
		ts := make([]uint64, n)
		cum := make([]uint64, n)
		for i := 0; i < n; i++ {
			ts[i] = 1000 + uint64(i)*spacing
			cum[i] = uint64(i+1) * diff
		}
		return ts, cum
	}

	t.Log("Given the need to retarget the difficulty.")
	{
		testID := 0
		if d := c.NextDifficulty(nil, nil); d != 1 {
			t.Fatalf("\t%s\tTest %d:\tShould start at one, got %d.", failed, testID, d)
		}
		t.Logf("\t%s\tTest %d:\tShould start at one.", success, testID)

		testID = 1
		ts, cum := build(100, c.DifficultyTarget, 1000)
		if d := c.NextDifficulty(ts, cum); d != 1000 {
			t.Fatalf("\t%s\tTest %d:\tShould keep the difficulty on target spacing, got %d.", failed, testID, d)
		}
		t.Logf("\t%s\tTest %d:\tShould keep the difficulty on target spacing.", success, testID)

		testID = 2
		ts, cum = build(c.DifficultyWindow+20, c.DifficultyTarget/2, 1000)
		if d := c.NextDifficulty(ts, cum); d != 2000 {
			t.Fatalf("\t%s\tTest %d:\tShould double the difficulty at half spacing, got %d.", failed, testID, d)
		}
		t.Logf("\t%s\tTest %d:\tShould double the difficulty at half spacing.", success, testID)

		testID = 3
		ts, cum = build(10, c.DifficultyTarget, 1<<58)
		if d := c.NextDifficulty(ts, cum); d != 0 {
			t.Fatalf("\t%s\tTest %d:\tShould report an overflow as zero, got %d.", failed, testID, d)
		}
		t.Logf("\t%s\tTest %d:\tShould report an overflow as zero.", success, testID)
	}
}

func Test_CheckHash(t *testing.T) {
	t.Log("Given the need to check proof of work hashes.")
	{
		testID := 0
		var low, high [32]byte
		low[0] = 0xff
		high[31] = 0x80

		if !currency.CheckHash(high, 1) || !currency.CheckHash(low, 1<<40) {
			t.Fatalf("\t%s\tTest %d:\tShould accept hashes below the target.", failed, testID)
		}
		if currency.CheckHash(high, 2) {
			t.Fatalf("\t%s\tTest %d:\tShould reject hashes above the target.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould compare the hash as a little endian number.", success, testID)
	}
}

func Test_Fees(t *testing.T) {
	c := newCurrency(t)

	key := func(amount uint64) database.Input {
		return database.Input{Key: &database.KeyInput{Amount: amount}}
	}
	out := func(amount uint64) database.Output {
		return database.Output{Amount: amount, Target: database.OutputTarget{Key: &database.KeyOutput{}}}
	}

	t.Log("Given the need to calculate transaction fees.")
	{
		testID := 0
		tx := database.Transaction{TransactionPrefix: database.TransactionPrefix{
			Inputs:  []database.Input{key(1000)},
			Outputs: []database.Output{out(900)},
		}}
		if fee, ok := c.TransactionFee(tx, 100); !ok || fee != 100 {
			t.Fatalf("\t%s\tTest %d:\tShould get a fee of 100, got %d.", failed, testID, fee)
		}
		t.Logf("\t%s\tTest %d:\tShould get the difference as the fee.", success, testID)

		testID = 1
		tx.Outputs = []database.Output{out(2000)}
		if _, ok := c.TransactionFee(tx, 100); ok {
			t.Fatalf("\t%s\tTest %d:\tShould reject outputs above inputs.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould reject outputs above inputs.", success, testID)

		testID = 2
		deposit := database.Input{Multisig: &database.MultisigInput{Amount: 100_000_000, SignatureCount: 1, Term: c.DepositMinTerm}}
		interest := c.Interest.Interest(100_000_000, c.DepositMinTerm, 100000)
		if interest == 0 {
			t.Fatalf("\t%s\tTest %d:\tShould earn interest on a deposit.", failed, testID)
		}
		tx = database.Transaction{TransactionPrefix: database.TransactionPrefix{
			Inputs:  []database.Input{deposit},
			Outputs: []database.Output{out(100_000_000 + interest - c.MinimumFee)},
		}}
		if fee, ok := c.TransactionFee(tx, 100000); !ok || fee != c.MinimumFee {
			t.Fatalf("\t%s\tTest %d:\tShould pay the minimum fee on a withdrawal, got %d %t.", failed, testID, fee, ok)
		}
		t.Logf("\t%s\tTest %d:\tShould count the interest of deposits.", success, testID)
	}
}

func Test_Fusion(t *testing.T) {
	c := newCurrency(t)

	t.Log("Given the need to recognize fusion transactions.")
	{
		testID := 0
		var tx database.Transaction
		for i := 0; i < 12; i++ {
			tx.Inputs = append(tx.Inputs, database.Input{Key: &database.KeyInput{Amount: 100}})
		}
		tx.Outputs = []database.Output{
			{Amount: 200, Target: database.OutputTarget{Key: &database.KeyOutput{}}},
			{Amount: 1000, Target: database.OutputTarget{Key: &database.KeyOutput{}}},
		}

		if !c.IsFusionTransaction(tx, tx.BlobSize()) {
			t.Fatalf("\t%s\tTest %d:\tShould accept twelve inputs into two outputs.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould accept twelve inputs into two outputs.", success, testID)

		tx.Outputs = append(tx.Outputs, database.Output{Amount: 0, Target: database.OutputTarget{Key: &database.KeyOutput{}}})
		if c.IsFusionTransaction(tx, tx.BlobSize()) {
			t.Fatalf("\t%s\tTest %d:\tShould reject outputs not matching the decomposition.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould reject outputs not matching the decomposition.", success, testID)
	}
}

func Test_MinerTx(t *testing.T) {
	c := newCurrency(t)

	t.Log("Given the need to build coinbase transactions.")
	{
		testID := 0
		spend, _, _ := signature.GenerateKeys()
		view, _, _ := signature.GenerateKeys()

		req := currency.MinerTxRequest{
			Height:                100,
			AlreadyGeneratedCoins: 1_000_000,
			BlockSize:             1000,
			Fee:                   30,
			Address:               database.AccountAddress{SpendKey: spend, ViewKey: view},
			ExtraNonce:            []byte{1, 2, 3},
			MaxOuts:               10,
		}

		tx, err := c.ConstructMinerTx(req)
		if err != nil {
			t.Fatalf("\t%s\tTest %d:\tShould build the coinbase: %v", failed, testID, err)
		}
		t.Logf("\t%s\tTest %d:\tShould build the coinbase.", success, testID)

		if err := c.PrevalidateMinerTx(tx, 100); err != nil {
			t.Fatalf("\t%s\tTest %d:\tShould pass prevalidation: %v", failed, testID, err)
		}
		if err := c.PrevalidateMinerTx(tx, 101); err == nil {
			t.Fatalf("\t%s\tTest %d:\tShould fail prevalidation at another height.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould prevalidate against the height.", success, testID)

		if _, _, err := c.ValidateMinerTxReward(tx, 100, 0, 1000, 1_000_000, 30); err != nil {
			t.Fatalf("\t%s\tTest %d:\tShould pay the exact reward: %v", failed, testID, err)
		}
		if _, _, err := c.ValidateMinerTxReward(tx, 100, 0, 1000, 1_000_000, 31); err == nil {
			t.Fatalf("\t%s\tTest %d:\tShould reject a coinbase not using the full reward.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould validate the reward.", success, testID)
	}
}

func Test_Genesis(t *testing.T) {
	t.Log("Given the need for a fixed genesis block.")
	{
		testID := 0
		a := newCurrency(t)
		b := newCurrency(t)
		if a.GenesisHash() != b.GenesisHash() {
			t.Fatalf("\t%s\tTest %d:\tShould build the same genesis block every time.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould build the same genesis block every time.", success, testID)

		tn, err := currency.New(genesis.TestnetDefinition())
		if err != nil || tn.GenesisHash() == a.GenesisHash() {
			t.Fatalf("\t%s\tTest %d:\tShould get a distinct testnet genesis: %v", failed, testID, err)
		}
		t.Logf("\t%s\tTest %d:\tShould get a distinct testnet genesis.", success, testID)

		if a.BlockMajorVersion(0) != currency.BlockMajorVersion1 || a.BlockMajorVersion(1) != currency.BlockMajorVersion2 || a.BlockMajorVersion(20000) != currency.BlockMajorVersion3 {
			t.Fatalf("\t%s\tTest %d:\tShould follow the upgrade heights.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould follow the upgrade heights.", success, testID)

		if !a.IsUnlocked(10, 10, 0) || a.IsUnlocked(12, 10, 0) || !a.IsUnlocked(1_600_000_000, 10, 1_600_000_000) {
			t.Fatalf("\t%s\tTest %d:\tShould apply the unlock rules.", failed, testID)
		}
		t.Logf("\t%s\tTest %d:\tShould apply the unlock rules.", success, testID)
	}
}
