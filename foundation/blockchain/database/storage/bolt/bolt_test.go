package bolt_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage/bolt"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func blockData(height uint64) database.BlockData {
	b := database.Block{
		BlockHeader: database.BlockHeader{MajorVersion: 1, Timestamp: 1000 + height, Nonce: uint32(height)},
		BaseTransaction: database.Transaction{
			TransactionPrefix: database.TransactionPrefix{
				Version: 1,
				Inputs:  []database.Input{{Base: &database.BaseInput{Height: uint32(height)}}},
			},
		},
	}
	return database.BlockData{Height: height, Hash: b.Hash(), Block: b, CumulativeDifficulty: height + 1}
}

func Test_Bolt(t *testing.T) {
	t.Log("Given the need to store blocks in a bolt database.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen writing five blocks.", testID)
		{
			d, err := bolt.New(filepath.Join(t.TempDir(), "blocks.db"))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to open the storage: %v", failed, testID, err)
			}
			defer d.Close()

			for h := uint64(0); h < 5; h++ {
				if err := d.Write(blockData(h)); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to write block %d: %v", failed, testID, h, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould be able to write the blocks.", success, testID)

			bd, err := d.GetBlock(3)
			if err != nil || bd.Hash != blockData(3).Hash || bd.Block.Hash() != bd.Hash {
				t.Fatalf("\t%s\tTest %d:\tShould read back block 3: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould read back block 3.", success, testID)

			var count uint64
			iter := d.ForEach()
			for bd, err := iter.Next(); !iter.Done(); bd, err = iter.Next() {
				if err != nil || bd.Height != count {
					t.Fatalf("\t%s\tTest %d:\tShould iterate in height order: %v", failed, testID, err)
				}
				count++
			}
			if count != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould iterate five blocks, got %d.", failed, testID, count)
			}
			t.Logf("\t%s\tTest %d:\tShould iterate five blocks.", success, testID)

			if err := d.Truncate(2); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to truncate: %v", failed, testID, err)
			}
			if _, err := d.GetBlock(2); !errors.Is(err, database.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould not find block 2 after truncate: %v", failed, testID, err)
			}
			if _, err := d.GetBlock(1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould still find block 1 after truncate: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould drop the blocks at and above the height.", success, testID)

			if err := d.Reset(); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to reset: %v", failed, testID, err)
			}
			if _, err := d.GetBlock(0); !errors.Is(err, database.ErrNotFound) {
				t.Fatalf("\t%s\tTest %d:\tShould be empty after reset: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be empty after reset.", success, testID)
		}
	}
}
