package storage_test

import (
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database/storage"
	"github.com/stretchr/testify/require"
)

const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Open(t *testing.T) {
	type table struct {
		name string
		kind string
		fail bool
	}

	tt := []table{
		{name: "disk", kind: storage.KindDisk},
		{name: "bolt", kind: storage.KindBolt},
		{name: "memory", kind: storage.KindMemory},
		{name: "unknown", kind: "leveldb", fail: true},
	}

	t.Log("Given the need to open the storage backend by name.")
	{
		for testID, tst := range tt {
			tf := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen opening a %q backend.", testID, tst.kind)
				{
					s, err := storage.Open(tst.kind, t.TempDir())
					if tst.fail {
						require.Error(t, err, "Should fail for an unknown backend.")
						t.Logf("\t%s\tTest %d:\tShould fail for an unknown backend.", success, testID)
						return
					}
					require.NoError(t, err, "Should be able to open the backend.")
					t.Logf("\t%s\tTest %d:\tShould be able to open the backend.", success, testID)

					_, err = s.ForEach().Next()
					require.ErrorIs(t, err, database.ErrEndOfChain, "Should start out empty.")
					t.Logf("\t%s\tTest %d:\tShould start out empty.", success, testID)

					require.NoError(t, s.Close(), "Should be able to close the backend.")
					t.Logf("\t%s\tTest %d:\tShould be able to close the backend.", success, testID)
				}
			}

			t.Run(tst.name, tf)
		}
	}
}
