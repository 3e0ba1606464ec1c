package selector_test

import (
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/mempool/selector"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestSelect(t *testing.T) {
	cand := func(id byte, fee uint64, seq uint64) selector.Candidate {
		return selector.Candidate{Hash: database.Hash{id}, Fee: fee, Sequence: seq}
	}

	type test struct {
		name     string
		strategy string
		cands    []selector.Candidate
		order    []byte
	}

	tt := []test{
		{
			name:     "fee",
			strategy: selector.StrategyFee,
			cands:    []selector.Candidate{cand(1, 10, 3), cand(2, 50, 4), cand(3, 10, 1), cand(4, 30, 2)},
			order:    []byte{2, 4, 3, 1},
		},
		{
			name:     "fifo",
			strategy: selector.StrategyFIFO,
			cands:    []selector.Candidate{cand(1, 10, 3), cand(2, 50, 4), cand(3, 10, 1), cand(4, 30, 2)},
			order:    []byte{3, 4, 1, 2},
		},
	}

	t.Log("Given the need to order pool transactions for a block.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen using the %s strategy.", testID, tst.strategy)
				{
					fn, err := selector.Retrieve(tst.strategy)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to retrieve the strategy: %v", failed, testID, err)
					}

					got := fn(tst.cands)
					for i, id := range tst.order {
						if got[i].Hash != (database.Hash{id}) {
							t.Fatalf("\t%s\tTest %d:\tShould get candidate %d at position %d, got %v.", failed, testID, id, i, got[i].Hash[0])
						}
					}
					t.Logf("\t%s\tTest %d:\tShould get the candidates in the expected order.", success, testID)

					if tst.cands[0].Hash != (database.Hash{1}) {
						t.Fatalf("\t%s\tTest %d:\tShould not reorder the input.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould not reorder the input.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}

	t.Log("Given the need to reject unknown strategies.")
	{
		if _, err := selector.Retrieve("tip"); err == nil {
			t.Fatalf("\t%s\tShould fail to retrieve an unknown strategy.", failed)
		}
		t.Logf("\t%s\tShould fail to retrieve an unknown strategy.", success)
	}
}
