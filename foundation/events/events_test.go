package events_test

import (
	"encoding/json"
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/events"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Events(t *testing.T) {
	t.Log("Given the need to stream node events to listeners.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a listener is registered.", testID)
		{
			evts := events.New()
			ch := evts.Acquire("l1")

			evts.BlockchainUpdated(core.ChainEvent{Height: 7, TailID: database.Hash{1}})

			var ev struct {
				Type string          `json:"type"`
				Data core.ChainEvent `json:"data"`
			}
			if err := json.Unmarshal([]byte(<-ch), &ev); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould receive a JSON document: %s", failed, testID, err)
			}
			require.Equal(t, events.TypeBlockchainUpdated, ev.Type)
			require.Equal(t, uint32(7), ev.Data.Height)
			require.Equal(t, database.Hash{1}, ev.Data.TailID)
			t.Logf("\t%s\tTest %d:\tShould receive the chain event.", success, testID)

			evts.PeerCountUpdated(3)
			require.JSONEq(t, `{"type":"peer_count_updated","data":3}`, <-ch)
			t.Logf("\t%s\tTest %d:\tShould receive the network event.", success, testID)

			require.NoError(t, evts.Release("l1"))
			require.Error(t, evts.Release("l1"))
			_, open := <-ch
			require.False(t, open)
			t.Logf("\t%s\tTest %d:\tShould close the channel on release.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a listener doesn't keep up.", testID)
		{
			evts := events.New()
			ch := evts.Acquire("slow")

			for range 1000 {
				evts.PoolUpdated()
			}
			require.Len(t, ch, cap(ch))
			t.Logf("\t%s\tTest %d:\tShould drop the events that don't fit.", success, testID)

			evts.Shutdown()
			for range ch {
			}
			t.Logf("\t%s\tTest %d:\tShould close every channel on shutdown.", success, testID)
		}
	}
}
