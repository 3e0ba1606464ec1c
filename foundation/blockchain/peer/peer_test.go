package peer_test

import (
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_CRUD(t *testing.T) {
	type table struct {
		name  string
		peers []peer.Peer
	}

	tt := []table{
		{
			name:  "basic",
			peers: []peer.Peer{{Host: "host1"}, {Host: "host2"}, {Host: "host3"}},
		},
		{
			name:  "duplicates",
			peers: []peer.Peer{{Host: "host1"}, {Host: "host2"}, {Host: "host2"}},
		},
	}

	t.Log("Given the need to manage the set of known peers.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling a set of %s peers.", testID, tst.name)
				{
					ps := peer.NewPeerSet()

					unique := make(map[peer.Peer]struct{})
					for _, p := range tst.peers {
						_, seen := unique[p]
						unique[p] = struct{}{}

						if added := ps.Add(p); added == seen {
							t.Fatalf("\t%s\tTest %d:\tShould add %s only once.", failed, testID, p)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould add every peer only once.", success, testID)

					peers := ps.Copy("")
					if len(peers) != len(unique) {
						t.Logf("\t\tTest %d:\tgot: %d", testID, len(peers))
						t.Logf("\t\tTest %d:\texp: %d", testID, len(unique))
						t.Fatalf("\t%s\tTest %d:\tShould get back the right peers.", failed, testID)
					}
					for i := 1; i < len(peers); i++ {
						if peers[i-1].Host >= peers[i].Host {
							t.Fatalf("\t%s\tTest %d:\tShould get back the peers sorted by host.", failed, testID)
						}
					}
					t.Logf("\t%s\tTest %d:\tShould get back the right peers.", success, testID)

					peers = ps.Copy("host2")
					if len(peers) != len(unique)-1 {
						t.Logf("\t\tTest %d:\tgot: %d", testID, len(peers))
						t.Logf("\t\tTest %d:\texp: %d", testID, len(unique)-1)
						t.Fatalf("\t%s\tTest %d:\tShould leave the host out.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould leave the host out.", success, testID)

					ps.Remove(peer.New("host1"))
					if ps.Len() != len(unique)-1 {
						t.Fatalf("\t%s\tTest %d:\tShould remove the peer.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould remove the peer.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Failures(t *testing.T) {
	t.Log("Given the need to track failed connection attempts.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a peer fails and then succeeds.", testID)
		{
			p := peer.New("host1")
			ps := peer.NewPeerSet(p, peer.New(""))

			if ps.Len() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould ignore empty hosts: got %d", failed, testID, ps.Len())
			}
			t.Logf("\t%s\tTest %d:\tShould ignore empty hosts.", success, testID)

			ps.Fail(p)
			if n := ps.Fail(p); n != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould count failures in a row: got %d", failed, testID, n)
			}
			t.Logf("\t%s\tTest %d:\tShould count failures in a row.", success, testID)

			ps.Succeed(p)
			if n := ps.Fail(p); n != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould reset the count on success: got %d", failed, testID, n)
			}
			t.Logf("\t%s\tTest %d:\tShould reset the count on success.", success, testID)

			if n := ps.Fail(peer.New("unknown")); n != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not track unknown peers: got %d", failed, testID, n)
			}
			t.Logf("\t%s\tTest %d:\tShould not track unknown peers.", success, testID)
		}
	}
}
