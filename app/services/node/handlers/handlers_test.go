package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ConcealNetwork/conceal-core-sub000/app/services/node/handlers"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain/chaintest"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// setup serves the public routes over a core holding a mined chain.
func setup(t *testing.T, blocks int) (*chaintest.Harness, *core.Core, http.Handler) {
	h := chaintest.New(t)

	c, err := core.New(core.Config{
		Currency: h.Currency,
		Crypto:   signature.Default,
		Storage:  h.Store,
		Now:      h.Now,
	})
	require.NoError(t, err)

	ls := c.LockStorage()
	h.Chain = ls.Chain()
	h.Pool = ls.Pool()
	ls.Unlock()

	handler := protocol.New(protocol.Config{Core: c})
	c.SetRelay(handler)

	for range blocks {
		bv, err := c.HandleIncomingBlock(h.Block(c.TailID()), true, true)
		require.NoError(t, err)
		require.True(t, bv.AddedToMainChain, bv.String())
	}

	mux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		Core:     c,
		Handler:  handler,
		Evts:     events.New(),
	})

	return h, c, mux
}

func do(t *testing.T, mux http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	return w
}

// =============================================================================

func Test_Status(t *testing.T) {
	_, c, mux := setup(t, 3)

	t.Log("Given the need to report the state of the node.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen asking for the status.", testID)
		{
			w := do(t, mux, http.MethodGet, "/v1/status", nil)
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 : %d", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 200.", success, testID)

			var got struct {
				Height uint32        `json:"height"`
				TailID database.Hash `json:"tail_id"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			require.Equal(t, c.Height(), got.Height)
			require.Equal(t, c.TailID(), got.TailID)
			t.Logf("\t%s\tTest %d:\tShould report the height and the tail.", success, testID)
		}
	}
}

func Test_SubmitTransaction(t *testing.T) {
	h, c, mux := setup(t, 12)

	t.Log("Given the need to accept transactions from wallets.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen submitting a valid transaction.", testID)
		{
			tx := h.SpendCoinbase(3, h.Currency.MinimumFee)

			w := do(t, mux, http.MethodPost, "/v1/tx/submit", map[string]string{"tx_as_hex": database.ToHex(tx.Encode())})
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 : %d : %s", failed, testID, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 200.", success, testID)

			var got struct {
				Status string        `json:"status"`
				Hash   database.Hash `json:"hash"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			require.Equal(t, "OK", got.Status)
			require.Equal(t, tx.Hash(), got.Hash)
			require.Equal(t, 1, c.Stats().PoolSize)
			t.Logf("\t%s\tTest %d:\tShould pool the transaction.", success, testID)

			w = do(t, mux, http.MethodGet, fmt.Sprintf("/v1/tx/%s", tx.Hash()), nil)
			require.Equal(t, http.StatusOK, w.Code)
			t.Logf("\t%s\tTest %d:\tShould find the transaction by its hash.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen spending the same output again.", testID)
		{
			tx := h.SpendCoinbase(3, 2*h.Currency.MinimumFee)

			w := do(t, mux, http.MethodPost, "/v1/tx/submit", map[string]string{"tx_as_hex": database.ToHex(tx.Encode())})
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			t.Logf("\t%s\tTest %d:\tShould refuse the double spend.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen the payload is invalid.", testID)
		{
			w := do(t, mux, http.MethodPost, "/v1/tx/submit", map[string]string{"tx_as_hex": ""})
			require.Equal(t, http.StatusBadRequest, w.Code)
			t.Logf("\t%s\tTest %d:\tShould fail validation.", success, testID)

			w = do(t, mux, http.MethodPost, "/v1/tx/submit", map[string]string{"tx_as_hex": "0xff01"})
			require.Equal(t, http.StatusBadRequest, w.Code)
			t.Logf("\t%s\tTest %d:\tShould fail to decode the blob.", success, testID)
		}
	}
}

func Test_BlockTemplate(t *testing.T) {
	h, c, mux := setup(t, 2)

	t.Log("Given the need to serve templates to external miners.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen asking for a template with reserved bytes.", testID)
		{
			req := map[string]any{
				"wallet_address": h.Address.String(),
				"reserve_size":   8,
			}

			w := do(t, mux, http.MethodPost, "/v1/block/template", req)
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 : %d : %s", failed, testID, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 200.", success, testID)

			var got struct {
				Blob   string `json:"blocktemplate_blob"`
				Height uint32 `json:"height"`
				Offset int    `json:"reserved_offset"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			require.Equal(t, c.Height(), got.Height)
			t.Logf("\t%s\tTest %d:\tShould build the template for the next height.", success, testID)

			blob, err := database.FromHex(got.Blob)
			require.NoError(t, err)

			blk, err := database.DecodeBlock(blob)
			require.NoError(t, err)
			require.Equal(t, c.TailID(), blk.PreviousBlockHash)
			t.Logf("\t%s\tTest %d:\tShould build on top of the tail.", success, testID)

			require.Greater(t, got.Offset, 0)
			require.Equal(t, make([]byte, 8), blob[got.Offset:got.Offset+8])
			t.Logf("\t%s\tTest %d:\tShould point at the reserved bytes.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the wallet address is invalid.", testID)
		{
			w := do(t, mux, http.MethodPost, "/v1/block/template", map[string]any{"wallet_address": "0x1234"})
			require.Equal(t, http.StatusBadRequest, w.Code)
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 400.", success, testID)
		}
	}
}

func Test_BlockQueries(t *testing.T) {
	h, c, mux := setup(t, 4)

	t.Log("Given the need to look up blocks.")
	{
		type table struct {
			name string
			path string
			code int
		}

		tt := []table{
			{name: "genesis", path: "/v1/block/height/0", code: http.StatusOK},
			{name: "tail", path: fmt.Sprintf("/v1/block/hash/%s", c.TailID()), code: http.StatusOK},
			{name: "missing", path: "/v1/block/height/999", code: http.StatusNotFound},
			{name: "badhash", path: "/v1/block/hash/zzz", code: http.StatusBadRequest},
			{name: "badheight", path: "/v1/block/height/abc", code: http.StatusBadRequest},
			{name: "orphans", path: "/v1/block/orphans/1", code: http.StatusOK},
			{name: "badrange", path: "/v1/block/timestamp/10/5", code: http.StatusBadRequest},
		}

		for testID, tst := range tt {
			tf := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen requesting %s.", testID, tst.path)
				{
					w := do(t, mux, http.MethodGet, tst.path, nil)
					if w.Code != tst.code {
						t.Fatalf("\t%s\tTest %d:\tShould receive a status code of %d : %d", failed, testID, tst.code, w.Code)
					}
					t.Logf("\t%s\tTest %d:\tShould receive a status code of %d.", success, testID, tst.code)
				}
			}

			t.Run(tst.name, tf)
		}

		testID := len(tt)
		t.Logf("\tTest %d:\tWhen requesting the genesis block.", testID)
		{
			w := do(t, mux, http.MethodGet, "/v1/block/height/0", nil)

			var got struct {
				Hash database.Hash `json:"hash"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			require.Equal(t, h.Currency.GenesisHash(), got.Hash)
			t.Logf("\t%s\tTest %d:\tShould return the genesis block.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen querying blocks from the genesis.", testID)
		{
			req := map[string]any{"block_ids": []database.Hash{h.Currency.GenesisHash()}}

			w := do(t, mux, http.MethodPost, "/v1/blocks/query", req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var got struct {
				Blocks []struct {
					Height uint32 `json:"height"`
				} `json:"blocks"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			require.NotEmpty(t, got.Blocks)
			t.Logf("\t%s\tTest %d:\tShould return the blocks following the locator.", success, testID)
		}
	}
}

func Test_TransactionProof(t *testing.T) {
	h, c, mux := setup(t, 12)

	tx := h.SpendCoinbase(3, h.Currency.MinimumFee)

	t.Log("Given the need to prove a transaction is part of the chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the transaction is confirmed.", testID)
		{
			require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/v1/tx/submit", map[string]string{"tx_as_hex": database.ToHex(tx.Encode())}).Code)

			b := h.Block(c.TailID(), tx)
			bv, err := c.HandleIncomingBlock(b, true, true)
			require.NoError(t, err)
			require.True(t, bv.AddedToMainChain, bv.String())

			w := do(t, mux, http.MethodGet, fmt.Sprintf("/v1/tx/%s/proof", tx.Hash()), nil)
			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a status code of 200 : %d : %s", failed, testID, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 200.", success, testID)

			var got struct {
				BlockHash database.Hash `json:"block_hash"`
				database.TxProof
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			require.Equal(t, b.Hash(), got.BlockHash)
			require.Equal(t, b.TreeRoot(), got.TreeRoot)
			require.True(t, got.Verify(tx.Hash()))
			t.Logf("\t%s\tTest %d:\tShould link the transaction to the block.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the transaction is unknown.", testID)
		{
			w := do(t, mux, http.MethodGet, fmt.Sprintf("/v1/tx/%s/proof", database.Hash{9}), nil)
			require.Equal(t, http.StatusNotFound, w.Code)
			t.Logf("\t%s\tTest %d:\tShould receive a status code of 404.", success, testID)
		}
	}
}
