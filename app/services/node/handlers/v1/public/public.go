// Package public maintains the group of handlers for public access.
package public

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/business/sys/validate"
	"github.com/ConcealNetwork/conceal-core-sub000/business/web/errs"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/core"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/protocol"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/events"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Set of limits of the query endpoints.
const (
	defaultQueryCount = 100
	maxTimestampCount = 1000
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Core    *core.Core
	Handler *protocol.Handler
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Status returns the state of the chain, the pool and the network.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	stats := h.Core.Stats()

	st := status{
		Height:                   stats.Height,
		TailID:                   stats.TailID,
		Difficulty:               stats.Difficulty,
		CoinsInCirculation:       stats.CoinsInCirculation,
		CumulativeBlocksizeLimit: stats.CumulativeBlocksizeLimit,
		AlternativeBlocks:        stats.AlternativeBlocks,
		PoolSize:                 stats.PoolSize,
		PeerCount:                h.Handler.PeerCount(),
		ObservedHeight:           h.Handler.ObservedHeight(),
		Synchronized:             h.Handler.IsSynchronized(),
	}

	return web.Respond(ctx, w, st, http.StatusOK)
}

// SubmitTransaction adds a transaction in its encoded form to the pool and
// relays it to the peers.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	if err := h.checkReady(); err != nil {
		return err
	}

	var req submitTx
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	blob, err := database.FromHex(req.TxAsHex)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	hash, tv, err := h.Core.SubmitTransaction(blob)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("submit tx", "traceid", v.TraceID, "hash", hash, "added", tv.AddedToPool, "relayed", tv.ShouldBeRelayed)

	if tv.VerificationFailed || tv.VerificationImpossible {
		reason := errors.New("transaction verification failed")
		if tv.Reason != nil {
			reason = fmt.Errorf("%w: %w", reason, tv.Reason)
		}
		return errs.NewTrusted(reason, http.StatusBadRequest)
	}

	resp := submitTxResponse{
		Status:  "OK",
		Hash:    hash,
		Relayed: tv.ShouldBeRelayed,
	}
	if !tv.ShouldBeRelayed {
		resp.Status = "Not relayed"
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockTemplate builds a block for an external miner paying the reward to
// the wallet address. The reserved bytes in the coinbase extra are left for
// the miner to fill.
func (h Handlers) BlockTemplate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.checkReady(); err != nil {
		return err
	}

	var req blockTemplate
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	address, err := database.ToAddress(req.WalletAddress)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	var reserved []byte
	if req.ReserveSize > 0 {
		reserved = make([]byte, req.ReserveSize)
	}

	blk, difficulty, height, err := h.Core.GetBlockTemplate(address, reserved)
	if err != nil {
		if errors.Is(err, core.ErrInvalidAddress) {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return fmt.Errorf("building template: %w", err)
	}

	blob := blk.Encode()

	// The reserved bytes close the coinbase extra, which is encoded as one
	// contiguous string inside the block blob.
	var offset int
	if req.ReserveSize > 0 {
		extra := blk.BaseTransaction.Extra
		i := bytes.Index(blob, extra)
		if i < 0 {
			return errors.New("coinbase extra not found in the template blob")
		}
		offset = i + len(extra) - req.ReserveSize
	}

	resp := blockTemplateResponse{
		BlockTemplateBlob: database.ToHex(blob),
		Difficulty:        difficulty,
		Height:            height,
		ReservedOffset:    offset,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitBlock adds a block found by an external miner and relays it.
func (h Handlers) SubmitBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	if err := h.checkReady(); err != nil {
		return err
	}

	var req submitBlock
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	blob, err := database.FromHex(req.BlockBlob)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blk, err := database.DecodeBlock(blob)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	bv, err := h.Core.HandleBlockFound(blk)
	if err != nil {
		return fmt.Errorf("adding block: %w", err)
	}

	h.Log.Infow("submit block", "traceid", v.TraceID, "hash", blk.Hash(), "outcome", bv.String())

	if !bv.AddedToMainChain {
		reason := errors.New("block not accepted")
		if bv.Reason != nil {
			reason = fmt.Errorf("%w: %w", reason, bv.Reason)
		}
		return errs.NewTrusted(reason, http.StatusNotAcceptable)
	}

	resp := submitBlockResponse{
		Status: "OK",
		Hash:   blk.Hash(),
		Height: h.Core.Height(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// TransactionByHash returns a pooled or confirmed transaction.
func (h Handlers) TransactionByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := database.ToHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	tx, exists := h.Core.GetTransaction(hash)
	if !exists {
		return errs.NewTrustedf(http.StatusNotFound, "transaction %s not found", hash)
	}

	return web.Respond(ctx, w, tx, http.StatusOK)
}

// TransactionProof returns the proof a confirmed transaction is committed to
// by its main chain block.
func (h Handlers) TransactionProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := database.ToHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	tx, exists := h.Core.GetTransaction(hash)
	if !exists || tx.InPool {
		return errs.NewTrustedf(http.StatusNotFound, "transaction %s not confirmed", hash)
	}

	details, exists := h.Core.GetBlockByHeight(tx.BlockHeight)
	if !exists {
		return errs.NewTrustedf(http.StatusNotFound, "block at height %d not found", tx.BlockHeight)
	}

	proof, err := details.Block.TransactionProof(hash)
	if err != nil {
		return fmt.Errorf("proof: tx[%s]: %w", hash, err)
	}

	resp := struct {
		BlockHash   database.Hash `json:"block_hash"`
		BlockHeight uint32        `json:"block_height"`
		database.TxProof
	}{
		BlockHash:   details.Hash,
		BlockHeight: details.Height,
		TxProof:     proof,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlockByHash returns a block of any branch.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := database.ToHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	details, exists := h.Core.GetBlock(hash)
	if !exists {
		return errs.NewTrustedf(http.StatusNotFound, "block %s not found", hash)
	}

	return web.Respond(ctx, w, toBlock(details), http.StatusOK)
}

// BlockByHeight returns the main chain block at the height.
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseUint(web.Param(r, "height"), 10, 32)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	details, exists := h.Core.GetBlockByHeight(uint32(height))
	if !exists {
		return errs.NewTrustedf(http.StatusNotFound, "no block at height %d", height)
	}

	return web.Respond(ctx, w, toBlock(details), http.StatusOK)
}

// OrphanBlocks returns the alternative blocks at the height.
func (h Handlers) OrphanBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	height, err := strconv.ParseUint(web.Param(r, "height"), 10, 32)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	ids := h.Core.OrphanBlocksByHeight(uint32(height))

	return web.Respond(ctx, w, hashes{Hashes: ids, Count: len(ids)}, http.StatusOK)
}

// BlocksByTimestamp returns the main chain blocks with a timestamp in the
// [from, to) range.
func (h Handlers) BlocksByTimestamp(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	to, err := strconv.ParseUint(web.Param(r, "to"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrustedf(http.StatusBadRequest, "invalid range %d-%d", from, to)
	}

	limit := defaultQueryCount
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 || limit > maxTimestampCount {
			return errs.NewTrustedf(http.StatusBadRequest, "limit must be between 1 and %d", maxTimestampCount)
		}
	}

	ids, count := h.Core.BlocksByTimestamp(from, to, limit)

	return web.Respond(ctx, w, hashes{Hashes: ids, Count: count}, http.StatusOK)
}

// TransactionsByPaymentID returns the confirmed and pooled transactions
// carrying the payment id.
func (h Handlers) TransactionsByPaymentID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := database.ToHash(web.Param(r, "id"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	ids := h.Core.TransactionsByPaymentID(id)

	return web.Respond(ctx, w, hashes{Hashes: ids, Count: len(ids)}, http.StatusOK)
}

// QueryBlocks returns the main chain blocks following the most recent
// locator block known to the node.
func (h Handlers) QueryBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req queryBlocks
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	maxCount := req.MaxCount
	if maxCount == 0 {
		maxCount = defaultQueryCount
	}

	details, start, total, err := h.Core.QueryBlocks(req.BlockIDs, maxCount)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := queryBlocksResponse{
		StartHeight: start,
		TotalHeight: total,
		Blocks:      make([]block, len(details)),
	}
	for i, d := range details {
		resp.Blocks[i] = toBlock(d)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// Pool returns the pooled transactions.
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Core.PoolDetails(), http.StatusOK)
}

// PoolDifference compares the pool with the hashes the caller holds.
func (h Handlers) PoolDifference(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req poolDifference
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	added, deleted := h.Core.PoolDifference(req.KnownTxsIDs)

	resp := poolDifferenceResponse{
		AddedTxsIDs:   added,
		DeletedTxsIDs: deleted,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// PoolChanges returns the pooled transactions the caller is missing along
// with the known hashes no longer pooled.
func (h Handlers) PoolChanges(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req poolChanges
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	actual, added, deleted := h.Core.PoolChanges(req.TailBlockID, req.KnownTxsIDs)

	resp := poolChangesResponse{
		IsTailBlockActual: actual,
		AddedTxs:          make([]string, len(added)),
		DeletedTxsIDs:     deleted,
	}
	for i, tx := range added {
		resp.AddedTxs[i] = database.ToHex(tx.Encode())
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// checkReady refuses changes while the node is catching up with its peers.
// A node without peers serves them right away.
func (h Handlers) checkReady() error {
	if h.Handler.PeerCount() > 0 && !h.Handler.IsSynchronized() {
		return errs.NewTrustedf(http.StatusServiceUnavailable, "core is busy")
	}
	return nil
}
