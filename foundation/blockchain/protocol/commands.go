package protocol

import (
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// Dispatch decodes the payload of a frame and hands it to the handler of
// the command. A connection must start with the handshake and a payload
// that can't be decoded ends the connection.
func (h *Handler) Dispatch(ctx *Context, cmd Command, payload []byte) {
	state := ctx.State()
	switch {
	case state == StateShutdown:
		return

	case state == StateBeforeHandshake && cmd != CmdHandshake:
		h.drop(ctx, "%s received before the handshake", cmd)
		return

	case state != StateBeforeHandshake && cmd == CmdHandshake:
		h.drop(ctx, "handshake received twice")
		return
	}

	switch cmd {
	case CmdHandshake:
		dispatch(h, ctx, cmd, payload, h.Handshake)
	case CmdTimedSync:
		dispatch(h, ctx, cmd, payload, h.TimedSync)
	case CmdNewBlock:
		dispatch(h, ctx, cmd, payload, h.HandleNewBlock)
	case CmdNewTransactions:
		dispatch(h, ctx, cmd, payload, h.HandleNewTransactions)
	case CmdRequestGetObjects:
		dispatch(h, ctx, cmd, payload, h.HandleRequestGetObjects)
	case CmdResponseGetObjects:
		dispatch(h, ctx, cmd, payload, h.HandleResponseGetObjects)
	case CmdRequestChain:
		dispatch(h, ctx, cmd, payload, h.HandleRequestChain)
	case CmdResponseChainEntry:
		dispatch(h, ctx, cmd, payload, h.HandleResponseChainEntry)
	case CmdRequestTxPool:
		dispatch(h, ctx, cmd, payload, h.HandleRequestTxPool)
	case CmdNewLiteBlock:
		dispatch(h, ctx, cmd, payload, h.HandleNewLiteBlock)
	case CmdMissingTxs:
		dispatch(h, ctx, cmd, payload, h.HandleMissingTxs)
	default:
		h.evHandler("protocol: Dispatch: conn[%s]: WARNING: unknown command %s", ctx, cmd)
	}
}

func dispatch[T any](h *Handler, ctx *Context, cmd Command, payload []byte, fn func(*Context, T)) {
	var msg T
	if err := Decode(payload, &msg); err != nil {
		h.drop(ctx, "%s: %s", cmd, err)
		return
	}
	fn(ctx, msg)
}

// =============================================================================

// Handshake processes the handshake of the peer and starts the catch up
// or the pool sync it calls for.
func (h *Handler) Handshake(ctx *Context, hs Handshake) {
	h.evHandler("protocol: Handshake: conn[%s]: version[%d]: height[%d]: top[%s]", ctx, hs.Version, hs.Sync.CurrentHeight, hs.Sync.TopID)

	ctx.setVersion(hs.Version)
	h.processSyncData(ctx, hs.Sync, true)
	h.callback(ctx)
}

// TimedSync processes the periodic chain position of the peer. An idle
// connection whose peer moved past the local chain starts syncing again.
func (h *Handler) TimedSync(ctx *Context, data SyncData) {
	h.processSyncData(ctx, data, false)
	h.callback(ctx)
}

// Disconnected forgets a connection that was closed.
func (h *Handler) Disconnected(ctx *Context) {
	if ctx.State() != StateBeforeHandshake {
		count := int(h.peers.Add(-1))
		h.notify(func(o Observer) { o.PeerCountUpdated(count) })

		// Forget the height the peer claimed.
		h.updateObservedHeight(0, ctx)
	}

	ctx.setState(StateShutdown)
	ctx.resetSync()
}

func (h *Handler) processSyncData(ctx *Context, data SyncData, initial bool) {
	state := ctx.State()
	if state == StateShutdown || (state == StateBeforeHandshake && !initial) {
		return
	}

	switch {
	case state == StateSynchronizing:

	case h.core.HaveBlock(data.TopID):
		if initial {
			h.onSynchronized()
			ctx.setState(StatePoolSyncRequired)
			break
		}
		ctx.setState(StateNormal)

	default:
		h.evHandler("protocol: conn[%s]: unknown top block: height[%d] -> [%d]: synchronization started", ctx, h.core.Height(), data.CurrentHeight)
		ctx.setState(StateSyncRequired)
	}

	h.updateObservedHeight(data.CurrentHeight, ctx)
	ctx.setRemoteHeight(data.CurrentHeight)

	if initial {
		count := int(h.peers.Add(1))
		h.notify(func(o Observer) { o.PeerCountUpdated(count) })
	}
}

// callback runs the work a state change asked for.
func (h *Handler) callback(ctx *Context) {
	switch ctx.State() {
	case StateSyncRequired:
		ctx.setState(StateSynchronizing)
		h.requestMissingObjects(ctx, false)

	case StatePoolSyncRequired:
		ctx.setState(StateNormal)
		h.requestMissingPoolTransactions(ctx)
	}
}

// =============================================================================

// HandleNewBlock admits a block relayed by the peer along with its
// transactions and relays it further when it extended the main chain.
func (h *Handler) HandleNewBlock(ctx *Context, msg NewBlock) {
	h.evHandler("protocol: HandleNewBlock: conn[%s]: hop[%d]: height[%d]", ctx, msg.Hop, msg.CurrentHeight)

	h.updateObservedHeight(msg.CurrentHeight, ctx)
	ctx.setRemoteHeight(msg.CurrentHeight)

	if ctx.State() != StateNormal {
		return
	}

	block, txs, err := msg.Block.Decode()
	if err != nil {
		h.drop(ctx, "NEW_BLOCK: %s", err)
		return
	}

	for i, tx := range txs {
		tv := h.core.HandleIncomingTransaction(tx, tx.Hash(), uint64(len(msg.Block.Transactions[i])), true, h.core.Height())
		if tv.VerificationFailed {
			h.drop(ctx, "NEW_BLOCK: transaction verification failed: %s", tv.Reason)
			return
		}
	}

	bv, err := h.core.HandleIncomingBlock(block, true, false)
	if err != nil {
		h.evHandler("protocol: HandleNewBlock: conn[%s]: ERROR: %s", ctx, err)
		return
	}

	switch {
	case bv.VerificationFailed:
		h.drop(ctx, "NEW_BLOCK: block verification failed: %s", bv.Reason)

	case bv.AddedToMainChain:
		msg.Hop++
		msg.CurrentHeight = h.core.Height()
		h.relayBlock(msg, ctx)

	case bv.MarkedAsOrphaned:
		ctx.setState(StateSynchronizing)
		h.requestChain(ctx)
	}
}

// HandleNewTransactions admits the transactions relayed by the peer and
// relays the accepted ones further. A connection waiting on a lite block
// takes them as the transactions it asked for.
func (h *Handler) HandleNewTransactions(ctx *Context, msg NewTransactions) {
	if ctx.State() != StateNormal {
		return
	}

	if pending := ctx.pendingLiteBlock; pending != nil {
		h.evHandler("protocol: HandleNewTransactions: conn[%s]: completing pending lite block", ctx)
		h.pushLiteBlock(ctx, pending.msg, msg.Txs)
		return
	}

	var relay [][]byte
	for _, blob := range msg.Txs {
		tx, err := database.DecodeTransaction(blob)
		if err != nil {
			h.evHandler("protocol: HandleNewTransactions: conn[%s]: WARNING: %s", ctx, err)
			continue
		}

		hash := tx.Hash()
		tv := h.core.HandleIncomingTransaction(tx, hash, uint64(len(blob)), false, h.core.Height())
		if tv.VerificationFailed {
			h.evHandler("protocol: HandleNewTransactions: conn[%s]: tx[%s]: WARNING: %s", ctx, hash, tv.Reason)
			continue
		}

		if tv.ShouldBeRelayed {
			relay = append(relay, blob)
		}
	}

	if len(relay) > 0 {
		h.relay(CmdNewTransactions, NewTransactions{Txs: relay}, ctx.ID, relayable)
	}
}

// HandleRequestGetObjects answers with the requested main chain blocks and
// transactions.
func (h *Handler) HandleRequestGetObjects(ctx *Context, msg RequestGetObjects) {
	if len(msg.Blocks) > GetObjectsMaxCount || len(msg.Txs) > GetObjectsMaxCount {
		h.drop(ctx, "REQUEST_GET_OBJECTS: too many objects: blocks[%d]: txs[%d]", len(msg.Blocks), len(msg.Txs))
		return
	}

	rsp := ResponseGetObjects{
		CurrentHeight: h.core.Height(),
	}

	blocks, missed := h.core.GetBlocks(msg.Blocks)
	for _, b := range blocks {
		rsp.Blocks = append(rsp.Blocks, database.NewRawBlock(b.Block, b.Transactions))
	}
	rsp.MissedIDs = missed

	txs, missedTxs := h.core.GetTransactions(msg.Txs)
	for _, tx := range txs {
		rsp.Txs = append(rsp.Txs, tx.Encode())
	}
	rsp.MissedIDs = append(rsp.MissedIDs, missedTxs...)

	h.evHandler("protocol: HandleRequestGetObjects: conn[%s]: blocks[%d]: txs[%d]: missed[%d]", ctx, len(rsp.Blocks), len(rsp.Txs), len(rsp.MissedIDs))

	h.send(ctx.ID, CmdResponseGetObjects, rsp)
}

// parsedBlock is a block of a sync batch whose shape was checked.
type parsedBlock struct {
	hash  database.Hash
	block database.Block
	txs   [][]byte
}

// HandleResponseGetObjects admits the blocks the connection requested and
// asks for the next batch.
func (h *Handler) HandleResponseGetObjects(ctx *Context, msg ResponseGetObjects) {
	ctx.setAwaiting(time.Time{})

	if ctx.lastResponseHeight > msg.CurrentHeight {
		h.drop(ctx, "RESPONSE_GET_OBJECTS: height[%d] below the last response height[%d]", msg.CurrentHeight, ctx.lastResponseHeight)
		return
	}

	h.updateObservedHeight(msg.CurrentHeight, ctx)
	ctx.setRemoteHeight(msg.CurrentHeight)

	parsed := make([]parsedBlock, 0, len(msg.Blocks))
	for i, raw := range msg.Blocks {
		if len(raw.Block) > MaxBlockBlobSize {
			h.drop(ctx, "RESPONSE_GET_OBJECTS: block of %d bytes", len(raw.Block))
			return
		}

		block, err := database.DecodeBlock(raw.Block)
		if err != nil {
			h.drop(ctx, "RESPONSE_GET_OBJECTS: %s", err)
			return
		}
		hash := block.Hash()

		// Another connection already delivered these blocks.
		if i == 1 && h.core.HaveBlock(hash) {
			h.idle(ctx)
			return
		}

		if _, exists := ctx.requestedObjects[hash]; !exists {
			h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s] wasn't requested", hash)
			return
		}

		if len(block.TransactionHashes) != len(raw.Transactions) {
			h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s] references %d transactions, %d sent", hash, len(block.TransactionHashes), len(raw.Transactions))
			return
		}

		delete(ctx.requestedObjects, hash)
		parsed = append(parsed, parsedBlock{hash: hash, block: block, txs: raw.Transactions})
	}

	if len(ctx.requestedObjects) > 0 {
		h.drop(ctx, "RESPONSE_GET_OBJECTS: %d requested blocks not returned", len(ctx.requestedObjects))
		return
	}

	if !h.processBlocks(ctx, parsed) {
		return
	}

	h.evHandler("protocol: HandleResponseGetObjects: conn[%s]: local chain updated: height[%d]", ctx, h.core.Height())

	if !h.stopped.Load() && ctx.State() == StateSynchronizing {
		h.requestMissingObjects(ctx, true)
	}
}

// processBlocks admits a batch of blocks. It reports false when the
// connection was dropped or parked.
func (h *Handler) processBlocks(ctx *Context, blocks []parsedBlock) bool {
	resume := h.core.PauseMiner()
	defer resume()

	h.syncMu.Lock()
	defer h.syncMu.Unlock()

	// Skip what another connection added while this one waited.
	tail := h.core.TailID()
	for i, p := range blocks {
		if p.hash == tail {
			h.evHandler("protocol: processBlocks: conn[%s]: found the tail in the batch, skipping %d/%d blocks", ctx, i+1, len(blocks))
			blocks = blocks[i+1:]
			break
		}
	}

	for _, p := range blocks {
		if h.stopped.Load() {
			break
		}

		for i, blob := range p.txs {
			tx, err := database.DecodeTransaction(blob)
			if err != nil {
				h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s]: %s", p.hash, err)
				return false
			}

			hash := tx.Hash()
			if hash != p.block.TransactionHashes[i] {
				h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s]: transaction mismatch tx[%s]", p.hash, hash)
				return false
			}

			tv := h.core.HandleIncomingTransaction(tx, hash, uint64(len(blob)), true, h.core.Height())
			if tv.VerificationFailed {
				h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s]: tx[%s]: %s", p.hash, hash, tv.Reason)
				return false
			}
		}

		bv, err := h.core.HandleIncomingBlock(p.block, false, false)
		switch {
		case err != nil:
			h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s]: %s", p.hash, err)
			return false

		case bv.VerificationFailed:
			h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s]: verification failed: %s", p.hash, bv.Reason)
			return false

		case bv.MarkedAsOrphaned:
			h.drop(ctx, "RESPONSE_GET_OBJECTS: block[%s]: orphaned during sync", p.hash)
			return false

		case bv.AlreadyExists:
			h.idle(ctx)
			return false
		}
	}

	return true
}

// HandleRequestChain answers with the main chain hashes the peer lacks.
func (h *Handler) HandleRequestChain(ctx *Context, msg RequestChain) {
	if len(msg.BlockIDs) == 0 {
		h.drop(ctx, "REQUEST_CHAIN: empty locator")
		return
	}

	if msg.BlockIDs[len(msg.BlockIDs)-1] != h.core.Currency().GenesisHash() {
		h.drop(ctx, "REQUEST_CHAIN: locator doesn't end with the genesis block")
		return
	}

	ids, start, total, err := h.core.ChainEntry(msg.BlockIDs, BlockIDsSynchronizingDefaultCount)
	if err != nil {
		h.drop(ctx, "REQUEST_CHAIN: %s", err)
		return
	}

	h.evHandler("protocol: HandleRequestChain: conn[%s]: start[%d]: total[%d]: ids[%d]", ctx, start, total, len(ids))

	h.send(ctx.ID, CmdResponseChainEntry, ResponseChainEntry{
		StartHeight: start,
		TotalHeight: total,
		BlockIDs:    ids,
	})
}

// HandleResponseChainEntry records the blocks the peer has that are missing
// locally and starts fetching them.
func (h *Handler) HandleResponseChainEntry(ctx *Context, msg ResponseChainEntry) {
	ctx.setAwaiting(time.Time{})

	if len(msg.BlockIDs) == 0 {
		h.drop(ctx, "RESPONSE_CHAIN_ENTRY: empty list")
		return
	}

	if !h.core.HaveBlock(msg.BlockIDs[0]) {
		h.drop(ctx, "RESPONSE_CHAIN_ENTRY: list starts from unknown block[%s]", msg.BlockIDs[0])
		return
	}

	ctx.setRemoteHeight(msg.TotalHeight)
	ctx.lastResponseHeight = msg.StartHeight + uint32(len(msg.BlockIDs)) - 1

	if ctx.lastResponseHeight >= msg.TotalHeight {
		h.drop(ctx, "RESPONSE_CHAIN_ENTRY: start[%d] + ids[%d] beyond total[%d]", msg.StartHeight, len(msg.BlockIDs), msg.TotalHeight)
		return
	}

	for _, id := range msg.BlockIDs {
		if !h.core.HaveBlock(id) {
			ctx.neededObjects = append(ctx.neededObjects, id)
		}
	}

	h.requestMissingObjects(ctx, false)
}

// HandleRequestTxPool sends the pool transactions the peer lacks.
func (h *Handler) HandleRequestTxPool(ctx *Context, msg RequestTxPool) {
	_, added, _ := h.core.PoolChanges(h.core.TailID(), msg.Txs)
	if len(added) == 0 {
		return
	}

	txs := make([][]byte, len(added))
	for i, tx := range added {
		txs[i] = tx.Encode()
	}

	h.send(ctx.ID, CmdNewTransactions, NewTransactions{Txs: txs})
}

// HandleNewLiteBlock admits a block relayed without its transactions.
func (h *Handler) HandleNewLiteBlock(ctx *Context, msg NewLiteBlock) {
	h.evHandler("protocol: HandleNewLiteBlock: conn[%s]: hop[%d]: height[%d]", ctx, msg.Hop, msg.CurrentHeight)

	h.updateObservedHeight(msg.CurrentHeight, ctx)
	ctx.setRemoteHeight(msg.CurrentHeight)

	if ctx.State() != StateNormal {
		return
	}

	h.pushLiteBlock(ctx, msg, nil)
}

// HandleMissingTxs sends the transactions a peer lacks to complete a lite
// block relayed to it.
func (h *Handler) HandleMissingTxs(ctx *Context, msg MissingTxs) {
	txs, missed := h.core.GetTransactions(msg.MissingTxs)
	if len(missed) > 0 {
		h.drop(ctx, "MISSING_TXS: %d transactions unknown", len(missed))
		return
	}

	blobs := make([][]byte, len(txs))
	for i, tx := range txs {
		blobs[i] = tx.Encode()
	}

	h.evHandler("protocol: HandleMissingTxs: conn[%s]: blk[%s]: txs[%d]", ctx, msg.BlockHash, len(blobs))

	h.send(ctx.ID, CmdNewTransactions, NewTransactions{Txs: blobs})
}

// =============================================================================

// liteTx is a transaction gathered to complete a lite block.
type liteTx struct {
	tx   database.Transaction
	size uint64
}

// pushLiteBlock completes the lite block with the provided transactions,
// the pool and the chain. When some are still missing they are requested
// from the peer once; a peer that fails to provide them is dropped.
func (h *Handler) pushLiteBlock(ctx *Context, msg NewLiteBlock, provided [][]byte) {
	block, err := database.DecodeBlock(msg.Block)
	if err != nil {
		h.drop(ctx, "NEW_LITE_BLOCK: %s", err)
		return
	}

	providedTxs := make(map[database.Hash]liteTx, len(provided))
	for _, blob := range provided {
		tx, err := database.DecodeTransaction(blob)
		if err != nil {
			h.drop(ctx, "NEW_TRANSACTIONS: %s", err)
			return
		}
		providedTxs[tx.Hash()] = liteTx{tx: tx, size: uint64(len(blob))}
	}

	if pending := ctx.pendingLiteBlock; pending != nil {
		for hash := range pending.missed {
			if _, exists := providedTxs[hash]; !exists {
				ctx.pendingLiteBlock = nil
				h.drop(ctx, "NEW_TRANSACTIONS: tx[%s] requested for a lite block not provided", hash)
				return
			}
		}
	}

	var have []liteTx
	var need []database.Hash
	for _, hash := range block.TransactionHashes {
		if p, exists := providedTxs[hash]; exists {
			have = append(have, p)
			continue
		}

		if details, exists := h.core.GetTransaction(hash); exists {
			have = append(have, liteTx{tx: details.Transaction, size: details.Transaction.BlobSize()})
			continue
		}

		need = append(need, hash)
	}

	if len(need) > 0 {
		if ctx.pendingLiteBlock != nil {
			ctx.pendingLiteBlock = nil
			h.drop(ctx, "NEW_LITE_BLOCK: peer didn't provide every missing transaction")
			return
		}

		missed := make(map[database.Hash]struct{}, len(need))
		for _, hash := range need {
			missed[hash] = struct{}{}
		}
		ctx.pendingLiteBlock = &pendingLiteBlock{msg: msg, missed: missed}

		req := MissingTxs{
			CurrentHeight: msg.CurrentHeight,
			BlockHash:     block.Hash(),
			MissingTxs:    need,
		}

		h.evHandler("protocol: pushLiteBlock: conn[%s]: blk[%s]: requesting %d missing transactions", ctx, req.BlockHash, len(need))

		if !h.send(ctx.ID, CmdMissingTxs, req) {
			h.drop(ctx, "NEW_LITE_BLOCK: unable to request the missing transactions")
		}
		return
	}

	ctx.pendingLiteBlock = nil

	txs := make([]database.Transaction, len(have))
	for i, lt := range have {
		txs[i] = lt.tx

		tv := h.core.HandleIncomingTransaction(lt.tx, lt.tx.Hash(), lt.size, true, h.core.Height())
		if tv.VerificationFailed {
			h.drop(ctx, "NEW_LITE_BLOCK: transaction verification failed: %s", tv.Reason)
			return
		}
	}

	bv, err := h.core.HandleIncomingBlock(block, true, false)
	if err != nil {
		h.evHandler("protocol: pushLiteBlock: conn[%s]: ERROR: %s", ctx, err)
		return
	}

	switch {
	case bv.VerificationFailed:
		h.drop(ctx, "NEW_LITE_BLOCK: block verification failed: %s", bv.Reason)

	case bv.AddedToMainChain:
		h.relayBlock(NewBlock{
			Block:         database.NewRawBlock(block, txs),
			CurrentHeight: h.core.Height(),
			Hop:           msg.Hop + 1,
		}, ctx)

	case bv.MarkedAsOrphaned:
		ctx.setState(StateSynchronizing)
		h.requestChain(ctx)
	}
}

// =============================================================================

// requestChain asks the peer for the hashes following the local chain.
func (h *Handler) requestChain(ctx *Context) {
	locator := h.core.BuildSparseChain()

	h.evHandler("protocol: requestChain: conn[%s]: locator[%d]", ctx, len(locator))

	h.request(ctx, CmdRequestChain, RequestChain{BlockIDs: locator})
}

// requestMissingObjects drives the catch up of a synchronizing connection:
// it requests the next batch of needed blocks, or the next chain entry, or
// completes the sync once the peer's height is reached.
func (h *Handler) requestMissingObjects(ctx *Context, checkHaving bool) {
	remote := ctx.RemoteHeight()

	switch {
	case len(ctx.neededObjects) > 0:
		var req RequestGetObjects

		var i int
		for ; i < len(ctx.neededObjects) && len(req.Blocks) < BlocksSynchronizingDefaultCount; i++ {
			hash := ctx.neededObjects[i]
			if checkHaving && h.core.HaveBlock(hash) {
				continue
			}
			req.Blocks = append(req.Blocks, hash)
			ctx.requestedObjects[hash] = struct{}{}
		}
		ctx.neededObjects = ctx.neededObjects[i:]

		// Everything left of the batch arrived through other connections.
		if len(req.Blocks) == 0 {
			h.requestMissingObjects(ctx, checkHaving)
			return
		}

		h.evHandler("protocol: requestMissingObjects: conn[%s]: blocks[%d]", ctx, len(req.Blocks))
		h.request(ctx, CmdRequestGetObjects, req)

	case ctx.lastResponseHeight+1 < remote:
		h.requestChain(ctx)

	default:
		if ctx.lastResponseHeight+1 != remote || len(ctx.requestedObjects) > 0 {
			h.evHandler("protocol: requestMissingObjects: conn[%s]: ERROR: final condition failed: last response[%d]: remote[%d]: requested[%d]",
				ctx, ctx.lastResponseHeight, remote, len(ctx.requestedObjects))
			return
		}

		ctx.setAwaiting(time.Time{})
		h.requestMissingPoolTransactions(ctx)
		ctx.setState(StateNormal)

		h.evHandler("protocol: conn[%s]: synchronization complete: height[%d]", ctx, h.core.Height())
		h.onSynchronized()
	}
}

// requestMissingPoolTransactions sends the local pool to the peer so it
// answers with what is missing.
func (h *Handler) requestMissingPoolTransactions(ctx *Context) {
	if ctx.Info().Version < Version1 {
		return
	}

	h.send(ctx.ID, CmdRequestTxPool, h.poolRequest())
}

func (h *Handler) poolRequest() RequestTxPool {
	txs := h.core.PoolTransactions()

	req := RequestTxPool{
		Txs: make([]database.Hash, len(txs)),
	}
	for i, tx := range txs {
		req.Txs[i] = tx.Hash()
	}

	return req
}
