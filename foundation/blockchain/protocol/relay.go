package protocol

import (
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/google/uuid"
)

// RelayBlock implements the core.Relay interface for blocks found by the
// local miner or submitted over the RPC.
func (h *Handler) RelayBlock(block database.Block, txs []database.Transaction) {
	h.relayBlock(NewBlock{
		Block:         database.NewRawBlock(block, txs),
		CurrentHeight: h.core.Height(),
	}, nil)
}

// RelayTransactions implements the core.Relay interface for transactions
// submitted locally.
func (h *Handler) RelayTransactions(txs []database.Transaction) {
	blobs := make([][]byte, len(txs))
	for i, tx := range txs {
		blobs[i] = tx.Encode()
	}

	h.relay(CmdNewTransactions, NewTransactions{Txs: blobs}, uuid.Nil, relayable)
}

// RequestPoolSync implements the core.Relay interface. After the main
// chain switched branches every peer in normal state is asked for the
// pool transactions the node lacks.
func (h *Handler) RequestPoolSync() {
	req := h.poolRequest()

	for _, info := range h.Connections() {
		if info.State != StateNormal || info.Version < Version1 {
			continue
		}
		h.send(info.ID, CmdRequestTxPool, req)
	}
}

// relayBlock sends the block as a lite block to the peers that support it
// and in full to the others, skipping the connection it came from.
func (h *Handler) relayBlock(msg NewBlock, source *Context) {
	exclude := uuid.Nil
	if source != nil {
		exclude = source.ID
	}

	lite := NewLiteBlock{
		CurrentHeight: msg.CurrentHeight,
		Hop:           msg.Hop,
		Block:         msg.Block.Block,
	}

	h.relay(CmdNewLiteBlock, lite, exclude, func(info Info) bool {
		return relayable(info) && info.Version >= VersionLiteBlock
	})

	h.relay(CmdNewBlock, msg, exclude, func(info Info) bool {
		return relayable(info) && info.Version < VersionLiteBlock
	})
}
