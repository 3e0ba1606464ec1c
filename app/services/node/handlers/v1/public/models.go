package public

import (
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/chain"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

type status struct {
	Height                   uint32        `json:"height"`
	TailID                   database.Hash `json:"tail_id"`
	Difficulty               uint64        `json:"difficulty"`
	CoinsInCirculation       uint64        `json:"coins_in_circulation"`
	CumulativeBlocksizeLimit uint64        `json:"cumulative_blocksize_limit"`
	AlternativeBlocks        int           `json:"alternative_blocks"`
	PoolSize                 int           `json:"pool_size"`
	PeerCount                int           `json:"peer_count"`
	ObservedHeight           uint32        `json:"observed_height"`
	Synchronized             bool          `json:"synchronized"`
}

type submitTx struct {
	TxAsHex string `json:"tx_as_hex" validate:"required"`
}

type submitTxResponse struct {
	Status  string        `json:"status"`
	Hash    database.Hash `json:"hash"`
	Relayed bool          `json:"relayed"`
}

type blockTemplate struct {
	WalletAddress string `json:"wallet_address" validate:"required"`
	ReserveSize   int    `json:"reserve_size" validate:"gte=0,lte=255"`
}

type blockTemplateResponse struct {
	BlockTemplateBlob string `json:"blocktemplate_blob"`
	Difficulty        uint64 `json:"difficulty"`
	Height            uint32 `json:"height"`
	ReservedOffset    int    `json:"reserved_offset"`
}

type submitBlock struct {
	BlockBlob string `json:"block_blob" validate:"required"`
}

type submitBlockResponse struct {
	Status string        `json:"status"`
	Hash   database.Hash `json:"hash"`
	Height uint32        `json:"height"`
}

type block struct {
	Hash              database.Hash          `json:"hash"`
	Height            uint32                 `json:"height"`
	Header            database.BlockHeader   `json:"header"`
	BaseTransaction   database.Transaction   `json:"base_transaction"`
	TransactionHashes []database.Hash        `json:"transaction_hashes"`
	Transactions      []database.Transaction `json:"transactions,omitempty"`
	BlobSize          uint64                 `json:"blob_size"`
}

func toBlock(d chain.BlockDetails) block {
	return block{
		Hash:              d.Hash,
		Height:            d.Height,
		Header:            d.Block.BlockHeader,
		BaseTransaction:   d.Block.BaseTransaction,
		TransactionHashes: d.Block.TransactionHashes,
		Transactions:      d.Transactions,
		BlobSize:          d.Block.BlobSize(),
	}
}

type poolDifference struct {
	KnownTxsIDs []database.Hash `json:"known_txs_ids"`
}

type poolDifferenceResponse struct {
	AddedTxsIDs   []database.Hash `json:"added_txs_ids"`
	DeletedTxsIDs []database.Hash `json:"deleted_txs_ids"`
}

type poolChanges struct {
	TailBlockID database.Hash   `json:"tail_block_id"`
	KnownTxsIDs []database.Hash `json:"known_txs_ids"`
}

type poolChangesResponse struct {
	IsTailBlockActual bool            `json:"is_tail_block_actual"`
	AddedTxs          []string        `json:"added_txs"`
	DeletedTxsIDs     []database.Hash `json:"deleted_txs_ids"`
}

type queryBlocks struct {
	BlockIDs []database.Hash `json:"block_ids" validate:"required,min=1"`
	MaxCount int             `json:"max_count" validate:"gte=0,lte=1000"`
}

type queryBlocksResponse struct {
	StartHeight uint32  `json:"start_height"`
	TotalHeight uint32  `json:"total_height"`
	Blocks      []block `json:"blocks"`
}

type hashes struct {
	Hashes []database.Hash `json:"hashes"`
	Count  int             `json:"count"`
}
