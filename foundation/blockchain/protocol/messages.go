package protocol

import (
	"errors"
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/rlp"
)

// Command identifies the message carried by a frame.
type Command uint32

// Set of commands exchanged between nodes.
const (
	CmdHandshake Command = 1001
	CmdTimedSync Command = 1002

	CmdNewBlock           Command = 2001
	CmdNewTransactions    Command = 2002
	CmdRequestGetObjects  Command = 2003
	CmdResponseGetObjects Command = 2004
	CmdRequestChain       Command = 2006
	CmdResponseChainEntry Command = 2007
	CmdRequestTxPool      Command = 2008
	CmdNewLiteBlock       Command = 2009
	CmdMissingTxs         Command = 2010
)

var commandNames = map[Command]string{
	CmdHandshake:          "HANDSHAKE",
	CmdTimedSync:          "TIMED_SYNC",
	CmdNewBlock:           "NEW_BLOCK",
	CmdNewTransactions:    "NEW_TRANSACTIONS",
	CmdRequestGetObjects:  "REQUEST_GET_OBJECTS",
	CmdResponseGetObjects: "RESPONSE_GET_OBJECTS",
	CmdRequestChain:       "REQUEST_CHAIN",
	CmdResponseChainEntry: "RESPONSE_CHAIN_ENTRY",
	CmdRequestTxPool:      "REQUEST_TX_POOL",
	CmdNewLiteBlock:       "NEW_LITE_BLOCK",
	CmdMissingTxs:         "MISSING_TXS",
}

// String implements the fmt.Stringer interface.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(c))
}

// Protocol versions advertised in the handshake.
const (
	Version1         uint8 = 1
	VersionLiteBlock uint8 = 3
	CurrentVersion         = VersionLiteBlock
)

// Sync limits.
const (
	BlocksSynchronizingDefaultCount   = 128
	BlockIDsSynchronizingDefaultCount = 10_000
	GetObjectsMaxCount                = 1_000
	MaxBlockBlobSize                  = 500_000_000
)

// ErrDecode is returned when a payload can't be parsed.
var ErrDecode = errors.New("unable to decode payload")

// =============================================================================

// SyncData is the chain position a node advertises in the handshake and the
// timed sync. CurrentHeight is the number of blocks of the main chain.
type SyncData struct {
	CurrentHeight uint32        `json:"current_height"`
	TopID         database.Hash `json:"top_id"`
}

// Handshake is exchanged once when a connection is established.
type Handshake struct {
	Version uint8    `json:"version"`
	NodeID  string   `json:"node_id"`
	Host    string   `json:"host"`
	Sync    SyncData `json:"sync"`
}

// NewBlock relays a block along with its transactions.
type NewBlock struct {
	Block         database.RawBlock `json:"block"`
	CurrentHeight uint32            `json:"current_height"`
	Hop           uint32            `json:"hop"`
}

// NewTransactions relays transactions or answers a MissingTxs request.
type NewTransactions struct {
	Txs [][]byte `json:"txs"`
}

// RequestGetObjects asks for blocks and transactions by hash.
type RequestGetObjects struct {
	Txs    []database.Hash `json:"txs"`
	Blocks []database.Hash `json:"blocks"`
}

// ResponseGetObjects answers a RequestGetObjects.
type ResponseGetObjects struct {
	Txs           [][]byte            `json:"txs"`
	Blocks        []database.RawBlock `json:"blocks"`
	MissedIDs     []database.Hash     `json:"missed_ids"`
	CurrentHeight uint32              `json:"current_height"`
}

// RequestChain carries the locator of the requesting node.
type RequestChain struct {
	BlockIDs []database.Hash `json:"block_ids"`
}

// ResponseChainEntry lists the main chain hashes following the common
// block, which is the first hash of the list.
type ResponseChainEntry struct {
	StartHeight uint32          `json:"start_height"`
	TotalHeight uint32          `json:"total_height"`
	BlockIDs    []database.Hash `json:"block_ids"`
}

// RequestTxPool lists the pool of the requesting node so the answer only
// carries the transactions it lacks.
type RequestTxPool struct {
	Txs []database.Hash `json:"txs"`
}

// NewLiteBlock relays a block without its transactions.
type NewLiteBlock struct {
	CurrentHeight uint32 `json:"current_height"`
	Hop           uint32 `json:"hop"`
	Block         []byte `json:"block"`
}

// MissingTxs asks the relayer of a lite block for the transactions the
// receiver could not find.
type MissingTxs struct {
	CurrentHeight uint32          `json:"current_height"`
	BlockHash     database.Hash   `json:"block_hash"`
	MissingTxs    []database.Hash `json:"missing_txs"`
}

// =============================================================================

// Encode returns the binary form of a message.
func Encode(msg any) ([]byte, error) {
	data, err := rlp.EncodeToBytes(msg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

// Decode parses the binary form of a message.
func Decode(data []byte, msg any) error {
	if err := rlp.DecodeBytes(data, msg); err != nil {
		return fmt.Errorf("%w: %s", ErrDecode, err)
	}
	return nil
}
