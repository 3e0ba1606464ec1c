// Package database provides the data model of the blockchain along with
// the canonical encoding used for hashing, sizing and relaying blocks and
// transactions.
package database

import (
	"errors"
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

// Crypto value types used across the data model.
type (
	Hash      = signature.Hash
	PublicKey = signature.PublicKey
	SecretKey = signature.SecretKey
	KeyImage  = signature.KeyImage
	Signature = signature.Signature
)

// ZeroHash represents a hash code of zeros.
var ZeroHash = signature.ZeroHash

// Set of errors produced by the data model.
var (
	ErrParse      = errors.New("unable to parse")
	ErrNotFound   = errors.New("not found")
	ErrEndOfChain = errors.New("end of chain")
)

// =============================================================================

// encode returns the canonical binary form of the value.
func encode(v any) []byte {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {

		// The data model only contains types rlp supports so this
		// can only fail on a programming error.
		panic(fmt.Sprintf("database: encode: %s", err))
	}
	return data
}

// decode parses the canonical binary form into the value.
func decode(data []byte, v any) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrParse, err)
	}
	return nil
}

// hash returns the fast hash of the data.
func hash(data []byte) Hash {
	return signature.Default.FastHash(data)
}

// ToHex encodes a binary blob for json transport.
func ToHex(blob []byte) string {
	return hexutil.Encode(blob)
}

// ToHash converts a hex string into a hash.
func ToHash(s string) (Hash, error) {
	h, err := signature.ToHash(s)
	if err != nil {
		return ZeroHash, fmt.Errorf("%w: %s", ErrParse, err)
	}
	return h, nil
}

// FromHex decodes a binary blob from json transport.
func FromHex(s string) ([]byte, error) {
	blob, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err)
	}
	return blob, nil
}
