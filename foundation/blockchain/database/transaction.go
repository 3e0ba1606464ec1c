package database

import (
	"github.com/ethereum/go-ethereum/common/math"
)

// Transaction versions understood by the node.
const (
	TransactionVersion1 uint8 = 1
	TransactionVersion2 uint8 = 2
)

// =============================================================================

// BaseInput is the single input of a coinbase transaction.
type BaseInput struct {
	Height uint32 `json:"height"`
}

// KeyInput spends one output out of a ring of outputs with the same amount.
// OutputIndexes are offsets relative to the previous index.
type KeyInput struct {
	Amount        uint64   `json:"amount"`
	OutputIndexes []uint32 `json:"output_indexes"`
	KeyImage      KeyImage `json:"key_image"`
}

// MultisigInput spends a multisignature output. A non zero term marks the
// spend of a deposit.
type MultisigInput struct {
	Amount         uint64 `json:"amount"`
	SignatureCount uint8  `json:"signature_count"`
	OutputIndex    uint32 `json:"output_index"`
	Term           uint32 `json:"term"`
}

// Input is a sum type. Exactly one of the fields is set for a well formed
// input.
type Input struct {
	Base     *BaseInput     `json:"base,omitempty" rlp:"nil"`
	Key      *KeyInput      `json:"key,omitempty" rlp:"nil"`
	Multisig *MultisigInput `json:"multisig,omitempty" rlp:"nil"`
}

// Input kinds.
const (
	InputUnknown = iota
	InputBase
	InputKey
	InputMultisig
)

// Kind returns the kind of input or InputUnknown when the input is not
// exactly one of the supported kinds.
func (in Input) Kind() int {
	kind, set := InputUnknown, 0
	if in.Base != nil {
		kind, set = InputBase, set+1
	}
	if in.Key != nil {
		kind, set = InputKey, set+1
	}
	if in.Multisig != nil {
		kind, set = InputMultisig, set+1
	}
	if set != 1 {
		return InputUnknown
	}
	return kind
}

// Amount returns the face value of the input.
func (in Input) Amount() uint64 {
	switch in.Kind() {
	case InputKey:
		return in.Key.Amount
	case InputMultisig:
		return in.Multisig.Amount
	}
	return 0
}

// AbsoluteOffsets converts the relative output indexes into global indexes.
func AbsoluteOffsets(relative []uint32) []uint32 {
	abs := make([]uint32, len(relative))
	var sum uint32
	for i, off := range relative {
		sum += off
		abs[i] = sum
	}
	return abs
}

// RelativeOffsets converts sorted global indexes into relative offsets.
func RelativeOffsets(absolute []uint32) []uint32 {
	rel := make([]uint32, len(absolute))
	var prev uint32
	for i, idx := range absolute {
		rel[i] = idx - prev
		prev = idx
	}
	return rel
}

// =============================================================================

// KeyOutput can be spent by the owner of the key.
type KeyOutput struct {
	Key PublicKey `json:"key"`
}

// MultisigOutput requires RequiredSignatures of the keys to spend. A non
// zero term locks the output as a deposit for that many blocks.
type MultisigOutput struct {
	Keys               []PublicKey `json:"keys"`
	RequiredSignatures uint8       `json:"required_signatures"`
	Term               uint32      `json:"term"`
}

// OutputTarget is a sum type describing the spending condition.
type OutputTarget struct {
	Key      *KeyOutput      `json:"key,omitempty" rlp:"nil"`
	Multisig *MultisigOutput `json:"multisig,omitempty" rlp:"nil"`
}

// Output represents an amount and the condition to spend it.
type Output struct {
	Amount uint64       `json:"amount"`
	Target OutputTarget `json:"target"`
}

// IsKey reports if the output is a well formed key output.
func (o Output) IsKey() bool {
	return o.Target.Key != nil && o.Target.Multisig == nil
}

// IsMultisig reports if the output is a well formed multisignature output.
func (o Output) IsMultisig() bool {
	return o.Target.Multisig != nil && o.Target.Key == nil
}

// =============================================================================

// TransactionPrefix is the part of the transaction covered by its identity
// and by the signatures.
type TransactionPrefix struct {
	Version    uint8    `json:"version"`
	UnlockTime uint64   `json:"unlock_time"`
	Inputs     []Input  `json:"inputs"`
	Outputs    []Output `json:"outputs"`
	Extra      []byte   `json:"extra"`
}

// Transaction represents a transfer of value on the blockchain. There is one
// list of signatures per input.
type Transaction struct {
	TransactionPrefix
	Signatures [][]Signature `json:"signatures"`
}

// Hash returns the identity of the transaction, the hash of the serialized
// prefix.
func (tx Transaction) Hash() Hash {
	return hash(encode(tx.TransactionPrefix))
}

// PrefixHash returns the hash signatures are produced over. It equals the
// transaction identity.
func (tx Transaction) PrefixHash() Hash {
	return tx.Hash()
}

// Encode returns the canonical binary form of the transaction.
func (tx Transaction) Encode() []byte {
	return encode(tx)
}

// BlobSize returns the size in bytes of the canonical binary form.
func (tx Transaction) BlobSize() uint64 {
	return uint64(len(tx.Encode()))
}

// DecodeTransaction parses a transaction from its canonical binary form.
func DecodeTransaction(blob []byte) (Transaction, error) {
	var tx Transaction
	if err := decode(blob, &tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// OutputsAmount returns the sum of the output amounts. The boolean is false
// when the sum overflows.
func (tx Transaction) OutputsAmount() (uint64, bool) {
	var sum uint64
	for _, out := range tx.Outputs {
		var overflow bool
		if sum, overflow = math.SafeAdd(sum, out.Amount); overflow {
			return 0, false
		}
	}
	return sum, true
}

// InputsFaceAmount returns the sum of the input face values. The boolean
// is false when the sum overflows.
func (tx Transaction) InputsFaceAmount() (uint64, bool) {
	var sum uint64
	for _, in := range tx.Inputs {
		var overflow bool
		if sum, overflow = math.SafeAdd(sum, in.Amount()); overflow {
			return 0, false
		}
	}
	return sum, true
}

// KeyImages returns the key images of the keyed inputs.
func (tx Transaction) KeyImages() []KeyImage {
	var images []KeyImage
	for _, in := range tx.Inputs {
		if in.Kind() == InputKey {
			images = append(images, in.Key.KeyImage)
		}
	}
	return images
}

// IsCoinbase reports if the transaction is a block reward transaction.
func (tx Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Kind() == InputBase
}

// PaymentID returns the payment id embedded in the extra field, if any.
func (tx Transaction) PaymentID() (Hash, bool) {
	return PaymentIDFromExtra(tx.Extra)
}
