package validator

import (
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// KeyOutputRef is a key output as seen by a spending transaction.
type KeyOutputRef struct {
	Key        database.PublicKey
	UnlockTime uint64
	Height     uint32
}

// MultisigOutputRef is a multisignature output as seen by a spending
// transaction.
type MultisigOutputRef struct {
	Output     database.MultisigOutput
	UnlockTime uint64
	Height     uint32
	Spent      bool
}

// ChainView is the read only chain state inputs are resolved against. The
// height is the number of blocks of the chain the transaction would be added
// on top of.
type ChainView interface {
	Height() uint32
	Now() uint64
	KeyOutput(amount uint64, globalIndex uint32) (KeyOutputRef, bool)
	MultisigOutput(amount uint64, globalIndex uint32) (MultisigOutputRef, bool)
	IsKeyImageSpent(image database.KeyImage) bool
}

// CheckInputs resolves every input of the transaction against the view and
// verifies the signatures. Outputs must exist, be unlocked and old enough,
// key images must be unspent and deposits must have reached their term.
// It returns the highest block height holding a referenced output.
func (v *Validator) CheckInputs(tx database.Transaction, view ChainView) (uint32, error) {
	if len(tx.Signatures) != len(tx.Inputs) {
		return 0, fmt.Errorf("%w: %d lists for %d inputs", ErrSignatureCount, len(tx.Signatures), len(tx.Inputs))
	}

	prefixHash := tx.PrefixHash()
	var maxUsedHeight uint32

	for i, in := range tx.Inputs {
		var used uint32
		var err error

		switch in.Kind() {
		case database.InputKey:
			used, err = v.checkKeyInput(prefixHash, *in.Key, tx.Signatures[i], view)
		case database.InputMultisig:
			used, err = v.checkMultisigInput(prefixHash, *in.Multisig, tx.Signatures[i], view)
		default:
			err = ErrUnsupportedInput
		}

		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}
		maxUsedHeight = max(maxUsedHeight, used)
	}

	return maxUsedHeight, nil
}

// checkKeyInput resolves the ring of a keyed input and checks the ring
// signature.
func (v *Validator) checkKeyInput(prefixHash database.Hash, in database.KeyInput, sigs []database.Signature, view ChainView) (uint32, error) {
	if len(in.OutputIndexes) == 0 {
		return 0, fmt.Errorf("%w: empty ring", ErrUnsupportedInput)
	}

	if !signature.CheckKey(signature.PublicKey(in.KeyImage)) {
		return 0, ErrInvalidKeyImage
	}

	if view.IsKeyImageSpent(in.KeyImage) {
		return 0, fmt.Errorf("%w: %s", ErrKeyImageSpent, in.KeyImage)
	}

	if len(sigs) != len(in.OutputIndexes) {
		return 0, fmt.Errorf("%w: %d signatures for a ring of %d", ErrSignatureCount, len(sigs), len(in.OutputIndexes))
	}

	c := v.currency
	height := view.Height()
	now := view.Now()

	var used uint32
	ring := make([]database.PublicKey, len(in.OutputIndexes))
	for j, idx := range database.AbsoluteOffsets(in.OutputIndexes) {
		ref, ok := view.KeyOutput(in.Amount, idx)
		if !ok {
			return 0, fmt.Errorf("%w: amount %d index %d", ErrOutputNotFound, in.Amount, idx)
		}
		if !c.IsUnlocked(ref.UnlockTime, height, now) {
			return 0, fmt.Errorf("%w: amount %d index %d unlocks at %d", ErrOutputLocked, in.Amount, idx, ref.UnlockTime)
		}
		if uint64(ref.Height)+uint64(c.SpendableAge) > uint64(height) {
			return 0, fmt.Errorf("%w: amount %d index %d is younger than %d blocks", ErrOutputLocked, in.Amount, idx, c.SpendableAge)
		}

		ring[j] = ref.Key
		used = max(used, ref.Height)
	}

	if !v.crypto.CheckRingSignature(prefixHash, in.KeyImage, ring, sigs) {
		return 0, fmt.Errorf("%w: ring signature", ErrInvalidSignature)
	}

	return used, nil
}

// checkMultisigInput resolves the spent multisignature output and checks the
// signatures match distinct keys in order.
func (v *Validator) checkMultisigInput(prefixHash database.Hash, in database.MultisigInput, sigs []database.Signature, view ChainView) (uint32, error) {
	ref, ok := view.MultisigOutput(in.Amount, in.OutputIndex)
	if !ok {
		return 0, fmt.Errorf("%w: amount %d index %d", ErrMultisigOutputUnset, in.Amount, in.OutputIndex)
	}
	if ref.Spent {
		return 0, fmt.Errorf("%w: amount %d index %d", ErrMultisigSpent, in.Amount, in.OutputIndex)
	}

	out := ref.Output
	if in.SignatureCount != out.RequiredSignatures {
		return 0, fmt.Errorf("%w: input claims %d, output requires %d", ErrSignatureCount, in.SignatureCount, out.RequiredSignatures)
	}
	if in.Term != out.Term {
		return 0, fmt.Errorf("%w: input term %d, output term %d", ErrDepositTerm, in.Term, out.Term)
	}

	c := v.currency
	height := view.Height()

	if !c.IsUnlocked(ref.UnlockTime, height, view.Now()) {
		return 0, fmt.Errorf("%w: unlocks at %d", ErrOutputLocked, ref.UnlockTime)
	}
	if out.Term != 0 && uint64(ref.Height)+uint64(out.Term) > uint64(height) {
		return 0, fmt.Errorf("%w: deposit matures at %d", ErrOutputLocked, uint64(ref.Height)+uint64(out.Term))
	}

	if len(sigs) != int(in.SignatureCount) {
		return 0, fmt.Errorf("%w: %d signatures, expected %d", ErrSignatureCount, len(sigs), in.SignatureCount)
	}

	key := 0
	for _, sig := range sigs {
		for key < len(out.Keys) && !v.crypto.CheckSignature(prefixHash, out.Keys[key], sig) {
			key++
		}
		if key == len(out.Keys) {
			return 0, fmt.Errorf("%w: multisignature", ErrInvalidSignature)
		}
		key++
	}

	return ref.Height, nil
}
