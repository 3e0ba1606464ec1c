// Package validator provides the transaction validation predicates. Nothing
// in this package mutates state, checks that depend on the chain read from a
// ChainView snapshot.
package validator

import (
	"errors"
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
)

// Set of errors produced by the validator. Every error except the ones
// wrapping ErrUnresolved means the transaction is invalid.
var (
	ErrUnresolved          = errors.New("references unknown chain state")
	ErrVersion             = errors.New("unsupported version")
	ErrNoInputs            = errors.New("no inputs")
	ErrUnsupportedInput    = errors.New("unsupported input type")
	ErrInvalidOutput       = errors.New("invalid output")
	ErrNotDecomposed       = errors.New("output amount is not decomposed")
	ErrOverflow            = errors.New("money overflow")
	ErrInputsBelowOutputs  = errors.New("inputs amount below outputs amount")
	ErrDuplicateKeyImage   = errors.New("duplicate key image")
	ErrDuplicateMultisig   = errors.New("duplicate multisignature output index")
	ErrSignatureCount      = errors.New("signature count mismatch")
	ErrTooBig              = errors.New("transaction too big")
	ErrKeyImageSpent       = errors.New("key image already spent")
	ErrInvalidKeyImage     = errors.New("invalid key image")
	ErrOutputLocked        = errors.New("output is locked")
	ErrMultisigSpent       = errors.New("multisignature output already spent")
	ErrDepositTerm         = errors.New("deposit term mismatch")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrOutputNotFound      = fmt.Errorf("output not found: %w", ErrUnresolved)
	ErrMultisigOutputUnset = fmt.Errorf("multisignature output not found: %w", ErrUnresolved)
)

// IsImpossible reports if the error means the transaction can't be checked
// against the local chain yet, as opposed to being invalid.
func IsImpossible(err error) bool {
	return errors.Is(err, ErrUnresolved)
}

// =============================================================================

// TxVerification is the outcome of submitting a transaction.
type TxVerification struct {
	ShouldBeRelayed        bool
	VerificationFailed     bool
	VerificationImpossible bool
	AddedToPool            bool
	FeeTooSmall            bool
	Reason                 error
}

// Rejected builds the outcome for a transaction that failed validation.
func Rejected(err error) TxVerification {
	if IsImpossible(err) {
		return TxVerification{VerificationImpossible: true, Reason: err}
	}
	return TxVerification{VerificationFailed: true, Reason: err}
}

// String returns a short form of the outcome for logging.
func (tv TxVerification) String() string {
	switch {
	case tv.VerificationFailed:
		return fmt.Sprintf("failed: %v", tv.Reason)
	case tv.VerificationImpossible:
		return fmt.Sprintf("impossible: %v", tv.Reason)
	case tv.FeeTooSmall:
		return fmt.Sprintf("fee too small: %v", tv.Reason)
	case tv.AddedToPool:
		return "added to pool"
	}
	return "ignored"
}

// =============================================================================

// Validator checks transactions against the rules of a currency.
type Validator struct {
	currency *currency.Currency
	crypto   signature.Crypto
}

// New constructs a validator.
func New(c *currency.Currency, crypto signature.Crypto) *Validator {
	return &Validator{
		currency: c,
		crypto:   crypto,
	}
}

// Currency returns the rules the validator checks against.
func (v *Validator) Currency() *currency.Currency {
	return v.currency
}

// CheckSyntax checks the transaction is structurally well formed: a known
// version, at least one input of a known kind, outputs of a known kind and
// one signature list per input.
func (v *Validator) CheckSyntax(tx database.Transaction) error {
	if tx.Version < database.TransactionVersion1 || tx.Version > database.TransactionVersion2 {
		return fmt.Errorf("%w: %d", ErrVersion, tx.Version)
	}

	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}

	for i, in := range tx.Inputs {
		if in.Kind() == database.InputUnknown {
			return fmt.Errorf("%w: input %d", ErrUnsupportedInput, i)
		}
	}

	for i, out := range tx.Outputs {
		if !out.IsKey() && !out.IsMultisig() {
			return fmt.Errorf("%w: output %d has no target", ErrInvalidOutput, i)
		}
	}

	if !tx.IsCoinbase() && len(tx.Signatures) != len(tx.Inputs) {
		return fmt.Errorf("%w: %d lists for %d inputs", ErrSignatureCount, len(tx.Signatures), len(tx.Inputs))
	}

	return nil
}

// CheckSemantics checks a non coinbase transaction for consistency. The
// height hint is the height the deposit interest is computed at. It returns
// the height the balance check passed at, which differs from the hint only
// when the legacy interest fallback is enabled and was needed.
func (v *Validator) CheckSemantics(tx database.Transaction, isInBlock bool, heightHint uint32) (uint32, error) {
	if len(tx.Inputs) == 0 {
		return 0, ErrNoInputs
	}

	for i, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey, database.InputMultisig:
		default:
			return 0, fmt.Errorf("%w: input %d", ErrUnsupportedInput, i)
		}
	}

	if err := v.checkOutputs(tx); err != nil {
		return 0, err
	}

	if !isInBlock {
		if size := tx.BlobSize(); size > v.currency.MaxTransactionSize() {
			return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrTooBig, size, v.currency.MaxTransactionSize())
		}
	}

	out, ok := tx.OutputsAmount()
	if !ok || out > v.currency.MoneySupply {
		return 0, fmt.Errorf("%w: outputs", ErrOverflow)
	}
	if _, ok := tx.InputsFaceAmount(); !ok {
		return 0, fmt.Errorf("%w: inputs", ErrOverflow)
	}

	height, err := v.checkBalance(tx, out, heightHint)
	if err != nil {
		return 0, err
	}

	if !CheckInputsKeyImagesUnique(tx) {
		return 0, ErrDuplicateKeyImage
	}

	if !CheckMultisigInputsUnique(tx) {
		return 0, ErrDuplicateMultisig
	}

	return height, nil
}

// checkOutputs validates every output target and amount.
func (v *Validator) checkOutputs(tx database.Transaction) error {
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return fmt.Errorf("%w: output %d has zero amount", ErrInvalidOutput, i)
		}

		switch {
		case out.IsKey():
			if !signature.CheckKey(out.Target.Key.Key) {
				return fmt.Errorf("%w: output %d key is not on the curve", ErrInvalidOutput, i)
			}
			if !IsDecomposedAmount(out.Amount) {
				return fmt.Errorf("%w: output %d amount %d", ErrNotDecomposed, i, out.Amount)
			}

		case out.IsMultisig():
			ms := out.Target.Multisig
			if ms.RequiredSignatures == 0 || int(ms.RequiredSignatures) > len(ms.Keys) {
				return fmt.Errorf("%w: output %d requires %d of %d signatures", ErrInvalidOutput, i, ms.RequiredSignatures, len(ms.Keys))
			}
			for _, key := range ms.Keys {
				if !signature.CheckKey(key) {
					return fmt.Errorf("%w: output %d key is not on the curve", ErrInvalidOutput, i)
				}
			}
			if ms.Term != 0 && (ms.Term < v.currency.DepositMinTerm || ms.Term > v.currency.DepositMaxTerm) {
				return fmt.Errorf("%w: output %d term %d", ErrDepositTerm, i, ms.Term)
			}

		default:
			return fmt.Errorf("%w: output %d has no target", ErrInvalidOutput, i)
		}
	}

	return nil
}

// checkBalance checks the inputs cover the outputs at the height hint,
// falling back to the legacy height when enabled.
func (v *Validator) checkBalance(tx database.Transaction, out uint64, heightHint uint32) (uint32, error) {
	in, ok := v.currency.InputsAmount(tx, heightHint)
	if !ok {
		return 0, fmt.Errorf("%w: inputs", ErrOverflow)
	}
	if in >= out {
		return heightHint, nil
	}

	if v.currency.LegacyInterestFallback {
		fallback := v.currency.LegacyFallbackHeight(heightHint)
		if in, ok := v.currency.InputsAmount(tx, fallback); ok && in >= out {
			return fallback, nil
		}
	}

	return 0, fmt.Errorf("%w: ins %d, outs %d", ErrInputsBelowOutputs, in, out)
}

// =============================================================================

// CheckInputsKeyImagesUnique reports if no two keyed inputs of the
// transaction share a key image.
func CheckInputsKeyImagesUnique(tx database.Transaction) bool {
	seen := make(map[database.KeyImage]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.Kind() != database.InputKey {
			continue
		}
		if _, exists := seen[in.Key.KeyImage]; exists {
			return false
		}
		seen[in.Key.KeyImage] = struct{}{}
	}
	return true
}

// CheckMultisigInputsUnique reports if no two multisignature inputs of the
// transaction spend the same output.
func CheckMultisigInputsUnique(tx database.Transaction) bool {
	type outputRef struct {
		amount uint64
		index  uint32
	}

	seen := make(map[outputRef]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.Kind() != database.InputMultisig {
			continue
		}
		ref := outputRef{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}
		if _, exists := seen[ref]; exists {
			return false
		}
		seen[ref] = struct{}{}
	}
	return true
}

// Decompose splits the amount into decomposed chunks plus at most one dust
// remainder.
func Decompose(amount uint64, dustThreshold uint64) ([]uint64, uint64) {
	return currency.DecomposeAmount(amount, dustThreshold)
}

// IsDecomposedAmount reports if the amount is a valid output denomination.
func IsDecomposedAmount(amount uint64) bool {
	return currency.IsPrettyAmount(amount)
}
