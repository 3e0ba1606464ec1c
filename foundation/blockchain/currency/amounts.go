package currency

import (
	"slices"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common/math"
)

// DecomposeAmount splits the amount into chunks of a single non zero digit
// times a power of ten, scanning from the least significant digit. Low
// digits whose running sum stays within the dust threshold are folded into
// one dust amount instead. The chunks plus the dust always add up to the
// amount.
func DecomposeAmount(amount uint64, dustThreshold uint64) (chunks []uint64, dust uint64) {
	var order uint64 = 1
	dustHandled := false

	for amount != 0 {
		chunk := (amount % 10) * order
		amount /= 10
		order *= 10

		if !dustHandled && dust+chunk <= dustThreshold {
			dust += chunk
			continue
		}

		dustHandled = true
		if chunk != 0 {
			chunks = append(chunks, chunk)
		}
	}

	return chunks, dust
}

// IsPrettyAmount reports if the amount is a single non zero digit times a
// power of ten.
func IsPrettyAmount(amount uint64) bool {
	if amount == 0 {
		return false
	}
	for amount%10 == 0 {
		amount /= 10
	}
	return amount < 10
}

// =============================================================================

// InputAmount returns the value an input brings into a transaction spent on
// top of the height. Deposits are worth their amount plus the interest.
func (c *Currency) InputAmount(in database.Input, height uint32) uint64 {
	switch in.Kind() {
	case database.InputKey:
		return in.Key.Amount
	case database.InputMultisig:
		ms := in.Multisig
		if ms.Term == 0 {
			return ms.Amount
		}
		return ms.Amount + c.Interest.Interest(ms.Amount, ms.Term, height)
	}
	return 0
}

// InputsAmount returns the value of all the inputs. The boolean is false on
// overflow.
func (c *Currency) InputsAmount(tx database.Transaction, height uint32) (uint64, bool) {
	var sum uint64
	for _, in := range tx.Inputs {
		var overflow bool
		if sum, overflow = math.SafeAdd(sum, c.InputAmount(in, height)); overflow {
			return 0, false
		}
	}
	return sum, true
}

// TransactionFee returns the fee paid by the transaction. A deposit
// withdrawal may output more than its inputs' face value because of the
// interest, such transactions always pay the minimum fee. The boolean is
// false when the outputs exceed the inputs otherwise.
func (c *Currency) TransactionFee(tx database.Transaction, height uint32) (uint64, bool) {
	in, ok := c.InputsAmount(tx, height)
	if !ok {
		return 0, false
	}
	out, ok := tx.OutputsAmount()
	if !ok {
		return 0, false
	}

	if out <= in {
		return in - out, true
	}

	if len(tx.Inputs) > 0 && len(tx.Outputs) > 0 && out > in+c.MinimumFee {
		return c.MinimumFee, true
	}

	return 0, false
}

// IsFusionTransaction reports if the transaction only consolidates many
// small outputs into fewer larger ones. Fusion transactions are exempt from
// the minimum fee.
func (c *Currency) IsFusionTransaction(tx database.Transaction, size uint64) bool {
	if size > c.FusionTxMaxSize {
		return false
	}
	if len(tx.Inputs) < c.FusionTxMinInputCount {
		return false
	}
	if len(tx.Inputs) < len(tx.Outputs)*c.FusionTxMinInOutRatio {
		return false
	}

	var inputAmount uint64
	for _, in := range tx.Inputs {
		if in.Kind() != database.InputKey {
			return false
		}
		amount := in.Key.Amount
		if amount < c.DustThreshold {
			return false
		}

		var overflow bool
		if inputAmount, overflow = math.SafeAdd(inputAmount, amount); overflow {
			return false
		}
	}

	chunks, dust := DecomposeAmount(inputAmount, c.DustThreshold)
	expected := chunks
	if dust > 0 {
		expected = append(expected, dust)
	}
	slices.Sort(expected)

	outputs := make([]uint64, len(tx.Outputs))
	for i, out := range tx.Outputs {
		outputs[i] = out.Amount
	}
	slices.Sort(outputs)

	return slices.Equal(expected, outputs)
}
