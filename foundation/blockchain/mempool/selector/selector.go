// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee  = "fee"
	StrategyFIFO = "fifo"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee:  feeSelect,
	StrategyFIFO: fifoSelect,
}

// Candidate is a pool transaction as seen by a select strategy.
type Candidate struct {
	Hash        database.Hash
	BlobSize    uint64
	Fee         uint64
	ReceiveTime time.Time
	Sequence    uint64
	KeptByBlock bool
}

// Func defines a function that orders the pool candidates by preference for
// the next block. The order must be deterministic for the same candidates,
// ties are broken by the sequence the pool received the transactions in.
type Func func(candidates []Candidate) []Candidate

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// bySequence provides sorting support by the order the pool received the
// transactions in.
type bySequence []Candidate

// Len returns the number of candidates in the list.
func (bs bySequence) Len() int {
	return len(bs)
}

// Less helps to sort the list by sequence in ascending order.
func (bs bySequence) Less(i, j int) bool {
	return bs[i].Sequence < bs[j].Sequence
}

// Swap moves candidates in the order of the sequence value.
func (bs bySequence) Swap(i, j int) {
	bs[i], bs[j] = bs[j], bs[i]
}

// =============================================================================

// byFee provides sorting support by the transaction fee value.
type byFee []Candidate

// Len returns the number of candidates in the list.
func (bf byFee) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee in descending order to pick the
// transactions that provide the best reward. Equal fees keep the order the
// pool received them in.
func (bf byFee) Less(i, j int) bool {
	if bf[i].Fee != bf[j].Fee {
		return bf[i].Fee > bf[j].Fee
	}
	return bf[i].Sequence < bf[j].Sequence
}

// Swap moves candidates in the order of the fee value.
func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
