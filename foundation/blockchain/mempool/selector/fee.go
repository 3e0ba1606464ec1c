package selector

import (
	"slices"
	"sort"
)

// feeSelect returns the candidates with the best fee first.
var feeSelect = func(candidates []Candidate) []Candidate {
	final := slices.Clone(candidates)
	sort.Sort(byFee(final))
	return final
}
