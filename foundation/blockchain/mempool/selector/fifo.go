package selector

import (
	"slices"
	"sort"
)

// fifoSelect returns the candidates in the order the pool received them.
var fifoSelect = func(candidates []Candidate) []Candidate {
	final := slices.Clone(candidates)
	sort.Sort(bySequence(final))
	return final
}
