// Package pageorder sorts archive entry names into reading order.
package pageorder

import (
	"sort"
	"strings"

	"github.com/fvbommel/sortorder"
)

// Less compares names naturally: digit runs numerically, everything else
// case-insensitively. "page2" sorts before "page10".
func Less(a, b string) bool {
	return sortorder.NaturalLess(strings.ToLower(a), strings.ToLower(b))
}

// Order returns a sorted copy of names. Names that compare equal keep their
// input order.
func Order(names []string) []string {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = strings.ToLower(n)
	}
	idx := make([]int, len(names))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return sortorder.NaturalLess(keys[idx[i]], keys[idx[j]])
	})

	ordered := make([]string, len(names))
	for i, k := range idx {
		ordered[i] = names[k]
	}
	return ordered
}
