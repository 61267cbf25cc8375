// Package probes selects which probe rows of an intensity matrix enter
// the factorization.
package probes

import (
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TopVariance returns the indices of the n probes with the largest
// sample variance, most variable first. If n exceeds the probe count
// all probes are returned.
func TopVariance(y *mat.Dense, n int) []int {
	rowCount, _ := y.Dims()
	if n > rowCount {
		n = rowCount
	}

	type rowVariance struct {
		index    int
		variance float64
	}
	variances := make([]rowVariance, rowCount)
	for i := 0; i < rowCount; i++ {
		variances[i] = rowVariance{
			index:    i,
			variance: stat.Variance(y.RawRowView(i), nil),
		}
	}
	// Constant probes have variance 0 and sort last.
	sort.SliceStable(variances, func(a, b int) bool {
		return variances[a].variance > variances[b].variance
	})

	ret := make([]int, n)
	for i := 0; i < n; i++ {
		ret[i] = variances[i].index
	}
	return ret
}
