package kselect

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scree returns the eigenvalues of the sample covariance structure in
// descending order. These are the values a scree plot displays; the
// explorer and reporters expose them so the usual visual application
// of Cattell's rule stays possible.
//
// The probes are centered and the eigendecomposition runs on the
// samples-by-samples Gram matrix, whose nonzero eigenvalues match
// those of the probe covariance.
func Scree(y *mat.Dense) ([]float64, error) {
	probeCount, sampleCount := y.Dims()
	if probeCount < 2 {
		return nil, fmt.Errorf("need at least 2 probes for a scree, got %d", probeCount)
	}

	centered := mat.DenseCopyOf(y)
	for i := 0; i < probeCount; i++ {
		row := centered.RawRowView(i)
		mean := stat.Mean(row, nil)
		for j := range row {
			row[j] -= mean
		}
	}

	var gram mat.Dense
	gram.Mul(centered.T(), centered)

	scale := 1.0 / float64(probeCount-1)
	sym := mat.NewSymDense(sampleCount, nil)
	for i := 0; i < sampleCount; i++ {
		for j := i; j < sampleCount; j++ {
			sym.SetSym(i, j, scale*gram.At(i, j))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return nil, fmt.Errorf("eigendecomposition of the sample covariance failed")
	}
	ascending := eig.Values(nil)

	values := make([]float64, len(ascending))
	for i, v := range ascending {
		if v < 0 {
			// Small negative eigenvalues are numerical noise.
			v = 0
		}
		values[len(ascending)-1-i] = v
	}
	return values, nil
}

// Elbow returns the number of components to keep before the scree
// flattens: the 0-based slice index of the largest second difference
// of the eigenvalue series, which counts the values preceding the
// bend. It stands in for the visual rule when a run is unattended.
func Elbow(values []float64) int {
	if len(values) < 3 {
		return 1
	}
	best := 1
	bestAccel := 0.0
	for i := 1; i < len(values)-1; i++ {
		accel := values[i-1] - 2*values[i] + values[i+1]
		if accel > bestAccel {
			bestAccel = accel
			best = i
		}
	}
	return best
}
