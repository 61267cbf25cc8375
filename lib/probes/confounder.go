package probes

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DropConfounded regresses every probe on the covariate columns (plus
// an intercept) and returns the indices of the probes whose regression
// F-test p-value is at least alpha, in their original order. Probes
// with a significant covariate association are confounded and dropped.
func DropConfounded(y *mat.Dense, covariates *mat.Dense, alpha float64) ([]int, error) {
	probeCount, sampleCount := y.Dims()
	covRows, covCount := covariates.Dims()
	if covRows != sampleCount {
		return nil, fmt.Errorf("covariate table has %d rows but the matrix has %d samples", covRows, sampleCount)
	}
	if covCount == 0 {
		return nil, fmt.Errorf("covariate table has no columns")
	}
	residualDF := sampleCount - covCount - 1
	if residualDF < 1 {
		return nil, fmt.Errorf("not enough samples (%d) for %d covariates", sampleCount, covCount)
	}

	// Design matrix with an intercept column.
	design := mat.NewDense(sampleCount, covCount+1, nil)
	for i := 0; i < sampleCount; i++ {
		design.Set(i, 0, 1.0)
		for j := 0; j < covCount; j++ {
			design.Set(i, j+1, covariates.At(i, j))
		}
	}

	var qr mat.QR
	qr.Factorize(design)

	// All probes solve against the same design, so one call handles
	// the whole matrix: design * coef = y^T.
	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, y.T()); err != nil {
		return nil, fmt.Errorf("covariate design matrix is rank deficient: %v", err)
	}

	var fitted mat.Dense
	fitted.Mul(design, &coef)
	fitted.Sub(&fitted, y.T())

	fDist := distuv.F{D1: float64(covCount), D2: float64(residualDF)}

	kept := make([]int, 0, probeCount)
	for probe := 0; probe < probeCount; probe++ {
		row := y.RawRowView(probe)
		mean := stat.Mean(row, nil)
		rssNull := 0.0
		for _, v := range row {
			diff := v - mean
			rssNull += diff * diff
		}

		rssFull := 0.0
		for i := 0; i < sampleCount; i++ {
			r := fitted.At(i, probe)
			rssFull += r * r
		}

		if rssFull <= 0 {
			// The covariates explain the probe exactly.
			continue
		}
		fStat := ((rssNull - rssFull) / float64(covCount)) / (rssFull / float64(residualDF))
		if fStat < 0 {
			fStat = 0
		}
		pValue := fDist.Survival(fStat)
		if pValue >= alpha {
			kept = append(kept, probe)
		}
	}
	return kept, nil
}
