// Package nmf implements the constrained non-negative matrix
// factorization used for reference-free cell-type deconvolution.
//
// An intensity matrix Y (probes by samples) is factored as
// Y ~ Mu * Omega^T where Mu (probes by K) holds per-cell-type
// methylation signatures constrained to [0,1] and Omega (samples by K)
// holds mixing proportions constrained to nonnegative rows with sum
// at most one. The blocks are updated alternately by projected
// gradient descent, following the projected-gradient approach of
// Lin (2007), 'Projected Gradient Methods for Non-negative Matrix
// Factorization', Neural Computation 19:2756.
package nmf

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Config determines the behaviour of a Factorize call.
type Config struct {
	// Tolerance is the relative improvement in reconstruction error
	// below which the factorization stops.
	Tolerance float64

	// MaxIter is the maximum number of outer iterations.
	MaxIter int

	// MaxInner is the maximum number of gradient steps per block update.
	MaxInner int

	// Seed controls the initialization jitter.
	Seed int64
}

// Result describes how a factorization run ended.
type Result struct {
	Iterations int
	RSS        float64
	Converged  bool
}

// Factorize computes Omega (samples by k) and Mu (probes by k) for the
// intensity matrix y (probes by samples).
func Factorize(y *mat.Dense, k int, cfg Config) (*mat.Dense, *mat.Dense, Result, error) {
	probeCount, sampleCount := y.Dims()
	if probeCount == 0 || sampleCount == 0 {
		return nil, nil, Result{}, fmt.Errorf("cannot factorize an empty matrix")
	}
	if k < 1 || k > sampleCount {
		return nil, nil, Result{}, fmt.Errorf("k must be between 1 and the sample count %d, got %d", sampleCount, k)
	}

	mu := Initialize(y, k, cfg.Seed)
	omega := uniformOmega(sampleCount, k)

	var res Result
	prev := math.Inf(1)
	for iter := 0; iter < cfg.MaxIter; iter++ {
		updateOmega(y, mu, omega, cfg.MaxInner)
		updateMu(y, mu, omega, cfg.MaxInner)

		rss := RSS(y, mu, omega)
		res.Iterations = iter + 1
		res.RSS = rss
		if prev-rss <= cfg.Tolerance*math.Max(rss, 1.0) {
			res.Converged = true
			break
		}
		prev = rss
	}
	return omega, mu, res, nil
}

// Initialize seeds the signature matrix from k sample columns of y,
// spread over the quantiles of the per-sample mean intensity. A small
// seeded jitter breaks ties between near-identical samples.
func Initialize(y *mat.Dense, k int, seed int64) *mat.Dense {
	probeCount, sampleCount := y.Dims()

	type colMean struct {
		index int
		mean  float64
	}
	means := make([]colMean, sampleCount)
	for j := 0; j < sampleCount; j++ {
		sum := 0.0
		for i := 0; i < probeCount; i++ {
			sum += y.At(i, j)
		}
		means[j] = colMean{index: j, mean: sum / float64(probeCount)}
	}
	sort.Slice(means, func(a, b int) bool { return means[a].mean < means[b].mean })

	rng := rand.New(rand.NewSource(seed))
	mu := mat.NewDense(probeCount, k, nil)
	for j := 0; j < k; j++ {
		var pos int
		if k == 1 {
			pos = (sampleCount - 1) / 2
		} else {
			pos = j * (sampleCount - 1) / (k - 1)
		}
		src := means[pos].index
		for i := 0; i < probeCount; i++ {
			mu.Set(i, j, clamp01(y.At(i, src)+1e-4*rng.Float64()))
		}
	}
	return mu
}

func uniformOmega(sampleCount, k int) *mat.Dense {
	omega := mat.NewDense(sampleCount, k, nil)
	fill := 1.0 / float64(k)
	for i := 0; i < sampleCount; i++ {
		for j := 0; j < k; j++ {
			omega.Set(i, j, fill)
		}
	}
	return omega
}

// EstimateProportions computes mixing proportions for y under a fixed
// signature matrix. This is the omega half of the alternation and is
// what the bootstrap uses to score resampled data.
func EstimateProportions(y, mu *mat.Dense, maxInner int) *mat.Dense {
	_, sampleCount := y.Dims()
	_, k := mu.Dims()
	omega := uniformOmega(sampleCount, k)
	updateOmega(y, mu, omega, maxInner)
	return omega
}

// FinalizeSignatures re-estimates the signature matrix against a second
// intensity matrix with the proportions held fixed. yFinal may have a
// different probe set than the matrix omega was fitted on; the sample
// columns must match. Omega is not modified.
func FinalizeSignatures(yFinal, omega *mat.Dense, maxInner int) (*mat.Dense, error) {
	probeCount, sampleCount := yFinal.Dims()
	omegaRows, k := omega.Dims()
	if omegaRows != sampleCount {
		return nil, fmt.Errorf("omega has %d rows but the final matrix has %d samples", omegaRows, sampleCount)
	}
	mu := mat.NewDense(probeCount, k, nil)

	// Warm start from the unconstrained least squares solution where
	// the normal equations are solvable.
	var oto mat.Dense
	oto.Mul(omega.T(), omega)
	var yo mat.Dense
	yo.Mul(yFinal, omega)
	var solved mat.Dense
	if err := solved.Solve(&oto, yo.T()); err == nil {
		mu.Apply(func(i, j int, _ float64) float64 {
			return clamp01(solved.At(j, i))
		}, mu)
	}

	updateMu(yFinal, mu, omega, maxInner)
	return mu, nil
}

// RSS is the squared reconstruction error of y under mu and omega.
func RSS(y, mu, omega *mat.Dense) float64 {
	var recon mat.Dense
	recon.Mul(mu, omega.T())
	recon.Sub(y, &recon)
	sum := 0.0
	for _, v := range recon.RawMatrix().Data {
		sum += v * v
	}
	return sum
}

// updateMu runs projected gradient steps on the signature block with
// entries projected onto [0,1]. The step size 1/trace(Omega^T Omega)
// bounds the gradient's Lipschitz constant.
func updateMu(y, mu, omega *mat.Dense, maxInner int) {
	var oto mat.Dense
	oto.Mul(omega.T(), omega)
	var yo mat.Dense
	yo.Mul(y, omega)

	lipschitz := mat.Trace(&oto)
	if lipschitz <= 0 {
		return
	}
	step := 1.0 / lipschitz

	var grad mat.Dense
	for inner := 0; inner < maxInner; inner++ {
		grad.Mul(mu, &oto)
		grad.Sub(&grad, &yo)
		mu.Apply(func(i, j int, v float64) float64 {
			return clamp01(v - step*grad.At(i, j))
		}, mu)
	}
}

// updateOmega runs projected gradient steps on the proportion block
// with rows projected onto {w >= 0, sum(w) <= 1}.
func updateOmega(y, mu, omega *mat.Dense, maxInner int) {
	var mtm mat.Dense
	mtm.Mul(mu.T(), mu)
	var ytm mat.Dense
	ytm.Mul(y.T(), mu)

	lipschitz := mat.Trace(&mtm)
	if lipschitz <= 0 {
		return
	}
	step := 1.0 / lipschitz

	sampleCount, _ := omega.Dims()
	var grad mat.Dense
	for inner := 0; inner < maxInner; inner++ {
		grad.Mul(omega, &mtm)
		grad.Sub(&grad, &ytm)
		omega.Apply(func(i, j int, v float64) float64 {
			return v - step*grad.At(i, j)
		}, omega)
		for i := 0; i < sampleCount; i++ {
			projectRow(omega.RawRowView(i))
		}
	}
}

// projectRow projects a proportion row onto {w >= 0, sum(w) <= 1} in
// place. When clipping negatives already satisfies the sum constraint
// that clip is the projection; otherwise the row is projected onto the
// probability simplex by the sort-and-threshold method.
func projectRow(row []float64) {
	clippedSum := 0.0
	for _, v := range row {
		if v > 0 {
			clippedSum += v
		}
	}
	if clippedSum <= 1.0 {
		for i, v := range row {
			if v < 0 {
				row[i] = 0
			}
		}
		return
	}

	sorted := make([]float64, len(row))
	copy(sorted, row)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	cumsum := 0.0
	theta := 0.0
	for j, u := range sorted {
		cumsum += u
		t := (cumsum - 1.0) / float64(j+1)
		if u-t > 0 {
			theta = t
		} else {
			break
		}
	}
	for i, v := range row {
		row[i] = math.Max(0, v-theta)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
