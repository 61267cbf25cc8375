// Package kselect chooses the number of latent cell types K, either by
// bootstrap deviance minimization or from the PCA scree.
package kselect

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/mkerner/cellmix/lib/nmf"
	"github.com/mkerner/cellmix/lib/settings"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// KScore holds the bootstrap score for one candidate K.
type KScore struct {
	K int

	// Deviance is the trimmed mean of the replicate deviances.
	Deviance float64

	Replicates []float64

	Fit nmf.Result
}

// SweepResult is the outcome of a deviance sweep over candidate Ks.
type SweepResult struct {
	Scores []KScore
	BestK  int
}

// DevianceSweep fits the factorization once per candidate K on the
// full data, then scores each K by resampling sample columns with
// replacement. Per replicate the signatures are held from the full fit
// and only the proportions are re-estimated before computing the
// deviance. onReplicate, if non-nil, is called once per finished
// replicate (used for metrics).
func DevianceSweep(y *mat.Dense, s settings.CellmixSettings, onReplicate func(k int)) (*SweepResult, error) {
	if s.KMin < 1 || s.KMax < s.KMin {
		return nil, fmt.Errorf("invalid candidate range [%d, %d]", s.KMin, s.KMax)
	}
	_, sampleCount := y.Dims()
	if s.KMax > sampleCount {
		return nil, fmt.Errorf("kMax %d exceeds sample count %d", s.KMax, sampleCount)
	}

	cfg := nmf.Config{
		Tolerance: s.Tolerance,
		MaxIter:   s.MaxIter,
		MaxInner:  s.MaxInner,
		Seed:      s.Seed,
	}

	ret := &SweepResult{}
	for k := s.KMin; k <= s.KMax; k++ {
		log.Printf("deviance sweep: fitting k=%d\n", k)
		_, mu, fit, err := nmf.Factorize(y, k, cfg)
		if err != nil {
			return nil, err
		}
		if !fit.Converged {
			log.Printf("factorization for k=%d stopped at the iteration cap (rss %f)\n", k, fit.RSS)
		}

		replicates := bootstrapDeviances(y, mu, k, s, onReplicate)
		score := KScore{
			K:          k,
			Deviance:   trimmedMean(replicates, s.TrimFraction),
			Replicates: replicates,
			Fit:        fit,
		}
		log.Printf("deviance sweep: k=%d trimmed deviance %f\n", k, score.Deviance)
		ret.Scores = append(ret.Scores, score)
	}

	best := ret.Scores[0]
	for _, score := range ret.Scores[1:] {
		if score.Deviance < best.Deviance {
			best = score
		}
	}
	ret.BestK = best.K
	return ret, nil
}

// bootstrapDeviances distributes the replicates over a bounded worker
// pool. Each replicate draws from its own seeded source so results do
// not depend on scheduling.
func bootstrapDeviances(y, mu *mat.Dense, k int, s settings.CellmixSettings, onReplicate func(k int)) []float64 {
	replicates := make([]float64, s.BootstrapReplicates)

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int, s.BootstrapReplicates)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				rng := rand.New(rand.NewSource(s.Seed + int64(k)*10007 + int64(r)))
				resampled := resampleColumns(y, rng)
				omega := nmf.EstimateProportions(resampled, mu, s.MaxInner)
				replicates[r] = deviance(resampled, mu, omega)
				if onReplicate != nil {
					onReplicate(k)
				}
			}
		}()
	}
	for r := 0; r < s.BootstrapReplicates; r++ {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
	return replicates
}

// resampleColumns draws sample columns with replacement.
func resampleColumns(y *mat.Dense, rng *rand.Rand) *mat.Dense {
	rowCount, columnCount := y.Dims()
	ret := mat.NewDense(rowCount, columnCount, nil)
	for j := 0; j < columnCount; j++ {
		src := rng.Intn(columnCount)
		for i := 0; i < rowCount; i++ {
			ret.Set(i, j, y.At(i, src))
		}
	}
	return ret
}

// deviance is the Gaussian profile deviance of y under the
// reconstruction: sum over probes of n*log(rss/n).
func deviance(y, mu, omega *mat.Dense) float64 {
	var recon mat.Dense
	recon.Mul(mu, omega.T())
	recon.Sub(y, &recon)

	rowCount, columnCount := recon.Dims()
	n := float64(columnCount)
	dev := 0.0
	for i := 0; i < rowCount; i++ {
		rss := 0.0
		for _, v := range recon.RawRowView(i) {
			rss += v * v
		}
		dev += n * math.Log(math.Max(rss, 1e-12)/n)
	}
	return dev
}

func trimmedMean(values []float64, trim float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	cut := int(trim * float64(len(sorted)))
	if 2*cut >= len(sorted) {
		return stat.Mean(sorted, nil)
	}
	return stat.Mean(sorted[cut:len(sorted)-cut], nil)
}
