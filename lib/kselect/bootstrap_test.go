package kselect

import (
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/mkerner/cellmix/lib/settings"
	"gonum.org/v1/gonum/mat"
)

func sweepFixture() *mat.Dense {
	// A clean two-cell-type mixture: 6 probes, 8 samples.
	mu := mat.NewDense(6, 2, []float64{
		0.9, 0.1,
		0.8, 0.2,
		0.1, 0.9,
		0.2, 0.8,
		0.5, 0.4,
		0.3, 0.6,
	})
	omega := mat.NewDense(8, 2, []float64{
		1.0, 0.0,
		0.0, 1.0,
		0.5, 0.5,
		0.7, 0.3,
		0.2, 0.8,
		0.9, 0.1,
		0.4, 0.6,
		0.6, 0.4,
	})
	var y mat.Dense
	y.Mul(mu, omega.T())
	return &y
}

func TestTrimmedMean(t *testing.T) {
	values := []float64{9, 0, 1, 8, 2, 7, 3, 6, 4, 5}
	got := trimmedMean(values, 0.25)
	if math.Abs(got-4.5) > 1e-9 {
		t.Errorf("expected trimmed mean 4.5 but got %f", got)
	}
}

func TestTrimmedMeanSmallSample(t *testing.T) {
	values := []float64{1, 2}
	got := trimmedMean(values, 0.5)
	if math.Abs(got-1.5) > 1e-9 {
		t.Errorf("expected the full mean for an over-trimmed sample but got %f", got)
	}
}

func TestResampleColumns(t *testing.T) {
	y := mat.NewDense(2, 3, []float64{
		0.1, 0.2, 0.3,
		0.4, 0.5, 0.6,
	})
	rng := rand.New(rand.NewSource(3))
	resampled := resampleColumns(y, rng)
	r, c := resampled.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("expected a 2x3 resample but got %dx%d", r, c)
	}
	// Every resampled column must be a copy of some original column.
	for j := 0; j < c; j++ {
		matched := false
		for src := 0; src < 3; src++ {
			if resampled.At(0, j) == y.At(0, src) && resampled.At(1, j) == y.At(1, src) {
				matched = true
				break
			}
		}
		if !matched {
			t.Errorf("resampled column %d matches no original column", j)
		}
	}
}

func TestDevianceSweep(t *testing.T) {
	y := sweepFixture()
	s := settings.CellmixSettings{
		KMin:                1,
		KMax:                3,
		BootstrapReplicates: 8,
		TrimFraction:        0.25,
		Tolerance:           1e-8,
		MaxIter:             100,
		MaxInner:            20,
		Workers:             2,
		Seed:                1,
	}

	var replicateCalls int64
	sweep, err := DevianceSweep(y, s, func(k int) { atomic.AddInt64(&replicateCalls, 1) })
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(sweep.Scores) != 3 {
		t.Fatalf("expected 3 scores but got %d", len(sweep.Scores))
	}
	for i, score := range sweep.Scores {
		if score.K != i+1 {
			t.Errorf("expected score %d to be for k=%d but got %d", i, i+1, score.K)
		}
		if len(score.Replicates) != 8 {
			t.Errorf("expected 8 replicates for k=%d but got %d", score.K, len(score.Replicates))
		}
	}
	if sweep.BestK < 1 || sweep.BestK > 3 {
		t.Errorf("best k %d is outside the candidate range", sweep.BestK)
	}
	// The data are a two-type mixture, so k=2 must beat k=1.
	if sweep.Scores[0].Deviance <= sweep.Scores[1].Deviance {
		t.Errorf("expected k=2 (deviance %f) to score better than k=1 (deviance %f)",
			sweep.Scores[1].Deviance, sweep.Scores[0].Deviance)
	}
	if replicateCalls != 3*8 {
		t.Errorf("expected 24 replicate callbacks but got %d", replicateCalls)
	}
}

func TestDevianceSweepIsDeterministic(t *testing.T) {
	y := sweepFixture()
	s := settings.CellmixSettings{
		KMin:                2,
		KMax:                3,
		BootstrapReplicates: 6,
		TrimFraction:        0.25,
		Tolerance:           1e-8,
		MaxIter:             50,
		MaxInner:            10,
		Workers:             3,
		Seed:                5,
	}
	first, err := DevianceSweep(y, s, nil)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	second, err := DevianceSweep(y, s, nil)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if first.BestK != second.BestK {
		t.Errorf("two seeded sweeps disagree on k: %d vs %d", first.BestK, second.BestK)
	}
	for i := range first.Scores {
		if math.Abs(first.Scores[i].Deviance-second.Scores[i].Deviance) > 1e-9 {
			t.Errorf("two seeded sweeps disagree on the deviance for k=%d", first.Scores[i].K)
		}
	}
}

func TestDevianceSweepRejectsBadRange(t *testing.T) {
	y := sweepFixture()
	s := settings.CellmixSettings{KMin: 3, KMax: 2, BootstrapReplicates: 2, Workers: 1, MaxIter: 5, MaxInner: 5, Tolerance: 1e-4, Seed: 1}
	if _, err := DevianceSweep(y, s, nil); err == nil {
		t.Errorf("expected an error for an inverted candidate range")
	}
	s = settings.CellmixSettings{KMin: 2, KMax: 100, BootstrapReplicates: 2, Workers: 1, MaxIter: 5, MaxInner: 5, Tolerance: 1e-4, Seed: 1}
	if _, err := DevianceSweep(y, s, nil); err == nil {
		t.Errorf("expected an error when kMax exceeds the sample count")
	}
}
