// Package lib implements the reference-free deconvolution pipeline:
// probe selection, choice of the number of cell types, and the
// constrained factorization producing mixing proportions and
// methylation signatures.
package lib

import (
	"fmt"
	"log"
	"time"

	"github.com/mkerner/cellmix/lib/dataset"
	"github.com/mkerner/cellmix/lib/kselect"
	"github.com/mkerner/cellmix/lib/nmf"
	"github.com/mkerner/cellmix/lib/probes"
	"github.com/mkerner/cellmix/lib/settings"
	"gonum.org/v1/gonum/mat"
)

// A DeconResult holds everything one deconvolution run produced.
type DeconResult struct {
	StartedAt time.Time
	Settings  settings.CellmixSettings

	// K is the number of cell types the final factorization used.
	K int

	// Omega is samples by K: estimated mixing proportions. Rows are
	// nonnegative but need not sum to exactly one.
	Omega *mat.Dense

	// Mu is probes by K: estimated per-cell-type signatures in [0,1].
	Mu *mat.Dense

	// ProbeIDs index the rows of Mu, SampleIDs the rows of Omega.
	ProbeIDs  []string
	SampleIDs []string

	// Sweep is set when K was chosen by bootstrap deviance.
	Sweep *kselect.SweepResult

	// Scree holds the eigenvalue series of the input.
	Scree []float64

	Fit nmf.Result
}

// A Deconvolver runs the pipeline for one settings object.
type Deconvolver struct {
	Settings settings.CellmixSettings

	// OnBootstrapReplicate, if set, is called once per finished
	// bootstrap replicate with the candidate K it belongs to.
	OnBootstrapReplicate func(k int)
}

func NewDeconvolver(s settings.CellmixSettings) *Deconvolver {
	return &Deconvolver{Settings: s.ComputeSettingsFields()}
}

// Run executes probe selection, K choice and the factorization on bm.
// cov may be nil unless the settings ask for the confounder filter.
func (d *Deconvolver) Run(bm *dataset.BetaMatrix, cov *dataset.Covariates) (*DeconResult, error) {
	started := time.Now().UTC()
	probeCount, sampleCount := bm.Dims()
	log.Printf("starting deconvolution of %d probes x %d samples\n", probeCount, sampleCount)

	subset, err := d.selectProbes(bm, cov)
	if err != nil {
		return nil, err
	}
	subsetProbes, _ := subset.Dims()
	log.Printf("probe selection (%s) kept %d of %d probes\n",
		d.Settings.ProbeSelection, subsetProbes, probeCount)

	scree, err := kselect.Scree(subset.Data())
	if err != nil {
		return nil, err
	}

	result := &DeconResult{
		StartedAt: started,
		Settings:  d.Settings,
		SampleIDs: bm.SampleIDs,
		Scree:     scree,
	}

	k, err := d.chooseK(subset, scree, result)
	if err != nil {
		return nil, err
	}
	result.K = k
	log.Printf("using k=%d cell types (selection: %s)\n", k, d.Settings.KSelection)

	cfg := nmf.Config{
		Tolerance: d.Settings.Tolerance,
		MaxIter:   d.Settings.MaxIter,
		MaxInner:  d.Settings.MaxInner,
		Seed:      d.Settings.Seed,
	}
	omega, mu, fit, err := nmf.Factorize(subset.Data(), k, cfg)
	if err != nil {
		return nil, err
	}
	if !fit.Converged {
		log.Printf("factorization stopped at the iteration cap after %d iterations (rss %f)\n",
			fit.Iterations, fit.RSS)
	} else {
		log.Printf("factorization converged after %d iterations (rss %f)\n", fit.Iterations, fit.RSS)
	}
	result.Omega = omega
	result.Mu = mu
	result.ProbeIDs = subset.ProbeIDs
	result.Fit = fit

	if d.Settings.FinalizeFull && subsetProbes < probeCount {
		log.Printf("finalizing signatures against the full %d probe matrix\n", probeCount)
		finalMu, err := nmf.FinalizeSignatures(bm.Data(), omega, d.Settings.MaxInner)
		if err != nil {
			return nil, err
		}
		result.Mu = finalMu
		result.ProbeIDs = bm.ProbeIDs
	}

	log.Printf("deconvolution done in %v\n", time.Since(started))
	return result, nil
}

func (d *Deconvolver) selectProbes(bm *dataset.BetaMatrix, cov *dataset.Covariates) (*dataset.BetaMatrix, error) {
	switch d.Settings.ProbeSelection {
	case settings.PROBES_VARIANCE:
		return bm.SubsetProbes(probes.TopVariance(bm.Data(), d.Settings.ProbeCount))
	case settings.PROBES_CONFOUNDER:
		if cov == nil {
			return nil, fmt.Errorf("confounder probe selection needs a covariate table")
		}
		design, err := cov.Align(bm.SampleIDs)
		if err != nil {
			return nil, err
		}
		kept, err := probes.DropConfounded(bm.Data(), design, d.Settings.Alpha)
		if err != nil {
			return nil, err
		}
		return bm.SubsetProbes(kept)
	case settings.PROBES_NONE:
		return bm, nil
	default:
		return nil, fmt.Errorf("unsupported probe selection %s", d.Settings.ProbeSelection)
	}
}

func (d *Deconvolver) chooseK(subset *dataset.BetaMatrix, scree []float64, result *DeconResult) (int, error) {
	switch d.Settings.KSelection {
	case settings.KSELECT_FIXED:
		if d.Settings.K < 1 {
			return 0, fmt.Errorf("fixed k selection needs k >= 1, got %d", d.Settings.K)
		}
		return d.Settings.K, nil
	case settings.KSELECT_DEVIANCE:
		sweep, err := kselect.DevianceSweep(subset.Data(), d.Settings, d.OnBootstrapReplicate)
		if err != nil {
			return 0, err
		}
		result.Sweep = sweep
		return sweep.BestK, nil
	case settings.KSELECT_SCREE:
		return kselect.Elbow(scree), nil
	default:
		return 0, fmt.Errorf("unsupported k selection %s", d.Settings.KSelection)
	}
}
