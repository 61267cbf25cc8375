// Package settings contains all the parameters for the cellmix pipeline.
package settings

const (
	KSELECT_DEVIANCE = "deviance"
	KSELECT_SCREE    = "scree"
	KSELECT_FIXED    = "fixed"
)

const (
	PROBES_VARIANCE   = "variance"
	PROBES_CONFOUNDER = "confounder"
	PROBES_NONE       = "none" // for tests
)

type CellmixSettings struct {
	// Smallest and largest candidate number of cell types.
	KMin int
	KMax int

	// The number of cell types to use when KSelection is "fixed".
	K int

	// How to choose K. Possible values: deviance, scree, fixed.
	KSelection string

	// Number of bootstrap replicates per candidate K for the
	// deviance sweep.
	BootstrapReplicates int

	// Fraction to trim from each end when aggregating replicate
	// deviances. 0.25 reproduces the usual trimmed-mean convention.
	TrimFraction float64

	// How to subset probes before factorization.
	// Possible values: variance, confounder, none.
	ProbeSelection string

	// For variance selection, how many probes to keep.
	ProbeCount int

	// Significance level for the confounder filter. Probes whose
	// regression on the covariates has a p-value below Alpha are dropped.
	Alpha float64

	// Relative improvement in reconstruction error below which the
	// factorization is considered converged.
	Tolerance float64

	// Cap on outer factorization iterations.
	MaxIter int

	// Cap on projected-gradient steps per block update.
	MaxInner int

	// Number of goroutines used for the bootstrap sweep.
	Workers int

	// Seed for column resampling and initialization jitter.
	// Runs with the same seed and inputs are reproducible.
	Seed int64

	// Whether to re-finalize the signature matrix against the full
	// probe set after fitting on the selected subset.
	FinalizeFull bool

	// The directory the reporters write result files to.
	ResultsDirectory string

	// Whether to also write omega/mu as numpy .npy files.
	WriteNpy bool
}

func (s CellmixSettings) ComputeSettingsFields() CellmixSettings {
	if s.KMin == 0 {
		s.KMin = 2
	}
	if s.KMax == 0 {
		s.KMax = 10
	}
	if s.KSelection == "" {
		s.KSelection = KSELECT_DEVIANCE
	}
	if s.ProbeSelection == "" {
		s.ProbeSelection = PROBES_VARIANCE
	}
	if s.BootstrapReplicates == 0 {
		s.BootstrapReplicates = 50
	}
	if s.TrimFraction == 0 {
		s.TrimFraction = 0.25
	}
	if s.ProbeCount == 0 {
		s.ProbeCount = 10000
	}
	if s.Alpha == 0 {
		s.Alpha = 0.05
	}
	if s.Tolerance == 0 {
		s.Tolerance = 1e-6
	}
	if s.MaxIter == 0 {
		s.MaxIter = 100
	}
	if s.MaxInner == 0 {
		s.MaxInner = 20
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.Seed == 0 {
		s.Seed = 1
	}
	return s
}
