package reporter

import (
	"github.com/mkerner/cellmix/lib"
)

// A Reporter persists the outputs of a deconvolution run.
type Reporter interface {
	// AddResult records one run.
	AddResult(result *lib.DeconResult) error

	// Flush should be called when no more results are coming.
	Flush() error
}
