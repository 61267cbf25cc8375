package nmf

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// mixture builds a clean two-cell-type dataset: 6 probes, 5 samples.
func mixture() (*mat.Dense, *mat.Dense, *mat.Dense) {
	muTrue := mat.NewDense(6, 2, []float64{
		0.9, 0.1,
		0.8, 0.2,
		0.1, 0.9,
		0.2, 0.8,
		0.5, 0.4,
		0.3, 0.6,
	})
	omegaTrue := mat.NewDense(5, 2, []float64{
		1.0, 0.0,
		0.0, 1.0,
		0.5, 0.5,
		0.7, 0.3,
		0.2, 0.8,
	})
	var y mat.Dense
	y.Mul(muTrue, omegaTrue.T())
	return &y, muTrue, omegaTrue
}

func sumSquares(m *mat.Dense) float64 {
	ret := 0.0
	for _, v := range m.RawMatrix().Data {
		ret += v * v
	}
	return ret
}

func TestProjectRowClipsNegatives(t *testing.T) {
	row := []float64{0.3, -0.2, 0.4}
	projectRow(row)
	expected := []float64{0.3, 0.0, 0.4}
	for i, v := range expected {
		if math.Abs(row[i]-v) > 1e-12 {
			t.Errorf("expected row[%d] to be %f but got %f", i, v, row[i])
		}
	}
}

func TestProjectRowKeepsFeasibleRow(t *testing.T) {
	row := []float64{0.2, 0.3}
	projectRow(row)
	if math.Abs(row[0]-0.2) > 1e-12 || math.Abs(row[1]-0.3) > 1e-12 {
		t.Errorf("expected a feasible row to stay unchanged but got %v", row)
	}
}

func TestProjectRowScalesOntoSimplex(t *testing.T) {
	row := []float64{0.9, 0.9, 0.4}
	projectRow(row)
	sum := 0.0
	for i, v := range row {
		if v < 0 {
			t.Errorf("expected row[%d] to be nonnegative but got %f", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("expected projected row to sum to 1 but got %f", sum)
	}
	// The two large entries are symmetric, so they must stay equal.
	if math.Abs(row[0]-row[1]) > 1e-9 {
		t.Errorf("expected symmetric entries to stay equal but got %f and %f", row[0], row[1])
	}
}

func TestInitializeStaysInUnitInterval(t *testing.T) {
	y, _, _ := mixture()
	mu := Initialize(y, 2, 1)
	r, c := mu.Dims()
	if r != 6 || c != 2 {
		t.Errorf("expected a 6x2 initialization but got %dx%d", r, c)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := mu.At(i, j)
			if v < 0 || v > 1 {
				t.Errorf("initial mu[%d,%d] = %f is outside [0,1]", i, j, v)
			}
		}
	}
}

func TestFactorizeInvariants(t *testing.T) {
	y, _, _ := mixture()
	cfg := Config{Tolerance: 1e-8, MaxIter: 200, MaxInner: 20, Seed: 1}
	omega, mu, res, err := Factorize(y, 2, cfg)
	if err != nil {
		t.Fatalf("factorization failed: %v", err)
	}
	or, oc := omega.Dims()
	if or != 5 || oc != 2 {
		t.Errorf("expected omega to be 5x2 but got %dx%d", or, oc)
	}
	mr, mc := mu.Dims()
	if mr != 6 || mc != 2 {
		t.Errorf("expected mu to be 6x2 but got %dx%d", mr, mc)
	}
	for i := 0; i < or; i++ {
		rowSum := 0.0
		for j := 0; j < oc; j++ {
			v := omega.At(i, j)
			if v < 0 {
				t.Errorf("omega[%d,%d] = %f is negative", i, j, v)
			}
			rowSum += v
		}
		if rowSum > 1.0+1e-9 {
			t.Errorf("omega row %d sums to %f > 1", i, rowSum)
		}
	}
	for i := 0; i < mr; i++ {
		for j := 0; j < mc; j++ {
			v := mu.At(i, j)
			if v < 0 || v > 1 {
				t.Errorf("mu[%d,%d] = %f is outside [0,1]", i, j, v)
			}
		}
	}
	if res.Iterations < 1 {
		t.Errorf("expected at least one iteration, got %d", res.Iterations)
	}
	// The data are an exact two-type mixture, so the reconstruction
	// error must be far below the data's total energy.
	if res.RSS > 0.1*sumSquares(y) {
		t.Errorf("reconstruction error %f is too large for an exact mixture", res.RSS)
	}
}

func TestFactorizeRejectsBadK(t *testing.T) {
	y, _, _ := mixture()
	cfg := Config{Tolerance: 1e-6, MaxIter: 10, MaxInner: 5, Seed: 1}
	if _, _, _, err := Factorize(y, 0, cfg); err == nil {
		t.Errorf("expected an error for k=0")
	}
	if _, _, _, err := Factorize(y, 6, cfg); err == nil {
		t.Errorf("expected an error for k greater than the sample count")
	}
}

func TestFactorizeIsDeterministic(t *testing.T) {
	y, _, _ := mixture()
	cfg := Config{Tolerance: 1e-8, MaxIter: 50, MaxInner: 10, Seed: 7}
	omega1, _, _, err := Factorize(y, 2, cfg)
	if err != nil {
		t.Fatalf("factorization failed: %v", err)
	}
	omega2, _, _, err := Factorize(y, 2, cfg)
	if err != nil {
		t.Fatalf("factorization failed: %v", err)
	}
	if !mat.EqualApprox(omega1, omega2, 1e-12) {
		t.Errorf("two runs with the same seed disagree")
	}
}

func TestEstimateProportions(t *testing.T) {
	y, muTrue, _ := mixture()
	omega := EstimateProportions(y, muTrue, 50)
	r, c := omega.Dims()
	if r != 5 || c != 2 {
		t.Fatalf("expected omega to be 5x2 but got %dx%d", r, c)
	}
	// Sample 0 is purely the first cell type.
	if omega.At(0, 0) < 0.8 {
		t.Errorf("expected sample 0 to load on cell type 1 but got %f", omega.At(0, 0))
	}
	if omega.At(0, 1) > 0.2 {
		t.Errorf("expected sample 0 to avoid cell type 2 but got %f", omega.At(0, 1))
	}
}

func TestFinalizeSignaturesKeepsOmega(t *testing.T) {
	y, _, omegaTrue := mixture()
	before := mat.DenseCopyOf(omegaTrue)

	// A "final" matrix with two extra probe rows.
	extra := mat.NewDense(8, 5, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 5; j++ {
			extra.Set(i, j, y.At(i, j))
		}
	}
	for j := 0; j < 5; j++ {
		extra.Set(6, j, 0.25)
		extra.Set(7, j, 0.75)
	}

	mu, err := FinalizeSignatures(extra, omegaTrue, 50)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	r, c := mu.Dims()
	if r != 8 || c != 2 {
		t.Errorf("expected finalized mu to be 8x2 but got %dx%d", r, c)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := mu.At(i, j)
			if v < 0 || v > 1 {
				t.Errorf("finalized mu[%d,%d] = %f is outside [0,1]", i, j, v)
			}
		}
	}
	if !mat.Equal(before, omegaTrue) {
		t.Errorf("finalize modified omega")
	}
}

func TestFinalizeSignaturesChecksDims(t *testing.T) {
	_, _, omegaTrue := mixture()
	wrong := mat.NewDense(4, 3, nil)
	if _, err := FinalizeSignatures(wrong, omegaTrue, 10); err == nil {
		t.Errorf("expected an error for mismatched sample counts")
	}
}
