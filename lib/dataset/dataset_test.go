package dataset

import (
	"math"
	"strings"
	"testing"
)

const betaCsv = `probe,s1,s2,s3
cg0001,0.1,0.2,0.3
cg0002,0.9,0.8,0.7
cg0003,0.5,0.5,0.5
`

func TestReadBetaMatrix(t *testing.T) {
	bm, err := readBetaMatrix(strings.NewReader(betaCsv), "test")
	if err != nil {
		t.Fatalf("failed to read matrix: %v", err)
	}
	r, c := bm.Dims()
	if r != 3 || c != 3 {
		t.Fatalf("expected a 3x3 matrix but got %dx%d", r, c)
	}
	if bm.ProbeIDs[0] != "cg0001" || bm.ProbeIDs[2] != "cg0003" {
		t.Errorf("unexpected probe ids %v", bm.ProbeIDs)
	}
	if bm.SampleIDs[1] != "s2" {
		t.Errorf("unexpected sample ids %v", bm.SampleIDs)
	}
	if math.Abs(bm.Data().At(1, 2)-0.7) > 1e-12 {
		t.Errorf("expected entry (1,2) to be 0.7 but got %f", bm.Data().At(1, 2))
	}
}

func TestReadBetaMatrixRejectsRaggedRows(t *testing.T) {
	input := "probe,s1,s2\ncg0001,0.1\n"
	if _, err := readBetaMatrix(strings.NewReader(input), "test"); err == nil {
		t.Errorf("expected an error for a ragged row")
	}
}

func TestReadBetaMatrixRejectsOutOfRangeValues(t *testing.T) {
	input := "probe,s1\ncg0001,1.5\n"
	if _, err := readBetaMatrix(strings.NewReader(input), "test"); err == nil {
		t.Errorf("expected an error for an intensity above 1")
	}
	input = "probe,s1\ncg0001,-0.2\n"
	if _, err := readBetaMatrix(strings.NewReader(input), "test"); err == nil {
		t.Errorf("expected an error for a negative intensity")
	}
}

func TestReadBetaMatrixRejectsDuplicateSamples(t *testing.T) {
	input := "probe,s1,s1\ncg0001,0.1,0.2\n"
	if _, err := readBetaMatrix(strings.NewReader(input), "test"); err == nil {
		t.Errorf("expected an error for duplicate sample ids")
	}
}

func TestReadBetaMatrixRejectsEmptyBody(t *testing.T) {
	input := "probe,s1,s2\n"
	if _, err := readBetaMatrix(strings.NewReader(input), "test"); err == nil {
		t.Errorf("expected an error for a matrix without probe rows")
	}
}

func TestSubsetProbes(t *testing.T) {
	bm, err := readBetaMatrix(strings.NewReader(betaCsv), "test")
	if err != nil {
		t.Fatalf("failed to read matrix: %v", err)
	}
	subset, err := bm.SubsetProbes([]int{2, 0})
	if err != nil {
		t.Fatalf("subset failed: %v", err)
	}
	r, c := subset.Dims()
	if r != 2 || c != 3 {
		t.Fatalf("expected a 2x3 subset but got %dx%d", r, c)
	}
	if subset.ProbeIDs[0] != "cg0003" || subset.ProbeIDs[1] != "cg0001" {
		t.Errorf("subset probe ids are wrong: %v", subset.ProbeIDs)
	}
	if math.Abs(subset.Data().At(0, 0)-0.5) > 1e-12 {
		t.Errorf("expected subset entry (0,0) to be 0.5 but got %f", subset.Data().At(0, 0))
	}
	if math.Abs(subset.Data().At(1, 1)-0.2) > 1e-12 {
		t.Errorf("expected subset entry (1,1) to be 0.2 but got %f", subset.Data().At(1, 1))
	}
}

func TestSubsetProbesChecksRange(t *testing.T) {
	bm, err := readBetaMatrix(strings.NewReader(betaCsv), "test")
	if err != nil {
		t.Fatalf("failed to read matrix: %v", err)
	}
	if _, err := bm.SubsetProbes([]int{0, 5}); err == nil {
		t.Errorf("expected an error for an out-of-range probe index")
	}
}
