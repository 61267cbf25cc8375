// Package dataset holds the input tables for a deconvolution run:
// the methylation intensity matrix and the per-sample covariates.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Methylation beta values live in [0,1]; allow a little numeric slack
// for values that went through float formatting.
const betaTolerance = 1e-6

// A BetaMatrix is a dense probes-by-samples matrix of methylation
// intensities together with the probe and sample identifiers.
// It is immutable after loading.
type BetaMatrix struct {
	data      *mat.Dense
	ProbeIDs  []string
	SampleIDs []string
}

func NewBetaMatrix(data *mat.Dense, probeIDs []string, sampleIDs []string) (*BetaMatrix, error) {
	r, c := data.Dims()
	if len(probeIDs) != r {
		return nil, fmt.Errorf("have %d probe ids for %d matrix rows", len(probeIDs), r)
	}
	if len(sampleIDs) != c {
		return nil, fmt.Errorf("have %d sample ids for %d matrix columns", len(sampleIDs), c)
	}
	return &BetaMatrix{data: data, ProbeIDs: probeIDs, SampleIDs: sampleIDs}, nil
}

// ReadBetaMatrix reads a csv file whose header row holds the sample ids
// and whose first column holds the probe ids.
func ReadBetaMatrix(filename string) (*BetaMatrix, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readBetaMatrix(file, filename)
}

func readBetaMatrix(r io.Reader, name string) (*BetaMatrix, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %v", name, err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%s: need at least one sample column", name)
	}
	sampleIDs := header[1:]
	seen := make(map[string]bool, len(sampleIDs))
	for _, id := range sampleIDs {
		if seen[id] {
			return nil, fmt.Errorf("%s: duplicate sample id %s", name, id)
		}
		seen[id] = true
	}

	columnCount := len(sampleIDs)
	var probeIDs []string
	data := make([]float64, 0)
	lineCount := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d of %s: %v", lineCount+1, name, err)
		}
		lineCount++
		if len(record) != columnCount+1 {
			return nil, fmt.Errorf("inconsistent number of values in line %d of %s: expected %d but got %d",
				lineCount, name, columnCount+1, len(record))
		}
		probeIDs = append(probeIDs, record[0])
		for _, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("on line %d of %s, failed to parse %s into a float: %v",
					lineCount, name, field, err)
			}
			if v < -betaTolerance || v > 1.0+betaTolerance {
				return nil, fmt.Errorf("on line %d of %s, intensity %f is outside [0,1]",
					lineCount, name, v)
			}
			data = append(data, v)
		}
	}
	if len(probeIDs) == 0 {
		return nil, fmt.Errorf("%s holds no probe rows", name)
	}
	return &BetaMatrix{
		data:      mat.NewDense(len(probeIDs), columnCount, data),
		ProbeIDs:  probeIDs,
		SampleIDs: sampleIDs,
	}, nil
}

// Data exposes the underlying matrix. Callers must not modify it.
func (b *BetaMatrix) Data() *mat.Dense { return b.data }

func (b *BetaMatrix) Dims() (int, int) { return b.data.Dims() }

// Row returns the intensities of one probe across all samples.
func (b *BetaMatrix) Row(i int) []float64 { return b.data.RawRowView(i) }

// SubsetProbes returns a new BetaMatrix holding only the given probe
// rows, in the given order. The sample columns are shared unchanged.
func (b *BetaMatrix) SubsetProbes(indices []int) (*BetaMatrix, error) {
	rowCount, columnCount := b.data.Dims()
	data := make([]float64, 0, len(indices)*columnCount)
	probeIDs := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= rowCount {
			return nil, fmt.Errorf("probe index %d out of range (%d probes)", idx, rowCount)
		}
		data = append(data, b.data.RawRowView(idx)...)
		probeIDs = append(probeIDs, b.ProbeIDs[idx])
	}
	return &BetaMatrix{
		data:      mat.NewDense(len(indices), columnCount, data),
		ProbeIDs:  probeIDs,
		SampleIDs: b.SampleIDs,
	}, nil
}
