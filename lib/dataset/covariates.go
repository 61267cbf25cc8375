package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Covariates is a table of per-sample numeric attributes (age, sex
// coded as 0/1, batch, ...) keyed by sample id.
type Covariates struct {
	Names  []string
	values map[string][]float64
}

// ReadCovariates reads a csv file whose header row holds the covariate
// names and whose first column holds the sample ids.
func ReadCovariates(filename string) (*Covariates, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readCovariates(file, filename)
}

func readCovariates(r io.Reader, name string) (*Covariates, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %v", name, err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%s: need at least one covariate column", name)
	}
	cov := &Covariates{
		Names:  header[1:],
		values: make(map[string][]float64),
	}
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
		if len(record) != len(header) {
			return nil, fmt.Errorf("inconsistent number of values in line %d of %s: expected %d but got %d",
				lineCount, name, len(header), len(record))
		}
		sampleID := record[0]
		if _, ok := cov.values[sampleID]; ok {
			return nil, fmt.Errorf("%s: duplicate sample id %s", name, sampleID)
		}
		row := make([]float64, len(record)-1)
		for i, field := range record[1:] {
			row[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("on line %d of %s, failed to parse %s into a float: %v",
					lineCount, name, field, err)
			}
		}
		cov.values[sampleID] = row
	}
	return cov, nil
}

// Align returns the covariate rows ordered to match sampleIDs, as a
// samples-by-covariates matrix. Every sample id must be present.
func (c *Covariates) Align(sampleIDs []string) (*mat.Dense, error) {
	data := make([]float64, 0, len(sampleIDs)*len(c.Names))
	for _, id := range sampleIDs {
		row, ok := c.values[id]
		if !ok {
			return nil, fmt.Errorf("no covariates for sample %s", id)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(sampleIDs), len(c.Names), data), nil
}
