package reporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kshedden/gonpy"
	"github.com/mkerner/cellmix/lib"
)

// A NpyReporter writes omega and mu as numpy .npy files so the
// composition and scree plots can be drawn with numpy/matplotlib
// directly. The row labels go into companion csv files because the
// npy format carries no identifiers.
type NpyReporter struct {
	filenameBase string
}

func NewNpyReporter(filenameBase string) *NpyReporter {
	return &NpyReporter{filenameBase: filenameBase}
}

func (n *NpyReporter) AddResult(result *lib.DeconResult) error {
	ts := result.StartedAt.Format("20060102150405")

	if err := n.writeMatrix(fmt.Sprintf("omega_%s.npy", ts), result.Omega.RawMatrix().Data,
		len(result.SampleIDs), result.K); err != nil {
		return err
	}
	if err := n.writeIds(fmt.Sprintf("omega_rows_%s.csv", ts), result.SampleIDs); err != nil {
		return err
	}
	if err := n.writeMatrix(fmt.Sprintf("mu_%s.npy", ts), result.Mu.RawMatrix().Data,
		len(result.ProbeIDs), result.K); err != nil {
		return err
	}
	return n.writeIds(fmt.Sprintf("mu_rows_%s.csv", ts), result.ProbeIDs)
}

func (n *NpyReporter) writeMatrix(filename string, data []float64, rows, cols int) error {
	if len(data) != rows*cols {
		return fmt.Errorf("matrix for %s has %d values, expected %d x %d", filename, len(data), rows, cols)
	}
	writer, err := gonpy.NewFileWriter(filepath.Join(n.filenameBase, filename))
	if err != nil {
		return err
	}
	writer.Shape = []int{rows, cols}
	return writer.WriteFloat64(data)
}

func (n *NpyReporter) writeIds(filename string, ids []string) error {
	file, err := os.OpenFile(filepath.Join(n.filenameBase, filename), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	for i, id := range ids {
		if err := writer.Write([]string{fmt.Sprintf("%d", i), id}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (n *NpyReporter) Flush() error {
	return nil
}
