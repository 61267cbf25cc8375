package reporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkerner/cellmix/lib"
)

// A CsvReporter writes omega, mu, the per-K deviances and the scree
// values of a run as csv files under its base directory. Filenames
// carry the run start time so successive runs do not clobber each
// other.
type CsvReporter struct {
	filenameBase string
}

func NewCsvReporter(filenameBase string) *CsvReporter {
	return &CsvReporter{filenameBase: filenameBase}
}

func (c *CsvReporter) AddResult(result *lib.DeconResult) error {
	ts := result.StartedAt.Format("20060102150405")

	if err := c.writeOmega(result, ts); err != nil {
		return err
	}
	if err := c.writeMu(result, ts); err != nil {
		return err
	}
	if result.Sweep != nil {
		if err := c.writeDeviance(result, ts); err != nil {
			return err
		}
	}
	if len(result.Scree) > 0 {
		if err := c.writeScree(result, ts); err != nil {
			return err
		}
	}
	return nil
}

func (c *CsvReporter) writeCsv(filename string, write func(w *csv.Writer) error) error {
	path := filepath.Join(c.filenameBase, filename)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err := write(writer); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func (c *CsvReporter) writeOmega(result *lib.DeconResult, ts string) error {
	return c.writeCsv(fmt.Sprintf("omega_%s.csv", ts), func(w *csv.Writer) error {
		header := []string{"sample"}
		for k := 0; k < result.K; k++ {
			header = append(header, fmt.Sprintf("celltype_%d", k+1))
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for i, id := range result.SampleIDs {
			record := []string{id}
			for k := 0; k < result.K; k++ {
				record = append(record, fmt.Sprintf("%f", result.Omega.At(i, k)))
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *CsvReporter) writeMu(result *lib.DeconResult, ts string) error {
	return c.writeCsv(fmt.Sprintf("mu_%s.csv", ts), func(w *csv.Writer) error {
		header := []string{"probe"}
		for k := 0; k < result.K; k++ {
			header = append(header, fmt.Sprintf("celltype_%d", k+1))
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for i, id := range result.ProbeIDs {
			record := []string{id}
			for k := 0; k < result.K; k++ {
				record = append(record, fmt.Sprintf("%f", result.Mu.At(i, k)))
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *CsvReporter) writeDeviance(result *lib.DeconResult, ts string) error {
	return c.writeCsv(fmt.Sprintf("deviance_%s.csv", ts), func(w *csv.Writer) error {
		if err := w.Write([]string{"k", "deviance"}); err != nil {
			return err
		}
		for _, score := range result.Sweep.Scores {
			record := []string{fmt.Sprintf("%d", score.K), fmt.Sprintf("%f", score.Deviance)}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *CsvReporter) writeScree(result *lib.DeconResult, ts string) error {
	return c.writeCsv(fmt.Sprintf("scree_%s.csv", ts), func(w *csv.Writer) error {
		if err := w.Write([]string{"component", "eigenvalue"}); err != nil {
			return err
		}
		for i, v := range result.Scree {
			record := []string{fmt.Sprintf("%d", i+1), fmt.Sprintf("%f", v)}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *CsvReporter) Flush() error {
	// This reporter does no internal buffering, so Flush is a noop.
	return nil
}
