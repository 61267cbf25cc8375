// Package service wires datasets, the deconvolution pipeline, the
// reporters and the explorer into a long-running process.
package service

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/mkerner/cellmix/explorer"
	"github.com/mkerner/cellmix/lib"
	"github.com/mkerner/cellmix/lib/dataset"
	"github.com/mkerner/cellmix/lib/reporter"
	"github.com/mkerner/cellmix/lib/settings"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	completedRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellmix_completed_runs_total",
			Help: "Total number of completed deconvolution runs.",
		},
	)
	failedRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellmix_failed_runs_total",
			Help: "Total number of failed deconvolution runs.",
		},
	)
	bootstrapReplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellmix_bootstrap_replicates_total",
			Help: "Total number of finished bootstrap replicates.",
		},
	)
	numberOfProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cellmix_number_of_probes",
			Help: "number of probes in the most recent run",
		},
	)
	numberOfSamples = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cellmix_number_of_samples",
			Help: "number of samples in the most recent run",
		},
	)
	chosenCellTypes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cellmix_chosen_cell_types",
			Help: "the number of cell types k the most recent run used",
		},
	)
	runDurationHist = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:                            "cellmix_run_duration_milliseconds_histogram",
			Help:                            "Duration of deconvolution runs.",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  10,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
	)
	runDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cellmix_run_duration_milliseconds",
			Help: "Duration of the most recent deconvolution run.",
		},
	)
)

func init() {
	prometheus.MustRegister(completedRuns)
	prometheus.MustRegister(failedRuns)
	prometheus.MustRegister(bootstrapReplicates)
	prometheus.MustRegister(numberOfProbes)
	prometheus.MustRegister(numberOfSamples)
	prometheus.MustRegister(chosenCellTypes)
	prometheus.MustRegister(runDurationHist)
	prometheus.MustRegister(runDuration)
}

// A RunRequest names the input files for one deconvolution run.
// The covariates file may be empty unless the settings ask for the
// confounder probe filter.
type RunRequest struct {
	BetaFile       string `json:"betaFile"`
	CovariatesFile string `json:"covariatesFile,omitempty"`
}

type DeconProcessor struct {
	settings  settings.CellmixSettings
	runQueue  chan *RunRequest
	results   chan *lib.DeconResult
	explorer  *explorer.CellmixExplorer
	reporters []reporter.Reporter
}

// SubmitRun accepts a json RunRequest and enqueues it.
func (p *DeconProcessor) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.BetaFile == "" {
		http.Error(w, "betaFile is required", http.StatusBadRequest)
		return
	}
	select {
	case p.runQueue <- &req:
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "run queue is full", http.StatusServiceUnavailable)
	}
}

func (p *DeconProcessor) Shutdown() error {
	for _, rep := range p.reporters {
		if err := rep.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (p *DeconProcessor) runOne(req *RunRequest) (*lib.DeconResult, error) {
	bm, err := dataset.ReadBetaMatrix(req.BetaFile)
	if err != nil {
		return nil, err
	}
	var cov *dataset.Covariates
	if req.CovariatesFile != "" {
		cov, err = dataset.ReadCovariates(req.CovariatesFile)
		if err != nil {
			return nil, err
		}
	}
	deconvolver := lib.NewDeconvolver(p.settings)
	deconvolver.OnBootstrapReplicate = func(k int) {
		bootstrapReplicates.Inc()
	}
	return deconvolver.Run(bm, cov)
}

func NewDeconProcessor(cfg settings.CellmixSettings, expl *explorer.CellmixExplorer) *DeconProcessor {

	// The run queue is how run requests reach the pipeline goroutine.
	runQueue := make(chan *RunRequest, 10)

	// The results channel is where finished runs come out.
	results := make(chan *lib.DeconResult, 1)

	reporters := []reporter.Reporter{
		reporter.NewCsvReporter(cfg.ResultsDirectory),
	}
	if cfg.WriteNpy {
		reporters = append(reporters, reporter.NewNpyReporter(cfg.ResultsDirectory))
	}

	processor := &DeconProcessor{
		settings:  cfg,
		runQueue:  runQueue,
		results:   results,
		explorer:  expl,
		reporters: reporters,
	}

	go func() {
		log.Println("watching run queue")
		for req := range runQueue {
			log.Printf("starting run for %s\n", req.BetaFile)
			requestStart := time.Now()
			result, err := processor.runOne(req)
			if err != nil {
				failedRuns.Inc()
				log.Printf("run for %s failed: %v\n", req.BetaFile, err)
				continue
			}
			elapsed := time.Since(requestStart)
			runDurationHist.Observe(float64(elapsed.Milliseconds()))
			runDuration.Set(float64(elapsed.Milliseconds()))
			log.Printf("run for %s processed in %d milliseconds\n", req.BetaFile, elapsed.Milliseconds())
			results <- result
		}
	}()

	// All writing to the reporters happens from this goroutine.
	go func() {
		log.Println("waiting for deconvolution results")
		for result := range results {
			for _, rep := range processor.reporters {
				if err := rep.AddResult(result); err != nil {
					log.Printf("failed to record results: %v\n", err)
				}
			}
			if processor.explorer != nil {
				processor.explorer.AddRun(result)
			}
			completedRuns.Inc()
			numberOfProbes.Set(float64(len(result.ProbeIDs)))
			numberOfSamples.Set(float64(len(result.SampleIDs)))
			chosenCellTypes.Set(float64(result.K))
			log.Printf("finished recording run started at %s\n",
				result.StartedAt.Format("20060102150405"))
		}
	}()

	return processor
}
