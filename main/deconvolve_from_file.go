package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"

	"github.com/mkerner/cellmix/lib"
	"github.com/mkerner/cellmix/lib/dataset"
	"github.com/mkerner/cellmix/lib/reporter"
	"github.com/mkerner/cellmix/lib/settings"
)

func main() {
	betaFile := flag.String("betaFile", "", "Name of the csv file with the intensity matrix")
	covariatesFile := flag.String("covariatesFile", "", "Name of the csv file with per-sample covariates")
	kMin := flag.Int("kMin", 2, "smallest candidate number of cell types")
	kMax := flag.Int("kMax", 10, "largest candidate number of cell types")
	fixedK := flag.Int("k", 0, "fixed number of cell types, used with -kSelection=fixed")
	kSelection := flag.String("kSelection", "deviance", "how to choose k: deviance, scree or fixed")
	bootstraps := flag.Int("bootstraps", 50, "number of bootstrap replicates per candidate k")
	trimPercent := flag.Int("trim", 25, "percent to trim from each end when aggregating replicate deviances")
	maxIter := flag.Int("maxIter", 100, "cap on factorization iterations")
	probeSelection := flag.String("probeSelection", "variance", "how to subset probes: variance, confounder or none")
	probeCount := flag.Int("probeCount", 10000, "number of most variable probes to keep")
	alphaPercent := flag.Int("alpha", 5, "significance level for the confounder filter, in percent")
	workers := flag.Int("workers", 4, "number of goroutines for the bootstrap sweep")
	seed := flag.Int64("seed", 1, "random seed for resampling and initialization")
	finalizeFull := flag.Bool("finalizeFull", false, "whether to re-finalize signatures against the full probe set")
	writeNpy := flag.Bool("npy", false, "whether to also write omega/mu as numpy .npy files")
	resultsDirectory := flag.String("resultsDirectory", ".", "the directory to write result files to")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile here")
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			panic(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *betaFile == "" {
		log.Fatal("need a -betaFile argument")
	}

	bm, err := dataset.ReadBetaMatrix(*betaFile)
	if err != nil {
		log.Fatalf("failed to read intensity matrix: %v", err)
	}
	var cov *dataset.Covariates
	if *covariatesFile != "" {
		cov, err = dataset.ReadCovariates(*covariatesFile)
		if err != nil {
			log.Fatalf("failed to read covariates: %v", err)
		}
	}

	cellmixConfig := settings.CellmixSettings{
		KMin:                *kMin,
		KMax:                *kMax,
		K:                   *fixedK,
		KSelection:          *kSelection,
		BootstrapReplicates: *bootstraps,
		TrimFraction:        float64(*trimPercent) / 100.0,
		MaxIter:             *maxIter,
		ProbeSelection:      *probeSelection,
		ProbeCount:          *probeCount,
		Alpha:               float64(*alphaPercent) / 100.0,
		Workers:             *workers,
		Seed:                *seed,
		FinalizeFull:        *finalizeFull,
		WriteNpy:            *writeNpy,
		ResultsDirectory:    *resultsDirectory,
	}

	deconvolver := lib.NewDeconvolver(cellmixConfig)
	result, err := deconvolver.Run(bm, cov)
	if err != nil {
		log.Fatalf("deconvolution failed: %v", err)
	}

	reporters := []reporter.Reporter{
		reporter.NewCsvReporter(*resultsDirectory),
	}
	if *writeNpy {
		reporters = append(reporters, reporter.NewNpyReporter(*resultsDirectory))
	}
	for _, rep := range reporters {
		if err := rep.AddResult(result); err != nil {
			log.Fatalf("failed to record results: %v", err)
		}
		if err := rep.Flush(); err != nil {
			log.Fatalf("failed to flush results: %v", err)
		}
	}

	fmt.Printf("estimated %d cell types for %d samples over %d probes\n",
		result.K, len(result.SampleIDs), len(result.ProbeIDs))
	if result.Sweep != nil {
		for _, score := range result.Sweep.Scores {
			fmt.Printf("k=%d deviance %f\n", score.K, score.Deviance)
		}
	}
	for i, id := range result.SampleIDs {
		fmt.Printf("%s:", id)
		for k := 0; k < result.K; k++ {
			fmt.Printf(" %.4f", result.Omega.At(i, k))
		}
		fmt.Printf("\n")
	}
}
