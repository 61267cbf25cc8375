package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/mkerner/cellmix/explorer"
	"github.com/mkerner/cellmix/lib/settings"
	"github.com/mkerner/cellmix/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	serviceAddress  string
	explorerAddress string
	metricsAddress  string
}

func main() {
	var metricsAddr string
	var serviceAddr string
	var explorerAddr string
	var kMin int
	var kMax int
	var fixedK int
	var kSelection string
	var bootstrapReplicates int
	var trimPercent int
	var probeSelection string
	var probeCount int
	var alphaPercent int
	var maxIter int
	var workers int
	var seed int64
	var finalizeFull bool
	var writeNpy bool
	var resultsDirectory string

	flag.StringVar(&metricsAddr, "metrics-address", ":9303", "The address the metrics endpoint binds to.")
	flag.StringVar(&serviceAddr, "listen-address", ":9301", "The address that the run submission endpoint binds to.")
	flag.StringVar(&explorerAddr, "explorer-address", ":9305", "The address that the explorer endpoint binds to.")

	flag.IntVar(&kMin, "kMin", 2, "smallest candidate number of cell types")
	flag.IntVar(&kMax, "kMax", 10, "largest candidate number of cell types")
	flag.IntVar(&fixedK, "k", 0, "fixed number of cell types, used with -kSelection=fixed")
	flag.StringVar(&kSelection, "kSelection", "deviance", "How to choose k. Possible values: deviance, scree, fixed")
	flag.IntVar(&bootstrapReplicates, "bootstraps", 50, "number of bootstrap replicates per candidate k")
	flag.IntVar(&trimPercent, "trim", 25, "percent to trim from each end when aggregating replicate deviances")
	flag.StringVar(&probeSelection, "probeSelection", "variance", "How to subset probes. Possible values: variance, confounder, none")
	flag.IntVar(&probeCount, "probeCount", 10000, "number of most variable probes to keep")
	flag.IntVar(&alphaPercent, "alpha", 5, "significance level for the confounder filter, in percent")
	flag.IntVar(&maxIter, "maxIter", 100, "cap on factorization iterations")
	flag.IntVar(&workers, "workers", 4, "number of goroutines for the bootstrap sweep")
	flag.Int64Var(&seed, "seed", 1, "random seed for resampling and initialization")
	flag.BoolVar(&finalizeFull, "finalizeFull", false, "whether to re-finalize signatures against the full probe set")
	flag.BoolVar(&writeNpy, "npy", false, "whether to also write omega/mu as numpy .npy files")
	flag.StringVar(&resultsDirectory, "resultsDirectory", "/tmp/cellmixResults", "The directory with the result files.")

	flag.Parse()

	cfg := &config{
		serviceAddress:  serviceAddr,
		metricsAddress:  metricsAddr,
		explorerAddress: explorerAddr,
	}

	cellmixConfig := settings.CellmixSettings{
		KMin:                kMin,
		KMax:                kMax,
		K:                   fixedK,
		KSelection:          kSelection,
		BootstrapReplicates: bootstrapReplicates,
		TrimFraction:        float64(trimPercent) / 100.0,
		ProbeSelection:      probeSelection,
		ProbeCount:          probeCount,
		Alpha:               float64(alphaPercent) / 100.0,
		MaxIter:             maxIter,
		Workers:             workers,
		Seed:                seed,
		FinalizeFull:        finalizeFull,
		WriteNpy:            writeNpy,
		ResultsDirectory:    resultsDirectory,
	}
	cellmixConfig = cellmixConfig.ComputeSettingsFields()

	expl := explorer.NewCellmixExplorer()
	explorerRouter := mux.NewRouter().StrictSlash(true)
	expl.RegisterRoutes(explorerRouter)

	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(cfg.metricsAddress, nil)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	processor := service.NewDeconProcessor(cellmixConfig, expl)
	serviceRouter := mux.NewRouter().StrictSlash(true)
	serviceRouter.HandleFunc("/api/v1/run", processor.SubmitRun).Methods("POST")
	serviceServer := &http.Server{
		Addr:    cfg.serviceAddress,
		Handler: serviceRouter,
	}
	go func() {
		log.Printf("deconvolution service listening on port %s\n", cfg.serviceAddress)
		if err := serviceServer.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				processor.Shutdown()
				log.Fatal(err)
			}
		}
	}()

	explorerServer := &http.Server{
		Addr:    cfg.explorerAddress,
		Handler: explorerRouter,
	}
	go func() {
		log.Printf("explorer service listening on port %s\n", cfg.explorerAddress)
		if err := explorerServer.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				log.Fatal(err)
			}
		}
	}()

	<-stop
	log.Println("deconvolution service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// This is where the reporters get a chance to flush to disk.
	if err := processor.Shutdown(); err != nil {
		log.Printf("failed to flush reporters: %v\n", err)
	}
	if err := serviceServer.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
	if err := explorerServer.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
