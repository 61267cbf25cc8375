// Package explorer serves the outputs of deconvolution runs over a
// small REST API, mainly for plotting frontends.
package explorer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/mkerner/cellmix/lib"
	"github.com/mkerner/cellmix/lib/kselect"
)

const RUN_CACHE_SIZE = 10

// Types for the REST API
type runResponse struct {
	Id        int    `json:"id"`
	StartedAt string `json:"startedAt"`
	K         int    `json:"k"`
	Probes    int    `json:"probes"`
	Samples   int    `json:"samples"`
	Converged bool   `json:"converged"`
}

type runListResponse struct {
	Runs []runResponse `json:"runs"`
}

type proportionsResponse struct {
	SampleID    string    `json:"sampleId"`
	Proportions []float64 `json:"proportions"`
}

type proportionsListResponse struct {
	Samples []proportionsResponse `json:"samples"`
}

type signatureResponse struct {
	ProbeID    string    `json:"probeId"`
	Signatures []float64 `json:"signatures"`
}

type signatureListResponse struct {
	Probes []signatureResponse `json:"probes"`
}

type devianceResponse struct {
	K        int     `json:"k"`
	Deviance float64 `json:"deviance"`
}

type devianceListResponse struct {
	BestK  int                `json:"bestK"`
	Scores []devianceResponse `json:"scores"`
}

type screeResponse struct {
	Eigenvalues []float64 `json:"eigenvalues"`
	Elbow       int       `json:"elbow"`
}

// A CellmixExplorer keeps the most recent runs in memory and serves
// them as json.
type CellmixExplorer struct {
	mutex sync.RWMutex
	runs  []*lib.DeconResult
}

func NewCellmixExplorer() *CellmixExplorer {
	return &CellmixExplorer{}
}

// RegisterRoutes attaches the explorer handlers to router. The matrix
// endpoints also answer to /getOmega and /getMu.
func (c *CellmixExplorer) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/getRuns", c.GetRuns).Methods("GET")
	router.HandleFunc("/getProportions", c.GetProportions).Methods("GET")
	router.HandleFunc("/getOmega", c.GetProportions).Methods("GET")
	router.HandleFunc("/getSignatures", c.GetSignatures).Methods("GET")
	router.HandleFunc("/getMu", c.GetSignatures).Methods("GET")
	router.HandleFunc("/getDeviance", c.GetDeviance).Methods("GET")
	router.HandleFunc("/getScree", c.GetScree).Methods("GET")
}

// AddRun makes a finished run available to the handlers. The oldest
// run falls out once more than RUN_CACHE_SIZE are held.
func (c *CellmixExplorer) AddRun(result *lib.DeconResult) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.runs = append(c.runs, result)
	if len(c.runs) > RUN_CACHE_SIZE {
		c.runs = c.runs[len(c.runs)-RUN_CACHE_SIZE:]
	}
}

// getRun resolves the run query parameter, defaulting to the latest run.
func (c *CellmixExplorer) getRun(params url.Values) (*lib.DeconResult, int, error) {
	if len(c.runs) == 0 {
		return nil, -1, fmt.Errorf("no runs available yet")
	}
	runParam := params.Get("run")
	if runParam == "" {
		return c.runs[len(c.runs)-1], len(c.runs) - 1, nil
	}
	id, err := strconv.Atoi(runParam)
	if err != nil {
		return nil, -1, fmt.Errorf("bad run id %s", runParam)
	}
	if id < 0 || id >= len(c.runs) {
		return nil, -1, fmt.Errorf("no run with id %d", id)
	}
	return c.runs[id], id, nil
}

func (c *CellmixExplorer) GetRuns(w http.ResponseWriter, r *http.Request) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	ret := runListResponse{
		Runs: make([]runResponse, 0, len(c.runs)),
	}
	for i, run := range c.runs {
		ret.Runs = append(ret.Runs, runResponse{
			Id:        i,
			StartedAt: run.StartedAt.Format("20060102150405"),
			K:         run.K,
			Probes:    len(run.ProbeIDs),
			Samples:   len(run.SampleIDs),
			Converged: run.Fit.Converged,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ret)
}

func (c *CellmixExplorer) GetProportions(w http.ResponseWriter, r *http.Request) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	run, _, err := c.getRun(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	resp := proportionsListResponse{
		Samples: make([]proportionsResponse, 0, len(run.SampleIDs)),
	}
	for i, id := range run.SampleIDs {
		props := make([]float64, run.K)
		for k := 0; k < run.K; k++ {
			props[k] = run.Omega.At(i, k)
		}
		resp.Samples = append(resp.Samples, proportionsResponse{SampleID: id, Proportions: props})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// GetSignatures returns the mu rows. The probe list can be large, so
// the handler supports offset and limit query parameters.
func (c *CellmixExplorer) GetSignatures(w http.ResponseWriter, r *http.Request) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	params := r.URL.Query()
	run, _, err := c.getRun(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	offset := 0
	if v := params.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			http.Error(w, fmt.Sprintf("bad offset %s", v), http.StatusBadRequest)
			return
		}
	}
	limit := 1000
	if v := params.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			http.Error(w, fmt.Sprintf("bad limit %s", v), http.StatusBadRequest)
			return
		}
	}
	if offset > len(run.ProbeIDs) {
		offset = len(run.ProbeIDs)
	}
	end := offset + limit
	if end > len(run.ProbeIDs) {
		end = len(run.ProbeIDs)
	}
	resp := signatureListResponse{
		Probes: make([]signatureResponse, 0, end-offset),
	}
	for i := offset; i < end; i++ {
		sigs := make([]float64, run.K)
		for k := 0; k < run.K; k++ {
			sigs[k] = run.Mu.At(i, k)
		}
		resp.Probes = append(resp.Probes, signatureResponse{ProbeID: run.ProbeIDs[i], Signatures: sigs})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (c *CellmixExplorer) GetDeviance(w http.ResponseWriter, r *http.Request) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	run, _, err := c.getRun(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if run.Sweep == nil {
		http.Error(w, "run did not use a deviance sweep", http.StatusNotFound)
		return
	}
	resp := devianceListResponse{
		BestK:  run.Sweep.BestK,
		Scores: make([]devianceResponse, 0, len(run.Sweep.Scores)),
	}
	for _, score := range run.Sweep.Scores {
		resp.Scores = append(resp.Scores, devianceResponse{K: score.K, Deviance: score.Deviance})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (c *CellmixExplorer) GetScree(w http.ResponseWriter, r *http.Request) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	run, _, err := c.getRun(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	ret := screeResponse{Eigenvalues: run.Scree}
	if len(run.Scree) > 0 {
		ret.Elbow = kselect.Elbow(run.Scree)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ret)
}
