package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/masterdoc/internal/assembly"
	"github.com/local/masterdoc/internal/ledger"
	"github.com/local/masterdoc/internal/metrics"
)

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", o.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/range", o.handleRange)
	mux.HandleFunc("/remove", o.handleRemove)
	mux.HandleFunc("/compact", o.handleCompact)
	mux.HandleFunc("/run", o.handleRun)
	mux.HandleFunc("/enqueue", o.handleEnqueue)
}

type rangeResp struct {
	SourceRef string `json:"source_ref"`
	Master    string `json:"master"`
	FilePath  string `json:"file_path"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
	Pages     int    `json:"pages"`
}

func toRangeResp(rng ledger.Range) rangeResp {
	return rangeResp{
		SourceRef: rng.SourceRef,
		Master:    rng.Master.Name,
		FilePath:  rng.Master.FilePath,
		StartPage: rng.Start,
		EndPage:   rng.End,
		Pages:     rng.Pages(),
	}
}

type removeReq struct {
	SourceRef        string `json:"source_ref"`
	LeavePlaceholder *bool  `json:"leave_placeholder"`
	Status           string `json:"status"`
	Compact          bool   `json:"compact"`
}

type enqueueReq struct {
	Category   string `json:"category"`
	SourceRef  string `json:"source_ref"`
	ContentRef string `json:"content_ref"`
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if o.deps.Checker == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	sum := o.deps.Checker.Summary(r.Context())
	code := http.StatusOK
	if !sum.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

// handleRange takes the ref as a query parameter; path segments would be
// cleaned by the mux and lose the "//" of URLs.
func (o *Orchestrator) handleRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ref := r.URL.Query().Get("source_ref")
	if ref == "" {
		http.Error(w, "missing source_ref", http.StatusBadRequest)
		return
	}
	rng, err := o.Range(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRangeResp(rng))
}

func (o *Orchestrator) handleRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req removeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SourceRef == "" {
		http.Error(w, "missing source_ref", http.StatusBadRequest)
		return
	}
	opts := assembly.DefaultRemoveOptions()
	if req.LeavePlaceholder != nil {
		opts.LeavePlaceholder = *req.LeavePlaceholder
	}
	if req.Status != "" {
		opts.Status = ledger.RecordStatus(req.Status)
	}
	opts.Compact = req.Compact

	rng, err := o.Remove(r.Context(), req.SourceRef, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRangeResp(rng))
}

func (o *Orchestrator) handleCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	master := r.URL.Query().Get("master")
	if master == "" {
		http.Error(w, "missing master", http.StatusBadRequest)
		return
	}
	shifts, err := o.Compact(r.Context(), master)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"master": master, "shifted": len(shifts)})
}

func (o *Orchestrator) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rep, err := o.Run(r.Context())
	if err != nil {
		log.Error().Err(err).Str("run_id", rep.RunID).Msg("assembly run aborted")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (o *Orchestrator) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	added, err := o.Enqueue(r.Context(), req.Category, req.SourceRef, req.ContentRef)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code := http.StatusOK
	if added {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"queued": added})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrMalformedContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidRange):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", ledger.Kind(err)).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": ledger.Kind(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
