package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mozilla-services/eliot/pkg/metrics"
	"github.com/mozilla-services/eliot/pkg/symbolicator"
)

// Handler adapts HTTP requests to symbolicator.Symbolicator calls.
type Handler struct {
	sym     *symbolicator.Symbolicator
	metrics metrics.Sink
	logger  *logrus.Logger
	maxJobs int
}

// Config configures a Handler.
type Config struct {
	MaxJobs int // v5 jobs-per-request cap; defaults to 10.
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxJobs <= 0 {
		out.MaxJobs = maxJobsDefault
	}
	return out
}

func New(cfg Config, sym *symbolicator.Symbolicator, sink metrics.Sink, logger *logrus.Logger) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{sym: sym, metrics: sink, logger: logger, maxJobs: cfg.MaxJobs}
}

// Register mounts the symbolication endpoints on router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/symbolicate/v4", h.handleV4).Methods(http.MethodPost)
	router.HandleFunc("/symbolicate/v5", h.handleV5).Methods(http.MethodPost)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_json", "payload is not valid JSON")
		return false
	}
	return true
}

func (h *Handler) symbolicateAll(ctx context.Context, jobs []wireJob) ([]symbolicator.JobResult, error) {
	return h.sym.Symbolicate(ctx, toSymbolicatorJobs(jobs), "v5")
}
