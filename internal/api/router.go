// Package api exposes the control surface of the beacon service: the location
// feed, the report confirmation, the pipeline state, the presented signals and
// the run journal, next to the health and metrics endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/UnknownOlympus/beacon/internal/location"
	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiPrefix = "/api/v1"

// Reporter starts report runs.
type Reporter interface {
	Start(ctx context.Context) (*pipeline.Run, error)
	State() pipeline.State
}

// LocationFeed receives position samples and the permission decision.
type LocationFeed interface {
	SetPermission(granted bool)
	Update(sample location.Sample) error
	Latest() (models.Coordinates, bool)
}

// PreconditionReader evaluates the device checks.
type PreconditionReader interface {
	State() models.PreconditionState
}

// RunLister reads the run journal.
type RunLister interface {
	ListRecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
}

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the dependencies of the router.
type Config struct {
	RunContext    context.Context     // Parent context of report runs, outlives requests
	Reporter      Reporter            // Pipeline orchestrator
	Feed          LocationFeed        // Location tracker
	Preconditions PreconditionReader  // Precondition gate
	Signals       *SignalLog          // Presented signals
	Runs          RunLister           // Run journal, nil when disabled
	Health        Pinger              // Health dependency, nil when none
	Gatherer      prometheus.Gatherer // Metrics registry
	Logger        *slog.Logger
}

type handler struct {
	runCtx        context.Context
	reporter      Reporter
	feed          LocationFeed
	preconditions PreconditionReader
	signals       *SignalLog
	runs          RunLister
	health        Pinger
	log           *slog.Logger
}

// NewRouter wires the HTTP handlers with their dependencies.
func NewRouter(cfg Config) http.Handler {
	if cfg.RunContext == nil {
		cfg.RunContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	h := &handler{
		runCtx:        cfg.RunContext,
		reporter:      cfg.Reporter,
		feed:          cfg.Feed,
		preconditions: cfg.Preconditions,
		signals:       cfg.Signals,
		runs:          cfg.Runs,
		health:        cfg.Health,
		log:           cfg.Logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Routes stay on the root router so a method mismatch answers 405, not 404.
	r.HandleFunc(apiPrefix+"/location", h.updateLocation).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/location/permission", h.setPermission).Methods(http.MethodPut)
	r.HandleFunc(apiPrefix+"/report", h.startReport).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/state", h.state).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/signals", h.listSignals).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/runs", h.listRuns).Methods(http.MethodGet)

	r.Use(requestIDMiddleware, loggingMiddleware(cfg.Logger))

	return r
}
