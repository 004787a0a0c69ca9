// Package pipeline sequences the credential-chained location report.
//
// A run fetches the secret descriptor, retrieves the password it points to,
// exchanges the password for a bearer token and submits the coordinates
// captured when the run started. Stages run one at a time and the first
// failure ends the run. At most one run is in flight per Orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/UnknownOlympus/beacon/internal/metrics"
	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/precondition"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/UnknownOlympus/beacon/internal/pipeline"

	// DefaultStageTimeout bounds every stage when no timeout is configured.
	DefaultStageTimeout = 15 * time.Second

	journalTimeout = 5 * time.Second
)

// DescriptorFetcher is stage 1.
type DescriptorFetcher interface {
	Fetch(ctx context.Context) (models.SecretDescriptor, error)
}

// PasswordRetriever is stage 2.
type PasswordRetriever interface {
	Retrieve(ctx context.Context, address string) (models.Credential, error)
}

// TokenExchanger is stage 3.
type TokenExchanger interface {
	Exchange(ctx context.Context, cred models.Credential) (models.BearerToken, error)
}

// LocationReporter is stage 4.
type LocationReporter interface {
	Report(ctx context.Context, token models.BearerToken, coords models.Coordinates) error
}

// LocationSource yields the most recent position sample.
type LocationSource interface {
	Latest() (models.Coordinates, bool)
}

// Journal persists finished runs.
type Journal interface {
	SaveRun(ctx context.Context, record models.RunRecord) error
}

// Stages bundles the four stage handlers.
type Stages struct {
	Descriptor DescriptorFetcher
	Password   PasswordRetriever
	Token      TokenExchanger
	Location   LocationReporter
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Stages       Stages               // Stage handlers, all required
	Gate         precondition.Checker // Device checks, required
	Source       LocationSource       // Position feed, required
	Notifier     Notifier             // Presentation of signals, optional
	Dispatcher   Dispatcher           // Presentation execution context, inline when nil
	Journal      Journal              // Run journal, optional
	Metrics      *metrics.Metrics     // Metrics, a private registry when nil
	StageTimeout time.Duration        // Per-stage timeout, DefaultStageTimeout when zero
	Logger       *slog.Logger         // Logger, slog.Default when nil
}

// Orchestrator runs the reporting chain.
type Orchestrator struct {
	stages       Stages
	gate         precondition.Checker
	source       LocationSource
	notifier     Notifier
	dispatcher   Dispatcher
	journal      Journal
	metrics      *metrics.Metrics
	stageTimeout time.Duration
	log          *slog.Logger
	tracer       trace.Tracer

	state  atomic.Int32
	closed atomic.Bool
}

// Run is the handle of an accepted run.
type Run struct {
	ID          string
	Coordinates models.Coordinates
	// Outcome receives the run's Outcome exactly once.
	Outcome <-chan Outcome
}

// runContext is the per-run data. Nothing in it outlives the run.
type runContext struct {
	id        string
	coords    models.Coordinates
	startedAt time.Time

	descriptor models.SecretDescriptor
	credential models.Credential
	token      models.BearerToken
}

// step is one stage of the chain bound to a run.
type step struct {
	state State
	do    func(ctx context.Context, r *runContext) error
}

// New creates an Orchestrator in the Idle state.
func New(cfg Config) *Orchestrator {
	if cfg.Stages.Descriptor == nil || cfg.Stages.Password == nil ||
		cfg.Stages.Token == nil || cfg.Stages.Location == nil {
		panic("pipeline.New: missing stage handler")
	}
	if cfg.Gate == nil || cfg.Source == nil {
		panic("pipeline.New: nil gate or location source")
	}

	if cfg.Dispatcher == nil {
		cfg.Dispatcher = inlineDispatcher{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(Signal) {})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		stages:       cfg.Stages,
		gate:         cfg.Gate,
		source:       cfg.Source,
		notifier:     cfg.Notifier,
		dispatcher:   cfg.Dispatcher,
		journal:      cfg.Journal,
		metrics:      cfg.Metrics,
		stageTimeout: cfg.StageTimeout,
		log:          cfg.Logger,
		tracer:       otel.Tracer(tracerName),
	}
}

// State returns the current position in the state machine.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Start begins a run for the latest known position.
//
// Start fails with ErrRunInProgress unless the orchestrator is Idle, and with
// a *PreconditionError when a device check fails; in the latter case the
// matching signal is presented and no request is issued.
func (o *Orchestrator) Start(ctx context.Context) (*Run, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingPreconditions)) {
		o.log.WarnContext(ctx, "Rejected report request, run in progress", "state", o.State())
		return nil, ErrRunInProgress
	}

	if signal, ok := o.checkPreconditions(); !ok {
		return nil, o.abort(ctx, signal)
	}

	// The position is fixed here so the submitted point matches what the user confirmed.
	coords, ok := o.source.Latest()
	if !ok {
		return nil, o.abort(ctx, SignalLocationUnavailable)
	}

	r := &runContext{
		id:        uuid.NewString(),
		coords:    coords,
		startedAt: time.Now(),
	}

	o.log.InfoContext(ctx, "Report run started", "run_id", r.id, "lat", coords.Latitude, "lon", coords.Longitude)
	o.metrics.ActiveRuns.Inc()

	out := make(chan Outcome, 1)
	go o.execute(ctx, r, out)

	return &Run{ID: r.id, Coordinates: coords, Outcome: out}, nil
}

// Close tears the orchestrator down. Signals of in-flight runs are discarded
// from now on; their network calls are left to finish.
func (o *Orchestrator) Close() {
	o.closed.Store(true)
}

func (o *Orchestrator) checkPreconditions() (Signal, bool) {
	switch {
	case !o.gate.CheckConnectivity():
		return SignalNoConnectivity, false
	case !o.gate.CheckPermissionsGranted():
		return SignalPermissionDenied, false
	case !o.gate.CheckLocationServiceEnabled():
		return SignalLocationDisabled, false
	default:
		return 0, true
	}
}

func (o *Orchestrator) abort(ctx context.Context, signal Signal) error {
	o.state.Store(int32(StateIdle))
	o.log.InfoContext(ctx, "Report not started", "signal", signal)
	o.present(ctx, signal)

	return &PreconditionError{Signal: signal}
}

// steps lists the chain in execution order.
func (o *Orchestrator) steps() []step {
	return []step{
		{StateFetchingDescriptor, func(ctx context.Context, r *runContext) error {
			descriptor, err := o.stages.Descriptor.Fetch(ctx)
			r.descriptor = descriptor
			return err
		}},
		{StateRetrievingPassword, func(ctx context.Context, r *runContext) error {
			cred, err := o.stages.Password.Retrieve(ctx, r.descriptor.Href)
			r.credential = cred
			return err
		}},
		{StateExchangingToken, func(ctx context.Context, r *runContext) error {
			token, err := o.stages.Token.Exchange(ctx, r.credential)
			r.token = token
			return err
		}},
		{StateSubmittingLocation, func(ctx context.Context, r *runContext) error {
			return o.stages.Location.Report(ctx, r.token, r.coords)
		}},
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *runContext, out chan<- Outcome) {
	outcome := Outcome{
		RunID:       r.id,
		Status:      StatusSuccess,
		Coordinates: r.coords,
		StartedAt:   r.startedAt,
	}

	for _, st := range o.steps() {
		o.state.Store(int32(st.state))

		if err := o.runStage(ctx, r, st); err != nil {
			outcome.Status = StatusFailure
			outcome.FailedStage = st.state
			outcome.Err = err
			break
		}
	}
	outcome.FinishedAt = time.Now()

	if outcome.Succeeded() {
		o.state.Store(int32(StateSucceeded))
		o.log.InfoContext(ctx, "Location report submitted", "run_id", r.id)
	} else {
		o.state.Store(int32(StateFailed))
		o.log.ErrorContext(ctx, "Location report failed",
			"run_id", r.id,
			"stage", outcome.FailedStage,
			"reason", Reason(outcome.Err),
			"error", outcome.Err)
	}

	o.metrics.RunsProcessed.WithLabelValues(string(outcome.Status)).Inc()
	o.present(ctx, outcome.Signal())
	o.record(ctx, outcome)

	o.metrics.ActiveRuns.Dec()
	o.state.Store(int32(StateIdle))
	out <- outcome
}

func (o *Orchestrator) runStage(ctx context.Context, r *runContext, st step) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	stageCtx, span := o.tracer.Start(stageCtx, "stage."+st.state.String(),
		trace.WithAttributes(attribute.String("run.id", r.id)))
	defer span.End()

	o.log.DebugContext(ctx, "Stage started", "run_id", r.id, "stage", st.state)

	start := time.Now()
	err := st.do(stageCtx, r)
	o.metrics.StageSeconds.WithLabelValues(st.state.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		reason := Reason(err)
		o.metrics.StageFailures.WithLabelValues(st.state.String(), reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return fmt.Errorf("%s: %w", st.state, err)
	}

	return nil
}

// present hands signal to the notifier on the dispatcher, unless torn down.
func (o *Orchestrator) present(ctx context.Context, signal Signal) {
	o.metrics.Signals.WithLabelValues(signal.String()).Inc()

	if o.closed.Load() {
		o.log.DebugContext(ctx, "Discarded signal after teardown", "signal", signal)
		return
	}

	posted := o.dispatcher.Post(func() {
		if o.closed.Load() {
			return
		}
		o.notifier.Notify(signal)
	})
	if !posted {
		o.log.DebugContext(ctx, "Discarded signal after teardown", "signal", signal)
	}
}

func (o *Orchestrator) record(ctx context.Context, outcome Outcome) {
	if o.journal == nil {
		return
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := o.journal.SaveRun(jctx, outcome.Record()); err != nil {
		o.log.ErrorContext(ctx, "Failed to save report run", "run_id", outcome.RunID, "error", err)
	}
}
