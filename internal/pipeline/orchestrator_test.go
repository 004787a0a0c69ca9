package pipeline_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/UnknownOlympus/beacon/internal/location"
	"github.com/UnknownOlympus/beacon/internal/mainloop"
	"github.com/UnknownOlympus/beacon/internal/metrics"
	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/pipeline"
	"github.com/UnknownOlympus/beacon/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var moscow = models.Coordinates{Latitude: 55.75, Longitude: 37.61}

type fixture struct {
	descriptor *mockDescriptorFetcher
	password   *mockPasswordRetriever
	token      *mockTokenExchanger
	reporter   *mockLocationReporter
	tracker    *location.Tracker
	notifier   *recordingNotifier
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tracker := location.NewTracker(time.Minute, slog.Default())
	tracker.SetPermission(true)
	require.NoError(t, tracker.Update(location.Sample{Coordinates: moscow, Provider: location.ProviderGPS}))

	return &fixture{
		descriptor: &mockDescriptorFetcher{},
		password:   &mockPasswordRetriever{},
		token:      &mockTokenExchanger{},
		reporter:   &mockLocationReporter{},
		tracker:    tracker,
		notifier:   &recordingNotifier{},
		metrics:    metrics.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) config(gate fakeGate) pipeline.Config {
	return pipeline.Config{
		Stages: pipeline.Stages{
			Descriptor: f.descriptor,
			Password:   f.password,
			Token:      f.token,
			Location:   f.reporter,
		},
		Gate:     gate,
		Source:   f.tracker,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Logger:   slog.Default(),
	}
}

func (f *fixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.descriptor.AssertExpectations(t)
	f.password.AssertExpectations(t)
	f.token.AssertExpectations(t)
	f.reporter.AssertExpectations(t)
}

func awaitOutcome(t *testing.T, run *pipeline.Run) pipeline.Outcome {
	t.Helper()
	require.NotNil(t, run)

	select {
	case outcome := <-run.Outcome:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline run did not finish")
		return pipeline.Outcome{}
	}
}

func TestOrchestrator_Success(t *testing.T) {
	fx := newFixture(t)
	cred := models.NewCredential("p@ss")
	token := models.BearerToken{Token: "tok123"}

	fx.descriptor.On("Fetch", mock.Anything).
		Return(models.SecretDescriptor{Href: "X", Method: "GET"}, nil).Once()
	fx.password.On("Retrieve", mock.Anything, "X").Return(cred, nil).Once()
	fx.token.On("Exchange", mock.Anything, cred).Return(token, nil).Once()
	fx.reporter.On("Report", mock.Anything, token, moscow).Return(nil).Once()

	orch := pipeline.New(fx.config(openGate))
	assert.Equal(t, pipeline.StateIdle, orch.State())

	run, err := orch.Start(t.Context())
	require.NoError(t, err)

	outcome := awaitOutcome(t, run)

	assert.True(t, outcome.Succeeded())
	assert.Equal(t, pipeline.StatusSuccess, outcome.Status)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, moscow, outcome.Coordinates)
	assert.NotEmpty(t, outcome.RunID)
	assert.Equal(t, run.ID, outcome.RunID)
	assert.Equal(t, moscow, run.Coordinates)
	assert.False(t, outcome.FinishedAt.Before(outcome.StartedAt))
	assert.Equal(t, pipeline.StateIdle, orch.State())
	assert.Equal(t, []pipeline.Signal{pipeline.SignalReportSucceeded}, fx.notifier.Signals())
	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.RunsProcessed.WithLabelValues("success")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(fx.metrics.ActiveRuns), 0)
	fx.assertExpectations(t)
}

func TestOrchestrator_StageFailureSkipsSubmission(t *testing.T) {
	cred := models.NewCredential("p@ss")
	protocolErr := &transport.StatusError{Code: 401, Body: "unauthorized"}

	tests := []struct {
		name   string
		stage  pipeline.State
		reason string
		setup  func(fx *fixture)
	}{
		{
			name:   "stage 1 transport failure",
			stage:  pipeline.StateFetchingDescriptor,
			reason: "transport",
			setup: func(fx *fixture) {
				fx.descriptor.On("Fetch", mock.Anything).
					Return(models.SecretDescriptor{}, transport.ErrTransport).Once()
			},
		},
		{
			name:   "stage 2 protocol failure",
			stage:  pipeline.StateRetrievingPassword,
			reason: "protocol",
			setup: func(fx *fixture) {
				fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{Href: "X"}, nil).Once()
				fx.password.On("Retrieve", mock.Anything, "X").Return(models.Credential{}, protocolErr).Once()
			},
		},
		{
			name:   "stage 3 unauthorized",
			stage:  pipeline.StateExchangingToken,
			reason: "protocol",
			setup: func(fx *fixture) {
				fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{Href: "X"}, nil).Once()
				fx.password.On("Retrieve", mock.Anything, "X").Return(cred, nil).Once()
				fx.token.On("Exchange", mock.Anything, cred).Return(models.BearerToken{}, protocolErr).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			tt.setup(fx)

			orch := pipeline.New(fx.config(openGate))
			run, err := orch.Start(t.Context())
			require.NoError(t, err)

			outcome := awaitOutcome(t, run)

			assert.False(t, outcome.Succeeded())
			assert.Equal(t, tt.stage, outcome.FailedStage)
			assert.Equal(t, tt.reason, pipeline.Reason(outcome.Err))
			assert.Equal(t, pipeline.StateIdle, orch.State())
			assert.Equal(t, []pipeline.Signal{pipeline.SignalReportFailed}, fx.notifier.Signals())
			fx.reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything, mock.Anything)
			assert.InDelta(t, 1, testutil.ToFloat64(
				fx.metrics.StageFailures.WithLabelValues(tt.stage.String(), tt.reason)), 0)
			fx.assertExpectations(t)
		})
	}
}

func TestOrchestrator_SubmissionFailure(t *testing.T) {
	fx := newFixture(t)
	cred := models.NewCredential("p@ss")
	token := models.BearerToken{Token: "tok123"}

	fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{Href: "X"}, nil).Once()
	fx.password.On("Retrieve", mock.Anything, "X").Return(cred, nil).Once()
	fx.token.On("Exchange", mock.Anything, cred).Return(token, nil).Once()
	fx.reporter.On("Report", mock.Anything, token, moscow).Return(transport.ErrTransport).Once()

	orch := pipeline.New(fx.config(openGate))
	run, err := orch.Start(t.Context())
	require.NoError(t, err)

	outcome := awaitOutcome(t, run)

	assert.Equal(t, pipeline.StatusFailure, outcome.Status)
	assert.Equal(t, pipeline.StateSubmittingLocation, outcome.FailedStage)
	assert.Equal(t, []pipeline.Signal{pipeline.SignalReportFailed}, fx.notifier.Signals())
	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.RunsProcessed.WithLabelValues("failure")), 0)
	fx.assertExpectations(t)
}

func TestOrchestrator_CoordinatesFixedAtStart(t *testing.T) {
	fx := newFixture(t)
	cred := models.NewCredential("p@ss")
	token := models.BearerToken{Token: "tok123"}
	newer := models.Coordinates{Latitude: 59.93, Longitude: 30.33}

	fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{Href: "X"}, nil).Once()
	fx.password.On("Retrieve", mock.Anything, "X").
		Run(func(_ mock.Arguments) {
			assert.NoError(t, fx.tracker.Update(location.Sample{Coordinates: newer, Provider: location.ProviderGPS}))
		}).
		Return(cred, nil).Once()
	fx.token.On("Exchange", mock.Anything, cred).Return(token, nil).Once()
	fx.reporter.On("Report", mock.Anything, token, moscow).Return(nil).Once()

	orch := pipeline.New(fx.config(openGate))
	run, err := orch.Start(t.Context())
	require.NoError(t, err)

	outcome := awaitOutcome(t, run)

	require.True(t, outcome.Succeeded())
	assert.Equal(t, moscow, outcome.Coordinates)
	latest, _ := fx.tracker.Latest()
	assert.Equal(t, newer, latest)
	fx.assertExpectations(t)
}

func TestOrchestrator_RejectsConcurrentStart(t *testing.T) {
	fx := newFixture(t)
	release := make(chan struct{})
	entered := make(chan struct{})

	fx.descriptor.On("Fetch", mock.Anything).
		Run(func(_ mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(models.SecretDescriptor{}, transport.ErrTransport).Once()

	orch := pipeline.New(fx.config(openGate))
	run, err := orch.Start(t.Context())
	require.NoError(t, err)

	<-entered
	assert.Equal(t, pipeline.StateFetchingDescriptor, orch.State())

	second, err := orch.Start(t.Context())
	require.ErrorIs(t, err, pipeline.ErrRunInProgress)
	assert.Nil(t, second)

	close(release)
	outcome := awaitOutcome(t, run)
	assert.False(t, outcome.Succeeded())

	// Back in Idle, a new run may start.
	fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{}, transport.ErrTransport).Once()
	third, err := orch.Start(t.Context())
	require.NoError(t, err)
	awaitOutcome(t, third)

	fx.descriptor.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestOrchestrator_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		gate   fakeGate
		noFix  bool
		signal pipeline.Signal
	}{
		{
			name:   "no connectivity",
			gate:   fakeGate{online: false, located: true, permitted: true},
			signal: pipeline.SignalNoConnectivity,
		},
		{
			name:   "connectivity checked first",
			gate:   fakeGate{},
			signal: pipeline.SignalNoConnectivity,
		},
		{
			name:   "permission denied",
			gate:   fakeGate{online: true, located: true},
			signal: pipeline.SignalPermissionDenied,
		},
		{
			name:   "location disabled",
			gate:   fakeGate{online: true, permitted: true},
			signal: pipeline.SignalLocationDisabled,
		},
		{
			name:   "no position fix",
			gate:   openGate,
			noFix:  true,
			signal: pipeline.SignalLocationUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			if tt.noFix {
				fx.tracker = location.NewTracker(time.Minute, slog.Default())
			}

			orch := pipeline.New(fx.config(tt.gate))
			run, err := orch.Start(t.Context())

			require.Error(t, err)
			assert.Nil(t, run)
			require.ErrorIs(t, err, pipeline.ErrPrecondition)

			var precondErr *pipeline.PreconditionError
			require.ErrorAs(t, err, &precondErr)
			assert.Equal(t, tt.signal, precondErr.Signal)
			assert.Equal(t, "precondition", pipeline.Reason(err))

			assert.Equal(t, pipeline.StateIdle, orch.State())
			assert.Equal(t, []pipeline.Signal{tt.signal}, fx.notifier.Signals())
			fx.descriptor.AssertNotCalled(t, "Fetch", mock.Anything)
			fx.reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrchestrator_StageTimeout(t *testing.T) {
	fx := newFixture(t)

	fx.descriptor.On("Fetch", mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(models.SecretDescriptor{}, context.DeadlineExceeded).Once()

	cfg := fx.config(openGate)
	cfg.StageTimeout = 20 * time.Millisecond
	orch := pipeline.New(cfg)

	run, err := orch.Start(t.Context())
	require.NoError(t, err)

	outcome := awaitOutcome(t, run)

	assert.Equal(t, pipeline.StateFetchingDescriptor, outcome.FailedStage)
	assert.Equal(t, "timeout", pipeline.Reason(outcome.Err))
	fx.password.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestOrchestrator_TeardownDiscardsSignals(t *testing.T) {
	t.Run("closed orchestrator", func(t *testing.T) {
		fx := newFixture(t)
		release := make(chan struct{})

		fx.descriptor.On("Fetch", mock.Anything).
			Run(func(_ mock.Arguments) { <-release }).
			Return(models.SecretDescriptor{}, transport.ErrTransport).Once()

		orch := pipeline.New(fx.config(openGate))
		run, err := orch.Start(t.Context())
		require.NoError(t, err)

		orch.Close()
		close(release)

		outcome := awaitOutcome(t, run)
		assert.False(t, outcome.Succeeded())
		assert.Empty(t, fx.notifier.Signals())

		_, err = orch.Start(t.Context())
		require.ErrorIs(t, err, pipeline.ErrClosed)
	})

	t.Run("closed main loop", func(t *testing.T) {
		fx := newFixture(t)
		loop := mainloop.New(1, slog.Default())
		loop.Close()

		fx.descriptor.On("Fetch", mock.Anything).
			Return(models.SecretDescriptor{}, transport.ErrTransport).Once()

		cfg := fx.config(openGate)
		cfg.Dispatcher = loop
		orch := pipeline.New(cfg)

		run, err := orch.Start(t.Context())
		require.NoError(t, err)
		awaitOutcome(t, run)

		assert.Empty(t, fx.notifier.Signals())
	})
}

func TestOrchestrator_SignalsDeliveredOnMainLoop(t *testing.T) {
	fx := newFixture(t)
	loop := mainloop.New(4, slog.Default())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go loop.Run(ctx)

	delivered := make(chan pipeline.Signal, 1)
	fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{}, transport.ErrTransport).Once()

	cfg := fx.config(openGate)
	cfg.Dispatcher = loop
	cfg.Notifier = pipeline.NotifierFunc(func(s pipeline.Signal) { delivered <- s })
	orch := pipeline.New(cfg)

	run, err := orch.Start(t.Context())
	require.NoError(t, err)
	awaitOutcome(t, run)

	select {
	case s := <-delivered:
		assert.Equal(t, pipeline.SignalReportFailed, s)
	case <-time.After(time.Second):
		t.Fatal("signal was not delivered on the main loop")
	}
}

func TestOrchestrator_Journal(t *testing.T) {
	t.Run("records finished run", func(t *testing.T) {
		fx := newFixture(t)
		journal := &mockJournal{}

		fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{}, transport.ErrTransport).Once()
		journal.On("SaveRun", mock.Anything, mock.MatchedBy(func(r models.RunRecord) bool {
			return r.Status == "failure" &&
				r.FailedStage == "fetching_descriptor" &&
				r.Reason == "transport" &&
				r.Latitude == moscow.Latitude &&
				r.Longitude == moscow.Longitude &&
				r.ID != ""
		})).Return(nil).Once()

		cfg := fx.config(openGate)
		cfg.Journal = journal
		orch := pipeline.New(cfg)

		run, err := orch.Start(t.Context())
		require.NoError(t, err)
		outcome := awaitOutcome(t, run)

		assert.False(t, outcome.Succeeded())
		journal.AssertExpectations(t)
	})

	t.Run("journal failure does not change outcome", func(t *testing.T) {
		fx := newFixture(t)
		journal := &mockJournal{}
		cred := models.NewCredential("p@ss")
		token := models.BearerToken{Token: "tok123"}

		fx.descriptor.On("Fetch", mock.Anything).Return(models.SecretDescriptor{Href: "X"}, nil).Once()
		fx.password.On("Retrieve", mock.Anything, "X").Return(cred, nil).Once()
		fx.token.On("Exchange", mock.Anything, cred).Return(token, nil).Once()
		fx.reporter.On("Report", mock.Anything, token, moscow).Return(nil).Once()
		journal.On("SaveRun", mock.Anything, mock.Anything).Return(assert.AnError).Once()

		cfg := fx.config(openGate)
		cfg.Journal = journal
		orch := pipeline.New(cfg)

		run, err := orch.Start(t.Context())
		require.NoError(t, err)
		outcome := awaitOutcome(t, run)

		assert.True(t, outcome.Succeeded())
		assert.Equal(t, []pipeline.Signal{pipeline.SignalReportSucceeded}, fx.notifier.Signals())
		journal.AssertExpectations(t)
	})
}

func TestNew_PanicsOnMissingCollaborators(t *testing.T) {
	assert.PanicsWithValue(t, "pipeline.New: missing stage handler", func() {
		pipeline.New(pipeline.Config{Gate: openGate})
	})

	fx := newFixture(t)
	cfg := fx.config(openGate)
	cfg.Source = nil
	assert.PanicsWithValue(t, "pipeline.New: nil gate or location source", func() {
		pipeline.New(cfg)
	})
}
