package pipeline_test

import (
	"context"
	"sync"

	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/pipeline"
	"github.com/stretchr/testify/mock"
)

type mockDescriptorFetcher struct{ mock.Mock }

func (m *mockDescriptorFetcher) Fetch(ctx context.Context) (models.SecretDescriptor, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.SecretDescriptor), args.Error(1)
}

type mockPasswordRetriever struct{ mock.Mock }

func (m *mockPasswordRetriever) Retrieve(ctx context.Context, address string) (models.Credential, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(models.Credential), args.Error(1)
}

type mockTokenExchanger struct{ mock.Mock }

func (m *mockTokenExchanger) Exchange(ctx context.Context, cred models.Credential) (models.BearerToken, error) {
	args := m.Called(ctx, cred)
	return args.Get(0).(models.BearerToken), args.Error(1)
}

type mockLocationReporter struct{ mock.Mock }

func (m *mockLocationReporter) Report(
	ctx context.Context,
	token models.BearerToken,
	coords models.Coordinates,
) error {
	args := m.Called(ctx, token, coords)
	return args.Error(0)
}

type mockJournal struct{ mock.Mock }

func (m *mockJournal) SaveRun(ctx context.Context, record models.RunRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

type fakeGate struct {
	online, located, permitted bool
}

func (g fakeGate) CheckConnectivity() bool           { return g.online }
func (g fakeGate) CheckLocationServiceEnabled() bool { return g.located }
func (g fakeGate) CheckPermissionsGranted() bool     { return g.permitted }

var openGate = fakeGate{online: true, located: true, permitted: true}

// recordingNotifier collects presented signals.
type recordingNotifier struct {
	mu      sync.Mutex
	signals []pipeline.Signal
}

func (n *recordingNotifier) Notify(signal pipeline.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, signal)
}

func (n *recordingNotifier) Signals() []pipeline.Signal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pipeline.Signal(nil), n.signals...)
}
