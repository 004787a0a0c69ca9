package stages_test

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/UnknownOlympus/beacon/internal/transport"
)

// mockHTTPClient is a mock implementation of HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newSender(doFunc func(req *http.Request) (*http.Response, error)) *transport.Client {
	return transport.NewWithClient(&mockHTTPClient{doFunc: doFunc}, nil, slog.Default())
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}
