package stages

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/transport"
)

// TokenHeader carries the bearer token on the location submission.
const TokenHeader = "x-access-tokens"

// LocationReporter submits a coordinate pair to the location API.
type LocationReporter struct {
	sender Sender
	url    string
	log    *slog.Logger
}

// NewLocationReporter creates a stage-4 handler. An empty locationURL selects LocationURL.
func NewLocationReporter(sender Sender, locationURL string, log *slog.Logger) *LocationReporter {
	if locationURL == "" {
		locationURL = LocationURL
	}

	return &LocationReporter{sender: sender, url: locationURL, log: log}
}

// Report posts coords with an empty body, authorized by token.
func (lr *LocationReporter) Report(ctx context.Context, token models.BearerToken, coords models.Coordinates) error {
	header := http.Header{}
	header.Set(TokenHeader, token.Token)

	body, err := lr.sender.Send(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    lr.url,
		Query: url.Values{
			"lat": {formatCoordinate(coords.Latitude)},
			"lon": {formatCoordinate(coords.Longitude)},
		},
		Header: header,
		Body:   []byte{},
	})
	if err != nil {
		return fmt.Errorf("failed to submit location: %w", err)
	}

	lr.log.DebugContext(ctx, "Location submitted",
		"lat", coords.Latitude,
		"lon", coords.Longitude,
		"ack", string(body))

	return nil
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
