package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/transport"
)

// ErrEmptyHref is returned when the storage API answers without a download address.
var ErrEmptyHref = errors.New("descriptor has empty href")

// DescriptorFetcher requests the download descriptor of the application secret
// from the cloud storage API.
type DescriptorFetcher struct {
	sender     Sender       // transport used for the request
	baseURL    string       // storage API download endpoint
	oauthToken string       // service-level OAuth token
	secretPath string       // resource path of the secret on the storage
	log        *slog.Logger // logger for logging operations
}

// NewDescriptorFetcher creates a stage-1 handler. An empty baseURL selects DiskDownloadURL.
func NewDescriptorFetcher(
	sender Sender,
	baseURL string,
	oauthToken string,
	secretPath string,
	log *slog.Logger,
) *DescriptorFetcher {
	if baseURL == "" {
		baseURL = DiskDownloadURL
	}

	return &DescriptorFetcher{
		sender:     sender,
		baseURL:    baseURL,
		oauthToken: oauthToken,
		secretPath: secretPath,
		log:        log,
	}
}

// Fetch requests the descriptor and decodes it. The returned Href is the
// address stage 2 retrieves the credential from.
func (df *DescriptorFetcher) Fetch(ctx context.Context) (models.SecretDescriptor, error) {
	df.log.DebugContext(ctx, "Fetching secret descriptor", "path", df.secretPath)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	header.Set("Authorization", "OAuth "+df.oauthToken)

	body, err := df.sender.Send(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    df.baseURL,
		Query:  url.Values{"path": {df.secretPath}},
		Header: header,
	})
	if err != nil {
		return models.SecretDescriptor{}, fmt.Errorf("failed to fetch secret descriptor: %w", err)
	}

	var descriptor models.SecretDescriptor
	if err = json.Unmarshal(body, &descriptor); err != nil {
		return models.SecretDescriptor{}, fmt.Errorf(
			"%w: failed to decode secret descriptor: %w", transport.ErrProtocol, err,
		)
	}

	if descriptor.Href == "" {
		return models.SecretDescriptor{}, fmt.Errorf("%w: %w", transport.ErrProtocol, ErrEmptyHref)
	}

	df.log.DebugContext(ctx, "Secret descriptor received",
		"method", descriptor.Method,
		"templated", descriptor.Templated)

	return descriptor, nil
}
