package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/transport"
)

// ErrEmptyCredential is returned when the descriptor address yields a blank body.
var ErrEmptyCredential = errors.New("retrieved credential is empty")

// PasswordRetriever downloads the raw credential from a descriptor address.
type PasswordRetriever struct {
	sender Sender
	log    *slog.Logger
}

// NewPasswordRetriever creates a stage-2 handler.
func NewPasswordRetriever(sender Sender, log *slog.Logger) *PasswordRetriever {
	return &PasswordRetriever{sender: sender, log: log}
}

// Retrieve issues a plain GET to address and returns the trimmed body as a credential.
// The body is never logged.
func (pr *PasswordRetriever) Retrieve(ctx context.Context, address string) (models.Credential, error) {
	pr.log.DebugContext(ctx, "Retrieving credential")

	body, err := pr.sender.Send(ctx, transport.Request{Method: http.MethodGet, URL: address})
	if err != nil {
		return models.Credential{}, fmt.Errorf("failed to retrieve credential: %w", err)
	}

	cred := models.NewCredential(strings.TrimSpace(string(body)))
	if cred.IsEmpty() {
		return models.Credential{}, fmt.Errorf("%w: %w", transport.ErrProtocol, ErrEmptyCredential)
	}

	return cred, nil
}
