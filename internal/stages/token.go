package stages

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/UnknownOlympus/beacon/internal/models"
	"github.com/UnknownOlympus/beacon/internal/transport"
)

// ErrEmptyToken is returned when the token endpoint answers without a token.
var ErrEmptyToken = errors.New("token response has empty token")

// TokenExchanger trades a credential for a bearer token using Basic authentication.
type TokenExchanger struct {
	sender   Sender
	url      string
	username string
	log      *slog.Logger
}

// NewTokenExchanger creates a stage-3 handler. Empty tokenURL and username
// select TokenURL and DefaultUsername.
func NewTokenExchanger(sender Sender, tokenURL, username string, log *slog.Logger) *TokenExchanger {
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	if username == "" {
		username = DefaultUsername
	}

	return &TokenExchanger{sender: sender, url: tokenURL, username: username, log: log}
}

// Exchange requests a bearer token for cred.
func (te *TokenExchanger) Exchange(ctx context.Context, cred models.Credential) (models.BearerToken, error) {
	te.log.DebugContext(ctx, "Exchanging credential for token", "username", te.username)

	header := http.Header{}
	header.Set("Authorization", basicAuth(te.username, cred.Secret()))

	body, err := te.sender.Send(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    te.url,
		Header: header,
	})
	if err != nil {
		return models.BearerToken{}, fmt.Errorf("failed to exchange token: %w", err)
	}

	var token models.BearerToken
	if err = json.Unmarshal(body, &token); err != nil {
		return models.BearerToken{}, fmt.Errorf("%w: failed to decode token response: %w", transport.ErrProtocol, err)
	}

	if token.Token == "" {
		return models.BearerToken{}, fmt.Errorf("%w: %w", transport.ErrProtocol, ErrEmptyToken)
	}

	return token, nil
}

// basicAuth builds the value of a Basic Authorization header.
func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
