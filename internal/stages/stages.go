// Package stages implements the four network exchanges of the reporting chain:
// descriptor fetch, password retrieval, token exchange and location submission.
// Each stage performs exactly one request and returns a typed result or an
// error wrapping transport.ErrTransport or transport.ErrProtocol.
package stages

import (
	"context"

	"github.com/UnknownOlympus/beacon/internal/transport"
)

// Default endpoints of the remote services.
const (
	DiskDownloadURL = "https://cloud-api.yandex.net/v1/disk/resources/download"
	TokenURL        = "https://infoengineer.ru/secret/generate/token"
	LocationURL     = "https://infoengineer.ru/api/location/add"

	// DefaultUsername is the Basic auth user the token endpoint expects.
	DefaultUsername = "admin"
)

// Sender is the transport contract used by every stage.
type Sender interface {
	Send(ctx context.Context, req transport.Request) ([]byte, error)
}
