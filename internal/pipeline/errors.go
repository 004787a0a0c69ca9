package pipeline

import (
	"context"
	"errors"

	"github.com/UnknownOlympus/beacon/internal/transport"
)

var (
	// ErrRunInProgress is returned by Start while another run is in flight.
	ErrRunInProgress = errors.New("report run already in progress")
	// ErrPrecondition is wrapped by every PreconditionError.
	ErrPrecondition = errors.New("precondition failed")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// PreconditionError reports a device check that prevented the run from starting.
type PreconditionError struct {
	Signal Signal
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Signal.String()
}

// Unwrap classifies the error as ErrPrecondition.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// Reason maps an error to a stable, low-cardinality label.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, transport.ErrProtocol):
		return "protocol"
	case errors.Is(err, transport.ErrTransport):
		return "transport"
	default:
		return "internal"
	}
}
