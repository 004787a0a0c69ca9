package pipeline

import "fmt"

// Signal is a user-facing notification emitted by the pipeline. Presentation
// layers map signals to localized text themselves.
type Signal int

const (
	// SignalLocationDisabled asks the user to turn on location services.
	SignalLocationDisabled Signal = iota + 1
	// SignalNoConnectivity asks the user to turn on the internet connection.
	SignalNoConnectivity
	// SignalPermissionDenied asks the user to grant location access.
	SignalPermissionDenied
	// SignalLocationUnavailable reports that no position fix exists yet.
	SignalLocationUnavailable
	// SignalReportSucceeded confirms the position was submitted.
	SignalReportSucceeded
	// SignalReportFailed reports that a stage of the chain failed.
	SignalReportFailed
)

var signalNames = map[Signal]string{
	SignalLocationDisabled:    "location_disabled",
	SignalNoConnectivity:      "no_connectivity",
	SignalPermissionDenied:    "permission_denied",
	SignalLocationUnavailable: "location_unavailable",
	SignalReportSucceeded:     "report_succeeded",
	SignalReportFailed:        "report_failed",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// MarshalText encodes the signal by name.
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Notifier presents signals to the user. Notify is always called on the
// dispatcher's execution context.
type Notifier interface {
	Notify(signal Signal)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(signal Signal)

// Notify calls f(signal).
func (f NotifierFunc) Notify(signal Signal) { f(signal) }

// Dispatcher marshals work onto the execution context owning presentation
// state. Post returns false when the work was discarded after teardown.
type Dispatcher interface {
	Post(fn func()) bool
}

type inlineDispatcher struct{}

func (inlineDispatcher) Post(fn func()) bool {
	fn()
	return true
}
