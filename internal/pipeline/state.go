package pipeline

// State is a position in the run state machine:
//
//	Idle -> AwaitingPreconditions -> FetchingDescriptor -> RetrievingPassword
//	     -> ExchangingToken -> SubmittingLocation -> Succeeded | Failed -> Idle
//
// Any stage failure moves straight to Failed.
type State int32

const (
	StateIdle State = iota
	StateAwaitingPreconditions
	StateFetchingDescriptor
	StateRetrievingPassword
	StateExchangingToken
	StateSubmittingLocation
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateAwaitingPreconditions: "awaiting_preconditions",
	StateFetchingDescriptor:    "fetching_descriptor",
	StateRetrievingPassword:    "retrieving_password",
	StateExchangingToken:       "exchanging_token",
	StateSubmittingLocation:    "submitting_location",
	StateSucceeded:             "succeeded",
	StateFailed:                "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
