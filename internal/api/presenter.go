package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/beacon/internal/pipeline"
)

// DefaultSignalCapacity is the number of signals a SignalLog keeps.
const DefaultSignalCapacity = 32

// SignalEntry is a presented signal.
type SignalEntry struct {
	Signal pipeline.Signal `json:"signal"`
	At     time.Time       `json:"at"`
}

// SignalLog presents signals by logging them and keeping the most recent ones
// for the signals endpoint.
type SignalLog struct {
	mu       sync.Mutex
	entries  []SignalEntry
	capacity int
	log      *slog.Logger
}

// NewSignalLog creates a SignalLog holding up to capacity entries.
func NewSignalLog(capacity int, log *slog.Logger) *SignalLog {
	if capacity <= 0 {
		capacity = DefaultSignalCapacity
	}

	return &SignalLog{capacity: capacity, log: log}
}

// Notify implements pipeline.Notifier.
func (l *SignalLog) Notify(signal pipeline.Signal) {
	l.mu.Lock()
	l.entries = append(l.entries, SignalEntry{Signal: signal, At: time.Now()})
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	l.mu.Unlock()

	l.log.Info("Signal presented", "signal", signal)
}

// Recent returns the kept entries, oldest first.
func (l *SignalLog) Recent() []SignalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]SignalEntry{}, l.entries...)
}
