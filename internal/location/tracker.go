// Package location keeps the latest position sample delivered by the device
// location feed together with the location permission flag.
package location

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/beacon/internal/models"
)

// Provider names a location source.
type Provider string

const (
	// ProviderGPS is a satellite fix.
	ProviderGPS Provider = "gps"
	// ProviderNetwork is a cell or wifi based fix.
	ProviderNetwork Provider = "network"
)

// Common errors for the tracker.
var (
	ErrPermissionDenied = errors.New("location permission not granted")
	ErrUnknownProvider  = errors.New("unknown location provider")
)

// Sample is a single position fix.
type Sample struct {
	Coordinates models.Coordinates
	Provider    Provider
	At          time.Time
}

// Tracker holds the most recent sample. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	latest  Sample
	has     bool
	granted bool
	maxAge  time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewTracker creates a tracker. Samples older than maxAge no longer count
// as an enabled location service.
func NewTracker(maxAge time.Duration, log *slog.Logger) *Tracker {
	return &Tracker{maxAge: maxAge, now: time.Now, log: log}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// SetPermission records the result of the location permission request.
// Revoking the permission forgets the last sample.
func (t *Tracker) SetPermission(granted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.granted = granted
	if !granted {
		t.latest, t.has = Sample{}, false
	}
	t.log.Info("Location permission updated", "granted", granted)
}

// PermissionGranted reports whether samples may be collected.
func (t *Tracker) PermissionGranted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.granted
}

// Update stores a new sample. A zero At is replaced by the current time.
func (t *Tracker) Update(sample Sample) error {
	if err := sample.Coordinates.Validate(); err != nil {
		return err
	}
	if sample.Provider != ProviderGPS && sample.Provider != ProviderNetwork {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, sample.Provider)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.granted {
		return ErrPermissionDenied
	}
	if sample.At.IsZero() {
		sample.At = t.now()
	}

	t.latest, t.has = sample, true
	t.log.Debug("Location sample received",
		"provider", sample.Provider,
		"lat", sample.Coordinates.Latitude,
		"lon", sample.Coordinates.Longitude)

	return nil
}

// Latest returns a copy of the most recent coordinates.
func (t *Tracker) Latest() (models.Coordinates, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest.Coordinates, t.has
}

// ServiceEnabled reports whether some provider delivered a fix within maxAge.
func (t *Tracker) ServiceEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.has {
		return false
	}
	return t.maxAge <= 0 || t.now().Sub(t.latest.At) <= t.maxAge
}
