// Package mainloop provides a single-goroutine execution context that owns
// presentation state. Work produced on other goroutines is posted to the loop
// and executed there, one task at a time, in submission order.
package mainloop

import (
	"context"
	"log/slog"
	"sync"
)

// Loop serializes posted tasks onto the goroutine running Run.
type Loop struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// New creates a loop with the given task buffer size.
func New(buffer int, log *slog.Logger) *Loop {
	if buffer < 0 {
		buffer = 0
	}

	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Post schedules fn on the loop. It returns false when the loop has been
// closed, in which case fn is discarded and will never run.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Run executes posted tasks until ctx is canceled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	l.log.DebugContext(ctx, "Main loop started")
	defer l.log.DebugContext(ctx, "Main loop stopped")

	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.tasks:
			// A task queued before teardown must not run after it.
			select {
			case <-l.done:
				return
			default:
			}
			fn()
		}
	}
}

// Close tears the loop down. Tasks still queued are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Closed reports whether the loop has been torn down.
func (l *Loop) Closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
