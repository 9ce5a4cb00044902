package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Debouncer wraps a Store and coalesces rapid Save calls into a single write
// after a quiet window. Writes are serialized through one flush path. A
// failed write is logged and kept pending, so the next mutation (or Flush)
// retries it — until then the caller's in-memory state stays authoritative.
type Debouncer struct {
	store  Store
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending *QueueState
	armed   bool
}

func NewDebouncer(store Store, window time.Duration, logger *slog.Logger) *Debouncer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &Debouncer{store: store, window: window, logger: logger}
}

func (d *Debouncer) Load(ctx context.Context) (*QueueState, error) {
	return d.store.Load(ctx)
}

// Save records the latest state and arms the flush timer. It returns
// immediately; durability follows within one window unless the write fails.
func (d *Debouncer) Save(_ context.Context, state *QueueState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = state
	if !d.armed {
		d.armed = true
		time.AfterFunc(d.window, d.flush)
	}
	return nil
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	state := d.pending
	d.pending = nil
	d.armed = false
	d.mu.Unlock()

	if state == nil {
		return
	}
	if err := d.store.Save(context.Background(), state); err != nil {
		d.logger.Error("state persist failed, retrying on next mutation",
			slog.String("error", err.Error()),
		)
		d.mu.Lock()
		// Keep the failed state pending unless a newer one arrived meanwhile.
		if d.pending == nil {
			d.pending = state
		}
		d.mu.Unlock()
	}
}

// Flush writes any pending state immediately. Call on shutdown.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	state := d.pending
	d.pending = nil
	d.armed = false
	d.mu.Unlock()

	if state == nil {
		return nil
	}
	return d.store.Save(ctx, state)
}
