// Package history keeps the ordered record of download requests served by
// a share and forwards finished entries to optional persistent sinks.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sharebeam/internal/errs"
)

// ArchiveName is the entry name used for whole-share archive downloads.
const ArchiveName = "archive"

const sinkTimeout = 5 * time.Second

// Entry is a copy of one download's state.
type Entry struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Archive          bool      `json:"archive"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	Completed        bool      `json:"completed"`
	Canceled         bool      `json:"canceled"`
}

// Finished reports whether the download has ended either way.
func (e Entry) Finished() bool {
	return e.Completed || e.Canceled
}

type EventKind string

const (
	EventStarted   EventKind = "download_started"
	EventProgress  EventKind = "download_progress"
	EventCompleted EventKind = "download_completed"
	EventCanceled  EventKind = "download_canceled"
)

type Event struct {
	Kind  EventKind
	Entry Entry
}

// Sink persists finished entries. Failures are logged and otherwise
// ignored.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// Ledger is an append-only list of entries until cleared. Each entry is
// only ever changed through the Download handle returned by Begin.
type Ledger struct {
	mu        sync.Mutex
	entries   []*Entry
	listeners []func(Event)
	sinks     []Sink
	clock     func() time.Time
	wg        sync.WaitGroup
	log       *slog.Logger
}

type Option func(*Ledger)

func WithSinks(sinks ...Sink) Option {
	return func(l *Ledger) {
		l.sinks = append(l.sinks, sinks...)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		clock: time.Now,
		log:   slog.With("component", "history"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers fn to be called after every change. fn must not
// block and must not call back into the ledger.
func (l *Ledger) Subscribe(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Begin appends a new in-progress entry.
func (l *Ledger) Begin(name string, total int64) *Download {
	e := &Entry{
		ID:         uuid.NewString(),
		Name:       name,
		Archive:    name == ArchiveName,
		StartedAt:  l.clock(),
		TotalBytes: total,
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	ev, listeners := Event{Kind: EventStarted, Entry: *e}, l.listeners
	l.mu.Unlock()

	notify(listeners, ev)
	return &Download{ledger: l, entry: e}
}

// Snapshot returns copies of all entries in arrival order.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Clear drops every entry. It fails with errs.ErrInvalidState while a
// download is still running; sinks keep what they recorded.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	running := 0
	for _, e := range l.entries {
		if !e.Finished() {
			running++
		}
	}
	if running > 0 {
		return fmt.Errorf("%w: %d download(s) in progress", errs.ErrInvalidState, running)
	}
	l.entries = nil
	return nil
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Flush waits until every pending sink write has returned.
func (l *Ledger) Flush() {
	l.wg.Wait()
}

func (l *Ledger) persist(e Entry) {
	for _, sink := range l.sinks {
		l.wg.Add(1)
		go func(s Sink) {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancel()
			if err := s.Record(ctx, e); err != nil {
				l.log.Warn("failed to persist download", "id", e.ID, "name", e.Name, "error", err)
			}
		}(sink)
	}
}

func notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}

// Download is the handle a request uses to update its own entry.
type Download struct {
	ledger *Ledger
	entry  *Entry
}

func (d *Download) ID() string {
	return d.entry.ID
}

// Progress adds n transferred bytes. It is a no-op once the download has
// finished.
func (d *Download) Progress(n int64) {
	d.update(EventProgress, func(e *Entry) {
		e.BytesTransferred += n
	})
}

// Write counts p as transferred so a Download can sit behind an
// io.MultiWriter or io.TeeReader.
func (d *Download) Write(p []byte) (int, error) {
	d.Progress(int64(len(p)))
	return len(p), nil
}

// Complete marks the download as successfully finished. Only the first of
// Complete and Cancel has any effect.
func (d *Download) Complete() {
	d.finish(EventCompleted, func(e *Entry) { e.Completed = true })
}

func (d *Download) Cancel() {
	d.finish(EventCanceled, func(e *Entry) { e.Canceled = true })
}

func (d *Download) finish(kind EventKind, mark func(*Entry)) {
	finished := false
	var snapshot Entry
	d.update(kind, func(e *Entry) {
		mark(e)
		e.FinishedAt = d.ledger.clock()
		finished = true
		snapshot = *e
	})
	if finished {
		d.ledger.persist(snapshot)
	}
}

func (d *Download) update(kind EventKind, fn func(*Entry)) {
	l := d.ledger

	l.mu.Lock()
	if d.entry.Finished() {
		l.mu.Unlock()
		return
	}
	fn(d.entry)
	ev, listeners := Event{Kind: kind, Entry: *d.entry}, l.listeners
	l.mu.Unlock()

	notify(listeners, ev)
}
