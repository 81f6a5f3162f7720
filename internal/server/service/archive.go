package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"sharebeam/internal/core"
	"sharebeam/internal/errs"
	"sharebeam/internal/server/api"
	"sharebeam/internal/server/storage"
)

// run is one started share: its listener, server and spooled archive.
type run struct {
	gen      uint64
	snap     *core.Snapshot
	ln       net.Listener
	srv      *http.Server
	handler  *api.Handler
	ctx      context.Context
	cancel   context.CancelFunc
	store    storage.Store
	url      string
	password string

	flight  singleflight.Group
	mu      sync.Mutex
	archive *spooledArchive
	closed  bool
}

type spooledArchive struct {
	id   string
	size int64
}

// OpenArchive returns a reader over the archive of the run. The archive is
// built once, on first request, and spooled to disk so its size is known
// before the response starts. Concurrent first requests share one build.
func (r *run) OpenArchive(ctx context.Context) (io.ReadCloser, int64, error) {
	ch := r.flight.DoChan("archive", r.buildArchive)

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	if res.Err != nil {
		return nil, 0, res.Err
	}

	a := res.Val.(*spooledArchive)
	f, err := r.store.Open(a.id)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: share stopped", errs.ErrInvalidState)
		}
		return nil, 0, err
	}
	return f, a.size, nil
}

func (r *run) buildArchive() (any, error) {
	r.mu.Lock()
	if r.archive != nil {
		a := r.archive
		r.mu.Unlock()
		return a, nil
	}
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: share stopped", errs.ErrInvalidState)
	}
	r.mu.Unlock()

	id := uuid.NewString()
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(r.snap.WriteArchive(r.ctx, pw))
	}()

	n, err := r.store.Save(id, pr)
	pr.Close()
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: archive build canceled", errs.ErrInvalidState)
		}
		return nil, fmt.Errorf("cannot build archive: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = r.store.Delete(id)
		return nil, fmt.Errorf("%w: share stopped", errs.ErrInvalidState)
	}
	r.archive = &spooledArchive{id: id, size: n}
	return r.archive, nil
}

// shutdown closes the listener and every open connection, waits for the
// handlers still streaming to record their outcome, then removes the
// spooled archive. The port is free when it returns.
func (r *run) shutdown(log *slog.Logger) {
	r.cancel()
	if err := r.srv.Close(); err != nil {
		log.Warn("closing http server", slog.Any("error", err))
	}
	// Serve may not have registered the listener yet.
	_ = r.ln.Close()
	r.handler.Drain()

	r.mu.Lock()
	r.closed = true
	a := r.archive
	r.archive = nil
	r.mu.Unlock()

	if a != nil {
		if err := r.store.Delete(a.id); err != nil {
			log.Warn("removing spooled archive", slog.String("id", a.id), slog.Any("error", err))
		}
	}
}
