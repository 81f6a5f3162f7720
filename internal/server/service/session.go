// Package service implements the share session controller: it owns the
// file set, the credential, the schedule and the HTTP endpoint of one
// share and moves them through the session states.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"sharebeam/internal/core"
	"sharebeam/internal/errs"
	"sharebeam/internal/server/api"
	"sharebeam/internal/server/config"
	"sharebeam/internal/server/credential"
	"sharebeam/internal/server/history"
	"sharebeam/internal/server/lockout"
	"sharebeam/internal/server/schedule"
	"sharebeam/internal/server/storage"
)

const readHeaderTimeout = 10 * time.Second

// Controller owns one share. Every state transition, whether requested by
// the caller, the scheduler or a request handler, happens under mu.
type Controller struct {
	cfg    *config.Config
	fs     afero.Fs
	files  *core.FileSet
	issuer *credential.Issuer
	guard  *lockout.Guard
	ledger *history.Ledger
	store  *storage.SpoolStore
	sinks  []history.Sink
	clock  func() time.Time
	log    *slog.Logger

	mu         sync.Mutex
	state      State
	settings   Settings
	gen        uint64
	lastReason StopReason
	pending    *core.Snapshot
	run        *run
	closed     bool

	subMu sync.Mutex
	subs  map[chan Event]struct{}

	runner     *schedule.Runner
	stopRunner context.CancelFunc
}

type Option func(*Controller)

// WithFs makes the controller read shared files and spool archives
// through fs.
func WithFs(fs afero.Fs) Option {
	return func(c *Controller) {
		if fs != nil {
			c.fs = fs
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSinks persists finished downloads to the given sinks.
func WithSinks(sinks ...history.Sink) Option {
	return func(c *Controller) {
		c.sinks = append(c.sinks, sinks...)
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// NewController creates a stopped controller and starts its scheduler.
// Close releases it.
func NewController(cfg *config.Config, opts ...Option) *Controller {
	if cfg == nil {
		cfg = config.Default()
	}

	c := &Controller{
		cfg:   cfg,
		fs:    afero.NewOsFs(),
		clock: time.Now,
		log:   slog.Default(),
		subs:  make(map[chan Event]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(slog.String("component", "controller"))

	c.files = core.NewFileSet(c.fs)
	c.issuer = credential.NewIssuer(
		credential.WithUsername(cfg.Username),
		credential.WithWords(cfg.PasswordWords),
		credential.WithCost(cfg.BcryptCost),
		credential.Persistent(cfg.PersistentCredential),
	)
	c.guard = lockout.NewGuard(cfg.LockoutThreshold)
	c.ledger = history.NewLedger(history.WithSinks(c.sinks...), history.WithClock(c.clock))
	c.ledger.Subscribe(c.onHistory)
	c.store = storage.NewSpoolStore(c.fs, cfg.SpoolDir)

	ctx, cancel := context.WithCancel(context.Background())
	c.stopRunner = cancel
	c.runner = schedule.NewRunner(cfg.SchedulerInterval, c.clock, c.tick)
	c.runner.Start(ctx)

	return c
}

// Files returns the file set shared by the next Start. It rejects changes
// while a share is scheduled or running.
func (c *Controller) Files() *core.FileSet {
	return c.files
}

// Configure replaces the settings of the next share. When s.Paths is
// non-nil the file set is replaced too; on error it is left untouched.
func (c *Controller) Configure(s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStoppedLocked("configure"); err != nil {
		return err
	}

	if s.Paths != nil {
		check := core.NewFileSet(c.fs)
		for _, p := range s.Paths {
			if err := check.Add(p); err != nil {
				return err
			}
		}
		if err := c.files.Clear(); err != nil {
			return err
		}
		for _, e := range check.Entries() {
			if err := c.files.Add(e.Path); err != nil {
				return err
			}
		}
	}

	s.Paths = nil
	c.settings = s
	return nil
}

// Start begins sharing. With an autostart time the controller only enters
// the scheduled state and the scheduler starts the share later; the
// returned credential is then empty and available from Status once
// started. Public shares have no credential.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStoppedLocked("start"); err != nil {
		return "", err
	}

	w := c.windowLocked()
	if err := w.Validate(c.clock()); err != nil {
		return "", err
	}

	snap, err := c.files.Snapshot()
	if err != nil {
		return "", err
	}
	c.pending = snap

	if w.HasStart() {
		c.setStateLocked(StateScheduled, ReasonNone)
		c.log.Info("share scheduled",
			slog.Time("autostart_at", w.StartAt),
			slog.Time("autostop_at", w.StopAt),
		)
		return "", nil
	}

	return c.startRunLocked(ctx)
}

// Stop ends the share, or cancels a scheduled one. Stopping a stopped
// controller does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(ReasonUser)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:              c.state,
		Public:             c.settings.Public,
		AutoStopOnDownload: c.settings.AutoStopOnDownload,
		AutostartAt:        c.settings.AutostartAt,
		AutostopAt:         c.settings.AutostopAt,
		FailedAttempts:     c.guard.Failed(),
		LastStopReason:     c.lastReason,
		TotalSize:          c.files.TotalSize(),
		History:            c.ledger.Snapshot(),
	}
	if !c.settings.Public {
		st.Username = c.issuer.Username()
	}
	if r := c.run; r != nil {
		st.URL = r.url
		st.Password = r.password
		st.TotalSize = r.snap.TotalSize()
	}
	st.LargeShare = c.cfg.LargeShareThreshold > 0 && st.TotalSize > c.cfg.LargeShareThreshold
	return st
}

// ClearHistory forgets the downloads listed in Status. It works in any
// state but fails with errs.ErrInvalidState while a download is running.
func (c *Controller) ClearHistory() error {
	return c.ledger.Clear()
}

// Subscribe returns a channel receiving every event from now on. Events
// are dropped for subscribers whose buffer is full. The returned function
// unsubscribes and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// Close stops any share, the scheduler and all subscriptions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopLocked(ReasonUser)
	c.closed = true
	c.mu.Unlock()

	c.stopRunner()
	c.runner.Wait()
	c.ledger.Flush()

	c.subMu.Lock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.subMu.Unlock()
}

func (c *Controller) requireStoppedLocked(op string) error {
	if c.closed {
		return fmt.Errorf("%w: controller closed", errs.ErrInvalidState)
	}
	if c.state != StateStopped {
		return fmt.Errorf("%w: cannot %s while %s", errs.ErrInvalidState, op, c.state)
	}
	return nil
}

func (c *Controller) windowLocked() schedule.Window {
	return schedule.Window{StartAt: c.settings.AutostartAt, StopAt: c.settings.AutostopAt}
}

func (c *Controller) tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	var phase schedule.Phase
	switch c.state {
	case StateScheduled:
		phase = schedule.PhaseScheduled
	case StateStarted:
		phase = schedule.PhaseStarted
	default:
		return
	}

	switch c.windowLocked().Decide(phase, now) {
	case schedule.StartNow:
		if _, err := c.startRunLocked(context.Background()); err != nil {
			c.log.Error("scheduled start failed", slog.Any("error", err))
		}
	case schedule.StopNow:
		c.stopLocked(ReasonSchedule)
	}
}

// forceStop is used by request handlers. It only stops the run it was
// issued for.
func (c *Controller) forceStop(gen uint64, reason StopReason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == nil || c.run.gen != gen || c.state != StateStarted {
		return
	}
	c.stopLocked(reason)
}

func (c *Controller) startRunLocked(ctx context.Context) (string, error) {
	snap := c.pending
	c.pending = nil
	c.gen++
	c.setStateLocked(StateStarting, ReasonNone)

	r, err := c.bindLocked(ctx, c.gen, snap)
	if err != nil {
		c.issuer.Discard()
		c.files.Release()
		c.setStateLocked(StateStopped, ReasonError)
		c.log.Error("share failed to start", slog.Any("error", err))
		return "", err
	}

	c.run = r
	c.setStateLocked(StateStarted, ReasonNone)
	c.log.Info("share started",
		slog.String("url", r.url),
		slog.Bool("public", c.settings.Public),
		slog.Bool("auto_stop_on_download", c.settings.AutoStopOnDownload),
		slog.Int("files", len(snap.Files())),
		slog.Int64("total_size", snap.TotalSize()),
	)
	return r.password, nil
}

func (c *Controller) bindLocked(ctx context.Context, gen uint64, snap *core.Snapshot) (*run, error) {
	c.guard.Reset()

	if err := c.store.EnsureDir(); err != nil {
		return nil, err
	}
	if _, err := c.store.RemoveStale(c.cfg.SpoolMaxAge, c.clock()); err != nil {
		c.log.Warn("spool sweep failed", slog.Any("error", err))
	}

	var password string
	if !c.settings.Public {
		pw, err := c.issuer.Issue()
		if err != nil {
			return nil, err
		}
		password = pw
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("cannot bind listener: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		gen:      gen,
		snap:     snap,
		ln:       ln,
		ctx:      runCtx,
		cancel:   cancel,
		store:    c.store,
		url:      "http://" + ln.Addr().String() + "/",
		password: password,
	}

	h, err := api.NewHandler(api.Options{
		Snapshot:           snap,
		Archives:           r,
		Issuer:             c.issuer,
		Guard:              c.guard,
		Ledger:             c.ledger,
		Public:             c.settings.Public,
		AutoStopOnDownload: c.settings.AutoStopOnDownload,
		Title:              c.settings.Title,
		Description:        c.settings.Description,
		ArchiveName:        archiveName(snap),
		RateLimitRPS:       c.cfg.RateLimitRPS,
		RateLimitBurst:     c.cfg.RateLimitBurst,
		OnAuthFailure: func(failed int) {
			c.emit(Event{Kind: EventAuthFailed, FailedAttempts: failed})
		},
		OnLockout: func() {
			go c.forceStop(gen, ReasonLockout)
		},
		OnDownloadComplete: func() {
			go c.forceStop(gen, ReasonDownloadComplete)
		},
	}, c.log)
	if err != nil {
		cancel()
		ln.Close()
		return nil, err
	}

	r.handler = h
	r.srv = &http.Server{
		Handler:           api.SetupRouter(h),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
		ErrorLog:          slog.NewLogLogger(c.log.Handler(), slog.LevelWarn),
	}

	go func() {
		if err := r.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.log.Error("http server failed", slog.Any("error", err))
			c.forceStop(gen, ReasonError)
		}
	}()

	return r, nil
}

func (c *Controller) stopLocked(reason StopReason) {
	switch c.state {
	case StateStopped:
		return
	case StateScheduled:
		c.pending = nil
		c.files.Release()
		c.setStateLocked(StateStopped, reason)
		c.log.Info("scheduled share canceled", slog.String("reason", string(reason)))
		return
	}

	c.setStateLocked(StateStopping, reason)

	if r := c.run; r != nil {
		c.run = nil
		r.shutdown(c.log)
	}
	c.issuer.Discard()
	c.files.Release()

	c.setStateLocked(StateStopped, reason)
	c.log.Info("share stopped", slog.String("reason", string(reason)))
}

func (c *Controller) setStateLocked(s State, reason StopReason) {
	c.state = s
	if s == StateStopped {
		c.lastReason = reason
	}
	c.emit(Event{Kind: EventStateChanged, State: s, Reason: reason})
}

func (c *Controller) onHistory(ev history.Event) {
	entry := ev.Entry
	c.emit(Event{Kind: EventKind(ev.Kind), Download: &entry})
}

func (c *Controller) emit(ev Event) {
	ev.At = c.clock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// archiveName names the archive after the only shared entry, if there is
// just one.
func archiveName(snap *core.Snapshot) string {
	entries := snap.Entries()
	if len(entries) != 1 {
		return ""
	}
	name := entries[0].Name
	if !entries[0].IsDir {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name + ".zip"
}
