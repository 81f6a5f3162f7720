package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"sharebeam/internal/core"
	"sharebeam/internal/server/config"
	"sharebeam/internal/server/database"
	"sharebeam/internal/server/history"
	"sharebeam/internal/server/service"
)

type shareOptions struct {
	public   bool
	autoStop bool
	startAt  string
	stopAt   string
	startIn  time.Duration
	stopIn   time.Duration
	title    string
	descFile string
	host     string
	port     int
}

func newShareCmd() *cobra.Command {
	var o shareOptions

	cmd := &cobra.Command{
		Use:   "share <path>...",
		Short: "Share files and directories until stopped",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShare(cmd, args, o)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&o.public, "public", false, "serve without a credential")
	f.BoolVar(&o.autoStop, "autostop-on-download", false, "stop after the first complete archive download")
	f.StringVar(&o.startAt, "autostart-at", "", "start at this RFC 3339 time")
	f.StringVar(&o.stopAt, "autostop-at", "", "stop at this RFC 3339 time")
	f.DurationVar(&o.startIn, "autostart-in", 0, "start after this delay")
	f.DurationVar(&o.stopIn, "autostop-in", 0, "stop after this delay")
	f.StringVar(&o.title, "title", "", "title shown on the share page")
	f.StringVar(&o.descFile, "description-file", "", "Markdown file shown under the title")
	f.StringVar(&o.host, "host", "", "listen address (overrides HOST)")
	f.IntVar(&o.port, "port", 0, "listen port, 0 picks a free one (overrides PORT)")
	return cmd
}

func runShare(cmd *cobra.Command, args []string, o shareOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if o.host != "" {
		cfg.Host = o.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = o.port
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	paths, err := core.ParseArgs(afero.NewOsFs(), args)
	if err != nil {
		return err
	}
	settings, err := o.settings(time.Now(), paths)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	ctrl := service.NewController(cfg, service.WithSinks(sinks...))
	defer ctrl.Close()

	events, unsubscribe := ctrl.Subscribe(256)
	defer unsubscribe()

	if err := ctrl.Configure(settings); err != nil {
		return err
	}
	if _, err := ctrl.Start(ctx); err != nil {
		return err
	}
	if st := ctrl.Status(); st.State == service.StateScheduled {
		fmt.Fprintf(cmd.OutOrStdout(), "Share scheduled for %s\n", st.AutostartAt.Local().Format(time.RFC1123))
	}

	// Progress events can crowd out state changes, so the state is also
	// polled.
	poll := time.NewTicker(time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted, stopping share")
			ctrl.Stop()
			return nil
		case <-poll.C:
			if st := ctrl.Status(); st.State == service.StateStopped {
				return stopResult(st.LastStopReason)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if done, err := handleEvent(cmd.OutOrStdout(), ctrl, ev); done {
				return err
			}
		}
	}
}

func handleEvent(out io.Writer, ctrl *service.Controller, ev service.Event) (bool, error) {
	switch ev.Kind {
	case service.EventStateChanged:
		switch ev.State {
		case service.StateStarted:
			printShare(out, ctrl.Status())
		case service.StateStopped:
			slog.Info("share stopped", slog.String("reason", string(ev.Reason)))
			return true, stopResult(ev.Reason)
		}
	case service.EventDownloadCompleted, service.EventDownloadCanceled:
		e := ev.Download
		slog.Info("download finished",
			slog.String("name", e.Name),
			slog.Bool("completed", e.Completed),
			slog.Int64("bytes", e.BytesTransferred),
			slog.Duration("took", e.FinishedAt.Sub(e.StartedAt)),
		)
	case service.EventAuthFailed:
		slog.Warn("rejected credential", slog.Int("failed_attempts", ev.FailedAttempts))
	}
	return false, nil
}

func stopResult(reason service.StopReason) error {
	if reason == service.ReasonError {
		return errors.New("share stopped after an error")
	}
	return nil
}

func printShare(out io.Writer, st service.Status) {
	fmt.Fprintf(out, "Sharing at %s\n", st.URL)
	if !st.Public {
		fmt.Fprintf(out, "  username: %s\n  password: %s\n", st.Username, st.Password)
	}
	if !st.AutostopAt.IsZero() {
		fmt.Fprintf(out, "  stops at: %s\n", st.AutostopAt.Local().Format(time.RFC1123))
	}
	if st.AutoStopOnDownload {
		fmt.Fprintln(out, "  stops after the first complete download")
	}
	if st.LargeShare {
		fmt.Fprintf(out, "  warning: this share is large (%.1f MiB), downloads may take a long time\n",
			float64(st.TotalSize)/(1<<20))
	}
}

func (o shareOptions) settings(now time.Time, paths []core.ParsedPath) (service.Settings, error) {
	start, err := pickTime("autostart", o.startAt, o.startIn, now)
	if err != nil {
		return service.Settings{}, err
	}
	stop, err := pickTime("autostop", o.stopAt, o.stopIn, now)
	if err != nil {
		return service.Settings{}, err
	}

	s := service.Settings{
		Paths:              make([]string, 0, len(paths)),
		Public:             o.public,
		AutoStopOnDownload: o.autoStop,
		AutostartAt:        start,
		AutostopAt:         stop,
		Title:              o.title,
	}
	for _, p := range paths {
		s.Paths = append(s.Paths, p.FullPath)
	}

	if o.descFile != "" {
		b, err := os.ReadFile(o.descFile)
		if err != nil {
			return service.Settings{}, fmt.Errorf("cannot read description: %w", err)
		}
		s.Description = string(b)
	}
	return s, nil
}

func pickTime(name, at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, fmt.Errorf("--%s-at and --%s-in are mutually exclusive", name, name)
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --%s-at: %w", name, err)
		}
		return t, nil
	case in < 0:
		return time.Time{}, fmt.Errorf("--%s-in must not be negative", name)
	case in > 0:
		return now.Add(in), nil
	}
	return time.Time{}, nil
}

// openSinks connects the optional history stores. On success the returned
// function closes them.
func openSinks(ctx context.Context, cfg *config.Config) ([]history.Sink, func(), error) {
	var (
		sinks   []history.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		repo, closeDB, err := openRepository(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, closeDB)
		sinks = append(sinks, history.NewPostgresSink(repo))
	}

	if cfg.RedisURL != "" {
		cl, err := openRedis(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { cl.Close() })
		sinks = append(sinks, history.NewRedisSink(cl, cfg.RedisEntryTTL))
	}

	return sinks, closeAll, nil
}

func openRepository(ctx context.Context, cfg *config.Config) (*database.Repository, func(), error) {
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return database.NewRepository(db), db.Close, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	cl := redis.NewClient(opt)
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("cannot reach redis: %w", err)
	}
	slog.Info("connected to redis", slog.String("component", "redis"), slog.String("addr", opt.Addr))
	return cl, nil
}
