package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"

	"sharebeam/internal/core"
	"sharebeam/internal/errs"
	"sharebeam/internal/server/credential"
	"sharebeam/internal/server/history"
	"sharebeam/internal/server/lockout"
)

// ArchiveSource hands out the archive of the running share. The returned
// size is the exact number of bytes the reader yields.
type ArchiveSource interface {
	OpenArchive(ctx context.Context) (io.ReadCloser, int64, error)
}

// Options wires a Handler to one running share.
type Options struct {
	Snapshot *core.Snapshot
	Archives ArchiveSource
	Issuer   *credential.Issuer
	Guard    *lockout.Guard
	Ledger   *history.Ledger

	Public             bool
	AutoStopOnDownload bool

	Title string
	// Description is Markdown shown under the title.
	Description string
	ArchiveName string

	RateLimitRPS   float64
	RateLimitBurst int

	// OnAuthFailure is called after every rejected credential with the
	// current failure count.
	OnAuthFailure func(failed int)
	// OnLockout is called once when the failure threshold is reached.
	OnLockout func()
	// OnDownloadComplete is called when a download that ends the share in
	// auto-stop mode has been fully sent.
	OnDownloadComplete func()
}

// Handler serves the manifest, single files and the archive of one share.
type Handler struct {
	opts        Options
	description template.HTML
	archiveBusy atomic.Bool
	log         *slog.Logger

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewHandler renders the share description once and returns a handler
// ready to be mounted with SetupRouter.
func NewHandler(opts Options, log *slog.Logger) (*Handler, error) {
	if opts.Snapshot == nil || opts.Archives == nil || opts.Ledger == nil {
		return nil, errors.New("api: snapshot, archive source and ledger are required")
	}
	if !opts.Public && (opts.Issuer == nil || opts.Guard == nil) {
		return nil, errors.New("api: issuer and guard are required unless public")
	}
	if opts.ArchiveName == "" {
		opts.ArchiveName = "share.zip"
	}

	h := &Handler{
		opts: opts,
		log:  log.With(slog.String("component", "api")),
	}

	if opts.Description != "" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(opts.Description), &buf); err != nil {
			return nil, fmt.Errorf("cannot render description: %w", err)
		}
		h.description = template.HTML(buf.String())
	}

	return h, nil
}

type fileLink struct {
	Name      string `json:"name"`
	Href      string `json:"href"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"-"`
}

type manifest struct {
	Title          string        `json:"title,omitempty"`
	Description    template.HTML `json:"-"`
	TotalSize      int64         `json:"total_size"`
	TotalSizeHuman string        `json:"total_size_human"`
	Download       string        `json:"download"`
	Files          []fileLink    `json:"files"`
}

// HandleIndex handles GET /.
// Individual files are only listed when they can be downloaded on their own.
func (h *Handler) HandleIndex(c echo.Context) error {
	snap := h.opts.Snapshot

	m := manifest{
		Title:          h.opts.Title,
		Description:    h.description,
		TotalSize:      snap.TotalSize(),
		TotalSizeHuman: humanizeBytes(snap.TotalSize()),
		Download:       "/download",
		Files:          []fileLink{},
	}
	if !h.opts.AutoStopOnDownload {
		for _, f := range snap.Files() {
			m.Files = append(m.Files, fileLink{
				Name:      f.RelPath,
				Href:      fileHref(f.RelPath),
				Size:      f.Size,
				SizeHuman: humanizeBytes(f.Size),
			})
		}
	}

	if wantsJSON(c) {
		return c.JSON(http.StatusOK, m)
	}
	return c.Render(http.StatusOK, indexTemplate, m)
}

// HandleArchive handles GET /download.
func (h *Handler) HandleArchive(c echo.Context) error {
	if h.opts.AutoStopOnDownload {
		if !h.archiveBusy.CompareAndSwap(false, true) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{
				"error": "another download is in progress",
			})
		}
		defer h.archiveBusy.Store(false)
	}

	rc, size, err := h.opts.Archives.OpenArchive(c.Request().Context())
	if err != nil {
		return h.mapError(c, err)
	}
	defer rc.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "application/zip")
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": h.opts.ArchiveName,
	}))

	if h.stream(c, history.ArchiveName, rc, size) && h.opts.AutoStopOnDownload && h.opts.OnDownloadComplete != nil {
		h.opts.OnDownloadComplete()
	}
	return nil
}

// HandleFile handles GET /<rel path>.
func (h *Handler) HandleFile(c echo.Context) error {
	if h.opts.AutoStopOnDownload {
		return h.mapError(c, errs.ErrNotFound)
	}

	rel, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return h.mapError(c, errs.ErrNotFound)
	}

	sf, ok := h.opts.Snapshot.Lookup(rel)
	if !ok {
		return h.mapError(c, errs.ErrNotFound)
	}

	f, err := h.opts.Snapshot.Open(sf)
	if err != nil {
		h.log.Error("cannot open shared file", slog.String("path", sf.FullPath), slog.Any("error", err))
		return h.mapError(c, fmt.Errorf("%w: %s", errs.ErrNotFound, rel))
	}
	defer f.Close()

	ctype := mime.TypeByExtension(path.Ext(rel))
	if ctype == "" {
		ctype = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentType, ctype)

	h.stream(c, rel, f, sf.Size)
	return nil
}

// Drain waits for every body being streamed to finish and makes later
// downloads fail. Call it after the server's connections are closed.
func (h *Handler) Drain() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.inflight.Wait()
}

func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.inflight.Add(1)
	return true
}

// stream writes exactly size bytes of r and records the request in the
// history ledger. It reports whether the whole body was sent.
func (h *Handler) stream(c echo.Context, name string, r io.Reader, size int64) bool {
	if !h.track() {
		_ = h.mapError(c, errs.ErrInvalidState)
		return false
	}
	defer h.inflight.Done()

	dl := h.opts.Ledger.Begin(name, size)

	res := c.Response()
	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
	res.WriteHeader(http.StatusOK)

	n, err := io.Copy(io.MultiWriter(res, dl), io.LimitReader(r, size))
	if err != nil || n != size {
		dl.Cancel()
		h.log.Info("download canceled",
			slog.String("id", dl.ID()),
			slog.String("name", name),
			slog.Int64("sent", n),
			slog.Int64("size", size),
			slog.Any("error", err),
		)
		return false
	}

	res.Flush()
	dl.Complete()
	h.log.Debug("download completed",
		slog.String("id", dl.ID()),
		slog.String("name", name),
		slog.Int64("size", size),
	)
	return true
}

// handleError is the router's error handler. echo's own HTTP errors keep
// their default rendering; everything else goes through mapError.
func (h *Handler) handleError(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		if werr := h.mapError(c, err); werr != nil {
			h.log.Warn("cannot write error response", slog.Any("error", werr))
		}
	}
}

// mapError translates domain errors into HTTP responses.
func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrLockedOut):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `basic realm="`+authRealm+`"`)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case errors.Is(err, errs.ErrInvalidState), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "share is stopping"})
	default:
		h.log.Error("request failed", slog.String("path", c.Request().URL.Path), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

func wantsJSON(c echo.Context) bool {
	if c.QueryParam("format") == "json" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

// fileHref links rel relative to the manifest page. A first segment
// containing a colon is prefixed with "./" so it is not read as a scheme.
func fileHref(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	href := strings.Join(parts, "/")
	if strings.Contains(parts[0], ":") {
		href = "./" + href
	}
	return href
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
