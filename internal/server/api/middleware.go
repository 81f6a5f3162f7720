package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"sharebeam/internal/errs"
	"sharebeam/internal/server/lockout"
)

const (
	authRealm         = "sharebeam"
	visitorIdleExpiry = 10 * time.Minute
)

// Authorize returns the Basic auth middleware. Requests without an
// Authorization header are challenged without counting as an attempt;
// every offered credential goes through the lockout guard. Rejections are
// returned as errs.ErrUnauthorized or errs.ErrLockedOut for the router's
// error handler. Public shares skip it entirely.
func (h *Handler) Authorize() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Skipper: func(echo.Context) bool { return h.opts.Public },
		Realm:   authRealm,
		Validator: func(username, password string, c echo.Context) (bool, error) {
			if h.opts.Guard.Locked() {
				return false, errs.ErrLockedOut
			}

			ok := h.opts.Issuer.Verify(username, password)
			action := h.opts.Guard.Check(ok)
			if ok {
				return true, nil
			}

			failed := h.opts.Guard.Failed()
			h.log.Warn("authorization failed",
				slog.String("ip", c.RealIP()),
				slog.Int("failed", failed),
				slog.Int("threshold", h.opts.Guard.Threshold()),
			)
			if h.opts.OnAuthFailure != nil {
				h.opts.OnAuthFailure(failed)
			}
			if action == lockout.ForceStop {
				h.log.Warn("too many failed authorization attempts, stopping share")
				if h.opts.OnLockout != nil {
					h.opts.OnLockout()
				}
				return false, errs.ErrLockedOut
			}
			return false, fmt.Errorf("%w: bad credentials from %s", errs.ErrUnauthorized, c.RealIP())
		},
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token-bucket rate limiter.
type RateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
	log         *slog.Logger
}

// NewRateLimiter creates a rate limiter with the given rate (requests/sec) and burst size.
func NewRateLimiter(rps float64, burst int, log *slog.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors:    make(map[string]*visitor),
		limit:       rate.Limit(rps),
		burst:       burst,
		lastCleanup: time.Now(),
		log:         log,
	}
}

// Middleware returns an echo middleware function that enforces rate limits.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !rl.allow(ip, time.Now()) {
				rl.log.Warn("rate limit exceeded", slog.String("ip", ip))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

func (rl *RateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > visitorIdleExpiry {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorIdleExpiry {
				delete(rl.visitors, k)
			}
		}
		rl.lastCleanup = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			log.Info("request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.String("ip", c.RealIP()),
				slog.String("user_agent", req.UserAgent()),
				slog.Int64("bytes_out", res.Size),
			)

			return nil
		}
	}
}
