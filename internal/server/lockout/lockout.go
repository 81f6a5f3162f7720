// Package lockout counts failed authorization attempts for a running
// share and decides when the share has to shut itself down.
package lockout

import "sync"

// DefaultThreshold is the number of consecutive failures that stops a share.
const DefaultThreshold = 20

// Action tells the caller what to do after an attempt was recorded.
type Action int

const (
	Continue Action = iota
	ForceStop
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case ForceStop:
		return "force_stop"
	default:
		return "unknown"
	}
}

// Guard is safe for concurrent use. All counter updates happen under one
// mutex so simultaneous failures are never lost.
type Guard struct {
	mu        sync.Mutex
	failed    int
	threshold int
	tripped   bool
}

// NewGuard returns a Guard that trips after threshold consecutive
// failures. A non-positive threshold means DefaultThreshold.
func NewGuard(threshold int) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Guard{threshold: threshold}
}

// Check records one completed authorization attempt. A success clears the
// failure count. ForceStop is returned exactly once, on the failure that
// reaches the threshold; every attempt after that is answered Continue
// and callers should consult Locked.
func (g *Guard) Check(ok bool) Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tripped {
		return Continue
	}

	if ok {
		g.failed = 0
		return Continue
	}

	g.failed++
	if g.failed >= g.threshold {
		g.tripped = true
		return ForceStop
	}
	return Continue
}

// Locked reports whether the threshold has been reached since the last Reset.
func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

func (g *Guard) Failed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

func (g *Guard) Threshold() int {
	return g.threshold
}

// Reset clears all state. Called whenever a share (re)starts.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = 0
	g.tripped = false
}
