// Package schedule decides when a share starts and stops on its own. The
// decision functions are pure; Runner is the single ticker that feeds them
// the current time.
package schedule

import (
	"fmt"
	"time"

	"sharebeam/internal/errs"
)

// Phase is the part of the session lifecycle the scheduler cares about.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScheduled
	PhaseStarted
)

type Action int

const (
	None Action = iota
	StartNow
	StopNow
)

func (a Action) String() string {
	switch a {
	case StartNow:
		return "start"
	case StopNow:
		return "stop"
	default:
		return "none"
	}
}

// Window holds the optional autostart and autostop timestamps. A zero
// time means the timer is not set.
type Window struct {
	StartAt time.Time
	StopAt  time.Time
}

func (w Window) HasStart() bool { return !w.StartAt.IsZero() }
func (w Window) HasStop() bool  { return !w.StopAt.IsZero() }

// Validate checks the window at start time. Autostart must precede
// autostop, and autostop must still be ahead of now.
func (w Window) Validate(now time.Time) error {
	if w.HasStart() && w.HasStop() && !w.StartAt.Before(w.StopAt) {
		return fmt.Errorf("%w: autostart %s is not before autostop %s",
			errs.ErrInvalidSchedule, w.StartAt.Format(time.RFC3339), w.StopAt.Format(time.RFC3339))
	}
	if w.HasStop() && !w.StopAt.After(now) {
		return fmt.Errorf("%w: autostop %s has already passed",
			errs.ErrInvalidSchedule, w.StopAt.Format(time.RFC3339))
	}
	return nil
}

// Decide returns the transition due at now for a session in phase p.
func (w Window) Decide(p Phase, now time.Time) Action {
	switch p {
	case PhaseScheduled:
		if !w.HasStart() || !now.Before(w.StartAt) {
			return StartNow
		}
	case PhaseStarted:
		if w.HasStop() && !now.Before(w.StopAt) {
			return StopNow
		}
	}
	return None
}
