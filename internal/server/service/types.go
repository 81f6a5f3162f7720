package service

import (
	"time"

	"sharebeam/internal/server/history"
)

type State int

const (
	StateStopped State = iota
	StateScheduled
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateScheduled:
		return "scheduled"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StopReason says why a share ended.
type StopReason string

const (
	ReasonNone             StopReason = ""
	ReasonUser             StopReason = "user"
	ReasonSchedule         StopReason = "schedule"
	ReasonLockout          StopReason = "lockout"
	ReasonDownloadComplete StopReason = "download_complete"
	ReasonError            StopReason = "error"
)

type EventKind string

const (
	EventStateChanged      EventKind = "state_changed"
	EventDownloadStarted   EventKind = EventKind(history.EventStarted)
	EventDownloadProgress  EventKind = EventKind(history.EventProgress)
	EventDownloadCompleted EventKind = EventKind(history.EventCompleted)
	EventDownloadCanceled  EventKind = EventKind(history.EventCanceled)
	EventAuthFailed        EventKind = "auth_failed"
)

// Event is delivered to subscribers. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind EventKind
	At   time.Time

	// state_changed
	State  State
	Reason StopReason

	// download_*
	Download *history.Entry

	// auth_failed
	FailedAttempts int
}

// Settings configure the next share. They can only change while the
// controller is stopped.
type Settings struct {
	// Paths, when non-nil, replace the content of the file set.
	Paths              []string
	Public             bool
	AutoStopOnDownload bool
	AutostartAt        time.Time
	AutostopAt         time.Time
	Title              string
	Description        string
}

// Status is a point-in-time view of the controller.
type Status struct {
	State              State           `json:"state"`
	URL                string          `json:"url,omitempty"`
	Username           string          `json:"username,omitempty"`
	Password           string          `json:"-"`
	Public             bool            `json:"public"`
	AutoStopOnDownload bool            `json:"auto_stop_on_download"`
	AutostartAt        time.Time       `json:"autostart_at,omitempty"`
	AutostopAt         time.Time       `json:"autostop_at,omitempty"`
	FailedAttempts     int             `json:"failed_attempts"`
	LastStopReason     StopReason      `json:"last_stop_reason,omitempty"`
	TotalSize          int64           `json:"total_size"`
	LargeShare         bool            `json:"large_share"`
	History            []history.Entry `json:"history"`
}
