package player

import (
	"time"
)

// State of the playback controller. Idle and Stopped are both rest states:
// no transcoder is alive and no quiet timer is pending.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) rest() bool {
	return s == Idle || s == Stopped
}

type EventType string

const (
	EventStart  EventType = "start"
	EventFinish EventType = "finish"
	EventEnd    EventType = "end"
	EventError  EventType = "error"
)

// Event is published to handlers registered with OnEvent, in order, from a
// single goroutine.
type Event struct {
	Type      EventType
	SessionID string
	Err       error
}

// Status is a snapshot of the current session.
type Status struct {
	State            State         `json:"-"`
	StateName        string        `json:"state"`
	SessionID        string        `json:"session_id,omitempty"`
	Source           string        `json:"source,omitempty"`
	Title            string        `json:"title,omitempty"`
	Live             bool          `json:"live"`
	Position         time.Duration `json:"-"`
	PositionSeconds  float64       `json:"position_seconds"`
	Duration         time.Duration `json:"-"`
	DurationSeconds  float64       `json:"duration_seconds,omitempty"`
	Exhausted        bool          `json:"exhausted"`
	LastDiagnosticAt *time.Time    `json:"last_diagnostic_at,omitempty"`
	Generation       uint64        `json:"generation"`
}
