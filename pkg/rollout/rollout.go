package rollout

import (
	"time"

	"github.com/resumelab/shipper/pkg/image"
)

// State is where a service's rollout has got to. A rollout starts at
// Requested, moves to InProgress once the scheduler has accepted the
// forced deployment, and ends in exactly one of Stable, TimedOut or
// Failed.
type State string

const (
	StateRequested  State = "requested"
	StateInProgress State = "in-progress"

	// Terminal states.
	StateStable   State = "stable"
	StateTimedOut State = "timed-out"
	StateFailed   State = "failed"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	switch s {
	case StateStable, StateTimedOut, StateFailed:
		return true
	}
	return false
}

// Outcome is the record of one service's rollout within a run. It is
// appended to the run's report and never mutated afterwards.
type Outcome struct {
	Service       string    `json:"service"`
	PreviousImage string    `json:"previousImage,omitempty"`
	NewImage      image.Ref `json:"newImage"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	State         State     `json:"state"`
	Reason        string    `json:"reason,omitempty"`
}
