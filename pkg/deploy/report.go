package deploy

import (
	"time"

	"github.com/resumelab/shipper/pkg/rollout"
	"github.com/resumelab/shipper/pkg/verify"
)

// OverallState summarises a whole run.
type OverallState string

const (
	// StateSuccess: every rollout stable, every service healthy.
	StateSuccess OverallState = "success"
	// StatePartialSuccess: nothing failed outright, but at least one
	// service timed out, is degraded, or couldn't be reached.
	StatePartialSuccess OverallState = "partial-success"
	// StateFailed: at least one rollout failed terminally.
	StateFailed OverallState = "failed"
)

// Report is the terminal artifact of a run: one rollout outcome per
// service attempted, one health status per service verified, in
// manifest order. Immutable once returned.
type Report struct {
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Outcomes   []rollout.Outcome `json:"outcomes"`
	Health     []verify.Status   `json:"health"`
	// Skipped lists services never attempted because an earlier
	// failure short-circuited them.
	Skipped []string     `json:"skipped,omitempty"`
	Overall OverallState `json:"overall"`
}

// HealthFor finds the health status recorded for a service, if
// verification ran for it.
func (r *Report) HealthFor(service string) (verify.Status, bool) {
	for _, status := range r.Health {
		if status.Service == service {
			return status, true
		}
	}
	return verify.Status{}, false
}

// OutcomeFor finds the rollout outcome recorded for a service.
func (r *Report) OutcomeFor(service string) (rollout.Outcome, bool) {
	for _, outcome := range r.Outcomes {
		if outcome.Service == service {
			return outcome, true
		}
	}
	return rollout.Outcome{}, false
}

// ExitCode maps the overall state onto the process exit status: zero
// only for full success.
func (r *Report) ExitCode() int {
	switch r.Overall {
	case StateSuccess:
		return 0
	case StatePartialSuccess:
		return 1
	default:
		return 2
	}
}

// summarise applies the aggregation rule: failed if any rollout
// failed; success only if every rollout is stable and every service
// verified healthy; partial success for anything in between.
func summarise(outcomes []rollout.Outcome, health []verify.Status, skipped []string) OverallState {
	for _, outcome := range outcomes {
		if outcome.State == rollout.StateFailed {
			return StateFailed
		}
	}
	if len(skipped) > 0 {
		// Services were short-circuited without a hard failure only
		// if the run was cancelled; that's not a success.
		return StatePartialSuccess
	}
	verified := map[string]verify.State{}
	for _, status := range health {
		verified[status.Service] = status.State
	}
	for _, outcome := range outcomes {
		if outcome.State != rollout.StateStable {
			return StatePartialSuccess
		}
		if verified[outcome.Service] != verify.StateHealthy {
			return StatePartialSuccess
		}
	}
	return StateSuccess
}
