package verify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
)

// State classifies what a health probe saw.
type State string

const (
	// StateHealthy: the service answered 2xx.
	StateHealthy State = "healthy"
	// StateDegraded: the service answered, but not 2xx.
	StateDegraded State = "degraded"
	// StateUnreachable: no answer at all (refused, timed out).
	StateUnreachable State = "unreachable"
)

// Status is the verification record for one service; produced once
// per run, after the service's rollout has reached a terminal state.
type Status struct {
	Service   string        `json:"service"`
	CheckedAt time.Time     `json:"checkedAt"`
	State     State         `json:"state"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
}

const (
	// DefaultGrace is the warm-up allowance between a rollout
	// reaching a terminal state and the first probe.
	DefaultGrace = 30 * time.Second
	// DefaultGap separates probe attempts.
	DefaultGap = 10 * time.Second
	// DefaultAttempts bounds how many probes are made before the
	// classification settles.
	DefaultAttempts = 3
	// DefaultProbeTimeout bounds a single probe request.
	DefaultProbeTimeout = 5 * time.Second
)

// Verifier probes a service's health endpoint through the load
// balancer and classifies the result. It never mutates deployed
// state.
type Verifier struct {
	Client *http.Client
	Logger log.Logger

	// Zero values mean the defaults above.
	Grace    time.Duration
	Gap      time.Duration
	Attempts int

	Clock clockwork.Clock
}

func (v *Verifier) clock() clockwork.Clock {
	if v.Clock != nil {
		return v.Clock
	}
	return clockwork.NewRealClock()
}

func (v *Verifier) client() *http.Client {
	if v.Client != nil {
		return v.Client
	}
	return &http.Client{Timeout: DefaultProbeTimeout}
}

func (v *Verifier) attempts() int {
	if v.Attempts > 0 {
		return v.Attempts
	}
	return DefaultAttempts
}

func (v *Verifier) gap() time.Duration {
	if v.Gap > 0 {
		return v.Gap
	}
	return DefaultGap
}

// Verify waits out the grace period, then probes the given URL until
// it sees a healthy response or runs out of attempts. The last
// attempt decides the classification: it reflects the service's
// current reality, whatever earlier probes saw.
func (v *Verifier) Verify(ctx context.Context, service, url string) Status {
	logger := log.With(v.Logger, "service", service, "url", url)

	if v.Grace > 0 {
		select {
		case <-v.clock().After(v.Grace):
		case <-ctx.Done():
			return v.cancelled(ctx, service)
		}
	}

	var status Status
	for attempt := 1; attempt <= v.attempts(); attempt++ {
		status = v.probe(ctx, service, url)
		logger.Log("attempt", attempt, "state", status.State, "latency", status.Latency, "msg", status.Message)
		if status.State == StateHealthy {
			return status
		}
		if attempt == v.attempts() {
			break
		}
		select {
		case <-v.clock().After(v.gap()):
		case <-ctx.Done():
			return v.cancelled(ctx, service)
		}
	}
	return status
}

func (v *Verifier) probe(ctx context.Context, service, url string) Status {
	status := Status{
		Service:   service,
		CheckedAt: v.clock().Now(),
	}
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		status.State = StateUnreachable
		status.Message = err.Error()
		return status
	}

	begin := time.Now()
	resp, err := v.client().Do(req.WithContext(ctx))
	status.Latency = time.Since(begin)
	if err != nil {
		status.State = StateUnreachable
		status.Message = err.Error()
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		status.State = StateHealthy
		return status
	}
	status.State = StateDegraded
	status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	return status
}

func (v *Verifier) cancelled(ctx context.Context, service string) Status {
	return Status{
		Service:   service,
		CheckedAt: v.clock().Now(),
		State:     StateUnreachable,
		Message:   fmt.Sprintf("verification cancelled: %s", ctx.Err()),
	}
}
