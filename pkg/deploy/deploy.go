package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/resumelab/shipper/pkg/image"
	shippermetrics "github.com/resumelab/shipper/pkg/metrics"
	"github.com/resumelab/shipper/pkg/rollout"
	"github.com/resumelab/shipper/pkg/verify"
)

// DefaultMaxConcurrent bounds how many independent services deploy at
// once, so a wide manifest doesn't exhaust registry or scheduler API
// rate limits.
const DefaultMaxConcurrent = 4

// Publisher builds and pushes a service's image, returning the
// reference that was pushed.
type Publisher interface {
	Publish(ctx context.Context, service, contextDir, repository string) (image.Ref, error)
}

// RolloutController replaces a service's running instances with the
// given image and reports how that concluded.
type RolloutController interface {
	Rollout(ctx context.Context, service string, desired int64, img image.Ref, deadline time.Duration) rollout.Outcome
}

// HealthVerifier probes a service after rollout and classifies it.
type HealthVerifier interface {
	Verify(ctx context.Context, service, url string) verify.Status
}

// Orchestrator sequences publish, rollout and verification for an
// ordered list of services and aggregates the outcomes into a
// DeploymentReport.
type Orchestrator struct {
	Publisher Publisher
	Rollouts  RolloutController
	Verifier  HealthVerifier
	Logger    log.Logger

	// MaxConcurrent bounds concurrently deploying services; zero
	// means DefaultMaxConcurrent.
	MaxConcurrent int
	// RolloutDeadline is passed through to each rollout; zero means
	// the controller's default.
	RolloutDeadline time.Duration

	Metrics Metrics
}

type serviceResult struct {
	index   int
	outcome rollout.Outcome
	health  *verify.Status
}

func (o *Orchestrator) maxConcurrent() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return DefaultMaxConcurrent
}

func (o *Orchestrator) metrics() Metrics {
	if o.Metrics.StageDuration == nil {
		return NewNopMetrics()
	}
	return o.Metrics
}

// Run deploys every service in specs, in dependency order, and
// returns the complete report. Only configuration problems produce an
// error; per-service failures are folded into the report. Once any
// rollout fails terminally, no further services are started, though
// services already in flight run to completion. Cancelling ctx stops
// new starts and makes in-flight polling wind down promptly.
func (o *Orchestrator) Run(ctx context.Context, specs []ServiceSpec, desc Descriptor) (*Report, error) {
	seen := map[string]bool{}
	for _, spec := range specs {
		if err := validateSpec(spec, seen); err != nil {
			return nil, err
		}
		seen[spec.Name] = true
	}
	if err := desc.Validate(specs); err != nil {
		return nil, err
	}

	report := &Report{StartedAt: time.Now()}
	o.Logger.Log("msg", "starting deployment", "services", len(specs), "cluster", desc.Cluster)

	var (
		results  = make([]*serviceResult, len(specs))
		resultCh = make(chan serviceResult)
		started  = make([]bool, len(specs))
		running  = 0
		failed   = false
	)

	ready := func(spec ServiceSpec) bool {
		for _, dep := range spec.DependsOn {
			var depResult *serviceResult
			for i := range specs {
				if specs[i].Name == dep {
					depResult = results[i]
				}
			}
			if depResult == nil || depResult.outcome.State == rollout.StateFailed {
				return false
			}
		}
		return true
	}

	startEligible := func() {
		if failed || ctx.Err() != nil {
			return
		}
		for i := range specs {
			if running >= o.maxConcurrent() {
				return
			}
			if started[i] || !ready(specs[i]) {
				continue
			}
			started[i] = true
			running++
			go func(i int, spec ServiceSpec) {
				resultCh <- o.deployOne(ctx, i, spec, desc)
			}(i, specs[i])
		}
	}

	startEligible()
	for running > 0 {
		res := <-resultCh
		running--
		r := res
		results[res.index] = &r
		if res.outcome.State == rollout.StateFailed {
			failed = true
		}
		startEligible()
	}

	for i, spec := range specs {
		if results[i] == nil {
			report.Skipped = append(report.Skipped, spec.Name)
			continue
		}
		report.Outcomes = append(report.Outcomes, results[i].outcome)
		if results[i].health != nil {
			report.Health = append(report.Health, *results[i].health)
		}
	}
	report.Overall = summarise(report.Outcomes, report.Health, report.Skipped)
	report.FinishedAt = time.Now()
	o.Logger.Log("msg", "deployment finished", "overall", report.Overall, "took", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// deployOne runs one service's lifecycle: publish, then rollout, then
// verification. Verification only happens once the rollout has
// reached a terminal state, and not at all when it failed.
func (o *Orchestrator) deployOne(ctx context.Context, index int, spec ServiceSpec, desc Descriptor) serviceResult {
	logger := log.With(o.Logger, "service", spec.Name)
	res := serviceResult{index: index}

	begin := time.Now()
	img, err := o.Publisher.Publish(ctx, spec.Name, spec.BuildContext, desc.RegistryURLs[spec.Name])
	o.observe(shippermetrics.StagePublish, spec.Name, begin, err == nil)
	if err != nil {
		logger.Log("stage", "publish", "err", err)
		// A service whose image never made it to the registry has
		// nothing to roll out; record that as this service's failure.
		res.outcome = rollout.Outcome{
			Service:    spec.Name,
			StartedAt:  begin,
			FinishedAt: time.Now(),
			State:      rollout.StateFailed,
			Reason:     fmt.Sprintf("publish: %s", err),
		}
		return res
	}

	begin = time.Now()
	outcome := o.Rollouts.Rollout(ctx, spec.Name, int64(spec.Replicas), img, o.RolloutDeadline)
	o.observe(shippermetrics.StageRollout, spec.Name, begin, outcome.State == rollout.StateStable)
	res.outcome = outcome
	if outcome.State == rollout.StateFailed {
		return res
	}

	begin = time.Now()
	status := o.Verifier.Verify(ctx, spec.Name, desc.HealthURL(spec))
	o.observe(shippermetrics.StageVerify, spec.Name, begin, status.State == verify.StateHealthy)
	res.health = &status
	return res
}

func (o *Orchestrator) observe(stage, service string, begin time.Time, success bool) {
	o.metrics().StageDuration.With(
		shippermetrics.LabelService, service,
		shippermetrics.LabelStage, stage,
		shippermetrics.LabelSuccess, fmt.Sprint(success),
	).Observe(time.Since(begin).Seconds())
}
