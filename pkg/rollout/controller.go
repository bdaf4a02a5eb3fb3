package rollout

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/resumelab/shipper/pkg/image"
)

const (
	// DefaultInterval is how often the scheduler is asked about the
	// service while a rollout is in progress.
	DefaultInterval = 15 * time.Second

	// DefaultDeadline is how long a rollout may take before it is
	// reported as timed out. The scheduler keeps converging after
	// that; we just stop waiting.
	DefaultDeadline = 10 * time.Minute

	// After this many task launches have failed within the current
	// deployment, the rollout is considered to have failed
	// terminally. A bad image or task definition will fail every
	// launch; waiting for the deadline tells us nothing more.
	failedTaskThreshold = 3

	deploymentPrimary = "PRIMARY"
)

// Controller instructs the scheduler to replace a service's running
// instances with a new image and waits for the replacement to
// stabilise.
type Controller struct {
	ECS     ecsiface.ECSAPI
	Cluster string
	Logger  log.Logger

	// Interval between status polls; zero means DefaultInterval.
	Interval time.Duration

	// Limiter, when set, bounds describe-service calls across all
	// concurrent rollouts sharing this controller, so a wide deploy
	// doesn't exhaust the scheduler API's rate limits.
	Limiter *rate.Limiter

	Clock clockwork.Clock
}

func (c *Controller) clock() clockwork.Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return clockwork.NewRealClock()
}

func (c *Controller) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return DefaultInterval
}

// Rollout forces a new deployment of the named service and polls the
// scheduler until the service is stable, the deadline elapses, or
// the scheduler reports a terminal launch failure. It always returns
// an Outcome in a terminal state; cancellation of ctx is reported as
// timed out, since the scheduler carries on regardless.
func (c *Controller) Rollout(ctx context.Context, service string, desired int64, img image.Ref, deadline time.Duration) Outcome {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	logger := log.With(c.Logger, "service", service, "image", img.String())
	outcome := Outcome{
		Service:   service,
		NewImage:  img,
		StartedAt: c.clock().Now(),
		State:     StateRequested,
	}
	finish := func(state State, reason string) Outcome {
		outcome.State = state
		outcome.Reason = reason
		outcome.FinishedAt = c.clock().Now()
		logger.Log("state", state, "reason", reason, "took", outcome.FinishedAt.Sub(outcome.StartedAt))
		return outcome
	}

	// Best effort; a service that has never deployed has nothing to
	// record here.
	if prev, err := c.currentImage(ctx, service); err == nil {
		outcome.PreviousImage = prev
	} else {
		logger.Log("msg", "could not determine previous image", "err", err)
	}

	// Fire and forget: the scheduler owns draining old instances,
	// launching new ones and re-registering them with the load
	// balancer.
	_, err := c.ECS.UpdateServiceWithContext(ctx, &ecs.UpdateServiceInput{
		Cluster:            aws.String(c.Cluster),
		Service:            aws.String(service),
		ForceNewDeployment: aws.Bool(true),
	})
	if err != nil {
		return finish(StateFailed, fmt.Sprintf("requesting new deployment: %s", err))
	}
	outcome.State = StateInProgress
	logger.Log("state", StateInProgress)

	deadlineAt := outcome.StartedAt.Add(deadline)
	var lastErr error
	for {
		status, err := c.describe(ctx, service)
		switch {
		case err != nil:
			// Transient API trouble is not a rollout failure; keep
			// polling until the deadline.
			lastErr = err
			logger.Log("err", err)
		case status.failed:
			return finish(StateFailed, status.reason)
		case status.stable:
			if status.desired != desired {
				logger.Log("msg", "scheduler desired count differs from manifest", "scheduler", status.desired, "manifest", desired)
			}
			return finish(StateStable, "")
		}

		if !c.clock().Now().Add(c.interval()).Before(deadlineAt) {
			reason := "service did not stabilise before the deadline"
			if lastErr != nil {
				reason = fmt.Sprintf("%s (last error: %s)", reason, lastErr)
			}
			return finish(StateTimedOut, reason)
		}
		select {
		case <-ctx.Done():
			return finish(StateTimedOut, fmt.Sprintf("orchestration cancelled: %s", ctx.Err()))
		case <-c.clock().After(c.interval()):
		}
	}
}

type serviceStatus struct {
	desired, running int64
	stable           bool
	failed           bool
	reason           string
}

func (c *Controller) describe(ctx context.Context, service string) (serviceStatus, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return serviceStatus{}, err
		}
	}
	out, err := c.ECS.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.Cluster),
		Services: []*string{aws.String(service)},
	})
	if err != nil {
		return serviceStatus{}, err
	}
	for _, failure := range out.Failures {
		// A missing service will not appear by polling longer.
		if aws.StringValue(failure.Reason) == "MISSING" {
			return serviceStatus{failed: true, reason: fmt.Sprintf("service %s not found in cluster %s", service, c.Cluster)}, nil
		}
	}
	if len(out.Services) == 0 {
		return serviceStatus{}, fmt.Errorf("describe returned no service %s", service)
	}

	svc := out.Services[0]
	status := serviceStatus{
		desired: aws.Int64Value(svc.DesiredCount),
		running: aws.Int64Value(svc.RunningCount),
	}

	var primary *ecs.Deployment
	for _, d := range svc.Deployments {
		if aws.StringValue(d.Status) == deploymentPrimary {
			primary = d
			break
		}
	}
	if primary == nil {
		return status, nil
	}

	switch aws.StringValue(primary.RolloutState) {
	case ecs.DeploymentRolloutStateFailed:
		status.failed = true
		status.reason = aws.StringValue(primary.RolloutStateReason)
		if status.reason == "" {
			status.reason = "scheduler reported the deployment failed"
		}
		return status, nil
	}
	if aws.Int64Value(primary.FailedTasks) >= failedTaskThreshold {
		status.failed = true
		status.reason = fmt.Sprintf("%d task launches failed; giving up", aws.Int64Value(primary.FailedTasks))
		return status, nil
	}

	// Stable means the old deployment is gone and the new one is
	// running its full complement past the scheduler's readiness
	// checks.
	status.stable = len(svc.Deployments) == 1 &&
		status.running == status.desired &&
		status.desired > 0 &&
		aws.StringValue(primary.RolloutState) != ecs.DeploymentRolloutStateInProgress
	return status, nil
}

// currentImage looks up the image the service's present task
// definition runs, for the before side of the outcome record.
func (c *Controller) currentImage(ctx context.Context, service string) (string, error) {
	out, err := c.ECS.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.Cluster),
		Services: []*string{aws.String(service)},
	})
	if err != nil {
		return "", err
	}
	if len(out.Services) == 0 || out.Services[0].TaskDefinition == nil {
		return "", fmt.Errorf("no task definition for service %s", service)
	}
	td, err := c.ECS.DescribeTaskDefinitionWithContext(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: out.Services[0].TaskDefinition,
	})
	if err != nil {
		return "", err
	}
	defs := td.TaskDefinition.ContainerDefinitions
	if len(defs) == 0 {
		return "", fmt.Errorf("task definition for %s has no containers", service)
	}
	return aws.StringValue(defs[0].Image), nil
}
