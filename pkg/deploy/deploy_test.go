package deploy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumelab/shipper/pkg/image"
	"github.com/resumelab/shipper/pkg/rollout"
	"github.com/resumelab/shipper/pkg/verify"
)

// eventLog records the order of stage calls across all fakes, so
// tests can check per-service sequencing.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) indexOf(event string) int {
	for i, e := range l.all() {
		if e == event {
			return i
		}
	}
	return -1
}

type fakePublisher struct {
	log  *eventLog
	fail map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, service, _, repository string) (image.Ref, error) {
	p.log.add("publish:" + service)
	if err := p.fail[service]; err != nil {
		return image.Ref{}, err
	}
	ref, _ := image.ParseRef(repository)
	return ref.WithTag("abc123def456"), nil
}

type fakeRollouts struct {
	log    *eventLog
	states map[string]rollout.State
	delay  time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (r *fakeRollouts) Rollout(_ context.Context, service string, _ int64, img image.Ref, _ time.Duration) rollout.Outcome {
	r.log.add("rollout:" + service)
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	state := rollout.StateStable
	if s, ok := r.states[service]; ok {
		state = s
	}
	now := time.Now()
	return rollout.Outcome{
		Service:    service,
		NewImage:   img,
		StartedAt:  now,
		FinishedAt: now,
		State:      state,
	}
}

type fakeVerifier struct {
	log    *eventLog
	states map[string]verify.State
}

func (v *fakeVerifier) Verify(_ context.Context, service, _ string) verify.Status {
	v.log.add("verify:" + service)
	state := verify.StateHealthy
	if s, ok := v.states[service]; ok {
		state = s
	}
	return verify.Status{Service: service, CheckedAt: time.Now(), State: state}
}

func testSpecs() []ServiceSpec {
	return []ServiceSpec{
		{Name: "server", BuildContext: "./server", Port: 8000, HealthPath: "/health", Replicas: 2},
		{Name: "frontend", BuildContext: "./frontend", Port: 8501, HealthPath: "/health", Replicas: 1, DependsOn: []string{"server"}},
	}
}

func testDescriptor() Descriptor {
	return Descriptor{
		Region:  "eu-west-1",
		Cluster: "resumelab",
		RegistryURLs: map[string]string{
			"server":   "registry.example.com/resumelab/server",
			"frontend": "registry.example.com/resumelab/frontend",
		},
		LoadBalancer: "lb.example.com",
	}
}

type fixture struct {
	log       *eventLog
	publisher *fakePublisher
	rollouts  *fakeRollouts
	verifier  *fakeVerifier
	orc       *Orchestrator
}

func newFixture() *fixture {
	l := &eventLog{}
	f := &fixture{
		log:       l,
		publisher: &fakePublisher{log: l, fail: map[string]error{}},
		rollouts:  &fakeRollouts{log: l, states: map[string]rollout.State{}},
		verifier:  &fakeVerifier{log: l, states: map[string]verify.State{}},
	}
	f.orc = &Orchestrator{
		Publisher: f.publisher,
		Rollouts:  f.rollouts,
		Verifier:  f.verifier,
		Logger:    log.NewNopLogger(),
	}
	return f
}

func TestRunSuccess(t *testing.T) {
	f := newFixture()
	report, err := f.orc.Run(context.Background(), testSpecs(), testDescriptor())
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, report.Overall)
	assert.Equal(t, 0, report.ExitCode())
	assert.Len(t, report.Outcomes, 2)
	assert.Len(t, report.Health, 2)
	assert.Empty(t, report.Skipped)

	// within each service's lifecycle: publish, then rollout, then verify
	for _, svc := range []string{"server", "frontend"} {
		p, r, v := f.log.indexOf("publish:"+svc), f.log.indexOf("rollout:"+svc), f.log.indexOf("verify:"+svc)
		assert.True(t, p < r && r < v, "stage order for %s: %v", svc, f.log.all())
	}
	// frontend declared a dependency on server, so it starts only
	// after server's rollout concluded
	assert.True(t, f.log.indexOf("rollout:server") < f.log.indexOf("publish:frontend"))
}

func TestRunShortCircuitsOnFailedRollout(t *testing.T) {
	f := newFixture()
	f.rollouts.states["server"] = rollout.StateFailed

	report, err := f.orc.Run(context.Background(), testSpecs(), testDescriptor())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.Overall)
	assert.NotEqual(t, 0, report.ExitCode())

	// the dependent service was never attempted at all
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "server", report.Outcomes[0].Service)
	assert.Equal(t, []string{"frontend"}, report.Skipped)
	assert.Equal(t, -1, f.log.indexOf("publish:frontend"))

	// a failed rollout is never health-checked
	assert.Empty(t, report.Health)
	_, ok := report.HealthFor("server")
	assert.False(t, ok)
}

func TestRunDegradedHealthIsPartialSuccess(t *testing.T) {
	f := newFixture()
	f.verifier.states["frontend"] = verify.StateDegraded

	report, err := f.orc.Run(context.Background(), testSpecs(), testDescriptor())
	require.NoError(t, err)

	assert.Equal(t, StatePartialSuccess, report.Overall)
	assert.Len(t, report.Outcomes, 2)
	assert.Len(t, report.Health, 2)
}

func TestRunTimedOutRolloutStillVerifies(t *testing.T) {
	f := newFixture()
	f.rollouts.states["server"] = rollout.StateTimedOut

	report, err := f.orc.Run(context.Background(), testSpecs(), testDescriptor())
	require.NoError(t, err)

	// health is still checked after a timed-out rollout; the service
	// may well have converged meanwhile
	assert.NotEqual(t, -1, f.log.indexOf("verify:server"))
	assert.Equal(t, StatePartialSuccess, report.Overall)
	// timed out is not failed: the dependent service still deploys
	assert.Len(t, report.Outcomes, 2)
	assert.Empty(t, report.Skipped)
}

func TestRunPublishFailure(t *testing.T) {
	f := newFixture()
	f.publisher.fail["server"] = errors.New("i/o timeout")

	report, err := f.orc.Run(context.Background(), testSpecs(), testDescriptor())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, report.Overall)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, rollout.StateFailed, report.Outcomes[0].State)
	assert.Contains(t, report.Outcomes[0].Reason, "publish")
	// no rollout was requested for the unpublished image
	assert.Equal(t, -1, f.log.indexOf("rollout:server"))
	assert.Equal(t, []string{"frontend"}, report.Skipped)
}

func TestRunBoundsConcurrency(t *testing.T) {
	f := newFixture()
	f.rollouts.delay = 30 * time.Millisecond
	f.orc.MaxConcurrent = 2

	specs := []ServiceSpec{
		{Name: "a", BuildContext: ".", Port: 80, HealthPath: "/health", Replicas: 1},
		{Name: "b", BuildContext: ".", Port: 81, HealthPath: "/health", Replicas: 1},
		{Name: "c", BuildContext: ".", Port: 82, HealthPath: "/health", Replicas: 1},
		{Name: "d", BuildContext: ".", Port: 83, HealthPath: "/health", Replicas: 1},
	}
	desc := testDescriptor()
	for _, spec := range specs {
		desc.RegistryURLs[spec.Name] = "registry.example.com/resumelab/" + spec.Name
	}

	report, err := f.orc.Run(context.Background(), specs, desc)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, report.Overall)
	assert.Len(t, report.Outcomes, 4)
	assert.True(t, f.rollouts.maxInFlight <= 2, "max in flight was %d", f.rollouts.maxInFlight)
}

func TestRunCancelledStopsStartingServices(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orc.Run(ctx, testSpecs(), testDescriptor())
	require.NoError(t, err)
	assert.Equal(t, StatePartialSuccess, report.Overall)
	assert.Empty(t, report.Outcomes)
	assert.Equal(t, []string{"server", "frontend"}, report.Skipped)
}

func TestRunRejectsBadConfiguration(t *testing.T) {
	f := newFixture()

	// descriptor without a registry URL for a listed service
	desc := testDescriptor()
	delete(desc.RegistryURLs, "frontend")
	_, err := f.orc.Run(context.Background(), testSpecs(), desc)
	assert.Error(t, err)

	// duplicate service names
	specs := testSpecs()
	specs[1] = specs[0]
	_, err = f.orc.Run(context.Background(), specs, testDescriptor())
	assert.Error(t, err)
}
