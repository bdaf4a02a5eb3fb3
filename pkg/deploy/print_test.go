package deploy

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/resumelab/shipper/pkg/image"
	"github.com/resumelab/shipper/pkg/rollout"
	"github.com/resumelab/shipper/pkg/verify"
)

func TestPrintReport(t *testing.T) {
	now := time.Now()
	report := &Report{
		Outcomes: []rollout.Outcome{
			{
				Service:    "server",
				NewImage:   image.Ref{Registry: "registry.example.com", Repository: "resumelab/server", Tag: "abc123def456"},
				StartedAt:  now,
				FinishedAt: now.Add(90 * time.Second),
				State:      rollout.StateStable,
			},
			{
				Service:    "frontend",
				NewImage:   image.Ref{Registry: "registry.example.com", Repository: "resumelab/frontend", Tag: "abc123def456"},
				StartedAt:  now,
				FinishedAt: now.Add(10 * time.Minute),
				State:      rollout.StateTimedOut,
				Reason:     "service did not stabilise before the deadline",
			},
		},
		Health: []verify.Status{
			{Service: "server", State: verify.StateHealthy},
			{Service: "frontend", State: verify.StateDegraded, Message: "HTTP 503"},
		},
		Skipped: []string{"worker"},
		Overall: StatePartialSuccess,
	}

	out := &bytes.Buffer{}
	PrintReport(out, report)
	printed := out.String()

	assert.Contains(t, printed, "SERVICE")
	assert.Contains(t, printed, "stable")
	assert.Contains(t, printed, "healthy")
	assert.Contains(t, printed, "timed-out")
	assert.Contains(t, printed, "HTTP 503")
	assert.Contains(t, printed, "did not stabilise")
	assert.Contains(t, printed, "worker")
	assert.Contains(t, printed, "skipped")
	assert.Contains(t, printed, "Overall: partial-success")
}
