package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/huginnscan/huginn/internal/probe"
	"github.com/huginnscan/huginn/internal/target"
)

func testTarget(t *testing.T, addr string) target.Target {
	t.Helper()
	return target.Target{Addr: netip.MustParseAddr(addr)}
}

func TestAggregateSortsByRequestIndex(t *testing.T) {
	run := &ScanRun{}
	outcomes := []Outcome{
		{Request: Request{Index: 2}, Status: StatusSuccess},
		{Request: Request{Index: 0}, Status: StatusFailure},
		{Request: Request{Index: 1}, Status: StatusSuccess},
	}

	aggregate(run, outcomes, time.Now())

	assert.Equal(t, 0, run.Outcomes[0].Request.Index)
	assert.Equal(t, 1, run.Outcomes[1].Request.Index)
	assert.Equal(t, 2, run.Outcomes[2].Request.Index)
	assert.False(t, run.CompletedAt.IsZero())
}

func TestSummarize(t *testing.T) {
	mkTarget := func(addr string) Request {
		return Request{Target: testTarget(t, addr)}
	}

	outcomes := []Outcome{
		{
			Request: mkTarget("10.0.0.1"),
			Status:  StatusSuccess,
			Result: &probe.Result{
				Reachable:   true,
				PacketsSent: 3,
				Ports: []probe.PortResult{
					{Port: 22, State: probe.PortOpen},
					{Port: 80, State: probe.PortClosed},
					{Port: 443, State: probe.PortOpen},
				},
			},
		},
		{
			// Same host seen by a second probe type: counted once.
			Request: mkTarget("10.0.0.1"),
			Status:  StatusSuccess,
			Result:  &probe.Result{Reachable: true, PacketsSent: 1},
		},
		{Request: mkTarget("10.0.0.2"), Status: StatusTimeout},
		{Request: mkTarget("10.0.0.3"), Status: StatusPermissionDenied},
		{Request: mkTarget("10.0.0.4"), Status: StatusNotAttempted},
		{Request: mkTarget("10.0.0.5"), Status: StatusCanceled},
		{Request: mkTarget("10.0.0.6"), Status: StatusFailure},
		{Request: mkTarget("10.0.0.7"), Status: StatusUnreachable, Duration: 400 * time.Millisecond},
	}

	s := summarize(outcomes, 2*time.Second)

	assert.Equal(t, 8, s.TotalRequests)
	assert.Equal(t, 1, s.Unreachable)
	assert.Equal(t, 400*time.Millisecond, s.DurationMax)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 1, s.PermissionDenied)
	assert.Equal(t, 1, s.NotAttempted)
	assert.Equal(t, 1, s.Canceled)
	assert.Equal(t, 1, s.ReachableHosts)
	assert.Equal(t, 2, s.OpenPorts)
	assert.Equal(t, 4, s.PacketsSent)
	assert.Equal(t, 2*time.Second, s.Duration)
}
