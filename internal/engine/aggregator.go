package engine

import (
	"sort"
	"time"

	"github.com/huginnscan/huginn/internal/probe"
)

// aggregate collects outcomes into a finished ScanRun. Outcomes arrive
// in completion order; reporting wants dispatch order.
func aggregate(run *ScanRun, outcomes []Outcome, started time.Time) {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Request.Index < outcomes[j].Request.Index
	})
	run.Outcomes = outcomes
	run.CompletedAt = time.Now()
	run.Summary = summarize(outcomes, run.CompletedAt.Sub(started))
}

func summarize(outcomes []Outcome, duration time.Duration) Summary {
	s := Summary{
		TotalRequests: len(outcomes),
		Duration:      duration,
	}

	reachable := make(map[string]struct{})
	var attempted int
	var durationSum time.Duration
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailure:
			s.Failed++
		case StatusTimeout:
			s.TimedOut++
		case StatusUnreachable:
			s.Unreachable++
		case StatusPermissionDenied:
			s.PermissionDenied++
		case StatusCanceled:
			s.Canceled++
		case StatusNotAttempted:
			s.NotAttempted++
		}

		if o.Status != StatusNotAttempted && o.Status != StatusPermissionDenied {
			attempted++
			durationSum += o.Duration
			if s.DurationMin == 0 || o.Duration < s.DurationMin {
				s.DurationMin = o.Duration
			}
			if o.Duration > s.DurationMax {
				s.DurationMax = o.Duration
			}
		}

		if o.Result == nil {
			continue
		}
		s.PacketsSent += o.Result.PacketsSent
		if o.Result.Reachable {
			reachable[o.Request.Target.Addr.String()] = struct{}{}
		}
		for _, pr := range o.Result.Ports {
			if pr.State == probe.PortOpen {
				s.OpenPorts++
			}
		}
	}
	s.ReachableHosts = len(reachable)
	if attempted > 0 {
		s.DurationMean = durationSum / time.Duration(attempted)
	}
	return s
}
