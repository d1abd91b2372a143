package engine

import (
	"time"

	"github.com/huginnscan/huginn/internal/probe"
	"github.com/huginnscan/huginn/internal/target"
)

// Status classifies how one probe request ended.
type Status string

const (
	// StatusSuccess means the probe ran and produced an observation.
	StatusSuccess Status = "success"

	// StatusFailure means the probe ran and failed terminally.
	StatusFailure Status = "failure"

	// StatusUnreachable means a reachability probe got no answer from
	// the host after all attempts.
	StatusUnreachable Status = "unreachable"

	// StatusTimeout means the per-request deadline fired.
	StatusTimeout Status = "timeout"

	// StatusPermissionDenied means the privilege gate refused the
	// probe before any packet was sent.
	StatusPermissionDenied Status = "permission_denied"

	// StatusCanceled means cancellation interrupted a running probe.
	StatusCanceled Status = "canceled"

	// StatusNotAttempted means the run was canceled before this
	// request was admitted.
	StatusNotAttempted Status = "not_attempted"
)

// Request pairs one target with one probe type. Index preserves the
// dispatch order for stable reporting.
type Request struct {
	Index     int           `json:"index"`
	Target    target.Target `json:"target"`
	ProbeType string        `json:"probe_type"`
}

// Outcome is the terminal record for one request. Every request gets
// exactly one.
type Outcome struct {
	Request   Request       `json:"request"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Result    *probe.Result `json:"result,omitempty"`
}

// Summary aggregates a completed run.
type Summary struct {
	TotalRequests    int           `json:"total_requests"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	TimedOut         int           `json:"timed_out"`
	Unreachable      int           `json:"unreachable"`
	PermissionDenied int           `json:"permission_denied"`
	Canceled         int           `json:"canceled"`
	NotAttempted     int           `json:"not_attempted"`
	ReachableHosts   int           `json:"reachable_hosts"`
	OpenPorts        int           `json:"open_ports"`
	PacketsSent      int           `json:"packets_sent"`
	Duration         time.Duration `json:"duration"`

	// Per-request duration statistics over attempted requests.
	DurationMin  time.Duration `json:"duration_min"`
	DurationMean time.Duration `json:"duration_mean"`
	DurationMax  time.Duration `json:"duration_max"`
}

// ScanRun is the complete record of one engine invocation.
type ScanRun struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Targets     []target.Target `json:"targets"`
	Outcomes    []Outcome       `json:"outcomes"`
	Summary     Summary         `json:"summary"`
}
