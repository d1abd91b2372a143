// Package probe defines the probe contract and the built-in probe
// implementations: ICMP reachability, TCP connect, TCP half-open, and
// UDP. Probes are stateless; everything request-specific arrives through
// Options and the target argument.
package probe

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/huginnscan/huginn/internal/logging"
	"github.com/huginnscan/huginn/internal/metrics"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/target"
)

// Built-in probe type identifiers.
const (
	TypePing       = "ping"
	TypeTCPConnect = "tcp_connect"
	TypeTCPSYN     = "tcp_syn"
	TypeUDP        = "udp"
)

// PortState classifies what a port probe observed.
type PortState string

const (
	// PortOpen means the port acknowledged the probe.
	PortOpen PortState = "open"

	// PortClosed means the target actively refused the probe.
	PortClosed PortState = "closed"

	// PortFiltered means nothing came back before the deadline.
	PortFiltered PortState = "filtered"

	// PortOpenFiltered means silence that cannot distinguish an open
	// port from a dropped probe (UDP).
	PortOpenFiltered PortState = "open|filtered"
)

// PortResult is the observation for one port.
type PortResult struct {
	Port    uint16        `json:"port"`
	State   PortState     `json:"state"`
	Latency time.Duration `json:"latency,omitempty"`
	Banner  string        `json:"banner,omitempty"`
}

// Result is what a probe execution produced. Timing, status, and retry
// accounting are layered on by the engine.
type Result struct {
	// Reachable reports host liveness for host-level probes.
	Reachable bool `json:"reachable,omitempty"`

	// Ports holds per-port observations for port-level probes.
	Ports []PortResult `json:"ports,omitempty"`

	// Details carries probe-specific annotations (method used,
	// fallback caveats, round-trip times).
	Details map[string]string `json:"details,omitempty"`

	// PacketsSent counts network operations performed.
	PacketsSent int `json:"packets_sent"`
}

// Options carries the shared execution environment into a probe.
type Options struct {
	// Timeout bounds the whole probe execution against one target.
	Timeout time.Duration

	// Ports lists the ports to probe, already validated.
	Ports []uint16

	// Limiter throttles outbound network operations. A nil limiter
	// means unlimited.
	Limiter *rate.Limiter

	// Gate answers privilege queries for probes with internal
	// fallbacks.
	Gate *privilege.Gate

	// BannerGrab enables a bounded read after a successful connect.
	BannerGrab bool

	// PortConcurrency bounds concurrent per-port work within one
	// target. Zero means sequential.
	PortConcurrency int64

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Wait blocks on the rate limiter, if one is configured.
func (o *Options) Wait(ctx context.Context) error {
	if o.Limiter == nil {
		return nil
	}
	start := time.Now()
	if err := o.Limiter.Wait(ctx); err != nil {
		return err
	}
	if o.Metrics != nil {
		o.Metrics.RecordRateLimiterWait(time.Since(start))
	}
	return nil
}

// Log returns the configured logger, or the process default.
func (o *Options) Log() *logging.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.Default()
}

// countPacket records one outbound network operation.
func (o *Options) countPacket(probeType string) {
	if o.Metrics != nil {
		o.Metrics.IncrementPacketsSent(probeType)
	}
}

// Probe is one probing technique. Implementations must be safe for
// concurrent use; the engine calls Execute from many goroutines.
type Probe interface {
	// Type returns the unique probe identifier.
	Type() string

	// Description returns a short human-readable summary.
	Description() string

	// RequiredPrivilege reports what the probe needs before any
	// packet leaves the machine. Probes with a graceful unprivileged
	// fallback return privilege.None and consult the gate themselves.
	RequiredPrivilege() privilege.Level

	// Execute probes one target. The context carries the deadline and
	// cancellation; implementations must stop promptly when it fires.
	Execute(ctx context.Context, tgt target.Target, opts *Options) (*Result, error)
}
