// Package engine dispatches probe requests with bounded concurrency,
// rate limiting, retries, and graceful cancellation, and aggregates the
// outcomes of a run.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/huginnscan/huginn/internal/config"
	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/logging"
	"github.com/huginnscan/huginn/internal/metrics"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/probe"
	"github.com/huginnscan/huginn/internal/target"
)

// Engine turns a validated scan configuration into a completed ScanRun.
type Engine struct {
	cfg      *config.ScanConfig
	registry *probe.Registry
	gate     *privilege.Gate
	expander *target.Expander
	resolver target.Resolver
	logger   *logging.Logger
	metrics  *metrics.Metrics
	progress func(done, total int)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the default probe registry.
func WithRegistry(r *probe.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithGate replaces platform privilege detection.
func WithGate(g *privilege.Gate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithExpander replaces the default target expander.
func WithExpander(x *target.Expander) Option {
	return func(e *Engine) { e.expander = x }
}

// WithResolver replaces the DNS resolver used for pending hostname
// targets at dispatch time.
func WithResolver(r target.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProgress registers a callback invoked after every settled
// request. Called from the collector goroutine, never concurrently.
func WithProgress(fn func(done, total int)) Option {
	return func(e *Engine) { e.progress = fn }
}

// New creates an engine for the given scan configuration.
func New(cfg *config.ScanConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.NewConfigError(errors.CodeConfiguration, "scan configuration is required")
	}

	e := &Engine{
		cfg:      cfg,
		registry: probe.DefaultRegistry(),
		gate:     privilege.NewGate(),
		logger:   logging.Default().WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.expander == nil {
		e.expander = target.NewExpander(target.WithStrict(cfg.StrictTargets))
	}
	if e.resolver == nil {
		e.resolver = target.NewDNSResolver()
	}
	return e, nil
}

// Run executes one scan. It returns an error only for configuration
// problems found before dispatch; probe failures, timeouts, and
// cancellation are recorded per request, and the aggregated result is
// returned even when the context is canceled mid-run.
func (e *Engine) Run(ctx context.Context) (*ScanRun, error) {
	started := time.Now()
	run := &ScanRun{
		ID:        uuid.New().String(),
		StartedAt: started,
	}
	logger := e.logger.WithRunID(run.ID)

	probes, ports, err := e.resolveProbes()
	if err != nil {
		return nil, err
	}

	targets, err := e.expander.Expand(ctx, e.cfg.Targets, e.cfg.Exclusions)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, errors.NewTargetError(errors.CodeTargetInvalid,
			"target expansion produced no addresses", "")
	}
	run.Targets = targets

	requests := buildRequests(targets, e.cfg.ProbeTypes)
	logger.InfoEngine("Scan starting",
		"targets", len(targets),
		"probe_types", e.cfg.ProbeTypes,
		"requests", len(requests),
		"concurrency", e.cfg.Concurrency)

	opts := e.probeOptions(ports, logger)
	outcomes := e.dispatch(ctx, requests, probes, opts, logger)

	aggregate(run, outcomes, started)
	if e.metrics != nil {
		e.metrics.RecordRunDuration(run.Summary.Duration)
	}
	logger.InfoEngine("Scan complete",
		"duration", run.Summary.Duration.String(),
		"succeeded", run.Summary.Succeeded,
		"failed", run.Summary.Failed,
		"reachable_hosts", run.Summary.ReachableHosts,
		"open_ports", run.Summary.OpenPorts)
	return run, nil
}

// resolveProbes validates every requested probe type and the port
// specification before anything is dispatched.
func (e *Engine) resolveProbes() (map[string]probe.Probe, []uint16, error) {
	probes := make(map[string]probe.Probe, len(e.cfg.ProbeTypes))
	needPorts := false
	for _, probeType := range e.cfg.ProbeTypes {
		p, err := e.registry.Get(probeType)
		if err != nil {
			return nil, nil, err
		}
		probes[probeType] = p
		if probeType != probe.TypePing {
			needPorts = true
		}
	}

	var ports []uint16
	if needPorts {
		var err error
		ports, err = probe.ParsePortSpec(e.cfg.Ports)
		if err != nil {
			return nil, nil, err
		}
	}
	return probes, ports, nil
}

func (e *Engine) probeOptions(ports []uint16, logger *logging.Logger) *probe.Options {
	opts := &probe.Options{
		Timeout:         e.cfg.ProbeTimeout,
		Ports:           ports,
		Gate:            e.gate,
		BannerGrab:      e.cfg.BannerGrab,
		PortConcurrency: int64(e.cfg.PortConcurrency),
		Logger:          logger,
		Metrics:         e.metrics,
	}
	if e.cfg.RateLimit.OpsPerSecond > 0 {
		burst := e.cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		opts.Limiter = rate.NewLimiter(rate.Limit(e.cfg.RateLimit.OpsPerSecond), burst)
	}
	return opts
}

// buildRequests pairs every target with every probe type, target-major.
func buildRequests(targets []target.Target, probeTypes []string) []Request {
	requests := make([]Request, 0, len(targets)*len(probeTypes))
	for _, tgt := range targets {
		for _, probeType := range probeTypes {
			requests = append(requests, Request{
				Index:     len(requests),
				Target:    tgt,
				ProbeType: probeType,
			})
		}
	}
	return requests
}

// dispatch runs all requests under the concurrency limit and returns
// exactly one outcome per request. Cancellation of the parent context
// stops admission immediately; already-running probes get a grace
// period on a detached context before being cut off.
func (e *Engine) dispatch(ctx context.Context, requests []Request,
	probes map[string]probe.Probe, opts *probe.Options, logger *logging.Logger,
) []Outcome {
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()

	go func() {
		select {
		case <-ctx.Done():
			grace := e.cfg.GracePeriod
			logger.Warn("Cancellation requested, draining in-flight probes", "grace", grace.String())
			select {
			case <-time.After(grace):
				cancelExec()
			case <-execCtx.Done():
			}
		case <-execCtx.Done():
		}
	}()

	rm := NewResourceManager(e.cfg.Concurrency, e.metrics)
	results := make(chan Outcome, len(requests))

	var wg sync.WaitGroup
	for _, req := range requests {
		p := probes[req.ProbeType]

		if !e.gate.Satisfies(p.RequiredPrivilege()) {
			results <- Outcome{
				Request:  req,
				Status:   StatusPermissionDenied,
				Error:    errors.ErrPermissionDenied(req.ProbeType).Error(),
				Attempts: 0,
			}
			continue
		}

		permitID := fmt.Sprintf("%d", req.Index)
		if err := rm.Acquire(ctx, permitID); err != nil {
			results <- Outcome{Request: req, Status: StatusNotAttempted, Error: err.Error()}
			continue
		}

		wg.Add(1)
		go func(req Request, p probe.Probe) {
			defer wg.Done()
			defer rm.Release(permitID)
			results <- e.execute(execCtx, req, p, opts, logger)
		}(req, p)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]Outcome, 0, len(requests))
	for o := range results {
		outcomes = append(outcomes, o)
		if e.metrics != nil {
			e.metrics.IncrementRequestsTotal(string(o.Status))
		}
		if e.progress != nil {
			e.progress(len(outcomes), len(requests))
		}
		if len(outcomes) == len(requests) {
			break
		}
	}
	return outcomes
}

// execute runs one request with retries and panic containment.
func (e *Engine) execute(ctx context.Context, req Request, p probe.Probe,
	opts *probe.Options, logger *logging.Logger,
) (outcome Outcome) {
	outcome = Outcome{Request: req, StartedAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = StatusFailure
			outcome.Error = fmt.Sprintf("probe panicked: %v", r)
			outcome.Duration = time.Since(outcome.StartedAt)
			logger.ErrorProbe("Probe panicked", req.Target.String(),
				fmt.Errorf("%v", r), "probe_type", req.ProbeType)
		}
	}()

	maxAttempts := 1 + e.cfg.Retries
	var lastErr error
	tgt := req.Target

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt

		if attempt > 1 {
			delay := retryDelay(e.cfg.Retry, attempt-1)
			if e.metrics != nil {
				e.metrics.IncrementRetries(req.ProbeType)
			}
			logger.Debug("Retrying probe",
				"probe_type", req.ProbeType,
				"target", tgt.String(),
				"attempt", attempt,
				"delay", delay.String())
			select {
			case <-ctx.Done():
				outcome.Status = StatusCanceled
				outcome.Error = ctx.Err().Error()
				outcome.Duration = time.Since(outcome.StartedAt)
				return outcome
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)

		if tgt.Pending() {
			resolved, err := e.resolveTarget(attemptCtx, tgt)
			if err != nil {
				cancel()
				lastErr = err
				if !errors.IsRetryable(err) {
					break
				}
				continue
			}
			tgt = resolved
			outcome.Request.Target = tgt
		}

		result, err := p.Execute(attemptCtx, tgt, opts)
		deadlineHit := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			outcome.Result = result
			outcome.Duration = time.Since(outcome.StartedAt)
			switch {
			case deadlineHit:
				// An attempt that ran into the per-request ceiling is a
				// timeout even when partial port results came back.
				outcome.Status = StatusTimeout
				outcome.Error = errors.NewProbeErrorWithTarget(errors.CodeTimeout,
					"probe exceeded the request timeout", tgt.String()).Error()
			case result != nil && len(result.Ports) == 0 && !result.Reachable:
				// A reachability probe that ran cleanly but heard nothing
				// is a distinct terminal state, not a success.
				outcome.Status = StatusUnreachable
			default:
				outcome.Status = StatusSuccess
			}
			e.recordProbeMetrics(req, result, outcome.Duration, outcome.Status)
			return outcome
		}

		lastErr = err
		if !errors.IsRetryable(err) {
			break
		}
	}

	outcome.Duration = time.Since(outcome.StartedAt)
	outcome.Error = lastErr.Error()
	outcome.Status = classifyFailure(ctx, lastErr)
	if e.metrics != nil {
		e.metrics.IncrementProbeErrors(req.ProbeType, string(errors.GetCode(lastErr)))
		e.metrics.IncrementProbesTotal(req.ProbeType, string(outcome.Status))
	}
	logger.ErrorProbe("Probe failed", tgt.String(), lastErr,
		"probe_type", req.ProbeType,
		"attempts", outcome.Attempts,
		"status", string(outcome.Status))
	return outcome
}

// resolveTarget resolves a pending hostname target to its first address,
// IPv4 preferred per resolver ordering.
func (e *Engine) resolveTarget(ctx context.Context, tgt target.Target) (target.Target, error) {
	addrs, err := e.resolver.Resolve(ctx, tgt.Host)
	if err != nil {
		return tgt, err
	}
	if len(addrs) == 0 {
		return tgt, errors.NewTargetError(errors.CodeDNSFailure,
			"hostname resolved to no addresses", tgt.Input)
	}
	tgt.Addr = addrs[0].Unmap()
	return tgt, nil
}

func (e *Engine) recordProbeMetrics(req Request, result *probe.Result, duration time.Duration, status Status) {
	if e.metrics == nil {
		return
	}
	e.metrics.IncrementProbesTotal(req.ProbeType, string(status))
	e.metrics.RecordProbeDuration(req.ProbeType, duration)
	if result == nil {
		return
	}
	states := make(map[probe.PortState]int)
	for _, pr := range result.Ports {
		states[pr.State]++
	}
	for state, count := range states {
		e.metrics.IncrementPortsProbed(req.ProbeType, string(state), count)
	}
}

// classifyFailure maps the terminal error of a request onto a status.
func classifyFailure(ctx context.Context, err error) Status {
	switch errors.GetCode(err) {
	case errors.CodeCanceled:
		// A fired per-attempt deadline also surfaces as canceled from
		// the probe's perspective; tell the two apart via the parent.
		if ctx.Err() != nil {
			return StatusCanceled
		}
		return StatusTimeout
	case errors.CodeTimeout:
		return StatusTimeout
	case errors.CodePermission:
		return StatusPermissionDenied
	}
	if errors.Is(err, context.Canceled) {
		return StatusCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusFailure
}

// retryDelay computes capped exponential backoff for the given retry
// ordinal (1-based).
func retryDelay(cfg config.RetryConfig, retry int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(retry-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}
