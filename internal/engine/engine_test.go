package engine

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huginnscan/huginn/internal/config"
	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/probe"
	"github.com/huginnscan/huginn/internal/target"
)

// fakeProbe is a controllable probe for engine tests.
type fakeProbe struct {
	typ      string
	level    privilege.Level
	delay    time.Duration
	execute  func(ctx context.Context, tgt target.Target) (*probe.Result, error)
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeProbe) Type() string                       { return f.typ }
func (f *fakeProbe) Description() string                { return "fake" }
func (f *fakeProbe) RequiredPrivilege() privilege.Level { return f.level }

func (f *fakeProbe) Execute(ctx context.Context, tgt target.Target, _ *probe.Options) (*probe.Result, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
				"interrupted", tgt.Addr.String(), ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.execute != nil {
		return f.execute(ctx, tgt)
	}
	return &probe.Result{Reachable: true, PacketsSent: 1}, nil
}

func testConfig(probeType string, concurrency int) *config.ScanConfig {
	cfg := config.Default().Scan
	cfg.Targets = []string{"10.0.0.1-10.0.0.8"}
	cfg.ProbeTypes = []string{probeType}
	cfg.Ports = "80"
	cfg.Concurrency = concurrency
	cfg.ProbeTimeout = time.Second
	cfg.Retries = 0
	cfg.RateLimit.OpsPerSecond = 0
	cfg.GracePeriod = 500 * time.Millisecond
	return &cfg
}

func newTestEngine(t *testing.T, cfg *config.ScanConfig, p probe.Probe, raw bool) *Engine {
	t.Helper()
	registry := probe.NewRegistry()
	require.NoError(t, registry.Register(p))

	e, err := New(cfg,
		WithRegistry(registry),
		WithGate(privilege.NewStaticGate(raw)),
	)
	require.NoError(t, err)
	return e
}

func TestRunOneOutcomePerRequest(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None}
	e := newTestEngine(t, testConfig("fake", 4), fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, run.Targets, 8)
	require.Len(t, run.Outcomes, 8)
	for i, o := range run.Outcomes {
		assert.Equal(t, i, o.Request.Index)
		assert.Equal(t, StatusSuccess, o.Status)
		assert.Equal(t, 1, o.Attempts)
	}
	assert.Equal(t, 8, run.Summary.Succeeded)
	assert.Equal(t, 8, run.Summary.ReachableHosts)
	assert.NotEmpty(t, run.ID)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None, delay: 50 * time.Millisecond}
	e := newTestEngine(t, testConfig("fake", 2), fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, run.Outcomes, 8)
	assert.LessOrEqual(t, fake.maxSeen.Load(), int64(2))
	assert.Equal(t, int64(8), fake.calls.Load())
}

func TestRunPermissionDeniedSendsNothing(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.RawSockets}
	e := newTestEngine(t, testConfig("fake", 4), fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Outcomes, 8)
	for _, o := range run.Outcomes {
		assert.Equal(t, StatusPermissionDenied, o.Status)
		assert.NotEmpty(t, o.Error)
	}
	assert.Equal(t, int64(0), fake.calls.Load(), "gated probe must never execute")
	assert.Equal(t, 0, run.Summary.PacketsSent)
	assert.Equal(t, 8, run.Summary.PermissionDenied)
}

func TestRunPrivilegedGateAllowsRawProbe(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.RawSockets}
	e := newTestEngine(t, testConfig("fake", 4), fake, true)

	run, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, run.Summary.Succeeded)
}

func TestRunCancellationSettlesEverything(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None, delay: 200 * time.Millisecond}
	cfg := testConfig("fake", 1)
	e := newTestEngine(t, cfg, fake, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	run, err := e.Run(ctx)
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.Len(t, run.Outcomes, 8, "every request settles exactly once")
	var attempted, notAttempted int
	for _, o := range run.Outcomes {
		switch o.Status {
		case StatusNotAttempted:
			notAttempted++
		default:
			attempted++
		}
	}
	assert.Greater(t, notAttempted, 0, "cancellation must stop admission")
	assert.Greater(t, attempted, 0)
	assert.Less(t, elapsed, 100*time.Millisecond+cfg.GracePeriod+500*time.Millisecond)
}

func staticResolver(entries map[string]string) target.Resolver {
	return target.ResolverFunc(func(_ context.Context, host string) ([]netip.Addr, error) {
		raw, ok := entries[host]
		if !ok {
			return nil, errors.NewTargetError(errors.CodeDNSFailure, "hostname does not exist", host)
		}
		return []netip.Addr{netip.MustParseAddr(raw)}, nil
	})
}

func TestRunResolvesHostnamesAtDispatch(t *testing.T) {
	var probed atomic.Value
	fake := &fakeProbe{
		typ:   "fake",
		level: privilege.None,
		execute: func(_ context.Context, tgt target.Target) (*probe.Result, error) {
			probed.Store(tgt.Addr.String())
			return &probe.Result{Reachable: true}, nil
		},
	}

	cfg := testConfig("fake", 1)
	cfg.Targets = []string{"[svc.internal]"}
	registry := probe.NewRegistry()
	require.NoError(t, registry.Register(fake))
	e, err := New(cfg,
		WithRegistry(registry),
		WithGate(privilege.NewStaticGate(false)),
		WithResolver(staticResolver(map[string]string{"svc.internal": "10.9.9.9"})),
	)
	require.NoError(t, err)

	run, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Targets, 1)
	assert.True(t, run.Targets[0].Pending(), "expansion leaves hostnames unresolved")
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, StatusSuccess, run.Outcomes[0].Status)
	assert.Equal(t, "10.9.9.9", run.Outcomes[0].Request.Target.Addr.String())
	assert.Equal(t, "10.9.9.9", probed.Load())
}

func TestRunHostnameResolutionFailureSettlesOnlyThatTarget(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None}

	cfg := testConfig("fake", 2)
	cfg.Targets = []string{"[dead.example]", "10.0.0.1"}
	cfg.StrictTargets = false
	registry := probe.NewRegistry()
	require.NoError(t, registry.Register(fake))
	e, err := New(cfg,
		WithRegistry(registry),
		WithGate(privilege.NewStaticGate(false)),
		WithResolver(staticResolver(nil)),
	)
	require.NoError(t, err)

	run, err := e.Run(context.Background())
	require.NoError(t, err, "a dead hostname must not abort the run")

	require.Len(t, run.Outcomes, 2)
	byTarget := make(map[string]Outcome)
	for _, o := range run.Outcomes {
		byTarget[o.Request.Target.Input] = o
	}

	dead := byTarget["[dead.example]"]
	assert.Equal(t, StatusFailure, dead.Status)
	assert.Contains(t, dead.Error, "hostname does not exist")

	assert.Equal(t, StatusSuccess, byTarget["10.0.0.1"].Status)
	assert.Equal(t, int64(1), fake.calls.Load(), "only the literal target is probed")
}

func TestRunRecordsTimeoutDespitePartialResults(t *testing.T) {
	fake := &fakeProbe{
		typ:   "fake",
		level: privilege.None,
		execute: func(_ context.Context, _ target.Target) (*probe.Result, error) {
			time.Sleep(150 * time.Millisecond)
			return &probe.Result{
				Reachable: true,
				Ports:     []probe.PortResult{{Port: 80, State: probe.PortOpen}},
			}, nil
		},
	}

	cfg := testConfig("fake", 1)
	cfg.Targets = []string{"10.0.0.1"}
	cfg.ProbeTimeout = 50 * time.Millisecond
	e := newTestEngine(t, cfg, fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Outcomes, 1)
	o := run.Outcomes[0]
	assert.Equal(t, StatusTimeout, o.Status)
	require.NotNil(t, o.Result, "partial port details survive the timeout")
	assert.Len(t, o.Result.Ports, 1)
	assert.Equal(t, 1, run.Summary.TimedOut)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int64
	fake := &fakeProbe{
		typ:   "fake",
		level: privilege.None,
		execute: func(_ context.Context, tgt target.Target) (*probe.Result, error) {
			if failures.Add(1) <= 2 {
				return nil, errors.WrapProbeErrorWithTarget(errors.CodeConnectionReset,
					"reset", tgt.Addr.String(), nil)
			}
			return &probe.Result{Reachable: true}, nil
		},
	}

	cfg := testConfig("fake", 1)
	cfg.Targets = []string{"10.0.0.1"}
	cfg.Retries = 3
	cfg.Retry.BaseDelay = 10 * time.Millisecond
	e := newTestEngine(t, cfg, fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, StatusSuccess, run.Outcomes[0].Status)
	assert.Equal(t, 3, run.Outcomes[0].Attempts)
}

func TestRunDoesNotRetryTerminalFailures(t *testing.T) {
	fake := &fakeProbe{
		typ:   "fake",
		level: privilege.None,
		execute: func(_ context.Context, tgt target.Target) (*probe.Result, error) {
			return nil, errors.NewProbeErrorWithTarget(errors.CodeProbeFailed,
				"broken", tgt.Addr.String())
		},
	}

	cfg := testConfig("fake", 1)
	cfg.Targets = []string{"10.0.0.1"}
	cfg.Retries = 5
	e := newTestEngine(t, cfg, fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 1)
	assert.Equal(t, StatusFailure, run.Outcomes[0].Status)
	assert.Equal(t, 1, run.Outcomes[0].Attempts)
	assert.Equal(t, int64(1), fake.calls.Load())
}

func TestRunContainsProbePanics(t *testing.T) {
	fake := &fakeProbe{
		typ:   "fake",
		level: privilege.None,
		execute: func(_ context.Context, _ target.Target) (*probe.Result, error) {
			panic("boom")
		},
	}

	cfg := testConfig("fake", 2)
	cfg.Targets = []string{"10.0.0.1", "10.0.0.2"}
	e := newTestEngine(t, cfg, fake, false)

	run, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 2)
	for _, o := range run.Outcomes {
		assert.Equal(t, StatusFailure, o.Status)
		assert.Contains(t, o.Error, "panicked")
	}
}

func TestRunUnknownProbeFailsBeforeDispatch(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None}
	cfg := testConfig("fake", 2)
	cfg.ProbeTypes = []string{"fake", "wormhole"}
	e := newTestEngine(t, cfg, fake, false)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnknownProbe))
	assert.Equal(t, int64(0), fake.calls.Load())
}

func TestRunBadPortSpecFailsBeforeDispatch(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None}
	cfg := testConfig("fake", 2)
	cfg.Ports = "99999"
	e := newTestEngine(t, cfg, fake, false)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(0), fake.calls.Load())
}

func TestRunEmptyExpansion(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None}
	cfg := testConfig("fake", 2)
	cfg.Targets = []string{"10.0.0.1"}
	cfg.Exclusions = []string{"10.0.0.0/24"}
	e := newTestEngine(t, cfg, fake, false)

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
}

func TestRunProgressCallback(t *testing.T) {
	fake := &fakeProbe{typ: "fake", level: privilege.None}
	cfg := testConfig("fake", 4)

	var mu sync.Mutex
	var seen []int
	registry := probe.NewRegistry()
	require.NoError(t, registry.Register(fake))
	e, err := New(cfg,
		WithRegistry(registry),
		WithGate(privilege.NewStaticGate(false)),
		WithProgress(func(done, total int) {
			mu.Lock()
			seen = append(seen, done)
			mu.Unlock()
			assert.Equal(t, 8, total)
		}),
	)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 8)
	assert.Equal(t, 8, seen[len(seen)-1])
}

func TestRetryDelay(t *testing.T) {
	cfg := config.RetryConfig{
		BaseDelay:         100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          500 * time.Millisecond,
	}

	assert.Equal(t, 100*time.Millisecond, retryDelay(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, retryDelay(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, retryDelay(cfg, 3))
	assert.Equal(t, 500*time.Millisecond, retryDelay(cfg, 4), "capped at max delay")
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
