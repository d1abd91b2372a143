package engine

import (
	"context"
	"sync"
	"time"

	"github.com/huginnscan/huginn/internal/metrics"
)

// ResourceManager hands out a fixed number of execution permits. The
// dispatcher acquires one permit per probe request, so at most `limit`
// requests touch the network at any moment.
type ResourceManager struct {
	permits chan struct{}

	mu     sync.Mutex
	active map[string]time.Time

	metrics *metrics.Metrics
}

// NewResourceManager creates a manager with the given permit count.
func NewResourceManager(limit int, m *metrics.Metrics) *ResourceManager {
	if limit < 1 {
		limit = 1
	}
	return &ResourceManager{
		permits: make(chan struct{}, limit),
		active:  make(map[string]time.Time),
		metrics: m,
	}
}

// Acquire blocks until a permit is free or the context is done.
func (rm *ResourceManager) Acquire(ctx context.Context, id string) error {
	select {
	case rm.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rm.mu.Lock()
	rm.active[id] = time.Now()
	held := len(rm.active)
	rm.mu.Unlock()

	if rm.metrics != nil {
		rm.metrics.SetPermitsHeld(held)
		rm.metrics.SetActiveProbes(held)
	}
	return nil
}

// Release returns a permit. Releasing an id that was never acquired is
// a no-op.
func (rm *ResourceManager) Release(id string) {
	rm.mu.Lock()
	if _, ok := rm.active[id]; !ok {
		rm.mu.Unlock()
		return
	}
	delete(rm.active, id)
	held := len(rm.active)
	rm.mu.Unlock()

	<-rm.permits

	if rm.metrics != nil {
		rm.metrics.SetPermitsHeld(held)
		rm.metrics.SetActiveProbes(held)
	}
}

// ActiveCount reports how many permits are currently held.
func (rm *ResourceManager) ActiveCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.active)
}

// Limit reports the permit capacity.
func (rm *ResourceManager) Limit() int {
	return cap(rm.permits)
}
