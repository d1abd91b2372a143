// Package privilege detects whether the current process can open raw
// sockets. Probes that need raw socket access declare it, and the engine
// consults a Gate before dispatching any such probe.
package privilege

import "sync"

// Level describes the privilege a probe requires.
type Level int

const (
	// None means the probe works with unprivileged sockets.
	None Level = iota

	// RawSockets means the probe needs raw socket access
	// (root or CAP_NET_RAW on Linux).
	RawSockets
)

// String returns a human-readable name for the level.
func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case RawSockets:
		return "raw_sockets"
	default:
		return "unknown"
	}
}

// Gate answers privilege queries. Detection runs once per process and
// the answer is cached; privileges do not change mid-run.
type Gate struct {
	once sync.Once
	raw  bool
}

// NewGate returns a gate backed by platform detection.
func NewGate() *Gate {
	return &Gate{}
}

// Satisfies reports whether the process holds the given level.
func (g *Gate) Satisfies(level Level) bool {
	if level == None {
		return true
	}
	g.once.Do(func() {
		g.raw = hasRawSocketAccess()
	})
	return g.raw
}

// NewStaticGate returns a gate that always reports the given raw socket
// capability. Intended for tests.
func NewStaticGate(raw bool) *Gate {
	g := &Gate{}
	g.once.Do(func() { g.raw = raw })
	return g
}
