//go:build !linux

package probe

import (
	"context"

	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/target"
)

// TCPSYNProbe is unavailable off Linux: raw TCP sends are either
// blocked by the platform or need packet-capture machinery this tool
// does not carry. The probe registers so the type is known, but every
// execution fails cleanly.
type TCPSYNProbe struct{}

// NewTCPSYNProbe creates a half-open scan probe.
func NewTCPSYNProbe() *TCPSYNProbe {
	return &TCPSYNProbe{}
}

// Type returns the probe identifier.
func (p *TCPSYNProbe) Type() string { return TypeTCPSYN }

// Description returns a short summary.
func (p *TCPSYNProbe) Description() string {
	return "half-open SYN port scan (Linux only)"
}

// RequiredPrivilege reports that raw sockets are mandatory.
func (p *TCPSYNProbe) RequiredPrivilege() privilege.Level { return privilege.RawSockets }

// Execute always fails on this platform.
func (p *TCPSYNProbe) Execute(_ context.Context, tgt target.Target, _ *Options) (*Result, error) {
	return nil, errors.NewProbeErrorWithTarget(errors.CodeProbeFailed,
		"tcp_syn is only supported on Linux", tgt.Addr.String())
}
