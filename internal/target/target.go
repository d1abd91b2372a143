// Package target expands user-supplied target expressions into concrete
// addresses. Inputs may be IP literals, bracketed hostnames, inclusive
// address ranges ("A-B"), or CIDR blocks. Expansion deduplicates in
// first-seen order and applies exclusion lists before anything is probed.
// Bracketed hostnames are carried unresolved; DNS resolution is deferred
// until the target is dispatched.
package target

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/logging"
)

// maxExpansionSize caps how many addresses one run may expand to.
// Equivalent to a full /16; anything larger is a configuration mistake.
const maxExpansionSize = 1 << 16

// Target is one probe destination. Targets from bracketed hostname
// inputs start out pending: Host is set and Addr is the zero value
// until the dispatcher resolves it.
type Target struct {
	// Addr is the concrete address; invalid while resolution is pending.
	Addr netip.Addr

	// Host is the hostname for bracketed inputs; empty for
	// address-derived targets.
	Host string

	// Input is the target expression this target came from.
	Input string
}

// Pending reports whether the target still needs DNS resolution.
func (t Target) Pending() bool {
	return !t.Addr.IsValid()
}

// String returns the hostname when one is known, otherwise the address.
func (t Target) String() string {
	switch {
	case t.Host != "" && t.Addr.IsValid():
		return fmt.Sprintf("%s (%s)", t.Host, t.Addr)
	case t.Host != "":
		return t.Host
	default:
		return t.Addr.String()
	}
}

// Expander turns target expressions into deduplicated target lists.
type Expander struct {
	strict  bool
	maxSize int
	logger  *logging.Logger
}

// ExpanderOption configures an Expander.
type ExpanderOption func(*Expander)

// WithStrict controls malformed-input handling. When strict, expansion
// aborts on the first malformed element; otherwise the element is
// skipped with a warning.
func WithStrict(strict bool) ExpanderOption {
	return func(e *Expander) { e.strict = strict }
}

// WithMaxSize overrides the expansion size cap.
func WithMaxSize(n int) ExpanderOption {
	return func(e *Expander) { e.maxSize = n }
}

// NewExpander creates an expander. By default it is strict and caps
// expansion at a /16 worth of addresses.
func NewExpander(opts ...ExpanderOption) *Expander {
	e := &Expander{
		strict:  true,
		maxSize: maxExpansionSize,
		logger:  logging.Default().WithComponent("target"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand expands all inputs, applies exclusions, and deduplicates.
// Order follows first appearance across the input list. Bracketed
// hostnames are emitted as pending targets without touching DNS.
func (e *Expander) Expand(_ context.Context, inputs, exclusions []string) ([]Target, error) {
	excluded, err := e.parseExclusions(exclusions)
	if err != nil {
		return nil, err
	}

	seen := make(map[netip.Addr]struct{})
	seenHosts := make(map[string]struct{})
	var out []Target

	add := func(t Target) error {
		if t.Pending() {
			if _, dup := seenHosts[t.Host]; dup {
				return nil
			}
			if len(out) >= e.maxSize {
				return errors.NewTargetError(errors.CodeTargetInvalid,
					fmt.Sprintf("expansion exceeds %d addresses", e.maxSize), t.Input)
			}
			seenHosts[t.Host] = struct{}{}
			out = append(out, t)
			return nil
		}
		if _, dup := seen[t.Addr]; dup {
			return nil
		}
		if excluded.contains(t.Addr) {
			e.logger.Debug("Target excluded", "addr", t.Addr.String(), "input", t.Input)
			return nil
		}
		if len(out) >= e.maxSize {
			return errors.NewTargetError(errors.CodeTargetInvalid,
				fmt.Sprintf("expansion exceeds %d addresses", e.maxSize), t.Input)
		}
		seen[t.Addr] = struct{}{}
		out = append(out, t)
		return nil
	}

	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if err := e.expandOne(input, add); err != nil {
			if errors.GetCode(err) == errors.CodeTargetInvalid && !e.strict {
				e.logger.Warn("Skipping malformed target", "input", input, "error", err.Error())
				continue
			}
			return nil, err
		}
	}

	return out, nil
}

func (e *Expander) expandOne(input string, add func(Target) error) error {
	switch {
	case strings.HasPrefix(input, "[") && strings.HasSuffix(input, "]"):
		return e.expandHostname(input, add)
	case strings.Contains(input, "/"):
		return e.expandCIDR(input, add)
	case looksLikeRange(input):
		return e.expandRange(input, add)
	default:
		addr, err := netip.ParseAddr(input)
		if err != nil {
			return errors.WrapTargetError(errors.CodeTargetInvalid, "invalid target specification", input, err)
		}
		return add(Target{Addr: addr.Unmap(), Input: input})
	}
}

func (e *Expander) expandHostname(input string, add func(Target) error) error {
	host := strings.TrimSuffix(strings.TrimPrefix(input, "["), "]")
	if host == "" {
		return errors.ErrInvalidTarget(input)
	}
	return add(Target{Host: host, Input: input})
}

// expandCIDR walks a CIDR block. IPv4 prefixes of /30 or shorter skip
// the network and broadcast addresses; /31 and /32 keep every address,
// as do all IPv6 prefixes.
func (e *Expander) expandCIDR(input string, add func(Target) error) error {
	prefix, err := netip.ParsePrefix(input)
	if err != nil {
		return errors.WrapTargetError(errors.CodeTargetInvalid, "invalid target specification", input, err)
	}
	prefix = prefix.Masked()

	if size, ok := prefixSize(prefix); !ok || size > e.maxSize {
		return errors.NewTargetError(errors.CodeTargetInvalid,
			fmt.Sprintf("network too large, expansion capped at %d addresses", e.maxSize), input)
	}

	skipEdges := prefix.Addr().Is4() && prefix.Bits() <= 30
	first := prefix.Addr()
	last := lastAddr(prefix)

	for addr := first; prefix.Contains(addr); addr = addr.Next() {
		if skipEdges && (addr == first || addr == last) {
			continue
		}
		if err := add(Target{Addr: addr, Input: input}); err != nil {
			return err
		}
		if addr == last {
			break
		}
	}
	return nil
}

func (e *Expander) expandRange(input string, add func(Target) error) error {
	parts := strings.SplitN(input, "-", 2)
	from, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
	if err != nil {
		return errors.WrapTargetError(errors.CodeTargetInvalid, "invalid target specification", input, err)
	}
	to, err := netip.ParseAddr(strings.TrimSpace(parts[1]))
	if err != nil {
		return errors.WrapTargetError(errors.CodeTargetInvalid, "invalid target specification", input, err)
	}
	from, to = from.Unmap(), to.Unmap()

	if from.Is4() != to.Is4() {
		return errors.NewTargetError(errors.CodeTargetInvalid,
			"range endpoints must be in the same address family", input)
	}
	if to.Less(from) {
		return errors.NewTargetError(errors.CodeTargetInvalid,
			"range end precedes range start", input)
	}

	count := 0
	for addr := from; ; addr = addr.Next() {
		count++
		if count > e.maxSize {
			return errors.NewTargetError(errors.CodeTargetInvalid,
				fmt.Sprintf("range too large, expansion capped at %d addresses", e.maxSize), input)
		}
		if err := add(Target{Addr: addr, Input: input}); err != nil {
			return err
		}
		if addr == to {
			break
		}
	}
	return nil
}

// looksLikeRange reports whether the input is an A-B address range
// rather than a literal containing a dash (hostnames are bracketed, so
// a dash between two parseable addresses is unambiguous).
func looksLikeRange(input string) bool {
	parts := strings.SplitN(input, "-", 2)
	if len(parts) != 2 {
		return false
	}
	_, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
	return err == nil
}

// exclusionSet holds parsed exclusion entries.
type exclusionSet struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func (s exclusionSet) contains(addr netip.Addr) bool {
	if _, ok := s.addrs[addr]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (e *Expander) parseExclusions(exclusions []string) (exclusionSet, error) {
	set := exclusionSet{addrs: make(map[netip.Addr]struct{})}
	for _, raw := range exclusions {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return set, errors.WrapTargetError(errors.CodeTargetInvalid, "invalid target specification", raw, err)
			}
			set.prefixes = append(set.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return set, errors.WrapTargetError(errors.CodeTargetInvalid, "invalid target specification", raw, err)
		}
		set.addrs[addr.Unmap()] = struct{}{}
	}
	return set, nil
}

// prefixSize returns the address count of a prefix, reporting false
// when it does not fit in an int.
func prefixSize(p netip.Prefix) (int, bool) {
	hostBits := p.Addr().BitLen() - p.Bits()
	if hostBits >= 31 {
		return 0, false
	}
	return 1 << hostBits, true
}

// lastAddr returns the highest address inside a masked prefix.
func lastAddr(p netip.Prefix) netip.Addr {
	bytes := p.Addr().AsSlice()
	bits := p.Bits()
	for i := range bytes {
		bitsLeft := bits - i*8
		switch {
		case bitsLeft <= 0:
			bytes[i] = 0xff
		case bitsLeft < 8:
			bytes[i] |= 0xff >> bitsLeft
		}
	}
	addr, _ := netip.AddrFromSlice(bytes)
	return addr
}
