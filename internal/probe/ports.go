package probe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/huginnscan/huginn/internal/errors"
)

// ParsePortSpec parses a port specification such as "22,80,443" or
// "1-1024,8080" into a deduplicated port list in first-seen order.
// Port-level probes require a non-empty specification; values outside
// 1-65535 fail fast before any packet is sent.
func ParsePortSpec(spec string) ([]uint16, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.ErrProbeConfig("port specification is empty")
	}

	seen := make(map[uint16]struct{})
	var ports []uint16

	add := func(p int) {
		port := uint16(p)
		if _, dup := seen[port]; dup {
			return
		}
		seen[port] = struct{}{}
		ports = append(ports, port)
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if from, to, ok := strings.Cut(part, "-"); ok {
			lo, err := parsePort(from)
			if err != nil {
				return nil, err
			}
			hi, err := parsePort(to)
			if err != nil {
				return nil, err
			}
			if hi < lo {
				return nil, errors.ErrProbeConfig(
					fmt.Sprintf("invalid port range %q: end precedes start", part))
			}
			for p := lo; p <= hi; p++ {
				add(p)
			}
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		add(p)
	}

	if len(ports) == 0 {
		return nil, errors.ErrProbeConfig("port specification is empty")
	}
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.ErrProbeConfig(fmt.Sprintf("invalid port %q", s))
	}
	if p < 1 || p > 65535 {
		return 0, errors.ErrProbeConfig(fmt.Sprintf("port %d out of range 1-65535", p))
	}
	return p, nil
}
