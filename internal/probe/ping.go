package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/target"
)

const (
	pingAttempts     = 3
	pingAttemptSpace = 300 * time.Millisecond
	pingReadTimeout  = 2 * time.Second

	icmpProtocolIPv4 = 1
	icmpProtocolIPv6 = 58
)

// fallbackPorts are probed when raw ICMP is unavailable. A refused
// connection proves liveness just as well as an accepted one.
var fallbackPorts = []uint16{80, 443, 22}

// PingProbe checks host reachability. With raw socket access it sends
// ICMP echo requests; without, it falls back to TCP connection attempts
// against a few common ports and annotates the result accordingly.
type PingProbe struct{}

// NewPingProbe creates a reachability probe.
func NewPingProbe() *PingProbe {
	return &PingProbe{}
}

// Type returns the probe identifier.
func (p *PingProbe) Type() string { return TypePing }

// Description returns a short summary.
func (p *PingProbe) Description() string {
	return "host reachability via ICMP echo, with TCP fallback"
}

// RequiredPrivilege returns None: the probe degrades gracefully when
// raw sockets are unavailable instead of refusing to run.
func (p *PingProbe) RequiredPrivilege() privilege.Level { return privilege.None }

// Execute checks whether the target answers at all.
func (p *PingProbe) Execute(ctx context.Context, tgt target.Target, opts *Options) (*Result, error) {
	if opts.Gate != nil && opts.Gate.Satisfies(privilege.RawSockets) {
		return p.icmpPing(ctx, tgt, opts)
	}
	return p.tcpFallback(ctx, tgt, opts)
}

func (p *PingProbe) icmpPing(ctx context.Context, tgt target.Target, opts *Options) (*Result, error) {
	network, proto := "ip4:icmp", icmpProtocolIPv4
	var echoType, replyType icmp.Type = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	if tgt.Addr.Is6() {
		network, proto = "ip6:ipv6-icmp", icmpProtocolIPv6
		echoType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	}

	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return nil, errors.WrapProbeErrorWithTarget(errors.CodePermission,
			"failed to open ICMP socket", tgt.Addr.String(), err)
	}
	defer conn.Close()

	id := os.Getpid() & 0xffff
	dst := &net.IPAddr{IP: tgt.Addr.AsSlice()}
	result := &Result{Details: map[string]string{"method": "icmp"}}

	for attempt := 0; attempt < pingAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
					"ping interrupted", tgt.Addr.String(), ctx.Err())
			case <-time.After(pingAttemptSpace):
			}
		}
		if err := opts.Wait(ctx); err != nil {
			return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
				"ping interrupted", tgt.Addr.String(), err)
		}

		msg := icmp.Message{
			Type: echoType,
			Body: &icmp.Echo{
				ID:   id,
				Seq:  attempt + 1,
				Data: []byte("huginn reachability probe"),
			},
		}
		wire, err := msg.Marshal(nil)
		if err != nil {
			return nil, errors.WrapProbeErrorWithTarget(errors.CodeProbeFailed,
				"failed to marshal ICMP message", tgt.Addr.String(), err)
		}

		start := time.Now()
		if _, err := conn.WriteTo(wire, dst); err != nil {
			if isUnreachable(err) {
				continue
			}
			return nil, errors.WrapProbeErrorWithTarget(errors.CodeProbeFailed,
				"ICMP send failed", tgt.Addr.String(), err)
		}
		opts.countPacket(TypePing)
		result.PacketsSent++

		if rtt, ok := p.awaitReply(ctx, conn, proto, replyType, id, attempt+1, tgt.Addr, start); ok {
			result.Reachable = true
			result.Details["rtt"] = rtt.String()
			result.Details["attempts"] = strconv.Itoa(attempt + 1)
			return result, nil
		}
	}

	result.Details["attempts"] = strconv.Itoa(pingAttempts)
	return result, nil
}

// awaitReply reads from the ICMP socket until the matching echo reply
// arrives or the per-attempt deadline passes. Replies for other
// processes or other attempts are skipped, not treated as answers.
func (p *PingProbe) awaitReply(ctx context.Context, conn *icmp.PacketConn, proto int,
	replyType icmp.Type, id, seq int, addr interface{ String() string }, start time.Time,
) (time.Duration, bool) {
	deadline := time.Now().Add(pingReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	buf := make([]byte, 1500)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return 0, false
		}
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, false
		}
		if peer.String() != addr.String() {
			continue
		}
		msg, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil || msg.Type != replyType {
			continue
		}
		echo, ok := msg.Body.(*icmp.Echo)
		if !ok || echo.ID != id || echo.Seq != seq {
			continue
		}
		return time.Since(start), true
	}
}

// tcpFallback approximates reachability without raw sockets. Both an
// accepted and a refused connection mean a host is answering; only
// silence on every port leaves the question open.
func (p *PingProbe) tcpFallback(ctx context.Context, tgt target.Target, opts *Options) (*Result, error) {
	result := &Result{Details: map[string]string{
		"method": "tcp_fallback",
		"caveat": "unprivileged mode: reachability inferred from TCP, silence is inconclusive",
	}}

	timeout := pingReadTimeout
	if opts.Timeout > 0 && opts.Timeout < timeout {
		timeout = opts.Timeout
	}

	var d net.Dialer
	for _, port := range fallbackPorts {
		if err := opts.Wait(ctx); err != nil {
			return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
				"ping interrupted", tgt.Addr.String(), err)
		}

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		addr := net.JoinHostPort(tgt.Addr.String(), strconv.Itoa(int(port)))
		start := time.Now()
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()

		opts.countPacket(TypePing)
		result.PacketsSent++

		if err == nil {
			conn.Close()
			result.Reachable = true
			result.Details["rtt"] = time.Since(start).String()
			result.Details["port"] = fmt.Sprintf("%d", port)
			return result, nil
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			result.Reachable = true
			result.Details["rtt"] = time.Since(start).String()
			result.Details["port"] = fmt.Sprintf("%d", port)
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
				"ping interrupted", tgt.Addr.String(), ctx.Err())
		}
	}

	return result, nil
}

func isUnreachable(err error) bool {
	return errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH)
}
