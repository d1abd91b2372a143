package probe

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/target"
)

const (
	defaultDialTimeout = 3 * time.Second
	bannerReadTimeout  = 1500 * time.Millisecond
	bannerMaxBytes     = 512
)

// TCPConnectProbe completes full three-way handshakes using ordinary
// sockets. Works without any special privileges.
type TCPConnectProbe struct {
	dialer *net.Dialer
}

// NewTCPConnectProbe creates a TCP connect probe.
func NewTCPConnectProbe() *TCPConnectProbe {
	return &TCPConnectProbe{dialer: &net.Dialer{}}
}

// Type returns the probe identifier.
func (p *TCPConnectProbe) Type() string { return TypeTCPConnect }

// Description returns a short summary.
func (p *TCPConnectProbe) Description() string {
	return "full TCP handshake port scan"
}

// RequiredPrivilege reports that plain sockets suffice.
func (p *TCPConnectProbe) RequiredPrivilege() privilege.Level { return privilege.None }

// Execute probes every configured port on the target. Ports are probed
// concurrently up to the per-target limit; the result list is sorted by
// port number regardless of completion order.
func (p *TCPConnectProbe) Execute(ctx context.Context, tgt target.Target, opts *Options) (*Result, error) {
	if len(opts.Ports) == 0 {
		return nil, errors.ErrProbeConfig("tcp_connect requires at least one port")
	}

	limit := opts.PortConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	var (
		mu      sync.Mutex
		results []PortResult
		sent    int
	)

	var wg sync.WaitGroup
	for _, port := range opts.Ports {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(port uint16) {
			defer wg.Done()
			defer sem.Release(1)

			if err := opts.Wait(ctx); err != nil {
				return
			}
			opts.countPacket(TypeTCPConnect)

			pr := p.probePort(ctx, tgt, port, opts)

			mu.Lock()
			results = append(results, pr)
			sent++
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	if ctx.Err() != nil && len(results) == 0 {
		return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
			"tcp_connect interrupted before any port was probed", tgt.Addr.String(), ctx.Err())
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

	result := &Result{
		Ports:       results,
		PacketsSent: sent,
		Details:     map[string]string{"method": "tcp_connect"},
	}
	for _, pr := range results {
		if pr.State == PortOpen || pr.State == PortClosed {
			result.Reachable = true
			break
		}
	}
	return result, nil
}

func (p *TCPConnectProbe) probePort(ctx context.Context, tgt target.Target, port uint16, opts *Options) PortResult {
	dialTimeout := defaultDialTimeout
	if opts.Timeout > 0 && opts.Timeout < dialTimeout {
		dialTimeout = opts.Timeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	addr := net.JoinHostPort(tgt.Addr.String(), strconv.Itoa(int(port)))
	start := time.Now()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	latency := time.Since(start)

	if err != nil {
		return PortResult{Port: port, State: classifyDialError(err), Latency: latency}
	}
	defer conn.Close()

	pr := PortResult{Port: port, State: PortOpen, Latency: latency}
	if opts.BannerGrab {
		pr.Banner = grabBanner(conn)
	}
	return pr
}

// classifyDialError maps a dial failure onto a port state. Refusal
// proves a listener-free but reachable port; silence means something
// between here and there dropped the packet.
func classifyDialError(err error) PortState {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return PortClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return PortFiltered
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return PortFiltered
	}
	return PortFiltered
}

// grabBanner performs one bounded read on a fresh connection. Many
// services (SSH, SMTP, FTP) speak first; everything else just times
// out quietly.
func grabBanner(conn net.Conn) string {
	if err := conn.SetReadDeadline(time.Now().Add(bannerReadTimeout)); err != nil {
		return ""
	}
	buf := make([]byte, bannerMaxBytes)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return ""
	}
	return sanitizeBanner(buf[:n])
}

// sanitizeBanner keeps printable ASCII and collapses everything else so
// banners are safe to log and render in tables.
func sanitizeBanner(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == '\r' || c == '\n':
			out = append(out, ' ')
		case c >= 0x20 && c < 0x7f:
			out = append(out, c)
		}
	}
	s := strings.Join(strings.Fields(string(out)), " ")
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
