package probe

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/target"
)

const (
	defaultUDPReadTimeout = 3 * time.Second
	udpReadBufferSize     = 2048
)

// UDPProbe sends one datagram per port and classifies ports by the
// reply, or absence of one. UDP silence is ambiguous: no answer means
// either an open service that ignored the payload or a dropped packet,
// hence the open|filtered state.
type UDPProbe struct{}

// NewUDPProbe creates a UDP probe.
func NewUDPProbe() *UDPProbe {
	return &UDPProbe{}
}

// Type returns the probe identifier.
func (p *UDPProbe) Type() string { return TypeUDP }

// Description returns a short summary.
func (p *UDPProbe) Description() string {
	return "UDP datagram port scan with service payloads"
}

// RequiredPrivilege reports that plain sockets suffice.
func (p *UDPProbe) RequiredPrivilege() privilege.Level { return privilege.None }

// Execute probes every configured port.
func (p *UDPProbe) Execute(ctx context.Context, tgt target.Target, opts *Options) (*Result, error) {
	if len(opts.Ports) == 0 {
		return nil, errors.ErrProbeConfig("udp requires at least one port")
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
			opts.countPacket(TypeUDP)

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
			"udp probe interrupted before any port was probed", tgt.Addr.String(), ctx.Err())
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Port < results[j].Port })

	result := &Result{
		Ports:       results,
		PacketsSent: sent,
		Details:     map[string]string{"method": "udp"},
	}
	for _, pr := range results {
		if pr.State == PortOpen || pr.State == PortClosed {
			result.Reachable = true
			break
		}
	}
	return result, nil
}

func (p *UDPProbe) probePort(ctx context.Context, tgt target.Target, port uint16, opts *Options) PortResult {
	addr := net.JoinHostPort(tgt.Addr.String(), strconv.Itoa(int(port)))

	readTimeout := defaultUDPReadTimeout
	if opts.Timeout > 0 && opts.Timeout < readTimeout {
		readTimeout = opts.Timeout
	}

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	// A connected UDP socket surfaces ICMP port-unreachable as
	// ECONNREFUSED on the next operation, which is the only way to
	// observe a closed UDP port without raw sockets.
	conn, err := d.DialContext(dialCtx, "udp", addr)
	if err != nil {
		return PortResult{Port: port, State: PortFiltered}
	}
	defer conn.Close()

	start := time.Now()
	if _, err := conn.Write(udpPayload(port)); err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return PortResult{Port: port, State: PortClosed}
		}
		return PortResult{Port: port, State: PortFiltered}
	}

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return PortResult{Port: port, State: PortOpenFiltered}
	}

	buf := make([]byte, udpReadBufferSize)
	n, err := conn.Read(buf)
	latency := time.Since(start)

	switch {
	case err == nil && n >= 0:
		return PortResult{Port: port, State: PortOpen, Latency: latency}
	case errors.Is(err, syscall.ECONNREFUSED):
		return PortResult{Port: port, State: PortClosed, Latency: latency}
	default:
		return PortResult{Port: port, State: PortOpenFiltered}
	}
}
