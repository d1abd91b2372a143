//go:build linux

package probe

import (
	"context"
	"math/rand"
	"net"
	"net/netip"
	"sort"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/huginnscan/huginn/internal/errors"
	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/target"
)

const (
	synReadTimeout = 2 * time.Second
	synWindowSize  = 14600
)

// TCPSYNProbe performs half-open scans: it sends a raw SYN segment and
// classifies the port by the reply without ever completing the
// handshake. Open ports get an explicit RST so no connection lingers.
// Raw TCP sockets are Linux/IPv4 only here.
type TCPSYNProbe struct{}

// NewTCPSYNProbe creates a half-open scan probe.
func NewTCPSYNProbe() *TCPSYNProbe {
	return &TCPSYNProbe{}
}

// Type returns the probe identifier.
func (p *TCPSYNProbe) Type() string { return TypeTCPSYN }

// Description returns a short summary.
func (p *TCPSYNProbe) Description() string {
	return "half-open SYN port scan over raw sockets"
}

// RequiredPrivilege reports that raw sockets are mandatory. The engine
// refuses to dispatch this probe without them, so Execute can assume
// socket creation is allowed to try.
func (p *TCPSYNProbe) RequiredPrivilege() privilege.Level { return privilege.RawSockets }

// Execute probes every configured port sequentially over one raw socket.
func (p *TCPSYNProbe) Execute(ctx context.Context, tgt target.Target, opts *Options) (*Result, error) {
	if len(opts.Ports) == 0 {
		return nil, errors.ErrProbeConfig("tcp_syn requires at least one port")
	}
	if !tgt.Addr.Is4() {
		return nil, errors.NewProbeErrorWithTarget(errors.CodeProbeConfig,
			"tcp_syn supports IPv4 targets only", tgt.Addr.String())
	}

	srcIP, err := localIPv4For(tgt.Addr)
	if err != nil {
		return nil, errors.WrapProbeErrorWithTarget(errors.CodeNetworkUnreachable,
			"no route to target", tgt.Addr.String(), err)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_TCP)
	if err != nil {
		if err == syscall.EPERM || err == syscall.EACCES {
			return nil, errors.ErrPermissionDenied(TypeTCPSYN)
		}
		return nil, errors.WrapProbeErrorWithTarget(errors.CodeProbeFailed,
			"failed to open raw socket", tgt.Addr.String(), err)
	}
	defer syscall.Close(fd)

	tv := syscall.NsecToTimeval(int64(200 * time.Millisecond))
	if err := syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		return nil, errors.WrapProbeErrorWithTarget(errors.CodeProbeFailed,
			"failed to set socket timeout", tgt.Addr.String(), err)
	}

	dst4 := tgt.Addr.As4()
	sockAddr := &syscall.SockaddrInet4{Addr: dst4}

	result := &Result{Details: map[string]string{"method": "tcp_syn"}}
	for _, port := range opts.Ports {
		if ctx.Err() != nil {
			if len(result.Ports) == 0 {
				return nil, errors.WrapProbeErrorWithTarget(errors.CodeCanceled,
					"tcp_syn interrupted before any port was probed", tgt.Addr.String(), ctx.Err())
			}
			break
		}
		if err := opts.Wait(ctx); err != nil {
			break
		}

		pr, sent := p.probePort(ctx, fd, sockAddr, srcIP, tgt.Addr, port, opts)
		result.PacketsSent += sent
		result.Ports = append(result.Ports, pr)
	}

	sort.Slice(result.Ports, func(i, j int) bool { return result.Ports[i].Port < result.Ports[j].Port })
	for _, pr := range result.Ports {
		if pr.State == PortOpen || pr.State == PortClosed {
			result.Reachable = true
			break
		}
	}
	return result, nil
}

func (p *TCPSYNProbe) probePort(ctx context.Context, fd int, dst *syscall.SockaddrInet4,
	srcIP net.IP, dstAddr netip.Addr, port uint16, opts *Options,
) (PortResult, int) {
	srcPort := uint16(32768 + rand.Intn(28000))
	seq := rand.Uint32()
	sent := 0

	segment, err := buildTCPSegment(srcIP, dstAddr, srcPort, port, seq, synFlags)
	if err != nil {
		return PortResult{Port: port, State: PortFiltered}, sent
	}
	if err := syscall.Sendto(fd, segment, 0, dst); err != nil {
		return PortResult{Port: port, State: PortFiltered}, sent
	}
	opts.countPacket(TypeTCPSYN)
	sent++

	deadline := time.Now().Add(synReadTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	start := time.Now()

	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		n, _, err := syscall.Recvfrom(fd, buf, 0)
		if err != nil {
			// EAGAIN is the socket timeout firing; keep polling
			// until the per-port deadline.
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
				continue
			}
			break
		}

		reply, ok := matchReply(buf[:n], dstAddr, port, srcPort)
		if !ok {
			continue
		}

		switch {
		case reply.SYN && reply.ACK:
			// Tear the half-open connection down.
			if rst, err := buildTCPSegment(srcIP, dstAddr, srcPort, port, seq+1, rstFlags); err == nil {
				if syscall.Sendto(fd, rst, 0, dst) == nil {
					opts.countPacket(TypeTCPSYN)
					sent++
				}
			}
			return PortResult{Port: port, State: PortOpen, Latency: time.Since(start)}, sent
		case reply.RST:
			return PortResult{Port: port, State: PortClosed, Latency: time.Since(start)}, sent
		}
	}

	return PortResult{Port: port, State: PortFiltered}, sent
}

type tcpFlags struct {
	SYN, ACK, RST bool
}

var (
	synFlags = tcpFlags{SYN: true}
	rstFlags = tcpFlags{RST: true}
)

// buildTCPSegment serializes one TCP segment with a valid checksum.
// The kernel prepends the IP header on send; the IPv4 layer exists only
// for checksum computation.
func buildTCPSegment(srcIP net.IP, dstAddr netip.Addr, srcPort, dstPort uint16, seq uint32, flags tcpFlags) ([]byte, error) {
	ip := &layers.IPv4{
		SrcIP:    srcIP,
		DstIP:    dstAddr.AsSlice(),
		Protocol: layers.IPProtocolTCP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		SYN:     flags.SYN,
		ACK:     flags.ACK,
		RST:     flags.RST,
		Window:  synWindowSize,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, tcp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// matchReply parses a raw IPv4 packet and returns its TCP layer when it
// is a reply from the probed host and port to our source port.
func matchReply(raw []byte, from netip.Addr, fromPort, toPort uint16) (*layers.TCP, bool) {
	packet := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.Default)

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, false
	}
	ip := ipLayer.(*layers.IPv4)
	srcAddr, ok := netip.AddrFromSlice(ip.SrcIP.To4())
	if !ok || srcAddr != from {
		return nil, false
	}

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return nil, false
	}
	tcp := tcpLayer.(*layers.TCP)
	if uint16(tcp.SrcPort) != fromPort || uint16(tcp.DstPort) != toPort {
		return nil, false
	}
	return tcp, true
}

// localIPv4For finds the source address the kernel would pick for the
// destination, without sending anything.
func localIPv4For(dst netip.Addr) (net.IP, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "80"))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.To4(), nil
}
