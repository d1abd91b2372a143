package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenUDPEcho starts a UDP server that echoes every datagram back.
func listenUDPEcho(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			_, _ = conn.WriteTo(buf[:n], addr)
		}
	}()

	_, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

// closedUDPPort reserves a UDP port and releases it so probes to it get
// ICMP port-unreachable on loopback.
func closedUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return uint16(port)
}

func TestUDPOpenPort(t *testing.T) {
	port := listenUDPEcho(t)

	p := NewUDPProbe()
	opts := &Options{Timeout: 2 * time.Second, Ports: []uint16{port}, PortConcurrency: 1}

	result, err := p.Execute(context.Background(), localTarget(t), opts)
	require.NoError(t, err)
	require.Len(t, result.Ports, 1)
	assert.Equal(t, PortOpen, result.Ports[0].State)
	assert.True(t, result.Reachable)
}

func TestUDPClosedPort(t *testing.T) {
	port := closedUDPPort(t)

	p := NewUDPProbe()
	opts := &Options{Timeout: 2 * time.Second, Ports: []uint16{port}, PortConcurrency: 1}

	result, err := p.Execute(context.Background(), localTarget(t), opts)
	require.NoError(t, err)
	require.Len(t, result.Ports, 1)
	assert.Equal(t, PortClosed, result.Ports[0].State)
}

func TestUDPSilentPortIsAmbiguous(t *testing.T) {
	// A listener that never answers: silence, not refusal.
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	portInt, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := NewUDPProbe()
	opts := &Options{Timeout: 500 * time.Millisecond, Ports: []uint16{uint16(portInt)}, PortConcurrency: 1}

	result, err := p.Execute(context.Background(), localTarget(t), opts)
	require.NoError(t, err)
	require.Len(t, result.Ports, 1)
	assert.Equal(t, PortOpenFiltered, result.Ports[0].State)
}

func TestUDPNoPorts(t *testing.T) {
	p := NewUDPProbe()
	_, err := p.Execute(context.Background(), localTarget(t), &Options{})
	assert.Error(t, err)
}

func TestUDPPayloads(t *testing.T) {
	assert.NotEmpty(t, udpPayload(53))
	assert.Len(t, udpPayload(123), 48)
	assert.Equal(t, byte(0x1b), udpPayload(123)[0])
	assert.NotEmpty(t, udpPayload(161))
	assert.Equal(t, []byte{0x00}, udpPayload(9999))
}
