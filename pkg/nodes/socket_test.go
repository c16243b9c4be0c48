package nodes

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/logging"
)

func newLoopbackPair(t *testing.T) (a, b *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	b, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSocketWriterStartRequiresConnAndRemote(t *testing.T) {
	w := NewSocketWriter(graph.MediaAudio, logging.Nop())
	assert.Equal(t, graph.InvalidParam, w.Start())
}

func TestSocketWriterSendsDatagramToRemote(t *testing.T) {
	a, b := newLoopbackPair(t)

	w := NewSocketWriter(graph.MediaAudio, logging.Nop())
	w.SetConfig(SocketConfig{Conn: a, RemoteAddr: b.LocalAddr().(*net.UDPAddr)})
	require.Equal(t, graph.Success, w.Start())

	w.OnDataFromFrontNode(&graph.DataEntry{Payload: []byte("hello rtp")})
	require.True(t, w.Process())

	buf := make([]byte, 64)
	b.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := b.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello rtp", string(buf[:n]))

	packets, bytes := w.Stats()
	assert.Equal(t, uint64(1), packets)
	assert.Equal(t, uint64(len("hello rtp")), bytes)
}

func TestSocketWriterDropsOversizeDatagram(t *testing.T) {
	a, b := newLoopbackPair(t)

	w := NewSocketWriter(graph.MediaAudio, logging.Nop())
	w.SetConfig(SocketConfig{Conn: a, RemoteAddr: b.LocalAddr().(*net.UDPAddr), MtuBytes: 4})
	require.Equal(t, graph.Success, w.Start())

	w.OnDataFromFrontNode(&graph.DataEntry{Payload: []byte("too big for the mtu")})
	require.True(t, w.Process())

	packets, _ := w.Stats()
	assert.Zero(t, packets)
}

func TestSocketReaderStartRequiresConn(t *testing.T) {
	r := NewSocketReader(graph.MediaAudio, logging.Nop())
	assert.Equal(t, graph.InvalidParam, r.Start())
}

func TestSocketReaderForwardsIncomingDatagrams(t *testing.T) {
	a, b := newLoopbackPair(t)

	sink := newCaptureNode()
	r := NewSocketReader(graph.MediaAudio, logging.Nop())
	r.SetConfig(SocketConfig{Conn: a})
	r.SetNext(sink)
	require.Equal(t, graph.Success, r.Start())
	defer r.Stop()

	_, err := b.WriteToUDP([]byte("incoming"), a.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.received) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "incoming", string(sink.received[0].Payload))
	packets, bytes := r.Stats()
	assert.Equal(t, uint64(1), packets)
	assert.Equal(t, uint64(len("incoming")), bytes)
}

// TestSocketReaderCapturesIPTTL exercises applyRecvTTL/parseRecvTTL end to
// end over a real loopback socket, feeding the RTCP-XR statistics-summary
// block's min/max TTL fields (spec §4.6): a loopback datagram's TTL is
// reported by the kernel once IP_RECVTTL is armed on Start.
func TestSocketReaderCapturesIPTTL(t *testing.T) {
	a, b := newLoopbackPair(t)

	sink := newCaptureNode()
	r := NewSocketReader(graph.MediaAudio, logging.Nop())
	r.SetConfig(SocketConfig{Conn: a})
	r.SetNext(sink)
	require.Equal(t, graph.Success, r.Start())
	defer r.Stop()

	_, err := b.WriteToUDP([]byte("ttl-check"), a.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.received) == 1
	}, time.Second, 10*time.Millisecond)

	assert.True(t, sink.received[0].HaveTTL, "kernel should surface the loopback datagram's TTL once IP_RECVTTL is armed")
	assert.Greater(t, sink.received[0].TTL, uint8(0))
}
