// Package nodes implements the concrete node kinds (spec §2, §4.3-§4.5)
// that a StreamGraph wires together: socket I/O, RTP/RTCP codec framing,
// per-media payload encode/decode, DTMF, and source/renderer stubs that
// stand in for the host-owned capture/render surfaces (out of scope per
// spec §1). Every node embeds graph.Base for the shared queue/state
// plumbing and implements graph.Node for the rest.
package nodes

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arzzra/imscore/pkg/errs"
	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/logging"
)

// SocketConfig carries the already-bound connection and remote endpoint a
// SocketReader/SocketWriter use. The host owns the socket's lifetime
// (spec §1 non-goal: "socket ownership"); these nodes never create or
// close it themselves, only read/write and tune DSCP on Start.
type SocketConfig struct {
	Conn       *net.UDPConn
	RemoteAddr *net.UDPAddr
	DscpTos    uint8
	MtuBytes   int
}

// SocketReader is a runtime node: it owns a blocking-read goroutine rather
// than being driven by the scheduler, since a single recvfrom can block
// indefinitely and must not stall the cooperative worker of every other
// node sharing the graph.
type SocketReader struct {
	graph.Base
	log logging.Logger

	mu     sync.Mutex
	cfg    SocketConfig
	stopCh chan struct{}
	doneCh chan struct{}

	packetsIn uint64
	bytesIn   uint64
}

func NewSocketReader(media graph.MediaType, log logging.Logger) *SocketReader {
	return &SocketReader{Base: graph.NewBase(graph.NodeSocketReader, media), log: log}
}

func (n *SocketReader) IsRuntime() bool { return true }
func (n *SocketReader) IsSource() bool  { return true }

func (n *SocketReader) SetConfig(config any) {
	if c, ok := config.(SocketConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}

func (n *SocketReader) IsSameConfig(config any) bool {
	c, ok := config.(SocketConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return c.Conn == n.cfg.Conn && c.DscpTos == n.cfg.DscpTos
}

func (n *SocketReader) UpdateConfig(config any) graph.StartResult {
	if n.IsSameConfig(config) {
		return graph.Success
	}
	n.Stop()
	n.SetConfig(config)
	return n.Start()
}

func (n *SocketReader) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c.Conn == nil {
		return graph.InvalidParam
	}
	if err := applyDscp(c.Conn, c.DscpTos); err != nil {
		n.log.Warn("failed to set DSCP on read socket", "error", err.Error())
	}
	if err := applyRecvTTL(c.Conn); err != nil {
		n.log.Warn("failed to enable TTL capture on read socket", "error", err.Error())
	}
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	n.SetRunning()
	go n.readLoop(c.Conn, n.stopCh, n.doneCh)
	return graph.Success
}

func (n *SocketReader) Stop() {
	n.mu.Lock()
	stopCh := n.stopCh
	doneCh := n.doneCh
	n.stopCh = nil
	n.mu.Unlock()
	n.SetStopped()
	if stopCh == nil {
		return
	}
	close(stopCh)
	if c := n.currentConn(); c != nil {
		c.SetReadDeadline(time.Now())
	}
	select {
	case <-doneCh:
	case <-time.After(500 * time.Millisecond):
	}
}

func (n *SocketReader) currentConn() *net.UDPConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.Conn
}

func (n *SocketReader) readLoop(conn *net.UDPConn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 65535)
	oob := make([]byte, 64)
	for {
		select {
		case <-stop:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		nRead, nOob, _, _, err := conn.ReadMsgUDP(buf, oob)
		if err != nil {
			continue
		}
		if nRead == 0 {
			continue
		}
		payload := make([]byte, nRead)
		copy(payload, buf[:nRead])
		atomic.AddUint64(&n.packetsIn, 1)
		atomic.AddUint64(&n.bytesIn, uint64(nRead))
		ttl, haveTTL := parseRecvTTL(oob[:nOob])
		n.Forward(&graph.DataEntry{Subtype: graph.SubRtpPacket, Payload: payload, Arrival: time.Now(), TTL: ttl, HaveTTL: haveTTL})
	}
}

// Process is a no-op for a runtime node; the scheduler never calls it
// because SocketReader is never registered.
func (n *SocketReader) Process() bool                             { return false }
func (n *SocketReader) OnDataFromFrontNode(entry *graph.DataEntry) {}
func (n *SocketReader) Stats() (packets, bytes uint64) {
	return atomic.LoadUint64(&n.packetsIn), atomic.LoadUint64(&n.bytesIn)
}

// SocketWriter is the Tx-side counterpart: scheduled like any ordinary
// node (writing a single datagram does not block meaningfully), it
// dequeues entries and calls WriteToUDP.
type SocketWriter struct {
	graph.Base
	log logging.Logger

	mu  sync.Mutex
	cfg SocketConfig

	packetsOut uint64
	bytesOut   uint64
}

func NewSocketWriter(media graph.MediaType, log logging.Logger) *SocketWriter {
	return &SocketWriter{Base: graph.NewBase(graph.NodeSocketWriter, media), log: log}
}

func (n *SocketWriter) IsRuntime() bool { return false }
func (n *SocketWriter) IsSource() bool  { return false }

func (n *SocketWriter) SetConfig(config any) {
	if c, ok := config.(SocketConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}

func (n *SocketWriter) IsSameConfig(config any) bool {
	c, ok := config.(SocketConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return c.Conn == n.cfg.Conn && c.RemoteAddr.String() == addrString(n.cfg.RemoteAddr) && c.DscpTos == n.cfg.DscpTos
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func (n *SocketWriter) UpdateConfig(config any) graph.StartResult {
	if n.IsSameConfig(config) {
		return graph.Success
	}
	n.Stop()
	n.SetConfig(config)
	return n.Start()
}

func (n *SocketWriter) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c.Conn == nil || c.RemoteAddr == nil {
		return graph.InvalidParam
	}
	if err := applyDscp(c.Conn, c.DscpTos); err != nil {
		n.log.Warn("failed to set DSCP on write socket", "error", err.Error())
	}
	n.SetRunning()
	return graph.Success
}

func (n *SocketWriter) Stop() { n.SetStopped() }

func (n *SocketWriter) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	conn, remote, mtu := n.cfg.Conn, n.cfg.RemoteAddr, n.cfg.MtuBytes
	n.mu.Unlock()
	if conn == nil || remote == nil {
		return true
	}
	if mtu > 0 && len(e.Payload) > mtu {
		n.log.Warn("dropping oversize datagram", "len", len(e.Payload), "mtu", mtu)
		return true
	}
	if _, err := conn.WriteToUDP(e.Payload, remote); err != nil {
		n.log.Warn("write failed", "error", err.Error())
		return true
	}
	atomic.AddUint64(&n.packetsOut, 1)
	atomic.AddUint64(&n.bytesOut, uint64(len(e.Payload)))
	return true
}

func (n *SocketWriter) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

func (n *SocketWriter) Stats() (packets, bytes uint64) {
	return atomic.LoadUint64(&n.packetsOut), atomic.LoadUint64(&n.bytesOut)
}

// applyDscp sets IP_TOS (IPv4) on the socket per the §6 socket contract,
// using golang.org/x/sys/unix the way the teacher's transport layer tunes
// its own sockets rather than shelling out to setsockopt via cgo.
func applyDscp(conn *net.UDPConn, dscpTos uint8) error {
	if dscpTos == 0 {
		return nil
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return errs.Wrap(errs.NoResources, "nodes.applyDscp", err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, int(dscpTos))
	})
	if ctrlErr != nil {
		return errs.Wrap(errs.NoResources, "nodes.applyDscp", ctrlErr)
	}
	if sockErr != nil {
		return errs.Wrap(errs.NoResources, "nodes.applyDscp", sockErr)
	}
	return nil
}

// applyRecvTTL enables IP_RECVTTL so every ReadMsgUDP call returns the
// datagram's IP TTL as an ancillary control message, feeding the RTCP-XR
// statistics-summary block's min/max TTL fields (spec §4.6).
func applyRecvTTL(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return errs.Wrap(errs.NoResources, "nodes.applyRecvTTL", err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_RECVTTL, 1)
	})
	if ctrlErr != nil {
		return errs.Wrap(errs.NoResources, "nodes.applyRecvTTL", ctrlErr)
	}
	if sockErr != nil {
		return errs.Wrap(errs.NoResources, "nodes.applyRecvTTL", sockErr)
	}
	return nil
}

// parseRecvTTL scans a ReadMsgUDP control-message buffer for the
// IP_TTL ancillary message IP_RECVTTL arms, returning the TTL byte the
// kernel reported for that datagram.
func parseRecvTTL(oob []byte) (ttl uint8, ok bool) {
	if len(oob) == 0 {
		return 0, false
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}
	for _, m := range msgs {
		if m.Header.Level == unix.IPPROTO_IP && m.Header.Type == unix.IP_TTL && len(m.Data) > 0 {
			return m.Data[0], true
		}
	}
	return 0, false
}
