package nodes

import (
	"sync"
	"time"

	"github.com/arzzra/imscore/pkg/config"
	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/jitterbuffer"
	"github.com/arzzra/imscore/pkg/logging"
	wirertp "github.com/arzzra/imscore/pkg/wire/rtp"
)

// RtpEncoderConfig carries the per-session identity an RtpEncoder stamps
// onto every outgoing packet.
type RtpEncoderConfig struct {
	SSRC        uint32
	PayloadType uint8
	ClockRateHz uint32
	FrameLen    time.Duration
}

// RtpEncoder sits on the Tx graph between the per-media payload encoder
// and SocketWriter: it assigns sequence numbers, derives RTP timestamps
// via wirertp.TimestampClock (§4.3), and marshals the packet to wire
// bytes.
type RtpEncoder struct {
	graph.Base
	log logging.Logger

	mu      sync.Mutex
	cfg     RtpEncoderConfig
	seq     uint16
	clock   *wirertp.TimestampClock
	started bool
}

func NewRtpEncoder(media graph.MediaType, log logging.Logger) *RtpEncoder {
	return &RtpEncoder{Base: graph.NewBase(graph.NodeRtpEncoder, media), log: log}
}

func (n *RtpEncoder) IsRuntime() bool { return false }
func (n *RtpEncoder) IsSource() bool  { return false }

func (n *RtpEncoder) SetConfig(config any) {
	if c, ok := config.(RtpEncoderConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}

func (n *RtpEncoder) IsSameConfig(cfg any) bool {
	c, ok := cfg.(RtpEncoderConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return c == n.cfg
}

func (n *RtpEncoder) UpdateConfig(cfg any) graph.StartResult {
	if n.IsSameConfig(cfg) {
		return graph.Success
	}
	n.mu.Lock()
	n.cfg = cfg.(RtpEncoderConfig)
	n.mu.Unlock()
	return graph.Success
}

func (n *RtpEncoder) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c.ClockRateHz == 0 {
		return graph.InvalidParam
	}
	seq, err := wirertp.GenerateSeq()
	if err != nil {
		return graph.NoResources
	}
	n.mu.Lock()
	n.seq = seq
	n.clock = wirertp.NewTimestampClock(c.ClockRateHz, c.FrameLen)
	n.started = true
	n.mu.Unlock()
	n.SetRunning()
	return graph.Success
}

func (n *RtpEncoder) Stop() { n.SetStopped() }

func (n *RtpEncoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}

	n.mu.Lock()
	cfg := n.cfg
	seq := n.seq
	n.seq++
	clock := n.clock
	n.mu.Unlock()

	ts, ok := clock.Advance(e.Arrival, e.Timestamp)
	if !ok {
		return true
	}

	pkt := &wirertp.Packet{
		Header: wirertp.Header{
			Version:        wirertp.Version,
			PayloadType:    cfg.PayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           cfg.SSRC,
			Marker:         e.Marker,
		},
		Payload: e.Payload,
	}
	raw, err := wirertp.Encode(pkt)
	if err != nil {
		n.log.Warn("rtp encode failed", "error", err.Error())
		return true
	}
	n.Forward(&graph.DataEntry{Subtype: graph.SubRtpPacket, Payload: raw, Timestamp: ts, Sequence: seq, Marker: e.Marker, Arrival: e.Arrival})
	return true
}

func (n *RtpEncoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// RtpDecoderConfig carries the Rx-side expectations: the jitter buffer
// sizing and the negotiated payload type.
type RtpDecoderConfig struct {
	Jitter      jitterbuffer.Config
	PayloadType uint8
}

// RtpDecoder sits on the Rx graph between SocketReader and the per-media
// payload decoder: it parses wire bytes, feeds the jitter buffer, and
// pulls playable entries out in sequence order (spec §4.3, §4.5). It is
// registered as a source so the scheduler polls it every tick regardless
// of its own input queue depth — playout must proceed even when no new
// packet has arrived.
type RtpDecoder struct {
	graph.Base
	log logging.Logger

	mu        sync.Mutex
	cfg       RtpDecoderConfig
	buf       *jitterbuffer.Buffer
	haveSSRC  bool
	ssrc      uint32
	threshold *config.MediaQualityThreshold

	highestExtSeq uint32
	baseSeq       uint16
	cycles        uint32
	received      uint64
	lastTransit   int64
	jitterEst     float64

	inactivityTimeout time.Duration
	lastPacketAt      time.Time
	inactive          bool
	onInactivity      func(time.Duration)
}

func NewRtpDecoder(media graph.MediaType, log logging.Logger) *RtpDecoder {
	return &RtpDecoder{Base: graph.NewBase(graph.NodeRtpDecoder, media), log: log}
}

func (n *RtpDecoder) IsRuntime() bool { return false }
func (n *RtpDecoder) IsSource() bool  { return true }

func (n *RtpDecoder) SetConfig(cfg any) {
	if c, ok := cfg.(RtpDecoderConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.buf = jitterbuffer.New(c.Jitter)
		n.mu.Unlock()
	}
}

func (n *RtpDecoder) IsSameConfig(cfg any) bool {
	c, ok := cfg.(RtpDecoderConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return c.PayloadType == n.cfg.PayloadType && c.Jitter == n.cfg.Jitter
}

func (n *RtpDecoder) UpdateConfig(cfg any) graph.StartResult {
	if n.IsSameConfig(cfg) {
		return graph.Success
	}
	n.SetConfig(cfg)
	return graph.Success
}

func (n *RtpDecoder) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.buf = jitterbuffer.New(c.Jitter)
	n.haveSSRC = false
	n.lastPacketAt = time.Now()
	n.inactive = false
	n.mu.Unlock()
	n.SetRunning()
	return graph.Success
}

func (n *RtpDecoder) Stop() { n.SetStopped() }

// SetThreshold applies the Rx-only MediaQualityThreshold forward per
// spec §4.2 ("set-media-quality-threshold is forwarded to the RTP
// decoder / RTCP decoder only").
func (n *RtpDecoder) SetThreshold(t config.MediaQualityThreshold) {
	n.mu.Lock()
	n.threshold = &t
	n.mu.Unlock()
}

// SetInactivityTimeout arms the no-traffic watchdog (spec §4.3/§4.4's
// configurable RTP inactivity timer, scenario E3); zero disables it.
func (n *RtpDecoder) SetInactivityTimeout(d time.Duration) {
	n.mu.Lock()
	n.inactivityTimeout = d
	n.mu.Unlock()
}

// OnInactivity registers the callback fired once, with the timeout that
// elapsed, when no RTP packet has arrived for that long. The latch resets
// on the next ingested packet.
func (n *RtpDecoder) OnInactivity(f func(timeout time.Duration)) {
	n.mu.Lock()
	n.onInactivity = f
	n.mu.Unlock()
}

func (n *RtpDecoder) checkInactivity(now time.Time) {
	n.mu.Lock()
	timeout := n.inactivityTimeout
	due := timeout > 0 && !n.inactive && now.Sub(n.lastPacketAt) >= timeout
	if due {
		n.inactive = true
	}
	cb := n.onInactivity
	n.mu.Unlock()
	if due && cb != nil {
		cb(timeout)
	}
}

func (n *RtpDecoder) Process() bool {
	did := false
	if e := n.Dequeue(); e != nil {
		n.ingest(e)
		did = true
	}
	n.checkInactivity(time.Now())
	n.mu.Lock()
	buf := n.buf
	n.mu.Unlock()
	if buf == nil {
		return did
	}
	entry, ok := buf.Get(time.Now())
	if !ok {
		return did
	}
	sub := graph.SubRtpPayload
	if entry.Synthetic {
		sub = graph.SubPcmNoData
	}
	n.Forward(&graph.DataEntry{Subtype: sub, Payload: entry.Payload, Timestamp: entry.Timestamp, Sequence: entry.Seq, Marker: entry.Marker, Arrival: entry.Arrival})
	return true
}

func (n *RtpDecoder) ingest(e *graph.DataEntry) {
	pkt, err := wirertp.Decode(e.Payload)
	if err != nil {
		n.log.Warn("rtp decode failed", "error", err.Error())
		return
	}

	n.mu.Lock()
	n.lastPacketAt = e.Arrival
	n.inactive = false
	if !n.haveSSRC {
		n.haveSSRC = true
		n.ssrc = pkt.SSRC
		n.baseSeq = pkt.SequenceNumber
	} else if pkt.SSRC != n.ssrc {
		n.ssrc = pkt.SSRC
		n.baseSeq = pkt.SequenceNumber
		n.cycles = 0
		n.buf.Reset()
		n.mu.Unlock()
		n.Forward(&graph.DataEntry{Subtype: graph.SubRefreshed, Arrival: e.Arrival})
		n.mu.Lock()
	}
	if wirertp.CompareSeq16(pkt.SequenceNumber, n.baseSeq) < 0 && pkt.SequenceNumber < n.baseSeq {
		n.cycles++
	}
	n.received++
	transit := e.Arrival.UnixNano()/1000 - int64(pkt.Timestamp)
	if n.received > 1 {
		n.jitterEst, n.lastTransit = computeJitter(n.jitterEst, n.lastTransit, transit)
	} else {
		n.lastTransit = transit
	}
	buf := n.buf
	n.mu.Unlock()

	buf.Put(&jitterbuffer.Entry{Seq: pkt.SequenceNumber, Timestamp: pkt.Timestamp, Arrival: e.Arrival, Marker: pkt.Marker, Payload: pkt.Payload, TTL: e.TTL, HaveTTL: e.HaveTTL})
}

func computeJitter(prevJitter float64, prevTransit, transit int64) (float64, int64) {
	d := transit - prevTransit
	if d < 0 {
		d = -d
	}
	return prevJitter + (float64(d)-prevJitter)/16.0, transit
}

func (n *RtpDecoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// Statistics exposes the jitter buffer and loss counters the quality
// analyzer's collectRxRtpStatus/collectJitterBufferSize need.
func (n *RtpDecoder) Statistics() (jitterbuffer.Statistics, float64, int) {
	n.mu.Lock()
	buf := n.buf
	jitterEst := n.jitterEst
	n.mu.Unlock()
	if buf == nil {
		return jitterbuffer.Statistics{}, jitterEst, 0
	}
	return buf.Statistics(), jitterEst, buf.Depth()
}

// JitterBufferConfig implements quality.JitterBufferConfigProvider, letting
// the analyzer fill in the XR VoIP-metrics block's JBNominal/JBMaximum/
// JBAbsMax fields from the buffer's actual configured bounds rather than
// leaving them at the RFC 3611 "unavailable" sentinel.
func (n *RtpDecoder) JitterBufferConfig() jitterbuffer.Config {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.Jitter
}

// RecentLostSeqs drains the jitter buffer's gap list, feeding
// quality.Analyzer's NACK-request path. Returns nil once there is nothing
// new since the last call.
func (n *RtpDecoder) RecentLostSeqs() []uint16 {
	n.mu.Lock()
	buf := n.buf
	n.mu.Unlock()
	if buf == nil {
		return nil
	}
	return buf.DrainLost()
}
