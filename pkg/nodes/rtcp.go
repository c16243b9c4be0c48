package nodes

import (
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/imscore/pkg/config"
	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/logging"
	wirertcp "github.com/arzzra/imscore/pkg/wire/rtcp"
)

// StatsProvider is implemented by pkg/quality's analyzer and supplies the
// reception-report and RTCP-XR fields an RtcpEncoder needs to build its
// next compound packet, without RtcpEncoder depending on the quality
// package directly (pkg/quality depends on the jitter buffer and RTP
// decoder stats; wiring it the other way around would cycle).
type StatsProvider interface {
	ReceptionReport() (ssrc uint32, fractionLost uint8, cumulativeLost int32, extHighestSeq uint32, jitter uint32, lastSR uint32, delaySinceLastSR uint32, ok bool)
	XRReport() (*wirertcp.XRReport, bool)
}

// RtcpEncoderConfig carries the sender identity and cadence.
type RtcpEncoderConfig struct {
	SSRC       uint32
	Cname      string
	IntervalMs int
	Stats      StatsProvider
}

// RtcpEncoder is registered as a source: the scheduler polls it every
// tick, and it only actually builds and forwards a compound packet once
// its configured interval has elapsed (default 5s per RFC 3550's
// minimum, configurable via RtpConfig.rtcp_interval_sec), the same
// timer-driven shape as the original source's periodic RTCP generation.
type RtcpEncoder struct {
	graph.Base
	log logging.Logger

	mu        sync.Mutex
	cfg       RtcpEncoderConfig
	lastSent  time.Time
	packets   uint32
	octets    uint32
	pendingFB []rtcp.Packet // NACK/PLI queued by RequestNACK/RequestPLI, sent ahead of the next cadence tick
}

func NewRtcpEncoder(log logging.Logger) *RtcpEncoder {
	return &RtcpEncoder{Base: graph.NewBase(graph.NodeRtcpEncoder, graph.MediaAudio), log: log}
}

func (n *RtcpEncoder) IsRuntime() bool { return false }
func (n *RtcpEncoder) IsSource() bool  { return true }

func (n *RtcpEncoder) SetConfig(cfg any) {
	if c, ok := cfg.(RtcpEncoderConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}

func (n *RtcpEncoder) IsSameConfig(cfg any) bool {
	c, ok := cfg.(RtcpEncoderConfig)
	if !ok {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return c.SSRC == n.cfg.SSRC && c.Cname == n.cfg.Cname && c.IntervalMs == n.cfg.IntervalMs
}

func (n *RtcpEncoder) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}

func (n *RtcpEncoder) Start() graph.StartResult {
	n.mu.Lock()
	if n.cfg.SSRC == 0 && n.cfg.Cname == "" {
		n.mu.Unlock()
		return graph.InvalidParam
	}
	if n.cfg.IntervalMs <= 0 {
		n.cfg.IntervalMs = 5000
	}
	n.lastSent = time.Time{}
	n.mu.Unlock()
	n.SetRunning()
	return graph.Success
}

func (n *RtcpEncoder) Stop() { n.SetStopped() }

// NotifySent lets an RtpEncoder on the same Tx path report outgoing
// packet/octet counts for the next Sender Report.
func (n *RtcpEncoder) NotifySent(packets, octets uint32) {
	n.mu.Lock()
	n.packets += packets
	n.octets += octets
	n.mu.Unlock()
}

// RequestNACK queues an RFC 4585 Transport-Layer NACK for the given lost
// sequence numbers, sent on the encoder's next Process tick ahead of the
// regular SR/SDES cadence (feedback is time-sensitive; it does not wait
// for the RTCP interval).
func (n *RtcpEncoder) RequestNACK(mediaSSRC uint32, lostSeqs []uint16) {
	if len(lostSeqs) == 0 {
		return
	}
	n.mu.Lock()
	n.pendingFB = append(n.pendingFB, wirertcp.BuildNACK(n.cfg.SSRC, mediaSSRC, lostSeqs))
	n.mu.Unlock()
}

// RequestPLI queues a Picture Loss Indication asking the remote encoder
// for a fresh IDR frame, per §4.3/§4.4's video packet-loss feedback path.
func (n *RtcpEncoder) RequestPLI(mediaSSRC uint32) {
	n.mu.Lock()
	n.pendingFB = append(n.pendingFB, wirertcp.BuildPLI(n.cfg.SSRC, mediaSSRC))
	n.mu.Unlock()
}

// RequestBitrateChange queues a REMB asking the remote video encoder to
// cap its output at bitrateBps, the video bitrate-change feedback path
// of §4.3/§4.4.
func (n *RtcpEncoder) RequestBitrateChange(mediaSSRC uint32, bitrateBps uint64) {
	n.mu.Lock()
	n.pendingFB = append(n.pendingFB, wirertcp.BuildREMB(n.cfg.SSRC, mediaSSRC, bitrateBps))
	n.mu.Unlock()
}

func (n *RtcpEncoder) Process() bool {
	n.mu.Lock()
	cfg := n.cfg
	due := n.lastSent.IsZero() || time.Since(n.lastSent) >= time.Duration(cfg.IntervalMs)*time.Millisecond
	fb := n.pendingFB
	n.pendingFB = nil
	n.mu.Unlock()

	if len(fb) > 0 {
		if raw, err := wirertcp.EncodeFeedback(fb...); err == nil {
			n.Forward(&graph.DataEntry{Subtype: graph.SubRtcpPacket, Payload: raw, Arrival: time.Now()})
		} else {
			n.log.Warn("rtcp feedback encode failed", "error", err.Error())
		}
		if !due {
			return true
		}
	}
	if !due {
		return false
	}

	now := time.Now()
	var packets []rtcp.Packet
	if cfg.Stats != nil {
		if ssrc, frac, cum, extSeq, jitter, lastSR, delay, ok := cfg.Stats.ReceptionReport(); ok {
			rr := wirertcp.BuildReceptionReport(ssrc, frac, cum, extSeq, jitter, lastSR, delay)
			n.mu.Lock()
			pkts, octs := n.packets, n.octets
			n.mu.Unlock()
			packets = append(packets, &rtcp.SenderReport{
				SSRC:        cfg.SSRC,
				NTPTime:     wirertcp.NTPTime(now),
				RTPTime:     uint32(now.UnixNano() / 1000),
				PacketCount: pkts,
				OctetCount:  octs,
				Reports:     []rtcp.ReceptionReport{rr},
			})
		}
	}
	if len(packets) == 0 {
		n.mu.Lock()
		pkts, octs := n.packets, n.octets
		n.mu.Unlock()
		packets = append(packets, &rtcp.SenderReport{SSRC: cfg.SSRC, NTPTime: wirertcp.NTPTime(now), RTPTime: uint32(now.UnixNano() / 1000), PacketCount: pkts, OctetCount: octs})
	}
	packets = append(packets, &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: cfg.SSRC,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: cfg.Cname}},
		}},
	})

	raw, err := wirertcp.Encode(&wirertcp.Compound{Packets: packets})
	if err != nil {
		n.log.Warn("rtcp encode failed", "error", err.Error())
		return true
	}

	// RTCP-XR (RFC 3611) is appended as raw, already-framed bytes rather
	// than routed through pion/rtcp's Marshal — see wire/rtcp/xr.go's
	// grounding note on why the XR block codec is hand-rolled. A compound
	// RTCP datagram is simply concatenated individual packets, so this is
	// wire-compatible with the SR/SDES bytes produced above.
	if cfg.Stats != nil {
		if xr, ok := cfg.Stats.XRReport(); ok {
			if xrBytes, err := wirertcp.EncodeXR(xr); err == nil {
				raw = append(raw, xrBytes...)
			}
		}
	}

	n.mu.Lock()
	n.lastSent = now
	n.mu.Unlock()

	n.Forward(&graph.DataEntry{Subtype: graph.SubRtcpPacket, Payload: raw, Arrival: now})
	return true
}

func (n *RtcpEncoder) OnDataFromFrontNode(entry *graph.DataEntry) {}

// RtcpDecoder parses incoming compound RTCP and fans the SR, BYE, XR and
// NACK/PLI/REMB feedback content out to whatever wants it (the session,
// the quality analyzer); Receiver Reports are not dispatched.
// It is scheduled normally (not a source): it only has work when a
// datagram arrives.
type RtcpDecoder struct {
	graph.Base
	log logging.Logger

	mu        sync.Mutex
	threshold *config.MediaQualityThreshold
	onBye     func()
	onXR      func(*wirertcp.XRReport)
	onSR      func(*rtcp.SenderReport)
	onNACK    func(*rtcp.TransportLayerNack)
	onPLI     func(*rtcp.PictureLossIndication)
	onREMB    func(*rtcp.ReceiverEstimatedMaximumBitrate)

	inactivityTimeout time.Duration
	lastPacketAt      time.Time
	inactive          bool
	onInactivity      func(time.Duration)
}

func NewRtcpDecoder(log logging.Logger) *RtcpDecoder {
	return &RtcpDecoder{Base: graph.NewBase(graph.NodeRtcpDecoder, graph.MediaAudio), log: log}
}

func (n *RtcpDecoder) IsRuntime() bool { return false }
func (n *RtcpDecoder) IsSource() bool  { return false }

func (n *RtcpDecoder) SetConfig(cfg any)                      {}
func (n *RtcpDecoder) IsSameConfig(cfg any) bool              { return true }
func (n *RtcpDecoder) UpdateConfig(cfg any) graph.StartResult { return graph.Success }

func (n *RtcpDecoder) Start() graph.StartResult {
	n.mu.Lock()
	n.lastPacketAt = time.Now()
	n.inactive = false
	n.mu.Unlock()
	n.SetRunning()
	return graph.Success
}

func (n *RtcpDecoder) Stop() { n.SetStopped() }

// SetThreshold applies the Rx-only MediaQualityThreshold forward (spec
// §4.2).
func (n *RtcpDecoder) SetThreshold(t config.MediaQualityThreshold) {
	n.mu.Lock()
	n.threshold = &t
	n.mu.Unlock()
}

// OnBye/OnXR/OnSenderReport register the session/quality-analyzer
// callbacks invoked as each sub-packet type is parsed.
func (n *RtcpDecoder) OnBye(f func())                            { n.mu.Lock(); n.onBye = f; n.mu.Unlock() }
func (n *RtcpDecoder) OnXR(f func(*wirertcp.XRReport))           { n.mu.Lock(); n.onXR = f; n.mu.Unlock() }
func (n *RtcpDecoder) OnSenderReport(f func(*rtcp.SenderReport)) { n.mu.Lock(); n.onSR = f; n.mu.Unlock() }

// OnNACK/OnPLI register the Tx-side callbacks invoked when the remote end
// requests retransmission or a fresh IDR frame (§9's NACK/IDR feedback
// path).
func (n *RtcpDecoder) OnNACK(f func(*rtcp.TransportLayerNack))   { n.mu.Lock(); n.onNACK = f; n.mu.Unlock() }
func (n *RtcpDecoder) OnPLI(f func(*rtcp.PictureLossIndication)) { n.mu.Lock(); n.onPLI = f; n.mu.Unlock() }

// OnREMB registers the callback invoked when the remote end requests a
// video bitrate change (§9's "video bitrate change" feedback path).
func (n *RtcpDecoder) OnREMB(f func(*rtcp.ReceiverEstimatedMaximumBitrate)) {
	n.mu.Lock()
	n.onREMB = f
	n.mu.Unlock()
}

// SetRtcpInactivityTimeout arms the no-traffic watchdog (spec §4.3/§4.4's
// configurable RTCP inactivity timer, scenario E3); zero disables it.
// Unlike RtpDecoder, RtcpDecoder is not a scheduler source — it only runs
// when a datagram arrives — so the elapsed-timeout check is driven
// externally via CheckInactivity rather than from Process.
func (n *RtcpDecoder) SetRtcpInactivityTimeout(d time.Duration) {
	n.mu.Lock()
	n.inactivityTimeout = d
	n.mu.Unlock()
}

// OnInactivity registers the callback fired once, with the timeout that
// elapsed, when no RTCP packet has been received for that long.
func (n *RtcpDecoder) OnInactivity(f func(timeout time.Duration)) {
	n.mu.Lock()
	n.onInactivity = f
	n.mu.Unlock()
}

// CheckInactivity is polled by the session's 1Hz quality-collection tick
// since this node has no tick of its own.
func (n *RtcpDecoder) CheckInactivity(now time.Time) {
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

func (n *RtcpDecoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	compound, err := wirertcp.Decode(e.Payload)
	if err != nil {
		var fbErr error
		compound, fbErr = wirertcp.DecodeFeedback(e.Payload)
		if fbErr != nil {
			n.log.Warn("rtcp decode failed", "error", err.Error())
			return true
		}
	}
	n.mu.Lock()
	n.lastPacketAt = e.Arrival
	n.inactive = false
	onBye, onSR, onNACK, onPLI, onREMB := n.onBye, n.onSR, n.onNACK, n.onPLI, n.onREMB
	n.mu.Unlock()
	for _, p := range compound.Packets {
		switch v := p.(type) {
		case *rtcp.Goodbye:
			if onBye != nil {
				onBye()
			}
		case *rtcp.SenderReport:
			if onSR != nil {
				onSR(v)
			}
		case *rtcp.TransportLayerNack:
			if onNACK != nil {
				onNACK(v)
			}
		case *rtcp.PictureLossIndication:
			if onPLI != nil {
				onPLI(v)
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			if onREMB != nil {
				onREMB(v)
			}
		}
	}
	if xr, ok, err := wirertcp.ExtractXR(e.Payload); err == nil && ok {
		n.mu.Lock()
		onXR := n.onXR
		n.mu.Unlock()
		if onXR != nil {
			onXR(xr)
		}
	}
	return true
}

func (n *RtcpDecoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }
