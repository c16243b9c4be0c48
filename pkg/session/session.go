// Package session implements the host-facing command/event API (spec
// §3, §6): one Session owns the three per-direction StreamGraphs
// (RtpTx, RtpRx, Rtcp), drives an Opened/Active/Suspended/Closed state
// machine via github.com/looplab/fsm (the same state-machine library the
// teacher uses for its own call/dialog lifecycle), and fans RTCP/quality
// events out to the host as asynchronous Events.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/rtcp"

	"github.com/arzzra/imscore/pkg/config"
	"github.com/arzzra/imscore/pkg/errs"
	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/jitterbuffer"
	"github.com/arzzra/imscore/pkg/logging"
	"github.com/arzzra/imscore/pkg/nodes"
	"github.com/arzzra/imscore/pkg/nodes/codecs"
	"github.com/arzzra/imscore/pkg/quality"
	wirertcp "github.com/arzzra/imscore/pkg/wire/rtcp"
	wirertp "github.com/arzzra/imscore/pkg/wire/rtp"
)

// EventKind is the async event taxonomy of spec §6.
type EventKind int

const (
	EventOpenSuccess EventKind = iota
	EventOpenFailure
	EventSessionChanged
	EventFirstMediaPacketReceived
	EventRtpHeaderExtensionReceived
	EventMediaInactivity
	EventPacketLoss
	EventJitter
	EventMediaQualityStatus
	EventPeerDimensionChanged
	EventVideoDataUsage
	// EventCallQualityReport carries the periodic aggregate loss/jitter
	// grade the analyzer closes every 5 seconds (spec §4.6).
	EventCallQualityReport
)

// Event is one asynchronous notification delivered to the host.
type Event struct {
	Kind      EventKind
	SessionID uint32
	Err       error
	Value     float64
	At        time.Time
	// Cause labels which direction a MediaInactivity event fired for
	// ("RTP" or "RTCP").
	Cause string
	// Report carries the aggregate window when Kind is
	// EventCallQualityReport; nil otherwise.
	Report *quality.CallQualityReport
}

// Sockets carries the already-bound UDP sockets and remote endpoints the
// host hands to OpenSession (spec §1 non-goal: socket ownership — the
// session never creates or closes these), plus the host-owned capture/
// render surfaces for whichever media kind this session carries (spec §1
// non-goal: rendering/capture surface ownership). Only the fields for the
// session's configured Kind need to be populated; the others are ignored.
type Sockets struct {
	RtpConn    *net.UDPConn
	RtcpConn   *net.UDPConn
	RemoteRtp  *net.UDPAddr
	RemoteRtcp *net.UDPAddr

	AudioSource nodes.PCMSource
	AudioSink   nodes.PCMSink
	VideoSource nodes.VideoFrameSource
	VideoSink   nodes.VideoFrameSink
	TextSink    nodes.TextSink
}

// Session is one media leg: exactly one of Audio/Video/Text per
// config.SessionConfig.Kind, carried over three StreamGraphs.
type Session struct {
	id  uint32
	log logging.Logger

	mu      sync.Mutex
	cfg     config.SessionConfig
	sockets Sockets

	fsm *fsm.FSM

	txGraph   *graph.StreamGraph
	rxGraph   *graph.StreamGraph
	rtcpGraph *graph.StreamGraph

	rtpDecoder      *nodes.RtpDecoder
	rtcpDecoder     *nodes.RtcpDecoder
	rtcpEncoder     *nodes.RtcpEncoder
	dtmfSender      *nodes.DtmfSender
	audioPayloadEnc *nodes.AudioPayloadEncoder

	analyzer *quality.Analyzer
	ssrc     uint32

	events chan Event

	firstPacket bool

	stopQuality chan struct{}
	pendingCfgs *pendingConfigs
}

// New constructs a Session in state Opened=false (not yet created);
// OpenSession performs the actual graph construction.
func New(id uint32, log logging.Logger) *Session {
	if log == nil {
		log = logging.Nop()
	}
	s := &Session{id: id, log: logging.NewSessionCorrelated(log, id), events: make(chan Event, 64)}
	s.fsm = fsm.NewFSM(
		"idle",
		fsm.Events{
			{Name: "open", Src: []string{"idle"}, Dst: "opened"},
			{Name: "activate", Src: []string{"opened", "suspended"}, Dst: "active"},
			{Name: "suspend", Src: []string{"active"}, Dst: "suspended"},
			{Name: "modify", Src: []string{"opened", "active", "suspended"}, Dst: "opened"},
			{Name: "close", Src: []string{"opened", "active", "suspended"}, Dst: "closed"},
		},
		fsm.Callbacks{},
	)
	return s
}

// Events returns the channel the host drains for async notifications.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) emit(e Event) {
	e.SessionID = s.id
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("event channel full, dropping event", "kind", int(e.Kind))
	}
}

// OnGraphStateChanged implements graph.EventSink so a SessionChanged
// event fires whenever any of the three graphs transitions.
func (s *Session) OnGraphStateChanged(dir graph.Direction, state graph.State) {
	s.emit(Event{Kind: EventSessionChanged, Value: float64(state)})
}

// OpenSession decodes the raw config, builds the three StreamGraphs, and
// starts them (spec §6 OpenSession). Failure emits EventOpenFailure and
// leaves the session in idle.
func (s *Session) OpenSession(raw map[string]interface{}, sockets Sockets) error {
	cfg, err := config.Decode(raw)
	if err != nil {
		s.emit(Event{Kind: EventOpenFailure, Err: err})
		return err
	}
	return s.open(cfg, sockets)
}

func (s *Session) open(cfg config.SessionConfig, sockets Sockets) error {
	ssrc, err := wirertp.GenerateSSRC()
	if err != nil {
		s.emit(Event{Kind: EventOpenFailure, Err: err})
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.sockets = sockets
	s.ssrc = ssrc
	s.mu.Unlock()

	s.rtpDecoder = nodes.NewRtpDecoder(mediaType(cfg.Kind), s.log.With("node", "RtpDecoder"))
	s.rtcpDecoder = nodes.NewRtcpDecoder(s.log.With("node", "RtcpDecoder"))
	s.rtcpEncoder = nodes.NewRtcpEncoder(s.log.With("node", "RtcpEncoder"))
	s.dtmfSender = nodes.NewDtmfSender(s.log.With("node", "DtmfSender"))

	s.analyzer = quality.NewAnalyzer(s.id, ssrc, s.rtpDecoder, cfg.Threshold, nil, cfg.Kind == config.MediaVideo)
	s.analyzer.SetFeedbackSink(s.rtcpEncoder)

	s.rtcpDecoder.OnSenderReport(func(sr *rtcp.SenderReport) {
		now := time.Now()
		s.analyzer.NoteSenderReport(wirertcp.MidNTP(sr.NTPTime), now)
		for _, rr := range sr.Reports {
			if rr.SSRC == s.ssrc && rr.Delay > 0 {
				s.analyzer.NoteReceptionReport(rr.LastSenderReport, rr.Delay, now)
				break
			}
		}
	})
	s.rtcpDecoder.OnXR(func(xr *wirertcp.XRReport) {
		s.emit(Event{Kind: EventMediaQualityStatus})
	})
	// A PLI means the peer's decoder gave up on concealment; surface it as
	// the same quality-status notification XR crossings use so a host
	// already watching that event can force its video encoder's next
	// frame to an IDR. NACK only asks for retransmission, which this
	// module does not buffer for (no RTX history kept per §1's
	// socket-ownership non-goal), so it is logged rather than acted on.
	s.rtcpDecoder.OnPLI(func(*rtcp.PictureLossIndication) {
		s.emit(Event{Kind: EventMediaQualityStatus})
	})
	s.rtcpDecoder.OnNACK(func(n *rtcp.TransportLayerNack) {
		s.log.Warn("peer requested retransmission; no RTX buffer configured", "media_ssrc", n.MediaSSRC)
	})
	// A REMB from the peer's decoder asks our own video encoder to back
	// off; forward it to the host encoder surface if it exposes the
	// optional target-bitrate hook, same inversion as VideoFrameSource
	// for capture.
	s.rtcpDecoder.OnREMB(func(r *rtcp.ReceiverEstimatedMaximumBitrate) {
		if bt, ok := s.sockets.VideoSource.(nodes.BitrateTarget); ok {
			bt.SetTargetBitrate(uint64(r.Bitrate))
		}
	})
	if cfg.Kind == config.MediaVideo {
		s.analyzer.SetTargetBitrate(uint64(cfg.Video.BitrateKbps) * 1000)
	}

	// MediaInactivity watchdogs (spec §4.3/§4.4/§7 scenario E3): the RTP
	// decoder is polled every scheduler tick and can time itself; the RTCP
	// decoder is not a scheduled source, so qualityLoop's 1Hz tick drives
	// its CheckInactivity below.
	s.rtpDecoder.OnInactivity(func(timeout time.Duration) {
		s.emit(Event{Kind: EventMediaInactivity, Cause: "RTP", Value: timeout.Seconds()})
	})
	s.rtcpDecoder.OnInactivity(func(timeout time.Duration) {
		s.emit(Event{Kind: EventMediaInactivity, Cause: "RTCP", Value: timeout.Seconds()})
	})

	s.txGraph = graph.NewStreamGraph(graph.DirRtpTx, s.buildTxGraph, s, s.log.With("direction", "RtpTx"))
	s.rxGraph = graph.NewStreamGraph(graph.DirRtpRx, s.buildRxGraph, s, s.log.With("direction", "RtpRx"))
	s.rtcpGraph = graph.NewStreamGraph(graph.DirRtcp, s.buildRtcpGraph, s, s.log.With("direction", "Rtcp"))

	for _, g := range []*graph.StreamGraph{s.txGraph, s.rxGraph, s.rtcpGraph} {
		if err := g.Create(cfg); err != nil {
			s.emit(Event{Kind: EventOpenFailure, Err: err})
			return err
		}
	}
	for _, g := range []*graph.StreamGraph{s.txGraph, s.rxGraph, s.rtcpGraph} {
		if err := g.Start(); err != nil {
			s.emit(Event{Kind: EventOpenFailure, Err: err})
			return err
		}
	}

	if err := s.fsm.Event(context.Background(), "open"); err != nil {
		return errs.Wrap(errs.NotReady, "session.OpenSession", err)
	}
	if err := s.fsm.Event(context.Background(), "activate"); err != nil {
		return errs.Wrap(errs.NotReady, "session.OpenSession", err)
	}

	s.stopQuality = make(chan struct{})
	go s.qualityLoop(s.stopQuality)

	s.emit(Event{Kind: EventOpenSuccess})
	return nil
}

func (s *Session) qualityLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.analyzer.Collect(now)
			s.rtcpDecoder.CheckInactivity(now)
			s.drainAnalyzerEvents()
		}
	}
}

func (s *Session) drainAnalyzerEvents() {
	for {
		select {
		case qe := <-s.analyzer.Events():
			switch qe.Kind {
			case quality.EventJitterExceeded, quality.EventJitterRecovered:
				s.emit(Event{Kind: EventJitter, Value: qe.Value})
			case quality.EventPacketLossExceeded, quality.EventPacketLossRecovered:
				s.emit(Event{Kind: EventPacketLoss, Value: qe.Value})
			case quality.EventCallQualityReport:
				s.emit(Event{Kind: EventCallQualityReport, Report: qe.Report, At: qe.At})
			default:
				s.emit(Event{Kind: EventMediaQualityStatus, Value: qe.Value})
			}
		default:
			return
		}
	}
}

// CloseSession stops all three graphs and transitions to closed (spec
// §6 CloseSession).
func (s *Session) CloseSession() {
	s.mu.Lock()
	stopQuality := s.stopQuality
	s.mu.Unlock()
	if stopQuality != nil {
		close(stopQuality)
	}
	for _, g := range []*graph.StreamGraph{s.txGraph, s.rxGraph, s.rtcpGraph} {
		if g != nil {
			g.Stop()
		}
	}
	s.fsm.Event(context.Background(), "close")
}

// ModifySession re-decodes config and forwards to each graph's Update,
// per spec §4.2/§6 (diff against cache, restart only if changed).
func (s *Session) ModifySession(raw map[string]interface{}) error {
	cfg, err := config.Decode(raw)
	if err != nil {
		return err
	}
	eq := func(a, b any) bool {
		ca, _ := a.(config.SessionConfig)
		cb, _ := b.(config.SessionConfig)
		return ca.Equal(cb)
	}
	for _, g := range []*graph.StreamGraph{s.txGraph, s.rxGraph, s.rtcpGraph} {
		if err := g.Update(cfg, eq); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.emit(Event{Kind: EventSessionChanged})
	return nil
}

// SetMediaQualityThreshold forwards to the RTP/RTCP decoder only (spec
// §4.2) and to the analyzer that actually evaluates crossings.
func (s *Session) SetMediaQualityThreshold(t config.MediaQualityThreshold) {
	if s.rtpDecoder != nil {
		s.rtpDecoder.SetThreshold(t)
	}
	if s.rtcpDecoder != nil {
		s.rtcpDecoder.SetThreshold(t)
	}
	if s.analyzer != nil {
		s.analyzer.SetThreshold(t)
	}
}

// SendDtmf queues one keypad symbol on the DTMF sub-graph.
func (s *Session) SendDtmf(symbol byte) error {
	if s.dtmfSender == nil {
		return errs.New(errs.NotReady, "session.SendDtmf", "session not open")
	}
	return s.dtmfSender.Send(symbol)
}

// SendRtt queues a real-time-text chunk (spec §6 SendRtt), routed the
// same way text input reaches TextSource.Emit in a text-kind session.
func (s *Session) SendRtt(text []byte) error {
	s.mu.Lock()
	kind := s.cfg.Kind
	s.mu.Unlock()
	if kind != config.MediaText {
		return errs.New(errs.InvalidParam, "session.SendRtt", "session is not a text session")
	}
	// Routed via the Tx graph's TextSource node once wired by buildTxGraph.
	for _, n := range s.txGraph.Nodes() {
		if ts, ok := n.(*nodes.TextSource); ok {
			ts.Emit(text)
			return nil
		}
	}
	return errs.New(errs.NotReady, "session.SendRtt", "text source not running")
}

func mediaType(k config.MediaKind) graph.MediaType {
	switch k {
	case config.MediaVideo:
		return graph.MediaVideo
	case config.MediaText:
		return graph.MediaText
	default:
		return graph.MediaAudio
	}
}

// buildTxGraph, buildRxGraph, buildRtcpGraph are graph.Builder
// implementations wiring concrete pkg/nodes chains per media kind,
// leaves-to-root as spec §2 requires.
func (s *Session) buildTxGraph(rawCfg any) ([]graph.Node, error) {
	cfg := rawCfg.(config.SessionConfig)
	switch cfg.Kind {
	case config.MediaVideo:
		return s.buildVideoTx(cfg)
	case config.MediaText:
		return s.buildTextTx(cfg)
	default:
		return s.buildAudioTx(cfg)
	}
}

func (s *Session) buildRxGraph(rawCfg any) ([]graph.Node, error) {
	cfg := rawCfg.(config.SessionConfig)
	switch cfg.Kind {
	case config.MediaVideo:
		return s.buildVideoRx(cfg)
	case config.MediaText:
		return s.buildTextRx(cfg)
	default:
		return s.buildAudioRx(cfg)
	}
}

func (s *Session) buildRtcpGraph(rawCfg any) ([]graph.Node, error) {
	cfg := rawCfg.(config.SessionConfig)
	rtp := s.rtpConfigFor(cfg)

	reader := nodes.NewSocketReader(mediaType(cfg.Kind), s.log)
	reader.SetNext(s.rtcpDecoder)
	reader.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtcpConn, RemoteAddr: s.sockets.RemoteRtcp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})
	s.rtcpDecoder.SetRtcpInactivityTimeout(time.Duration(rtp.RtcpInactivitySec) * time.Second)

	writer := nodes.NewSocketWriter(mediaType(cfg.Kind), s.log)
	writer.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtcpConn, RemoteAddr: s.sockets.RemoteRtcp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})
	s.rtcpEncoder.SetNext(writer)

	intervalMs := int(rtp.RtcpIntervalSec * 1000)
	s.rtcpEncoder.SetConfig(nodes.RtcpEncoderConfig{SSRC: s.ssrc, Cname: rtp.Cname, IntervalMs: intervalMs, Stats: s.analyzer})

	return []graph.Node{reader, s.rtcpDecoder, s.rtcpEncoder, writer}, nil
}

// rtpConfigFor picks the RtpConfig section matching the session's media
// kind, since RtpConfig is nested per-media rather than hoisted to the
// top level of SessionConfig.
func (s *Session) rtpConfigFor(cfg config.SessionConfig) config.RtpConfig {
	switch cfg.Kind {
	case config.MediaVideo:
		return cfg.Video.Rtp
	case config.MediaText:
		return cfg.Text.Rtp
	default:
		return cfg.Audio.Rtp
	}
}

func (s *Session) buildAudioTx(cfg config.SessionConfig) ([]graph.Node, error) {
	rtp := cfg.Audio.Rtp
	ptime := time.Duration(cfg.Audio.PtimeMs) * time.Millisecond
	if ptime <= 0 {
		ptime = 20 * time.Millisecond
	}

	source := nodes.NewAudioSource(s.log)
	source.SetConfig(nodes.AudioSourceConfig{Source: s.sockets.AudioSource, PtimeMs: cfg.Audio.PtimeMs})

	payloadEnc := nodes.NewAudioPayloadEncoder(s.log)
	payloadEnc.SetConfig(codecFor(cfg.Audio.CodecName, int(rtp.SamplingRateHz)))
	s.audioPayloadEnc = payloadEnc

	rtpEnc := nodes.NewRtpEncoder(graph.MediaAudio, s.log)
	rtpEnc.SetConfig(nodes.RtpEncoderConfig{SSRC: s.ssrc, PayloadType: rtp.PayloadType, ClockRateHz: rtp.SamplingRateHz, FrameLen: ptime})

	writer := nodes.NewSocketWriter(graph.MediaAudio, s.log)
	writer.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtpConn, RemoteAddr: s.sockets.RemoteRtp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})

	source.SetNext(payloadEnc)
	payloadEnc.SetNext(rtpEnc)
	rtpEnc.SetNext(writer)

	nodeList := []graph.Node{source, payloadEnc, rtpEnc, writer}

	if cfg.Audio.DtmfEnabled {
		dtmfEnc := nodes.NewDtmfEncoder(s.log)
		dtmfEnc.SetConfig(nodes.DtmfEncoderConfig{DurationMs: 100})
		s.dtmfSender.SetNext(dtmfEnc)
		dtmfEnc.SetNext(rtpEnc)
		nodeList = append(nodeList, s.dtmfSender, dtmfEnc)
	}

	return nodeList, nil
}

func (s *Session) buildAudioRx(cfg config.SessionConfig) ([]graph.Node, error) {
	rtp := cfg.Audio.Rtp

	reader := nodes.NewSocketReader(graph.MediaAudio, s.log)
	reader.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtpConn, RemoteAddr: s.sockets.RemoteRtp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})

	jcfg := jitterConfigFor(cfg.Audio)
	s.rtpDecoder.SetConfig(nodes.RtpDecoderConfig{Jitter: jcfg, PayloadType: rtp.PayloadType})
	s.rtpDecoder.SetThreshold(cfg.Threshold)
	s.rtpDecoder.SetInactivityTimeout(rtp.RtpInactivityMs)

	payloadDec := nodes.NewAudioPayloadDecoder(s.log)
	payloadDec.SetConfig(codecFor(cfg.Audio.CodecName, int(rtp.SamplingRateHz)))
	// A CMR the peer embeds in its outbound frames is a request for our
	// own encoder's mode, not theirs; cross-wire it straight to the Tx
	// leg built moments ago by buildAudioTx.
	if enc := s.audioPayloadEnc; enc != nil {
		payloadDec.OnCMR(func(mode uint8) { enc.RequestCodecMode(mode) })
	}

	player := nodes.NewAudioPlayer(s.log)
	player.SetConfig(s.sockets.AudioSink)

	reader.SetNext(s.rtpDecoder)
	s.rtpDecoder.SetNext(payloadDec)
	payloadDec.SetNext(player)

	return []graph.Node{reader, s.rtpDecoder, payloadDec, player}, nil
}

func (s *Session) buildTextTx(cfg config.SessionConfig) ([]graph.Node, error) {
	rtp := cfg.Text.Rtp

	source := nodes.NewTextSource(s.log)
	source.SetConfig(nodes.TextSourceConfig{IdleMs: cfg.Text.IdleEmptyMs})

	payloadEnc := nodes.NewTextPayloadEncoder(s.log)
	payloadEnc.SetConfig(nodes.TextPayloadEncoderConfig{PrimaryPT: rtp.PayloadType, RedundantPT: rtp.PayloadType, RedundantLevel: cfg.Text.RedundantLevel})

	rtpEnc := nodes.NewRtpEncoder(graph.MediaText, s.log)
	rtpEnc.SetConfig(nodes.RtpEncoderConfig{SSRC: s.ssrc, PayloadType: rtp.PayloadType, ClockRateHz: rtp.SamplingRateHz, FrameLen: time.Millisecond})

	writer := nodes.NewSocketWriter(graph.MediaText, s.log)
	writer.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtpConn, RemoteAddr: s.sockets.RemoteRtp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})

	source.SetNext(payloadEnc)
	payloadEnc.SetNext(rtpEnc)
	rtpEnc.SetNext(writer)

	return []graph.Node{source, payloadEnc, rtpEnc, writer}, nil
}

func (s *Session) buildTextRx(cfg config.SessionConfig) ([]graph.Node, error) {
	rtp := cfg.Text.Rtp

	reader := nodes.NewSocketReader(graph.MediaText, s.log)
	reader.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtpConn, RemoteAddr: s.sockets.RemoteRtp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})

	s.rtpDecoder.SetConfig(nodes.RtpDecoderConfig{Jitter: jitterbuffer.Config{MinFrames: 4, InitialFrames: 4, MaxFrames: 9, FrameDuration: time.Millisecond, ClockRateHz: rtp.SamplingRateHz}, PayloadType: rtp.PayloadType})
	s.rtpDecoder.SetThreshold(cfg.Threshold)
	s.rtpDecoder.SetInactivityTimeout(rtp.RtpInactivityMs)

	lossWait := time.Duration(cfg.Text.LossWaitWindow) * time.Millisecond
	if lossWait <= 0 {
		lossWait = time.Second
	}
	payloadDec := nodes.NewTextPayloadDecoder(s.log)
	payloadDec.SetConfig(nodes.TextPayloadDecoderConfig{LossWait: lossWait, ConsumeBOM: cfg.Text.ConsumeLeadBOM})

	renderer := nodes.NewTextRenderer(s.log)
	renderer.SetConfig(s.sockets.TextSink)

	reader.SetNext(s.rtpDecoder)
	s.rtpDecoder.SetNext(payloadDec)
	payloadDec.SetNext(renderer)

	return []graph.Node{reader, s.rtpDecoder, payloadDec, renderer}, nil
}

func (s *Session) buildVideoTx(cfg config.SessionConfig) ([]graph.Node, error) {
	rtp := cfg.Video.Rtp
	frameLen := time.Second
	if cfg.Video.FramerateFps > 0 {
		frameLen = time.Second / time.Duration(cfg.Video.FramerateFps)
	}

	source := nodes.NewVideoSource(s.log)
	source.SetConfig(nodes.VideoSourceConfig{Source: s.sockets.VideoSource, FramerateFps: cfg.Video.FramerateFps})

	payloadEnc := nodes.NewVideoPayloadEncoder(s.log)

	rtpEnc := nodes.NewRtpEncoder(graph.MediaVideo, s.log)
	rtpEnc.SetConfig(nodes.RtpEncoderConfig{SSRC: s.ssrc, PayloadType: rtp.PayloadType, ClockRateHz: rtp.SamplingRateHz, FrameLen: frameLen})

	writer := nodes.NewSocketWriter(graph.MediaVideo, s.log)
	writer.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtpConn, RemoteAddr: s.sockets.RemoteRtp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})

	source.SetNext(payloadEnc)
	payloadEnc.SetNext(rtpEnc)
	rtpEnc.SetNext(writer)

	return []graph.Node{source, payloadEnc, rtpEnc, writer}, nil
}

func (s *Session) buildVideoRx(cfg config.SessionConfig) ([]graph.Node, error) {
	rtp := cfg.Video.Rtp

	reader := nodes.NewSocketReader(graph.MediaVideo, s.log)
	reader.SetConfig(nodes.SocketConfig{Conn: s.sockets.RtpConn, RemoteAddr: s.sockets.RemoteRtp, DscpTos: rtp.DscpTos, MtuBytes: rtp.MtuBytes})

	s.rtpDecoder.SetConfig(nodes.RtpDecoderConfig{Jitter: jitterbuffer.Config{MinFrames: 2, InitialFrames: 2, MaxFrames: 6, FrameDuration: time.Second / 30, ClockRateHz: rtp.SamplingRateHz}, PayloadType: rtp.PayloadType})
	s.rtpDecoder.SetThreshold(cfg.Threshold)
	s.rtpDecoder.SetInactivityTimeout(rtp.RtpInactivityMs)

	payloadDec := nodes.NewVideoPayloadDecoder(s.log)

	renderer := nodes.NewVideoRenderer(s.log)
	renderer.SetConfig(s.sockets.VideoSink)

	reader.SetNext(s.rtpDecoder)
	s.rtpDecoder.SetNext(payloadDec)
	payloadDec.SetNext(renderer)

	s.rxGraph.SetNeedsSurface(s.sockets.VideoSink == nil)

	return []graph.Node{reader, s.rtpDecoder, payloadDec, renderer}, nil
}

// jitterConfigFor derives jitter-buffer sizing from the audio config's
// frame counts, falling back to the spec §4.5 defaults (4/4/9 frames) when
// unset.
func jitterConfigFor(a config.AudioConfig) jitterbuffer.Config {
	min, init, max := a.JitterMinFrames, a.JitterInitFrames, a.JitterMaxFrames
	if min <= 0 {
		min = 4
	}
	if init <= 0 {
		init = 4
	}
	if max <= 0 {
		max = 9
	}
	ptime := time.Duration(a.PtimeMs) * time.Millisecond
	if ptime <= 0 {
		ptime = 20 * time.Millisecond
	}
	return jitterbuffer.Config{MinFrames: min, InitialFrames: init, MaxFrames: max, FrameDuration: ptime, ClockRateHz: a.Rtp.SamplingRateHz}
}

// codecFor resolves a configured codec name to a concrete PayloadCodec.
// G.711 variants are implemented directly; anything else falls back to
// the pion/opus decode-only default (spec §1: AMR/AMR-WB/EVS cores are
// host-supplied black boxes, out of scope for this module to ship).
func codecFor(name string, sampleRateHz int) codecs.PayloadCodec {
	switch name {
	case "PCMA":
		return codecs.PCMA{}
	case "PCMU":
		return codecs.PCMU{}
	default:
		return DefaultAudioCodec(sampleRateHz)
	}
}

// DefaultAudioCodec returns the pion/opus-backed decode-only codec used
// when the host does not supply its own (spec §1: real AMR/EVS cores are
// host-supplied black boxes; this module needs a runnable default for
// its own demo/tests).
func DefaultAudioCodec(sampleRateHz int) codecs.PayloadCodec {
	return codecs.NewOpus(sampleRateHz, 1)
}
