package nodes

import (
	"sync"
	"time"

	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/logging"
)

// VideoFrame is one host-decoded/encoded video frame crossing the
// capture/render boundary (spec §1 non-goal: rendering-surface
// ownership — the host owns the actual surface/decoder).
type VideoFrame struct {
	Data           []byte
	KeyFrame       bool
	PresentationUs int64
}

// VideoFrameSource is the host-owned camera/encoder surface.
type VideoFrameSource interface {
	NextFrame() (VideoFrame, bool)
}

// BitrateTarget is an optional VideoFrameSource extension a host encoder
// can implement to react to REMB-driven bitrate-change feedback (§4.3/
// §4.4's video bitrate-change path) without this module needing to know
// anything about the host's actual encoder configuration surface.
type BitrateTarget interface {
	SetTargetBitrate(bps uint64)
}

// VideoFrameSink is the host-owned decoder/render surface.
type VideoFrameSink interface {
	RenderFrame(VideoFrame)
}

// VideoSourceConfig carries the capture surface and target framerate.
type VideoSourceConfig struct {
	Source       VideoFrameSource
	FramerateFps int
}

// VideoSource is a runtime node pacing frame pulls from the host capture
// surface at the configured framerate.
type VideoSource struct {
	graph.Base
	log logging.Logger

	mu     sync.Mutex
	cfg    VideoSourceConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewVideoSource(log logging.Logger) *VideoSource {
	return &VideoSource{Base: graph.NewBase(graph.NodeVideoSource, graph.MediaVideo), log: log}
}

func (n *VideoSource) IsRuntime() bool { return true }
func (n *VideoSource) IsSource() bool  { return true }
func (n *VideoSource) SetConfig(cfg any) {
	if c, ok := cfg.(VideoSourceConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *VideoSource) IsSameConfig(cfg any) bool {
	c, ok := cfg.(VideoSourceConfig)
	return ok && c.Source == n.cfg.Source && c.FramerateFps == n.cfg.FramerateFps
}
func (n *VideoSource) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}

func (n *VideoSource) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c.Source == nil {
		return graph.InvalidParam
	}
	if c.FramerateFps <= 0 {
		c.FramerateFps = 30
	}
	n.mu.Lock()
	n.cfg = c
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	n.mu.Unlock()
	n.SetRunning()
	go n.captureLoop(c, n.stopCh, n.doneCh)
	return graph.Success
}

func (n *VideoSource) Stop() {
	n.mu.Lock()
	stopCh, doneCh := n.stopCh, n.doneCh
	n.mu.Unlock()
	n.SetStopped()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (n *VideoSource) captureLoop(cfg VideoSourceConfig, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := time.Second / time.Duration(cfg.FramerateFps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			frame, ok := cfg.Source.NextFrame()
			if !ok {
				continue
			}
			sub := graph.SubBitstreamH264
			if frame.KeyFrame {
				sub = graph.SubBitstreamCodecConfig
			}
			n.Forward(&graph.DataEntry{Subtype: sub, Payload: frame.Data, Timestamp: uint32(frame.PresentationUs), Marker: true, Arrival: now})
		}
	}
}

func (n *VideoSource) Process() bool                             { return false }
func (n *VideoSource) OnDataFromFrontNode(entry *graph.DataEntry) {}

// VideoRenderer hands decoded frames to the host render surface. Like
// AudioPlayer, it is driven by arrival (jitter/reorder handling already
// happened in RtpDecoder) rather than its own ticker, and gates on
// WaitSurface having been cleared at the StreamGraph level before this
// node is ever started.
type VideoRenderer struct {
	graph.Base
	log logging.Logger
	mu  sync.Mutex
	cfg VideoFrameSink
}

func NewVideoRenderer(log logging.Logger) *VideoRenderer {
	return &VideoRenderer{Base: graph.NewBase(graph.NodeVideoRenderer, graph.MediaVideo), log: log}
}

func (n *VideoRenderer) IsRuntime() bool { return false }
func (n *VideoRenderer) IsSource() bool  { return false }
func (n *VideoRenderer) SetConfig(cfg any) {
	if c, ok := cfg.(VideoFrameSink); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *VideoRenderer) IsSameConfig(cfg any) bool {
	c, ok := cfg.(VideoFrameSink)
	return ok && c == n.cfg
}
func (n *VideoRenderer) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *VideoRenderer) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c == nil {
		return graph.NotReady
	}
	n.SetRunning()
	return graph.Success
}
func (n *VideoRenderer) Stop() { n.SetStopped() }

func (n *VideoRenderer) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	sink := n.cfg
	n.mu.Unlock()
	if sink != nil {
		sink.RenderFrame(VideoFrame{Data: e.Payload, PresentationUs: int64(e.Timestamp), KeyFrame: e.Subtype == graph.SubBitstreamCodecConfig})
	}
	return true
}
func (n *VideoRenderer) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// fragmentMTU is the maximum single-NAL RTP payload size before FU-A
// fragmentation (RFC 6184 §5.8) kicks in.
const fragmentMTU = 1400

// VideoPayloadEncoder applies RFC 6184 H.264 single-NAL/FU-A
// fragmentation. Only the H.264 FU-A form is produced; HEVC (RFC 7798)
// FU framing is not implemented.
type VideoPayloadEncoder struct {
	graph.Base
	log logging.Logger
	mu  sync.Mutex
	mtu int
}

func NewVideoPayloadEncoder(log logging.Logger) *VideoPayloadEncoder {
	return &VideoPayloadEncoder{Base: graph.NewBase(graph.NodeVideoPayloadEncoder, graph.MediaVideo), log: log, mtu: fragmentMTU}
}

func (n *VideoPayloadEncoder) IsRuntime() bool { return false }
func (n *VideoPayloadEncoder) IsSource() bool  { return false }
func (n *VideoPayloadEncoder) SetConfig(cfg any) {
	if mtu, ok := cfg.(int); ok && mtu > 0 {
		n.mu.Lock()
		n.mtu = mtu
		n.mu.Unlock()
	}
}
func (n *VideoPayloadEncoder) IsSameConfig(cfg any) bool {
	mtu, ok := cfg.(int)
	return ok && mtu == n.mtu
}
func (n *VideoPayloadEncoder) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *VideoPayloadEncoder) Start() graph.StartResult {
	n.SetRunning()
	return graph.Success
}
func (n *VideoPayloadEncoder) Stop() { n.SetStopped() }

func (n *VideoPayloadEncoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	mtu := n.mtu
	n.mu.Unlock()
	if len(e.Payload) <= mtu {
		n.Forward(e)
		return true
	}
	nalHeader := e.Payload[0]
	nalType := nalHeader & 0x1F
	nri := nalHeader & 0x60
	body := e.Payload[1:]
	for off := 0; off < len(body); off += mtu {
		end := off + mtu
		if end > len(body) {
			end = len(body)
		}
		start := off == 0
		last := end == len(body)
		fuIndicator := nri | 28 // FU-A
		fuHeader := nalType
		if start {
			fuHeader |= 0x80
		}
		if last {
			fuHeader |= 0x40
		}
		frag := make([]byte, 0, 2+(end-off))
		frag = append(frag, fuIndicator, fuHeader)
		frag = append(frag, body[off:end]...)
		n.Forward(&graph.DataEntry{Subtype: e.Subtype, Payload: frag, Timestamp: e.Timestamp, Marker: last, Arrival: e.Arrival})
	}
	return true
}
func (n *VideoPayloadEncoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// VideoPayloadDecoder reassembles FU-A fragments back into whole NAL
// units before forwarding to VideoRenderer.
type VideoPayloadDecoder struct {
	graph.Base
	log logging.Logger

	mu       sync.Mutex
	fuBuffer []byte
	fuActive bool
}

func NewVideoPayloadDecoder(log logging.Logger) *VideoPayloadDecoder {
	return &VideoPayloadDecoder{Base: graph.NewBase(graph.NodeVideoPayloadDecoder, graph.MediaVideo), log: log}
}

func (n *VideoPayloadDecoder) IsRuntime() bool                        { return false }
func (n *VideoPayloadDecoder) IsSource() bool                         { return false }
func (n *VideoPayloadDecoder) SetConfig(cfg any)                      {}
func (n *VideoPayloadDecoder) IsSameConfig(cfg any) bool              { return true }
func (n *VideoPayloadDecoder) UpdateConfig(cfg any) graph.StartResult { return graph.Success }
func (n *VideoPayloadDecoder) Start() graph.StartResult {
	n.SetRunning()
	return graph.Success
}
func (n *VideoPayloadDecoder) Stop() { n.SetStopped() }

func (n *VideoPayloadDecoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	if len(e.Payload) < 2 {
		return true
	}
	fuIndicator := e.Payload[0]
	if fuIndicator&0x1F != 28 {
		n.Forward(e)
		return true
	}
	fuHeader := e.Payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	nalType := fuHeader & 0x1F
	nri := fuIndicator & 0x60

	n.mu.Lock()
	if start {
		n.fuBuffer = append([]byte{nri | nalType}, e.Payload[2:]...)
		n.fuActive = true
	} else if n.fuActive {
		n.fuBuffer = append(n.fuBuffer, e.Payload[2:]...)
	}
	complete := n.fuActive && end
	var out []byte
	if complete {
		out = n.fuBuffer
		n.fuBuffer = nil
		n.fuActive = false
	}
	n.mu.Unlock()

	if complete {
		n.Forward(&graph.DataEntry{Subtype: e.Subtype, Payload: out, Timestamp: e.Timestamp, Marker: true, Arrival: e.Arrival})
	}
	return true
}
func (n *VideoPayloadDecoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }
