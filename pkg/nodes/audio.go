package nodes

import (
	"sync"
	"time"

	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/logging"
	"github.com/arzzra/imscore/pkg/nodes/codecs"
)

// PCMSource is the host-owned microphone capture surface (spec §1 non-goal:
// rendering/capture surface ownership). AudioSource just pulls frames from
// it on a ptime-aligned ticker.
type PCMSource interface {
	// NextFrame blocks or returns false if no frame is currently
	// available; samples are linear PCM at the configured rate.
	NextFrame() (samples []int16, ok bool)
}

// PCMSink is the host-owned speaker playout surface.
type PCMSink interface {
	PlayFrame(samples []int16)
}

// AudioSourceConfig carries the capture surface and ptime.
type AudioSourceConfig struct {
	Source  PCMSource
	PtimeMs int
}

// AudioSource is a runtime node: it owns a ticker goroutine pulling from
// the host capture surface and forwarding raw PCM frames downstream to
// AudioPayloadEncoder, mirroring the teacher's capture-thread pattern for
// microphone input.
type AudioSource struct {
	graph.Base
	log logging.Logger

	mu     sync.Mutex
	cfg    AudioSourceConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewAudioSource(log logging.Logger) *AudioSource {
	return &AudioSource{Base: graph.NewBase(graph.NodeAudioSource, graph.MediaAudio), log: log}
}

func (n *AudioSource) IsRuntime() bool { return true }
func (n *AudioSource) IsSource() bool  { return true }

func (n *AudioSource) SetConfig(cfg any) {
	if c, ok := cfg.(AudioSourceConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *AudioSource) IsSameConfig(cfg any) bool {
	c, ok := cfg.(AudioSourceConfig)
	return ok && c.Source == n.cfg.Source && c.PtimeMs == n.cfg.PtimeMs
}
func (n *AudioSource) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}

func (n *AudioSource) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c.Source == nil {
		return graph.InvalidParam
	}
	if c.PtimeMs <= 0 {
		c.PtimeMs = 20
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

func (n *AudioSource) Stop() {
	n.mu.Lock()
	stopCh := n.stopCh
	doneCh := n.doneCh
	n.mu.Unlock()
	n.SetStopped()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (n *AudioSource) captureLoop(cfg AudioSourceConfig, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Duration(cfg.PtimeMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			samples, ok := cfg.Source.NextFrame()
			if !ok {
				continue
			}
			n.Forward(&graph.DataEntry{Subtype: graph.SubPcmData, Payload: int16ToBytes(samples), Arrival: now})
		}
	}
}

func (n *AudioSource) Process() bool                             { return false }
func (n *AudioSource) OnDataFromFrontNode(entry *graph.DataEntry) {}

// AudioPlayer is the Rx-side counterpart of AudioSource. It is not a
// runtime node and has no thread or ticker of its own: the graph
// scheduler drains its input queue, and each decoded PCM frame is handed
// to the host playout surface as it is processed — jitter buffering
// already happened upstream in RtpDecoder.
type AudioPlayer struct {
	graph.Base
	log logging.Logger

	mu  sync.Mutex
	cfg PCMSink
}

func NewAudioPlayer(log logging.Logger) *AudioPlayer {
	return &AudioPlayer{Base: graph.NewBase(graph.NodeAudioPlayer, graph.MediaAudio), log: log}
}

func (n *AudioPlayer) IsRuntime() bool { return false }
func (n *AudioPlayer) IsSource() bool  { return false }

func (n *AudioPlayer) SetConfig(cfg any) {
	if c, ok := cfg.(PCMSink); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *AudioPlayer) IsSameConfig(cfg any) bool {
	c, ok := cfg.(PCMSink)
	return ok && c == n.cfg
}
func (n *AudioPlayer) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *AudioPlayer) Start() graph.StartResult {
	n.SetRunning()
	return graph.Success
}
func (n *AudioPlayer) Stop() { n.SetStopped() }

func (n *AudioPlayer) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	sink := n.cfg
	n.mu.Unlock()
	if sink != nil && e.Subtype == graph.SubPcmData {
		sink.PlayFrame(bytesToInt16(e.Payload))
	}
	return true
}
func (n *AudioPlayer) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// AudioPayloadEncoder converts raw PCM (from AudioSource) into a codec
// payload via the injected codecs.PayloadCodec, then forwards to
// RtpEncoder. For AMR/AMR-WB/EVS it also prepends the RFC 4867 §4.3.1 CMR
// octet, carrying whatever mode request RequestCodecMode queued since
// the last frame (NoCMR if none).
type AudioPayloadEncoder struct {
	graph.Base
	log        logging.Logger
	mu         sync.Mutex
	codec      codecs.PayloadCodec
	amr        bool
	pendingCMR uint8
}

func NewAudioPayloadEncoder(log logging.Logger) *AudioPayloadEncoder {
	return &AudioPayloadEncoder{Base: graph.NewBase(graph.NodeAudioPayloadEncoder, graph.MediaAudio), log: log, pendingCMR: codecs.NoCMR}
}

func (n *AudioPayloadEncoder) IsRuntime() bool { return false }
func (n *AudioPayloadEncoder) IsSource() bool  { return false }
func (n *AudioPayloadEncoder) SetConfig(cfg any) {
	if c, ok := cfg.(codecs.PayloadCodec); ok {
		n.mu.Lock()
		n.codec = c
		n.amr = isAMRFamily(c.Name())
		n.mu.Unlock()
	}
}

// RequestCodecMode queues an RFC 4867 CMR mode request to be carried on
// the next outbound AMR/AMR-WB frame, fulfilling a peer's in-band
// bandwidth-mode request (wired from the Rx side's AudioPayloadDecoder
// when it parses a CMR off an incoming frame, mirroring how video's
// RequestBitrateChange crosses Rx analyzer to Tx RtcpEncoder).
func (n *AudioPayloadEncoder) RequestCodecMode(mode uint8) {
	n.mu.Lock()
	n.pendingCMR = mode
	n.mu.Unlock()
}

func (n *AudioPayloadEncoder) IsSameConfig(cfg any) bool {
	c, ok := cfg.(codecs.PayloadCodec)
	return ok && c == n.codec
}
func (n *AudioPayloadEncoder) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *AudioPayloadEncoder) Start() graph.StartResult {
	n.mu.Lock()
	c := n.codec
	n.mu.Unlock()
	if c == nil {
		return graph.InvalidParam
	}
	n.SetRunning()
	return graph.Success
}
func (n *AudioPayloadEncoder) Stop() { n.SetStopped() }

func (n *AudioPayloadEncoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	codec := n.codec
	amr := n.amr
	cmr := n.pendingCMR
	n.pendingCMR = codecs.NoCMR
	n.mu.Unlock()
	if codec == nil {
		return true
	}
	payload, err := codec.Encode(bytesToInt16(e.Payload))
	if err != nil {
		n.log.Warn("audio encode failed", "codec", codec.Name(), "error", err.Error())
		return true
	}
	if amr {
		payload = append([]byte{codecs.EncodeCMR(cmr)}, payload...)
	}
	n.Forward(&graph.DataEntry{Subtype: graph.SubRtpPayload, Payload: payload, Arrival: e.Arrival})
	return true
}
func (n *AudioPayloadEncoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// AudioPayloadDecoder is RtpDecoder's downstream counterpart. For
// AMR/AMR-WB/EVS it also strips and parses the leading CMR octet (RFC 4867
// §4.3.1), surfacing a mode request from the peer via OnCMR.
type AudioPayloadDecoder struct {
	graph.Base
	log   logging.Logger
	mu    sync.Mutex
	codec codecs.PayloadCodec
	amr   bool
	onCMR func(mode uint8)
}

func NewAudioPayloadDecoder(log logging.Logger) *AudioPayloadDecoder {
	return &AudioPayloadDecoder{Base: graph.NewBase(graph.NodeAudioPayloadDecoder, graph.MediaAudio), log: log}
}

func (n *AudioPayloadDecoder) IsRuntime() bool { return false }
func (n *AudioPayloadDecoder) IsSource() bool  { return false }
func (n *AudioPayloadDecoder) SetConfig(cfg any) {
	if c, ok := cfg.(codecs.PayloadCodec); ok {
		n.mu.Lock()
		n.codec = c
		n.amr = isAMRFamily(c.Name())
		n.mu.Unlock()
	}
}

func (n *AudioPayloadDecoder) IsSameConfig(cfg any) bool {
	c, ok := cfg.(codecs.PayloadCodec)
	return ok && c == n.codec
}
func (n *AudioPayloadDecoder) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *AudioPayloadDecoder) Start() graph.StartResult {
	n.mu.Lock()
	c := n.codec
	n.mu.Unlock()
	if c == nil {
		return graph.InvalidParam
	}
	n.SetRunning()
	return graph.Success
}
func (n *AudioPayloadDecoder) Stop() { n.SetStopped() }

// OnCMR registers the callback invoked with the requested mode whenever
// an incoming frame carries one (NoCMR values are not reported).
func (n *AudioPayloadDecoder) OnCMR(f func(mode uint8)) {
	n.mu.Lock()
	n.onCMR = f
	n.mu.Unlock()
}

func (n *AudioPayloadDecoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	if e.Subtype == graph.SubPcmNoData {
		// Synthetic comfort entry from the jitter buffer: forward silence
		// rather than attempting to decode an empty payload.
		n.Forward(&graph.DataEntry{Subtype: graph.SubPcmData, Arrival: e.Arrival})
		return true
	}
	n.mu.Lock()
	codec := n.codec
	amr := n.amr
	onCMR := n.onCMR
	n.mu.Unlock()
	if codec == nil {
		return true
	}
	payload := e.Payload
	if amr && len(payload) > 0 {
		if mode := codecs.DecodeCMR(payload[0]); mode != codecs.NoCMR && onCMR != nil {
			onCMR(mode)
		}
		payload = payload[1:]
	}
	pcm, err := codec.Decode(payload)
	if err != nil {
		n.log.Warn("audio decode failed", "codec", codec.Name(), "error", err.Error())
		return true
	}
	n.Forward(&graph.DataEntry{Subtype: graph.SubPcmData, Payload: int16ToBytes(pcm), Arrival: e.Arrival})
	return true
}
func (n *AudioPayloadDecoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

func isAMRFamily(name string) bool {
	return name == "AMR" || name == "AMR-WB" || name == "EVS"
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}
