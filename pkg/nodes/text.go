package nodes

import (
	"sync"
	"time"

	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/jitterbuffer"
	"github.com/arzzra/imscore/pkg/logging"
)

// TextSourceConfig carries the idle-onset timer (§4.5 default 300ms):
// the host pushes T.140 text as it's typed via Emit rather than on a
// ticker, but TextSource still needs a periodic tick to forward one empty
// T.140 entry once no text has arrived for IdleMs.
type TextSourceConfig struct {
	IdleMs int
}

// TextSource is a runtime node: Emit is called by the host directly when
// a user types, and a background ticker watches for the idle gap and
// signals its onset with a single empty entry.
type TextSource struct {
	graph.Base
	log logging.Logger

	mu          sync.Mutex
	cfg         TextSourceConfig
	lastEmit    time.Time
	idleFlushed bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

func NewTextSource(log logging.Logger) *TextSource {
	return &TextSource{Base: graph.NewBase(graph.NodeTextSource, graph.MediaText), log: log}
}

func (n *TextSource) IsRuntime() bool { return true }
func (n *TextSource) IsSource() bool  { return true }
func (n *TextSource) SetConfig(cfg any) {
	if c, ok := cfg.(TextSourceConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *TextSource) IsSameConfig(cfg any) bool {
	c, ok := cfg.(TextSourceConfig)
	return ok && c == n.cfg
}
func (n *TextSource) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}

func (n *TextSource) Start() graph.StartResult {
	n.mu.Lock()
	c := n.cfg
	n.mu.Unlock()
	if c.IdleMs <= 0 {
		c.IdleMs = 300
	}
	n.mu.Lock()
	n.cfg = c
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	n.mu.Unlock()
	n.SetRunning()
	go n.watchLoop(n.stopCh, n.doneCh)
	return graph.Success
}

func (n *TextSource) Stop() {
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

// Emit is called by the host with newly typed UTF-8 text.
func (n *TextSource) Emit(text []byte) {
	n.mu.Lock()
	n.lastEmit = time.Now()
	n.idleFlushed = false
	n.mu.Unlock()
	n.Forward(&graph.DataEntry{Subtype: graph.SubBitstreamT140, Payload: text, Arrival: time.Now()})
}

// watchLoop flushes a single empty T140 packet once the idle gap since the
// last Emit exceeds IdleMs, so the far end's jitter buffer sees the gap
// close rather than waiting on the redundancy-level retransmissions alone.
func (n *TextSource) watchLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			n.mu.Lock()
			due := !n.lastEmit.IsZero() && !n.idleFlushed && now.Sub(n.lastEmit) >= time.Duration(n.cfg.IdleMs)*time.Millisecond
			if due {
				n.idleFlushed = true
			}
			n.mu.Unlock()
			if due {
				n.Forward(&graph.DataEntry{Subtype: graph.SubBitstreamT140, Payload: nil, Arrival: now})
			}
		}
	}
}

func (n *TextSource) Process() bool                             { return false }
func (n *TextSource) OnDataFromFrontNode(entry *graph.DataEntry) {}

// TextRenderer hands reassembled T.140 text to the host render surface.
type TextSink interface {
	RenderText(text []byte)
}

type TextRenderer struct {
	graph.Base
	log logging.Logger
	mu  sync.Mutex
	cfg TextSink
}

func NewTextRenderer(log logging.Logger) *TextRenderer {
	return &TextRenderer{Base: graph.NewBase(graph.NodeTextRenderer, graph.MediaText), log: log}
}

func (n *TextRenderer) IsRuntime() bool { return false }
func (n *TextRenderer) IsSource() bool  { return false }
func (n *TextRenderer) SetConfig(cfg any) {
	if c, ok := cfg.(TextSink); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *TextRenderer) IsSameConfig(cfg any) bool {
	c, ok := cfg.(TextSink)
	return ok && c == n.cfg
}
func (n *TextRenderer) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *TextRenderer) Start() graph.StartResult {
	n.SetRunning()
	return graph.Success
}
func (n *TextRenderer) Stop() { n.SetStopped() }

func (n *TextRenderer) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	sink := n.cfg
	n.mu.Unlock()
	if sink != nil {
		sink.RenderText(e.Payload)
	}
	return true
}
func (n *TextRenderer) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// TextPayloadEncoderConfig carries the RED redundancy level (§4.5, 0..3
// prior primary blocks repeated).
type TextPayloadEncoderConfig struct {
	PrimaryPT      uint8
	RedundantPT    uint8
	RedundantLevel int
}

// TextPayloadEncoder frames outgoing T.140 chunks as RED payloads
// carrying up to RedundantLevel previous chunks, per RFC 2198/4103.
type TextPayloadEncoder struct {
	graph.Base
	log logging.Logger

	mu      sync.Mutex
	cfg     TextPayloadEncoderConfig
	history [][]byte
}

func NewTextPayloadEncoder(log logging.Logger) *TextPayloadEncoder {
	return &TextPayloadEncoder{Base: graph.NewBase(graph.NodeTextPayloadEncoder, graph.MediaText), log: log}
}

func (n *TextPayloadEncoder) IsRuntime() bool { return false }
func (n *TextPayloadEncoder) IsSource() bool  { return false }
func (n *TextPayloadEncoder) SetConfig(cfg any) {
	if c, ok := cfg.(TextPayloadEncoderConfig); ok {
		n.mu.Lock()
		n.cfg = c
		n.mu.Unlock()
	}
}
func (n *TextPayloadEncoder) IsSameConfig(cfg any) bool {
	c, ok := cfg.(TextPayloadEncoderConfig)
	return ok && c == n.cfg
}
func (n *TextPayloadEncoder) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *TextPayloadEncoder) Start() graph.StartResult {
	n.mu.Lock()
	n.history = nil
	n.mu.Unlock()
	n.SetRunning()
	return graph.Success
}
func (n *TextPayloadEncoder) Stop() { n.SetStopped() }

func (n *TextPayloadEncoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	n.mu.Lock()
	cfg := n.cfg
	n.history = append(n.history, e.Payload)
	if len(n.history) > cfg.RedundantLevel+1 {
		n.history = n.history[len(n.history)-(cfg.RedundantLevel+1):]
	}
	var blocks []jitterbuffer.RedBlock
	for i := 0; i < len(n.history)-1; i++ {
		age := uint16(len(n.history) - 1 - i)
		blocks = append(blocks, jitterbuffer.RedBlock{PayloadType: cfg.PrimaryPT, TimestampOffset: age * 300, Payload: n.history[i]})
	}
	n.mu.Unlock()

	payload := jitterbuffer.EncodeRED(cfg.PrimaryPT, blocks, e.Payload)
	n.Forward(&graph.DataEntry{Subtype: graph.SubBitstreamT140Red, Payload: payload, Arrival: e.Arrival})
	return true
}
func (n *TextPayloadEncoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }

// TextPayloadDecoderConfig carries the reassembly window.
type TextPayloadDecoderConfig struct {
	LossWait   time.Duration
	ConsumeBOM bool
}

// TextPayloadDecoder wraps jitterbuffer.Reassembler: every arriving RED
// payload feeds redundancy recovery, and whatever text is now ready (in
// order, gaps replaced after the loss-wait window) is forwarded.
type TextPayloadDecoder struct {
	graph.Base
	log logging.Logger

	mu  sync.Mutex
	rea *jitterbuffer.Reassembler
}

func NewTextPayloadDecoder(log logging.Logger) *TextPayloadDecoder {
	return &TextPayloadDecoder{Base: graph.NewBase(graph.NodeTextPayloadDecoder, graph.MediaText), log: log}
}

func (n *TextPayloadDecoder) IsRuntime() bool { return false }
func (n *TextPayloadDecoder) IsSource() bool  { return false }
func (n *TextPayloadDecoder) SetConfig(cfg any) {
	if c, ok := cfg.(TextPayloadDecoderConfig); ok {
		n.mu.Lock()
		n.rea = jitterbuffer.NewReassembler(c.LossWait, c.ConsumeBOM)
		n.mu.Unlock()
	}
}
func (n *TextPayloadDecoder) IsSameConfig(cfg any) bool { return false }
func (n *TextPayloadDecoder) UpdateConfig(cfg any) graph.StartResult {
	n.SetConfig(cfg)
	return graph.Success
}
func (n *TextPayloadDecoder) Start() graph.StartResult {
	n.mu.Lock()
	rea := n.rea
	n.mu.Unlock()
	if rea == nil {
		return graph.InvalidParam
	}
	n.SetRunning()
	return graph.Success
}
func (n *TextPayloadDecoder) Stop() { n.SetStopped() }

func (n *TextPayloadDecoder) Process() bool {
	e := n.Dequeue()
	if e == nil {
		return false
	}
	redundant, _, primary, err := jitterbuffer.DecodeRED(e.Payload)
	if err != nil {
		n.log.Warn("red decode failed", "error", err.Error())
		return true
	}
	n.mu.Lock()
	rea := n.rea
	n.mu.Unlock()
	if rea == nil {
		return true
	}
	out := rea.Receive(e.Sequence, primary, redundant, e.Arrival)
	if len(out) > 0 {
		n.Forward(&graph.DataEntry{Subtype: graph.SubBitstreamT140, Payload: out, Arrival: e.Arrival})
	}
	return true
}
func (n *TextPayloadDecoder) OnDataFromFrontNode(entry *graph.DataEntry) { n.Enqueue(entry) }
