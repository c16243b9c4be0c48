// Package jitterbuffer implements the sequence-number-ordered,
// timestamp-driven playout buffer of spec §4.5/§3: entries are held in
// increasing 16-bit sequence order (wraparound handled via signed-circular
// comparison), a target depth adapts between configured min/max bounds by
// an IIR filter on the buffered depth (arrival jitter itself is not
// measured here), and gaps are filled with
// synthetic comfort entries rather than stalling playout. Ordering logic
// is grounded on the teacher's heap-based JitterBuffer
// (pkg/media/jitter_buffer.go in the source pack), generalized here to a
// sorted-slice model so sequence-order invariants are easy to state and
// test, and extended with the redundancy-aware reassembly used for
// real-time text (see redundancy.go).
package jitterbuffer

import (
	"sort"
	"sync"
	"time"

	wirertp "github.com/arzzra/imscore/pkg/wire/rtp"
)

// Entry is one payload unit held in the buffer, carrying just the fields
// playout ordering depends on.
type Entry struct {
	Seq       uint16
	Timestamp uint32
	Arrival   time.Time
	Marker    bool
	Payload   []byte
	// Synthetic is true for comfort/PLC fillers the buffer itself
	// inserted to bridge a detected gap rather than real network data.
	Synthetic bool
	// TTL/HaveTTL mirror graph.DataEntry's TTL capture, threaded through so
	// Statistics can report the min/max TTL the XR statistics-summary block
	// needs (spec §4.6). HaveTTL is false when the platform never reported
	// one, e.g. in tests that bypass SocketReader entirely.
	TTL     uint8
	HaveTTL bool
}

// Config carries the §4.5 target-depth bounds and frame length.
type Config struct {
	MinFrames     int
	InitialFrames int
	MaxFrames     int
	FrameDuration time.Duration // ptime, e.g. 20ms for audio
	ClockRateHz   uint32
}

// DefaultAudioConfig returns the spec default (min=4, init=4, max=9
// frames of 20ms).
func DefaultAudioConfig(clockRateHz uint32) Config {
	return Config{MinFrames: 4, InitialFrames: 4, MaxFrames: 9, FrameDuration: 20 * time.Millisecond, ClockRateHz: clockRateHz}
}

// Statistics mirrors the §3 JitterBuffer counters.
type Statistics struct {
	Received   uint64
	Lost       uint64
	Duplicate  uint64
	OutOfOrder uint64
	MinTTL     uint8
	MaxTTL     uint8
	HaveTTL    bool
}

// Buffer is the audio/generic jitter buffer. Text uses the same ordering
// core wrapped by Reassembler (redundancy.go); video reuses it directly
// for frame-level reordering.
type Buffer struct {
	mu sync.Mutex

	cfg Config

	entries []*Entry // kept sorted by Seq (signed-circular)

	haveFirst    bool
	lastPlayed   uint16
	lastPlayedTs uint32

	targetFrames float64
	stats        Statistics
	recentLost   []uint16 // gaps detected since the last DrainLost, capped at recentLostCap

	playoutClock time.Time // wall-clock instant the next frame becomes due
}

// recentLostCap bounds how many gap sequence numbers Buffer retains
// between DrainLost calls, so a prolonged outage can't grow this unbounded.
const recentLostCap = 64

// New constructs a Buffer with the given config.
func New(cfg Config) *Buffer {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.InitialFrames <= 0 {
		cfg.InitialFrames = cfg.MinFrames
	}
	return &Buffer{cfg: cfg, targetFrames: float64(cfg.InitialFrames)}
}

// Put inserts an arriving entry. Per §4.5: a strictly-older-than-last-played
// arrival is dropped (counted as duplicate) unless this is the first
// packet since construction/reset; otherwise it is inserted in sorted
// position and the IIR target-depth filter is updated from the current
// buffered depth.
func (b *Buffer) Put(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Received++
	if e.HaveTTL {
		if !b.stats.HaveTTL {
			b.stats.MinTTL, b.stats.MaxTTL, b.stats.HaveTTL = e.TTL, e.TTL, true
		} else {
			if e.TTL < b.stats.MinTTL {
				b.stats.MinTTL = e.TTL
			}
			if e.TTL > b.stats.MaxTTL {
				b.stats.MaxTTL = e.TTL
			}
		}
	}

	if !b.haveFirst {
		b.haveFirst = true
		b.lastPlayed = e.Seq - 1
		b.lastPlayedTs = e.Timestamp
		b.playoutClock = e.Arrival
	} else if wirertp.CompareSeq16(e.Seq, b.lastPlayed) <= 0 {
		// Already played or exactly the last played sequence: duplicate.
		b.stats.Duplicate++
		return
	}

	// Reject exact duplicates already queued.
	for _, q := range b.entries {
		if q.Seq == e.Seq {
			b.stats.Duplicate++
			return
		}
	}

	if len(b.entries) > 0 && wirertp.CompareSeq16(e.Seq, b.entries[len(b.entries)-1].Seq) < 0 {
		b.stats.OutOfOrder++
	}

	idx := sort.Search(len(b.entries), func(i int) bool {
		return wirertp.CompareSeq16(b.entries[i].Seq, e.Seq) >= 0
	})
	b.entries = append(b.entries, nil)
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = e

	b.adaptTarget()
}

// adaptTarget nudges the target depth toward the configured bounds using
// a simple IIR filter driven by how full the buffer currently is relative
// to target — the generalized form of the teacher's adaptDelay.
func (b *Buffer) adaptTarget() {
	depth := float64(len(b.entries))
	const gain = 0.1
	b.targetFrames += (depth - b.targetFrames) * gain
	if b.targetFrames < float64(b.cfg.MinFrames) {
		b.targetFrames = float64(b.cfg.MinFrames)
	}
	if b.targetFrames > float64(b.cfg.MaxFrames) {
		b.targetFrames = float64(b.cfg.MaxFrames)
	}
}

// Get attempts to pop the next playable entry. It returns ok=false
// ("not-ready") when the buffered depth is below target and the playout
// clock has not yet reached the next frame's due time; a gap in sequence
// numbers yields a synthetic comfort entry instead of the missing one.
func (b *Buffer) Get(now time.Time) (entry *Entry, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil, false
	}
	if float64(len(b.entries)) < b.targetFrames && now.Before(b.playoutClock) {
		return nil, false
	}

	head := b.entries[0]
	expectedSeq := b.lastPlayed + 1
	if head.Seq != expectedSeq {
		// Gap: synthesize a comfort filler for the missing sequence and
		// advance last-played by one without consuming head yet.
		b.stats.Lost++
		if len(b.recentLost) < recentLostCap {
			b.recentLost = append(b.recentLost, expectedSeq)
		}
		filler := &Entry{Seq: expectedSeq, Timestamp: b.lastPlayedTs + b.frameTicks(), Synthetic: true}
		b.lastPlayed = expectedSeq
		b.lastPlayedTs = filler.Timestamp
		b.advancePlayoutClock()
		return filler, true
	}

	b.entries = b.entries[1:]
	b.lastPlayed = head.Seq
	b.lastPlayedTs = head.Timestamp
	b.advancePlayoutClock()
	return head, true
}

func (b *Buffer) frameTicks() uint32 {
	if b.cfg.ClockRateHz == 0 {
		return 0
	}
	return uint32(b.cfg.FrameDuration.Milliseconds()) * (b.cfg.ClockRateHz / 1000)
}

func (b *Buffer) advancePlayoutClock() {
	if b.playoutClock.IsZero() {
		b.playoutClock = time.Now()
	}
	b.playoutClock = b.playoutClock.Add(b.cfg.FrameDuration)
}

// Reset clears buffered entries and statistics, used on an SSRC refresh
// (§4.3 decoder emits Refreshed; the jitter buffer resets in response).
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.haveFirst = false
	b.stats = Statistics{}
	b.recentLost = nil
	b.targetFrames = float64(b.cfg.InitialFrames)
}

// Statistics returns a snapshot of the current counters.
func (b *Buffer) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Depth returns the number of entries currently queued, for the media
// quality analyzer's collectJitterBufferSize input.
func (b *Buffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// DrainLost returns the sequence numbers of gaps detected since the last
// call and clears the list, feeding an RTCP NACK request (RFC 4585) without
// the buffer itself knowing anything about feedback transport.
func (b *Buffer) DrainLost() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.recentLost) == 0 {
		return nil
	}
	out := b.recentLost
	b.recentLost = nil
	return out
}

// TargetFrames returns the current adaptive target depth.
func (b *Buffer) TargetFrames() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.targetFrames
}
