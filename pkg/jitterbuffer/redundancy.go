package jitterbuffer

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/arzzra/imscore/pkg/errs"
)

// Real-time text redundancy (RFC 4103, payload format RFC 2198 "RED").
// Each RTP packet carries zero or more redundant blocks (older chunks,
// each tagged with its timestamp offset from the current packet) followed
// by the primary block. This file implements both the sender-side framing
// (EncodeRED) and the receiver-side reassembly described in spec §4.5: a
// 1000ms reorder-wait before declaring loss, UTF-8 replacement characters
// for characters that never recover, and one-time leading BOM consumption.

const replacementChar = "�"

// RedBlock is one redundant (non-primary) block inside a RED payload.
type RedBlock struct {
	PayloadType     uint8
	TimestampOffset uint16 // 14-bit, ms or RTP-tick offset into the past
	Payload         []byte
}

// EncodeRED serializes a RED payload: a 4-byte header per redundant block
// (F=1, block PT, 14-bit timestamp offset, 10-bit length) followed by a
// 1-byte header for the primary block (F=0, primary PT), followed by all
// block payloads concatenated in the same order as the headers.
func EncodeRED(primaryPT uint8, redundant []RedBlock, primary []byte) []byte {
	headerLen := 4*len(redundant) + 1
	bodyLen := len(primary)
	for _, b := range redundant {
		bodyLen += len(b.Payload)
	}
	out := make([]byte, headerLen+bodyLen)

	off := 0
	for _, b := range redundant {
		out[off] = 0x80 | (b.PayloadType & 0x7F)
		tsAndLen := uint32(b.TimestampOffset&0x3FFF)<<10 | uint32(len(b.Payload)&0x3FF)
		out[off+1] = byte(tsAndLen >> 16)
		out[off+2] = byte(tsAndLen >> 8)
		out[off+3] = byte(tsAndLen)
		off += 4
	}
	out[off] = primaryPT & 0x7F
	off++

	for _, b := range redundant {
		off += copy(out[off:], b.Payload)
	}
	copy(out[off:], primary)
	return out
}

// DecodeRED parses a RED payload back into its redundant blocks (oldest
// first, as encoded) and primary block.
func DecodeRED(data []byte) (redundant []RedBlock, primaryPT uint8, primary []byte, err error) {
	var headers []struct {
		pt     uint8
		tsOff  uint16
		length int
		isLast bool
	}
	off := 0
	for {
		if off >= len(data) {
			return nil, 0, nil, errs.New(errs.InvalidParam, "jitterbuffer.DecodeRED", "truncated header")
		}
		f := data[off]&0x80 != 0
		pt := data[off] & 0x7F
		if !f {
			headers = append(headers, struct {
				pt     uint8
				tsOff  uint16
				length int
				isLast bool
			}{pt: pt, isLast: true})
			off++
			break
		}
		if off+4 > len(data) {
			return nil, 0, nil, errs.New(errs.InvalidParam, "jitterbuffer.DecodeRED", "truncated redundant header")
		}
		tsAndLen := uint32(data[off+1])<<16 | uint32(data[off+2])<<8 | uint32(data[off+3])
		tsOff := uint16((tsAndLen >> 10) & 0x3FFF)
		length := int(tsAndLen & 0x3FF)
		headers = append(headers, struct {
			pt     uint8
			tsOff  uint16
			length int
			isLast bool
		}{pt: pt, tsOff: tsOff, length: length})
		off += 4
	}

	body := data[off:]
	pos := 0
	for _, h := range headers {
		if h.isLast {
			primaryPT = h.pt
			primary = body[pos:]
			continue
		}
		if pos+h.length > len(body) {
			return nil, 0, nil, errs.New(errs.InvalidParam, "jitterbuffer.DecodeRED", "block length exceeds payload")
		}
		redundant = append(redundant, RedBlock{PayloadType: h.pt, TimestampOffset: h.tsOff, Payload: body[pos : pos+h.length]})
		pos += h.length
	}
	return redundant, primaryPT, primary, nil
}

// textChunk is one arrived T.140 block (primary or recovered-from-redundancy),
// tagged by the RTP sequence/timestamp it was carried (or recovered) at.
type textChunk struct {
	seq     uint16
	text    []byte
	arrival time.Time
}

// Reassembler implements the receiver side of §4.5's text redundancy
// handling: it holds recently-seen sequence numbers, waits up to
// LossWait for an out-of-order arrival to fill a detected gap via
// redundancy, and then emits either the recovered text or a run of
// replacement characters for whatever never arrived.
type Reassembler struct {
	mu sync.Mutex

	lossWait    time.Duration
	consumeBOM  bool
	bomConsumed bool

	highestSeq  uint16
	haveFirst   bool
	pending     map[uint16]textChunk
	deadlines   map[uint16]time.Time
	out         []byte
}

// NewReassembler constructs a Reassembler. lossWait is the §4.5 default of
// 1000ms; consumeBOM enables stripping one leading U+FEFF per configured
// BOM signalling.
func NewReassembler(lossWait time.Duration, consumeBOM bool) *Reassembler {
	if lossWait <= 0 {
		lossWait = 1000 * time.Millisecond
	}
	return &Reassembler{
		lossWait:   lossWait,
		consumeBOM: consumeBOM,
		pending:    make(map[uint16]textChunk),
		deadlines:  make(map[uint16]time.Time),
	}
}

// Receive ingests one decoded RED payload (primary block at seq, plus any
// redundant blocks recovering older sequences) and returns text that is
// now ready to render, in order, with any still-missing gaps (after
// lossWait has elapsed) replaced by U+FFFD.
func (r *Reassembler) Receive(seq uint16, primary []byte, redundant []RedBlock, now time.Time) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store(seq, primary, now)
	for i, b := range redundant {
		// Redundant blocks arrive in encode order, oldest first (as
		// DecodeRED returns them), one sequence number apart, so block i
		// recovers seq - (len(redundant)-i).
		recoveredSeq := seq - uint16(len(redundant)-i)
		r.storeIfAbsent(recoveredSeq, b.Payload, now)
	}
	if !r.haveFirst {
		r.haveFirst = true
		r.highestSeq = seq - 1
	}

	return r.drain(now)
}

func (r *Reassembler) store(seq uint16, text []byte, now time.Time) {
	r.pending[seq] = textChunk{seq: seq, text: text, arrival: now}
	delete(r.deadlines, seq)
}

func (r *Reassembler) storeIfAbsent(seq uint16, text []byte, now time.Time) {
	if _, ok := r.pending[seq]; ok {
		return
	}
	r.pending[seq] = textChunk{seq: seq, text: text, arrival: now}
	delete(r.deadlines, seq)
}

// drain emits every contiguous chunk starting at highestSeq+1; for a
// missing sequence it starts (or checks) a loss-wait deadline, and once
// that deadline passes it emits a replacement character and advances past
// the gap.
func (r *Reassembler) drain(now time.Time) []byte {
	var out []byte
	for {
		next := r.highestSeq + 1
		if chunk, ok := r.pending[next]; ok {
			out = append(out, r.maybeStripBOM(chunk.text)...)
			delete(r.pending, next)
			r.highestSeq = next
			continue
		}
		deadline, started := r.deadlines[next]
		if !started {
			r.deadlines[next] = now.Add(r.lossWait)
			break
		}
		if now.Before(deadline) {
			break
		}
		out = append(out, []byte(replacementChar)...)
		delete(r.deadlines, next)
		r.highestSeq = next
	}
	return out
}

func (r *Reassembler) maybeStripBOM(text []byte) []byte {
	if !r.consumeBOM || r.bomConsumed {
		return text
	}
	r.bomConsumed = true
	const bom = "﻿"
	if len(text) >= len(bom) && string(text[:len(bom)]) == bom {
		return text[len(bom):]
	}
	return text
}

// ValidateUTF8 reports whether b is well-formed UTF-8, used by callers
// that want to reject a T.140 chunk outright rather than render it.
func ValidateUTF8(b []byte) bool { return utf8.Valid(b) }

// sortedPendingSeqs is a small test/debug helper returning pending
// sequence numbers in ascending signed-circular order.
func (r *Reassembler) sortedPendingSeqs() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seqs := make([]uint16, 0, len(r.pending))
	for s := range r.pending {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return int16(seqs[i]-r.highestSeq) < int16(seqs[j]-r.highestSeq) })
	return seqs
}
