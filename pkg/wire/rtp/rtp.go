// Package rtp implements the RTP wire codec (RFC 3550): fixed header,
// CSRC list, extension header, payload, and padding. It wraps
// github.com/pion/rtp for the actual bit-level marshal/unmarshal — the
// same header/packet representation the rest of this corpus (the teacher
// repo and the WebRTC-adjacent examples) uses — and adds the
// telephony-specific pieces the spec calls out: CVO extension encoding,
// marker-bit policy, and RTP timestamp derivation from wall-clock deltas.
package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/imscore/pkg/errs"
)

// Packet is the in-memory representation of one RTP packet traversing the
// graph. It is a thin alias over pion/rtp's packet so CSRC lists,
// extension headers, and padding all reuse a bit-exact, well-tested
// implementation instead of a hand-rolled reader/writer.
type Packet = rtp.Packet

// Header is the fixed 12-byte RTP header plus CSRC/extension.
type Header = rtp.Header

const Version = 2

// CVOExtensionURI is the one-byte header extension carrying Coordination
// of Video Orientation, per 3GPP TS 26.114. The profile id used on the
// wire is negotiated out-of-band (SDP, out of scope); callers register the
// negotiated local id used in the RTP extension map.
const CVOExtensionURI = "urn:3gpp:video-orientation"

// Encode marshals an RTP packet to wire bytes. The CSRC-count/extension
// bit/padding invariants of §3 are enforced by pion/rtp's Header.Marshal;
// Encode additionally validates the padding invariant the spec calls out
// explicitly: if padding is set the trailing byte must be a nonzero pad
// length no larger than the payload.
func Encode(pkt *Packet) ([]byte, error) {
	if pkt.Version != Version {
		return nil, errs.New(errs.InvalidParam, "wire/rtp.Encode", "version must be 2")
	}
	if pkt.Padding {
		if len(pkt.Payload) == 0 {
			return nil, errs.New(errs.InvalidParam, "wire/rtp.Encode", "padding set with empty payload")
		}
		padLen := pkt.Payload[len(pkt.Payload)-1]
		if padLen == 0 || int(padLen) > len(pkt.Payload) {
			return nil, errs.New(errs.InvalidParam, "wire/rtp.Encode", "invalid pad length")
		}
	}
	b, err := pkt.Marshal()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "wire/rtp.Encode", err)
	}
	return b, nil
}

// Decode parses wire bytes into an RTP packet. It rejects any version
// other than 2 and any padding byte that violates the §3 invariant,
// returning an *errs.Error so the caller (RtpDecoder node) can count and
// drop rather than propagate, per §7.
func Decode(data []byte) (*Packet, error) {
	pkt := &Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "wire/rtp.Decode", err)
	}
	if pkt.Version != Version {
		return nil, errs.New(errs.InvalidParam, "wire/rtp.Decode", fmt.Sprintf("unsupported version %d", pkt.Version))
	}
	if pkt.Padding {
		if len(pkt.Payload) == 0 {
			return nil, errs.New(errs.InvalidParam, "wire/rtp.Decode", "padding set with empty payload")
		}
		padLen := pkt.Payload[len(pkt.Payload)-1]
		if padLen == 0 || int(padLen) > len(pkt.Payload) {
			return nil, errs.New(errs.InvalidParam, "wire/rtp.Decode", "invalid pad length")
		}
	}
	return pkt, nil
}

// GenerateSSRC produces a cryptographically random SSRC per RFC 3550
// Appendix A.6.
func GenerateSSRC() (uint32, error) {
	var ssrc uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &ssrc); err != nil {
		return 0, errs.Wrap(errs.NoResources, "wire/rtp.GenerateSSRC", err)
	}
	return ssrc, nil
}

// GenerateSeq produces a random initial sequence number per RFC 3550
// Appendix A.6 (sessions must not start sequence numbers at 0).
func GenerateSeq() (uint16, error) {
	var v uint16
	if err := binary.Read(rand.Reader, binary.BigEndian, &v); err != nil {
		return 0, errs.Wrap(errs.NoResources, "wire/rtp.GenerateSeq", err)
	}
	return v, nil
}

// TimestampClock maintains the §4.3 audio timestamp-derivation state
// machine: the last emitted RTP timestamp and the wall-clock instant it
// corresponds to, advanced in whole frame-length (ptime) ticks.
type TimestampClock struct {
	clockRateHz uint32
	frameLen    time.Duration
	lastInstant time.Time
	lastRTPTs   uint32
	initialized bool
}

// NewTimestampClock constructs a clock for the given sampling rate and
// frame length (ptime). Per §4.3, frameLen defaults to 20ms.
func NewTimestampClock(clockRateHz uint32, frameLen time.Duration) *TimestampClock {
	if frameLen <= 0 {
		frameLen = 20 * time.Millisecond
	}
	return &TimestampClock{clockRateHz: clockRateHz, frameLen: frameLen}
}

// Advance computes the next RTP timestamp for an emission occurring at
// `now`. It rounds the wall-clock delta since the last emission to the
// nearest frame length and converts to RTP ticks via
// delta_ms * (clockRateHz/1000), per §4.3. ok is false when the rounded
// delta is zero (this emission must be skipped, not sent).
func (c *TimestampClock) Advance(now time.Time, initialTs uint32) (ts uint32, ok bool) {
	if !c.initialized {
		c.lastInstant = now
		c.lastRTPTs = initialTs
		c.initialized = true
		return c.lastRTPTs, true
	}
	delta := now.Sub(c.lastInstant)
	frames := (delta + c.frameLen/2) / c.frameLen
	if frames == 0 {
		return c.lastRTPTs, false
	}
	deltaMs := int64(frames) * c.frameLen.Milliseconds()
	deltaTicks := uint32(deltaMs * int64(c.clockRateHz) / 1000)
	c.lastRTPTs += deltaTicks
	c.lastInstant = c.lastInstant.Add(time.Duration(frames) * c.frameLen)
	return c.lastRTPTs, true
}

// CompareSeq16 implements signed-circular comparison of 16-bit RTP
// sequence numbers per RFC 1982: returns <0 if a is older than b, 0 if
// equal, >0 if a is newer, treating the gap as a signed 16-bit delta.
func CompareSeq16(a, b uint16) int {
	d := int16(a - b)
	switch {
	case d == 0:
		return 0
	case d > 0:
		return 1
	default:
		return -1
	}
}

// SeqDistance returns the signed forward distance from b to a, i.e. how
// many sequence numbers newer a is than b (negative if older), handling
// 16-bit wraparound.
func SeqDistance(a, b uint16) int32 {
	return int32(int16(a - b))
}
