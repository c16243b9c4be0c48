// Package rtcp implements the compound RTCP codec (RFC 3550, RFC 3611
// Extended Reports, RFC 4585 feedback). It builds on github.com/pion/rtcp
// for the individual packet types — the same library already pulled into
// this corpus by the WebRTC-facing examples — and adds the compound-packet
// assembly/validation rules the spec requires: the first sub-packet of a
// compound datagram must be SR or RR, and length fields are rewritten
// after body encoding. Encode adds no padding.
package rtcp

import (
	"time"

	"github.com/pion/rtcp"

	"github.com/arzzra/imscore/pkg/errs"
)

// Packet types per RFC 3550/3611, re-exported for callers that only need
// the numeric constants without importing pion/rtcp directly.
const (
	TypeSR    = 200
	TypeRR    = 201
	TypeSDES  = 202
	TypeBYE   = 203
	TypeAPP   = 204
	TypeRTPFB = 205
	TypePSFB  = 206
	TypeXR    = 207
)

// XRBlockMask selects which RTCP-XR block types §4.6 assembles.
type XRBlockMask uint8

const (
	XRStatisticsSummary XRBlockMask = 1 << iota
	XRVoIPMetrics
)

// Compound is a parsed or to-be-encoded compound RTCP packet: an ordered
// list of pion/rtcp.Packet implementations.
type Compound struct {
	Packets []rtcp.Packet
}

// Encode serializes a compound packet to wire bytes via
// rtcp.Marshal, which handles per-sub-packet length rewriting for us.
// Per §4.4 the first sub-packet must be SR or RR; Encode enforces this so
// a caller cannot accidentally produce a non-conformant compound packet.
func Encode(c *Compound) ([]byte, error) {
	if len(c.Packets) == 0 {
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.Encode", "empty compound packet")
	}
	switch c.Packets[0].(type) {
	case *rtcp.SenderReport, *rtcp.ReceiverReport:
	default:
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.Encode", "first sub-packet must be SR or RR")
	}
	b, err := rtcp.Marshal(c.Packets)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "wire/rtcp.Encode", err)
	}
	return b, nil
}

// Decode parses a compound RTCP datagram, dispatching each sub-packet to
// its typed decoder by walking headers until the datagram is exhausted.
// Per testable property 8, a datagram whose first sub-packet is neither SR
// nor RR is rejected outright.
func Decode(data []byte) (*Compound, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "wire/rtcp.Decode", err)
	}
	if len(packets) == 0 {
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.Decode", "empty datagram")
	}
	switch packets[0].(type) {
	case *rtcp.SenderReport, *rtcp.ReceiverReport:
	default:
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.Decode", "first sub-packet must be SR or RR")
	}
	return &Compound{Packets: packets}, nil
}

// DecodeFeedback parses a standalone RTCP feedback datagram (NACK/PLI/...)
// sent outside the SR/RR compound cadence per RFC 4585. Unlike Decode, the
// first sub-packet is expected to be a feedback message rather than SR/RR.
func DecodeFeedback(data []byte) (*Compound, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "wire/rtcp.DecodeFeedback", err)
	}
	if len(packets) == 0 {
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.DecodeFeedback", "empty datagram")
	}
	switch packets[0].(type) {
	case *rtcp.TransportLayerNack, *rtcp.PictureLossIndication, *rtcp.FullIntraRequest, *rtcp.RapidResynchronizationRequest, *rtcp.ReceiverEstimatedMaximumBitrate:
	default:
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.DecodeFeedback", "first sub-packet is not a feedback message")
	}
	return &Compound{Packets: packets}, nil
}

// NTPTime converts a time.Time to the 64-bit NTP timestamp format used in
// RTCP SR (upper 32 bits seconds since 1900, lower 32 bits fraction).
func NTPTime(t time.Time) uint64 {
	const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}

// MidNTP extracts the middle 32 bits of a 64-bit NTP timestamp, the form
// carried as "last SR" in a reception report per RFC 3550 §6.4.1.
func MidNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// InterarrivalJitter implements RFC 3550 §A.8: given the previous smoothed
// jitter estimate, the previous transit time, and the new transit time
// (arrival_ts - rtp_ts, both in RTP clock units), returns the updated
// jitter estimate using the recommended 1/16 gain.
func InterarrivalJitter(prevJitter float64, prevTransit, transit int64) (newJitter float64, newTransit int64) {
	d := transit - prevTransit
	if d < 0 {
		d = -d
	}
	newJitter = prevJitter + (float64(d)-prevJitter)/16.0
	return newJitter, transit
}

// BuildReceptionReport assembles one RFC 3550 §6.4.1 reception report
// block for a remote SSRC.
func BuildReceptionReport(ssrc uint32, fractionLost uint8, cumulativeLost int32, extHighestSeq uint32, jitter uint32, lastSR uint32, delaySinceLastSR uint32) rtcp.ReceptionReport {
	return rtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       fractionLost,
		TotalLost:          clampCumulativeLost(cumulativeLost),
		LastSequenceNumber: extHighestSeq,
		Jitter:             jitter,
		LastSenderReport:   lastSR,
		Delay:              delaySinceLastSR,
	}
}

// BuildNACK assembles an RFC 4585 Transport-Layer Feedback NACK (RFC 3550
// payload type 205, FMT 1) requesting retransmission of lostSeqs, packed
// into as few NACK pairs as pion/rtcp's bitmap packing allows.
func BuildNACK(senderSSRC, mediaSSRC uint32, lostSeqs []uint16) *rtcp.TransportLayerNack {
	return &rtcp.TransportLayerNack{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		Nacks:      rtcp.NackPairsFromSequenceNumbers(lostSeqs),
	}
}

// BuildPLI assembles an RFC 4585 Payload-Specific Feedback Picture Loss
// Indication (payload type 206, FMT 1), the request a video Rx leg sends
// when it cannot conceal a loss and needs a fresh IDR frame.
func BuildPLI(senderSSRC, mediaSSRC uint32) *rtcp.PictureLossIndication {
	return &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}
}

// BuildREMB assembles a Receiver Estimated Maximum Bitrate packet (the
// de facto RFC 5104-style video bitrate-change feedback this corpus's
// WebRTC stacks use in place of TMMBR/TMMBN — pion/rtcp does not expose
// the latter — payload-specific feedback, payload type 206, FMT 15),
// asking the remote video encoder to cap its output at bitrateBps.
func BuildREMB(senderSSRC, mediaSSRC uint32, bitrateBps uint64) *rtcp.ReceiverEstimatedMaximumBitrate {
	return &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: senderSSRC,
		Bitrate:    float32(bitrateBps),
		SSRCs:      []uint32{mediaSSRC},
	}
}

// EncodeFeedback serializes one or more FB packets (NACK/PLI/FIR/...) as
// their own datagram. Unlike Encode, feedback packets are sent ad hoc
// outside the SR/RR compound cadence per RFC 4585, so the "first packet
// must be SR/RR" rule does not apply here.
func EncodeFeedback(packets ...rtcp.Packet) ([]byte, error) {
	if len(packets) == 0 {
		return nil, errs.New(errs.InvalidParam, "wire/rtcp.EncodeFeedback", "no feedback packets given")
	}
	b, err := rtcp.Marshal(packets)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "wire/rtcp.EncodeFeedback", err)
	}
	return b, nil
}

// clampCumulativeLost saturates the cumulative lost counter to the 24-bit
// signed range carried on the wire, per §3's "24-bit signed saturating"
// invariant.
func clampCumulativeLost(v int32) uint32 {
	const maxVal = 1<<23 - 1
	const minVal = -(1 << 23)
	if v > maxVal {
		v = maxVal
	}
	if v < minVal {
		v = minVal
	}
	return uint32(v) & 0xFFFFFF
}
