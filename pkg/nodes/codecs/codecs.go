// Package codecs supplies the PayloadCodec backends AudioPayloadEncoder/
// Decoder run behind (spec §1: "AMR/AMR-WB/EVS/G.711 codec cores are
// host-supplied black boxes"). PCMU/PCMA are trivial enough to implement
// directly (G.711 is a per-sample lookup, not a licensed codec core);
// Opus is wired to github.com/pion/opus so the module has at least one
// runnable, non-trivial default without depending on cgo, and AMR/AMR-WB
// get RFC 4867 octet-aligned ToC framing so a host-supplied AMR core can
// be plugged in purely as a frame transform.
package codecs

import (
	"github.com/pion/opus"

	"github.com/arzzra/imscore/pkg/errs"
)

// PayloadCodec is the interface AudioPayloadEncoder/Decoder (and the
// text/video equivalents, which implement simpler framing directly) code
// against, letting a host swap in its own AMR/AMR-WB/EVS core without
// touching the node that calls it.
type PayloadCodec interface {
	// Encode compresses one ptime's worth of linear PCM samples into a
	// wire payload.
	Encode(pcm []int16) ([]byte, error)
	// Decode expands one wire payload back into linear PCM samples.
	Decode(payload []byte) ([]int16, error)
	// Name identifies the codec for logging/metrics labeling.
	Name() string
}

// PCMU is G.711 µ-law, RFC 3551 §4.5.14.
type PCMU struct{}

func (PCMU) Name() string { return "PCMU" }

func (PCMU) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = linearToULaw(s)
	}
	return out, nil
}

func (PCMU) Decode(payload []byte) ([]int16, error) {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = uLawToLinear(b)
	}
	return out, nil
}

// PCMA is G.711 A-law, RFC 3551 §4.5.14.
type PCMA struct{}

func (PCMA) Name() string { return "PCMA" }

func (PCMA) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = linearToALaw(s)
	}
	return out, nil
}

func (PCMA) Decode(payload []byte) ([]int16, error) {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = aLawToLinear(b)
	}
	return out, nil
}

const (
	uLawBias = 0x84
	uLawClip = 32635
)

func linearToULaw(sample int16) byte {
	sign := byte(0x00)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > uLawClip {
		s = uLawClip
	}
	s += uLawBias
	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

func uLawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := (int32(mantissa)<<3 + uLawBias) << exponent
	sample -= uLawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

func linearToALaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0x80)
	if s < 0 {
		s = -s - 1
		sign = 0x00
	}
	if s > 0x7FFF {
		s = 0x7FFF
	}
	var exponent byte = 7
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	var mantissa byte
	if exponent == 0 {
		mantissa = byte(s >> 4 & 0x0F)
	} else {
		mantissa = byte((s >> (exponent + 3)) & 0x0F)
	}
	alaw := sign | (exponent << 4) | mantissa
	return alaw ^ 0x55
}

func aLawToLinear(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := a & 0x0F
	var sample int32
	if exponent == 0 {
		sample = int32(mantissa)<<4 + 8
	} else {
		sample = (int32(mantissa)<<4 + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}

// Opus wraps github.com/pion/opus as the default non-trivial codec
// behind the PayloadCodec interface, standing in for EVS in the demo and
// test harness (spec §1 excludes shipping a real EVS core).
type Opus struct {
	decoder    opus.Decoder
	sampleRate int
	channels   int
}

// NewOpus constructs an Opus codec at the given sample rate/channel
// count. pion/opus only implements decode; Encode here is unsupported and
// returns errs.NotSupported, matching the §1 framing that full codec
// cores beyond decode-side testing are host-supplied.
func NewOpus(sampleRate, channels int) *Opus {
	return &Opus{decoder: opus.NewDecoder(), sampleRate: sampleRate, channels: channels}
}

func (o *Opus) Name() string { return "opus" }

func (o *Opus) Encode(pcm []int16) ([]byte, error) {
	return nil, errs.New(errs.NotSupported, "codecs.Opus.Encode", "opus encode is host-supplied; this module only decodes for playout testing")
}

func (o *Opus) Decode(payload []byte) ([]int16, error) {
	out := make([]byte, o.sampleRate/25*o.channels*2) // generous upper bound for a 20ms frame
	n, _, err := o.decoder.Decode(payload, out)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidParam, "codecs.Opus.Decode", err)
	}
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(out[2*i]) | int16(out[2*i+1])<<8
	}
	return samples, nil
}

// AMRToC is one RFC 4867 octet-aligned table-of-contents entry.
type AMRToC struct {
	FrameType uint8
	Quality   bool
	Follows   bool
}

// EncodeAMRToC serializes the ToC header bytes preceding the frame
// payloads in an octet-aligned AMR/AMR-WB RTP payload.
func EncodeAMRToC(entries []AMRToC) []byte {
	out := make([]byte, len(entries))
	for i, e := range entries {
		b := (e.FrameType & 0x0F) << 3
		if e.Quality {
			b |= 0x04
		}
		if i < len(entries)-1 {
			b |= 0x80
		}
		out[i] = b
	}
	return out
}

// DecodeAMRToC parses the ToC header bytes of an octet-aligned AMR/
// AMR-WB payload, returning one entry per frame.
func DecodeAMRToC(data []byte) ([]AMRToC, int) {
	var entries []AMRToC
	i := 0
	for i < len(data) {
		b := data[i]
		entries = append(entries, AMRToC{FrameType: (b >> 3) & 0x0F, Quality: b&0x04 != 0})
		i++
		if b&0x80 == 0 {
			break
		}
	}
	return entries, i
}

// NoCMR is the RFC 4867 §4.3.1 CMR value meaning "no mode request", the
// reserved all-ones nibble.
const NoCMR uint8 = 0x0F

// EncodeCMR serializes the one-octet Codec Mode Request header that
// precedes the ToC list in an octet-aligned AMR/AMR-WB payload: the
// requested mode in the top 4 bits, reserved bits set to 1 per spec.
func EncodeCMR(mode uint8) byte {
	return (mode&0x0F)<<4 | 0x0F
}

// DecodeCMR parses the leading CMR octet, returning NoCMR when the
// sender made no mode request.
func DecodeCMR(b byte) uint8 {
	return (b >> 4) & 0x0F
}
