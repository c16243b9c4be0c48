package rtcp

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCompoundRoundTrip(t *testing.T) {
	compound := &Compound{Packets: []rtcp.Packet{
		&rtcp.SenderReport{
			SSRC:        0x1234,
			NTPTime:     NTPTime(time.Now()),
			RTPTime:     160000,
			PacketCount: 50,
			OctetCount:  8000,
		},
		&rtcp.SourceDescription{
			Chunks: []rtcp.SourceDescriptionChunk{{
				Source: 0x1234,
				Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: "caller"}},
			}},
		},
	}}

	wire, err := Encode(compound)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Len(t, got.Packets, 2)

	sr, ok := got.Packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(0x1234), sr.SSRC)
	assert.Equal(t, uint32(50), sr.PacketCount)
	assert.Equal(t, uint32(8000), sr.OctetCount)
}

// TestEncodeRejectsNonSRRRFirstPacket covers testable property 8's
// encode-side mirror: the compound assembler must not let a caller
// produce a non-conformant packet in the first place.
func TestEncodeRejectsNonSRRRFirstPacket(t *testing.T) {
	compound := &Compound{Packets: []rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{1}}}}
	_, err := Encode(compound)
	assert.Error(t, err)
}

func TestEncodeRejectsEmptyCompound(t *testing.T) {
	_, err := Encode(&Compound{})
	assert.Error(t, err)
}

// TestDecodeRejectsNonSRRRFirstPacket covers testable property 8: the
// RTCP compound packet parser rejects datagrams whose first sub-packet
// is neither SR nor RR.
func TestDecodeRejectsNonSRRRFirstPacket(t *testing.T) {
	bye := &rtcp.Goodbye{Sources: []uint32{1}}
	raw, err := bye.Marshal()
	require.NoError(t, err)

	_, err = Decode(raw)
	assert.Error(t, err)
}

func TestNTPTimeAndMidNTPRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ntp := NTPTime(now)

	const ntpEpochOffset = 2208988800
	assert.Equal(t, uint64(now.Unix())+ntpEpochOffset, ntp>>32)

	mid := MidNTP(ntp)
	assert.NotZero(t, mid)
}

func TestInterarrivalJitterConvergesTowardConstantTransitDelta(t *testing.T) {
	jitter := 0.0
	transit := int64(100)
	for i := 0; i < 200; i++ {
		transit += 10 // constant positive drift each step
		jitter, transit = InterarrivalJitter(jitter, transit-10, transit)
	}
	// RFC 3550's 1/16 gain filter converges to the steady-state |delta|.
	assert.InDelta(t, 10.0, jitter, 0.5)
}

func TestBuildNACKAndEncodeFeedbackRoundTrip(t *testing.T) {
	nack := BuildNACK(0x1111, 0x2222, []uint16{5, 6, 9})
	assert.Equal(t, uint32(0x1111), nack.SenderSSRC)
	assert.Equal(t, uint32(0x2222), nack.MediaSSRC)
	require.NotEmpty(t, nack.Nacks)

	raw, err := EncodeFeedback(nack)
	require.NoError(t, err)

	got, err := DecodeFeedback(raw)
	require.NoError(t, err)
	require.Len(t, got.Packets, 1)

	decoded, ok := got.Packets[0].(*rtcp.TransportLayerNack)
	require.True(t, ok)
	assert.Equal(t, uint32(0x2222), decoded.MediaSSRC)
}

func TestBuildPLIAndEncodeFeedbackRoundTrip(t *testing.T) {
	pli := BuildPLI(0x3333, 0x4444)

	raw, err := EncodeFeedback(pli)
	require.NoError(t, err)

	got, err := DecodeFeedback(raw)
	require.NoError(t, err)
	require.Len(t, got.Packets, 1)

	decoded, ok := got.Packets[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(0x4444), decoded.MediaSSRC)
}

func TestEncodeFeedbackRejectsEmpty(t *testing.T) {
	_, err := EncodeFeedback()
	assert.Error(t, err)
}

func TestDecodeFeedbackRejectsSRFirstPacket(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 1}
	raw, err := sr.Marshal()
	require.NoError(t, err)

	_, err = DecodeFeedback(raw)
	assert.Error(t, err, "a compound SR/RR datagram is not a feedback datagram")
}

func TestClampCumulativeLostSaturatesTo24Bits(t *testing.T) {
	rr := BuildReceptionReport(1, 0, 1<<30, 0, 0, 0, 0)
	assert.Equal(t, uint32(1<<23-1), rr.TotalLost)

	rrNeg := BuildReceptionReport(1, 0, -(1 << 30), 0, 0, 0, 0)
	assert.Equal(t, uint32(1<<23)&0xFFFFFF, rrNeg.TotalLost)
}
