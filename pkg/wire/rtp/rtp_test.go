package rtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip covers invariant 2: the serialised packet must
// round-trip through Decode yielding byte-identical payload, sequence,
// timestamp and marker.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	pkt := &Packet{
		Header: Header{
			Version:        Version,
			Marker:         true,
			PayloadType:    0,
			SequenceNumber: 4242,
			Timestamp:      160000,
			SSRC:           0xDEADBEEF,
		},
		Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	wire, err := Encode(pkt)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)

	assert.Equal(t, pkt.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, pkt.Timestamp, got.Timestamp)
	assert.Equal(t, pkt.Marker, got.Marker)
	assert.Equal(t, pkt.SSRC, got.SSRC)
	assert.Equal(t, pkt.Payload, got.Payload)
}

func TestEncodeRejectsWrongVersion(t *testing.T) {
	pkt := &Packet{Header: Header{Version: 1}}
	_, err := Encode(pkt)
	assert.Error(t, err)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	// A version-1 packet marshals fine via pion/rtp; Decode must still
	// reject it per the §3 invariant.
	pkt := &Packet{Header: Header{Version: 1, SequenceNumber: 1, Timestamp: 1}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = Decode(raw)
	assert.Error(t, err)
}

func TestCompareSeq16HandlesWraparound(t *testing.T) {
	assert.Equal(t, 0, CompareSeq16(10, 10))
	assert.Equal(t, 1, CompareSeq16(11, 10))
	assert.Equal(t, -1, CompareSeq16(10, 11))
	assert.Equal(t, 1, CompareSeq16(0, 65535))
	assert.Equal(t, -1, CompareSeq16(65535, 0))
}

func TestTimestampClockAdvancesInWholeFrames(t *testing.T) {
	clock := NewTimestampClock(8000, 20*time.Millisecond)
	base := time.Now()

	ts, ok := clock.Advance(base, 1000)
	require.True(t, ok)
	assert.Equal(t, uint32(1000), ts)

	ts, ok = clock.Advance(base.Add(20*time.Millisecond), 1000)
	require.True(t, ok)
	assert.Equal(t, uint32(1000+160), ts)

	// A delta under half a frame length rounds to zero frames and must be
	// skipped rather than advancing the timestamp.
	_, ok = clock.Advance(base.Add(25*time.Millisecond), 1000)
	assert.False(t, ok)
}

func TestGenerateSSRCAndSeqAreNonDeterministic(t *testing.T) {
	a, err := GenerateSSRC()
	require.NoError(t, err)
	b, err := GenerateSSRC()
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two consecutive draws should not collide in practice")

	seq, err := GenerateSeq()
	require.NoError(t, err)
	_ = seq
}
