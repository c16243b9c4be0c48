package codecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMURoundTripWithinQuantizationError(t *testing.T) {
	codec := PCMU{}
	pcm := []int16{0, 100, -100, 1000, -1000, 32000, -32000, 32767, -32768}

	encoded, err := codec.Encode(pcm)
	require.NoError(t, err)
	require.Len(t, encoded, len(pcm))

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(pcm))

	for i, sample := range pcm {
		diff := int(sample) - int(decoded[i])
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, 1000, "sample %d: %d vs %d", i, sample, decoded[i])
	}
}

func TestPCMARoundTripWithinQuantizationError(t *testing.T) {
	codec := PCMA{}
	pcm := []int16{0, 100, -100, 1000, -1000, 32000, -32000, 32767, -32768}

	encoded, err := codec.Encode(pcm)
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)

	for i, sample := range pcm {
		diff := int(sample) - int(decoded[i])
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, 1000, "sample %d: %d vs %d", i, sample, decoded[i])
	}
}

func TestPCMUSilenceEncodesToFixedByte(t *testing.T) {
	codec := PCMU{}
	encoded, err := codec.Encode([]int16{0, 0, 0})
	require.NoError(t, err)
	for _, b := range encoded {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestOpusEncodeUnsupported(t *testing.T) {
	o := NewOpus(48000, 1)
	_, err := o.Encode([]int16{1, 2, 3})
	assert.Error(t, err)
}

func TestAMRToCRoundTrip(t *testing.T) {
	entries := []AMRToC{
		{FrameType: 7, Quality: true},
		{FrameType: 2, Quality: false},
		{FrameType: 0, Quality: true},
	}
	encoded := EncodeAMRToC(entries)
	require.Len(t, encoded, len(entries))

	decoded, consumed := DecodeAMRToC(encoded)
	assert.Equal(t, len(entries), consumed)
	require.Len(t, decoded, len(entries))
	for i, e := range entries {
		assert.Equal(t, e.FrameType, decoded[i].FrameType)
		assert.Equal(t, e.Quality, decoded[i].Quality)
	}
}

func TestAMRToCFollowBitStopsOnLastEntry(t *testing.T) {
	encoded := EncodeAMRToC([]AMRToC{{FrameType: 1}, {FrameType: 2}})
	assert.NotZero(t, encoded[0]&0x80, "non-final entry must set the follow bit")
	assert.Zero(t, encoded[1]&0x80, "final entry must clear the follow bit")
}

func TestCMRRoundTrip(t *testing.T) {
	for mode := uint8(0); mode <= 8; mode++ {
		assert.Equal(t, mode, DecodeCMR(EncodeCMR(mode)))
	}
}

func TestNoCMRReservedValueRoundTrips(t *testing.T) {
	assert.Equal(t, NoCMR, DecodeCMR(EncodeCMR(NoCMR)))
	assert.Equal(t, byte(0xFF), EncodeCMR(NoCMR))
}
