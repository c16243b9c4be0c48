package nodes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/imscore/pkg/config"
	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/jitterbuffer"
)

func TestRtpEncoderRequiresClockRate(t *testing.T) {
	enc := NewRtpEncoder(graph.MediaAudio, nil)
	assert.Equal(t, graph.InvalidParam, enc.Start())
}

// TestRtpEncoderEmitsConsecutiveSequenceAndIncreasingTimestamps mirrors
// scenario E1's wire-level expectations: consecutive sequence numbers,
// marker on the first packet, and timestamps advancing by the sample
// count of one frame.
func TestRtpEncoderEmitsConsecutiveSequenceAndIncreasingTimestamps(t *testing.T) {
	enc := NewRtpEncoder(graph.MediaAudio, nil)
	enc.SetConfig(RtpEncoderConfig{SSRC: 0x1234, PayloadType: 96, ClockRateHz: 16000, FrameLen: 20 * time.Millisecond})
	require.Equal(t, graph.Success, enc.Start())

	sink := newCaptureNode()
	enc.SetNext(sink)

	base := time.Now()
	const frames = 50
	for i := 0; i < frames; i++ {
		enc.OnDataFromFrontNode(&graph.DataEntry{
			Payload: make([]byte, 40),
			Marker:  i == 0,
			Arrival: base.Add(time.Duration(i) * 20 * time.Millisecond),
		})
		require.True(t, enc.Process())
	}

	require.Len(t, sink.received, frames)
	assert.True(t, sink.received[0].Marker)
	for i := 1; i < frames; i++ {
		assert.Equal(t, sink.received[i-1].Sequence+1, sink.received[i].Sequence)
		assert.Equal(t, sink.received[i-1].Timestamp+320, sink.received[i].Timestamp, "20ms @ 16kHz = 320 ticks per frame")
		assert.False(t, sink.received[i].Marker)
	}
}

func TestRtpDecoderStartResetsSSRCLock(t *testing.T) {
	dec := NewRtpDecoder(graph.MediaAudio, nil)
	dec.SetConfig(RtpDecoderConfig{Jitter: jitterbuffer.Config{MinFrames: 1, InitialFrames: 1, MaxFrames: 4, FrameDuration: 20 * time.Millisecond, ClockRateHz: 8000}})
	require.Equal(t, graph.Success, dec.Start())
	dec.SetThreshold(config.MediaQualityThreshold{})

	dec.mu.Lock()
	dec.haveSSRC, dec.ssrc = true, 0x1111
	dec.mu.Unlock()
	require.Equal(t, graph.Success, dec.Start())
	dec.mu.Lock()
	locked := dec.haveSSRC
	dec.mu.Unlock()
	assert.False(t, locked, "Start must clear a previously locked SSRC")
}

// TestRtpDecoderInactivityFiresOnceThenResets covers scenario E3: once the
// configured timeout elapses with no RTP packet, OnInactivity fires exactly
// once; a fresh packet clears the latch so a later stall fires again.
func TestRtpDecoderInactivityFiresOnceThenResets(t *testing.T) {
	dec := NewRtpDecoder(graph.MediaAudio, nil)
	dec.SetConfig(RtpDecoderConfig{Jitter: jitterbuffer.Config{MinFrames: 1, InitialFrames: 1, MaxFrames: 4, FrameDuration: 20 * time.Millisecond, ClockRateHz: 8000}})
	require.Equal(t, graph.Success, dec.Start())

	var fired int
	dec.SetInactivityTimeout(50 * time.Millisecond)
	dec.OnInactivity(func(timeout time.Duration) { fired++ })

	base := time.Now()
	dec.mu.Lock()
	dec.lastPacketAt = base.Add(-100 * time.Millisecond)
	dec.mu.Unlock()
	dec.checkInactivity(base)
	assert.Equal(t, 1, fired)

	// Still stale: latch must not re-fire until traffic resets it.
	dec.checkInactivity(base.Add(10 * time.Millisecond))
	assert.Equal(t, 1, fired)

	dec.mu.Lock()
	dec.lastPacketAt = base.Add(10 * time.Millisecond)
	dec.inactive = false
	dec.mu.Unlock()

	dec.checkInactivity(base.Add(10 * time.Millisecond).Add(100 * time.Millisecond))
	assert.Equal(t, 2, fired)
}

// TestRtpEncoderDecoderRoundTrip covers invariant 2: an encoded packet
// decodes back to the same sequence, timestamp, marker and payload.
func TestRtpEncoderDecoderRoundTrip(t *testing.T) {
	enc := NewRtpEncoder(graph.MediaAudio, nil)
	enc.SetConfig(RtpEncoderConfig{SSRC: 0xABCD, PayloadType: 0, ClockRateHz: 8000, FrameLen: 20 * time.Millisecond})
	require.Equal(t, graph.Success, enc.Start())

	wireCapture := newCaptureNode()
	enc.SetNext(wireCapture)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	enc.OnDataFromFrontNode(&graph.DataEntry{Payload: payload, Marker: true, Arrival: time.Now()})
	require.True(t, enc.Process())
	require.Len(t, wireCapture.received, 1)

	dec := NewRtpDecoder(graph.MediaAudio, nil)
	dec.SetConfig(RtpDecoderConfig{Jitter: jitterbuffer.Config{MinFrames: 1, InitialFrames: 1, MaxFrames: 4, FrameDuration: 20 * time.Millisecond, ClockRateHz: 8000}})
	require.Equal(t, graph.Success, dec.Start())

	decCapture := newCaptureNode()
	dec.SetNext(decCapture)

	wire := wireCapture.received[0]
	dec.OnDataFromFrontNode(&graph.DataEntry{Payload: wire.Payload, Arrival: wire.Arrival})
	require.True(t, dec.Process())

	require.Len(t, decCapture.received, 1)
	got := decCapture.received[0]
	assert.Equal(t, wire.Sequence, got.Sequence)
	assert.Equal(t, wire.Timestamp, got.Timestamp)
	assert.True(t, got.Marker)
	assert.Equal(t, payload, got.Payload)
}
