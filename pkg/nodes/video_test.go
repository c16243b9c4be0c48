package nodes

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/imscore/pkg/graph"
	"github.com/arzzra/imscore/pkg/logging"
)

func TestVideoSourceStartRequiresCaptureSurface(t *testing.T) {
	src := NewVideoSource(logging.Nop())
	assert.Equal(t, graph.InvalidParam, src.Start())
}

type recordingFrameSink struct {
	frames []VideoFrame
}

func (r *recordingFrameSink) RenderFrame(f VideoFrame) { r.frames = append(r.frames, f) }

func TestVideoRendererRequiresSinkToStart(t *testing.T) {
	renderer := NewVideoRenderer(logging.Nop())
	assert.Equal(t, graph.NotReady, renderer.Start())
}

func TestVideoRendererForwardsFrameToSink(t *testing.T) {
	renderer := NewVideoRenderer(logging.Nop())
	sink := &recordingFrameSink{}
	renderer.SetConfig(sink)
	require.Equal(t, graph.Success, renderer.Start())

	renderer.OnDataFromFrontNode(&graph.DataEntry{Payload: []byte{1, 2, 3}, Subtype: graph.SubBitstreamCodecConfig})
	require.True(t, renderer.Process())
	require.Len(t, sink.frames, 1)
	assert.True(t, sink.frames[0].KeyFrame)
}

func TestVideoPayloadEncoderPassesThroughSmallNAL(t *testing.T) {
	enc := NewVideoPayloadEncoder(logging.Nop())
	require.Equal(t, graph.Success, enc.Start())
	sink := newCaptureNode()
	enc.SetNext(sink)

	small := []byte{0x65, 1, 2, 3}
	enc.OnDataFromFrontNode(&graph.DataEntry{Payload: small})
	require.True(t, enc.Process())
	require.Len(t, sink.received, 1)
	assert.Equal(t, small, sink.received[0].Payload)
}

// TestVideoPayloadEncoderDecoderFUARoundTrip covers RFC 6184 fragmentation:
// a NAL unit larger than the MTU is split into FU-A fragments and the
// decoder reassembles the original bytes.
func TestVideoPayloadEncoderDecoderFUARoundTrip(t *testing.T) {
	enc := NewVideoPayloadEncoder(logging.Nop())
	enc.SetConfig(10) // tiny MTU to force fragmentation in the test
	require.Equal(t, graph.Success, enc.Start())

	encSink := newCaptureNode()
	enc.SetNext(encSink)

	nalHeader := byte(0x65) // nri=0b011, type=5 (IDR slice)
	body := bytes.Repeat([]byte{0xAB}, 35)
	nal := append([]byte{nalHeader}, body...)

	enc.OnDataFromFrontNode(&graph.DataEntry{Payload: nal})
	require.True(t, enc.Process())
	require.Greater(t, len(encSink.received), 1, "fragmentation should have produced multiple FU-A packets")

	dec := NewVideoPayloadDecoder(logging.Nop())
	require.Equal(t, graph.Success, dec.Start())
	decSink := newCaptureNode()
	dec.SetNext(decSink)

	for i, frag := range encSink.received {
		dec.OnDataFromFrontNode(frag)
		require.True(t, dec.Process())
		if i < len(encSink.received)-1 {
			assert.Empty(t, decSink.received, "reassembly must not complete before the last fragment")
		}
	}

	require.Len(t, decSink.received, 1)
	assert.Equal(t, nal, decSink.received[0].Payload)
	assert.True(t, decSink.received[0].Marker)
}

func TestVideoPayloadDecoderPassesThroughNonFUAPayload(t *testing.T) {
	dec := NewVideoPayloadDecoder(logging.Nop())
	require.Equal(t, graph.Success, dec.Start())
	sink := newCaptureNode()
	dec.SetNext(sink)

	single := []byte{0x67, 1, 2}
	dec.OnDataFromFrontNode(&graph.DataEntry{Payload: single})
	require.True(t, dec.Process())
	require.Len(t, sink.received, 1)
	assert.Equal(t, single, sink.received[0].Payload)
}
