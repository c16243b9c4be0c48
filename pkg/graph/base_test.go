package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseEnqueueDropsWhenNotRunning(t *testing.T) {
	b := NewBase(NodeSocketReader, MediaAudio)
	b.Enqueue(&DataEntry{})
	assert.Zero(t, b.QueueLen(), "a stopped node must not accept queued entries")

	b.SetRunning()
	b.Enqueue(&DataEntry{Payload: []byte("x")})
	assert.Equal(t, 1, b.QueueLen())
}

func TestBaseDequeueIsFIFO(t *testing.T) {
	b := NewBase(NodeSocketReader, MediaAudio)
	b.SetRunning()
	b.Enqueue(&DataEntry{Payload: []byte("first")})
	b.Enqueue(&DataEntry{Payload: []byte("second")})

	first := b.Dequeue()
	assert.Equal(t, []byte("first"), first.Payload)
	second := b.Dequeue()
	assert.Equal(t, []byte("second"), second.Payload)
	assert.Nil(t, b.Dequeue())
}

func TestBaseSetStoppedClearsQueue(t *testing.T) {
	b := NewBase(NodeSocketReader, MediaAudio)
	b.SetRunning()
	b.Enqueue(&DataEntry{})
	b.SetStopped()
	assert.Zero(t, b.QueueLen())
	assert.Equal(t, NodeStopped, b.State())
}

func TestBaseForwardNoopWithoutNext(t *testing.T) {
	b := NewBase(NodeSocketReader, MediaAudio)
	assert.NotPanics(t, func() { b.Forward(&DataEntry{}) })
}

func TestBaseForwardDeliversToNext(t *testing.T) {
	b := NewBase(NodeSocketReader, MediaAudio)
	sink := newFakeNode(NodeAudioPlayer)
	sink.SetRunning()
	b.SetNext(sink)
	assert.Equal(t, Node(sink), b.Next())

	// fakeNode's OnDataFromFrontNode enqueues, so the forwarded entry must
	// land on the sink's input queue.
	assert.NotPanics(t, func() { b.Forward(&DataEntry{Payload: []byte("hi")}) })
	assert.Equal(t, 1, sink.QueueLen())
	assert.Equal(t, []byte("hi"), sink.Dequeue().Payload)
}
