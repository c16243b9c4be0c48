package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode is a minimal Node implementation for exercising StreamGraph
// lifecycle transitions without any real socket/codec machinery.
type fakeNode struct {
	Base

	mu         sync.Mutex
	startRes   StartResult
	startCalls int
	stopCalls  int
	cfg        any
	runtime    bool
	source     bool
}

func newFakeNode(id NodeID) *fakeNode {
	return &fakeNode{Base: NewBase(id, MediaAudio), startRes: Success}
}

func (n *fakeNode) IsRuntime() bool { return n.runtime }
func (n *fakeNode) IsSource() bool  { return n.source }
func (n *fakeNode) SetConfig(cfg any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
}
func (n *fakeNode) IsSameConfig(cfg any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg == cfg
}
func (n *fakeNode) UpdateConfig(cfg any) StartResult {
	n.SetConfig(cfg)
	return Success
}
func (n *fakeNode) Start() StartResult {
	n.mu.Lock()
	n.startCalls++
	res := n.startRes
	n.mu.Unlock()
	if res == Success {
		n.SetRunning()
	}
	return res
}
func (n *fakeNode) Stop() {
	n.mu.Lock()
	n.stopCalls++
	n.mu.Unlock()
	n.SetStopped()
}
func (n *fakeNode) Process() bool                        { return false }
func (n *fakeNode) OnDataFromFrontNode(entry *DataEntry) { n.Enqueue(entry) }

func (n *fakeNode) startCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startCalls
}
func (n *fakeNode) stopCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stopCalls
}

type noopSink struct{}

func (noopSink) OnGraphStateChanged(dir Direction, state State) {}

func TestStreamGraphCreateStartStopLifecycle(t *testing.T) {
	a := newFakeNode(NodeSocketReader)
	b := newFakeNode(NodeAudioPlayer)

	g := NewStreamGraph(DirRtpRx, func(config any) ([]Node, error) {
		return []Node{a, b}, nil
	}, noopSink{}, nil)

	assert.Equal(t, StateIdle, g.State())

	require.NoError(t, g.Create(nil))
	assert.Equal(t, StateCreated, g.State())

	require.NoError(t, g.Start())
	assert.Equal(t, StateRunning, g.State())
	assert.Equal(t, 1, a.startCount())
	assert.Equal(t, 1, b.startCount())
	assert.Equal(t, NodeRunning, a.State())

	g.Stop()
	assert.Equal(t, StateCreated, g.State())
	assert.Equal(t, 1, a.stopCount())
	assert.Equal(t, 1, b.stopCount())
	assert.Equal(t, NodeStopped, a.State())
}

func TestStreamGraphStartFailureRollsBackPreviouslyStartedNodes(t *testing.T) {
	a := newFakeNode(NodeSocketReader)
	b := newFakeNode(NodeAudioPlayer)
	b.startRes = InvalidParam

	g := NewStreamGraph(DirRtpTx, func(config any) ([]Node, error) {
		return []Node{a, b}, nil
	}, noopSink{}, nil)

	require.NoError(t, g.Create(nil))
	err := g.Start()
	require.Error(t, err)

	assert.Equal(t, 1, a.startCount())
	assert.Equal(t, 1, a.stopCount(), "a must be rolled back since b failed")
	assert.Equal(t, StateCreated, g.State())
}

func TestStreamGraphCreateRequiresIdleState(t *testing.T) {
	a := newFakeNode(NodeSocketReader)
	g := NewStreamGraph(DirRtpTx, func(config any) ([]Node, error) {
		return []Node{a}, nil
	}, noopSink{}, nil)

	require.NoError(t, g.Create(nil))
	err := g.Create(nil)
	assert.Error(t, err)
}

func TestStreamGraphStartRequiresCreatedState(t *testing.T) {
	g := NewStreamGraph(DirRtpTx, func(config any) ([]Node, error) {
		return nil, nil
	}, noopSink{}, nil)

	err := g.Start()
	assert.Error(t, err)
}

func TestStreamGraphNeedsSurfaceParksInWaitSurface(t *testing.T) {
	a := newFakeNode(NodeVideoRenderer)
	g := NewStreamGraph(DirRtpRx, func(config any) ([]Node, error) {
		return []Node{a}, nil
	}, noopSink{}, nil)

	require.NoError(t, g.Create(nil))
	g.SetNeedsSurface(true)
	require.NoError(t, g.Start())

	assert.Equal(t, StateWaitSurface, g.State())
	assert.Equal(t, 0, a.startCount(), "node must not start until the surface is provided")

	require.NoError(t, g.ProvideSurface())
	assert.Equal(t, StateRunning, g.State())
	assert.Equal(t, 1, a.startCount())
}

func TestStreamGraphUpdateSkipsRestartWhenConfigEqual(t *testing.T) {
	a := newFakeNode(NodeSocketReader)
	g := NewStreamGraph(DirRtpTx, func(config any) ([]Node, error) {
		return []Node{a}, nil
	}, noopSink{}, nil)

	require.NoError(t, g.Create("cfg-v1"))
	require.NoError(t, g.Start())

	err := g.Update("cfg-v1", func(x, y any) bool { return x == y })
	require.NoError(t, err)
	assert.Equal(t, 0, a.stopCount(), "equal config must not touch the node at all")
}

func TestStreamGraphUpdateAppliesNewConfigToStartedNodes(t *testing.T) {
	a := newFakeNode(NodeSocketReader)
	g := NewStreamGraph(DirRtpTx, func(config any) ([]Node, error) {
		return []Node{a}, nil
	}, noopSink{}, nil)

	require.NoError(t, g.Create("cfg-v1"))
	require.NoError(t, g.Start())

	err := g.Update("cfg-v2", func(x, y any) bool { return x == y })
	require.NoError(t, err)
	assert.Equal(t, "cfg-v2", a.cfg)
}

// TestStreamGraphUpdateDoesNotDuplicateSchedulerRegistration guards
// against re-registering a node the scheduler already knows about: Update
// only parks the worker goroutine around the config swap, it doesn't
// forget the node, so resuming must not register it a second time.
func TestStreamGraphUpdateDoesNotDuplicateSchedulerRegistration(t *testing.T) {
	a := newFakeNode(NodeSocketReader)
	g := NewStreamGraph(DirRtpTx, func(config any) ([]Node, error) {
		return []Node{a}, nil
	}, noopSink{}, nil)

	require.NoError(t, g.Create("cfg-v1"))
	require.NoError(t, g.Start())
	require.Len(t, g.sched.workers, 1)

	require.NoError(t, g.Update("cfg-v2", func(x, y any) bool { return x == y }))
	assert.Len(t, g.sched.workers, 1, "Update must not duplicate the node's scheduler entry")

	require.NoError(t, g.Update("cfg-v3", func(x, y any) bool { return x == y }))
	assert.Len(t, g.sched.workers, 1, "a second Update must still leave exactly one entry")
}

func TestNodeIDStringUnknownOutOfRange(t *testing.T) {
	assert.Equal(t, "Unknown", NodeID(999).String())
	assert.Equal(t, "SocketReader", NodeSocketReader.String())
}

func TestDirectionAndStateString(t *testing.T) {
	assert.Equal(t, "RtpTx", DirRtpTx.String())
	assert.Equal(t, "Unknown", Direction(99).String())
	assert.Equal(t, "WaitSurface", StateWaitSurface.String())
}
