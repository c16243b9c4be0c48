package graph

import "sync"

// Base is embedded by every concrete node in pkg/nodes. It implements the
// queue/state/front-rear plumbing shared by all node kinds so each
// concrete node only has to implement Process, Start's real work, and the
// config methods — mirroring how the original source's BaseNode carries
// the common machinery and concrete nodes override only the virtuals that
// differ.
type Base struct {
	id    NodeID
	media MediaType

	mu    sync.Mutex
	state NodeState
	queue []*DataEntry

	// next is the downstream node this node forwards entries to, set by
	// StreamGraph when wiring the pipeline. nil for sink nodes.
	next Node
}

// NewBase constructs the shared node plumbing for a concrete node kind.
func NewBase(id NodeID, media MediaType) Base {
	return Base{id: id, media: media, state: NodeStopped}
}

func (b *Base) ID() NodeID       { return b.id }
func (b *Base) Media() MediaType { return b.media }

func (b *Base) State() NodeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetRunning and SetStopped are called by the concrete node's Start/Stop
// once their own setup/teardown succeeds.
func (b *Base) SetRunning() {
	b.mu.Lock()
	b.state = NodeRunning
	b.mu.Unlock()
}

func (b *Base) SetStopped() {
	b.mu.Lock()
	b.state = NodeStopped
	b.queue = nil
	b.mu.Unlock()
}

// SetNext wires this node's downstream neighbour. Graph edges are owned
// by the StreamGraph's node list; this is just the forwarding reference
// used at runtime (spec §9: "model edges as index pairs... avoid cyclic
// ownership").
func (b *Base) SetNext(n Node) { b.next = n }
func (b *Base) Next() Node     { return b.next }

// Enqueue appends an entry to the input queue. A Stopped node never
// forwards data, so concrete nodes must not call Enqueue once Stopped;
// Base enforces that invariant here centrally.
func (b *Base) Enqueue(e *DataEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != NodeRunning {
		return
	}
	b.queue = append(b.queue, e)
}

// Dequeue pops the oldest queued entry, or nil if empty.
func (b *Base) Dequeue() *DataEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	e := b.queue[0]
	b.queue = b.queue[1:]
	return e
}

func (b *Base) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Forward delivers an entry to the downstream node, if wired.
func (b *Base) Forward(e *DataEntry) {
	if b.next != nil {
		b.next.OnDataFromFrontNode(e)
	}
}
