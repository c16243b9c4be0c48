package graph

import (
	"sync"

	"github.com/arzzra/imscore/pkg/errs"
	"github.com/arzzra/imscore/pkg/logging"
)

// Direction identifies which of a session's three graphs this is (spec
// §2/§3).
type Direction int

const (
	DirRtpTx Direction = iota
	DirRtpRx
	DirRtcp
)

func (d Direction) String() string {
	switch d {
	case DirRtpTx:
		return "RtpTx"
	case DirRtpRx:
		return "RtpRx"
	case DirRtcp:
		return "Rtcp"
	default:
		return "Unknown"
	}
}

// State is the StreamGraph lifecycle state machine (spec §4.2):
// Idle -> Created -> (WaitSurface for video Rx only) -> Running -> Created -> Idle.
type State int

const (
	StateIdle State = iota
	StateCreated
	StateWaitSurface
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCreated:
		return "Created"
	case StateWaitSurface:
		return "WaitSurface"
	case StateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// EventSink receives StateChanged notifications from a graph, the
// callback-handle mechanism spec §9 describes in place of nodes calling
// back across graphs directly.
type EventSink interface {
	OnGraphStateChanged(dir Direction, state State)
}

// Builder constructs the node list for one direction/media combination
// from a config, in leaves-first dependency order (spec §2). Supplied by
// pkg/session, which knows the concrete pkg/nodes types; graph itself
// stays free of a dependency on pkg/nodes so the scheduling/lifecycle
// logic can be tested without real sockets or codecs.
type Builder func(config any) ([]Node, error)

// StreamGraph owns, wires, and life-cycles one direction's node set
// (spec §4.2).
type StreamGraph struct {
	dir     Direction
	log     logging.Logger
	sched   *StreamScheduler
	sink    EventSink
	builder Builder

	mu        sync.Mutex
	state     State
	toStart   []Node
	started   []Node
	config    any
	hasConfig bool
	needsSurface bool
}

// NewStreamGraph constructs an idle graph for one direction.
func NewStreamGraph(dir Direction, builder Builder, sink EventSink, log logging.Logger) *StreamGraph {
	if log == nil {
		log = logging.Nop()
	}
	g := &StreamGraph{dir: dir, builder: builder, sink: sink, log: log}
	g.sched = NewStreamScheduler(log.With("component", "scheduler", "direction", dir.String()))
	return g
}

func (g *StreamGraph) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *StreamGraph) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
	if g.sink != nil {
		g.sink.OnGraphStateChanged(g.dir, s)
	}
}

// Create builds the node list from the config and transitions Idle ->
// Created. Nodes are placed in `to-start`, matching the invariant that
// every to-start node is Stopped.
func (g *StreamGraph) Create(config any) error {
	g.mu.Lock()
	if g.state != StateIdle {
		g.mu.Unlock()
		return errs.New(errs.NotReady, "graph.Create", "graph is not Idle")
	}
	g.mu.Unlock()

	nodes, err := g.builder(config)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.toStart = nodes
	g.started = nil
	g.config = config
	g.hasConfig = true
	g.mu.Unlock()

	g.setState(StateCreated)
	return nil
}

// SetNeedsSurface marks this graph (video Rx only) as requiring an opaque
// surface handle before Start can reach Running; Start will land in
// WaitSurface instead until ProvideSurface is called.
func (g *StreamGraph) SetNeedsSurface(needs bool) {
	g.mu.Lock()
	g.needsSurface = needs
	g.mu.Unlock()
}

// ProvideSurface clears the WaitSurface gate and, if Start was already
// requested, completes the transition to Running.
func (g *StreamGraph) ProvideSurface() error {
	g.mu.Lock()
	g.needsSurface = false
	waiting := g.state == StateWaitSurface
	g.mu.Unlock()
	if waiting {
		return g.doStart()
	}
	return nil
}

// Start starts nodes in insertion order, registering each non-runtime
// node with the scheduler and moving it from to-start to started. On any
// node's Start failure, previously started nodes in this call are stopped
// in reverse order before the error is returned (spec §4.2, §5).
func (g *StreamGraph) Start() error {
	g.mu.Lock()
	if g.state != StateCreated {
		g.mu.Unlock()
		return errs.New(errs.NotReady, "graph.Start", "graph is not Created")
	}
	if g.needsSurface {
		g.state = StateWaitSurface
		g.mu.Unlock()
		g.setState(StateWaitSurface)
		return nil
	}
	g.mu.Unlock()
	return g.doStart()
}

func (g *StreamGraph) doStart() error {
	g.mu.Lock()
	pending := append([]Node(nil), g.toStart...)
	g.mu.Unlock()

	var startedThisCall []Node
	for _, n := range pending {
		res := n.Start()
		if !res.Ok() {
			g.log.Error("node start failed", errs.New(resultKind(res), "graph.Start", n.ID().String()), "node", n.ID().String())
			for i := len(startedThisCall) - 1; i >= 0; i-- {
				startedThisCall[i].Stop()
				if !startedThisCall[i].IsRuntime() {
					g.sched.Deregister(startedThisCall[i])
				}
			}
			return errs.New(resultKind(res), "graph.Start", "node "+n.ID().String()+" failed to start")
		}
		if !n.IsRuntime() {
			g.sched.Register(n)
		}
		startedThisCall = append(startedThisCall, n)
	}

	g.mu.Lock()
	g.started = startedThisCall
	g.toStart = nil
	g.mu.Unlock()

	g.setState(StateRunning)
	return nil
}

func resultKind(r StartResult) errs.Kind {
	switch r {
	case NotReady:
		return errs.NotReady
	case InvalidParam:
		return errs.InvalidParam
	case NoResources:
		return errs.NoResources
	case PortUnavailable:
		return errs.PortUnavailable
	case NotSupported:
		return errs.NotSupported
	default:
		return errs.NoResources
	}
}

func (g *StreamGraph) configSnapshot() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config
}

// Stop stops nodes in reverse order and returns them to to-start,
// transitioning Running -> Created.
func (g *StreamGraph) Stop() {
	g.mu.Lock()
	started := append([]Node(nil), g.started...)
	g.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		n := started[i]
		if !n.IsRuntime() {
			g.sched.Deregister(n)
		}
		n.Stop()
	}

	g.mu.Lock()
	g.toStart = started
	g.started = nil
	g.mu.Unlock()

	g.setState(StateCreated)
}

// Update diffs the new config against the cached one; if equal, it is a
// no-op success. Otherwise it stops the scheduler, calls UpdateConfig on
// every started node, and restarts.
func (g *StreamGraph) Update(config any, equal func(a, b any) bool) error {
	g.mu.Lock()
	cached := g.config
	started := append([]Node(nil), g.started...)
	g.mu.Unlock()

	if equal != nil && g.hasConfig && equal(cached, config) {
		return nil
	}

	// Stop only parks the worker goroutine; it does not forget which nodes
	// are registered (Deregister does that, and these nodes are staying
	// put), so resuming after the config swap is a plain Start rather than
	// a second Register pass — re-registering here would duplicate every
	// node's scheduler entry and double its Process cadence.
	g.sched.Stop()
	for _, n := range started {
		res := n.UpdateConfig(config)
		if !res.Ok() {
			return errs.New(resultKind(res), "graph.Update", "node "+n.ID().String()+" failed to update")
		}
	}
	g.mu.Lock()
	g.config = config
	g.mu.Unlock()

	for _, n := range started {
		if !n.IsRuntime() {
			g.sched.Start()
			break
		}
	}
	return nil
}

// Nodes returns the currently started node list (read-only use by the
// session, e.g. to forward SetMediaQualityThreshold to the RTP/RTCP
// decoder only).
func (g *StreamGraph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Node(nil), g.started...)
}
