package graph

import (
	"sync"
	"time"

	"github.com/arzzra/imscore/pkg/logging"
)

// runWaitTimeout is RUN_WAIT_TIMEOUT from spec §4.1: the worker sleeps
// this long when no registered node has queued data.
const runWaitTimeout = 6 * time.Millisecond / 2

// stopWaitTimeout bounds how long Stop waits for the worker to
// acknowledge termination (spec §4.1/§5).
const stopWaitTimeout = 1 * time.Second

// StreamScheduler drives the non-runtime nodes of one graph cooperatively
// on a single worker goroutine, per spec §4.1. Source nodes registered
// with it get one Process call per tick unconditionally; among the
// remaining registered nodes, the one with the greatest queue length is
// run repeatedly until none has queued data, then the worker sleeps.
type StreamScheduler struct {
	log logging.Logger

	mu       sync.Mutex
	sources  []Node // registration order preserved for source nodes
	workers  []Node // registration order preserved for tie-breaking

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewStreamScheduler constructs a scheduler for one graph.
func NewStreamScheduler(log logging.Logger) *StreamScheduler {
	if log == nil {
		log = logging.Nop()
	}
	return &StreamScheduler{log: log}
}

// Register adds a node to the scheduled set. Per §4.2, "a node is
// registered with the scheduler exactly when it is non-runtime" — callers
// (StreamGraph) only call Register for IsRuntime()==false nodes. If the
// worker is not running, registering the first node starts it.
func (s *StreamScheduler) Register(n Node) {
	s.mu.Lock()
	if n.IsSource() {
		s.sources = append(s.sources, n)
	} else {
		s.workers = append(s.workers, n)
	}
	needStart := !s.running
	s.mu.Unlock()

	if needStart {
		s.Start()
	}
}

// Deregister removes a node from the scheduled set. If the set becomes
// empty, the worker is stopped.
func (s *StreamScheduler) Deregister(n Node) {
	s.mu.Lock()
	s.sources = removeNode(s.sources, n)
	s.workers = removeNode(s.workers, n)
	empty := len(s.sources) == 0 && len(s.workers) == 0
	s.mu.Unlock()

	if empty {
		s.Stop()
	}
}

func removeNode(list []Node, target Node) []Node {
	out := list[:0]
	for _, n := range list {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// Start begins the worker goroutine. Idempotent when already running.
func (s *StreamScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.wake = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop requests termination, signals the worker, and waits up to
// stopWaitTimeout for it to acknowledge. Best-effort: if the worker does
// not acknowledge in time, Stop returns anyway and the caller proceeds as
// if the graph were stopped (spec §4.1 failure semantics).
func (s *StreamScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stop
	doneCh := s.done
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(stopWaitTimeout):
		s.log.Warn("scheduler stop timed out; worker did not acknowledge within deadline")
	}
}

// Awake signals the worker condition so it re-evaluates queued work
// immediately instead of waiting out runWaitTimeout.
func (s *StreamScheduler) Awake() {
	s.mu.Lock()
	wake := s.wake
	s.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (s *StreamScheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.runSourcesOnce()
		s.drainBacklog()

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-time.After(runWaitTimeout):
		}
	}
}

// runSourcesOnce invokes every registered source node's Process exactly
// once per tick, so capture keeps moving even when sinks are saturated.
func (s *StreamScheduler) runSourcesOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.sources {
		n.Process()
	}
}

// drainBacklog repeatedly selects the registered non-source node with the
// greatest queue length and runs its Process, until no node has queued
// data or a stop is requested. Ties break by registration order (first
// encountered wins), per spec §4.1.
func (s *StreamScheduler) drainBacklog() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.mu.Lock()
		var best Node
		bestLen := 0
		for _, n := range s.workers {
			if l := n.QueueLen(); l > bestLen {
				bestLen = l
				best = n
			}
		}
		if best == nil {
			s.mu.Unlock()
			return
		}
		best.Process()
		s.mu.Unlock()
	}
}
