// Package invoke implements the Invocation Engine (§4.8): it chooses a
// target peer for a call, serializes and enqueues the request, and awaits
// (or times out) the matching response.
package invoke

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/myelnet/meshrpc/catalogue"
	"github.com/myelnet/meshrpc/pool"
	"github.com/myelnet/meshrpc/wire"
)

// QueueDepther is the subset of *pool.Pool the engine needs for peer
// selection and enqueueing, named narrowly to keep the dependency explicit.
type QueueDepther interface {
	QueueDepth(peer string) int
	Enqueue(peer string, body []byte) bool
	HasPeer(peer string) bool
}

var _ QueueDepther = (*pool.Pool)(nil)

type pendingQuery struct {
	target string
	done   chan *wire.Response
}

// Engine is one Runtime's Invocation Engine.
type Engine struct {
	catalogue *catalogue.Catalogue
	pool      QueueDepther
	timeout   time.Duration // -1 disables

	rootMu sync.RWMutex
	roots  map[string]struct{}

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*pendingQuery

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds an Invocation Engine. timeout is the global per-call timeout
// in milliseconds semantics translated to a time.Duration; pass a negative
// duration to disable it (§6.6).
func New(cat *catalogue.Catalogue, p QueueDepther, timeout time.Duration) *Engine {
	return &Engine{
		catalogue: cat,
		pool:      p,
		timeout:   timeout,
		roots:     make(map[string]struct{}),
		pending:   make(map[uuid.UUID]*pendingQuery),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddRoot marks peer as a fallback route for services with no catalogue
// entry (§6.6 "is_root").
func (e *Engine) AddRoot(peer string) {
	e.rootMu.Lock()
	defer e.rootMu.Unlock()
	e.roots[peer] = struct{}{}
}

// RemoveRoot drops peer from the root-peer set (§4.10 "Disconnect path").
func (e *Engine) RemoveRoot(peer string) {
	e.rootMu.Lock()
	defer e.rootMu.Unlock()
	delete(e.roots, peer)
}

func (e *Engine) rootPeers() []string {
	e.rootMu.RLock()
	defer e.rootMu.RUnlock()
	out := make([]string, 0, len(e.roots))
	for p := range e.roots {
		out = append(out, p)
	}
	return out
}

// ParseProcedure splits "service.method" (§4.8 step 1). Malformed input —
// missing either half, or a method name that itself contains a dot, as in
// "x.y.z" — is rejected as BadProcedure (§8 boundaries).
func ParseProcedure(procedure string) (service, method string, err error) {
	parts := strings.SplitN(procedure, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], ".") {
		return "", "", wire.NewError(wire.KindBadProcedure, "malformed procedure %q", procedure)
	}
	return parts[0], parts[1], nil
}

// Call runs §4.8 end to end: route, enqueue, await, translate the result.
func (e *Engine) Call(ctx context.Context, scopeID *uuid.UUID, procedure string, args []byte) ([]byte, error) {
	service, _, err := ParseProcedure(procedure)
	if err != nil {
		return nil, err
	}

	target, err := e.choosePeer(service)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	pq := &pendingQuery{target: target, done: make(chan *wire.Response, 1)}
	e.pendingMu.Lock()
	e.pending[id] = pq
	e.pendingMu.Unlock()

	req := &wire.Request{ID: id, ScopeID: scopeID, Procedure: procedure, Args: args}
	body, err := wire.EncodeTransaction(&wire.Transaction{Request: req})
	if err != nil {
		e.forget(id)
		return nil, err
	}
	if !e.pool.Enqueue(target, body) {
		e.forget(id)
		return nil, wire.NewError(wire.KindPeerDisconnected, "peer %q has no open queue", target)
	}

	return e.await(ctx, id, pq)
}

func (e *Engine) await(ctx context.Context, id uuid.UUID, pq *pendingQuery) ([]byte, error) {
	var timeoutCh <-chan time.Time
	if e.timeout >= 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-pq.done:
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Result, nil
	case <-timeoutCh:
		e.forget(id)
		return nil, wire.NewError(wire.KindTimeout, "call %s timed out", id)
	case <-ctx.Done():
		e.forget(id)
		return nil, ctx.Err()
	}
}

func (e *Engine) forget(id uuid.UUID) {
	e.pendingMu.Lock()
	delete(e.pending, id)
	e.pendingMu.Unlock()
}

// choosePeer implements §4.8 step 2-3: catalogue lookup, root fallback,
// and minimum-queue-depth selection with uniform tie-break.
func (e *Engine) choosePeer(service string) (string, error) {
	candidates := e.catalogue.Lookup(service)
	if len(candidates) == 0 {
		candidates = e.rootPeers()
	}
	if len(candidates) == 0 {
		return "", wire.NewError(wire.KindNoRoute, "no peer hosts %q and no root fallback", service)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	best := candidates[:0:0]
	bestDepth := int(^uint(0) >> 1) // max int
	for _, c := range candidates {
		d := e.pool.QueueDepth(c)
		if d < 0 {
			continue
		}
		switch {
		case d < bestDepth:
			bestDepth = d
			best = []string{c}
		case d == bestDepth:
			best = append(best, c)
		}
	}
	if len(best) == 0 {
		return "", wire.NewError(wire.KindNoRoute, "no reachable peer hosts %q", service)
	}
	if len(best) == 1 {
		return best[0], nil
	}
	e.rngMu.Lock()
	idx := e.rng.Intn(len(best))
	e.rngMu.Unlock()
	return best[idx], nil
}

// Complete delivers a response frame to its matching pending query; it is
// the pool.ResponseSink implementation.
func (e *Engine) Complete(resp *wire.Response) {
	e.pendingMu.Lock()
	pq, ok := e.pending[resp.ID]
	if ok {
		delete(e.pending, resp.ID)
	}
	e.pendingMu.Unlock()
	if !ok {
		log.Debug().Str("id", resp.ID.String()).Msg("invoke: response for unknown or expired request")
		return
	}
	pq.done <- resp
}

// FailPeer cancels every pending query targeted at peer with kind
// (§3 "Lifecycles", §5 "Cancellation and timeout"): used for
// PeerDisconnected on disconnect and Shutdown on process exit.
func (e *Engine) FailPeer(peer string, kind wire.Kind, message string) {
	e.pendingMu.Lock()
	var matched []*pendingQuery
	for id, pq := range e.pending {
		if peer == "" || pq.target == peer {
			matched = append(matched, pq)
			delete(e.pending, id)
		}
	}
	e.pendingMu.Unlock()

	for _, pq := range matched {
		pq.done <- &wire.Response{Err: wire.NewError(kind, message)}
	}
}

// Shutdown fails every pending query with Shutdown (§4.10 "Process exit").
func (e *Engine) Shutdown() {
	e.FailPeer("", wire.KindShutdown, "runtime shutting down")
}
