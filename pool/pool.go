// Package pool implements the Connection Pool (§4.7): per-peer outbound
// queues and the set of forward/reverse Secure Channels attached to them,
// each with a dedicated outbound worker and inbound reader.
package pool

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/myelnet/meshrpc/channel"
	"github.com/myelnet/meshrpc/wire"
)

// Dispatcher handles an inbound request frame read off any channel of a
// peer (§4.9); it is the Inbound Dispatcher in practice, injected here to
// avoid an import cycle between pool and dispatch.
type Dispatcher interface {
	Dispatch(peer string, req *wire.Request) *wire.Response
}

// ResponseSink completes a pending query when a response frame arrives on
// any channel of any peer; it is the Invocation Engine's pending table.
type ResponseSink interface {
	Complete(resp *wire.Response)
}

// Teardown is notified once per peer entry, when any one of the peer's
// channels terminally fails or the entry is removed, so the Lifecycle
// Manager can run its disconnect path (§4.10).
type Teardown interface {
	PeerDisconnected(peer string)
}

// CatalogueSink is notified whenever an inbound frame decodes as a
// Catalogue rather than a Transaction — the shape a channel carries once
// its peer reverts it and announces its services (§4.10 "If the peer
// subsequently reverts the channel and then sends its own catalogue").
// Routing this through the same inbound worker that already drains the
// channel avoids a second, competing reader on the same connection.
type CatalogueSink interface {
	Catalogue(peer string, cat *wire.Catalogue)
}

// PeerEntry is one peer's pool entry (§3 "Connection pool entry"): the
// outbound FIFO and the set of channels draining it.
type PeerEntry struct {
	name string

	mu       sync.Mutex
	channels []*channel.Channel
	queue    *outboundQueue
	down     bool
}

// Pool owns every peer's PeerEntry.
type Pool struct {
	mu         sync.RWMutex
	peers      map[string]*PeerEntry
	dispatcher Dispatcher
	sink       ResponseSink
	teardown   Teardown
	catalogues CatalogueSink
}

// New builds an empty pool. dispatcher, sink, and teardown may be nil and
// wired in afterward with SetDispatcher/SetSink/SetTeardown: the Runtime
// constructs the pool before the Inbound Dispatcher, Invocation Engine,
// and Lifecycle Manager that each depend on it, so the dependency runs in
// the other direction for these three collaborators.
func New(dispatcher Dispatcher, sink ResponseSink, teardown Teardown) *Pool {
	return &Pool{
		peers:      make(map[string]*PeerEntry),
		dispatcher: dispatcher,
		sink:       sink,
		teardown:   teardown,
	}
}

// SetDispatcher wires the Inbound Dispatcher in after construction.
func (p *Pool) SetDispatcher(d Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatcher = d
}

// SetSink wires the Invocation Engine's response sink in after construction.
func (p *Pool) SetSink(s ResponseSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = s
}

// SetTeardown wires the Lifecycle Manager in after construction.
func (p *Pool) SetTeardown(t Teardown) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardown = t
}

// SetCatalogueSink wires the Lifecycle Manager's post-reversal catalogue
// handling in after construction.
func (p *Pool) SetCatalogueSink(c CatalogueSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catalogues = c
}

// Attach registers a new channel for peer, spawning its outbound worker
// and inbound reader. At least one attached channel must be
// request-capable for Enqueue to have anywhere to send (§3).
func (p *Pool) Attach(peer string, ch *channel.Channel) {
	p.mu.Lock()
	e, ok := p.peers[peer]
	if !ok {
		e = &PeerEntry{name: peer, queue: newOutboundQueue()}
		p.peers[peer] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	e.channels = append(e.channels, ch)
	e.mu.Unlock()

	go p.outboundWorker(e, ch)
	go p.inboundWorker(e, ch)
}

// Enqueue pushes an encoded Transaction onto peer's outbound queue,
// non-blocking (§5 "every enqueue onto a per-peer queue ... does not
// block").
func (p *Pool) Enqueue(peer string, body []byte) bool {
	p.mu.RLock()
	e, ok := p.peers[peer]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return e.queue.push(body)
}

// QueueDepth reports the current outbound queue length for peer, used by
// the Invocation Engine's min-queue-depth selection (§4.8 step 3). A
// missing peer reports a depth of -1 so callers can exclude it.
func (p *Pool) QueueDepth(peer string) int {
	p.mu.RLock()
	e, ok := p.peers[peer]
	p.mu.RUnlock()
	if !ok {
		return -1
	}
	return e.queue.len()
}

// HasPeer reports whether the pool currently tracks an entry for peer.
func (p *Pool) HasPeer(peer string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.peers[peer]
	return ok
}

func (p *Pool) outboundWorker(e *PeerEntry, ch *channel.Channel) {
	for {
		body, ok := e.queue.pop()
		if !ok {
			return
		}
		if !ch.CanRequest() {
			// This channel cannot carry requests (e.g. an
			// acceptor-originated channel before reversal); put the
			// item back for another channel to pick up.
			if !e.queue.push(body) {
				return
			}
			continue
		}
		if err := ch.Send(body); err != nil {
			log.Warn().Err(err).Str("peer", e.name).Msg("pool: outbound send failed")
			p.failPeer(e)
			return
		}
	}
}

func (p *Pool) inboundWorker(e *PeerEntry, ch *channel.Channel) {
	for {
		body, err := ch.Receive()
		if err != nil {
			log.Debug().Err(err).Str("peer", e.name).Msg("pool: inbound receive ended")
			p.failPeer(e)
			return
		}
		txn, err := wire.DecodeTransaction(body)
		if err != nil {
			if cat, catErr := wire.DecodeCatalogue(body); catErr == nil {
				p.mu.RLock()
				sink := p.catalogues
				p.mu.RUnlock()
				if sink != nil {
					sink.Catalogue(e.name, cat)
				}
				continue
			}
			log.Warn().Err(err).Str("peer", e.name).Msg("pool: malformed transaction")
			continue
		}
		switch {
		case txn.Request != nil:
			go p.handleRequest(e, ch, txn.Request)
		case txn.Response != nil:
			if p.sink != nil {
				p.sink.Complete(txn.Response)
			}
		}
	}
}

func (p *Pool) handleRequest(e *PeerEntry, ch *channel.Channel, req *wire.Request) {
	if p.dispatcher == nil {
		return
	}
	resp := p.dispatcher.Dispatch(e.name, req)
	if resp == nil {
		return
	}
	out, err := wire.EncodeTransaction(&wire.Transaction{Response: resp})
	if err != nil {
		log.Error().Err(err).Msg("pool: encode response failed")
		return
	}
	if err := ch.Send(out); err != nil {
		log.Warn().Err(err).Str("peer", e.name).Msg("pool: reply send failed")
		p.failPeer(e)
	}
}

// failPeer tears down a peer's entire pool entry once any one of its
// channels terminally fails (§4.7 "On any channel's terminal failure, the
// entire peer entry is torn down").
func (p *Pool) failPeer(e *PeerEntry) {
	e.mu.Lock()
	if e.down {
		e.mu.Unlock()
		return
	}
	e.down = true
	chans := e.channels
	e.mu.Unlock()

	e.queue.close()
	for _, ch := range chans {
		_ = ch.Close()
	}

	p.mu.Lock()
	delete(p.peers, e.name)
	p.mu.Unlock()

	if p.teardown != nil {
		p.teardown.PeerDisconnected(e.name)
	}
}

// Remove tears down peer's entry directly (used by process exit / explicit
// disconnect rather than a channel failure).
func (p *Pool) Remove(peer string) {
	p.mu.RLock()
	e, ok := p.peers[peer]
	p.mu.RUnlock()
	if !ok {
		return
	}
	p.failPeer(e)
}

// Peers returns a snapshot of peer names currently tracked by the pool.
func (p *Pool) Peers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.peers))
	for n := range p.peers {
		out = append(out, n)
	}
	return out
}
