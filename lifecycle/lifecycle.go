// Package lifecycle implements the Lifecycle Manager (§4.10): the four
// transitions every peer connection goes through — accept, connect,
// disconnect, and process exit — wiring the Secure Channel, Connection
// Pool, Service Catalogue, trusted Key Store, and Invocation Engine
// together at each one.
package lifecycle

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/myelnet/meshrpc/catalogue"
	"github.com/myelnet/meshrpc/channel"
	"github.com/myelnet/meshrpc/invoke"
	"github.com/myelnet/meshrpc/pool"
	"github.com/myelnet/meshrpc/security"
	"github.com/myelnet/meshrpc/wire"
)

// Event names mirror the observability events §4.10/§7 call for.
const (
	EventDisconnected    = "disconnected"
	EventReconnectFailed = "reconnect_failed"
)

// Event is one Lifecycle Manager observability record.
type Event struct {
	Name string
	Peer string
	Err  error
}

// Manager owns every peer's connection lifecycle. It implements
// pool.Teardown so the Connection Pool can notify it directly when a
// peer's entry is torn down after one of its channels fails.
type Manager struct {
	handshaker *security.Handshaker
	keys       *security.KeyStore
	catalogue  *catalogue.Catalogue
	pool       *pool.Pool
	engine     *invoke.Engine

	reconnectDelay time.Duration
	localServices  func() []string
	onEvent        func(Event)
}

// New builds a Manager. localServices returns the names hosted locally at
// the time a catalogue frame is sent (§6.3); onEvent may be nil.
func New(
	handshaker *security.Handshaker,
	keys *security.KeyStore,
	cat *catalogue.Catalogue,
	p *pool.Pool,
	engine *invoke.Engine,
	reconnectDelay time.Duration,
	localServices func() []string,
	onEvent func(Event),
) *Manager {
	return &Manager{
		handshaker:     handshaker,
		keys:           keys,
		catalogue:      cat,
		pool:           p,
		engine:         engine,
		reconnectDelay: reconnectDelay,
		localServices:  localServices,
		onEvent:        onEvent,
	}
}

// Accept runs the accept path (§4.10) over a freshly-accepted socket: run
// the handshake as acceptor, send the local catalogue, and spawn the
// channel's forward worker via the pool.
func (m *Manager) Accept(conn net.Conn) error {
	outcome, err := m.handshaker.Accept(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("lifecycle: accept handshake: %w", err)
	}

	ch := channel.New(conn, outcome.Seed, false, false, nil, m.reconnectDelay, channel.Events{
		OnReverted: func() { log.Debug().Str("peer", outcome.PeerName).Msg("lifecycle: channel reverted") },
	})

	if err := m.sendCatalogue(ch); err != nil {
		_ = ch.Close()
		return fmt.Errorf("lifecycle: send catalogue: %w", err)
	}

	m.pool.Attach(outcome.PeerName, ch)
	return nil
}

// Catalogue implements pool.CatalogueSink: once an acceptor-originated
// channel is reverted by its peer and the peer sends its own catalogue
// over it (§4.10 "If the peer subsequently reverts the channel and then
// sends its own catalogue..."), the Connection Pool's own inbound worker
// — already draining that channel — decodes the frame and hands it here,
// rather than this Manager opening a second, competing read on the same
// channel.
func (m *Manager) Catalogue(peer string, cat *wire.Catalogue) {
	m.mergeCatalogue(peer, cat)
}

// ConnectOptions describes one peer to connect to and how many channels to
// open against it.
type ConnectOptions struct {
	Dial            func(ctx context.Context) (net.Conn, error)
	AcceptorKey     security.PublicKey
	PeerName        string
	Connections     int // forward channels to open, minimum 1
	ReverseChannels int // additional reversed channels to open
}

// Connect runs the connect path (§4.10): open the transport, handshake as
// initiator, read the peer catalogue, register it, and optionally open
// reverse channels.
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) error {
	if opts.Connections < 1 {
		opts.Connections = 1
	}

	dial := func(ctx context.Context) (net.Conn, []byte, error) {
		conn, err := opts.Dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		outcome, err := m.handshaker.Initiate(conn, opts.AcceptorKey)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return conn, outcome.Seed, nil
	}

	for i := 0; i < opts.Connections; i++ {
		conn, seed, err := dial(ctx)
		if err != nil {
			return fmt.Errorf("lifecycle: connect handshake: %w", err)
		}
		ch := channel.New(conn, seed, true, true, dial, m.reconnectDelay, channel.Events{
			OnReconnectFailed: func(err error) { m.emit(Event{Name: EventReconnectFailed, Peer: opts.PeerName, Err: err}) },
		})

		if i == 0 {
			body, err := ch.Receive()
			if err != nil {
				_ = ch.Close()
				return fmt.Errorf("lifecycle: read peer catalogue: %w", err)
			}
			cat, err := wire.DecodeCatalogue(body)
			if err != nil {
				_ = ch.Close()
				return fmt.Errorf("lifecycle: decode peer catalogue: %w", err)
			}
			m.mergeCatalogue(opts.PeerName, cat)
		}

		m.pool.Attach(opts.PeerName, ch)
	}

	for i := 0; i < opts.ReverseChannels; i++ {
		conn, seed, err := dial(ctx)
		if err != nil {
			return fmt.Errorf("lifecycle: reverse channel handshake: %w", err)
		}
		ch := channel.New(conn, seed, true, true, dial, m.reconnectDelay, channel.Events{})

		// The acceptor on the other end runs its ordinary Accept path
		// regardless of why this socket was opened, which sends its
		// catalogue before attaching. That write must be drained here,
		// before this side also writes (reversal signal + catalogue) and
		// attaches — otherwise both ends sit in Send waiting for a
		// reader that only starts after Attach, which only runs after
		// each side's own Send returns.
		body, err := ch.Receive()
		if err != nil {
			_ = ch.Close()
			return fmt.Errorf("lifecycle: read peer catalogue on reversed channel: %w", err)
		}
		cat, err := wire.DecodeCatalogue(body)
		if err != nil {
			_ = ch.Close()
			return fmt.Errorf("lifecycle: decode peer catalogue on reversed channel: %w", err)
		}
		m.mergeCatalogue(opts.PeerName, cat)

		if err := ch.SendReversalSignal(); err != nil {
			_ = ch.Close()
			return fmt.Errorf("lifecycle: send reversal signal: %w", err)
		}
		if err := m.sendCatalogue(ch); err != nil {
			_ = ch.Close()
			return fmt.Errorf("lifecycle: send catalogue on reversed channel: %w", err)
		}
		m.pool.Attach(opts.PeerName, ch)
	}

	return nil
}

func (m *Manager) sendCatalogue(ch *channel.Channel) error {
	cat := &wire.Catalogue{Services: m.localServices()}
	body, err := wire.EncodeCatalogue(cat)
	if err != nil {
		return err
	}
	return ch.Send(body)
}

func (m *Manager) mergeCatalogue(peer string, cat *wire.Catalogue) {
	for _, svc := range cat.Services {
		m.catalogue.Add(svc, peer)
	}
}

// PeerDisconnected implements pool.Teardown: the Connection Pool calls
// this once per peer entry, when any one of the peer's channels terminally
// fails or the entry is removed.
func (m *Manager) PeerDisconnected(peer string) {
	m.disconnect(peer)
}

// Disconnect runs the disconnect path explicitly (e.g. an operator-issued
// "peers remove"). When the pool still tracks peer, removing its entry makes
// the pool call PeerDisconnected (this Manager is wired as the pool's
// Teardown), which runs the disconnect path; otherwise the path runs here
// directly. Either way it runs once for the peer.
func (m *Manager) Disconnect(peer string) {
	if m.pool.HasPeer(peer) {
		m.pool.Remove(peer)
		return
	}
	m.disconnect(peer)
}

func (m *Manager) disconnect(peer string) {
	m.catalogue.RemoveByPeer(peer)
	m.engine.RemoveRoot(peer)
	m.engine.FailPeer(peer, wire.KindPeerDisconnected, fmt.Sprintf("peer %q disconnected", peer))
	m.keys.Remove(peer)
	m.emit(Event{Name: EventDisconnected, Peer: peer})
}

// Shutdown runs the process-exit path (§4.10): every pending query across
// every peer is failed with Shutdown, and every peer's pool entry is torn
// down.
func (m *Manager) Shutdown() {
	m.engine.Shutdown()
	for _, peer := range m.pool.Peers() {
		m.pool.Remove(peer)
	}
}

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
