package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jpillora/backoff"
	"github.com/myelnet/meshrpc/wire"
)

// ErrBroken is returned by Send/Receive once a channel has been declared
// broken (decrypt failure, or a transport failure on an acceptor-originated
// channel) and can no longer be used.
var ErrBroken = errors.New("channel: broken")

// Dial reopens the underlying transport and re-runs the handshake after a
// client-originated channel loses its connection (§4.3 "Reconnect"). It
// returns the new net.Conn and the fresh shared seed.
type Dial func(ctx context.Context) (net.Conn, []byte, error)

// Events are the observability hooks a Channel fires; all are optional.
type Events struct {
	OnReverted        func()
	OnReconnectFailed func(err error)
	OnReconnected     func()
}

// Channel is one authenticated, encrypted duplex stream (§4.3). Multiple
// Channels exist per peer; the Connection Pool owns that fan-out.
type Channel struct {
	connMu sync.Mutex
	conn   net.Conn

	sendMu     sync.Mutex
	recvMu     sync.Mutex
	sendRoller *roller
	recvRoller *roller

	canRequest int32 // atomic-ish, guarded by stateMu
	stateMu    sync.Mutex

	isClientOriginated bool
	dial               Dial
	reconnectDelay     time.Duration
	events             Events

	brokenMu sync.Mutex
	broken   bool
}

// New wraps an already-handshaken connection into a Channel.
//
// isInitiator tells the roller construction which directional labels this
// side owns; canRequest is true for the initiator and false for the
// acceptor (§4.3 "Role reversal"); dial is nil for acceptor-originated
// channels, which never self-reconnect.
func New(conn net.Conn, seed []byte, isInitiator, canRequest bool, dial Dial, reconnectDelay time.Duration, ev Events) *Channel {
	c := &Channel{
		conn:               conn,
		isClientOriginated: dial != nil,
		dial:               dial,
		reconnectDelay:     reconnectDelay,
		events:             ev,
	}
	c.setCanRequest(canRequest)
	c.rekey(seed, isInitiator)
	return c
}

func (c *Channel) rekey(seed []byte, isInitiator bool) {
	sendDir, recvDir := directionInitiatorToAcceptor, directionAcceptorToInitiator
	if !isInitiator {
		sendDir, recvDir = directionAcceptorToInitiator, directionInitiatorToAcceptor
	}
	c.sendRoller = newRoller(seed, sendDir)
	c.recvRoller = newRoller(seed, recvDir)
}

// CanRequest reports whether this side of the channel is currently
// request-capable (true for the initiator, or after a role reversal).
func (c *Channel) CanRequest() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.canRequest != 0
}

func (c *Channel) setCanRequest(v bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if v {
		c.canRequest = 1
	} else {
		c.canRequest = 0
	}
}

// Send encrypts and writes one payload frame, drawing the next key from
// the send roller for every frame (§4.3). A failed write either re-keys a
// client-originated channel through reconnect and retries once, or marks
// the channel broken.
func (c *Channel) Send(body []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendLocked(body)
}

func (c *Channel) sendLocked(body []byte) error {
	if c.isBroken() {
		return ErrBroken
	}
	key, nonce, err := c.sendRoller.next()
	if err != nil {
		c.markBroken()
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		c.markBroken()
		return err
	}
	ciphertext := aead.Seal(nil, nonce, body, nil)

	err = wire.WriteFrame(c.currentConn(), ciphertext)
	if err == nil {
		return nil
	}
	if !c.isClientOriginated {
		c.markBroken()
		return err
	}
	if rerr := c.reconnect(); rerr != nil {
		c.markBroken()
		return rerr
	}
	// retry once against the fresh connection/roller.
	key, nonce, err = c.sendRoller.next()
	if err != nil {
		c.markBroken()
		return err
	}
	aead, err = chacha20poly1305.New(key)
	if err != nil {
		c.markBroken()
		return err
	}
	ciphertext = aead.Seal(nil, nonce, body, nil)
	if err := wire.WriteFrame(c.currentConn(), ciphertext); err != nil {
		c.markBroken()
		return err
	}
	return nil
}

// SendReversalSignal sends the single-byte role-reversal sentinel
// (§4.3, §6.1). The peer, once it decrypts it, flips to request-capable.
func (c *Channel) SendReversalSignal() error {
	return c.Send(wire.RoleReversalSignal)
}

// Receive reads and decrypts the next payload frame. Role-reversal frames
// are handled transparently: they update channel state, fire the Reverted
// event, and never surface to the caller.
//
// OnReverted is fired from a fresh goroutine, never from inside the
// recvMu critical section: a caller that re-enters Receive (directly or
// via a component that drains this same Channel) would otherwise deadlock
// trying to re-acquire the non-reentrant recvMu held by this call.
func (c *Channel) Receive() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	for {
		body, err := c.receiveOnceLocked()
		if err != nil {
			return nil, err
		}
		if wire.IsRoleReversal(body) {
			c.setCanRequest(true)
			if c.events.OnReverted != nil {
				go c.events.OnReverted()
			}
			continue
		}
		return body, nil
	}
}

func (c *Channel) receiveOnceLocked() ([]byte, error) {
	if c.isBroken() {
		return nil, ErrBroken
	}
	ciphertext, err := wire.ReadFrame(c.currentConn())
	if err != nil {
		if errors.Is(err, wire.ErrPeerClosed) {
			c.markBroken()
			return nil, err
		}
		if !c.isClientOriginated {
			c.markBroken()
			return nil, err
		}
		if rerr := c.reconnect(); rerr != nil {
			c.markBroken()
			return nil, rerr
		}
		ciphertext, err = wire.ReadFrame(c.currentConn())
		if err != nil {
			c.markBroken()
			return nil, err
		}
	}

	key, nonce, err := c.recvRoller.next()
	if err != nil {
		c.markBroken()
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		c.markBroken()
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// A failed decrypt desynchronizes the two sides permanently
		// (§9 Open Question): the channel is declared broken rather
		// than attempting to resynchronize.
		c.markBroken()
		return nil, fmt.Errorf("channel: decrypt failed, channel desynchronized: %w", err)
	}
	return plain, nil
}

func (c *Channel) isBroken() bool {
	c.brokenMu.Lock()
	defer c.brokenMu.Unlock()
	return c.broken
}

func (c *Channel) markBroken() {
	c.brokenMu.Lock()
	c.broken = true
	c.brokenMu.Unlock()
	_ = c.currentConn().Close()
}

func (c *Channel) currentConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// reconnect re-dials and re-handshakes a client-originated channel,
// resetting the roller (§4.3). It retries indefinitely at reconnectDelay,
// firing OnReconnectFailed per failed attempt, matching §7's "reconnects to
// a configured peer are attempted indefinitely."
func (c *Channel) reconnect() error {
	if c.dial == nil {
		return ErrBroken
	}
	b := &backoff.Backoff{
		Min:    c.reconnectDelay,
		Max:    c.reconnectDelay,
		Factor: 1,
		Jitter: true,
	}
	for {
		conn, seed, err := c.dial(context.Background())
		if err != nil {
			if c.events.OnReconnectFailed != nil {
				c.events.OnReconnectFailed(err)
			}
			time.Sleep(b.Duration())
			continue
		}

		c.connMu.Lock()
		old := c.conn
		c.conn = conn
		c.connMu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		c.rekey(seed, true)
		c.setCanRequest(true)
		c.brokenMu.Lock()
		c.broken = false
		c.brokenMu.Unlock()
		if c.events.OnReconnected != nil {
			c.events.OnReconnected()
		}
		return nil
	}
}

// Close tears down the underlying transport without attempting to
// reconnect (used on graceful peer disconnect and process shutdown).
func (c *Channel) Close() error {
	c.markBroken()
	return nil
}

var _ io.Closer = (*Channel)(nil)
