// Package channel implements the Secure Channel (§4.3): per-frame
// symmetric encryption with deterministic key rolling from a handshake
// seed, half-duplex send/receive locks, role reversal, and client-side
// reconnect.
package channel

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// keyingLabel separates the channel's key schedule from any other HKDF
// consumer that might share the same seed in a future protocol version.
const keyingLabel = "meshrpc/channel/v1"

// roller is the deterministic pseudo-random generator described in §4.3:
// seeded identically on both ends, it yields a sequence of (key, nonce)
// pairs that both sides draw from in lockstep, one pair per frame.
//
// hkdf.New's expansion reader is itself a deterministic byte stream for a
// fixed (secret, salt, info) — reading it further is exactly "advance the
// generator" — so the roller is a thin wrapper that slices that stream
// into chacha20poly1305-sized chunks.
type roller struct {
	expand io.Reader
}

// newRoller derives one directional key stream from the shared seed. Each
// Channel keeps two rollers — one for the frames it sends, one for the
// frames it receives — so that concurrent send and receive (independent
// locks, §4.3) never contend for the same counter. The two peers compute
// mirrored rollers: the initiator's send roller is the acceptor's receive
// roller, and vice versa, by keying on the same directional label.
func newRoller(seed []byte, direction string) *roller {
	return &roller{expand: hkdf.New(sha256.New, seed, nil, []byte(keyingLabel+":"+direction))}
}

const (
	directionInitiatorToAcceptor = "i2a"
	directionAcceptorToInitiator = "a2i"
)

// next draws the next (key, nonce) pair and advances the generator.
func (r *roller) next() (key, nonce []byte, err error) {
	buf := make([]byte, chacha20poly1305.KeySize+chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(r.expand, buf); err != nil {
		return nil, nil, err
	}
	return buf[:chacha20poly1305.KeySize], buf[chacha20poly1305.KeySize:], nil
}
