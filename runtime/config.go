// Package runtime assembles one MeshRPC node: it owns the full §6.6
// configuration surface, wires every component package together in
// dependency order, and exposes the Runtime object applications embed.
package runtime

import (
	"time"

	"github.com/myelnet/meshrpc/security"
)

// PeerConfig is one entry of the per-peer configuration surface (§6.6).
type PeerConfig struct {
	FriendlyName     string
	Address          string // host:port of the RPC backchannel to dial
	Connections      int    // 1-255
	TrustedPublicKey security.PublicKey
	SignInURL        string // §6.5 sign-in endpoint, used only to obtain Address
	Token            string
	IsRoot           bool // mark this peer as a fallback route for unknown services

	// ReverseChannels is the number of additional reversed channels to open
	// against this peer (§4.10): each one lets the peer learn this node's
	// catalogue after reverting it, the mechanism a mesh hub depends on to
	// discover a connecting peer's services.
	ReverseChannels int
}

// Config is the full §6.6 configuration surface for one node.
type Config struct {
	ListenAddress string
	ListenPort    int
	Token         string // shared secret; empty disables the token check

	KeyPath string // where my_keys is persisted (§6.6 "generated to disk if absent")

	Peers []PeerConfig

	// RequestTimeout is the global per-call timeout; -1 disables it.
	RequestTimeout time.Duration
	// ReconnectDelay is the interval between indefinite reconnect attempts.
	ReconnectDelay time.Duration

	AllowMesh bool // enable §4.9 step 3 mesh forwarding

	RegistrySweepInterval time.Duration
	RegistryScopeTTL      time.Duration
}

// DefaultReconnectDelay is the §6.6 default reconnect delay.
const DefaultReconnectDelay = 5000 * time.Millisecond

// WithDefaults fills in the zero-value defaults §6.6 specifies, returning
// a copy of c.
func (c Config) WithDefaults() Config {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = -1
	}
	if c.RegistrySweepInterval == 0 {
		c.RegistrySweepInterval = 30 * time.Second
	}
	if c.RegistryScopeTTL == 0 {
		c.RegistryScopeTTL = 10 * time.Minute
	}
	if c.KeyPath == "" {
		c.KeyPath = "meshrpc.key"
	}
	return c
}
