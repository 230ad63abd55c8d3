// Package catalogue implements the Service Catalogue (§4.6): a concurrent
// multimap from service name to the set of peers that host it.
package catalogue

import "sync"

// Catalogue is the concurrent multimap described in §3 "Catalogue entry"
// and §4.6. Entries are added on successful peer catalogue exchange and
// removed in bulk on peer disconnect.
type Catalogue struct {
	mu   sync.RWMutex
	data map[string]map[string]struct{}
}

// New returns an empty catalogue.
func New() *Catalogue {
	return &Catalogue{data: make(map[string]map[string]struct{})}
}

// Add records that peer hosts service.
func (c *Catalogue) Add(service, peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers, ok := c.data[service]
	if !ok {
		peers = make(map[string]struct{})
		c.data[service] = peers
	}
	peers[peer] = struct{}{}
}

// Contains reports whether any peer advertises service.
func (c *Catalogue) Contains(service string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peers, ok := c.data[service]
	return ok && len(peers) > 0
}

// Lookup returns a snapshot of the peers hosting service.
func (c *Catalogue) Lookup(service string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peers := c.data[service]
	out := make([]string, 0, len(peers))
	for p := range peers {
		out = append(out, p)
	}
	return out
}

// RemoveByPeer removes every entry for peer across all services, used on
// peer disconnect (§3 "Lifecycles", §4.10 "Disconnect path").
func (c *Catalogue) RemoveByPeer(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for service, peers := range c.data {
		delete(peers, peer)
		if len(peers) == 0 {
			delete(c.data, service)
		}
	}
}

// Services returns a snapshot of every service name currently advertised
// by at least one peer.
func (c *Catalogue) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for s := range c.data {
		out = append(out, s)
	}
	return out
}
