package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/myelnet/meshrpc/dispatch"
	"github.com/myelnet/meshrpc/lifecycle"
)

// Stats is the added observability surface (§9 "a small stats/events
// surface, for operators, is worth the added code even though the
// distilled spec does not call for one"). It aggregates the Inbound
// Dispatcher's per-call events and the Lifecycle Manager's connection
// events into running counters any CLI or monitoring hook can poll.
type Stats struct {
	inboundTotal     int64
	inboundErrors    int64
	inboundForwarded int64

	disconnects     int64
	reconnectFailed int64

	mu        sync.Mutex
	lastEvent time.Time
}

// NewStats builds an empty Stats aggregator.
func NewStats() *Stats {
	return &Stats{}
}

// OnDispatchEvent is a dispatch.Dispatcher onEvent hook.
func (s *Stats) OnDispatchEvent(ev dispatch.Event) {
	atomic.AddInt64(&s.inboundTotal, 1)
	if ev.Err {
		atomic.AddInt64(&s.inboundErrors, 1)
	}
	if ev.Forwarded {
		atomic.AddInt64(&s.inboundForwarded, 1)
	}
	s.touch()
}

// OnLifecycleEvent is a lifecycle.Manager onEvent hook.
func (s *Stats) OnLifecycleEvent(ev lifecycle.Event) {
	switch ev.Name {
	case lifecycle.EventDisconnected:
		atomic.AddInt64(&s.disconnects, 1)
	case lifecycle.EventReconnectFailed:
		atomic.AddInt64(&s.reconnectFailed, 1)
	}
	s.touch()
}

func (s *Stats) touch() {
	s.mu.Lock()
	s.lastEvent = time.Now()
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the running counters.
type Snapshot struct {
	InboundTotal     int64
	InboundErrors    int64
	InboundForwarded int64
	Disconnects      int64
	ReconnectFailed  int64
	LastEvent        time.Time
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	last := s.lastEvent
	s.mu.Unlock()
	return Snapshot{
		InboundTotal:     atomic.LoadInt64(&s.inboundTotal),
		InboundErrors:    atomic.LoadInt64(&s.inboundErrors),
		InboundForwarded: atomic.LoadInt64(&s.inboundForwarded),
		Disconnects:      atomic.LoadInt64(&s.disconnects),
		ReconnectFailed:  atomic.LoadInt64(&s.reconnectFailed),
		LastEvent:        last,
	}
}
