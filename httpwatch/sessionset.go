package httpwatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akitasoftware/pcaptrack/conntrack"
	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// ErrorFoundFunc is called when a connection's watcher tears down with a
// cause worth surfacing (spec.md §4.7 "Teardown conditions"): malformed
// traffic (an httpproto.ParseError), a segment that does not belong to the
// flow's stream (reassembly.ErrPacketNotPartOfStream), or the per-flow byte
// bound (ErrByteBoundExceeded). c
// identifies which connection the watcher belonged to.
type ErrorFoundFunc func(now time.Time, c *conntrack.Connection, err error)

// SessionSet wires one HttpSessionWatcher per conntrack.Connection, so a
// single conntrack.Manager can drive arbitrarily many simultaneous HTTP
// sessions. It implements conntrack's listener interfaces directly
// (grounded on tcp_conn_tracker.go's "one struct per connection, keyed by
// ID, torn down on close" shape).
type SessionSet struct {
	mu        sync.Mutex
	byteBound int
	watchers  map[uuid.UUID]*HttpSessionWatcher

	onRequest RequestFoundFunc
	onStatus  StatusFoundFunc
	onError   ErrorFoundFunc
}

// NewSessionSet returns a SessionSet ready to be registered on a
// conntrack.Manager via AddConnectionListener/AddPacketListener/
// AddConnectionCloseListener. byteBound is forwarded to each watcher it
// creates. onError may be nil if the caller doesn't care why a session's
// watcher tore down.
func NewSessionSet(byteBound int, onRequest RequestFoundFunc, onStatus StatusFoundFunc, onError ErrorFoundFunc) *SessionSet {
	return &SessionSet{
		byteBound: byteBound,
		watchers:  make(map[uuid.UUID]*HttpSessionWatcher),
		onRequest: onRequest,
		onStatus:  onStatus,
		onError:   onError,
	}
}

var (
	_ conntrack.ConnectionListener      = (*SessionSet)(nil)
	_ conntrack.PacketListener          = (*SessionSet)(nil)
	_ conntrack.ConnectionCloseListener = (*SessionSet)(nil)
)

func (s *SessionSet) OnConnectionFound(now time.Time, c *conntrack.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers[c.ID] = NewHttpSessionWatcher(s.byteBound, s.onRequest, s.onStatus)
}

func (s *SessionSet) OnPacketReceived(now time.Time, c *conntrack.Connection, f *conntrack.Flow, seg tcpseg.Segment) {
	s.mu.Lock()
	w, ok := s.watchers[c.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	torndown, err := w.OnPacket(now, f.Endpoint, seg)
	if !torndown {
		return
	}

	s.mu.Lock()
	delete(s.watchers, c.ID)
	s.mu.Unlock()

	if err != nil && s.onError != nil {
		s.onError(now, c, err)
	}
}

func (s *SessionSet) OnConnectionClosed(now time.Time, c *conntrack.Connection, reason conntrack.CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, c.ID)
}

// WatcherCount reports how many connections currently have an active
// watcher, mostly useful for tests and the debug status API.
func (s *SessionSet) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
