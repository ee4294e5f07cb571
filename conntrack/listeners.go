package conntrack

import (
	"time"

	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// This file implements spec.md Design Note "Event delegates": rather than a
// multi-subscriber delegate per event (as the original source used), each
// event has its own small listener interface; a consumer registers whichever
// it implements. Manager invokes listeners in registration order.

// ConnectionListener is notified when a new Connection is created. Per
// spec.md §5, on_connection_found precedes any packet/flow callback for that
// connection.
type ConnectionListener interface {
	OnConnectionFound(now time.Time, c *Connection)
}

// PacketListener is notified for every segment successfully delivered to a
// flow.
type PacketListener interface {
	OnPacketReceived(now time.Time, c *Connection, f *Flow, seg tcpseg.Segment)
}

// FlowCloseListener is notified exactly once per flow, the first time a FIN
// is observed in that direction.
type FlowCloseListener interface {
	OnFlowClosed(now time.Time, c *Connection, f *Flow)
}

// ConnectionCloseListener is notified when a Connection transitions to
// Closed (graceful FIN/ACK sequence) or is evicted for idle timeout.
type ConnectionCloseListener interface {
	OnConnectionClosed(now time.Time, c *Connection, reason CloseReason)
}

type listenerSet struct {
	connFound  []ConnectionListener
	packet     []PacketListener
	flowClose  []FlowCloseListener
	connClosed []ConnectionCloseListener
}

func (s *listenerSet) addConnectionListener(l ConnectionListener) { s.connFound = append(s.connFound, l) }
func (s *listenerSet) addPacketListener(l PacketListener)         { s.packet = append(s.packet, l) }
func (s *listenerSet) addFlowCloseListener(l FlowCloseListener)   { s.flowClose = append(s.flowClose, l) }
func (s *listenerSet) addConnectionCloseListener(l ConnectionCloseListener) {
	s.connClosed = append(s.connClosed, l)
}

func (s *listenerSet) fireConnectionFound(now time.Time, c *Connection) {
	for _, l := range s.connFound {
		l.OnConnectionFound(now, c)
	}
}

func (s *listenerSet) firePacketReceived(now time.Time, c *Connection, f *Flow, seg tcpseg.Segment) {
	for _, l := range s.packet {
		l.OnPacketReceived(now, c, f, seg)
	}
}

func (s *listenerSet) fireFlowClosed(now time.Time, c *Connection, f *Flow) {
	for _, l := range s.flowClose {
		l.OnFlowClosed(now, c, f)
	}
}

func (s *listenerSet) fireConnectionClosed(now time.Time, c *Connection, reason CloseReason) {
	for _, l := range s.connClosed {
		l.OnConnectionClosed(now, c, reason)
	}
}
