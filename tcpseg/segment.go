// Package tcpseg defines the segment record the core consumes. Values are
// assumed to have already been parsed from link-layer frames by an external
// collaborator (the pcap package in this repository, or any other source).
package tcpseg

import (
	"fmt"
	"net"
	"time"
)

// Endpoint is one side of a TCP connection.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func NewEndpoint(ip net.IP, port uint16) Endpoint {
	return Endpoint{IP: ip, Port: port}
}

// Equal reports structural equality, comparing IP bytes rather than pointers
// so endpoints constructed from different parses of the same address still
// compare equal.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.Port == o.Port && e.IP.Equal(o.IP)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// FlowKey is the unordered pair of endpoints that identifies a connection.
// Two segments belong to the same connection iff their FlowKeys are equal,
// regardless of which endpoint sent which segment.
type FlowKey struct {
	A, B Endpoint
}

// NewFlowKey builds a FlowKey from a segment's source and destination. The
// pair is unordered: FlowKey(a, b) == FlowKey(b, a), because the endpoints are
// stored sorted by their string form.
func NewFlowKey(src, dst Endpoint) FlowKey {
	if dst.String() < src.String() {
		return FlowKey{A: dst, B: src}
	}
	return FlowKey{A: src, B: dst}
}

// Matches reports whether the unordered pair {src, dst} equals this key.
func (k FlowKey) Matches(src, dst Endpoint) bool {
	return (k.A.Equal(src) && k.B.Equal(dst)) || (k.A.Equal(dst) && k.B.Equal(src))
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s<->%s", k.A, k.B)
}

// Flags carries the TCP control bits relevant to connection-state tracking.
type Flags struct {
	SYN, ACK, FIN, RST, PSH, URG bool
}

// Segment is one TCP segment delivered to the core, already parsed from its
// enclosing link-layer frame. Payload may be empty (e.g. a bare ACK).
type Segment struct {
	Timestamp time.Time

	Src Endpoint
	Dst Endpoint

	Seq uint32
	Ack uint32

	Flags Flags

	Payload []byte
}

// FlowKey returns the unordered endpoint pair for this segment's connection.
func (s Segment) FlowKey() FlowKey {
	return NewFlowKey(s.Src, s.Dst)
}
