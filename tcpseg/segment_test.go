package tcpseg

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ep(ip string, port uint16) Endpoint {
	return NewEndpoint(net.ParseIP(ip), port)
}

func TestFlowKeyUnorderedMatch(t *testing.T) {
	a := ep("10.0.0.1", 1234)
	b := ep("10.0.0.2", 80)

	k := NewFlowKey(a, b)

	assert.True(t, k.Matches(a, b))
	assert.True(t, k.Matches(b, a), "FlowKey must match regardless of direction")
	assert.False(t, k.Matches(a, ep("10.0.0.3", 80)))
}

func TestFlowKeyEquality(t *testing.T) {
	a := ep("10.0.0.1", 1234)
	b := ep("10.0.0.2", 80)

	assert.Equal(t, NewFlowKey(a, b), NewFlowKey(b, a), "FlowKey is an unordered pair")
}

func TestEndpointEqualComparesBytesNotPointer(t *testing.T) {
	a := NewEndpoint(net.ParseIP("127.0.0.1"), 80)
	b := NewEndpoint(net.ParseIP("127.0.0.1"), 80)
	assert.True(t, a.Equal(b))
}

func TestSegmentFlowKey(t *testing.T) {
	s := Segment{Src: ep("1.2.3.4", 111), Dst: ep("5.6.7.8", 222)}
	assert.True(t, s.FlowKey().Matches(s.Dst, s.Src))
}
