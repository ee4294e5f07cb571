package pcap

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketToSegmentExtractsTcpHeader(t *testing.T) {
	src := net.ParseIP("10.0.0.1").To4()
	dst := net.ParseIP("10.0.0.2").To4()
	pkt := CreatePacketWithSeq(src, dst, 51000, 443, []byte("hello"), 42)

	seg, ok := packetToSegment(pkt, &realClock{})
	require.True(t, ok)
	assert.Equal(t, uint16(51000), seg.Src.Port)
	assert.Equal(t, uint16(443), seg.Dst.Port)
	assert.True(t, seg.Src.IP.Equal(src))
	assert.True(t, seg.Dst.IP.Equal(dst))
	assert.EqualValues(t, 42, seg.Seq)
	assert.Equal(t, "hello", string(seg.Payload))
}

func TestPacketToSegmentRejectsUdp(t *testing.T) {
	src := net.ParseIP("10.0.0.1").To4()
	dst := net.ParseIP("10.0.0.2").To4()
	pkt := CreateUDPPacket(src, dst, 1000, 2000, []byte("x"))

	_, ok := packetToSegment(pkt, &realClock{})
	assert.False(t, ok)
}

func TestPacketToSegmentReadsFlags(t *testing.T) {
	src := net.ParseIP("10.0.0.1").To4()
	dst := net.ParseIP("10.0.0.2").To4()
	pkt := CreateTCPSYN(src, dst, 1000, 2000, 1)

	seg, ok := packetToSegment(pkt, &realClock{})
	require.True(t, ok)
	assert.True(t, seg.Flags.SYN)
	assert.False(t, seg.Flags.ACK)
}
