// Package reassembly implements the per-flow byte-stream reassembler
// described in spec.md §4.3: an append-only buffer of TCP payloads with
// random-access read/seek, packet-boundary advance, and prefix trimming.
//
// This package deliberately does not build on gopacket/reassembly. That
// library reorders and gap-fills by TCP sequence number and owns its own
// buffer pool; this reassembler instead assumes segments arrive in capture
// order (spec.md's documented limitation) and gives its caller (httpwatch)
// direct seek/trim control over the buffer, which gopacket/reassembly's
// Stream interface doesn't expose.
package reassembly

import (
	"github.com/pkg/errors"

	"github.com/akitasoftware/pcaptrack/tcpseg"
)

// PacketInfo records one appended segment's place in the reassembled stream.
type PacketInfo struct {
	Seq    uint32
	Length int
	Offset int
}

// StreamReassembler accumulates the payload bytes of one TCP flow (one
// direction of one connection) in capture order and exposes them as a
// seekable byte stream.
type StreamReassembler struct {
	buf     *seekableByteBuffer
	packets []PacketInfo

	haveFirst bool
	firstSrc  tcpseg.Endpoint
	firstDst  tcpseg.Endpoint
}

// NewStreamReassembler returns an empty reassembler. The endpoint pair that
// future Append calls must match is established by the first segment
// appended, not by this constructor.
func NewStreamReassembler() *StreamReassembler {
	return &StreamReassembler{buf: newSeekableByteBuffer()}
}

// Append adds a segment's payload to the stream. Zero-length payloads are
// dropped silently (no PacketInfo is recorded) per spec.md §3. The first
// call overall, including a zero-length one, fixes the stream's ordered
// source/destination identity; later calls whose Src and Dst do not both
// match the first segment's Src and Dst fail with ErrPacketNotPartOfStream
// (spec.md §4.3).
func (r *StreamReassembler) Append(seg tcpseg.Segment) error {
	if !r.haveFirst {
		r.firstSrc = seg.Src
		r.firstDst = seg.Dst
		r.haveFirst = true
	} else if !seg.Src.Equal(r.firstSrc) || !seg.Dst.Equal(r.firstDst) {
		return errors.Wrapf(ErrPacketNotPartOfStream, "segment %s->%s does not match stream identity %s->%s",
			seg.Src, seg.Dst, r.firstSrc, r.firstDst)
	}

	if len(seg.Payload) == 0 {
		return nil
	}

	info := PacketInfo{
		Seq:    seg.Seq,
		Length: len(seg.Payload),
		Offset: r.buf.Len(),
	}
	r.buf.appendBytes(seg.Payload)
	r.packets = append(r.packets, info)
	return nil
}

// Length returns the total number of bytes ever appended (minus zero-length
// drops), i.e. the current size of the reassembled buffer.
func (r *StreamReassembler) Length() int {
	return r.buf.Len()
}

// Position returns the reader cursor's current offset into the buffer.
func (r *StreamReassembler) Position() int {
	return r.buf.Position()
}

// Packets returns a snapshot of the recorded packet boundaries, in capture
// order.
func (r *StreamReassembler) Packets() []PacketInfo {
	out := make([]PacketInfo, len(r.packets))
	copy(out, r.packets)
	return out
}

// Read returns up to n bytes starting at the cursor, clamped to the bytes
// available, and advances the cursor.
func (r *StreamReassembler) Read(n int) []byte {
	return r.buf.read(n)
}

// Peek is like Read but does not move the cursor.
func (r *StreamReassembler) Peek(n int) []byte {
	return r.buf.peek(n)
}

// Seek repositions the cursor. Seeking past the end of the stream is
// permitted; reads afterward simply return no bytes.
func (r *StreamReassembler) Seek(offset int64, whence Whence) (int64, error) {
	return r.buf.seek(offset, whence)
}

// packetContaining returns the index of the PacketInfo whose span
// [Offset, Offset+Length) contains position, or -1 if position is at or past
// the last packet's end.
func (r *StreamReassembler) packetContaining(position int) int {
	for i, p := range r.packets {
		if position >= p.Offset && position < p.Offset+p.Length {
			return i
		}
	}
	return -1
}

// AdvanceToNextPacket moves the cursor to the start offset of the PacketInfo
// immediately following the one currently containing Position(). If there is
// no such packet (the cursor is already within or past the last packet), the
// cursor is seeked to end-of-stream and false is returned.
func (r *StreamReassembler) AdvanceToNextPacket() bool {
	cur := r.packetContaining(r.Position())

	var next int
	if cur == -1 {
		// Not inside any packet: if we're before the first packet, "next" is
		// the first one; otherwise there's nothing left.
		next = -1
		for i, p := range r.packets {
			if p.Offset >= r.Position() {
				next = i
				break
			}
		}
	} else {
		next = cur + 1
	}

	if next == -1 || next >= len(r.packets) {
		r.buf.seek(0, End)
		return false
	}

	r.buf.seek(int64(r.packets[next].Offset), Begin)
	return true
}

// TrimUnusedPackets returns a fresh StreamReassembler containing only the
// PacketInfo records at or after the current cursor position, with offsets
// rebased to zero and the cursor rebased accordingly. The original
// source/destination identity is preserved so future Append calls on the
// returned stream are still validated against it.
func (r *StreamReassembler) TrimUnusedPackets() *StreamReassembler {
	cur := r.packetContaining(r.Position())
	startIdx := cur
	if startIdx == -1 {
		// Cursor sits between packets (or at EOF): keep everything whose
		// offset is at or after the cursor.
		startIdx = len(r.packets)
		for i, p := range r.packets {
			if p.Offset >= r.Position() {
				startIdx = i
				break
			}
		}
	}

	newZero := r.buf.Len()
	if startIdx < len(r.packets) {
		newZero = r.packets[startIdx].Offset
	}

	out := &StreamReassembler{
		buf:       newSeekableByteBuffer(),
		haveFirst: r.haveFirst,
		firstSrc:  r.firstSrc,
		firstDst:  r.firstDst,
	}

	kept := r.packets[startIdx:]
	out.packets = make([]PacketInfo, len(kept))
	for i, p := range kept {
		out.packets[i] = PacketInfo{
			Seq:    p.Seq,
			Length: p.Length,
			Offset: p.Offset - newZero,
		}
	}

	out.buf.appendBytes(r.buf.peekFrom(0))
	out.buf.pos = r.Position()
	out.buf.trim(newZero)

	return out
}
