package reassembly

import "io"

// Whence selects the reference point for Seek, mirroring spec.md's
// {Begin, Current, End} vocabulary rather than io.Seek*'s numeric constants
// so call sites read the way the specification does.
type Whence int

const (
	Begin Whence = iota
	Current
	End
)

// seekableByteBuffer is a contiguous, append-only byte buffer with a cursor
// supporting read/seek. StreamReassembler composes one rather than embedding
// a stdlib type, so the reassembler's own surface (append/advance/trim) stays
// the only thing callers can do with a stream — composition over inheritance,
// per the spec's reassembler design note.
type seekableByteBuffer struct {
	data []byte
	pos  int
}

func newSeekableByteBuffer() *seekableByteBuffer {
	return &seekableByteBuffer{}
}

func (b *seekableByteBuffer) Len() int {
	return len(b.data)
}

func (b *seekableByteBuffer) Position() int {
	return b.pos
}

// appendBytes copies p to the end of the buffer. The cursor is left
// untouched, matching spec.md's "reader position is preserved" invariant for
// StreamReassembler.append.
func (b *seekableByteBuffer) appendBytes(p []byte) {
	b.data = append(b.data, p...)
}

// read returns up to n bytes starting at the cursor, clamped to the bytes
// available, and advances the cursor by the number of bytes returned.
func (b *seekableByteBuffer) read(n int) []byte {
	if n < 0 {
		n = 0
	}
	avail := len(b.data) - b.pos
	if avail < 0 {
		avail = 0
	}
	if n > avail {
		n = avail
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:b.pos+n])
	b.pos += n
	return out
}

// peek is like read but does not move the cursor.
func (b *seekableByteBuffer) peek(n int) []byte {
	avail := len(b.data) - b.pos
	if avail < 0 {
		avail = 0
	}
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:b.pos+n])
	return out
}

// peekFrom returns a copy of all bytes from offset to the end of the buffer,
// regardless of the cursor.
func (b *seekableByteBuffer) peekFrom(offset int) []byte {
	if offset < 0 {
		offset = 0
	}
	if offset > len(b.data) {
		offset = len(b.data)
	}
	out := make([]byte, len(b.data)-offset)
	copy(out, b.data[offset:])
	return out
}

// seek repositions the cursor. Seeking past the end is permitted (spec.md
// §4.3): the cursor is simply clamped to [0, len(data)] after computing the
// target, and a target below zero is an error.
func (b *seekableByteBuffer) seek(offset int64, whence Whence) (int64, error) {
	var base int64
	switch whence {
	case Begin:
		base = 0
	case Current:
		base = int64(b.pos)
	case End:
		base = int64(len(b.data))
	default:
		return 0, io.ErrUnexpectedEOF
	}

	target := base + offset
	if target < 0 {
		return 0, ErrInvalidSeek
	}
	if target > int64(len(b.data)) {
		target = int64(len(b.data))
	}
	b.pos = int(target)
	return int64(b.pos), nil
}

// trim discards bytes before newZero, rebasing the buffer so newZero becomes
// offset 0. The cursor, previously at b.pos, is rebased to b.pos-newZero.
func (b *seekableByteBuffer) trim(newZero int) {
	if newZero <= 0 {
		return
	}
	if newZero > len(b.data) {
		newZero = len(b.data)
	}
	remaining := make([]byte, len(b.data)-newZero)
	copy(remaining, b.data[newZero:])
	b.data = remaining
	b.pos -= newZero
	if b.pos < 0 {
		b.pos = 0
	}
}
