package reassembly

import "errors"

// ErrPacketNotPartOfStream is returned by StreamReassembler.Append when a
// segment's source/destination pair doesn't match the endpoint pair
// established by the first segment ever appended to this stream (spec.md
// §4.3, error kind PacketNotPartOfStream in §7).
var ErrPacketNotPartOfStream = errors.New("reassembly: packet is not part of this stream")

// ErrInvalidSeek is returned when Seek would move the cursor before the
// start of the buffer.
var ErrInvalidSeek = errors.New("reassembly: invalid seek to negative position")
