// Package httpproto implements the streaming HTTP/1.x message parser
// (spec.md §4.4-§4.6): a CRLF line reader, a per-direction phase state
// machine for requests and statuses, and gzip/deflate content decoding.
package httpproto

import (
	"github.com/akitasoftware/pcaptrack/reassembly"
)

// LineOutcome is the result of ReadLine (spec.md §4.4).
type LineOutcome int

const (
	NeedMoreBytes LineOutcome = iota
	StringAtEndOfStream
	StringTerminatedByCrLf
	NonAsciiCharacterFound
)

// ReadLine reads up to and including the next CRLF from r's current cursor.
// It never moves the cursor except when it returns StringTerminatedByCrLf,
// in which case the cursor lands just past the CRLF; every other outcome
// leaves the cursor exactly where it started, so callers don't need to
// rewind themselves.
//
// A byte above 0x7F short-circuits the scan with NonAsciiCharacterFound,
// rather than scanning an arbitrarily long binary body for a CRLF that will
// never appear.
func ReadLine(r *reassembly.StreamReassembler) (LineOutcome, string) {
	avail := r.Length() - r.Position()
	if avail <= 0 {
		return NeedMoreBytes, ""
	}

	buf := r.Peek(avail)
	for i, b := range buf {
		if b > 0x7F {
			return NonAsciiCharacterFound, ""
		}
		if b == '\r' && i+1 < len(buf) && buf[i+1] == '\n' {
			line := string(buf[:i])
			r.Read(i + 2)
			return StringTerminatedByCrLf, line
		}
	}
	return StringAtEndOfStream, ""
}
