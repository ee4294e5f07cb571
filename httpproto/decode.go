package httpproto

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"io/ioutil"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeContent implements spec.md §4.6. gzip and deflate are fully
// inflated; the original compressed bytes are returned as compressed so the
// caller can retain both. brotli is recognized (so a brotli body never
// falls into the UnknownContentEncoding error path) but is deliberately not
// inflated — see SPEC_FULL.md's open-question resolution — so body comes
// back unchanged and compressed is nil, the same as the no-encoding case,
// since nothing was decoded.
func decodeContent(raw []byte, encoding string) (body, compressed []byte, err error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil, nil

	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, nil, parseErr(UnknownContentEncoding, err)
		}
		defer zr.Close()
		decoded, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, nil, parseErr(UnknownContentEncoding, err)
		}
		return decoded, raw, nil

	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, nil, parseErr(UnknownContentEncoding, err)
		}
		defer zr.Close()
		decoded, err := ioutil.ReadAll(zr)
		if err != nil {
			return nil, nil, parseErr(UnknownContentEncoding, err)
		}
		return decoded, raw, nil

	case "br":
		// Probe the framing without materializing the full decode: a
		// malformed brotli stream still surfaces the same way a malformed
		// gzip/deflate stream would, but a well-formed one is passed
		// through untouched.
		zr := brotli.NewReader(bytes.NewReader(raw))
		if _, err := zr.Read(make([]byte, 1)); err != nil && err != io.EOF {
			return nil, nil, parseErr(UnknownContentEncoding, err)
		}
		return raw, nil, nil

	default:
		return nil, nil, parseErr(UnknownContentEncoding, nil)
	}
}
