package stream

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// utf8Decoder turns byte chunks into text. A multi-byte sequence cut by a
// chunk boundary is held back until the rest of it arrives. Invalid bytes
// decode to U+FFFD.
type utf8Decoder struct {
	t       transform.Transformer
	pending []byte
}

func newUTF8Decoder() *utf8Decoder {
	return &utf8Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode returns the text that can be produced from the held-back bytes
// followed by chunk. With final set, an incomplete trailing sequence is
// flushed as U+FFFD instead of being held back.
func (d *utf8Decoder) Decode(chunk []byte, final bool) string {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
	}

	var out strings.Builder
	// Worst case every byte is invalid and expands to a 3-byte U+FFFD.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, final)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		if err == transform.ErrShortDst && (nDst > 0 || nSrc > 0) {
			continue
		}
		break
	}

	// Copy so the caller's chunk buffer can be reused.
	d.pending = append(d.pending[:0:0], src...)
	return out.String()
}

// Pending reports how many bytes are held back waiting for completion.
func (d *utf8Decoder) Pending() int {
	return len(d.pending)
}
