// Package textdecode provides default implementations of the decoding
// concerns the core protocol engine treats as pluggable: MIME
// header/word decoding, transfer decoding, charset transcoding, and
// format=flowed unwrapping. The core packages (envelope, download)
// depend only on the small interfaces declared here, so a caller
// embedding this library can swap in their own.
package textdecode

import (
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
)

// HeaderDecoder is the MIME header parser contract: parseHeaderValue
// and decodeWords.
type HeaderDecoder interface {
	// DecodeWords decodes RFC 2047 encoded-words in s (e.g. a Subject or
	// address display-name) to UTF-8, passing through anything that
	// doesn't parse as an encoded-word.
	DecodeWords(s string) string

	// ParseHeaderValue splits a structured header value (e.g. a
	// Content-Type) into its bare value and its parameter map, decoding
	// RFC 2231 continuations and percent-encoded charset prefixes.
	ParseHeaderValue(s string) (value string, params map[string]string)
}

// defaultHeaderDecoder implements HeaderDecoder on top of the standard
// library's mime.WordDecoder (using github.com/emersion/go-message's
// charset reader) and mime.ParseMediaType, which already implements
// RFC 2231 parameter continuations.
type defaultHeaderDecoder struct {
	wordDecoder *mime.WordDecoder
}

// NewHeaderDecoder returns the library's default HeaderDecoder.
func NewHeaderDecoder() HeaderDecoder {
	return &defaultHeaderDecoder{
		wordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
}

func (d *defaultHeaderDecoder) DecodeWords(s string) string {
	decoded, err := d.wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func (d *defaultHeaderDecoder) ParseHeaderValue(s string) (string, map[string]string) {
	value, params, err := mime.ParseMediaType(s)
	if err != nil {
		// Not every header value this is called on is a true media type
		// (e.g. Content-Disposition without parameters); fall back to a
		// bare split on the first ';'.
		if i := strings.IndexByte(s, ';'); i >= 0 {
			return strings.TrimSpace(s[:i]), nil
		}
		return strings.TrimSpace(s), nil
	}
	return value, params
}
