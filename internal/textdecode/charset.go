package textdecode

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// CharsetDecoderFactory is a charset decoder factory: decoder(name) ->
// byte-to-UTF-8 stream.
type CharsetDecoderFactory func(name string) (func(io.Reader) io.Reader, error)

// DefaultCharsetDecoderFactory resolves charset names through
// golang.org/x/text/encoding/htmlindex, which recognizes every label the
// WHATWG encoding standard (and therefore the overwhelming majority of
// mail in the wild) uses — IANA names, aliases, and common misspellings
// like "windows-1252" / "cp1252" alike.
func DefaultCharsetDecoderFactory(name string) (func(io.Reader) io.Reader, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	if norm == "" || norm == "us-ascii" || norm == "utf-8" || norm == "utf8" || norm == "ascii" {
		return func(r io.Reader) io.Reader { return r }, nil
	}
	enc, err := htmlindex.Get(norm)
	if err != nil {
		return nil, fmt.Errorf("textdecode: unknown charset %q: %w", name, err)
	}
	return func(r io.Reader) io.Reader {
		return transformReader(r, enc)
	}, nil
}

func transformReader(r io.Reader, enc encoding.Encoding) io.Reader {
	return enc.NewDecoder().Reader(r)
}
