package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// maxLineBytes bounds a single non-literal line to guard against a
// misbehaving peer never sending CRLF.
const maxLineBytes = 1 << 20

// Unit is one fully-assembled server response: the text of the line(s)
// with every "{N}" / "{N+}" marker left in place as a placeholder, plus
// the literal byte strings that filled those placeholders, in order.
type Unit struct {
	Payload          []byte
	Literals         [][]byte
	NullBytesRemoved int
}

// Framer incrementally reads whole response units off the wire,
// transparently absorbing IMAP literals. It is not safe for concurrent
// use; internal/session drives it from a single read goroutine.
type Framer struct {
	r *bufio.Reader
}

// NewFramer wraps r. r is typically a TLS connection, or a connection
// wrapped further by internal/transport for DEFLATE.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 8192)}
}

// Next blocks until the next complete unit has been read, including any
// literals it declares. It returns io.EOF (or a wrapped network error)
// when the underlying reader is exhausted, and a *ParseError for a
// malformed literal marker or an oversized line.
func (f *Framer) Next() (*Unit, error) {
	var payload []byte
	var literals [][]byte
	nulls := 0

	for {
		line, err := f.readLine()
		if err != nil {
			return nil, err
		}
		clean, n := stripNulls(line)
		nulls += n
		payload = append(payload, clean...)

		size, nonSync, ok, malformed := trailingLiteralMarker(clean)
		if malformed {
			return nil, newParseError("malformed literal marker", clean)
		}
		if !ok {
			return &Unit{Payload: payload, Literals: literals, NullBytesRemoved: nulls}, nil
		}
		_ = nonSync // the framer just absorbs the literal; sync policy is a compiler/scheduler concern

		lit := make([]byte, size)
		if _, err := io.ReadFull(f.r, lit); err != nil {
			return nil, fmt.Errorf("wire: reading %d-byte literal: %w", size, err)
		}
		literals = append(literals, lit)
	}
}

func (f *Framer) readLine() ([]byte, error) {
	line, err := f.r.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 && errors.Is(err, io.EOF) {
			return nil, newParseError("truncated line at EOF", line)
		}
		return nil, err
	}
	if len(line) > maxLineBytes {
		return nil, newParseError("line exceeds maximum length", line[:64])
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

func stripNulls(line []byte) ([]byte, int) {
	if bytes.IndexByte(line, 0) < 0 {
		return line, 0
	}
	clean := make([]byte, 0, len(line))
	n := 0
	for _, b := range line {
		if b == 0 {
			n++
			continue
		}
		clean = append(clean, b)
	}
	return clean, n
}

// trailingLiteralMarker reports whether line ends in "{N}" or "{N+}"
// immediately before its terminating CRLF. ok is false if there is no
// marker at all; malformed is true if a brace-delimited suffix exists
// but its contents aren't a valid non-negative integer.
func trailingLiteralMarker(line []byte) (size uint64, nonSync bool, ok bool, malformed bool) {
	if len(line) == 0 || line[len(line)-1] != '}' {
		return 0, false, false, false
	}
	open := bytes.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false, false, false
	}
	inner := line[open+1 : len(line)-1]
	if len(inner) > 0 && inner[len(inner)-1] == '+' {
		nonSync = true
		inner = inner[:len(inner)-1]
	}
	if len(inner) == 0 {
		return 0, false, false, true
	}
	n, err := strconv.ParseUint(string(inner), 10, 63)
	if err != nil {
		return 0, false, false, true
	}
	return n, nonSync, true, false
}
