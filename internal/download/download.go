// Package download implements the chunked partial-FETCH → transfer
// decode → flowed decode → charset transcode → byte-limit pipeline
// behind the public Download/DownloadMany operations.
package download

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/arlojansen/goimap/internal/envelope"
	"github.com/arlojansen/goimap/internal/textdecode"
)

// DefaultChunkSize is the partial-FETCH slice size used when Options
// doesn't override it.
const DefaultChunkSize = 65536

// maxHeaderProbe bounds the single-shot MIME-header fetch issued during
// the probe phase; real MIME part headers never approach this.
const maxHeaderProbe = 1 << 16

// Ref identifies the message being downloaded. HasUID indicates UID is
// populated and fetches should already be UID-pinned (Download pins it
// itself as soon as the first FETCH response reveals it, per §4.14 step 5).
type Ref struct {
	UID    uint32
	Seq    uint32
	HasUID bool
}

// Options configures one Download call.
type Options struct {
	Part      string // dotted MIME part number, or "" for the default "1"
	ChunkSize uint32 // default DefaultChunkSize
	MaxBytes  uint64 // 0 = unlimited
}

// Meta is the metadata surfaced alongside the content stream, per
// §4.14 step 6.
type Meta struct {
	ExpectedSize uint64
	ContentType  string
	Charset      string
	HasCharset   bool
	Disposition  string
	Filename     string
	Encoding     string
	Flowed       bool
	DelSp        bool
}

// Conn is the narrow slice of the session the pipeline needs: probing
// BODYSTRUCTURE to detect a single-text root, and issuing partial
// FETCHes by section descriptor and byte range. Kept here instead of
// depending on internal/session directly so this package stays a leaf.
type Conn interface {
	FetchBodyStructure(ctx context.Context, ref Ref) (*envelope.BodyPart, error)
	// FetchSlice issues "UID FETCH <ref> (UID BODY.PEEK[<section>]<<start>.<length>>)"
	// (or the HEADER/MIME variant for a metadata probe) and returns the
	// raw bytes plus the message's UID, so the pipeline can pin to it.
	FetchSlice(ctx context.Context, ref Ref, section string, start, length uint32) (data []byte, uid uint32, err error)
}

// Download runs the full pipeline and returns metadata plus a stream of
// decoded content. The stream must be closed by the caller; closing it
// before EOF stops the underlying chunked FETCH loop.
func Download(ctx context.Context, conn Conn, ref Ref, opts Options, dec textdecode.HeaderDecoder, charsetFactory textdecode.CharsetDecoderFactory) (*Meta, io.ReadCloser, error) {
	if dec == nil {
		dec = textdecode.NewHeaderDecoder()
	}
	if charsetFactory == nil {
		charsetFactory = textdecode.DefaultCharsetDecoderFactory
	}

	part := opts.Part
	if part == "" {
		part = "1"
	}
	if part == "1" {
		if bs, err := conn.FetchBodyStructure(ctx, ref); err == nil && bs != nil && !strings.HasPrefix(bs.Type, "multipart/") {
			part = "TEXT"
		}
	}

	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	headerSection := part + ".MIME"
	if strings.EqualFold(part, "TEXT") {
		headerSection = "HEADER"
	}
	headerBytes, uid, err := conn.FetchSlice(ctx, ref, headerSection, 0, maxHeaderProbe)
	if err != nil {
		return nil, nil, fmt.Errorf("download: probing %s: %w", headerSection, err)
	}
	meta := parseMeta(headerBytes, dec)

	first, uid2, err := conn.FetchSlice(ctx, ref, part, 0, chunkSize)
	if err != nil {
		return nil, nil, fmt.Errorf("download: fetching first slice of %s: %w", part, err)
	}
	if uid2 != 0 {
		uid = uid2
	}
	pinned := ref
	if uid != 0 {
		pinned = Ref{UID: uid, HasUID: true}
	}

	pr, pw := io.Pipe()
	go pump(ctx, conn, pinned, part, chunkSize, first, pw)

	var r io.Reader = pr
	r = textdecode.TransferDecoder(meta.Encoding, r)
	if meta.Flowed {
		r = textdecode.NewFlowedReader(r, textdecode.FlowedOptions{DelSp: meta.DelSp})
	}
	if meta.HasCharset && !isIdentityCharset(meta.Charset) {
		if wrap, err := charsetFactory(meta.Charset); err == nil {
			r = wrap(r)
		}
	}

	lr := &limiter{r: r, closer: pr}
	if opts.MaxBytes > 0 {
		lr.max = opts.MaxBytes
		lr.limited = true
	}
	return meta, lr, nil
}

// pump feeds chunkSize-byte slices of part into pw until the server
// returns a short slice, the caller stops reading (closing pr, which
// turns the next Write into a pipe error), or a FETCH fails.
func pump(ctx context.Context, conn Conn, ref Ref, part string, chunkSize uint32, first []byte, pw *io.PipeWriter) {
	offset := uint32(0)
	chunk := first
	for {
		if _, err := pw.Write(chunk); err != nil {
			return
		}
		if uint32(len(chunk)) < chunkSize {
			pw.Close()
			return
		}
		offset += uint32(len(chunk))

		next, _, err := conn.FetchSlice(ctx, ref, part, offset, chunkSize)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("download: fetching %s at offset %d: %w", part, offset, err))
			return
		}
		if len(next) == 0 {
			pw.Close()
			return
		}
		chunk = next
	}
}

// limiter wraps the decoded stream, cutting it off at max bytes and
// closing the pipe reader so the pump loop stops issuing further
// FETCHes once the cap is hit.
type limiter struct {
	r       io.Reader
	closer  *io.PipeReader
	max     uint64
	limited bool
	sent    uint64
	done    bool
}

func (l *limiter) Read(p []byte) (int, error) {
	if l.done {
		return 0, io.EOF
	}
	if l.limited {
		remaining := l.max - l.sent
		if remaining == 0 {
			l.cutoff()
			return 0, io.EOF
		}
		if uint64(len(p)) > remaining {
			p = p[:remaining]
		}
	}
	n, err := l.r.Read(p)
	l.sent += uint64(n)
	if l.limited && l.sent >= l.max {
		l.cutoff()
		if err == nil {
			err = io.EOF
		}
	}
	return n, err
}

func (l *limiter) cutoff() {
	if l.done {
		return
	}
	l.done = true
	_ = l.closer.Close()
}

func (l *limiter) Close() error {
	l.done = true
	return l.closer.Close()
}

func isIdentityCharset(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		return true
	default:
		return false
	}
}
