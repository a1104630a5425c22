package download

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/arlojansen/goimap/internal/envelope"
	"github.com/arlojansen/goimap/internal/textdecode"
)

type fakeConn struct {
	bodyStructure *envelope.BodyPart
	header        []byte
	body          []byte
	fetches       []string
}

func (f *fakeConn) FetchBodyStructure(ctx context.Context, ref Ref) (*envelope.BodyPart, error) {
	return f.bodyStructure, nil
}

func (f *fakeConn) FetchSlice(ctx context.Context, ref Ref, section string, start, length uint32) (data []byte, uid uint32, err error) {
	f.fetches = append(f.fetches, section)
	var src []byte
	switch {
	case section == "HEADER" || strings.HasSuffix(section, ".MIME"):
		src = f.header
	default:
		src = f.body
	}
	if int(start) >= len(src) {
		return nil, 7, nil
	}
	end := start + length
	if end > uint32(len(src)) {
		end = uint32(len(src))
	}
	return src[start:end], 7, nil
}

func TestDownloadDecodesBase64AttachmentFully(t *testing.T) {
	plain := "hello world, this is the attachment body"
	encoded := []byte(base64.StdEncoding.EncodeToString([]byte(plain)))

	conn := &fakeConn{
		bodyStructure: &envelope.BodyPart{Type: "text/plain"},
		header:        []byte("Content-Type: text/plain; charset=us-ascii\r\nContent-Transfer-Encoding: base64\r\n\r\n"),
		body:          encoded,
	}

	meta, rc, err := Download(context.Background(), conn, Ref{UID: 7, HasUID: true}, Options{Part: "1", ChunkSize: 8}, textdecode.NewHeaderDecoder(), nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	if meta.Encoding != "base64" {
		t.Fatalf("encoding = %q", meta.Encoding)
	}

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != plain {
		t.Fatalf("got %q, want %q", got, plain)
	}
}

func TestDownloadRenamesPartOneToTextForSinglePartRoot(t *testing.T) {
	conn := &fakeConn{
		bodyStructure: &envelope.BodyPart{Type: "text/plain"},
		header:        []byte("Content-Type: text/plain\r\n\r\n"),
		body:          []byte("abc"),
	}
	_, rc, err := Download(context.Background(), conn, Ref{UID: 7, HasUID: true}, Options{Part: "1", ChunkSize: 16}, textdecode.NewHeaderDecoder(), nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	io.ReadAll(rc)

	foundTextHeader := false
	foundTextBody := false
	for _, f := range conn.fetches {
		if f == "HEADER" {
			foundTextHeader = true
		}
		if f == "TEXT" {
			foundTextBody = true
		}
	}
	if !foundTextHeader || !foundTextBody {
		t.Fatalf("expected TEXT/HEADER sections, got %v", conn.fetches)
	}
}

func TestDownloadStopsAtMaxBytes(t *testing.T) {
	body := strings.Repeat("x", 1000)
	conn := &fakeConn{
		bodyStructure: &envelope.BodyPart{Type: "text/plain"},
		header:        []byte("Content-Type: text/plain\r\n\r\n"),
		body:          []byte(body),
	}

	_, rc, err := Download(context.Background(), conn, Ref{UID: 7, HasUID: true}, Options{Part: "1", ChunkSize: 64, MaxBytes: 100}, textdecode.NewHeaderDecoder(), nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("got %d bytes, want 100", len(got))
	}
}
