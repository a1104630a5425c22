package search

import (
	"strings"
	"testing"
	"time"

	"github.com/arlojansen/goimap/internal/wire"
)

func renderNodes(nodes []*wire.Node) string {
	var sb strings.Builder
	for i, n := range nodes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(renderNode(n))
	}
	return sb.String()
}

func renderNode(n *wire.Node) string {
	switch n.Kind {
	case wire.KindAtom:
		return n.Atom
	case wire.KindQuoted:
		return `"` + n.Str + `"`
	case wire.KindLiteral:
		return "{" + string(n.Bytes) + "}"
	case wire.KindNumber:
		return strconvUint(n.Num)
	case wire.KindList:
		return "(" + renderNodes(n.Children) + ")"
	default:
		return "?"
	}
}

func strconvUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func TestEncodeEmptyObjectYieldsAll(t *testing.T) {
	nodes, needsCharset, err := Encode(&Object{}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if needsCharset {
		t.Error("needsCharset = true, want false")
	}
	if got := renderNodes(nodes); got != "ALL" {
		t.Errorf("nodes = %q, want ALL", got)
	}
}

func TestEncodeFlagKeys(t *testing.T) {
	nodes, _, err := Encode(&Object{Seen: true, Flagged: true}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "SEEN FLAGGED" {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeTextKeysAreQuoted(t *testing.T) {
	nodes, _, err := Encode(&Object{From: "alice@example.com"}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != `FROM "alice@example.com"` {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeDateFormatting(t *testing.T) {
	since := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	nodes, _, err := Encode(&Object{Since: since}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "SINCE 05-Mar-2024" {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeHeaderPresenceOnly(t *testing.T) {
	nodes, _, err := Encode(&Object{Header: map[string]string{"X-Spam": ""}}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != `HEADER X-Spam ""` {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeHeaderWithValue(t *testing.T) {
	nodes, _, err := Encode(&Object{Header: map[string]string{"X-Spam": "yes"}}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != `HEADER X-Spam "yes"` {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeNotWrapsWithNot(t *testing.T) {
	nodes, _, err := Encode(&Object{Not: &Object{Deleted: true}}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "NOT (DELETED)" {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeSingleOrIsUnwrapped(t *testing.T) {
	nodes, _, err := Encode(&Object{Or: []*Object{{Seen: true}}}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "SEEN" {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeTwoOrAlternatives(t *testing.T) {
	nodes, _, err := Encode(&Object{Or: []*Object{{Seen: true}, {Flagged: true}}}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "(OR (SEEN) (FLAGGED))" {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeThreeOrAlternativesNestBinary(t *testing.T) {
	nodes, _, err := Encode(&Object{Or: []*Object{{Seen: true}, {Flagged: true}, {Deleted: true}}}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := "(OR (SEEN) (OR (FLAGGED) (DELETED)))"
	if got := renderNodes(nodes); got != want {
		t.Errorf("nodes = %q, want %q", got, want)
	}
}

func TestEncodeNonASCIIWithoutUTF8AcceptUsesLiteral(t *testing.T) {
	nodes, needsCharset, err := Encode(&Object{Subject: "héllo"}, false)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !needsCharset {
		t.Error("needsCharset = false, want true")
	}
	if len(nodes) != 2 || nodes[1].Kind != wire.KindLiteral {
		t.Errorf("nodes = %+v, want a literal second attribute", nodes)
	}
}

func TestEncodeNonASCIIWithUTF8AcceptUsesQuoted(t *testing.T) {
	nodes, needsCharset, err := Encode(&Object{Subject: "héllo"}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if needsCharset {
		t.Error("needsCharset = true, want false when UTF8=ACCEPT is active")
	}
	if len(nodes) != 2 || nodes[1].Kind != wire.KindQuoted {
		t.Errorf("nodes = %+v, want a quoted second attribute", nodes)
	}
}

func TestEncodeNilObjectErrors(t *testing.T) {
	if _, _, err := Encode(nil, true); err == nil {
		t.Error("expected an error for a nil search object")
	}
}

func TestEncodeUIDRange(t *testing.T) {
	nodes, _, err := Encode(&Object{UID: "1:5,9"}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "UID 1:5,9" {
		t.Errorf("nodes = %q", got)
	}
}

func TestEncodeLargerSmaller(t *testing.T) {
	nodes, _, err := Encode(&Object{HasLarger: true, Larger: 1024, HasSmaller: true, Smaller: 4096}, true)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := renderNodes(nodes); got != "LARGER 1024 SMALLER 4096" {
		t.Errorf("nodes = %q", got)
	}
}
