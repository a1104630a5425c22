package wire

import (
	"bytes"
	"testing"
)

func parseLine(t *testing.T, s string) *Response {
	t.Helper()
	f := NewFramer(bytes.NewBufferString(s))
	u, err := f.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	r, err := Parse(u)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return r
}

func TestParseTaggedOK(t *testing.T) {
	r := parseLine(t, "A1 OK LOGIN completed\r\n")
	if r.Tag != "A1" || r.Command != "OK" {
		t.Fatalf("got tag=%q command=%q", r.Tag, r.Command)
	}
	if len(r.Attributes) != 2 {
		t.Fatalf("Attributes = %v", r.Attributes)
	}
}

func TestParseContinuation(t *testing.T) {
	r := parseLine(t, "+ go ahead\r\n")
	if !r.IsContinuation() {
		t.Fatal("expected a continuation response")
	}
	if r.Attributes[0].Str != "go ahead" {
		t.Errorf("text = %q", r.Attributes[0].Str)
	}
}

func TestParseNumericUntagged(t *testing.T) {
	r := parseLine(t, "* 12 EXISTS\r\n")
	if !r.IsUntagged() {
		t.Fatal("expected untagged response")
	}
	if r.Command != "12" {
		t.Errorf("Command = %q, want 12", r.Command)
	}
	if len(r.Attributes) != 1 || r.Attributes[0].Atom != "EXISTS" {
		t.Errorf("Attributes = %v", r.Attributes)
	}
}

func TestParseQuotedStringWithEscapes(t *testing.T) {
	r := parseLine(t, `* LIST () "/" "a\"b"` + "\r\n")
	if len(r.Attributes) != 3 {
		t.Fatalf("Attributes = %v", r.Attributes)
	}
	if r.Attributes[2].Str != `a"b` {
		t.Errorf("Str = %q", r.Attributes[2].Str)
	}
}

func TestParseList(t *testing.T) {
	r := parseLine(t, `* FLAGS (\Seen \Answered $Label1)` + "\r\n")
	flags := r.Attributes[0]
	if flags.Kind != KindList || len(flags.Children) != 3 {
		t.Fatalf("flags = %+v", flags)
	}
	if flags.Children[0].Atom != `\Seen` {
		t.Errorf("first flag = %q", flags.Children[0].Atom)
	}
}

func TestParseNil(t *testing.T) {
	r := parseLine(t, "* 1 FETCH (ENVELOPE NIL)\r\n")
	fetch := r.Attributes[1]
	if fetch.Children[1].Kind != KindNil {
		t.Errorf("expected NIL, got %+v", fetch.Children[1])
	}
}

func TestParseLiteral(t *testing.T) {
	r := parseLine(t, "* 1 FETCH (BODY[TEXT] {5}\r\nhello)\r\n")
	fetch := r.Attributes[1]
	section := fetch.Children[0]
	if section.Kind != KindSection || section.Atom != "BODY" {
		t.Fatalf("section = %+v", section)
	}
	lit := fetch.Children[1]
	if lit.Kind != KindLiteral || string(lit.Bytes) != "hello" {
		t.Errorf("literal = %+v", lit)
	}
}

func TestParseSectionWithFieldsAndPartial(t *testing.T) {
	r := parseLine(t, `* 1 FETCH (BODY[HEADER.FIELDS (To From)]<0.100> {3}`+"\r\nabc)\r\n")
	fetch := r.Attributes[1]
	section := fetch.Children[0]
	if section.Kind != KindSection {
		t.Fatalf("section = %+v", section)
	}
	if section.Partial == nil || section.Partial.Start != 0 || !section.Partial.HasLength || section.Partial.Length != 100 {
		t.Errorf("partial = %+v", section.Partial)
	}
	if len(section.Children) != 2 || section.Children[0].Atom != "HEADER.FIELDS" {
		t.Errorf("section children = %+v", section.Children)
	}
	fieldList := section.Children[1]
	if fieldList.Kind != KindList || len(fieldList.Children) != 2 {
		t.Errorf("field list = %+v", fieldList)
	}
}

func TestParseBigNumber(t *testing.T) {
	r := parseLine(t, "* OK [UIDVALIDITY 99999999999999999999] ok\r\n")
	uidvalidity := r.Attributes[0].Children[1]
	if uidvalidity.Kind != KindBigNumber || uidvalidity.BigNum != "99999999999999999999" {
		t.Errorf("uidvalidity = %+v", uidvalidity)
	}
}

func TestParseUnterminatedQuoted(t *testing.T) {
	u := &Unit{Payload: []byte(`A1 OK "unterminated`)}
	if _, err := Parse(u); err == nil {
		t.Error("Parse() should reject an unterminated quoted string")
	}
}
