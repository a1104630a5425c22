package envelope

import (
	"testing"

	"github.com/arlojansen/goimap/internal/textdecode"
	"github.com/arlojansen/goimap/internal/wire"
)

func addr(name, mailbox, host string) *wire.Node {
	n := func(s string) *wire.Node {
		if s == "" {
			return wire.Nil()
		}
		return wire.QuotedString(s)
	}
	return wire.List(n(name), wire.Nil(), n(mailbox), n(host))
}

func TestParseEnvelope(t *testing.T) {
	dec := textdecode.NewHeaderDecoder()
	n := wire.List(
		wire.QuotedString("Mon, 7 Feb 1994 21:52:25 -0800"),
		wire.QuotedString("IMAP4rev1 WG mtg summary and minutes"),
		wire.List(addr("Terry Gray", "gray", "cac.washington.edu")),
		wire.List(addr("Terry Gray", "gray", "cac.washington.edu")),
		wire.List(addr("Terry Gray", "gray", "cac.washington.edu")),
		wire.List(addr("", "imap", "cac.washington.edu")),
		wire.Nil(),
		wire.Nil(),
		wire.Nil(),
		wire.QuotedString("<B27397-0100000@cac.washington.edu>"),
	)

	env, err := ParseEnvelope(n, dec)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if !env.HasDate {
		t.Error("expected a parsed date")
	}
	if env.Subject != "IMAP4rev1 WG mtg summary and minutes" {
		t.Errorf("Subject = %q", env.Subject)
	}
	if len(env.From) != 1 || env.From[0].String() != "gray@cac.washington.edu" {
		t.Errorf("From = %+v", env.From)
	}
	if env.MessageID != "B27397-0100000@cac.washington.edu" {
		t.Errorf("MessageID = %q, want angle brackets trimmed", env.MessageID)
	}
}

func TestParseEnvelopeNilReturnsNil(t *testing.T) {
	env, err := ParseEnvelope(wire.Nil(), textdecode.NewHeaderDecoder())
	if err != nil || env != nil {
		t.Errorf("ParseEnvelope(NIL) = %+v, %v", env, err)
	}
}

func TestParseEnvelopeDecodesMimeWordSubject(t *testing.T) {
	dec := textdecode.NewHeaderDecoder()
	n := wire.List(
		wire.Nil(),
		wire.QuotedString("=?UTF-8?B?SGVsbG8=?="),
		wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(),
		wire.Nil(), wire.Nil(),
	)
	env, err := ParseEnvelope(n, dec)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.Subject != "Hello" {
		t.Errorf("Subject = %q, want decoded Hello", env.Subject)
	}
}

func TestParseEnvelopeTooFewFields(t *testing.T) {
	_, err := ParseEnvelope(wire.List(wire.Nil(), wire.Nil()), textdecode.NewHeaderDecoder())
	if err == nil {
		t.Error("expected an error for a short envelope list")
	}
}

func TestAddressStringGroupMarker(t *testing.T) {
	a := Address{Mailbox: "undisclosed-recipients", Host: ""}
	if a.String() != "undisclosed-recipients" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestParseEnvelopeDateFallbackLayouts(t *testing.T) {
	dec := textdecode.NewHeaderDecoder()
	n := wire.List(
		wire.QuotedString("7 Feb 1994 21:52:25 -0800"),
		wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(),
		wire.Nil(), wire.Nil(),
	)
	env, err := ParseEnvelope(n, dec)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if !env.HasDate {
		t.Error("expected the non-weekday date layout to parse")
	}
}

func TestTrimAngleBracketsHandlesWhitespace(t *testing.T) {
	if got := trimAngleBrackets(" <abc@def> "); got != "abc@def" {
		t.Errorf("trimAngleBrackets() = %q", got)
	}
}

func TestParseEnvelopeMalformedAddressEntry(t *testing.T) {
	n := wire.List(
		wire.Nil(), wire.Nil(),
		wire.List(wire.List(wire.Nil())), // address entry with too few fields
		wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(), wire.Nil(),
	)
	if _, err := ParseEnvelope(n, textdecode.NewHeaderDecoder()); err == nil {
		t.Error("expected an error for a malformed address entry")
	}
}

func TestStringValueVariants(t *testing.T) {
	if s, ok := stringValue(wire.Literal([]byte("abc"))); !ok || s != "abc" {
		t.Errorf("stringValue(literal) = %q, %v", s, ok)
	}
	if s, ok := stringValue(wire.Atom("FOO")); !ok || s != "FOO" {
		t.Errorf("stringValue(atom) = %q, %v", s, ok)
	}
	if _, ok := stringValue(wire.Nil()); ok {
		t.Error("stringValue(NIL) should report not-ok")
	}
	if _, ok := stringValue(nil); ok {
		t.Error("stringValue(nil node) should report not-ok")
	}
}
