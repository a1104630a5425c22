// Package search encodes a structured search query into the IMAP SEARCH
// command's attribute list.
package search

import (
	"fmt"
	"time"

	"github.com/arlojansen/goimap/internal/wire"
)

// Object is a structured IMAP search query. All directly-set fields are
// combined with an implicit AND; Or and Not provide explicit boolean
// composition.
type Object struct {
	Seen, Unseen         bool
	Answered, Unanswered bool
	Flagged, Unflagged   bool
	Draft, Undraft       bool
	Deleted, Undeleted   bool
	Recent, New, Old     bool

	From, To, Cc, Bcc string
	Subject, Body, Text string

	Since, Before, On             time.Time
	SentSince, SentBefore, SentOn time.Time

	Larger, Smaller uint64
	HasLarger, HasSmaller bool

	UID string // a pre-packed range string, e.g. "1:*"

	Keyword, Unkeyword string

	// Header maps a header name to the value to search for; "" means a
	// presence-only check (header:{Key: true} in the distilled form).
	Header map[string]string

	Or  []*Object
	Not *Object
}

const dateLayout = "02-Jan-2006"

// Encode walks obj and returns the SEARCH command's attribute nodes.
// needsCharset reports whether a "CHARSET UTF-8" prefix must precede
// these attributes (set when utf8Accept is false and a non-ASCII token
// had to be sent as a literal).
func Encode(obj *Object, utf8Accept bool) (nodes []*wire.Node, needsCharset bool, err error) {
	if obj == nil {
		return nil, false, fmt.Errorf("search: nil search object")
	}
	e := &encoder{utf8Accept: utf8Accept}
	e.encode(obj)
	if len(e.nodes) == 0 {
		e.nodes = append(e.nodes, wire.Atom("ALL"))
	}
	return e.nodes, e.needsCharset, nil
}

type encoder struct {
	nodes       []*wire.Node
	utf8Accept  bool
	needsCharset bool
}

func (e *encoder) emit(n ...*wire.Node) { e.nodes = append(e.nodes, n...) }

func (e *encoder) encode(o *Object) {
	flag := func(set bool, key string) {
		if set {
			e.emit(wire.Atom(key))
		}
	}
	flag(o.Seen, "SEEN")
	flag(o.Unseen, "UNSEEN")
	flag(o.Answered, "ANSWERED")
	flag(o.Unanswered, "UNANSWERED")
	flag(o.Flagged, "FLAGGED")
	flag(o.Unflagged, "UNFLAGGED")
	flag(o.Draft, "DRAFT")
	flag(o.Undraft, "UNDRAFT")
	flag(o.Deleted, "DELETED")
	flag(o.Undeleted, "UNDELETED")
	flag(o.Recent, "RECENT")
	flag(o.New, "NEW")
	flag(o.Old, "OLD")

	e.textKey("FROM", o.From)
	e.textKey("TO", o.To)
	e.textKey("CC", o.Cc)
	e.textKey("BCC", o.Bcc)
	e.textKey("SUBJECT", o.Subject)
	e.textKey("BODY", o.Body)
	e.textKey("TEXT", o.Text)

	e.dateKey("SINCE", o.Since)
	e.dateKey("BEFORE", o.Before)
	e.dateKey("ON", o.On)
	e.dateKey("SENTSINCE", o.SentSince)
	e.dateKey("SENTBEFORE", o.SentBefore)
	e.dateKey("SENTON", o.SentOn)

	if o.HasLarger {
		e.emit(wire.Atom("LARGER"), wire.Number(o.Larger))
	}
	if o.HasSmaller {
		e.emit(wire.Atom("SMALLER"), wire.Number(o.Smaller))
	}
	if o.UID != "" {
		e.emit(wire.Atom("UID"), wire.Atom(o.UID))
	}
	if o.Keyword != "" {
		e.emit(wire.Atom("KEYWORD"), wire.Atom(o.Keyword))
	}
	if o.Unkeyword != "" {
		e.emit(wire.Atom("UNKEYWORD"), wire.Atom(o.Unkeyword))
	}

	for key, val := range o.Header {
		e.emit(wire.Atom("HEADER"), wire.Atom(key), e.stringNode(val))
	}

	if len(o.Or) == 1 {
		e.emit(e.subExprNodes(o.Or[0])...)
	} else if len(o.Or) > 1 {
		e.emit(e.nestedOr(o.Or))
	}

	if o.Not != nil {
		e.emit(wire.Atom("NOT"), e.parenthesized(o.Not))
	}
}

// nestedOr builds the right-nested OR tree IMAP's binary OR requires
// for more than two alternatives: OR(a, OR(b, OR(c, d))).
func (e *encoder) nestedOr(items []*Object) *wire.Node {
	if len(items) == 1 {
		return e.parenthesized(items[0])
	}
	return wire.List(wire.Atom("OR"), e.parenthesized(items[0]), e.nestedOr(items[1:]))
}

func (e *encoder) parenthesized(o *Object) *wire.Node {
	return wire.List(e.subExprNodes(o)...)
}

func (e *encoder) subExprNodes(o *Object) []*wire.Node {
	sub := &encoder{utf8Accept: e.utf8Accept}
	sub.encode(o)
	if sub.needsCharset {
		e.needsCharset = true
	}
	return sub.nodes
}

func (e *encoder) textKey(key, value string) {
	if value == "" {
		return
	}
	e.emit(wire.Atom(key), e.stringNode(value))
}

func (e *encoder) dateKey(key string, t time.Time) {
	if t.IsZero() {
		return
	}
	e.emit(wire.Atom(key), wire.Atom(t.Format(dateLayout)))
}

// stringNode renders value as a quoted string, or as a literal when it
// contains non-ASCII bytes and the server hasn't enabled UTF8=ACCEPT
// (in which case a CHARSET UTF-8 prefix is also required).
func (e *encoder) stringNode(value string) *wire.Node {
	if !e.utf8Accept && hasNonASCII(value) {
		e.needsCharset = true
		return wire.Literal([]byte(value))
	}
	return wire.QuotedString(value)
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7E {
			return true
		}
	}
	return false
}
