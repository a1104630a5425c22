// Package envelope decodes IMAP ENVELOPE and BODYSTRUCTURE response
// values into typed trees. Address display names and MIME parameter
// values are decoded through the MIME-word and header decoder in
// internal/textdecode.
package envelope

import (
	"fmt"
	"strings"
	"time"

	"github.com/arlojansen/goimap/internal/textdecode"
	"github.com/arlojansen/goimap/internal/wire"
)

// Address is one parsed participant of an envelope address list.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// String renders the address as "mailbox@host", or just "mailbox" for
// group-start/group-end markers (host is NIL in that case).
func (a Address) String() string {
	if a.Host == "" {
		return a.Mailbox
	}
	return a.Mailbox + "@" + a.Host
}

// Envelope is the decoded form of an ENVELOPE response value.
type Envelope struct {
	Date       time.Time
	HasDate    bool
	Subject    string
	From       []Address
	Sender     []Address
	ReplyTo    []Address
	To         []Address
	Cc         []Address
	Bcc        []Address
	InReplyTo  string
	MessageID  string
}

// ParseEnvelope decodes the 10-field ENVELOPE list per RFC 3501 §7.4.2:
// date, subject, from, sender, reply-to, to, cc, bcc, in-reply-to,
// message-id.
func ParseEnvelope(n *wire.Node, dec textdecode.HeaderDecoder) (*Envelope, error) {
	if n == nil || n.Kind == wire.KindNil {
		return nil, nil
	}
	if n.Kind != wire.KindList || len(n.Children) < 10 {
		return nil, fmt.Errorf("envelope: expected a 10-field list, got %s", n.Kind)
	}
	f := n.Children

	e := &Envelope{}
	if s, ok := stringValue(f[0]); ok && s != "" {
		if t, err := parseEnvelopeDate(s); err == nil {
			e.Date = t
			e.HasDate = true
		}
	}
	if s, ok := stringValue(f[1]); ok {
		e.Subject = dec.DecodeWords(s)
	}
	var err error
	if e.From, err = parseAddressList(f[2], dec); err != nil {
		return nil, err
	}
	if e.Sender, err = parseAddressList(f[3], dec); err != nil {
		return nil, err
	}
	if e.ReplyTo, err = parseAddressList(f[4], dec); err != nil {
		return nil, err
	}
	if e.To, err = parseAddressList(f[5], dec); err != nil {
		return nil, err
	}
	if e.Cc, err = parseAddressList(f[6], dec); err != nil {
		return nil, err
	}
	if e.Bcc, err = parseAddressList(f[7], dec); err != nil {
		return nil, err
	}
	if s, ok := stringValue(f[8]); ok {
		e.InReplyTo = trimAngleBrackets(s)
	}
	if s, ok := stringValue(f[9]); ok {
		e.MessageID = trimAngleBrackets(s)
	}
	return e, nil
}

func parseAddressList(n *wire.Node, dec textdecode.HeaderDecoder) ([]Address, error) {
	if n == nil || n.Kind == wire.KindNil {
		return nil, nil
	}
	if n.Kind != wire.KindList {
		return nil, fmt.Errorf("envelope: expected an address list, got %s", n.Kind)
	}
	addrs := make([]Address, 0, len(n.Children))
	for _, item := range n.Children {
		if item.Kind != wire.KindList || len(item.Children) < 4 {
			return nil, fmt.Errorf("envelope: malformed address entry")
		}
		a := Address{}
		if s, ok := stringValue(item.Children[0]); ok {
			a.Name = dec.DecodeWords(s)
		}
		if s, ok := stringValue(item.Children[2]); ok {
			a.Mailbox = s
		}
		if s, ok := stringValue(item.Children[3]); ok {
			a.Host = s
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func stringValue(n *wire.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Kind {
	case wire.KindQuoted:
		return n.Str, true
	case wire.KindLiteral:
		return string(n.Bytes), true
	case wire.KindAtom:
		return n.Atom, true
	case wire.KindNil:
		return "", false
	default:
		return "", false
	}
}

func trimAngleBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

// parseEnvelopeDate tolerates the handful of Date-header shapes real
// servers actually emit inside ENVELOPE, trying RFC 1123 first since
// it's by far the most common.
func parseEnvelopeDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
