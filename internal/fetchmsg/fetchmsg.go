package fetchmsg

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arlojansen/goimap/internal/envelope"
	"github.com/arlojansen/goimap/internal/textdecode"
	"github.com/arlojansen/goimap/internal/wire"
)

// FlagColor is the Apple Mail-compatible color derived from \Flagged
// plus the three $MailFlagBit* keyword flags.
type FlagColor string

const (
	ColorRed    FlagColor = "red"
	ColorOrange FlagColor = "orange"
	ColorYellow FlagColor = "yellow"
	ColorGreen  FlagColor = "green"
	ColorBlue   FlagColor = "blue"
	ColorPurple FlagColor = "purple"
	ColorGrey   FlagColor = "grey"
)

var colorByBits = [8]FlagColor{
	0: ColorRed, 1: ColorOrange, 2: ColorYellow, 3: ColorGreen,
	4: ColorBlue, 5: ColorPurple, 6: ColorGrey,
	7: ColorRed, // not an Apple Mail-documented state; kept for parity with observed behavior
}

// FetchMessage is the assembled record for one untagged FETCH response.
type FetchMessage struct {
	Seq           uint32
	UID           uint32
	HasUID        bool
	Modseq        uint64
	HasModseq     bool
	Flags         map[string]bool
	FlagColor     FlagColor
	HasFlagColor  bool
	Size          uint64
	HasSize       bool
	Envelope      *envelope.Envelope
	BodyStructure *envelope.BodyPart
	InternalDate  time.Time
	HasInternalDate bool
	BodyParts     map[string][]byte
	Headers       []byte
	Source        []byte
	EmailID       string
	ThreadID      string
	Labels        map[string]bool
	ID            string
}

// EventKind distinguishes an untagged FETCH that carries only flag
// information (a common unsolicited server push) from a full fetch.
type EventKind int

const (
	EventFull EventKind = iota
	EventFlagsOnly
)

// Assemble folds an untagged FETCH response's attribute list (the
// single List child alternating key/value pairs) into a FetchMessage,
// updating mailbox's UIDNext/HighestModseq as a side effect.
func Assemble(seq uint32, attrs *wire.Node, mailbox *Mailbox, dec textdecode.HeaderDecoder) (*FetchMessage, EventKind, error) {
	if attrs == nil || attrs.Kind != wire.KindList {
		return nil, EventFull, fmt.Errorf("fetchmsg: FETCH attribute list is not a list")
	}

	fm := &FetchMessage{Seq: seq}
	keysSeen := make(map[string]bool)
	var flagBits int
	var haveFlagBits bool

	for i := 0; i+1 < len(attrs.Children); i += 2 {
		key, value := attrs.Children[i], attrs.Children[i+1]
		name := keyName(key)
		keysSeen[name] = true

		switch name {
		case "UID":
			if n, ok := asUint32(value); ok {
				fm.UID, fm.HasUID = n, true
				mailbox.ObserveUID(n)
			}
		case "MODSEQ":
			if n, ok := asUint64(firstIfSingletonList(value)); ok {
				fm.Modseq, fm.HasModseq = n, true
				mailbox.ObserveModseq(n)
			}
		case "FLAGS":
			fm.Flags = parseFlagList(value)
			bits, ok := flagBitsFromKeywords(fm.Flags)
			flagBits, haveFlagBits = bits, ok
		case "RFC822.SIZE":
			if n, ok := asUint64(value); ok {
				fm.Size, fm.HasSize = n, true
			}
		case "ENVELOPE":
			env, err := envelope.ParseEnvelope(value, dec)
			if err != nil {
				return nil, EventFull, err
			}
			fm.Envelope = env
		case "BODYSTRUCTURE", "BODY":
			if key.Kind == wire.KindAtom {
				bp, err := envelope.ParseBodyStructure(value, dec)
				if err != nil {
					return nil, EventFull, err
				}
				fm.BodyStructure = bp
			} else {
				storeBodyPart(fm, key, value)
			}
		case "BINARY":
			storeBodyPart(fm, key, value)
		case "INTERNALDATE":
			if s, ok := stringValue(value); ok {
				if t, err := parseInternalDate(s); err == nil {
					fm.InternalDate, fm.HasInternalDate = t, true
				}
			}
		case "RFC822.HEADER":
			fm.Headers = bytesValue(value)
		case "RFC822":
			fm.Source = bytesValue(value)
		case "X-GM-MSGID", "EMAILID":
			if s, ok := stringValue(value); ok {
				fm.EmailID = s
			}
		case "X-GM-THRID", "THREADID":
			if s, ok := stringValue(value); ok {
				fm.ThreadID = s
			}
		case "X-GM-LABELS":
			fm.Labels = parseFlagList(value)
		}
	}

	if haveFlagBits && fm.Flags[`\Flagged`] {
		fm.FlagColor = colorByBits[flagBits&0x7]
		fm.HasFlagColor = true
	}

	fm.ID = deriveID(fm, mailbox)

	event := EventFull
	if isFlagsOnly(keysSeen) {
		event = EventFlagsOnly
	}
	return fm, event, nil
}

func isFlagsOnly(keys map[string]bool) bool {
	if !keys["FLAGS"] {
		return false
	}
	for k := range keys {
		if k != "FLAGS" && k != "UID" {
			return false
		}
	}
	return true
}

// keyName normalizes a FETCH attribute key to upper-case, stripping the
// body[...]/binary[...] section suffix (the issuer already knows the
// byte offsets it asked for).
func keyName(key *wire.Node) string {
	switch key.Kind {
	case wire.KindAtom:
		return strings.ToUpper(key.Atom)
	case wire.KindSection:
		return strings.ToUpper(key.Atom)
	default:
		return ""
	}
}

// storeBodyPart keys the raw bytes by the section descriptor text
// (e.g. "TEXT", "HEADER.FIELDS (TO FROM)", "" for the whole message),
// prefixed by BODY or BINARY so the two namespaces don't collide.
func storeBodyPart(fm *FetchMessage, key *wire.Node, value *wire.Node) {
	if fm.BodyParts == nil {
		fm.BodyParts = make(map[string][]byte)
	}
	descriptor := renderSection(key)
	prefix := strings.ToUpper(key.Atom)
	fm.BodyParts[prefix+"["+descriptor+"]"] = bytesValue(value)
}

func renderSection(key *wire.Node) string {
	parts := make([]string, 0, len(key.Children))
	for _, c := range key.Children {
		parts = append(parts, renderSectionNode(c))
	}
	return strings.Join(parts, " ")
}

func renderSectionNode(n *wire.Node) string {
	switch n.Kind {
	case wire.KindAtom:
		return n.Atom
	case wire.KindNumber:
		return strconv.FormatUint(n.Num, 10)
	case wire.KindList:
		items := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			items = append(items, renderSectionNode(c))
		}
		return "(" + strings.Join(items, " ") + ")"
	default:
		return ""
	}
}

func parseFlagList(n *wire.Node) map[string]bool {
	if n == nil || n.Kind != wire.KindList {
		return nil
	}
	out := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		if c.Kind == wire.KindAtom {
			out[c.Atom] = true
		}
	}
	return out
}

// flagBitsFromKeywords combines the 3-bit value from the
// $MailFlagBit0/1/2 keyword flags (Apple Mail's flag-color encoding).
func flagBitsFromKeywords(flags map[string]bool) (int, bool) {
	if flags == nil {
		return 0, false
	}
	bits := 0
	any := false
	if flags["$MailFlagBit0"] {
		bits |= 1
		any = true
	}
	if flags["$MailFlagBit1"] {
		bits |= 2
		any = true
	}
	if flags["$MailFlagBit2"] {
		bits |= 4
		any = true
	}
	return bits, any
}

func firstIfSingletonList(n *wire.Node) *wire.Node {
	if n.Kind == wire.KindList && len(n.Children) == 1 {
		return n.Children[0]
	}
	return n
}

func asUint32(n *wire.Node) (uint32, bool) {
	v, ok := asUint64(n)
	return uint32(v), ok
}

func asUint64(n *wire.Node) (uint64, bool) {
	if n == nil {
		return 0, false
	}
	switch n.Kind {
	case wire.KindNumber:
		return n.Num, true
	case wire.KindBigNumber:
		v, err := strconv.ParseUint(n.BigNum, 10, 64)
		return v, err == nil
	default:
		return 0, false
	}
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
	default:
		return "", false
	}
}

func bytesValue(n *wire.Node) []byte {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case wire.KindLiteral:
		return n.Bytes
	case wire.KindQuoted:
		return []byte(n.Str)
	default:
		return nil
	}
}

func parseInternalDate(s string) (time.Time, error) {
	return time.Parse("02-Jan-2006 15:04:05 -0700", s)
}

// deriveID uses the server-provided email id when present, else an MD5
// of "path:uidValidity:uid" as a stable fallback identifier.
func deriveID(fm *FetchMessage, mailbox *Mailbox) string {
	if fm.EmailID != "" {
		return fm.EmailID
	}
	if !fm.HasUID {
		return ""
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d", mailbox.Path, mailbox.UIDValidity, fm.UID)))
	return hex.EncodeToString(sum[:])
}
