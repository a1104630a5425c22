package goimap

import (
	"github.com/arlojansen/goimap/internal/envelope"
	"github.com/arlojansen/goimap/internal/fetchmsg"
	"github.com/arlojansen/goimap/internal/search"
)

// Mailbox is the client's live view of the currently selected mailbox:
// its flags, message count, and UID/MODSEQ watermarks, kept current by
// untagged server pushes for as long as it stays selected.
type Mailbox = fetchmsg.Mailbox

// FetchMessage is one assembled FETCH row: whichever fields the caller
// asked for (or the server pushed unsolicited), decoded into typed
// values.
type FetchMessage = fetchmsg.FetchMessage

// FlagColor is the Apple Mail-compatible color derived from \Flagged
// plus the three $MailFlagBit* keyword flags.
type FlagColor = fetchmsg.FlagColor

const (
	ColorRed    = fetchmsg.ColorRed
	ColorOrange = fetchmsg.ColorOrange
	ColorYellow = fetchmsg.ColorYellow
	ColorGreen  = fetchmsg.ColorGreen
	ColorBlue   = fetchmsg.ColorBlue
	ColorPurple = fetchmsg.ColorPurple
	ColorGrey   = fetchmsg.ColorGrey
)

// Envelope is the decoded ENVELOPE of a message.
type Envelope = envelope.Envelope

// Address is one participant of an envelope address list.
type Address = envelope.Address

// BodyPart is one node of a decoded BODYSTRUCTURE tree.
type BodyPart = envelope.BodyPart

// SearchQuery is a structured IMAP SEARCH query; zero-valued fields
// are omitted, all directly-set fields combine with an implicit AND.
type SearchQuery = search.Object

// OnExistsFunc fires on every untagged "* N EXISTS", including the one
// that immediately follows SELECT/EXAMINE.
type OnExistsFunc func(count uint32)

// OnExpungeFunc fires on every untagged "* N EXPUNGE".
type OnExpungeFunc func(seq uint32)

// OnFetchFunc fires on an unsolicited full FETCH push (not one
// requested by an in-flight Fetch/Search/Store call, which deliver
// their own rows directly to their caller).
type OnFetchFunc func(msg *FetchMessage)

// OnFlagsFunc fires on an unsolicited flags-only FETCH push (a FETCH
// whose only attributes are FLAGS and, optionally, UID).
type OnFlagsFunc func(msg *FetchMessage)

// OnMailboxOpenFunc fires once a SELECT/EXAMINE completes and mailbox
// state is populated.
type OnMailboxOpenFunc func(mailbox *Mailbox)

// OnMailboxCloseFunc fires when the selected mailbox lock is released.
type OnMailboxCloseFunc func()

// OnLogFunc receives a line from the connection's structured logger,
// for callers who want a second sink beyond *logging.Logger's own
// configured output.
type OnLogFunc func(level string, msg string, fields map[string]any)

// OnErrorFunc fires on a non-fatal error observed outside the scope of
// a single call (a malformed untagged response that was dropped, an
// IDLE restart failure).
type OnErrorFunc func(err error)

// OnCloseFunc fires once the connection's read loop exits, carrying the
// error that ended it (nil for a caller-initiated Close).
type OnCloseFunc func(err error)

// Events bundles every optional callback a caller may register with
// DialOptions. A nil field is simply never invoked.
type Events struct {
	OnExists       OnExistsFunc
	OnExpunge      OnExpungeFunc
	OnFetch        OnFetchFunc
	OnFlags        OnFlagsFunc
	OnMailboxOpen  OnMailboxOpenFunc
	OnMailboxClose OnMailboxCloseFunc
	OnLog          OnLogFunc
	OnError        OnErrorFunc
	OnClose        OnCloseFunc
}
