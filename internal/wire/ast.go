// Package wire implements the IMAP4rev1 wire codec: an incremental
// line/literal framer, a response-to-AST parser, and a request compiler.
// Nothing here understands IMAP semantics (mailbox state, commands as
// operations) — that lives in internal/session and the packages it calls.
package wire

// Kind identifies the syntactic category of a Node.
type Kind int

const (
	KindAtom Kind = iota
	KindQuoted
	KindLiteral
	KindNumber
	KindBigNumber
	KindList
	KindSection
	KindNil
)

func (k Kind) String() string {
	switch k {
	case KindAtom:
		return "atom"
	case KindQuoted:
		return "quoted"
	case KindLiteral:
		return "literal"
	case KindNumber:
		return "number"
	case KindBigNumber:
		return "bignumber"
	case KindList:
		return "list"
	case KindSection:
		return "section"
	case KindNil:
		return "nil"
	default:
		return "unknown"
	}
}

// Partial captures a trailing <start.length> or <start> range suffix,
// as seen on literal and section values (e.g. BODY[TEXT]<0.2048>).
type Partial struct {
	Start     uint64
	HasLength bool
	Length    uint64
}

// Node is a single value in a parsed response or a compiled request.
// Only the fields relevant to Kind are meaningful; the rest are zero.
type Node struct {
	Kind Kind

	Atom string // KindAtom, and the prefix name for KindSection (e.g. "BODY.PEEK")
	Str  string // KindQuoted

	// Sensitive marks a KindQuoted value (e.g. a password) that must be
	// redacted rather than rendered verbatim in logs. The compiler still
	// picks the real wire representation; only the logging form changes.
	Sensitive bool

	Bytes []byte // KindLiteral

	Num    uint64 // KindNumber
	BigNum string // KindBigNumber, decimal digits, for values overflowing uint64-safe integer math

	Children []*Node // KindList entries, or KindSection bracket contents

	Partial *Partial // optional, attached to KindLiteral or KindSection
}

// Atom builds a bare, unquoted token.
func Atom(s string) *Node { return &Node{Kind: KindAtom, Atom: s} }

// QuotedString builds a logical string value. When used in a request the
// compiler chooses its actual wire representation (atom, quoted string,
// or literal) from its contents; when used in a response it is exactly
// what the server sent.
func QuotedString(s string) *Node { return &Node{Kind: KindQuoted, Str: s} }

// Sensitive builds a logical string value flagged for log redaction.
func SensitiveString(s string) *Node { return &Node{Kind: KindQuoted, Str: s, Sensitive: true} }

// Literal builds a value that must always be sent as an IMAP literal,
// regardless of its contents (used for message bodies, search text that
// must survive 8-bit bytes untouched, and so on).
func Literal(b []byte) *Node { return &Node{Kind: KindLiteral, Bytes: b} }

// Number builds a numeric token.
func Number(n uint64) *Node { return &Node{Kind: KindNumber, Num: n} }

// BigNumber builds a numeric token kept as decimal digits; the parser
// produces one for values at or above 2^53.
func BigNumber(digits string) *Node { return &Node{Kind: KindBigNumber, BigNum: digits} }

// List builds a parenthesized list.
func List(children ...*Node) *Node { return &Node{Kind: KindList, Children: children} }

// Nil builds the IMAP NIL atom.
func Nil() *Node { return &Node{Kind: KindNil} }

// Section builds a bracketed section attached to a prefix atom, e.g.
// BODY[HEADER.FIELDS (To From)]<0.1024>.
func Section(prefix string, children []*Node, partial *Partial) *Node {
	return &Node{Kind: KindSection, Atom: prefix, Children: children, Partial: partial}
}

// Response is a single parsed server response: one line (or a line plus
// its literals) reduced to a tag, a command/status word, and attributes.
//
// For a `+` continuation, Tag is "+", Command is empty, and Attributes
// holds exactly one QuotedString node carrying the continuation text.
//
// For an untagged numeric response such as "* 12 EXISTS", Command holds
// the literal text "12" and Attributes[0] holds the Atom "EXISTS"; the
// dispatcher is responsible for recognizing the numeric-command shape
// and using Attributes[0] as the event name instead of Command.
type Response struct {
	Tag        string
	Command    string
	Attributes []*Node
}

// IsContinuation reports whether this is a `+` continuation request.
func (r *Response) IsContinuation() bool { return r.Tag == "+" }

// IsUntagged reports whether this is an untagged (`*`) response.
func (r *Response) IsUntagged() bool { return r.Tag == "*" }

// Request is a request AST ready for compilation: a tag, a command verb,
// and its argument nodes.
type Request struct {
	Tag        string
	Command    string
	Attributes []*Node
}
