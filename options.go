package goimap

import (
	"crypto/tls"
	"time"

	"github.com/arlojansen/goimap/internal/auth"
	"github.com/arlojansen/goimap/internal/logging"
	"github.com/arlojansen/goimap/internal/session"
)

// Mechanism identifies a SASL mechanism AUTHENTICATE may use.
type Mechanism = auth.Mechanism

const (
	MechanismPlain       = auth.MechanismPlain
	MechanismLogin       = auth.MechanismLogin
	MechanismOAuthBearer = auth.MechanismOAuthBearer
	MechanismXOAuth2     = auth.MechanismXOAuth2
)

// Credentials carries everything any supported mechanism might need;
// unused fields for a given mechanism are ignored.
type Credentials = auth.Credentials

// StartTLSMode pins whether opportunistic STARTTLS is attempted on a
// non-implicit-TLS connection.
type StartTLSMode = session.StartTLSMode

const (
	StartTLSAuto    = session.StartTLSAuto
	StartTLSRequire = session.StartTLSRequire
	StartTLSNever   = session.StartTLSNever
)

// DialOptions configures Dial: where to connect, how to secure and
// authenticate the connection, and which extensions to enable.
type DialOptions struct {
	Host string
	Port int

	// Secure selects implicit TLS (the "imaps" convention, port 993).
	// When false, StartTLSMode governs whether STARTTLS is attempted on
	// the plaintext connection instead.
	Secure       bool
	TLSConfig    *tls.Config
	StartTLSMode StartTLSMode

	// ProxyURL routes the initial TCP connection through an upstream
	// proxy: "socks5://[user:pass@]host:port" or
	// "http://[user:pass@]host:port". Empty dials directly.
	ProxyURL       string
	ConnectTimeout time.Duration

	Credentials Credentials
	Mechanism   Mechanism // empty selects automatically
	UseLogin    bool      // skip SASL and issue LOGIN directly

	// EnableNames lists extensions to request via ENABLE once
	// authenticated (e.g. "CONDSTORE", "UTF8=ACCEPT", "QRESYNC").
	EnableNames []string

	// Compress requests COMPRESS=DEFLATE once authenticated, if the
	// server advertises it.
	Compress bool

	// MaxIdleTime bounds how long a single IDLE command is held open
	// before it's broken and restarted (0 disables the break/restart,
	// relying solely on the server's own inactivity timeout).
	MaxIdleTime time.Duration

	Logger *logging.Logger
	Events Events
}

// FetchItems selects which attributes a Fetch/FetchOne/FetchAll call
// retrieves. A zero value retrieves nothing beyond the implicit UID.
type FetchItems struct {
	Envelope      bool
	BodyStructure bool
	Flags         bool
	InternalDate  bool
	Size          bool
	ModSeq        bool
	Headers       bool // BODY.PEEK[HEADER], the message header
	Source        bool // BODY.PEEK[], the entire message

	// Sections requests specific BODY.PEEK[section] parts, e.g. "TEXT",
	// "1.MIME", "HEADER.FIELDS (To From)".
	Sections []string

	// GmailExtensions requests X-GM-MSGID/X-GM-THRID/X-GM-LABELS when
	// the server advertises X-GM-EXT-1.
	GmailExtensions bool
}

// FetchOptions configures one Fetch/FetchOne/FetchAll call.
type FetchOptions struct {
	UID   bool // Range is a set of UIDs rather than sequence numbers
	Items FetchItems
}

// StoreMode selects how Store applies its flag list.
type StoreMode int

const (
	StoreSet StoreMode = iota
	StoreAdd
	StoreRemove
)

// StoreOptions configures a Store call.
type StoreOptions struct {
	UID    bool
	Mode   StoreMode
	Flags  []string
	Silent bool // request .SILENT, suppressing the server's FETCH echo
	// UnchangedSince requires CONDSTORE; the STORE is rejected with a
	// MODIFIED response code for any message whose MODSEQ has advanced
	// past this value since the caller last observed it.
	UnchangedSince uint64
	HasUnchangedSince bool
}

// AppendOptions configures an Append call.
type AppendOptions struct {
	Flags        []string
	InternalDate time.Time
	HasDate      bool
}

// DownloadOptions configures a Download/DownloadMany call.
type DownloadOptions struct {
	UID       bool
	Part      string // dotted MIME part number, default "1"
	ChunkSize uint32 // default download.DefaultChunkSize
	MaxBytes  uint64 // 0 = unlimited
}

// ListOptions configures a List call.
type ListOptions struct {
	Reference string
	Pattern   string // "*" for every mailbox, "%" for one level
	// SubscribedOnly restricts the listing to subscribed mailboxes
	// (LSUB, or LIST with the SUBSCRIBED selection option).
	SubscribedOnly bool
}

// MailboxInfo is one row of a List result.
type MailboxInfo struct {
	Path       string
	Delimiter  string
	Flags      []string
	SpecialUse string
	Subscribed bool
}

// StatusItems selects which STATUS attributes to retrieve.
type StatusItems struct {
	Messages      bool
	Recent        bool
	UIDNext       bool
	UIDValidity   bool
	Unseen        bool
	HighestModseq bool
	Size          bool // STATUS=SIZE extension
}

// StatusResult is the decoded STATUS response.
type StatusResult struct {
	Path             string
	Messages         uint32
	HasMessages      bool
	Recent           uint32
	HasRecent        bool
	UIDNext          uint32
	HasUIDNext       bool
	UIDValidity      uint64
	HasUIDValidity   bool
	Unseen           uint32
	HasUnseen        bool
	HighestModseq    uint64
	HasHighestModseq bool
	Size             uint64
	HasSize          bool
}

// QuotaResource is one GETQUOTA resource/usage/limit triple.
type QuotaResource struct {
	Name  string
	Usage uint64
	Limit uint64
}
