// Client is built around a single cooperatively-scheduled connection:
// one goroutine frames and parses inbound bytes, tagged commands queue
// FIFO behind it, and untagged pushes (EXISTS, EXPUNGE, FETCH, FLAGS,
// BYE) reach the caller through registered event callbacks instead of
// blocking the command in flight.
package goimap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/arlojansen/goimap/internal/capability"
	"github.com/arlojansen/goimap/internal/download"
	"github.com/arlojansen/goimap/internal/envelope"
	"github.com/arlojansen/goimap/internal/fetchmsg"
	"github.com/arlojansen/goimap/internal/logging"
	"github.com/arlojansen/goimap/internal/mailboxpath"
	"github.com/arlojansen/goimap/internal/metrics"
	"github.com/arlojansen/goimap/internal/session"
	"github.com/arlojansen/goimap/internal/textdecode"
	"github.com/arlojansen/goimap/internal/transport"
	"github.com/arlojansen/goimap/internal/wire"
)

// ErrNoMailboxSelected is returned by operations that require a
// currently selected mailbox (Fetch, Store, Search, Download,
// DownloadMany, Expunge, MessageCopy, MessageMove) when none has been
// selected yet.
var ErrNoMailboxSelected = errors.New("goimap: no mailbox selected")

// ErrNoSuchMessage is returned by Download when rangeInput resolves to
// "*" against an empty mailbox: there is no newest message to stream.
var ErrNoSuchMessage = errors.New("goimap: no such message")

// Client drives one IMAP connection. All of its methods are safe to
// call concurrently; the underlying scheduler serializes the commands
// they issue onto the single wire connection.
type Client struct {
	conn   *session.Conn
	lock   *session.LockQueue
	idle   *session.Supervisor
	codec  *mailboxpath.Codec
	dec    textdecode.HeaderDecoder
	charsetFactory textdecode.CharsetDecoderFactory
	logger *logging.Logger
	events Events

	mu          sync.Mutex
	mailbox     *fetchmsg.Mailbox
	currentLock *session.Lock

	runErr chan error
}

// Dial opens a TCP (optionally proxied) connection, upgrades it per
// opts.Secure/StartTLSMode, and drives the full greeting/STARTTLS/
// authenticate/ENABLE/COMPRESS bootstrap sequence before returning a
// ready-to-use Client.
func Dial(ctx context.Context, opts DialOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	dialer := &transport.Dialer{ProxyURL: opts.ProxyURL, ConnectTimeout: opts.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, opts.Host, opts.Port)
	if err != nil {
		return nil, fmt.Errorf("goimap: dialing %s:%d: %w", opts.Host, opts.Port, err)
	}

	tlsCfg := opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: opts.Host}
	}

	var rw io.ReadWriteCloser = rawConn
	if opts.Secure {
		rw, err = transport.UpgradeTLS(ctx, rawConn, tlsCfg)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("goimap: TLS handshake: %w", err)
		}
	}

	conn := session.NewConn(rw)
	greeting, err := conn.ReadGreeting()
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("goimap: reading greeting: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run() }()

	c := &Client{
		conn:           conn,
		codec:          &mailboxpath.Codec{},
		dec:            textdecode.NewHeaderDecoder(),
		charsetFactory: textdecode.DefaultCharsetDecoderFactory,
		logger:         logger.Session(),
		events:         opts.Events,
		mailbox:        &fetchmsg.Mailbox{},
		runErr:         runErr,
	}
	c.installHandlers()
	c.lock = session.NewLockQueue(conn)

	bootstrapOpts := session.BootstrapOptions{
		StartTLSMode: opts.StartTLSMode,
		Upgrade: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return transport.UpgradeTLS(ctx, rawConn, tlsCfg)
		},
		Mechanism:   opts.Mechanism,
		Credentials: opts.Credentials,
		UseLogin:    opts.UseLogin,
		EnableNames: opts.EnableNames,
		Compress:    opts.Compress,
		CompressUpgrade: func(rw io.ReadWriteCloser) (io.ReadWriteCloser, error) {
			return transport.WrapCompress(rw), nil
		},
	}
	if err := conn.Open(ctx, greeting, bootstrapOpts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("goimap: opening session: %w", err)
	}
	c.codec.UTF8AcceptActive = conn.Capabilities().UTF8Accept()

	c.idle = session.NewSupervisor(conn, conn.Capabilities().IdleSupported(), opts.MaxIdleTime)
	c.idle.Arm()

	go c.watchClose()
	return c, nil
}

func (c *Client) watchClose() {
	err := <-c.runErr
	metrics.Reconnects.Inc()
	if c.idle != nil {
		c.idle.Disable()
	}
	if c.events.OnClose != nil {
		c.events.OnClose(err)
	}
}

// Close closes the underlying connection without sending LOGOUT.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Logout issues LOGOUT and closes the connection.
func (c *Client) Logout(ctx context.Context) error {
	_, _, err := c.exec(ctx, "LOGOUT", nil, nil)
	c.conn.Close()
	return err
}

// exec wraps Conn.Exec with the idle supervisor's activity bracket: any
// outstanding IDLE is broken before a command is sent and the
// inactivity timer is rearmed once it completes, exactly as NOOP or
// any other explicit command would.
func (c *Client) exec(ctx context.Context, command string, attrs []*wire.Node, onPlusTag session.OnPlusTag) (*wire.Response, []*wire.Response, error) {
	if c.idle != nil {
		c.idle.NotifyActivity(ctx)
	}
	resp, untagged, err := c.conn.Exec(ctx, command, attrs, onPlusTag)
	if c.idle != nil {
		c.idle.Arm()
	}
	return resp, untagged, err
}

// Capabilities returns the most recently negotiated capability set.
func (c *Client) Capabilities() *capability.Set {
	return c.conn.Capabilities()
}

// Mailbox returns a snapshot of the currently selected mailbox's state.
// The zero value (Path == "") means nothing is selected.
func (c *Client) Mailbox() Mailbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.mailbox
}

// installHandlers wires the session-wide untagged handlers that keep
// Client's mailbox view current and drive the optional event
// callbacks. These run only when no command-scoped override is
// installed (Fetch/Search/Store/Download all install one while their
// own command is in flight), so unsolicited pushes and explicit fetch
// results never collide.
func (c *Client) installHandlers() {
	d := c.conn.Dispatcher()

	d.On("EXISTS", func(resp *wire.Response, num uint32, hasNum bool) {
		c.mu.Lock()
		c.mailbox.Exists = num
		c.mu.Unlock()
		if c.events.OnExists != nil {
			c.events.OnExists(num)
		}
	})

	d.On("EXPUNGE", func(resp *wire.Response, num uint32, hasNum bool) {
		c.mu.Lock()
		if c.mailbox.Exists > 0 {
			c.mailbox.Exists--
		}
		c.mu.Unlock()
		if c.events.OnExpunge != nil {
			c.events.OnExpunge(num)
		}
	})

	d.On("FLAGS", func(resp *wire.Response, num uint32, hasNum bool) {
		if len(resp.Attributes) == 0 {
			return
		}
		flags := parseFlagSet(resp.Attributes[0])
		c.mu.Lock()
		c.mailbox.Flags = flags
		c.mu.Unlock()
	})

	d.On("FETCH", func(resp *wire.Response, num uint32, hasNum bool) {
		c.mu.Lock()
		msg, kind, err := fetchmsg.Assemble(num, fetchAttrList(resp), c.mailbox, c.dec)
		c.mu.Unlock()
		if err != nil {
			if c.events.OnError != nil {
				c.events.OnError(fmt.Errorf("goimap: unsolicited FETCH: %w", err))
			}
			return
		}
		if kind == fetchmsg.EventFlagsOnly {
			if c.events.OnFlags != nil {
				c.events.OnFlags(msg)
			}
			return
		}
		if c.events.OnFetch != nil {
			c.events.OnFetch(msg)
		}
	})

	d.On("OK", func(resp *wire.Response, num uint32, hasNum bool) {
		c.applyResponseCode(resp)
	})
}

// applyResponseCode folds a bracketed "[CODE ...]" response code from
// an untagged OK status into the mailbox snapshot.
func (c *Client) applyResponseCode(resp *wire.Response) {
	if len(resp.Attributes) == 0 {
		return
	}
	sec := resp.Attributes[0]
	if sec.Kind != wire.KindSection || len(sec.Children) == 0 {
		return
	}
	code := sec.Children[0]
	if code.Kind != wire.KindAtom {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToUpper(code.Atom) {
	case "UIDVALIDITY":
		if len(sec.Children) > 1 {
			if v, ok := numericValue(sec.Children[1]); ok {
				c.mailbox.UIDValidity = v
			}
		}
	case "UIDNEXT":
		if len(sec.Children) > 1 {
			if v, ok := numericValue(sec.Children[1]); ok {
				c.mailbox.UIDNext = uint32(v)
			}
		}
	case "HIGHESTMODSEQ":
		if len(sec.Children) > 1 {
			if v, ok := numericValue(sec.Children[1]); ok {
				c.mailbox.HighestModseq = v
			}
		}
	case "NOMODSEQ":
		c.mailbox.NoModseq = true
	case "PERMANENTFLAGS":
		if len(sec.Children) > 1 {
			c.mailbox.PermanentFlags = parseFlagSet(sec.Children[1])
		}
	}
}

func parseFlagSet(n *wire.Node) map[string]bool {
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

// fetchAttrList finds the parenthesized key/value attribute list among
// an untagged FETCH response's attributes (the rest being the "FETCH"
// keyword token itself).
func fetchAttrList(resp *wire.Response) *wire.Node {
	for _, a := range resp.Attributes {
		if a.Kind == wire.KindList {
			return a
		}
	}
	return nil
}

func numericValue(n *wire.Node) (uint64, bool) {
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

// runFetch issues a (UID) FETCH for rangeStr with the given attribute
// items, invoking onMsg for each assembled untagged FETCH row observed
// before the command's tagged response.
func (c *Client) runFetch(ctx context.Context, uid bool, rangeStr string, items []*wire.Node, onMsg func(*FetchMessage)) error {
	var firstErr error
	c.conn.Dispatcher().SetOverrides(map[string]session.Handler{
		"FETCH": func(resp *wire.Response, num uint32, hasNum bool) {
			c.mu.Lock()
			msg, _, err := fetchmsg.Assemble(num, fetchAttrList(resp), c.mailbox, c.dec)
			c.mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if onMsg != nil {
				onMsg(msg)
			}
		},
	})
	defer c.conn.Dispatcher().SetOverrides(nil)

	command := "FETCH"
	if uid {
		command = "UID FETCH"
	}
	execAttrs := []*wire.Node{wire.Atom(rangeStr), wire.List(items...)}
	if _, _, err := c.exec(ctx, command, execAttrs, nil); err != nil {
		return err
	}
	return firstErr
}

func (c *Client) requireSelected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentLock == nil {
		return ErrNoMailboxSelected
	}
	return nil
}

// downloadConn adapts Client to internal/download.Conn without
// exposing its narrow FetchBodyStructure/FetchSlice plumbing as part
// of Client's own public surface.
type downloadConn struct{ c *Client }

func (a downloadConn) FetchBodyStructure(ctx context.Context, ref download.Ref) (*envelope.BodyPart, error) {
	uid, rangeStr := refToRange(ref)
	var bs *envelope.BodyPart
	err := a.c.runFetch(ctx, uid, rangeStr, []*wire.Node{wire.Atom("BODYSTRUCTURE")}, func(msg *FetchMessage) {
		bs = msg.BodyStructure
	})
	return bs, err
}

func (a downloadConn) FetchSlice(ctx context.Context, ref download.Ref, section string, start, length uint32) ([]byte, uint32, error) {
	uid, rangeStr := refToRange(ref)
	item := fmt.Sprintf("BODY.PEEK[%s]<%d.%d>", section, start, length)
	var data []byte
	var gotUID uint32
	err := a.c.runFetch(ctx, uid, rangeStr, []*wire.Node{wire.Atom(item), wire.Atom("UID")}, func(msg *FetchMessage) {
		if msg.HasUID {
			gotUID = msg.UID
		}
		for k, v := range msg.BodyParts {
			if strings.HasPrefix(k, "BODY[") {
				data = v
			}
		}
	})
	return data, gotUID, err
}

func refToRange(ref download.Ref) (uid bool, rangeStr string) {
	if ref.HasUID {
		return true, strconv.FormatUint(uint64(ref.UID), 10)
	}
	return false, strconv.FormatUint(uint64(ref.Seq), 10)
}
