package goimap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/arlojansen/goimap/internal/classify"
	"github.com/arlojansen/goimap/internal/download"
	"github.com/arlojansen/goimap/internal/fetchmsg"
	"github.com/arlojansen/goimap/internal/metrics"
	"github.com/arlojansen/goimap/internal/rangeset"
	"github.com/arlojansen/goimap/internal/search"
	"github.com/arlojansen/goimap/internal/session"
	"github.com/arlojansen/goimap/internal/wire"
)

// fetchBackoff is the exponential backoff schedule §4.15 specifies for
// ETHROTTLE retries on FETCH: 1s, 2s, 4s, 8s, with up to this many
// retries after the initial attempt.
var fetchBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// fetchBackoffCap bounds the delay before each FETCH retry, even when
// a server-provided throttle hint asks for longer.
const fetchBackoffCap = 30 * time.Second

// Search runs a structured UID SEARCH and returns the matching UIDs.
// Search also implements rangeset.Searcher, letting callers pass a
// *SearchQuery directly as a Fetch/Store/Download range: range
// resolution always treats a query's matches as UIDs.
func (c *Client) Search(ctx context.Context, query *SearchQuery) ([]uint32, error) {
	if err := c.requireSelected(); err != nil {
		return nil, err
	}
	nodes, needsCharset, err := search.Encode(query, c.codec.UTF8AcceptActive)
	if err != nil {
		return nil, err
	}
	if needsCharset {
		nodes = append([]*wire.Node{wire.Atom("CHARSET"), wire.Atom("UTF-8")}, nodes...)
	}

	var nums []uint32
	c.conn.Dispatcher().SetOverrides(map[string]session.Handler{
		"SEARCH": func(resp *wire.Response, num uint32, hasNum bool) {
			for _, n := range resp.Attributes {
				if n.Kind == wire.KindNumber {
					nums = append(nums, uint32(n.Num))
				}
			}
		},
	})
	defer c.conn.Dispatcher().SetOverrides(nil)

	if _, _, err := c.exec(ctx, "UID SEARCH", nodes, nil); err != nil {
		return nil, err
	}
	return nums, nil
}

// Fetch streams FETCH results for rangeInput (a message number, "*",
// a []uint32, a packed range string, or a *SearchQuery) to onMsg,
// matching opts.Items. It blocks until the command completes.
//
// A throttled (ETHROTTLE) response is retried up to len(fetchBackoff)
// times, sleeping the schedule's 1s/2s/4s/8s steps (or the server's own
// hint when it asks for longer), capped at fetchBackoffCap.
func (c *Client) Fetch(ctx context.Context, rangeInput any, opts FetchOptions, onMsg func(*FetchMessage)) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	packed, uid, err := rangeset.Resolve(ctx, rangeInput, c.Mailbox().Exists, c)
	if errors.Is(err, rangeset.ErrEmptyMailbox) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.UID {
		uid = true
	}
	fetchItems := opts.Items
	if !c.Capabilities().XGmailExt1() {
		fetchItems.GmailExtensions = false
	}
	items := buildFetchItems(fetchItems)

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.runFetch(ctx, uid, packed, items, onMsg)

		var cerr *classify.Error
		if !errors.As(lastErr, &cerr) || cerr.Kind != classify.KindThrottled || attempt >= len(fetchBackoff) {
			return lastErr
		}
		metrics.RecordThrottle("FETCH")

		delay := fetchBackoff[attempt]
		if cerr.ThrottleReset > delay {
			delay = cerr.ThrottleReset
		}
		if delay > fetchBackoffCap {
			delay = fetchBackoffCap
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// FetchAll is Fetch collecting every row into a slice.
func (c *Client) FetchAll(ctx context.Context, rangeInput any, opts FetchOptions) ([]*FetchMessage, error) {
	var out []*FetchMessage
	err := c.Fetch(ctx, rangeInput, opts, func(msg *FetchMessage) { out = append(out, msg) })
	return out, err
}

// FetchOne fetches a single message and returns its row, or nil if the
// server reported no match.
func (c *Client) FetchOne(ctx context.Context, rangeInput any, opts FetchOptions) (*FetchMessage, error) {
	msgs, err := c.FetchAll(ctx, rangeInput, opts)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

func buildFetchItems(items FetchItems) []*wire.Node {
	var nodes []*wire.Node
	add := func(s string) { nodes = append(nodes, wire.Atom(s)) }

	add("UID")
	if items.Envelope {
		add("ENVELOPE")
	}
	if items.BodyStructure {
		add("BODYSTRUCTURE")
	}
	if items.Flags {
		add("FLAGS")
	}
	if items.InternalDate {
		add("INTERNALDATE")
	}
	if items.Size {
		add("RFC822.SIZE")
	}
	if items.ModSeq {
		add("MODSEQ")
	}
	if items.Headers {
		add("BODY.PEEK[HEADER]")
	}
	if items.Source {
		add("BODY.PEEK[]")
	}
	for _, section := range items.Sections {
		nodes = append(nodes, wire.Atom(fmt.Sprintf("BODY.PEEK[%s]", section)))
	}
	if items.GmailExtensions {
		add("X-GM-MSGID")
		add("X-GM-THRID")
		add("X-GM-LABELS")
	}
	return nodes
}

// Store applies a flag change to rangeInput per opts, returning the
// server's FETCH echo rows (empty when opts.Silent is set and the
// server honors STORE.SILENT).
func (c *Client) Store(ctx context.Context, rangeInput any, opts StoreOptions) ([]*FetchMessage, error) {
	if err := c.requireSelected(); err != nil {
		return nil, err
	}
	packed, uid, err := rangeset.Resolve(ctx, rangeInput, c.Mailbox().Exists, c)
	if errors.Is(err, rangeset.ErrEmptyMailbox) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if opts.UID {
		uid = true
	}

	verb := "FLAGS"
	switch opts.Mode {
	case StoreAdd:
		verb = "+FLAGS"
	case StoreRemove:
		verb = "-FLAGS"
	}
	if opts.Silent {
		verb += ".SILENT"
	}

	flagNodes := make([]*wire.Node, len(opts.Flags))
	for i, f := range opts.Flags {
		flagNodes[i] = wire.Atom(f)
	}

	attrs := []*wire.Node{wire.Atom(packed)}
	if opts.HasUnchangedSince {
		attrs = append(attrs, wire.List(
			wire.Atom("UNCHANGEDSINCE"),
			wire.Atom(strconv.FormatUint(opts.UnchangedSince, 10)),
		))
	}
	attrs = append(attrs, wire.Atom(verb), wire.List(flagNodes...))

	var rows []*FetchMessage
	command := "STORE"
	if uid {
		command = "UID STORE"
	}
	c.conn.Dispatcher().SetOverrides(map[string]session.Handler{
		"FETCH": func(resp *wire.Response, num uint32, hasNum bool) {
			c.mu.Lock()
			msg, _, err := fetchmsg.Assemble(num, fetchAttrList(resp), c.mailbox, c.dec)
			c.mu.Unlock()
			if err == nil {
				rows = append(rows, msg)
			}
		},
	})
	defer c.conn.Dispatcher().SetOverrides(nil)

	if _, _, err := c.exec(ctx, command, attrs, nil); err != nil {
		return rows, err
	}
	return rows, nil
}

// SetFlagColor sets the Apple Mail flag color of rangeInput by
// toggling \Flagged plus the three $MailFlagBit* keyword flags that
// encode it.
func (c *Client) SetFlagColor(ctx context.Context, rangeInput any, uid bool, color FlagColor) error {
	bits, flagged := colorToBits(color)
	remove := []string{`\Flagged`, "$MailFlagBit0", "$MailFlagBit1", "$MailFlagBit2"}
	if _, err := c.Store(ctx, rangeInput, StoreOptions{UID: uid, Mode: StoreRemove, Flags: remove, Silent: true}); err != nil {
		return err
	}
	if !flagged {
		return nil
	}
	add := []string{`\Flagged`}
	for i := 0; i < 3; i++ {
		if bits&(1<<i) != 0 {
			add = append(add, fmt.Sprintf("$MailFlagBit%d", i))
		}
	}
	_, err := c.Store(ctx, rangeInput, StoreOptions{UID: uid, Mode: StoreAdd, Flags: add, Silent: true})
	return err
}

func colorToBits(color FlagColor) (bits int, flagged bool) {
	switch color {
	case ColorRed:
		return 0, true
	case ColorOrange:
		return 1, true
	case ColorYellow:
		return 2, true
	case ColorGreen:
		return 3, true
	case ColorBlue:
		return 4, true
	case ColorPurple:
		return 5, true
	case ColorGrey:
		return 6, true
	default:
		return 0, false
	}
}

// Expunge permanently removes \Deleted messages from the selected
// mailbox. When the server supports UIDPLUS and uidSet is non-empty,
// only those UIDs are expunged (UID EXPUNGE); otherwise a plain
// EXPUNGE removes every \Deleted message.
func (c *Client) Expunge(ctx context.Context, uidSet string) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	if uidSet != "" && c.Capabilities().UIDPlus() {
		_, _, err := c.exec(ctx, "UID EXPUNGE", []*wire.Node{wire.Atom(uidSet)}, nil)
		return err
	}
	_, _, err := c.exec(ctx, "EXPUNGE", nil, nil)
	return err
}

// Append adds a message to mailboxPath. When the server supports
// UIDPLUS the returned uid/uidValidity are populated from the tagged
// response's [APPENDUID ...] code.
func (c *Client) Append(ctx context.Context, mailboxPath string, body []byte, opts AppendOptions) (uid uint32, uidValidity uint64, err error) {
	path, err := c.codec.Encode(c.codec.Normalize(splitPath(mailboxPath)))
	if err != nil {
		return 0, 0, err
	}

	attrs := []*wire.Node{wire.QuotedString(path)}
	if len(opts.Flags) > 0 {
		flagNodes := make([]*wire.Node, len(opts.Flags))
		for i, f := range opts.Flags {
			flagNodes[i] = wire.Atom(f)
		}
		attrs = append(attrs, wire.List(flagNodes...))
	}
	if opts.HasDate {
		attrs = append(attrs, wire.QuotedString(opts.InternalDate.Format("02-Jan-2006 15:04:05 -0700")))
	}
	attrs = append(attrs, wire.Literal(body))

	tagged, _, err := c.exec(ctx, "APPEND", attrs, nil)
	if err != nil {
		return 0, 0, err
	}
	uid, uidValidity = parseAppendUID(tagged)
	return uid, uidValidity, nil
}

func parseAppendUID(resp *wire.Response) (uid uint32, uidValidity uint64) {
	if resp == nil {
		return 0, 0
	}
	for _, a := range resp.Attributes {
		if a.Kind != wire.KindSection || len(a.Children) < 3 {
			continue
		}
		if a.Children[0].Kind != wire.KindAtom || !strings.EqualFold(a.Children[0].Atom, "APPENDUID") {
			continue
		}
		if v, ok := numericValue(a.Children[1]); ok {
			uidValidity = v
		}
		if v, ok := numericValue(a.Children[2]); ok {
			uid = uint32(v)
		}
	}
	return uid, uidValidity
}

func splitPath(path string) []string {
	return strings.Split(path, "/")
}

// MessageCopy copies rangeInput into destPath (COPY/UID COPY).
func (c *Client) MessageCopy(ctx context.Context, rangeInput any, destPath string) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	packed, uid, err := rangeset.Resolve(ctx, rangeInput, c.Mailbox().Exists, c)
	if errors.Is(err, rangeset.ErrEmptyMailbox) {
		return nil
	}
	if err != nil {
		return err
	}
	dest, err := c.codec.Encode(c.codec.Normalize(splitPath(destPath)))
	if err != nil {
		return err
	}
	command := "COPY"
	if uid {
		command = "UID COPY"
	}
	_, _, err = c.exec(ctx, command, []*wire.Node{wire.Atom(packed), wire.QuotedString(dest)}, nil)
	return err
}

// MessageMove moves rangeInput into destPath using the MOVE extension
// when advertised, falling back to COPY + STORE \Deleted + EXPUNGE.
func (c *Client) MessageMove(ctx context.Context, rangeInput any, destPath string) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	packed, uid, err := rangeset.Resolve(ctx, rangeInput, c.Mailbox().Exists, c)
	if errors.Is(err, rangeset.ErrEmptyMailbox) {
		return nil
	}
	if err != nil {
		return err
	}
	dest, err := c.codec.Encode(c.codec.Normalize(splitPath(destPath)))
	if err != nil {
		return err
	}

	if c.Capabilities().Move() {
		command := "MOVE"
		if uid {
			command = "UID MOVE"
		}
		_, _, err := c.exec(ctx, command, []*wire.Node{wire.Atom(packed), wire.QuotedString(dest)}, nil)
		return err
	}

	if err := c.MessageCopy(ctx, rangeInput, destPath); err != nil {
		return err
	}
	if _, err := c.Store(ctx, rangeInput, StoreOptions{UID: uid, Mode: StoreAdd, Flags: []string{`\Deleted`}, Silent: true}); err != nil {
		return err
	}
	return c.Expunge(ctx, "")
}

// MessageDelete marks rangeInput \Deleted and expunges it.
func (c *Client) MessageDelete(ctx context.Context, rangeInput any, uid bool) error {
	if _, err := c.Store(ctx, rangeInput, StoreOptions{UID: uid, Mode: StoreAdd, Flags: []string{`\Deleted`}, Silent: true}); err != nil {
		return err
	}
	return c.Expunge(ctx, "")
}

// Download streams one message's content through the chunked
// partial-FETCH pipeline. The returned ReadCloser must be closed; the
// returned metadata describes content type, charset, and
// flowed/delsp wrapping as detected from BODYSTRUCTURE.
func (c *Client) Download(ctx context.Context, rangeInput any, opts DownloadOptions) (*download.Meta, io.ReadCloser, error) {
	if err := c.requireSelected(); err != nil {
		return nil, nil, err
	}
	packed, uid, err := rangeset.Resolve(ctx, rangeInput, c.Mailbox().Exists, c)
	if errors.Is(err, rangeset.ErrEmptyMailbox) {
		return nil, nil, ErrNoSuchMessage
	}
	if err != nil {
		return nil, nil, err
	}
	if opts.UID {
		uid = true
	}
	ref, err := singleRef(packed, uid)
	if err != nil {
		return nil, nil, err
	}
	return download.Download(ctx, downloadConn{c}, ref, download.Options{
		Part:      opts.Part,
		ChunkSize: opts.ChunkSize,
		MaxBytes:  opts.MaxBytes,
	}, c.dec, c.charsetFactory)
}

// DownloadMany runs the download pipeline for every member of
// rangeInput, invoking onMessage for each with its resolved reference.
func (c *Client) DownloadMany(ctx context.Context, rangeInput any, opts DownloadOptions, onMessage func(ref download.Ref, meta *download.Meta, body io.ReadCloser, err error)) error {
	if err := c.requireSelected(); err != nil {
		return err
	}
	packed, uid, err := rangeset.Resolve(ctx, rangeInput, c.Mailbox().Exists, c)
	if errors.Is(err, rangeset.ErrEmptyMailbox) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.UID {
		uid = true
	}
	nums, err := rangeset.Expand(packed, c.Mailbox().Exists)
	if err != nil {
		return err
	}
	for _, n := range nums {
		ref := download.Ref{Seq: n}
		if uid {
			ref = download.Ref{UID: n, HasUID: true}
		}
		meta, body, derr := download.Download(ctx, downloadConn{c}, ref, download.Options{
			Part:      opts.Part,
			ChunkSize: opts.ChunkSize,
			MaxBytes:  opts.MaxBytes,
		}, c.dec, c.charsetFactory)
		onMessage(ref, meta, body, derr)
	}
	return nil
}

// singleRef turns a packed range known to denote exactly one message
// into a download.Ref.
func singleRef(packed string, uid bool) (download.Ref, error) {
	v, err := strconv.ParseUint(packed, 10, 32)
	if err != nil {
		return download.Ref{}, fmt.Errorf("goimap: download requires a single message number, got %q", packed)
	}
	if uid {
		return download.Ref{UID: uint32(v), HasUID: true}, nil
	}
	return download.Ref{Seq: uint32(v)}, nil
}

// Idle enters IDLE and blocks until ctx is canceled or stop is closed,
// pausing the background idle supervisor for the duration so this
// call owns the single outstanding IDLE command.
func (c *Client) Idle(ctx context.Context, stop <-chan struct{}) error {
	if c.idle != nil {
		c.idle.NotifyActivity(ctx)
		defer c.idle.Arm()
	}
	handle, err := c.conn.StartIdle(ctx)
	if err != nil {
		return err
	}
	select {
	case <-stop:
	case <-ctx.Done():
	}
	return handle.Stop(context.Background())
}
