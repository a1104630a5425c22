package goimap

import (
	"context"
	"fmt"
	"strings"

	"github.com/arlojansen/goimap/internal/fetchmsg"
	"github.com/arlojansen/goimap/internal/session"
	"github.com/arlojansen/goimap/internal/wire"
)

// SelectMailbox selects (or, if readOnly, examines) path, acquiring
// the connection's mailbox lock and waiting for the subsequent
// EXISTS/FLAGS/OK pushes to populate Mailbox(). The lock is released
// by CloseMailbox or by selecting a different mailbox.
func (c *Client) SelectMailbox(ctx context.Context, path string, readOnly bool) (Mailbox, error) {
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return Mailbox{}, err
	}

	if c.idle != nil {
		c.idle.NotifyActivity(ctx)
		defer c.idle.Arm()
	}
	c.mu.Lock()
	prev := c.currentLock
	c.currentLock = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
	lock, err := c.lock.Acquire(ctx, encoded, readOnly, "select:"+path)
	if err != nil {
		return Mailbox{}, err
	}

	c.mu.Lock()
	c.currentLock = lock
	c.mailbox.Path = path
	c.mailbox.ReadOnly = readOnly
	snap := *c.mailbox
	c.mu.Unlock()

	if c.events.OnMailboxOpen != nil {
		c.events.OnMailboxOpen(&snap)
	}
	return snap, nil
}

// CloseMailbox releases the current mailbox selection. When expunge is
// true (the common case) it issues CLOSE, which also purges every
// \Deleted message; otherwise it issues UNSELECT, which leaves them in
// place. UNSELECT relies on the widely-implemented RFC 3691 extension
// that this library doesn't otherwise track as a capability.
func (c *Client) CloseMailbox(ctx context.Context, expunge bool) error {
	c.mu.Lock()
	lock := c.currentLock
	c.currentLock = nil
	c.mailbox = &fetchmsg.Mailbox{}
	c.mu.Unlock()
	if lock == nil {
		return nil
	}

	command := "CLOSE"
	if !expunge {
		command = "UNSELECT"
	}
	_, _, err := c.exec(ctx, command, nil, nil)
	lock.Release()
	if c.events.OnMailboxClose != nil {
		c.events.OnMailboxClose()
	}
	return err
}

// CreateMailbox issues CREATE for path.
func (c *Client) CreateMailbox(ctx context.Context, path string) error {
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return err
	}
	_, _, err = c.exec(ctx, "CREATE", []*wire.Node{wire.QuotedString(encoded)}, nil)
	return err
}

// DeleteMailbox issues DELETE for path.
func (c *Client) DeleteMailbox(ctx context.Context, path string) error {
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return err
	}
	_, _, err = c.exec(ctx, "DELETE", []*wire.Node{wire.QuotedString(encoded)}, nil)
	return err
}

// RenameMailbox issues RENAME from oldPath to newPath.
func (c *Client) RenameMailbox(ctx context.Context, oldPath, newPath string) error {
	oldEnc, err := c.codec.Encode(c.codec.Normalize(splitPath(oldPath)))
	if err != nil {
		return err
	}
	newEnc, err := c.codec.Encode(c.codec.Normalize(splitPath(newPath)))
	if err != nil {
		return err
	}
	_, _, err = c.exec(ctx, "RENAME", []*wire.Node{wire.QuotedString(oldEnc), wire.QuotedString(newEnc)}, nil)
	return err
}

// Subscribe issues SUBSCRIBE for path.
func (c *Client) Subscribe(ctx context.Context, path string) error {
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return err
	}
	_, _, err = c.exec(ctx, "SUBSCRIBE", []*wire.Node{wire.QuotedString(encoded)}, nil)
	return err
}

// Unsubscribe issues UNSUBSCRIBE for path.
func (c *Client) Unsubscribe(ctx context.Context, path string) error {
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return err
	}
	_, _, err = c.exec(ctx, "UNSUBSCRIBE", []*wire.Node{wire.QuotedString(encoded)}, nil)
	return err
}

// List runs LIST (or LSUB when opts.SubscribedOnly and the server
// lacks LIST-EXTENDED) and returns the matching mailboxes.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]MailboxInfo, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*"
	}

	var rows []MailboxInfo
	command := "LIST"
	attrs := []*wire.Node{wire.QuotedString(opts.Reference), wire.QuotedString(pattern)}
	if opts.SubscribedOnly {
		if c.Capabilities().ListExtended() {
			attrs = append([]*wire.Node{wire.List(wire.Atom("SUBSCRIBED"))}, attrs...)
		} else {
			command = "LSUB"
		}
	}

	c.conn.Dispatcher().SetOverrides(map[string]session.Handler{
		"LIST": func(resp *wire.Response, num uint32, hasNum bool) { rows = append(rows, c.parseListRow(resp, false)) },
		"LSUB": func(resp *wire.Response, num uint32, hasNum bool) { rows = append(rows, c.parseListRow(resp, true)) },
	})
	defer c.conn.Dispatcher().SetOverrides(nil)

	if _, _, err := c.exec(ctx, command, attrs, nil); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) parseListRow(resp *wire.Response, subscribed bool) MailboxInfo {
	info := MailboxInfo{Subscribed: subscribed}
	if len(resp.Attributes) < 3 {
		return info
	}
	flagsNode, delimNode, pathNode := resp.Attributes[0], resp.Attributes[1], resp.Attributes[2]

	if flagsNode.Kind == wire.KindList {
		for _, f := range flagsNode.Children {
			if f.Kind != wire.KindAtom {
				continue
			}
			info.Flags = append(info.Flags, f.Atom)
			if strings.HasPrefix(f.Atom, `\`) && f.Atom != `\HasChildren` && f.Atom != `\HasNoChildren` && f.Atom != `\Marked` && f.Atom != `\Unmarked` && f.Atom != `\Noinferiors` && f.Atom != `\Noselect` && f.Atom != `\Subscribed` {
				info.SpecialUse = f.Atom
			}
			if f.Atom == `\Subscribed` {
				info.Subscribed = true
			}
		}
	}
	if delimNode.Kind == wire.KindQuoted {
		info.Delimiter = delimNode.Str
	}
	if pathNode.Kind == wire.KindQuoted {
		path, err := c.codec.Decode(pathNode.Str)
		if err == nil {
			info.Path = path
		} else {
			info.Path = pathNode.Str
		}
	}
	return info
}

// ListTree is List with Pattern fixed to "*", returning every mailbox
// reachable under opts.Reference.
func (c *Client) ListTree(ctx context.Context, reference string) ([]MailboxInfo, error) {
	return c.List(ctx, ListOptions{Reference: reference, Pattern: "*"})
}

// Status runs STATUS for path with the attributes opts selects.
func (c *Client) Status(ctx context.Context, path string, opts StatusItems) (StatusResult, error) {
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return StatusResult{}, err
	}

	var items []*wire.Node
	add := func(s string) { items = append(items, wire.Atom(s)) }
	if opts.Messages {
		add("MESSAGES")
	}
	if opts.Recent {
		add("RECENT")
	}
	if opts.UIDNext {
		add("UIDNEXT")
	}
	if opts.UIDValidity {
		add("UIDVALIDITY")
	}
	if opts.Unseen {
		add("UNSEEN")
	}
	if opts.HighestModseq {
		add("HIGHESTMODSEQ")
	}
	if opts.Size && c.Capabilities().StatusSize() {
		add("SIZE")
	}
	if len(items) == 0 {
		add("MESSAGES")
	}

	result := StatusResult{Path: path}
	c.conn.Dispatcher().SetOverrides(map[string]session.Handler{
		"STATUS": func(resp *wire.Response, num uint32, hasNum bool) {
			result = parseStatusResult(path, resp)
		},
	})
	defer c.conn.Dispatcher().SetOverrides(nil)

	if _, _, err := c.exec(ctx, "STATUS", []*wire.Node{wire.QuotedString(encoded), wire.List(items...)}, nil); err != nil {
		return result, err
	}
	return result, nil
}

func parseStatusResult(path string, resp *wire.Response) StatusResult {
	result := StatusResult{Path: path}
	if len(resp.Attributes) < 2 {
		return result
	}
	list := resp.Attributes[1]
	if list.Kind != wire.KindList {
		return result
	}
	for i := 0; i+1 < len(list.Children); i += 2 {
		key, value := list.Children[i], list.Children[i+1]
		if key.Kind != wire.KindAtom {
			continue
		}
		v, ok := numericValue(value)
		if !ok {
			continue
		}
		switch strings.ToUpper(key.Atom) {
		case "MESSAGES":
			result.Messages, result.HasMessages = uint32(v), true
		case "RECENT":
			result.Recent, result.HasRecent = uint32(v), true
		case "UIDNEXT":
			result.UIDNext, result.HasUIDNext = uint32(v), true
		case "UIDVALIDITY":
			result.UIDValidity, result.HasUIDValidity = v, true
		case "UNSEEN":
			result.Unseen, result.HasUnseen = uint32(v), true
		case "HIGHESTMODSEQ":
			result.HighestModseq, result.HasHighestModseq = v, true
		case "SIZE":
			result.Size, result.HasSize = v, true
		}
	}
	return result
}

// GetQuota runs GETQUOTAROOT for path and returns the resource usage
// of the owning quota root.
func (c *Client) GetQuota(ctx context.Context, path string) ([]QuotaResource, error) {
	if !c.Capabilities().Quota() {
		return nil, fmt.Errorf("goimap: server does not advertise QUOTA")
	}
	encoded, err := c.codec.Encode(c.codec.Normalize(splitPath(path)))
	if err != nil {
		return nil, err
	}

	var resources []QuotaResource
	c.conn.Dispatcher().SetOverrides(map[string]session.Handler{
		"QUOTA": func(resp *wire.Response, num uint32, hasNum bool) {
			resources = append(resources, parseQuotaRow(resp)...)
		},
		"QUOTAROOT": func(resp *wire.Response, num uint32, hasNum bool) {},
	})
	defer c.conn.Dispatcher().SetOverrides(nil)

	if _, _, err := c.exec(ctx, "GETQUOTAROOT", []*wire.Node{wire.QuotedString(encoded)}, nil); err != nil {
		return nil, err
	}
	return resources, nil
}

func parseQuotaRow(resp *wire.Response) []QuotaResource {
	if len(resp.Attributes) < 2 {
		return nil
	}
	list := resp.Attributes[1]
	if list.Kind != wire.KindList {
		return nil
	}
	var out []QuotaResource
	for i := 0; i+3 <= len(list.Children); i += 3 {
		name, usage, limit := list.Children[i], list.Children[i+1], list.Children[i+2]
		if name.Kind != wire.KindAtom {
			continue
		}
		u, _ := numericValue(usage)
		l, _ := numericValue(limit)
		out = append(out, QuotaResource{Name: name.Atom, Usage: u, Limit: l})
	}
	return out
}

// Noop issues NOOP, a convenient way to let the server deliver any
// buffered untagged pushes and to reset the idle supervisor's
// inactivity window.
func (c *Client) Noop(ctx context.Context) error {
	_, _, err := c.exec(ctx, "NOOP", nil, nil)
	return err
}

// Check issues CHECK, a server-specific housekeeping hint; most
// servers treat it identically to NOOP.
func (c *Client) Check(ctx context.Context) error {
	_, _, err := c.exec(ctx, "CHECK", nil, nil)
	return err
}
