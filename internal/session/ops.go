package session

import (
	"context"
	"strings"

	"github.com/arlojansen/goimap/internal/capability"
	"github.com/arlojansen/goimap/internal/wire"
)

// RefreshCapabilities re-requests CAPABILITY and stores the result,
// matching the re-request STARTTLS and successful AUTHENTICATE/LOGIN
// both require (the server must discard any pre-upgrade/pre-auth
// capabilities).
func (c *Conn) RefreshCapabilities(ctx context.Context) (*capability.Set, error) {
	var tokens []string
	prevOverrides := map[string]Handler{
		"CAPABILITY": func(resp *wire.Response, num uint32, hasNum bool) {
			tokens = append(tokens, atomTokens(resp.Attributes)...)
		},
	}
	c.dispatcher.SetOverrides(prevOverrides)
	defer c.dispatcher.SetOverrides(nil)

	if _, _, err := c.Exec(ctx, "CAPABILITY", nil, nil); err != nil {
		return nil, err
	}
	caps := capability.Parse(tokens)
	c.setCapabilities(caps)
	return caps, nil
}

func atomTokens(nodes []*wire.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Kind == wire.KindAtom {
			out = append(out, n.Atom)
		}
	}
	return out
}

// ApplyGreetingCapabilities parses an optional "[CAPABILITY ...]"
// response code carried on the greeting line, short-circuiting the
// post-greeting CAPABILITY round trip when present.
func ApplyGreetingCapabilities(resp *wire.Response) *capability.Set {
	for _, n := range resp.Attributes {
		if n.Kind != wire.KindSection {
			continue
		}
		if len(n.Children) == 0 || n.Children[0].Kind != wire.KindAtom {
			continue
		}
		if !strings.EqualFold(n.Children[0].Atom, "CAPABILITY") {
			continue
		}
		return capability.Parse(atomTokens(n.Children[1:]))
	}
	return nil
}

// Select implements the lockqueue.Selector contract.
func (c *Conn) Select(ctx context.Context, path string, readOnly bool) error {
	command := "SELECT"
	if readOnly {
		command = "EXAMINE"
	}
	_, _, err := c.Exec(ctx, command, []*wire.Node{wire.QuotedString(path)}, nil)
	return err
}

// MailboxExists implements the lockqueue.Selector contract by running
// LIST for the exact path.
func (c *Conn) MailboxExists(ctx context.Context, path string) (bool, error) {
	found := false
	c.dispatcher.SetOverrides(map[string]Handler{
		"LIST": func(resp *wire.Response, num uint32, hasNum bool) { found = true },
	})
	defer c.dispatcher.SetOverrides(nil)

	_, _, err := c.Exec(ctx, "LIST", []*wire.Node{wire.QuotedString(""), wire.QuotedString(path)}, nil)
	if err != nil {
		return false, err
	}
	return found, nil
}

// connIdleHandle's Stop writes DONE and waits for IDLE's own tagged
// terminator, delivered on the same result channel the scheduler
// hands back for every command.
type connIdleHandle struct {
	c      *Conn
	result <-chan Result
}

func (h *connIdleHandle) Stop(ctx context.Context) error {
	if err := h.c.writeContinuationLine("DONE"); err != nil {
		return err
	}
	select {
	case res := <-h.result:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartIdle implements the idle.IdleConn contract: it issues IDLE and
// waits for the `+` continuation via onPlusTag before returning a
// handle whose Stop writes DONE and awaits IDLE's tagged terminator.
func (c *Conn) StartIdle(ctx context.Context) (IdleHandle, error) {
	continuationSeen := make(chan struct{})
	onPlus := func(resp *wire.Response) error {
		close(continuationSeen)
		return nil
	}

	tag := c.scheduler.NextTag()
	req := &wire.Request{Tag: tag, Command: "IDLE"}
	segments, err := wire.Compile(req, c.compileOptions(false))
	if err != nil {
		return nil, err
	}
	done := c.scheduler.Enqueue(tag, segments, onPlus)

	select {
	case <-continuationSeen:
		return &connIdleHandle{c: c, result: done}, nil
	case res := <-done:
		return nil, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunFallback implements the idle.IdleConn contract for servers
// lacking IDLE: a plain NOOP round trip.
func (c *Conn) RunFallback(ctx context.Context) error {
	_, _, err := c.Exec(ctx, "NOOP", nil, nil)
	return err
}
