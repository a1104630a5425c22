// Package session implements the protocol engine: the tagged-command
// scheduler, the untagged-response dispatcher, the connection state
// machine, the per-mailbox lock queue, and the IDLE supervisor — the
// pieces that turn a byte stream into a usable IMAP session.
package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/arlojansen/goimap/internal/capability"
	"github.com/arlojansen/goimap/internal/classify"
	"github.com/arlojansen/goimap/internal/wire"
)

// Conn drives one IMAP connection: a dedicated goroutine frames and
// parses inbound bytes and dispatches them, while callers issue
// commands through Exec, which blocks until the command's tagged
// terminator (or the connection closing) resolves it.
type Conn struct {
	rw         io.ReadWriteCloser
	framer     *wire.Framer
	scheduler  *Scheduler
	dispatcher *Dispatcher
	machine    *Machine

	writeMu sync.Mutex

	capsMu sync.RWMutex
	caps   *capability.Set

	readDone chan struct{}
	closeErr error
	closeOnce sync.Once
}

// NewConn wires a Conn around rw; call Run in its own goroutine to
// start the read loop before issuing any commands.
func NewConn(rw io.ReadWriteCloser) *Conn {
	c := &Conn{
		rw:         rw,
		framer:     wire.NewFramer(bufio.NewReader(rw)),
		dispatcher: NewDispatcher(),
		machine:    NewMachine(),
		readDone:   make(chan struct{}),
	}
	c.scheduler = NewScheduler(connWriter{c})
	return c
}

// swapStream replaces the underlying transport after STARTTLS or
// COMPRESS completes. It must only be called from the goroutine driving
// Open, immediately after the command's tagged response, when no other
// command is in flight and the read loop is about to block on its next
// framer.Next() call with nothing buffered ahead of the upgrade.
func (c *Conn) swapStream(rw io.ReadWriteCloser) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.rw = rw
	c.framer = wire.NewFramer(bufio.NewReader(rw))
}

func (c *Conn) currentFramer() *wire.Framer {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer
}

// currentRW returns the stream Conn is presently reading/writing,
// guarded the same way swapStream guards replacing it. Only safe to
// call from the goroutine driving Open, between commands.
func (c *Conn) currentRW() io.ReadWriteCloser {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.rw
}

type connWriter struct{ c *Conn }

func (w connWriter) WriteSegment(data []byte) error {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	_, err := w.c.rw.Write(data)
	return err
}

// Capabilities returns the most recently negotiated capability set.
func (c *Conn) Capabilities() *capability.Set {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps
}

func (c *Conn) setCapabilities(caps *capability.Set) {
	c.capsMu.Lock()
	c.caps = caps
	c.capsMu.Unlock()
}

// Machine exposes the session state machine for callers enforcing
// operation preconditions.
func (c *Conn) Machine() *Machine { return c.machine }

// Dispatcher exposes the untagged-response router so session-wide
// handlers (EXISTS, EXPUNGE, FETCH, BYE, ...) can be registered.
func (c *Conn) Dispatcher() *Dispatcher { return c.dispatcher }

// compileOptions reflects the currently negotiated literal/redaction
// capabilities for outbound command compilation.
func (c *Conn) compileOptions(redact bool) wire.CompileOptions {
	caps := c.Capabilities()
	return wire.CompileOptions{
		LiteralPlus:  caps.LiteralPlus(),
		LiteralMinus: caps.LiteralMinus(),
		Redact:       redact,
	}
}

// Exec compiles and enqueues one tagged command, blocking until its
// terminator arrives or ctx is canceled.
func (c *Conn) Exec(ctx context.Context, command string, attrs []*wire.Node, onPlusTag OnPlusTag) (*wire.Response, []*wire.Response, error) {
	tag := c.scheduler.NextTag()
	req := &wire.Request{Tag: tag, Command: command, Attributes: attrs}
	segments, err := wire.Compile(req, c.compileOptions(false))
	if err != nil {
		return nil, nil, fmt.Errorf("session: compiling %s: %w", command, err)
	}

	done := c.scheduler.Enqueue(tag, segments, onPlusTag)
	select {
	case res := <-done:
		if res.Err != nil {
			return nil, res.Untagged, res.Err
		}
		return res.Response, res.Untagged, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-c.readDone:
		return nil, nil, classify.New(classify.KindNoConnection, "connection closed")
	}
}

// ReadGreeting reads and parses the server's opening response. Callers
// must invoke this before starting Run in its own goroutine; Open then
// consumes the result to drive the greeting step of the state machine.
func (c *Conn) ReadGreeting() (*wire.Response, error) {
	unit, err := c.currentFramer().Next()
	if err != nil {
		return nil, fmt.Errorf("session: reading greeting: %w", err)
	}
	resp, err := wire.Parse(unit)
	if err != nil {
		return nil, fmt.Errorf("session: parsing greeting: %w", err)
	}
	return resp, nil
}

// Run drives the read loop until the connection closes or a fatal
// framing/parse error occurs. It should be started in its own
// goroutine after NewConn and, when the greeting is read from the
// stream, after ReadGreeting.
func (c *Conn) Run() error {
	defer c.closeOnce.Do(func() { close(c.readDone) })
	for {
		unit, err := c.currentFramer().Next()
		if err != nil {
			c.teardown(err)
			return err
		}
		resp, err := wire.Parse(unit)
		if err != nil {
			c.teardown(err)
			return err
		}
		c.route(resp)
	}
}

func (c *Conn) route(resp *wire.Response) {
	switch {
	case resp.Tag == "+":
		_ = c.scheduler.HandleContinuation(resp)
	case resp.Tag == "*":
		if resp.Command == "BYE" {
			c.machine.Transition(StateLogout)
		}
		c.scheduler.HandleUntagged(resp)
		c.dispatcher.Dispatch(resp)
	default:
		if tag, ok := c.scheduler.InFlightTag(); ok && tag == resp.Tag {
			c.completeTagged(resp)
			return
		}
		// A tagged response with no matching in-flight request is a
		// protocol violation; surface it to session-wide handlers so a
		// caller can at least observe it via logging.
		c.dispatcher.Dispatch(resp)
	}
}

func (c *Conn) completeTagged(resp *wire.Response) {
	status := resp.Command
	switch status {
	case "OK":
		c.scheduler.HandleTagged(resp.Tag, resp, nil)
	case "NO", "BAD":
		attrs := &wire.Node{Kind: wire.KindList, Children: resp.Attributes}
		c.scheduler.HandleTagged(resp.Tag, resp, classify.CommandFailed(status, attrs))
	default:
		c.scheduler.HandleTagged(resp.Tag, resp, classify.New(classify.KindInvalidResponse, "unexpected tagged status "+status))
	}
}

func (c *Conn) teardown(cause error) {
	c.closeErr = cause
	c.scheduler.Teardown(classify.Wrap(classify.KindNoConnection, cause))
}

// Close closes the underlying connection; Run's read loop will then
// observe the error and tear down pending commands.
func (c *Conn) Close() error {
	return c.rw.Close()
}
