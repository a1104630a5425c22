package session

import (
	"context"
	"fmt"
	"io"

	"github.com/arlojansen/goimap/internal/auth"
	"github.com/arlojansen/goimap/internal/wire"
)

// Upgrader performs an in-place STARTTLS handshake on the connection's
// underlying stream, returning the replacement read/write side (a
// *tls.Conn in production, a pass-through in tests).
type Upgrader func(ctx context.Context) (io.ReadWriteCloser, error)

// Enable requests the server track the named extensions (CONDSTORE,
// UTF8=ACCEPT, QRESYNC, ...) for the rest of the session and reports
// which ones it acknowledged.
func (c *Conn) Enable(ctx context.Context, names ...string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var enabled []string
	c.dispatcher.SetOverrides(map[string]Handler{
		"ENABLED": func(resp *wire.Response, num uint32, hasNum bool) {
			enabled = append(enabled, atomTokens(resp.Attributes)...)
		},
	})
	defer c.dispatcher.SetOverrides(nil)

	attrs := make([]*wire.Node, len(names))
	for i, n := range names {
		attrs[i] = wire.Atom(n)
	}
	if _, _, err := c.Exec(ctx, "ENABLE", attrs, nil); err != nil {
		return nil, err
	}
	return enabled, nil
}

// BootstrapOptions configures the connection-establishment sequence Open
// drives the state machine through.
type BootstrapOptions struct {
	StartTLSMode StartTLSMode
	Upgrade      Upgrader // required unless StartTLSMode is StartTLSNever
	Mechanism    auth.Mechanism // empty selects automatically
	Credentials  auth.Credentials
	UseLogin     bool // skip SASL and issue LOGIN directly
	EnableNames  []string

	// Compress requests COMPRESS=DEFLATE once the server advertises it.
	// CompressUpgrade wraps the raw stream in the deflate codec; required
	// when Compress is set.
	Compress        bool
	CompressUpgrade func(rw io.ReadWriteCloser) (io.ReadWriteCloser, error)
}

// Open drives a freshly dialed connection through greeting, optional
// STARTTLS, authentication, and ENABLE, leaving the Machine in
// StateUsable. The caller is expected to have already started c.Run in
// its own goroutine and to hand in the parsed greeting line.
func (c *Conn) Open(ctx context.Context, greeting *wire.Response, opts BootstrapOptions) error {
	if err := c.handleGreeting(greeting); err != nil {
		return err
	}

	if c.machine.State() == StateAuthenticated {
		if c.Capabilities() == nil {
			if _, err := c.RefreshCapabilities(ctx); err != nil {
				return err
			}
		}
		return c.finishPreauthBootstrap(ctx, opts)
	}

	if err := c.machine.Transition(StateCapabilities); err != nil {
		return err
	}
	caps := c.Capabilities()
	if caps == nil {
		var err error
		caps, err = c.RefreshCapabilities(ctx)
		if err != nil {
			return err
		}
	}

	switch DecideStartTLS(false, opts.StartTLSMode, caps.Has("STARTTLS")) {
	case StartTLSFail:
		return fmt.Errorf("session: STARTTLS required but not advertised")
	case StartTLSUpgrade:
		if err := c.upgradeStartTLS(ctx, opts.Upgrade); err != nil {
			return err
		}
		if err := c.machine.Transition(StateCapabilities); err != nil {
			return err
		}
		if _, err := c.RefreshCapabilities(ctx); err != nil {
			return err
		}
	}

	if err := c.machine.Transition(StateAuth); err != nil {
		return err
	}
	if err := c.authenticate(ctx, opts); err != nil {
		return err
	}

	if err := c.machine.Transition(StateCapabilities2); err != nil {
		return err
	}
	caps2, err := c.RefreshCapabilities(ctx)
	if err != nil {
		return err
	}

	if opts.Compress && caps2.Has("COMPRESS=DEFLATE") {
		if err := c.upgradeCompress(ctx, opts.CompressUpgrade); err != nil {
			return err
		}
	}

	if err := c.machine.Transition(StateEnable); err != nil {
		return err
	}
	if err := c.runEnable(ctx, opts); err != nil {
		return err
	}
	return c.machine.Transition(StateUsable)
}

func (c *Conn) handleGreeting(greeting *wire.Response) error {
	if greeting.Command == "BYE" {
		return fmt.Errorf("session: server rejected connection at greeting")
	}
	if caps := ApplyGreetingCapabilities(greeting); caps != nil {
		c.setCapabilities(caps)
	}
	if err := c.machine.Transition(StateGreeting); err != nil {
		return err
	}
	if greeting.Command == "PREAUTH" {
		return c.machine.Transition(StateAuthenticated)
	}
	return nil
}

// finishPreauthBootstrap handles the PREAUTH path, which has no
// Capabilities2/Auth/StartTLS/Compress steps to run and moves straight
// from Authenticated to Usable.
func (c *Conn) finishPreauthBootstrap(ctx context.Context, opts BootstrapOptions) error {
	if err := c.runEnable(ctx, opts); err != nil {
		return err
	}
	return c.machine.Transition(StateUsable)
}

func (c *Conn) runEnable(ctx context.Context, opts BootstrapOptions) error {
	if len(opts.EnableNames) == 0 || !c.Capabilities().Enable() {
		return nil
	}
	_, err := c.Enable(ctx, opts.EnableNames...)
	return err
}

func (c *Conn) upgradeStartTLS(ctx context.Context, upgrade Upgrader) error {
	if upgrade == nil {
		return fmt.Errorf("session: STARTTLS negotiated but no Upgrader configured")
	}
	if err := c.machine.Transition(StateStartTLS); err != nil {
		return err
	}
	if _, _, err := c.Exec(ctx, "STARTTLS", nil, nil); err != nil {
		return err
	}
	rw, err := upgrade(ctx)
	if err != nil {
		return err
	}
	c.swapStream(rw)
	return nil
}

func (c *Conn) upgradeCompress(ctx context.Context, upgrade func(rw io.ReadWriteCloser) (io.ReadWriteCloser, error)) error {
	if upgrade == nil {
		return fmt.Errorf("session: COMPRESS requested but no CompressUpgrade configured")
	}
	if err := c.machine.Transition(StateCompress); err != nil {
		return err
	}
	if _, _, err := c.Exec(ctx, "COMPRESS", []*wire.Node{wire.Atom("DEFLATE")}, nil); err != nil {
		return err
	}
	rw, err := upgrade(c.currentRW())
	if err != nil {
		return err
	}
	c.swapStream(rw)
	return nil
}

func (c *Conn) authenticate(ctx context.Context, opts BootstrapOptions) error {
	if opts.UseLogin {
		return c.Login(ctx, opts.Credentials.Username, opts.Credentials.Password)
	}
	caps := c.Capabilities()
	mech, err := auth.Select(caps.AuthMechanisms(), opts.Mechanism, opts.Credentials)
	if err != nil {
		return err
	}
	return c.Authenticate(ctx, mech, opts.Credentials, caps.SASLIR())
}

// PreauthAuthenticated reports whether the greeting already put the
// connection past authentication (RFC 3501 PREAUTH).
func (c *Conn) PreauthAuthenticated() bool {
	return c.machine.State() == StateAuthenticated
}
