package session

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/arlojansen/goimap/internal/auth"
	"github.com/arlojansen/goimap/internal/wire"
)

// Authenticate drives the AUTHENTICATE command's challenge-response
// loop: each "+" continuation carries a base64 server challenge, fed to
// the SASL client's Next, whose base64 reply is written back as its own
// line. useSASLIR sends the mechanism's initial response inline with
// the command rather than waiting for the first continuation.
func (c *Conn) Authenticate(ctx context.Context, mech auth.Mechanism, creds auth.Credentials, useSASLIR bool) error {
	client, err := auth.NewClient(mech, creds)
	if err != nil {
		return err
	}

	_, ir, err := client.Start()
	if err != nil {
		return fmt.Errorf("session: starting %s: %w", mech, err)
	}

	attrs := []*wire.Node{wire.Atom(string(mech))}
	if useSASLIR {
		attrs = append(attrs, initialResponseNode(ir))
	}

	irPending := !useSASLIR && ir != nil
	onPlus := func(resp *wire.Response) error {
		if irPending {
			irPending = false
			return c.writeContinuationLine(base64.StdEncoding.EncodeToString(ir))
		}
		challenge, err := decodeChallenge(resp)
		if err != nil {
			return err
		}
		reply, err := client.Next(challenge)
		if err != nil {
			return err
		}
		return c.writeContinuationLine(base64.StdEncoding.EncodeToString(reply))
	}

	if _, _, err := c.Exec(ctx, "AUTHENTICATE", attrs, onPlus); err != nil {
		return err
	}
	return c.machine.Transition(StateAuth)
}

// Login drives a plain LOGIN command for servers (or callers) that skip
// SASL entirely.
func (c *Conn) Login(ctx context.Context, username, password string) error {
	attrs := []*wire.Node{wire.QuotedString(username), wire.SensitiveString(password)}
	if _, _, err := c.Exec(ctx, "LOGIN", attrs, nil); err != nil {
		return err
	}
	return c.machine.Transition(StateAuth)
}

// initialResponseNode renders a SASL initial response as the base64
// argument IMAP's SASL-IR extension expects; an empty response is sent
// as a bare "=", per RFC 4959.
func initialResponseNode(ir []byte) *wire.Node {
	if len(ir) == 0 {
		return wire.Atom("=")
	}
	return wire.QuotedString(base64.StdEncoding.EncodeToString(ir))
}

func decodeChallenge(resp *wire.Response) ([]byte, error) {
	if len(resp.Attributes) == 0 {
		return nil, nil
	}
	text := resp.Attributes[0].Str
	if text == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(text)
}

// writeContinuationLine writes a single CRLF-terminated line directly
// to the connection, bypassing the command compiler: used for SASL
// continuation replies and IDLE's DONE terminator, neither of which is
// a tagged command in its own right.
func (c *Conn) writeContinuationLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rw.Write([]byte(line + "\r\n"))
	return err
}
