package session

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arlojansen/goimap/internal/wire"
)

// fakeServer reads lines from the server side of a net.Pipe and lets
// the test script canned responses back, mimicking just enough of a
// real IMAP server to exercise Conn's read/write loop.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, r: bufio.NewReader(conn)}
}

func (s *fakeServer) readLine(t *testing.T) string {
	t.Helper()
	line, err := s.r.ReadString('\n')
	if err != nil {
		t.Fatalf("server read error: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (s *fakeServer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("server write error: %v", err)
	}
}

func TestConnExecNoop(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := NewConn(clientSide)
	go c.Run()

	srv := newFakeServer(serverSide)
	go func() {
		line := srv.readLine(t)
		fields := strings.Fields(line)
		tag := fields[0]
		srv.send(t, tag+" OK NOOP completed")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, _, err := c.Exec(ctx, "NOOP", nil, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if resp.Command != "OK" {
		t.Errorf("Command = %q, want OK", resp.Command)
	}
}

func TestConnExecCollectsUntaggedRows(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := NewConn(clientSide)
	go c.Run()

	srv := newFakeServer(serverSide)
	go func() {
		line := srv.readLine(t)
		tag := strings.Fields(line)[0]
		srv.send(t, "* 2 EXISTS")
		srv.send(t, "* 0 RECENT")
		srv.send(t, tag+" OK SELECT completed")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, untagged, err := c.Exec(ctx, "SELECT", []*wire.Node{wire.QuotedString("INBOX")}, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(untagged) != 2 {
		t.Fatalf("untagged = %d, want 2", len(untagged))
	}
}

func TestConnExecSurfacesCommandFailed(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := NewConn(clientSide)
	go c.Run()

	srv := newFakeServer(serverSide)
	go func() {
		line := srv.readLine(t)
		tag := strings.Fields(line)[0]
		srv.send(t, tag+` NO [ALREADYEXISTS] Mailbox already exists`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Exec(ctx, "CREATE", []*wire.Node{wire.QuotedString("Archive")}, nil)
	if err == nil {
		t.Fatal("expected an error for a NO response")
	}
}

func TestApplyGreetingCapabilitiesParsesBracketedCode(t *testing.T) {
	resp := &wire.Response{
		Tag:     "*",
		Command: "OK",
		Attributes: []*wire.Node{
			wire.Section("", []*wire.Node{wire.Atom("CAPABILITY"), wire.Atom("IMAP4rev1"), wire.Atom("IDLE")}, nil),
		},
	}
	caps := ApplyGreetingCapabilities(resp)
	if caps == nil {
		t.Fatal("expected a parsed capability set")
	}
	if !caps.IdleSupported() {
		t.Error("IdleSupported() = false, want true")
	}
}
