package session

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/arlojansen/goimap/internal/auth"
	"github.com/arlojansen/goimap/internal/wire"
)

type scriptedServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newScriptedServer(conn net.Conn) *scriptedServer {
	return &scriptedServer{conn: conn, r: bufio.NewReader(conn)}
}

func (s *scriptedServer) readTag(t *testing.T) string {
	t.Helper()
	line, err := s.r.ReadString('\n')
	if err != nil {
		t.Fatalf("server read error: %v", err)
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		t.Fatalf("empty command line")
	}
	return fields[0]
}

func (s *scriptedServer) send(t *testing.T, line string) {
	t.Helper()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		t.Fatalf("server write error: %v", err)
	}
}

func TestOpenLoginFlowReachesUsable(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := NewConn(clientSide)
	go c.Run()
	srv := newScriptedServer(serverSide)

	go func() {
		tag := srv.readTag(t) // CAPABILITY
		srv.send(t, "* CAPABILITY IMAP4rev1 STARTTLS AUTH=PLAIN ENABLE")
		srv.send(t, tag+" OK CAPABILITY completed")

		tag = srv.readTag(t) // LOGIN
		srv.send(t, tag+" OK LOGIN completed")

		tag = srv.readTag(t) // CAPABILITY (post-auth)
		srv.send(t, "* CAPABILITY IMAP4rev1 ENABLE IDLE")
		srv.send(t, tag+" OK CAPABILITY completed")

		tag = srv.readTag(t) // ENABLE
		srv.send(t, "* ENABLED CONDSTORE")
		srv.send(t, tag+" OK ENABLE completed")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	greeting := &wire.Response{Tag: "*", Command: "OK", Attributes: []*wire.Node{wire.QuotedString("IMAP4rev1 Service Ready")}}
	opts := BootstrapOptions{
		StartTLSMode: StartTLSNever,
		UseLogin:     true,
		Credentials:  auth.Credentials{Username: "alice", Password: "hunter2"},
		EnableNames:  []string{"CONDSTORE"},
	}
	if err := c.Open(ctx, greeting, opts); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.Machine().State() != StateUsable {
		t.Errorf("State() = %s, want Usable", c.Machine().State())
	}
}

func TestOpenPreauthSkipsAuthentication(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := NewConn(clientSide)
	go c.Run()
	srv := newScriptedServer(serverSide)

	go func() {
		tag := srv.readTag(t) // CAPABILITY
		srv.send(t, "* CAPABILITY IMAP4rev1 ENABLE")
		srv.send(t, tag+" OK CAPABILITY completed")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	greeting := &wire.Response{Tag: "*", Command: "PREAUTH", Attributes: []*wire.Node{wire.QuotedString("Preauthenticated")}}
	if err := c.Open(ctx, greeting, BootstrapOptions{StartTLSMode: StartTLSNever}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.Machine().State() != StateUsable {
		t.Errorf("State() = %s, want Usable", c.Machine().State())
	}
}

func TestOpenRejectsStartTLSRequireWithoutAdvertisement(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := NewConn(clientSide)
	go c.Run()
	srv := newScriptedServer(serverSide)

	go func() {
		tag := srv.readTag(t)
		srv.send(t, "* CAPABILITY IMAP4rev1 AUTH=PLAIN")
		srv.send(t, tag+" OK CAPABILITY completed")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	greeting := &wire.Response{Tag: "*", Command: "OK", Attributes: []*wire.Node{wire.QuotedString("Ready")}}
	opts := BootstrapOptions{StartTLSMode: StartTLSRequire}
	if err := c.Open(ctx, greeting, opts); err == nil {
		t.Fatal("expected an error when STARTTLS is required but not advertised")
	}
}
