// Package transport supplies the byte-duplex collaborators the session
// state machine drives through: a TCP/proxy dialer, a STARTTLS/implicit
// TLS upgrader, and the COMPRESS=DEFLATE stream wrapper. None of it
// understands IMAP; internal/session calls back into it only through
// the narrow function types its state machine already expects
// (session.Upgrader and friends).
package transport

import (
	"bufio"
	"compress/flate"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultConnectTimeout matches §5's 90s connect timeout.
const DefaultConnectTimeout = 90 * time.Second

// Dialer opens the initial TCP connection, optionally through an
// upstream SOCKS5 or HTTP-CONNECT proxy.
type Dialer struct {
	// ProxyURL is "socks5://[user:pass@]host:port" or
	// "http://[user:pass@]host:port"; empty dials directly.
	ProxyURL       string
	ConnectTimeout time.Duration
}

// DialContext opens a TCP connection to host:port, respecting
// ConnectTimeout (default DefaultConnectTimeout) and routing through
// ProxyURL when set.
func (d *Dialer) DialContext(ctx context.Context, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.ProxyURL == "" {
		var nd net.Dialer
		conn, err := nd.DialContext(dctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dialing %s: %w", addr, err)
		}
		return conn, nil
	}
	conn, err := d.dialProxy(dctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s via proxy: %w", addr, err)
	}
	return conn, nil
}

func (d *Dialer) dialProxy(ctx context.Context, addr string) (net.Conn, error) {
	u, err := url.Parse(d.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch u.Scheme {
	case "socks5", "socks5h":
		return dialSOCKS5(ctx, u, addr)
	case "http", "https":
		return dialHTTPConnect(ctx, u, addr)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}

func dialSOCKS5(ctx context.Context, proxyURL *url.URL, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if proxyURL.User != nil {
		pass, _ := proxyURL.User.Password()
		auth = &proxy.Auth{User: proxyURL.User.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("building SOCKS5 dialer: %w", err)
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.Dial("tcp", addr)
}

// dialHTTPConnect speaks a plain HTTP CONNECT handshake to proxyURL and
// hands back the tunneled connection once the proxy answers 200.
func dialHTTPConnect(ctx context.Context, proxyURL *url.URL, addr string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("dialing proxy: %w", err)
	}

	req := &http.Request{
		Method: "CONNECT",
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if proxyURL.User != nil {
		pass, _ := proxyURL.User.Password()
		req.SetBasicAuth(proxyURL.User.Username(), pass)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}
	conn.SetDeadline(time.Time{})
	return conn, nil
}

// UpgradeTLS performs the STARTTLS/implicit-TLS client handshake. rw
// must be a net.Conn (every production transport in this package
// returns one); it is not meaningful over an already-compressed or
// otherwise non-network stream.
func UpgradeTLS(ctx context.Context, rw io.ReadWriteCloser, cfg *tls.Config) (io.ReadWriteCloser, error) {
	conn, ok := rw.(net.Conn)
	if !ok {
		return nil, fmt.Errorf("transport: TLS upgrade requires a net.Conn, got %T", rw)
	}
	tlsConn := tls.Client(conn, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("transport: TLS handshake: %w", err)
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return tlsConn, nil
}

// deflateStream wraps an underlying duplex stream with COMPRESS=DEFLATE
// framing: every Write flushes immediately so the server sees a
// complete deflate frame per application-level write, matching §4.11's
// "do not rely on stream-level buffering" requirement.
type deflateStream struct {
	under io.ReadWriteCloser
	fr    io.ReadCloser
	fw    *flate.Writer
}

// WrapCompress installs an inflate reader and a deflate writer over rw,
// used once the server has acknowledged "COMPRESS DEFLATE".
func WrapCompress(rw io.ReadWriteCloser) io.ReadWriteCloser {
	return &deflateStream{
		under: rw,
		fr:    flate.NewReader(rw),
		fw:    flate.NewWriter(rw, flate.DefaultCompression),
	}
}

func (d *deflateStream) Read(p []byte) (int, error) { return d.fr.Read(p) }

func (d *deflateStream) Write(p []byte) (int, error) {
	n, err := d.fw.Write(p)
	if err != nil {
		return n, err
	}
	if err := d.fw.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

func (d *deflateStream) Close() error {
	_ = d.fw.Close()
	_ = d.fr.Close()
	return d.under.Close()
}
