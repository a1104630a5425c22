// Package classify maps failed IMAP responses and transport failures
// into typed errors the caller can branch on.
package classify

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arlojansen/goimap/internal/wire"
)

// Kind enumerates the error categories the classifier produces.
type Kind string

const (
	KindNoConnection         Kind = "no_connection"
	KindConnectTimeout       Kind = "connect_timeout"
	KindGreetingTimeout      Kind = "greeting_timeout"
	KindUpgradeTimeout       Kind = "upgrade_timeout"
	KindSocketTimeout        Kind = "socket_timeout"
	KindAuthenticationFailure Kind = "authentication_failure"
	KindCommandFailed        Kind = "command_failed"
	KindThrottled            Kind = "throttled"
	KindInvalidResponse      Kind = "invalid_response"
	KindParseError           Kind = "parse_error"
	KindProtocolViolation    Kind = "protocol_violation"
	KindProxyError           Kind = "proxy_error"
	KindTLSFailure           Kind = "tls_failure"
)

// maxThrottleReset bounds how long a server-hinted throttle reset
// window is ever reported as, regardless of what the server claims.
const maxThrottleReset = 5 * time.Minute

// Error is the classifier's typed error value.
type Error struct {
	Kind               Kind
	Status             string // "NO" or "BAD", for KindCommandFailed
	Code               string // bracketed response code, e.g. ALREADYEXISTS
	Text               string
	ThrottleReset       time.Duration
	ServerResponseCode string
	Cause              error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Text != "":
		return fmt.Sprintf("imap: %s [%s] %s", e.Kind, e.Code, e.Text)
	case e.Text != "":
		return fmt.Sprintf("imap: %s: %s", e.Kind, e.Text)
	case e.Cause != nil:
		return fmt.Sprintf("imap: %s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("imap: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, text string) *Error {
	return &Error{Kind: kind, Text: text}
}

func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

var codePattern = regexp.MustCompile(`^\[([A-Za-z0-9.]+)(?:\s+([^\]]*))?\]\s*(.*)$`)

var throttlePattern = regexp.MustCompile(`(?i)(?:try\s+again\s+in|suggested\s+backoff\s+time:?)\s+(\d+)\s*(milliseconds?|ms|seconds?|sec|s|minutes?|min|m)\b`)

// CommandFailed builds the typed error for a tagged NO/BAD response,
// extracting the bracketed response code and any throttle hint. The
// code may arrive either as a parsed bareSection ("[CODE ...]" as its
// own node, the normal case for a live server response) or embedded in
// plain response text, so both shapes are checked.
func CommandFailed(status string, attrs *wire.Node) *Error {
	code, text := extractCode(attrs)

	e := &Error{
		Kind:               KindCommandFailed,
		Status:             status,
		Code:               code,
		Text:               text,
		ServerResponseCode: code,
	}
	if reset, ok := parseThrottleHint(text); ok {
		e.Kind = KindThrottled
		e.ThrottleReset = reset
	}
	return e
}

// ReclassifyCreateAlreadyExists turns an ALREADYEXISTS failure on
// CREATE into a non-error "already exists" signal.
func ReclassifyCreateAlreadyExists(err *Error) (alreadyExists bool) {
	return err != nil && err.Code == "ALREADYEXISTS"
}

func joinText(children []*wire.Node) string {
	var parts []string
	for _, n := range children {
		switch n.Kind {
		case wire.KindAtom:
			parts = append(parts, n.Atom)
		case wire.KindQuoted:
			parts = append(parts, n.Str)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// extractCode pulls a bracketed response code out of attrs, trying the
// parsed-node shape first and falling back to a text regex for code
// embedded in a single text run (e.g. a literal or quoted string that
// was never split into its own section node).
func extractCode(attrs *wire.Node) (code, text string) {
	if attrs == nil {
		return "", ""
	}
	children := attrs.Children
	if len(children) > 0 && children[0].Kind == wire.KindSection {
		sec := children[0]
		if len(sec.Children) > 0 && sec.Children[0].Kind == wire.KindAtom {
			code = strings.ToUpper(sec.Children[0].Atom)
		}
		return code, joinText(children[1:])
	}

	text = joinText(children)
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", text
	}
	return strings.ToUpper(m[1]), strings.TrimSpace(m[3])
}

// parseThrottleHint looks for a "try again in N unit" style message and
// clamps the result to maxThrottleReset.
func parseThrottleHint(text string) (time.Duration, bool) {
	m := throttlePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	var d time.Duration
	switch strings.ToLower(m[2]) {
	case "ms", "millisecond", "milliseconds":
		d = time.Duration(n) * time.Millisecond
	case "m", "min", "minute", "minutes":
		d = time.Duration(n) * time.Minute
	default:
		d = time.Duration(n) * time.Second
	}
	if d > maxThrottleReset {
		d = maxThrottleReset
	}
	return d, true
}

// As reports whether err is a *Error of the given kind.
func As(err error, kind Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
