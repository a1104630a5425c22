// Package mailboxpath normalizes, encodes, and decodes IMAP mailbox
// paths: joining path segments with the negotiated hierarchy delimiter,
// applying the personal namespace prefix, and falling back to Modified
// UTF-7 when the server hasn't enabled UTF8=ACCEPT.
package mailboxpath

import (
	"strings"

	"github.com/arlojansen/goimap/internal/mailboxpath/utf7"
)

// Codec normalizes and transcodes mailbox paths for one connection's
// negotiated namespace and capabilities.
type Codec struct {
	Delimiter        string // hierarchy delimiter reported by LIST/NAMESPACE, e.g. "/" or "."
	NamespacePrefix  string // personal namespace prefix, e.g. "INBOX." on some Cyrus deployments
	UTF8AcceptActive bool
}

// Normalize joins segs with the delimiter, uppercases a lone "INBOX"
// segment, and prepends the namespace prefix when the joined path
// doesn't already start with it.
func (c *Codec) Normalize(segs []string) string {
	for i, s := range segs {
		if strings.EqualFold(s, "inbox") {
			segs[i] = "INBOX"
		}
	}
	delim := c.delimiter()
	joined := strings.Join(segs, delim)
	if c.NamespacePrefix != "" && !strings.HasPrefix(joined, c.NamespacePrefix) {
		joined = c.NamespacePrefix + joined
	}
	return joined
}

func (c *Codec) delimiter() string {
	if c.Delimiter == "" {
		return "/"
	}
	return c.Delimiter
}

// Encode renders a normalized path for the wire: Modified UTF-7 unless
// UTF8=ACCEPT is active, and only when the path actually needs it
// (contains "&" or a byte outside the printable ASCII range minus "&").
func (c *Codec) Encode(path string) (string, error) {
	if c.UTF8AcceptActive || !needsEncoding(path) {
		return path, nil
	}
	return utf7.Encode(path), nil
}

// Decode mirrors Encode: leaves path alone under UTF8=ACCEPT, otherwise
// reverses Modified UTF-7.
func (c *Codec) Decode(path string) (string, error) {
	if c.UTF8AcceptActive {
		return path, nil
	}
	return utf7.Decode(path)
}

func needsEncoding(path string) bool {
	for i := 0; i < len(path); i++ {
		b := path[i]
		if b == '&' {
			return true
		}
		if b < 0x20 || b > 0x7E {
			return true
		}
	}
	return false
}
