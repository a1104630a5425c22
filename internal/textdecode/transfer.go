package textdecode

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"
)

// TransferDecoder is a byte-duplex stream decoder selected by the
// message part's Content-Transfer-Encoding (base64 or quoted-printable,
// else an identity passthrough).
func TransferDecoder(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &tolerantBase64Reader{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default: // "7bit", "8bit", "binary", or unrecognized: pass through untouched
		return r
	}
}

// tolerantBase64Reader strips embedded CRLFs and trailing whitespace
// that IMAP literal fetches commonly wrap base64 bodies in, which
// encoding/base64 otherwise rejects as corrupt input.
type tolerantBase64Reader struct {
	r   io.Reader
	buf []byte
}

func (t *tolerantBase64Reader) Read(p []byte) (int, error) {
	raw := make([]byte, len(p))
	n, err := t.r.Read(raw)
	out := p[:0]
	for _, b := range raw[:n] {
		switch b {
		case '\r', '\n', ' ', '\t':
			continue
		default:
			out = append(out, b)
		}
	}
	return len(out), err
}
