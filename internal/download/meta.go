package download

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/arlojansen/goimap/internal/textdecode"
)

// parseMeta scans a raw MIME header blob (as returned by BODY[n.MIME]
// or BODY[HEADER]) for Content-Type, Content-Transfer-Encoding, and
// Content-Disposition, unfolding continuation lines first.
func parseMeta(raw []byte, dec textdecode.HeaderDecoder) *Meta {
	m := &Meta{Encoding: "7bit"}
	headers := splitHeaders(raw)

	if ct, ok := headers["content-type"]; ok {
		value, params := dec.ParseHeaderValue(ct)
		m.ContentType = strings.ToLower(value)
		if cs, ok := params["charset"]; ok {
			m.Charset, m.HasCharset = cs, true
		}
		if m.ContentType == "text/plain" && strings.EqualFold(params["format"], "flowed") {
			m.Flowed = true
			m.DelSp = strings.EqualFold(params["delsp"], "yes")
		}
		if name, ok := params["name"]; ok {
			m.Filename = dec.DecodeWords(name)
		}
	}
	if cte, ok := headers["content-transfer-encoding"]; ok {
		m.Encoding = strings.ToLower(strings.TrimSpace(cte))
	}
	if cd, ok := headers["content-disposition"]; ok {
		value, params := dec.ParseHeaderValue(cd)
		m.Disposition = strings.ToLower(value)
		if name, ok := params["filename"]; ok {
			m.Filename = dec.DecodeWords(name)
		}
	}
	return m
}

// splitHeaders folds RFC 5322 continuation lines (leading whitespace)
// back into their parent header and lower-cases field names for lookup.
func splitHeaders(raw []byte) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	flush := func(name, value string) {
		if name == "" {
			return
		}
		out[strings.ToLower(name)] = strings.TrimSpace(value)
	}
	var name, value string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && name != "" {
			value += " " + strings.TrimSpace(line)
			continue
		}
		flush(name, value)
		i := strings.IndexByte(line, ':')
		if i < 0 {
			name = ""
			continue
		}
		name = strings.TrimSpace(line[:i])
		value = line[i+1:]
	}
	flush(name, value)
	return out
}
