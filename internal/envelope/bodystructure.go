package envelope

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arlojansen/goimap/internal/textdecode"
	"github.com/arlojansen/goimap/internal/wire"
)

// BodyPart is one node of a decoded BODYSTRUCTURE tree. The root
// multipart (if any) has an empty Part; children are numbered
// depth-first starting at "1" within each container, dotted for
// nesting (e.g. "2.1").
type BodyPart struct {
	Part                   string
	Type                   string // "kind/subtype", lower-cased
	Parameters             map[string]string
	ID                     string
	Description            string
	Encoding               string
	Size                   uint64
	Envelope               *Envelope // only for message/rfc822
	Disposition            string
	DispositionParameters  map[string]string
	ChildNodes             []*BodyPart
	LineCount              uint64
	HasLineCount           bool
	MD5                    string
	Language               []string
	Location               string
}

// ParseBodyStructure decodes a BODYSTRUCTURE (or BODY, non-extensible)
// response value into a BodyPart tree.
func ParseBodyStructure(n *wire.Node, dec textdecode.HeaderDecoder) (*BodyPart, error) {
	if n == nil || n.Kind == wire.KindNil {
		return nil, nil
	}
	return parseBodyPart(n, "", dec)
}

func parseBodyPart(n *wire.Node, path string, dec textdecode.HeaderDecoder) (*BodyPart, error) {
	if n.Kind != wire.KindList || len(n.Children) == 0 {
		return nil, fmt.Errorf("envelope: bodystructure node at %q is not a list", partLabel(path))
	}
	if n.Children[0].Kind == wire.KindList {
		return parseMultipart(n.Children, path, dec)
	}
	return parseSinglePart(n.Children, path, dec)
}

func parseMultipart(children []*wire.Node, path string, dec textdecode.HeaderDecoder) (*BodyPart, error) {
	i := 0
	for i < len(children) && children[i].Kind == wire.KindList {
		i++
	}
	subparts, rest := children[:i], children[i:]

	bp := &BodyPart{Part: path, Type: "multipart/unknown"}
	for idx, sub := range subparts {
		child, err := parseBodyPart(sub, joinPart(path, idx+1), dec)
		if err != nil {
			return nil, err
		}
		bp.ChildNodes = append(bp.ChildNodes, child)
	}
	if len(rest) >= 1 {
		if s, ok := stringValue(rest[0]); ok {
			bp.Type = "multipart/" + strings.ToLower(s)
		}
	}
	if len(rest) >= 2 {
		bp.Parameters = parseParamList(rest[1])
	}
	if len(rest) >= 3 {
		bp.Disposition, bp.DispositionParameters = parseDisposition(rest[2])
	}
	if len(rest) >= 4 {
		bp.Language = parseLanguage(rest[3])
	}
	if len(rest) >= 5 {
		bp.Location, _ = stringValue(rest[4])
	}
	return bp, nil
}

func parseSinglePart(children []*wire.Node, path string, dec textdecode.HeaderDecoder) (*BodyPart, error) {
	if len(children) < 7 {
		return nil, fmt.Errorf("envelope: bodystructure node at %q has too few fields (%d)", partLabel(path), len(children))
	}
	typ, _ := stringValue(children[0])
	subtype, _ := stringValue(children[1])

	bp := &BodyPart{
		Part: path,
		Type: strings.ToLower(typ) + "/" + strings.ToLower(subtype),
	}
	bp.Parameters = parseParamList(children[2])
	bp.ID, _ = stringValue(children[3])
	if desc, ok := stringValue(children[4]); ok {
		bp.Description = dec.DecodeWords(desc)
	}
	bp.Encoding, _ = stringValue(children[5])
	bp.Size = numberValue(children[6])

	idx := 7
	switch {
	case bp.Type == "message/rfc822":
		if idx+2 >= len(children) {
			return nil, fmt.Errorf("envelope: message/rfc822 body at %q missing envelope/bodystructure/lines", partLabel(path))
		}
		env, err := ParseEnvelope(children[idx], dec)
		if err != nil {
			return nil, err
		}
		bp.Envelope = env
		// Reuses the current part path rather than path+1: the embedded
		// message's own MIME tree starts numbering over within it.
		child, err := parseBodyPart(children[idx+1], path, dec)
		if err != nil {
			return nil, err
		}
		bp.ChildNodes = []*BodyPart{child}
		bp.LineCount = numberValue(children[idx+2])
		bp.HasLineCount = true
		idx += 3

	case strings.HasPrefix(bp.Type, "text/"):
		if idx < len(children) {
			switch children[idx].Kind {
			case wire.KindNumber, wire.KindBigNumber:
				bp.LineCount = numberValue(children[idx])
				bp.HasLineCount = true
				idx++
			case wire.KindQuoted, wire.KindNil, wire.KindAtom:
				// Server omitted the line-count field; the next element
				// is the start of extension data (MD5/disposition), not
				// confirmed-malformed.
			default:
				return nil, fmt.Errorf("envelope: malformed text/* body at %q: unexpected field after size", partLabel(path))
			}
		}
	}

	if idx < len(children) {
		bp.MD5, _ = stringValue(children[idx])
		idx++
	}
	if idx < len(children) {
		bp.Disposition, bp.DispositionParameters = parseDisposition(children[idx])
		idx++
	}
	if idx < len(children) {
		bp.Language = parseLanguage(children[idx])
		idx++
	}
	if idx < len(children) {
		bp.Location, _ = stringValue(children[idx])
		idx++
	}
	return bp, nil
}

func partLabel(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

func joinPart(path string, n int) string {
	if path == "" {
		return strconv.Itoa(n)
	}
	return path + "." + strconv.Itoa(n)
}

func numberValue(n *wire.Node) uint64 {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case wire.KindNumber:
		return n.Num
	case wire.KindBigNumber:
		v, _ := strconv.ParseUint(n.BigNum, 10, 64)
		return v
	default:
		return 0
	}
}

func parseParamList(n *wire.Node) map[string]string {
	if n == nil || n.Kind != wire.KindList || len(n.Children) == 0 {
		return nil
	}
	raw := make(map[string]string, len(n.Children)/2)
	for i := 0; i+1 < len(n.Children); i += 2 {
		k, _ := stringValue(n.Children[i])
		v, _ := stringValue(n.Children[i+1])
		raw[strings.ToLower(k)] = v
	}
	return mergeRFC2231Params(raw)
}

// mergeRFC2231Params joins "name*0", "name*0*", "name*1", … continuation
// parameters into a single decoded value per RFC 2231, including the
// percent-encoded charset/language prefix on the first extended segment.
func mergeRFC2231Params(raw map[string]string) map[string]string {
	type segment struct {
		index    int
		extended bool
		value    string
	}
	groups := make(map[string][]segment)
	result := make(map[string]string, len(raw))

	for k, v := range raw {
		base, idx, extended, isContinuation := splitParamKey(k)
		if !isContinuation {
			result[base] = v
			continue
		}
		groups[base] = append(groups[base], segment{index: idx, extended: extended, value: v})
	}

	for base, segs := range groups {
		sort.Slice(segs, func(i, j int) bool { return segs[i].index < segs[j].index })
		var sb strings.Builder
		for i, s := range segs {
			val := s.value
			if s.extended {
				if i == 0 {
					val = stripCharsetLangPrefix(val)
				}
				val = percentDecode(val)
			}
			sb.WriteString(val)
		}
		result[base] = sb.String()
	}
	return result
}

func splitParamKey(k string) (base string, index int, extended bool, isContinuation bool) {
	i := strings.IndexByte(k, '*')
	if i < 0 {
		return k, 0, false, false
	}
	base = k[:i]
	suffix := k[i+1:]
	switch {
	case suffix == "":
		return base, 0, true, true
	case strings.HasSuffix(suffix, "*"):
		n, err := strconv.Atoi(strings.TrimSuffix(suffix, "*"))
		if err != nil {
			return base, 0, true, true
		}
		return base, n, true, true
	default:
		n, err := strconv.Atoi(suffix)
		if err != nil {
			return base, 0, false, true
		}
		return base, n, false, true
	}
}

func stripCharsetLangPrefix(s string) string {
	i := strings.IndexByte(s, '\'')
	if i < 0 {
		return s
	}
	j := strings.IndexByte(s[i+1:], '\'')
	if j < 0 {
		return s
	}
	return s[i+1+j+1:]
}

func percentDecode(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(b))
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

func parseDisposition(n *wire.Node) (string, map[string]string) {
	if n == nil || n.Kind == wire.KindNil || n.Kind != wire.KindList || len(n.Children) == 0 {
		return "", nil
	}
	typ, _ := stringValue(n.Children[0])
	var params map[string]string
	if len(n.Children) > 1 {
		params = parseParamList(n.Children[1])
	}
	return strings.ToLower(typ), params
}

func parseLanguage(n *wire.Node) []string {
	if n == nil || n.Kind == wire.KindNil {
		return nil
	}
	if n.Kind == wire.KindList {
		out := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			if s, ok := stringValue(c); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := stringValue(n); ok {
		return []string{s}
	}
	return nil
}
