// Package rangeset packs and expands IMAP sequence/UID sets: sorted
// integer collections rendered as compact "a:b,c" range strings, and
// the reverse.
package rangeset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arlojansen/goimap/internal/search"
)

// Star is the "newest message" sentinel IMAP uses in place of a
// message number (e.g. "*" or "1:*").
const Star = "*"

// Searcher runs a SEARCH against the live connection to materialize
// the UIDs a search.Object matches. Kept as a narrow interface here so
// this leaf package never imports the session layer.
type Searcher interface {
	Search(ctx context.Context, obj *search.Object) ([]uint32, error)
}

// Pack renders a sorted set of message numbers as a minimal range
// string: consecutive runs become "a:b", isolated numbers stay
// singletons, and all pieces are joined with commas.
func Pack(nums []uint32) string {
	if len(nums) == 0 {
		return ""
	}
	sorted := append([]uint32(nil), nums...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var runs []string
	start, prev := sorted[0], sorted[0]
	flush := func(end uint32) {
		if start == end {
			runs = append(runs, strconv.FormatUint(uint64(start), 10))
		} else {
			runs = append(runs, fmt.Sprintf("%d:%d", start, end))
		}
	}
	for _, n := range sorted[1:] {
		if n == prev || n == prev+1 {
			prev = n
			continue
		}
		flush(prev)
		start, prev = n, n
	}
	flush(prev)
	return strings.Join(runs, ",")
}

// Expand parses a range string like "1:5,9,12:*" back into the
// explicit member numbers it denotes. star supplies the numeric value
// "*" should resolve to (normally the mailbox's current EXISTS count);
// expand returns an error if a bare "*" appears with star == 0.
func Expand(rangeStr string, star uint32) ([]uint32, error) {
	var out []uint32
	for _, piece := range strings.Split(rangeStr, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		bounds := strings.SplitN(piece, ":", 2)
		lo, err := resolveBound(bounds[0], star)
		if err != nil {
			return nil, err
		}
		hi := lo
		if len(bounds) == 2 {
			hi, err = resolveBound(bounds[1], star)
			if err != nil {
				return nil, err
			}
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		for n := lo; n <= hi; n++ {
			out = append(out, n)
			if n == ^uint32(0) {
				break
			}
		}
	}
	return out, nil
}

func resolveBound(token string, star uint32) (uint32, error) {
	if token == Star {
		if star == 0 {
			return 0, fmt.Errorf("rangeset: %q used with no known star value", token)
		}
		return star, nil
	}
	v, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("rangeset: invalid range member %q: %w", token, err)
	}
	return uint32(v), nil
}

// ErrEmptyMailbox is returned (packed == "") when a bare "*" range is
// resolved against an empty mailbox: there is no newest message to
// denote, so the caller should treat the range as matching nothing
// rather than send a literal "FETCH *" to the server.
var ErrEmptyMailbox = errors.New("rangeset: empty mailbox")

// Resolve coerces any of the accepted input shapes — a single number,
// the literal "*", a slice of numbers, a pre-packed "a:b,c" string, or
// a search.Object — into a packed range string ready to send on the
// wire. exists is the mailbox's current EXISTS count, used only to
// short-circuit a bare "*" on an empty mailbox. When input is a
// *search.Object, it runs SEARCH via searcher to materialize the
// matching UIDs first, and reports uid=true so the caller knows to
// issue a UID-prefixed command.
func Resolve(ctx context.Context, input any, exists uint32, searcher Searcher) (packed string, uid bool, err error) {
	switch v := input.(type) {
	case string:
		if v == Star {
			if exists == 0 {
				return "", false, ErrEmptyMailbox
			}
			return Star, false, nil
		}
		return v, false, nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), false, nil
	case int:
		if v < 0 {
			return "", false, fmt.Errorf("rangeset: negative message number %d", v)
		}
		return strconv.Itoa(v), false, nil
	case uint64:
		return strconv.FormatUint(v, 10), false, nil
	case []uint32:
		return Pack(v), false, nil
	case []int:
		nums := make([]uint32, len(v))
		for i, n := range v {
			if n < 0 {
				return "", false, fmt.Errorf("rangeset: negative message number %d", n)
			}
			nums[i] = uint32(n)
		}
		return Pack(nums), false, nil
	case *search.Object:
		if searcher == nil {
			return "", false, fmt.Errorf("rangeset: a SearchObject input requires a live searcher")
		}
		matched, err := searcher.Search(ctx, v)
		if err != nil {
			return "", false, fmt.Errorf("rangeset: search to materialize range failed: %w", err)
		}
		return Pack(matched), true, nil
	default:
		return "", false, fmt.Errorf("rangeset: unsupported range input type %T", input)
	}
}
