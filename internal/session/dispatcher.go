package session

import (
	"strings"
	"sync"

	"github.com/arlojansen/goimap/internal/wire"
)

// Handler processes one untagged response. num is the numeric prefix
// when the untagged line was of the "* N WORD" shape (e.g. the 12 in
// "* 12 EXISTS"), else 0.
type Handler func(resp *wire.Response, num uint32, hasNum bool)

// Dispatcher routes untagged ("*") responses to the command that's
// currently awaiting them, falling back to session-wide handlers
// registered for the lifetime of the connection.
type Dispatcher struct {
	mu        sync.RWMutex
	session   map[string]Handler
	overrides map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{session: make(map[string]Handler)}
}

// On registers a session-wide handler for an untagged command key
// (e.g. "EXISTS", "EXPUNGE", "FETCH", "CAPABILITY", "BYE").
func (d *Dispatcher) On(command string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session[strings.ToUpper(command)] = h
}

// SetOverrides installs per-command handlers scoped to the currently
// in-flight request; pass nil to clear them once the request
// completes.
func (d *Dispatcher) SetOverrides(overrides map[string]Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrides = overrides
}

// Dispatch routes one untagged response, resolving the lookup key as
// the command token if non-numeric, else the first attribute's atom
// text (the "EXISTS" in "* 12 EXISTS").
func (d *Dispatcher) Dispatch(resp *wire.Response) {
	key, num, hasNum := lookupKey(resp)

	d.mu.RLock()
	h, ok := d.overrides[key]
	if !ok {
		h, ok = d.session[key]
	}
	d.mu.RUnlock()

	if ok && h != nil {
		h(resp, num, hasNum)
	}
}

func lookupKey(resp *wire.Response) (key string, num uint32, hasNum bool) {
	if isAllDigits(resp.Command) {
		if n, ok := parseUint32(resp.Command); ok {
			num, hasNum = n, true
		}
		if len(resp.Attributes) > 0 && resp.Attributes[0].Kind == wire.KindAtom {
			return strings.ToUpper(resp.Attributes[0].Atom), num, hasNum
		}
		return "", num, hasNum
	}
	return strings.ToUpper(resp.Command), 0, false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseUint32(s string) (uint32, bool) {
	var n uint64
	for i := 0; i < len(s); i++ {
		n = n*10 + uint64(s[i]-'0')
		if n > 1<<32-1 {
			return 0, false
		}
	}
	return uint32(n), true
}
