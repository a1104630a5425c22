package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/arlojansen/goimap/internal/classify"
)

// Selector is what the lock queue needs from the connection to
// actually change the selected mailbox: SELECT/EXAMINE, and a way to
// tell a missing mailbox apart from some other NO failure.
type Selector interface {
	Select(ctx context.Context, path string, readOnly bool) error
	MailboxExists(ctx context.Context, path string) (bool, error)
}

// LockError wraps a failed acquisition, flagging whether the failure
// was because the mailbox doesn't exist.
type LockError struct {
	Err            error
	MailboxMissing bool
}

func (e *LockError) Error() string { return e.Err.Error() }
func (e *LockError) Unwrap() error { return e.Err }

// Lock represents one held mailbox selection. Release must be called
// exactly once to let the next queued acquisition proceed.
type Lock struct {
	Path        string
	ReadOnly    bool
	Description string

	queue *LockQueue
}

// Release drops the lock, running the next queued acquisition (if
// any) on the releasing goroutine.
func (l *Lock) Release() {
	l.queue.release(l)
}

type acquireRequest struct {
	ctx         context.Context
	path        string
	readOnly    bool
	description string
	ready       chan lockResult
}

type lockResult struct {
	lock *Lock
	err  error
}

type selection struct {
	path     string
	readOnly bool
	valid    bool
}

// LockQueue is the per-mailbox selection serializer: only one mailbox
// is SELECTed/EXAMINEd at a time, acquisitions queue FIFO, and a
// re-acquisition of the currently-selected (path, readOnly) pair is
// satisfied without re-issuing SELECT.
type LockQueue struct {
	mu           sync.Mutex
	selector     Selector
	current      *Lock
	lastSelected selection
	queue        []*acquireRequest
	closed       bool
	closeErr     error
}

func NewLockQueue(selector Selector) *LockQueue {
	return &LockQueue{selector: selector}
}

// Acquire blocks until path/readOnly is selected (or a queued
// predecessor fails/completes), then returns the held Lock.
func (q *LockQueue) Acquire(ctx context.Context, path string, readOnly bool, description string) (*Lock, error) {
	req := &acquireRequest{ctx: ctx, path: path, readOnly: readOnly, description: description, ready: make(chan lockResult, 1)}

	q.mu.Lock()
	if q.closed {
		err := q.closeErr
		q.mu.Unlock()
		return nil, err
	}
	q.queue = append(q.queue, req)
	headNow := q.current == nil && len(q.queue) == 1
	if headNow {
		q.queue = q.queue[1:]
	}
	q.mu.Unlock()

	if headNow {
		lock, err := q.process(req)
		return lock, err
	}

	select {
	case res := <-req.ready:
		return res.lock, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// process performs the actual SELECT/EXAMINE (skipped when the
// requested pair is already selected) and installs the resulting
// Lock as current.
func (q *LockQueue) process(req *acquireRequest) (*Lock, error) {
	q.mu.Lock()
	reuse := q.lastSelected.valid && q.lastSelected.path == req.path && q.lastSelected.readOnly == req.readOnly
	q.mu.Unlock()

	if !reuse {
		if err := q.selector.Select(req.ctx, req.path, req.readOnly); err != nil {
			missing := q.detectMissing(req.ctx, req.path, err)
			wrapped := &LockError{Err: err, MailboxMissing: missing}
			q.mu.Lock()
			q.lastSelected = selection{}
			q.mu.Unlock()
			return nil, wrapped
		}
		q.mu.Lock()
		q.lastSelected = selection{path: req.path, readOnly: req.readOnly, valid: true}
		q.mu.Unlock()
	}

	lock := &Lock{Path: req.path, ReadOnly: req.readOnly, Description: req.description, queue: q}
	q.mu.Lock()
	q.current = lock
	q.mu.Unlock()
	return lock, nil
}

func (q *LockQueue) detectMissing(ctx context.Context, path string, selectErr error) bool {
	var cerr *classify.Error
	if ce, ok := selectErr.(*classify.Error); ok {
		cerr = ce
	} else if ce := classifyUnwrap(selectErr); ce != nil {
		cerr = ce
	}
	if cerr == nil || cerr.Status != "NO" {
		return false
	}
	exists, err := q.selector.MailboxExists(ctx, path)
	if err != nil {
		return false
	}
	return !exists
}

func classifyUnwrap(err error) *classify.Error {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ce, ok := err.(*classify.Error); ok {
			return ce
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

func (q *LockQueue) release(lock *Lock) {
	q.mu.Lock()
	if q.current != lock {
		q.mu.Unlock()
		return
	}
	q.current = nil
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()

	lockRes, err := q.process(next)
	next.ready <- lockResult{lock: lockRes, err: err}
}

// Teardown rejects every queued (but not yet dispatched) acquisition
// with a NoConnection-classified error; the currently held lock, if
// any, is left for its owner to release.
func (q *LockQueue) Teardown(cause error) {
	err := &LockError{Err: classify.Wrap(classify.KindNoConnection, cause)}

	q.mu.Lock()
	q.closed = true
	q.closeErr = err
	pending := q.queue
	q.queue = nil
	q.mu.Unlock()

	for _, req := range pending {
		req.ready <- lockResult{err: fmt.Errorf("lockqueue: %w", err)}
	}
}
