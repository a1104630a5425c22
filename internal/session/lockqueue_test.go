package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arlojansen/goimap/internal/classify"
	"github.com/arlojansen/goimap/internal/wire"
)

type fakeSelector struct {
	mu        sync.Mutex
	selects   []string
	fail      map[string]*classify.Error
	existsMap map[string]bool
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{fail: map[string]*classify.Error{}, existsMap: map[string]bool{}}
}

func (f *fakeSelector) Select(ctx context.Context, path string, readOnly bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, fmt.Sprintf("%s:%v", path, readOnly))
	if err, ok := f.fail[path]; ok {
		return err
	}
	return nil
}

func (f *fakeSelector) MailboxExists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existsMap[path], nil
}

func TestLockQueueAcquireAndRelease(t *testing.T) {
	sel := newFakeSelector()
	q := NewLockQueue(sel)

	lock, err := q.Acquire(context.Background(), "INBOX", true, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lock.Path != "INBOX" || !lock.ReadOnly {
		t.Errorf("lock = %+v", lock)
	}
	lock.Release()
}

func TestLockQueueSerializesAcquisitions(t *testing.T) {
	sel := newFakeSelector()
	q := NewLockQueue(sel)

	first, err := q.Acquire(context.Background(), "INBOX", false, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	secondReady := make(chan *Lock, 1)
	go func() {
		lock, err := q.Acquire(context.Background(), "Sent", false, "")
		if err != nil {
			t.Errorf("second Acquire() error = %v", err)
			return
		}
		secondReady <- lock
	}()

	select {
	case <-secondReady:
		t.Fatal("second acquisition completed before the first was released")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case lock := <-secondReady:
		lock.Release()
	case <-time.After(time.Second):
		t.Fatal("second acquisition never completed after release")
	}
}

func TestLockQueueReacquisitionSkipsSelect(t *testing.T) {
	sel := newFakeSelector()
	q := NewLockQueue(sel)

	lock1, _ := q.Acquire(context.Background(), "INBOX", true, "")
	lock1.Release()
	lock2, err := q.Acquire(context.Background(), "INBOX", true, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	lock2.Release()

	sel.mu.Lock()
	defer sel.mu.Unlock()
	if len(sel.selects) != 1 {
		t.Errorf("selects = %v, want exactly one SELECT call", sel.selects)
	}
}

func TestLockQueueDifferentReadOnlyForcesReselect(t *testing.T) {
	sel := newFakeSelector()
	q := NewLockQueue(sel)

	lock1, _ := q.Acquire(context.Background(), "INBOX", true, "")
	lock1.Release()
	lock2, err := q.Acquire(context.Background(), "INBOX", false, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	lock2.Release()

	sel.mu.Lock()
	defer sel.mu.Unlock()
	if len(sel.selects) != 2 {
		t.Errorf("selects = %v, want two SELECT calls", sel.selects)
	}
}

func TestLockQueueMissingMailboxFlagged(t *testing.T) {
	sel := newFakeSelector()
	sel.fail["Ghost"] = classify.CommandFailed("NO", wire.List(wire.QuotedString("Mailbox does not exist")))
	sel.existsMap["Ghost"] = false
	q := NewLockQueue(sel)

	_, err := q.Acquire(context.Background(), "Ghost", true, "")
	if err == nil {
		t.Fatal("expected an error for a missing mailbox")
	}
	lockErr, ok := err.(*LockError)
	if !ok {
		t.Fatalf("err is %T, want *LockError", err)
	}
	if !lockErr.MailboxMissing {
		t.Error("MailboxMissing = false, want true")
	}
}

func TestLockQueueNonMissingNOIsNotFlagged(t *testing.T) {
	sel := newFakeSelector()
	sel.fail["Locked"] = classify.CommandFailed("NO", wire.List(wire.QuotedString("Mailbox is locked")))
	sel.existsMap["Locked"] = true
	q := NewLockQueue(sel)

	_, err := q.Acquire(context.Background(), "Locked", true, "")
	lockErr, ok := err.(*LockError)
	if !ok {
		t.Fatalf("err is %T, want *LockError", err)
	}
	if lockErr.MailboxMissing {
		t.Error("MailboxMissing = true, want false")
	}
}

func TestLockQueueTeardownRejectsQueuedWaiters(t *testing.T) {
	sel := newFakeSelector()
	q := NewLockQueue(sel)

	_, err := q.Acquire(context.Background(), "INBOX", false, "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	waiterErrCh := make(chan error, 1)
	go func() {
		_, err := q.Acquire(context.Background(), "Sent", false, "")
		waiterErrCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	q.Teardown(fmt.Errorf("closed"))

	select {
	case err := <-waiterErrCh:
		if err == nil {
			t.Error("expected the queued waiter to be rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("queued waiter was never rejected")
	}

	if _, err := q.Acquire(context.Background(), "Trash", false, ""); err == nil {
		t.Error("expected Acquire() on a torn-down queue to fail")
	}
}
