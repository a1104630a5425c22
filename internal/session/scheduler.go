package session

import (
	"fmt"
	"sync"

	"github.com/arlojansen/goimap/internal/wire"
)

// Result is what a scheduled command resolves with: the tagged
// terminator response, plus any untagged rows collected while it was
// in flight.
type Result struct {
	Response *wire.Response
	Untagged []*wire.Response
	Err      error
}

// OnPlusTag lets a command take over the continuation handshake
// itself (SASL challenge/response, IDLE's DONE) instead of the
// scheduler simply writing the next literal segment.
type OnPlusTag func(continuation *wire.Response) error

// pendingRequest is one FIFO entry: a compiled command plus its
// delivery channel.
type pendingRequest struct {
	tag       string
	segments  []wire.Segment
	sent      int // index of the next segment to write
	onPlusTag OnPlusTag
	untagged  []*wire.Response
	done      chan Result
}

// Writer abstracts the underlying connection write so the scheduler
// can be tested without a real socket.
type Writer interface {
	WriteSegment(data []byte) error
}

// Scheduler is the FIFO tagged-command queue: at most one command is
// in flight, continuations are resumed in order, and the tagged
// terminator completes exactly the request it answers.
type Scheduler struct {
	mu       sync.Mutex
	writer   Writer
	queue    []*pendingRequest
	inFlight *pendingRequest
	nextTag  uint64
}

func NewScheduler(w Writer) *Scheduler {
	return &Scheduler{writer: w}
}

// NextTag assigns a monotonically increasing uppercase-hex tag, e.g.
// "A0001".
func (s *Scheduler) NextTag() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTag++
	return fmt.Sprintf("A%04X", s.nextTag)
}

// Enqueue pushes a compiled request onto the FIFO and, if nothing is
// in flight, sends it immediately. done receives exactly one Result.
func (s *Scheduler) Enqueue(tag string, segments []wire.Segment, onPlusTag OnPlusTag) <-chan Result {
	done := make(chan Result, 1)
	req := &pendingRequest{tag: tag, segments: segments, onPlusTag: onPlusTag, done: done}

	s.mu.Lock()
	s.queue = append(s.queue, req)
	s.trySendLocked()
	s.mu.Unlock()

	return done
}

// trySendLocked must be called with mu held. It sends queued non-sync
// segments of the head request until hitting one that needs a `+`
// handshake or the in-flight slot is occupied.
func (s *Scheduler) trySendLocked() {
	if s.inFlight != nil || len(s.queue) == 0 {
		return
	}
	req := s.queue[0]
	s.queue = s.queue[1:]
	s.inFlight = req
	s.advanceLocked(req)
}

// advanceLocked writes as many consecutive non-Sync segments as are
// available, stopping just before (not including) a Sync segment.
func (s *Scheduler) advanceLocked(req *pendingRequest) {
	for req.sent < len(req.segments) {
		seg := req.segments[req.sent]
		if seg.Sync {
			return
		}
		if err := s.writer.WriteSegment(seg.Data); err != nil {
			s.failInFlightLocked(err)
			return
		}
		req.sent++
	}
}

func (s *Scheduler) failInFlightLocked(err error) {
	req := s.inFlight
	s.inFlight = nil
	if req != nil {
		req.done <- Result{Err: err}
		close(req.done)
	}
	s.trySendLocked()
}

// HandleUntagged records an untagged response against the in-flight
// request (the dispatcher still routes it to command/session handlers
// separately; this is purely for the 2-arity OK resolver contract).
func (s *Scheduler) HandleUntagged(resp *wire.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight != nil {
		s.inFlight.untagged = append(s.inFlight.untagged, resp)
	}
}

// HandleContinuation resumes a stalled request on a `+` response: the
// request's custom handler runs if present, else the next literal
// segment is written.
func (s *Scheduler) HandleContinuation(resp *wire.Response) error {
	s.mu.Lock()
	req := s.inFlight
	s.mu.Unlock()
	if req == nil {
		return nil
	}
	if req.onPlusTag != nil {
		return req.onPlusTag(resp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.sent >= len(req.segments) {
		return nil
	}
	seg := req.segments[req.sent]
	if err := s.writer.WriteSegment(seg.Data); err != nil {
		s.failInFlightLocked(err)
		return err
	}
	req.sent++
	s.advanceLocked(req)
	return nil
}

// HandleTagged completes the in-flight request if tag matches it,
// delivering the terminal response and any buffered untagged rows,
// then advances the queue. Reports whether tag was the in-flight
// request's tag.
func (s *Scheduler) HandleTagged(tag string, resp *wire.Response, err error) bool {
	s.mu.Lock()
	req := s.inFlight
	if req == nil || req.tag != tag {
		s.mu.Unlock()
		return false
	}
	s.inFlight = nil
	untagged := req.untagged
	s.trySendLocked()
	s.mu.Unlock()

	req.done <- Result{Response: resp, Untagged: untagged, Err: err}
	close(req.done)
	return true
}

// Teardown rejects every queued and in-flight request with err (used
// on connection close, per the cancellation contract).
func (s *Scheduler) Teardown(err error) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	inFlight := s.inFlight
	s.inFlight = nil
	s.mu.Unlock()

	if inFlight != nil {
		inFlight.done <- Result{Err: err}
		close(inFlight.done)
	}
	for _, req := range pending {
		req.done <- Result{Err: err}
		close(req.done)
	}
}

// InFlightTag reports the tag of the currently in-flight request, if
// any.
func (s *Scheduler) InFlightTag() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight == nil {
		return "", false
	}
	return s.inFlight.tag, true
}
