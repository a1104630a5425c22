package session

import (
	"context"
	"sync"
	"time"
)

// IdleConn is whatever the idle supervisor needs from the connection:
// starting/stopping an IDLE command, and running the configured
// fallback command when the server doesn't support IDLE.
type IdleConn interface {
	StartIdle(ctx context.Context) (IdleHandle, error)
	RunFallback(ctx context.Context) error
}

// IdleHandle represents one outstanding IDLE command.
type IdleHandle interface {
	// Stop writes DONE and waits for IDLE's tagged terminator.
	Stop(ctx context.Context) error
}

// Supervisor starts IDLE after an inactivity window and keeps it
// running, breaking and restarting it at maxIdleTime, until activity
// (a queued command) or a shutdown stops it.
type Supervisor struct {
	conn         IdleConn
	supportsIdle bool
	inactivity   time.Duration
	maxIdleTime  time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	current  IdleHandle
	disabled bool
	gen      int // invalidates stale timer/restart callbacks after a reset
}

const defaultInactivity = 15 * time.Second

func NewSupervisor(conn IdleConn, supportsIdle bool, maxIdleTime time.Duration) *Supervisor {
	return &Supervisor{
		conn:         conn,
		supportsIdle: supportsIdle,
		inactivity:   defaultInactivity,
		maxIdleTime:  maxIdleTime,
	}
}

// WithInactivity overrides the default 15s inactivity window (exposed
// mainly for tests).
func (s *Supervisor) WithInactivity(d time.Duration) *Supervisor {
	s.inactivity = d
	return s
}

// Arm (re)starts the inactivity timer. Call it once after connecting
// and again after each command completes, but not while handling a
// NotifyActivity-triggered stop (the caller re-arms once that command
// itself has completed).
func (s *Supervisor) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return
	}
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.inactivity, func() { s.fire(gen) })
}

func (s *Supervisor) fire(gen int) {
	s.mu.Lock()
	if s.disabled || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !s.supportsIdle {
		_ = s.conn.RunFallback(context.Background())
		s.Arm()
		return
	}
	s.beginIdle(gen)
}

func (s *Supervisor) beginIdle(gen int) {
	handle, err := s.conn.StartIdle(context.Background())
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.disabled || gen != s.gen {
		s.mu.Unlock()
		_ = handle.Stop(context.Background())
		return
	}
	s.current = handle
	s.mu.Unlock()

	if s.maxIdleTime > 0 {
		time.AfterFunc(s.maxIdleTime, func() { s.breakAndRestart(gen) })
	}
}

// breakAndRestart stops the current IDLE and immediately starts a new
// one, per the maxIdleTime break/restart rule.
func (s *Supervisor) breakAndRestart(gen int) {
	s.mu.Lock()
	if s.disabled || gen != s.gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	handle := s.current
	s.current = nil
	s.mu.Unlock()

	_ = handle.Stop(context.Background())

	s.mu.Lock()
	stillCurrent := !s.disabled && gen == s.gen
	s.mu.Unlock()
	if stillCurrent {
		s.beginIdle(gen)
	}
}

// NotifyActivity stops any running IDLE because a command is about to
// be sent. It does not re-arm the timer; the caller re-arms once the
// triggering command completes.
func (s *Supervisor) NotifyActivity(ctx context.Context) {
	s.mu.Lock()
	s.gen++ // invalidate any pending fire/restart callbacks
	if s.timer != nil {
		s.timer.Stop()
	}
	handle := s.current
	s.current = nil
	s.mu.Unlock()

	if handle != nil {
		_ = handle.Stop(ctx)
	}
}

// Disable permanently stops the supervisor (connection teardown).
func (s *Supervisor) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	handle := s.current
	s.current = nil
	s.mu.Unlock()
	if handle != nil {
		_ = handle.Stop(context.Background())
	}
}

// Idling reports whether an IDLE command is currently outstanding.
func (s *Supervisor) Idling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}
