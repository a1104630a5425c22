package session

import "fmt"

// State is a connection's position in the session lifecycle.
type State int

const (
	StateDial State = iota
	StateGreeting
	StateCapabilities
	StateStartTLS
	StateAuth
	StateCapabilities2
	StateCompress
	StateEnable
	StateUsable
	StateAuthenticated // reached directly from Greeting on PREAUTH
	StateSelected
	StateLogout
)

func (s State) String() string {
	switch s {
	case StateDial:
		return "Dial"
	case StateGreeting:
		return "Greeting"
	case StateCapabilities:
		return "Capabilities"
	case StateStartTLS:
		return "StartTLS"
	case StateAuth:
		return "Auth"
	case StateCapabilities2:
		return "Capabilities2"
	case StateCompress:
		return "Compress"
	case StateEnable:
		return "Enable"
	case StateUsable:
		return "Usable"
	case StateAuthenticated:
		return "Authenticated"
	case StateSelected:
		return "Selected"
	case StateLogout:
		return "Logout"
	default:
		return "Unknown"
	}
}

// StartTLSMode pins whether opportunistic STARTTLS is attempted.
type StartTLSMode int

const (
	// StartTLSAuto upgrades opportunistically if the server advertises
	// STARTTLS (the default).
	StartTLSAuto StartTLSMode = iota
	StartTLSRequire
	StartTLSNever
)

// StartTLSDecision is what the state machine decides to do about
// STARTTLS for a freshly-dialed, non-implicit-TLS connection.
type StartTLSDecision int

const (
	StartTLSSkip StartTLSDecision = iota
	StartTLSUpgrade
	StartTLSFail // capability missing under StartTLSRequire
)

// DecideStartTLS applies the STARTTLS policy: secure (implicit TLS)
// always skips this step; otherwise mode governs whether the upgrade
// is required, skipped, or attempted opportunistically.
func DecideStartTLS(secure bool, mode StartTLSMode, advertised bool) StartTLSDecision {
	if secure {
		return StartTLSSkip
	}
	switch mode {
	case StartTLSNever:
		return StartTLSSkip
	case StartTLSRequire:
		if !advertised {
			return StartTLSFail
		}
		return StartTLSUpgrade
	default: // StartTLSAuto
		if advertised {
			return StartTLSUpgrade
		}
		return StartTLSSkip
	}
}

// Machine tracks the session's current state and enforces the legal
// transitions of the state diagram.
type Machine struct {
	state State
}

func NewMachine() *Machine { return &Machine{state: StateDial} }

func (m *Machine) State() State { return m.state }

var transitions = map[State]map[State]bool{
	StateDial:          {StateGreeting: true},
	StateGreeting:       {StateCapabilities: true, StateAuthenticated: true, StateLogout: true},
	StateCapabilities:  {StateStartTLS: true, StateAuth: true, StateLogout: true},
	StateStartTLS:      {StateAuth: true, StateCapabilities: true, StateLogout: true},
	StateAuth:          {StateCapabilities2: true, StateLogout: true},
	StateCapabilities2: {StateCompress: true, StateEnable: true, StateLogout: true},
	StateCompress:      {StateEnable: true, StateLogout: true},
	StateEnable:        {StateUsable: true, StateLogout: true},
	StateUsable:        {StateSelected: true, StateLogout: true},
	StateAuthenticated: {StateSelected: true, StateUsable: true, StateLogout: true},
	StateSelected:      {StateUsable: true, StateSelected: true, StateLogout: true},
	StateLogout:        {},
}

// Transition moves the machine to next, returning an error if the
// transition isn't legal from the current state. "any -> Logout" is
// always legal, matching the diagram's "any -> BYE/err -> Logout" rule.
func (m *Machine) Transition(next State) error {
	if next == StateLogout {
		m.state = StateLogout
		return nil
	}
	allowed, ok := transitions[m.state]
	if !ok || !allowed[next] {
		return fmt.Errorf("session: illegal transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}

// RequiresState reports whether the machine is currently in one of
// the required states (used by C15's precondition checks).
func (m *Machine) RequiresState(allowed ...State) bool {
	for _, s := range allowed {
		if m.state == s {
			return true
		}
	}
	return false
}
