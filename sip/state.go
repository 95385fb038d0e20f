package sip

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// CallState is the state of the single INVITE dialog of a call.
type CallState int

// Call states.
const (
	StateIdle CallState = iota
	StateInviting
	StateProceeding
	StateEstablished
	StateTerminating
	StateTerminated
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInviting:
		return "inviting"
	case StateProceeding:
		return "proceeding"
	case StateEstablished:
		return "established"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Final reports whether no further transitions are possible.
func (s CallState) Final() bool {
	return s == StateTerminated || s == StateFailed
}

// CallEvent drives a state transition.
type CallEvent int

// Call events.
const (
	EventSendInvite CallEvent = iota
	EventProvisional
	EventAccepted
	EventChallenged
	EventRejected
	EventTimerB
	EventAborted
	EventHangup
	EventByeDone
)

func (e CallEvent) String() string {
	switch e {
	case EventSendInvite:
		return "send_invite"
	case EventProvisional:
		return "provisional"
	case EventAccepted:
		return "accepted"
	case EventChallenged:
		return "challenged"
	case EventRejected:
		return "rejected"
	case EventTimerB:
		return "timer_b"
	case EventAborted:
		return "aborted"
	case EventHangup:
		return "hangup"
	case EventByeDone:
		return "bye_done"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transitions lists every allowed (state, event) pair.
var transitions = map[CallState]map[CallEvent]CallState{
	StateIdle: {
		EventSendInvite: StateInviting,
	},
	StateInviting: {
		EventProvisional: StateProceeding,
		EventAccepted:    StateEstablished,
		EventChallenged:  StateInviting,
		EventRejected:    StateFailed,
		EventTimerB:      StateFailed,
		EventAborted:     StateFailed,
	},
	StateProceeding: {
		EventAccepted:   StateEstablished,
		EventChallenged: StateInviting,
		EventRejected:   StateFailed,
		EventTimerB:     StateFailed,
		EventAborted:    StateFailed,
	},
	StateEstablished: {
		EventHangup: StateTerminating,
	},
	StateTerminating: {
		EventByeDone: StateTerminated,
	},
}

// StateMachine tracks one call's state and logs every transition.
type StateMachine struct {
	callID  string
	state   CallState
	history []CallState
}

// NewStateMachine starts in StateIdle.
func NewStateMachine(callID string) *StateMachine {
	return &StateMachine{
		callID:  callID,
		state:   StateIdle,
		history: []CallState{StateIdle},
	}
}

// State returns the current state.
func (m *StateMachine) State() CallState {
	return m.state
}

// History returns every state visited, oldest first.
func (m *StateMachine) History() []CallState {
	out := make([]CallState, len(m.history))
	copy(out, m.history)
	return out
}

// MediaActive reports whether RTP may be received in the current state.
func (m *StateMachine) MediaActive() bool {
	return m.state == StateEstablished
}

// Can reports whether ev is allowed in the current state.
func (m *StateMachine) Can(ev CallEvent) bool {
	_, ok := transitions[m.state][ev]
	return ok
}

// Fire applies ev, returning ErrInvalidTransition when the current state
// does not accept it. The state is unchanged on error.
func (m *StateMachine) Fire(ev CallEvent) error {
	next, ok := transitions[m.state][ev]
	if !ok {
		return fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, m.state)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "StateMachine.Fire",
		"call_id":    m.callID,
		"event":      ev.String(),
		"from_state": m.state.String(),
		"to_state":   next.String(),
	}).Debug("Call state transition")

	m.state = next
	m.history = append(m.history, next)
	return nil
}
