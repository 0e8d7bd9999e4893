// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"fmt"

	"github.com/golang-auth/go-sasl/internal/loggable"
)

// State is the negotiation state of a mechanism instance.  States only ever
// move forward, in the order they are declared.
type State int

const (
	StateInitialChallenge State = iota
	StateChallengeResponse
	StateSecurityLayerNegotiation
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialChallenge:
		return "initial-challenge"
	case StateChallengeResponse:
		return "challenge-response"
	case StateSecurityLayerNegotiation:
		return "security-layer-negotiation"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// StepFunc processes one incoming token in a particular state and returns the
// next state along with the token to send to the peer.  A nil response means
// there is nothing to send; an empty non-nil response must be sent as an
// empty token.
type StepFunc func(token []byte) (next State, response []byte, err error)

// Machine is the generic mechanism driver.  It owns the current state,
// dispatches tokens to the step function registered for that state and
// enforces forward-only progress.  Any error moves the machine to
// StateFailed, after which every call returns the same error.
//
// A Machine is not safe for concurrent use.
type Machine struct {
	mech    string
	state   State
	steps   map[State]StepFunc
	failure error
	log     loggable.Loggable
}

// NewMachine returns a driver in StateInitialChallenge.
func NewMachine(mech string, log loggable.Loggable, steps map[State]StepFunc) *Machine {
	if log == nil {
		log = loggable.Nop()
	}

	return &Machine{
		mech:  mech,
		state: StateInitialChallenge,
		steps: steps,
		log:   log,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// IsComplete reports whether negotiation finished successfully.
func (m *Machine) IsComplete() bool {
	return m.state == StateComplete
}

// Err returns the error that failed the machine, or nil.
func (m *Machine) Err() error {
	return m.failure
}

// Evaluate feeds one token from the peer into the machine.
//
// Calls after completion are rejected with ErrProtocolViolation without
// changing the state, so a finished negotiation stays usable.
func (m *Machine) Evaluate(token []byte) ([]byte, error) {
	switch m.state {
	case StateFailed:
		return nil, m.failure
	case StateComplete:
		return nil, Errorf(m.mech, ErrProtocolViolation, "negotiation already complete")
	}

	step, ok := m.steps[m.state]
	if !ok {
		return nil, m.Fail(Errorf(m.mech, ErrProtocolViolation, "no handler for state %s", m.state))
	}

	next, resp, err := step(token)
	if err != nil {
		return nil, m.Fail(err)
	}

	if next < m.state || next == StateFailed {
		return nil, m.Fail(Errorf(m.mech, ErrProtocolViolation, "invalid transition %s -> %s", m.state, next))
	}

	if next != m.state {
		m.log.Debugf("%s: %s -> %s", m.mech, m.state, next)
	}
	m.state = next

	return resp, nil
}

// Fail moves the machine to StateFailed.  Errors that do not carry a kind
// are reported as ErrProtocolViolation.  The first failure sticks.
func (m *Machine) Fail(err error) error {
	if m.state == StateFailed {
		return m.failure
	}

	if KindOf(err) == nil {
		err = WrapError(m.mech, ErrProtocolViolation, err, "")
	}

	m.log.Debugf("%s: failed in state %s: %s", m.mech, m.state, err)
	m.state = StateFailed
	m.failure = err

	return err
}
