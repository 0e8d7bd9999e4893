// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineProgress(t *testing.T) {
	rounds := 0
	m := NewMachine("TEST", nil, map[State]StepFunc{
		StateInitialChallenge: func(tok []byte) (State, []byte, error) {
			return StateChallengeResponse, []byte("first"), nil
		},
		StateChallengeResponse: func(tok []byte) (State, []byte, error) {
			rounds++
			if rounds < 3 {
				return StateChallengeResponse, []byte("again"), nil
			}
			return StateComplete, nil, nil
		},
	})

	resp, err := m.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), resp)
	assert.Equal(t, StateChallengeResponse, m.State())

	for i := 0; i < 2; i++ {
		_, err = m.Evaluate([]byte("x"))
		require.NoError(t, err)
		assert.Equal(t, StateChallengeResponse, m.State())
	}

	resp, err = m.Evaluate([]byte("x"))
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.True(t, m.IsComplete())

	// no change after completion
	_, err = m.Evaluate([]byte("x"))
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, StateComplete, m.State())
	assert.Nil(t, m.Err())
}

func TestMachineStickyFailure(t *testing.T) {
	calls := 0
	m := NewMachine("TEST", nil, map[State]StepFunc{
		StateInitialChallenge: func(tok []byte) (State, []byte, error) {
			calls++
			return 0, nil, Errorf("TEST", ErrMalformedNegotiationMessage, "bad")
		},
	})

	_, first := m.Evaluate(nil)
	assert.ErrorIs(t, first, ErrMalformedNegotiationMessage)
	assert.Equal(t, StateFailed, m.State())

	for i := 0; i < 3; i++ {
		_, err := m.Evaluate([]byte("more"))
		assert.Equal(t, first, err)
		assert.Equal(t, ErrMalformedNegotiationMessage, KindOf(err))
	}
	assert.Equal(t, 1, calls)

	// a later failure doesn't replace the first one
	err := m.Fail(Errorf("TEST", ErrTrustContextFailure, "later"))
	assert.Equal(t, first, err)
}

func TestMachineRejectsBackwardsTransition(t *testing.T) {
	m := NewMachine("TEST", nil, map[State]StepFunc{
		StateInitialChallenge: func(tok []byte) (State, []byte, error) {
			return StateSecurityLayerNegotiation, nil, nil
		},
		StateSecurityLayerNegotiation: func(tok []byte) (State, []byte, error) {
			return StateInitialChallenge, nil, nil
		},
	})

	_, err := m.Evaluate(nil)
	require.NoError(t, err)

	_, err = m.Evaluate(nil)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, StateFailed, m.State())
}

func TestMachineUnkindedErrors(t *testing.T) {
	cause := errors.New("boom")
	m := NewMachine("TEST", nil, map[State]StepFunc{
		StateInitialChallenge: func(tok []byte) (State, []byte, error) {
			return 0, nil, cause
		},
	})

	_, err := m.Evaluate(nil)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorIs(t, err, cause)
}

func TestMachineMissingHandler(t *testing.T) {
	m := NewMachine("TEST", nil, map[State]StepFunc{
		StateInitialChallenge: func(tok []byte) (State, []byte, error) {
			return StateChallengeResponse, nil, nil
		},
	})

	_, err := m.Evaluate(nil)
	require.NoError(t, err)
	_, err = m.Evaluate(nil)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestAuthenticatedOutcome(t *testing.T) {
	m := NewMachine("TEST", nil, map[State]StepFunc{
		StateInitialChallenge: func(tok []byte) (State, []byte, error) {
			return StateComplete, nil, nil
		},
	})
	a := NewAuthenticated(m)

	_, err := a.Outcome()
	assert.ErrorIs(t, err, ErrProtocolViolation)

	a.SetOutcome(&Outcome{QOP: QOPAuth})
	_, err = a.Evaluate(nil)
	require.NoError(t, err)

	o, err := a.Outcome()
	require.NoError(t, err)
	assert.Equal(t, QOPAuth, o.QOP)
	assert.False(t, o.HasSecurityLayer())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "security-layer-negotiation", StateSecurityLayerNegotiation.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, "GSSAPI", KindGSSAPI.String())
}
