// SPDX-License-Identifier: Apache-2.0

package sasl

import "fmt"

// Kind identifies the family of a mechanism.
type Kind int

const (
	KindGSSAPI Kind = iota
	KindDigest
	KindPlain
	KindAnonymous
	KindLocalUser
)

func (k Kind) String() string {
	switch k {
	case KindGSSAPI:
		return "GSSAPI"
	case KindDigest:
		return "DIGEST"
	case KindPlain:
		return "PLAIN"
	case KindAnonymous:
		return "ANONYMOUS"
	case KindLocalUser:
		return "LOCAL-USER"
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Mechanism is one side of a single authentication attempt.  Instances are
// created per attempt and are never reused; Dispose must be called on every
// exit path.
//
// Evaluate is called with each token received from the peer.  Client
// mechanisms that have an initial response are first called with an empty
// token.  A nil response means nothing needs to be sent.
type Mechanism interface {
	Name() string
	Kind() Kind
	HasInitialResponse() bool
	Evaluate(token []byte) (response []byte, err error)
	State() State
	IsComplete() bool
	Outcome() (*Outcome, error)
	Dispose() error
}

// Outcome describes a completed negotiation.  It is immutable once returned.
type Outcome struct {
	// QOP is the negotiated quality of protection.
	QOP QOP

	// MaxBuffer is the largest unwrapped payload that may be passed to the
	// wrapper's Encode so that the peer can receive it.  Zero when no
	// protection layer was negotiated.
	MaxBuffer uint32

	// MaxReceiveBuffer is the size advertised to the peer for messages we
	// receive.
	MaxReceiveBuffer uint32

	// Wrapper protects application messages.  Nil iff QOP is QOPAuth.
	Wrapper *MessageWrapper

	// AuthorizationID is the identity the client asked to act as.
	AuthorizationID string

	// AuthenticationID is the identity proven during the exchange.
	AuthenticationID string
}

// HasSecurityLayer reports whether a protection layer was installed.
func (o *Outcome) HasSecurityLayer() bool {
	return o != nil && o.Wrapper != nil
}

// Authenticated is embedded by mechanisms to provide the common accessors
// backed by a Machine.
type Authenticated struct {
	*Machine
	outcome *Outcome
}

// NewAuthenticated returns the accessors for a machine.
func NewAuthenticated(m *Machine) Authenticated {
	return Authenticated{Machine: m}
}

// SetOutcome records the outcome; it is reported once the machine is
// complete.
func (a *Authenticated) SetOutcome(o *Outcome) {
	a.outcome = o
}

// Outcome returns the negotiated outcome.  It fails with
// ErrProtocolViolation until negotiation has completed, and with the
// original error once the mechanism has failed.
func (a *Authenticated) Outcome() (*Outcome, error) {
	switch {
	case a.State() == StateFailed:
		return nil, a.Err()
	case !a.IsComplete() || a.outcome == nil:
		return nil, Errorf(a.mech, ErrProtocolViolation, "negotiation has not completed")
	}

	return a.outcome, nil
}
