// SPDX-License-Identifier: Apache-2.0

package sasl

// MessageWrapper protects application messages once a protection layer has
// been negotiated.  It is created once per successful negotiation and shares
// the trust context with the mechanism that produced it.
type MessageWrapper struct {
	mech string
	conf bool
	ctx  SecurityContext
}

// NewMessageWrapper returns a wrapper that encodes through ctx, sealing
// messages when conf is set.
func NewMessageWrapper(mech string, ctx SecurityContext, conf bool) *MessageWrapper {
	return &MessageWrapper{mech: mech, conf: conf, ctx: ctx}
}

// Confidentiality reports whether encoded messages are sealed.
func (w *MessageWrapper) Confidentiality() bool {
	return w.conf
}

// Encode protects payload for transmission to the peer.
func (w *MessageWrapper) Encode(payload []byte) ([]byte, error) {
	tok, err := w.ctx.Wrap(payload, w.conf)
	if err != nil {
		return nil, WrapError(w.mech, ErrProtectionLayerViolation, err, "wrap")
	}

	return tok, nil
}

// Decode verifies, and if necessary decrypts, a token from the peer.  A
// wrapper negotiated for confidentiality refuses tokens that were not sealed.
func (w *MessageWrapper) Decode(token []byte) ([]byte, error) {
	payload, sealed, err := w.ctx.Unwrap(token)
	if err != nil {
		return nil, WrapError(w.mech, ErrProtectionLayerViolation, err, "unwrap")
	}

	if w.conf && !sealed {
		return nil, Errorf(w.mech, ErrProtectionLayerViolation, "received message without confidentiality protection")
	}

	return payload, nil
}
