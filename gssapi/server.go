// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"context"
	"unicode/utf8"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

// DefaultMaxReceiveBuffer is advertised by the server when a protection
// layer is offered and no receive buffer size has been configured.
const DefaultMaxReceiveBuffer = 65536

// Server is the server side of the GSSAPI mechanism.
type Server struct {
	sasl.Authenticated

	cfg      sasl.MechConfig
	log      loggable.Loggable
	ctx      sasl.SecurityContext
	offered  header
	disposed bool
}

// NewServer returns a GSSAPI server mechanism.
func NewServer(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	prov, err := cfg.ContextProvider()
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "trust context provider %q", cfg.ProviderName)
	}

	log := loggable.Named(cfg.Logger, "gssapi")

	ctx, err := prov.AcceptSecContext(
		sasl.WithAcceptorCredential(cfg.Credential),
		sasl.WithAcceptorChannelBinding(cfg.ChannelBinding),
	)
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "creating acceptor context")
	}

	s := &Server{cfg: cfg, log: log, ctx: ctx}
	s.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:         s.initialResponse,
		sasl.StateChallengeResponse:        s.challengeResponse,
		sasl.StateSecurityLayerNegotiation: s.negotiateSecurityLayer,
	}))

	return s, nil
}

func (s *Server) Name() string             { return MechName }
func (s *Server) Kind() sasl.Kind          { return sasl.KindGSSAPI }
func (s *Server) HasInitialResponse() bool { return false }

// Dispose releases the trust context.
func (s *Server) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true

	return s.ctx.Release()
}

// Protocols without an initial response start with an empty message from
// the client, which is answered with an empty challenge.
func (s *Server) initialResponse(token []byte) (sasl.State, []byte, error) {
	if len(token) == 0 {
		return sasl.StateChallengeResponse, []byte{}, nil
	}

	return s.challengeResponse(token)
}

func (s *Server) challengeResponse(token []byte) (sasl.State, []byte, error) {
	// RFC 4752 § 3.1: the final context token was sent on its own and the
	// client answered with an empty response.
	if s.ctx.IsEstablished() {
		if len(token) != 0 && !s.cfg.RelaxedCompliance {
			return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "expected an empty response after context establishment")
		}
		return s.offer()
	}

	out, err := s.ctx.Continue(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "accepting client token")
	}

	if !s.ctx.IsEstablished() {
		return sasl.StateChallengeResponse, out, nil
	}

	s.log.Debugf("context established with %s", s.ctx.PeerName())
	if len(out) > 0 {
		return sasl.StateChallengeResponse, out, nil
	}

	return s.offer()
}

// offer sends the protection levels that are both configured and supported
// by the established context.
func (s *Server) offer() (sasl.State, []byte, error) {
	flags := s.ctx.ContextFlags()

	var mask byte
	for _, q := range s.cfg.QOP {
		if q.CompatibleWith(flags) {
			mask |= byte(q)
		}
	}
	if mask == 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrNoAcceptableProtectionLevel, "none of %v are available with context flags [%s]", s.cfg.QOP, flags)
	}

	s.offered = header{qop: mask}
	if s.offered.offersProtection() {
		s.offered.maxBuffer = s.cfg.MaxReceiveBuffer
		if s.offered.maxBuffer == 0 {
			s.offered.maxBuffer = DefaultMaxReceiveBuffer
		}
	}
	s.log.Debugf("offering QOP %v, max buffer %d", sasl.QOPsIn(mask), s.offered.maxBuffer)

	out, err := s.ctx.Wrap(s.offered.marshal(""), false)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "wrapping security layer offer")
	}

	return sasl.StateSecurityLayerNegotiation, out, nil
}

func (s *Server) negotiateSecurityLayer(token []byte) (sasl.State, []byte, error) {
	msg, _, err := s.ctx.Unwrap(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "unwrapping security layer response")
	}

	hdr, err := parseHeader(msg, false)
	if err != nil {
		return 0, nil, err
	}

	qop := sasl.QOP(hdr.qop)
	if len(sasl.QOPsIn(hdr.qop)) != 1 || !qop.IncludedBy(s.offered.qop) {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrNoAcceptableProtectionLevel, "client selected %#02x, offered %v", hdr.qop, sasl.QOPsIn(s.offered.qop))
	}

	if !s.cfg.RelaxedCompliance && qop == sasl.QOPAuth && hdr.maxBuffer != 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrInconsistentBufferSize, "client max buffer %d without a security layer", hdr.maxBuffer)
	}

	authzID := msg[headerLen:]
	if !utf8.Valid(authzID) {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrMalformedNegotiationMessage, "authorization identity is not valid UTF-8")
	}

	authcID := s.ctx.PeerName()
	outcome := &sasl.Outcome{
		QOP:              qop,
		AuthenticationID: authcID,
		AuthorizationID:  string(authzID),
	}
	if outcome.AuthorizationID == "" {
		outcome.AuthorizationID = authcID
	}

	if err := s.authorize(authcID, outcome.AuthorizationID); err != nil {
		return 0, nil, err
	}

	if qop != sasl.QOPAuth {
		conf := qop == sasl.QOPAuthConf
		outcome.MaxBuffer, err = s.ctx.WrapSizeLimit(conf, hdr.maxBuffer)
		if err != nil {
			return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "wrap size limit")
		}
		outcome.MaxReceiveBuffer = s.offered.maxBuffer
		outcome.Wrapper = sasl.NewMessageWrapper(MechName, s.ctx, conf)
	}
	s.log.Infof("authenticated %s as %s with QOP %s", authcID, outcome.AuthorizationID, qop)
	s.SetOutcome(outcome)

	return sasl.StateComplete, nil, nil
}

// authorize checks that the authenticated principal is known to the realm,
// if there is one, and may act as authzID.
func (s *Server) authorize(authcID, authzID string) error {
	if s.cfg.Realm != nil {
		id, err := s.cfg.LookupIdentity(context.Background(), MechName, authcID)
		if err != nil {
			return err
		}
		defer id.Dispose()

		if err := sasl.RequireExisting(MechName, id); err != nil {
			return err
		}
	}

	return s.cfg.Authorize(MechName, authcID, authzID)
}
