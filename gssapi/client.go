// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"slices"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

// Client is the client side of the GSSAPI mechanism.
type Client struct {
	sasl.Authenticated

	cfg      sasl.MechConfig
	log      loggable.Loggable
	ctx      sasl.SecurityContext
	disposed bool
}

// NewClient returns a GSSAPI client mechanism.  The configuration must name
// the service and the server host; the trust context is created for the
// host based service name service@host.
func NewClient(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	if cfg.Service == "" || cfg.ServerFQDN == "" {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "service and server name are required")
	}

	prov, err := cfg.ContextProvider()
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "trust context provider %q", cfg.ProviderName)
	}

	log := loggable.Named(cfg.Logger, "gssapi")
	target := cfg.Service + "@" + cfg.ServerFQDN
	flags := requestFlags(cfg)
	log.Debugf("acceptor name %s, requesting flags [%s]", target, flags)

	ctx, err := prov.InitSecContext(target,
		sasl.WithInitiatorFlags(flags),
		sasl.WithInitiatorCredential(cfg.Credential),
		sasl.WithInitiatorChannelBinding(cfg.ChannelBinding),
	)
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "creating context for %s", target)
	}

	c := &Client{cfg: cfg, log: log, ctx: ctx}
	c.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:         c.initialChallenge,
		sasl.StateChallengeResponse:        c.challengeResponse,
		sasl.StateSecurityLayerNegotiation: c.negotiateSecurityLayer,
	}))

	return c, nil
}

// Integrity is always requested because the negotiation message itself is
// integrity protected.
func requestFlags(cfg sasl.MechConfig) sasl.ContextFlag {
	flags := sasl.ContextFlagInteg

	delegate := cfg.Credential != nil
	if cfg.DelegateCredential != nil {
		delegate = *cfg.DelegateCredential
	}
	if delegate {
		flags |= sasl.ContextFlagDeleg
	}

	layer := sasl.MayRequireSecurityLayer(cfg.QOP)
	if cfg.ServerAuth || layer {
		flags |= sasl.ContextFlagMutual
	}
	if layer {
		flags |= sasl.ContextFlagSequence
	}
	if slices.Contains(cfg.QOP, sasl.QOPAuthConf) {
		flags |= sasl.ContextFlagConf
	}

	return flags
}

func (c *Client) Name() string             { return MechName }
func (c *Client) Kind() sasl.Kind          { return sasl.KindGSSAPI }
func (c *Client) HasInitialResponse() bool { return true }

// Dispose releases the trust context.  The message wrapper stops working
// once the mechanism is disposed.
func (c *Client) Dispose() error {
	if c.disposed {
		return nil
	}
	c.disposed = true

	return c.ctx.Release()
}

// GSSAPI is client first: the first challenge carries nothing.
func (c *Client) initialChallenge(token []byte) (sasl.State, []byte, error) {
	if len(token) != 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "initial challenge must be empty")
	}

	out, err := c.ctx.Continue(nil)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "creating initial token")
	}

	if c.ctx.IsEstablished() {
		c.log.Debugf("context established, negotiating security layer")
		return sasl.StateSecurityLayerNegotiation, out, nil
	}

	c.log.Debugf("context not established, expecting further exchanges")
	return sasl.StateChallengeResponse, out, nil
}

func (c *Client) challengeResponse(token []byte) (sasl.State, []byte, error) {
	out, err := c.ctx.Continue(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "handling server token")
	}

	if !c.ctx.IsEstablished() {
		return sasl.StateChallengeResponse, out, nil
	}

	c.log.Debugf("context established, negotiating security layer")
	if out == nil {
		out = []byte{}
	}

	return sasl.StateSecurityLayerNegotiation, out, nil
}

func (c *Client) negotiateSecurityLayer(token []byte) (sasl.State, []byte, error) {
	if !c.ctx.IsEstablished() {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "security layer negotiation before context establishment")
	}

	msg, _, err := c.ctx.Unwrap(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "unwrapping security layer offer")
	}

	hdr, err := parseHeader(msg, true)
	if err != nil {
		return 0, nil, err
	}

	qop, err := sasl.FindAgreeableQOP(c.cfg.QOP, hdr.qop, c.ctx.ContextFlags())
	if err != nil {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrNoAcceptableProtectionLevel, "server offered %v, wanted %v", sasl.QOPsIn(hdr.qop), c.cfg.QOP)
	}
	c.log.Debugf("selected QOP=%s, server max buffer=%d", qop, hdr.maxBuffer)

	if !c.cfg.RelaxedCompliance && hdr.maxBuffer > 0 && !hdr.offersProtection() {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrInconsistentBufferSize, "server max buffer %d with no security layer offered", hdr.maxBuffer)
	}

	conf := qop == sasl.QOPAuthConf
	maxBuffer, err := c.ctx.WrapSizeLimit(conf, hdr.maxBuffer)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "wrap size limit")
	}

	resp := header{qop: byte(qop)}
	if qop != sasl.QOPAuth {
		resp.maxBuffer = c.cfg.MaxReceiveBuffer
		if resp.maxBuffer == 0 {
			resp.maxBuffer = maxBuffer
		}
		c.log.Debugf("our max receive buffer %d", resp.maxBuffer)
	}

	out, err := c.ctx.Wrap(resp.marshal(c.cfg.AuthorizationID), false)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrTrustContextFailure, err, "wrapping security layer response")
	}

	outcome := &sasl.Outcome{
		QOP:              qop,
		MaxReceiveBuffer: resp.maxBuffer,
		AuthorizationID:  c.cfg.AuthorizationID,
		AuthenticationID: c.cfg.Username,
	}
	if qop != sasl.QOPAuth {
		c.log.Debugf("installing message wrapper (confidentiality=%t)", conf)
		outcome.Wrapper = sasl.NewMessageWrapper(MechName, c.ctx, conf)
		outcome.MaxBuffer = maxBuffer
	}
	c.SetOutcome(outcome)

	return sasl.StateComplete, out, nil
}
