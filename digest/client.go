// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/subtle"
	"slices"
	"strings"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

// Client is the client side of DIGEST-MD5.
type Client struct {
	sasl.Authenticated

	cfg     sasl.MechConfig
	log     loggable.Loggable
	secret  []byte
	ex      exchange
	rspauth string

	// cnonce is replaced in tests
	cnonce func() (string, error)
}

// NewClient returns a DIGEST-MD5 client.  Credentials and the service and
// server name used for the digest URI are required.
func NewClient(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	if cfg.Username == "" {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "no username configured")
	}
	if cfg.Service == "" || cfg.ServerFQDN == "" {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "service and server name are required")
	}

	c := &Client{cfg: cfg, log: loggable.Named(cfg.Logger, "digest"), cnonce: newNonce}
	c.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, c.log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:  c.respond,
		sasl.StateChallengeResponse: c.checkRspAuth,
	}))

	return c, nil
}

func (c *Client) Name() string             { return MechName }
func (c *Client) Kind() sasl.Kind          { return sasl.KindDigest }
func (c *Client) HasInitialResponse() bool { return false }

// Dispose clears the derived secret.
func (c *Client) Dispose() error {
	clear(c.secret)
	return nil
}

func (c *Client) respond(token []byte) (sasl.State, []byte, error) {
	d, err := parseDirectives(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrProtocolViolation, err, "parsing challenge")
	}

	nonce, ok := d.get("nonce")
	if !ok || nonce == "" {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "challenge has no nonce")
	}
	if alg, _ := d.get("algorithm"); alg != algorithm {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "unsupported algorithm %q", alg)
	}

	qops := []string{qopAuth}
	if v, ok := d.get("qop"); ok {
		qops = strings.Split(v, ",")
		for i := range qops {
			qops[i] = strings.TrimSpace(qops[i])
		}
	}
	if !slices.Contains(qops, qopAuth) {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrNoAcceptableProtectionLevel, "server offered qop %v", qops)
	}

	realm := c.cfg.DigestRealm
	if offered := d["realm"]; len(offered) > 0 && !slices.Contains(offered, realm) {
		realm = offered[0]
	}

	cnonce, err := c.cnonce()
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "generating cnonce")
	}

	c.ex = exchange{
		username:  c.cfg.Username,
		realm:     realm,
		nonce:     nonce,
		cnonce:    cnonce,
		digestURI: c.cfg.Service + "/" + c.cfg.ServerFQDN,
		authzID:   c.cfg.AuthorizationID,
	}
	c.secret = secret(c.ex.username, c.ex.realm, c.cfg.Password)
	c.rspauth = c.ex.response(c.secret, "")
	c.log.Debugf("responding for %s in realm %q", c.ex.username, realm)

	var w directiveWriter
	if charset, _ := d.get("charset"); strings.EqualFold(charset, charsetUTF8) {
		w.token("charset", charsetUTF8)
	}
	w.quoted("username", c.ex.username)
	w.quoted("realm", c.ex.realm)
	w.quoted("nonce", c.ex.nonce)
	w.quoted("cnonce", c.ex.cnonce)
	w.token("nc", nonceCount)
	w.token("qop", qopAuth)
	w.quoted("digest-uri", c.ex.digestURI)
	w.token("response", c.ex.response(c.secret, "AUTHENTICATE"))
	if c.ex.authzID != "" {
		w.quoted("authzid", c.ex.authzID)
	}

	return sasl.StateChallengeResponse, w.bytes(), nil
}

func (c *Client) checkRspAuth(token []byte) (sasl.State, []byte, error) {
	d, err := parseDirectives(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrProtocolViolation, err, "parsing server response")
	}

	got, ok := d.get("rspauth")
	if !ok {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "server response has no rspauth")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(c.rspauth)) != 1 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrAuthenticationFailed, "server failed to authenticate")
	}

	authzID := c.ex.authzID
	if authzID == "" {
		authzID = c.ex.username
	}
	c.SetOutcome(&sasl.Outcome{
		QOP:              sasl.QOPAuth,
		AuthorizationID:  authzID,
		AuthenticationID: c.ex.username,
	})

	return sasl.StateComplete, nil, nil
}
