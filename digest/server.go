// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/secure/precis"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
	"github.com/golang-auth/go-sasl/realm"
)

// Server is the server side of DIGEST-MD5.
type Server struct {
	sasl.Authenticated

	cfg   sasl.MechConfig
	log   loggable.Loggable
	realm string
	nonce string

	// nonceFunc is replaced in tests
	nonceFunc func() (string, error)
}

// NewServer returns a DIGEST-MD5 server.  The realm offered to clients is
// the configured digest realm, or the server name when none is set.  A
// realm for identity lookups is required.
func NewServer(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	if cfg.Realm == nil {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "no realm configured")
	}

	s := &Server{
		cfg:       cfg,
		log:       loggable.Named(cfg.Logger, "digest"),
		realm:     cfg.DigestRealm,
		nonceFunc: newNonce,
	}
	if s.realm == "" {
		s.realm = cfg.ServerFQDN
	}

	s.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, s.log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:  s.challenge,
		sasl.StateChallengeResponse: s.verify,
	}))

	return s, nil
}

func (s *Server) Name() string             { return MechName }
func (s *Server) Kind() sasl.Kind          { return sasl.KindDigest }
func (s *Server) HasInitialResponse() bool { return false }
func (s *Server) Dispose() error           { return nil }

func (s *Server) challenge(token []byte) (sasl.State, []byte, error) {
	if len(token) != 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "DIGEST-MD5 has no initial response")
	}

	nonce, err := s.nonceFunc()
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "generating nonce")
	}
	s.nonce = nonce

	var w directiveWriter
	w.quoted("realm", s.realm)
	w.quoted("nonce", s.nonce)
	w.quoted("qop", qopAuth)
	w.token("charset", charsetUTF8)
	w.token("algorithm", algorithm)

	return sasl.StateChallengeResponse, w.bytes(), nil
}

func (s *Server) verify(token []byte) (sasl.State, []byte, error) {
	d, err := parseDirectives(token)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrProtocolViolation, err, "parsing response")
	}

	ex, resp, err := s.checkDirectives(d)
	if err != nil {
		return 0, nil, err
	}

	authcID, err := precis.UsernameCasePreserved.String(ex.username)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrAuthenticationFailed, err, "invalid username")
	}

	id, err := s.cfg.LookupIdentity(context.Background(), MechName, authcID)
	if err != nil {
		return 0, nil, err
	}
	defer id.Dispose()

	userSecret, err := s.userSecret(id, ex)
	if err != nil {
		return 0, nil, err
	}
	defer clear(userSecret)

	want := ex.response(userSecret, "AUTHENTICATE")
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(resp))) != 1 {
		s.log.Infof("authentication failed for %s", authcID)
		return 0, nil, sasl.Errorf(MechName, sasl.ErrAuthenticationFailed, "bad username or password")
	}

	authzID := ex.authzID
	if authzID == "" {
		authzID = authcID
	}
	if err := s.cfg.Authorize(MechName, authcID, authzID); err != nil {
		return 0, nil, err
	}

	s.log.Debugf("authenticated %s as %s", authcID, authzID)
	s.SetOutcome(&sasl.Outcome{
		QOP:              sasl.QOPAuth,
		AuthorizationID:  authzID,
		AuthenticationID: authcID,
	})

	var w directiveWriter
	w.token("rspauth", ex.response(userSecret, ""))

	return sasl.StateComplete, w.bytes(), nil
}

// checkDirectives validates a client response against the challenge we
// sent and returns the exchange and the client's response value.
func (s *Server) checkDirectives(d directives) (exchange, string, error) {
	violation := func(format string, args ...any) (exchange, string, error) {
		return exchange{}, "", sasl.Errorf(MechName, sasl.ErrProtocolViolation, format, args...)
	}

	var ex exchange
	var ok bool

	if ex.username, ok = d.get("username"); !ok || ex.username == "" {
		return violation("response has no username")
	}
	if len(d["realm"]) > 1 {
		return violation("response has more than one realm")
	}
	ex.realm, _ = d.get("realm")
	if ex.realm != s.realm {
		return violation("unexpected realm %q", ex.realm)
	}
	if ex.nonce, _ = d.get("nonce"); ex.nonce != s.nonce {
		return violation("nonce mismatch")
	}
	if ex.cnonce, ok = d.get("cnonce"); !ok || ex.cnonce == "" {
		return violation("response has no cnonce")
	}
	if nc, _ := d.get("nc"); nc != nonceCount {
		return violation("unexpected nonce count %q", nc)
	}
	if qop, ok := d.get("qop"); ok && qop != qopAuth {
		return exchange{}, "", sasl.Errorf(MechName, sasl.ErrNoAcceptableProtectionLevel, "client selected qop %q", qop)
	}
	if charset, ok := d.get("charset"); ok && !strings.EqualFold(charset, charsetUTF8) {
		return violation("unsupported charset %q", charset)
	}

	if ex.digestURI, ok = d.get("digest-uri"); !ok {
		return violation("response has no digest-uri")
	}
	service, host, found := strings.Cut(ex.digestURI, "/")
	if !found || service == "" || host == "" {
		return violation("malformed digest-uri %q", ex.digestURI)
	}
	if s.cfg.Service != "" && service != s.cfg.Service {
		return exchange{}, "", sasl.Errorf(MechName, sasl.ErrAuthenticationFailed, "digest-uri names service %q", service)
	}

	ex.authzID, _ = d.get("authzid")

	resp, _ := d.get("response")
	if len(resp) != responseSize {
		return violation("malformed response value")
	}

	for _, v := range []string{ex.username, ex.realm, ex.authzID} {
		if !utf8.ValidString(v) {
			return violation("response is not valid UTF-8")
		}
	}

	return ex, resp, nil
}

// userSecret returns H(username:realm:password) for the identity, from a
// stored digest for our realm or from the clear text password.
func (s *Server) userSecret(id realm.Identity, ex exchange) ([]byte, error) {
	cred, err := id.Credential(realm.CredentialDigest)
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "fetching digest for %s", id.Principal())
	}
	if cred != nil && cred.Realm == ex.realm {
		b, err := hex.DecodeString(string(cred.Value))
		if err != nil || len(b) != md5Size {
			return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "stored digest for %s is malformed", id.Principal())
		}
		return b, nil
	}

	cred, err = id.Credential(realm.CredentialPassword)
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "fetching password for %s", id.Principal())
	}
	if cred == nil {
		return nil, sasl.Errorf(MechName, sasl.ErrAuthenticationFailed, "bad username or password")
	}

	return secret(ex.username, ex.realm, string(cred.Value)), nil
}
