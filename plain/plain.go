// SPDX-License-Identifier: Apache-2.0

// Package plain implements the PLAIN SASL mechanism (RFC 4616).
//
// The client sends its authorization identity, authentication identity and
// password in a single message.  PLAIN offers no protection of its own and
// should only be used over a channel that is already encrypted.
package plain

import (
	"bytes"
	"context"
	"unicode/utf8"

	"golang.org/x/text/secure/precis"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
	"github.com/golang-auth/go-sasl/realm"
)

// MechName is the registered mechanism name.
const MechName = "PLAIN"

func init() {
	sasl.RegisterClient(MechName, NewClient)
	sasl.RegisterServer(MechName, NewServer)
}

// Client is the client side of PLAIN.
type Client struct {
	sasl.Authenticated

	cfg sasl.MechConfig
}

// NewClient returns a PLAIN client.  A username is required.
func NewClient(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	if cfg.Username == "" {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "no username configured")
	}

	c := &Client{cfg: cfg}
	c.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, loggable.Named(cfg.Logger, "plain"), map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge: c.initialResponse,
	}))

	return c, nil
}

func (c *Client) Name() string             { return MechName }
func (c *Client) Kind() sasl.Kind          { return sasl.KindPlain }
func (c *Client) HasInitialResponse() bool { return true }
func (c *Client) Dispose() error           { return nil }

func (c *Client) initialResponse(token []byte) (sasl.State, []byte, error) {
	if len(token) != 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "unexpected challenge")
	}

	c.SetOutcome(&sasl.Outcome{
		QOP:              sasl.QOPAuth,
		AuthorizationID:  c.cfg.AuthorizationID,
		AuthenticationID: c.cfg.Username,
	})

	return sasl.StateComplete, Message(c.cfg.AuthorizationID, c.cfg.Username, c.cfg.Password), nil
}

// Message builds the PLAIN client message.
func Message(authzID, authcID, password string) []byte {
	msg := make([]byte, 0, len(authzID)+len(authcID)+len(password)+2)
	msg = append(msg, authzID...)
	msg = append(msg, 0)
	msg = append(msg, authcID...)
	msg = append(msg, 0)
	msg = append(msg, password...)

	return msg
}

// Server is the server side of PLAIN.
type Server struct {
	sasl.Authenticated

	cfg sasl.MechConfig
	log loggable.Loggable
}

// NewServer returns a PLAIN server.  Credentials are checked against the
// configured realm, which is required.
func NewServer(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	if cfg.Realm == nil {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "no realm configured")
	}

	s := &Server{cfg: cfg, log: loggable.Named(cfg.Logger, "plain")}
	s.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, s.log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:  s.initialChallenge,
		sasl.StateChallengeResponse: s.verify,
	}))

	return s, nil
}

func (s *Server) Name() string             { return MechName }
func (s *Server) Kind() sasl.Kind          { return sasl.KindPlain }
func (s *Server) HasInitialResponse() bool { return false }
func (s *Server) Dispose() error           { return nil }

// A client that did not send an initial response gets an empty challenge.
func (s *Server) initialChallenge(token []byte) (sasl.State, []byte, error) {
	if len(token) == 0 {
		return sasl.StateChallengeResponse, []byte{}, nil
	}

	return s.verify(token)
}

func (s *Server) verify(token []byte) (sasl.State, []byte, error) {
	parts := bytes.Split(token, []byte{0})
	if len(parts) != 3 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "message has %d fields, want 3", len(parts))
	}
	for _, p := range parts {
		if !utf8.Valid(p) {
			return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "message is not valid UTF-8")
		}
	}

	authzID := string(parts[0])
	authcID, err := precis.UsernameCasePreserved.String(string(parts[1]))
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrAuthenticationFailed, err, "invalid authentication identity")
	}
	password, err := precis.OpaqueString.String(string(parts[2]))
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrAuthenticationFailed, err, "invalid password")
	}
	if authzID == "" {
		authzID = authcID
	}

	id, err := s.cfg.LookupIdentity(context.Background(), MechName, authcID)
	if err != nil {
		return 0, nil, err
	}
	defer id.Dispose()

	ok, err := id.VerifyCredential(realm.Credential{Type: realm.CredentialPassword, Value: []byte(password)})
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "verifying password for %s", authcID)
	}
	if !ok {
		s.log.Infof("authentication failed for %s", authcID)
		return 0, nil, sasl.Errorf(MechName, sasl.ErrAuthenticationFailed, "bad username or password")
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

	return sasl.StateComplete, nil, nil
}
