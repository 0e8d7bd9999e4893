// SPDX-License-Identifier: Apache-2.0

/*
Package localuser implements the JBOSS-LOCAL-USER SASL mechanism.

The mechanism proves that the client runs on the same host as the server,
as a user able to read files the server creates.  The server writes a random
challenge to a new file readable only by its owner and sends the file name.
The client answers with the file contents and the name it wants to be
authenticated as.

	client                        server
	authzid                 ->
	                        <-    /tmp/challenge-<uuid>
	challenge || authcid    ->
*/
package localuser

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

// MechName is the registered mechanism name.
const MechName = "JBOSS-LOCAL-USER"

// ChallengeLength is the number of random bytes in a challenge file.
const ChallengeLength = 8

// DefaultUser is the identity used when the client does not send one.
const DefaultUser = "$local"

func init() {
	sasl.RegisterClient(MechName, NewClient)
	sasl.RegisterServer(MechName, NewServer)
}

// Client is the client side of JBOSS-LOCAL-USER.
type Client struct {
	sasl.Authenticated

	cfg sasl.MechConfig
	log loggable.Loggable
}

// NewClient returns a JBOSS-LOCAL-USER client.  The configured username is
// sent as the authentication identity; when empty the server picks its
// default user.
func NewClient(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	c := &Client{cfg: cfg, log: loggable.Named(cfg.Logger, "localuser")}
	c.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, c.log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:  c.initialResponse,
		sasl.StateChallengeResponse: c.answer,
	}))

	return c, nil
}

func (c *Client) Name() string             { return MechName }
func (c *Client) Kind() sasl.Kind          { return sasl.KindLocalUser }
func (c *Client) HasInitialResponse() bool { return true }
func (c *Client) Dispose() error           { return nil }

func (c *Client) initialResponse(token []byte) (sasl.State, []byte, error) {
	if len(token) != 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "unexpected challenge")
	}

	return sasl.StateChallengeResponse, []byte(c.cfg.AuthorizationID), nil
}

func (c *Client) answer(token []byte) (sasl.State, []byte, error) {
	if len(token) == 0 || !utf8.Valid(token) {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "invalid challenge file name")
	}

	path := string(token)
	c.log.Debugf("reading challenge from %s", path)

	challenge, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrAuthenticationFailed, err, "reading challenge")
	}
	if len(challenge) < ChallengeLength {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "challenge is %d bytes, want %d", len(challenge), ChallengeLength)
	}

	resp := make([]byte, 0, ChallengeLength+len(c.cfg.Username))
	resp = append(resp, challenge[:ChallengeLength]...)
	resp = append(resp, c.cfg.Username...)

	c.SetOutcome(&sasl.Outcome{
		QOP:              sasl.QOPAuth,
		AuthorizationID:  c.cfg.AuthorizationID,
		AuthenticationID: c.cfg.Username,
	})

	return sasl.StateComplete, resp, nil
}

// Server is the server side of JBOSS-LOCAL-USER.
type Server struct {
	sasl.Authenticated

	cfg       sasl.MechConfig
	log       loggable.Loggable
	dir       string
	path      string
	challenge []byte
	authzID   string
}

// NewServer returns a JBOSS-LOCAL-USER server.  Challenge files are created
// in the configured challenge directory, or the system temporary directory.
func NewServer(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	dir := cfg.ChallengeDir
	if dir == "" {
		dir = os.TempDir()
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "challenge directory")
	}
	if !fi.IsDir() {
		return nil, sasl.Errorf(MechName, sasl.ErrUnavailableService, "challenge directory %s is not a directory", dir)
	}

	s := &Server{cfg: cfg, log: loggable.Named(cfg.Logger, "localuser"), dir: dir}
	s.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, s.log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge:  s.sendChallenge,
		sasl.StateChallengeResponse: s.verify,
	}))

	return s, nil
}

func (s *Server) Name() string             { return MechName }
func (s *Server) Kind() sasl.Kind          { return sasl.KindLocalUser }
func (s *Server) HasInitialResponse() bool { return false }

// Dispose removes the challenge file if it is still present.
func (s *Server) Dispose() error {
	return s.removeChallenge()
}

func (s *Server) removeChallenge() error {
	if s.path == "" {
		return nil
	}

	path := s.path
	s.path = ""
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (s *Server) sendChallenge(token []byte) (sasl.State, []byte, error) {
	if !utf8.Valid(token) {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "authorization identity is not valid UTF-8")
	}
	s.authzID = string(token)

	s.challenge = make([]byte, ChallengeLength)
	if _, err := rand.Read(s.challenge); err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "generating challenge")
	}

	path := filepath.Join(s.dir, "challenge-"+uuid.New().String())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "creating challenge file")
	}
	s.path = path

	_, err = f.Write(s.challenge)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.removeChallenge()
		return 0, nil, sasl.WrapError(MechName, sasl.ErrUnavailableService, err, "writing challenge file")
	}

	s.log.Debugf("challenge written to %s", path)

	return sasl.StateChallengeResponse, []byte(path), nil
}

func (s *Server) verify(token []byte) (sasl.State, []byte, error) {
	if err := s.removeChallenge(); err != nil {
		s.log.Warnf("removing challenge file: %s", err)
	}

	if len(token) < ChallengeLength {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "response is %d bytes", len(token))
	}

	if subtle.ConstantTimeCompare(token[:ChallengeLength], s.challenge) != 1 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrAuthenticationFailed, "challenge mismatch")
	}

	name := token[ChallengeLength:]
	if !utf8.Valid(name) || bytes.IndexByte(name, 0) >= 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "invalid authentication identity")
	}

	authcID := string(name)
	if authcID == "" {
		authcID = s.cfg.DefaultUser
		if authcID == "" {
			authcID = DefaultUser
		}
	}
	authzID := s.authzID
	if authzID == "" {
		authzID = authcID
	}

	if s.cfg.Realm != nil {
		id, err := s.cfg.LookupIdentity(context.Background(), MechName, authcID)
		if err != nil {
			return 0, nil, err
		}
		defer id.Dispose()

		if err := sasl.RequireExisting(MechName, id); err != nil {
			return 0, nil, err
		}
	}

	if err := s.cfg.Authorize(MechName, authcID, authzID); err != nil {
		return 0, nil, err
	}

	s.log.Debugf("authenticated local user %s as %s", authcID, authzID)
	s.SetOutcome(&sasl.Outcome{
		QOP:              sasl.QOPAuth,
		AuthorizationID:  authzID,
		AuthenticationID: authcID,
	})

	return sasl.StateComplete, nil, nil
}
