// SPDX-License-Identifier: Apache-2.0

// Package anonymous implements the ANONYMOUS SASL mechanism (RFC 4505).
package anonymous

import (
	"unicode/utf8"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
	"github.com/golang-auth/go-sasl/realm"
)

// MechName is the registered mechanism name.
const MechName = "ANONYMOUS"

// MaxTraceLength is the longest trace, in characters, a client may send.
const MaxTraceLength = 255

func init() {
	sasl.RegisterClient(MechName, NewClient)
	sasl.RegisterServer(MechName, NewServer)
}

// Client is the client side of ANONYMOUS.
type Client struct {
	sasl.Authenticated

	trace string
}

// NewClient returns an ANONYMOUS client that sends the configured trace
// information.
func NewClient(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	if err := checkTrace(cfg.Trace); err != nil {
		return nil, err
	}

	c := &Client{trace: cfg.Trace}
	c.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, loggable.Named(cfg.Logger, "anonymous"), map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge: c.initialResponse,
	}))

	return c, nil
}

func (c *Client) Name() string             { return MechName }
func (c *Client) Kind() sasl.Kind          { return sasl.KindAnonymous }
func (c *Client) HasInitialResponse() bool { return true }
func (c *Client) Dispose() error           { return nil }

func (c *Client) initialResponse(token []byte) (sasl.State, []byte, error) {
	if len(token) != 0 {
		return 0, nil, sasl.Errorf(MechName, sasl.ErrProtocolViolation, "unexpected challenge")
	}

	c.SetOutcome(anonymousOutcome())

	return sasl.StateComplete, []byte(c.trace), nil
}

// Server is the server side of ANONYMOUS.
type Server struct {
	sasl.Authenticated

	log   loggable.Loggable
	trace string
}

// NewServer returns an ANONYMOUS server.  Every client is authenticated as
// realm.Anonymous.
func NewServer(cfg sasl.MechConfig) (sasl.Mechanism, error) {
	s := &Server{log: loggable.Named(cfg.Logger, "anonymous")}
	s.Authenticated = sasl.NewAuthenticated(sasl.NewMachine(MechName, s.log, map[sasl.State]sasl.StepFunc{
		sasl.StateInitialChallenge: s.accept,
	}))

	return s, nil
}

func (s *Server) Name() string             { return MechName }
func (s *Server) Kind() sasl.Kind          { return sasl.KindAnonymous }
func (s *Server) HasInitialResponse() bool { return false }
func (s *Server) Dispose() error           { return nil }

// Trace returns the trace information sent by the client.
func (s *Server) Trace() string {
	return s.trace
}

// An empty first message is an empty trace.
func (s *Server) accept(token []byte) (sasl.State, []byte, error) {
	trace := string(token)
	if err := checkTrace(trace); err != nil {
		return 0, nil, err
	}

	s.trace = trace
	s.log.Infof("anonymous login, trace %q", trace)
	s.SetOutcome(anonymousOutcome())

	return sasl.StateComplete, nil, nil
}

func checkTrace(trace string) error {
	if !utf8.ValidString(trace) {
		return sasl.Errorf(MechName, sasl.ErrProtocolViolation, "trace is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(trace); n > MaxTraceLength {
		return sasl.Errorf(MechName, sasl.ErrProtocolViolation, "trace is %d characters long", n)
	}

	return nil
}

func anonymousOutcome() *sasl.Outcome {
	return &sasl.Outcome{
		QOP:              sasl.QOPAuth,
		AuthorizationID:  realm.AnonymousName,
		AuthenticationID: realm.Anonymous.Principal(),
	}
}
