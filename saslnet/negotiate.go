// SPDX-License-Identifier: Apache-2.0

package saslnet

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

// Side names the end of a negotiation.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// Observer is told about every negotiation run by RunClient and RunServer.
type Observer interface {
	Observe(mech string, side Side, rounds int, err error)
}

type options struct {
	maxTokenSize uint32
	observer     Observer
	log          loggable.Loggable
}

// Option configures RunClient and RunServer.
type Option func(o *options)

// WithMaxTokenSize limits the size of negotiation tokens accepted from the
// peer.
func WithMaxTokenSize(n uint32) Option {
	return func(o *options) {
		o.maxTokenSize = n
	}
}

// WithObserver reports the result of the negotiation to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithLogger sets the logger.
func WithLogger(l loggable.Loggable) Option {
	return func(o *options) {
		o.log = l
	}
}

func newOptions(opts []Option) *options {
	o := &options{maxTokenSize: DefaultMaxTokenSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = loggable.Nop()
	}

	return o
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// watch applies the context to rw, if it supports deadlines, so that a
// blocked read or write returns once ctx is done.  The returned function
// must be called when the negotiation ends.
func watch(ctx context.Context, rw io.ReadWriter) func() {
	d, ok := rw.(deadliner)
	if !ok {
		return func() {}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = d.SetDeadline(time.Now())
	})

	return func() {
		stop()
		_ = d.SetDeadline(time.Time{})
	}
}

// ioError prefers the context error over the timeout it caused.
func ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// RunClient drives a client mechanism over rw until the server reports
// success or failure.
//
// Every client message is a token framed by WriteToken; a mechanism without
// an initial response starts with an empty token.  Every server message is
// a status byte followed by data.
func RunClient(ctx context.Context, rw io.ReadWriter, mech sasl.Mechanism, opts ...Option) (outcome *sasl.Outcome, err error) {
	o := newOptions(opts)
	defer watch(ctx, rw)()

	rounds := 0
	defer func() {
		if o.observer != nil {
			o.observer.Observe(mech.Name(), SideClient, rounds, err)
		}
	}()

	var resp []byte
	if mech.HasInitialResponse() {
		if resp, err = mech.Evaluate(nil); err != nil {
			return nil, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rounds++
		if err := WriteToken(rw, resp); err != nil {
			return nil, ioError(ctx, err)
		}

		status, data, err := readServerMessage(rw, o.maxTokenSize)
		if err != nil {
			return nil, ioError(ctx, err)
		}
		o.log.Debugf("%s: server %s with %d bytes", mech.Name(), status, len(data))

		switch status {
		case StatusFailure:
			return nil, sasl.Errorf(mech.Name(), sasl.ErrAuthenticationFailed, "server: %s", data)

		case StatusSuccess:
			if !mech.IsComplete() {
				if _, err := mech.Evaluate(data); err != nil {
					return nil, err
				}
			} else if len(data) > 0 {
				return nil, sasl.Errorf(mech.Name(), sasl.ErrProtocolViolation, "unexpected data with success")
			}
			if !mech.IsComplete() {
				return nil, sasl.Errorf(mech.Name(), sasl.ErrProtocolViolation, "server reported success before negotiation completed")
			}
			return mech.Outcome()

		case StatusContinue:
			if mech.IsComplete() {
				return nil, sasl.Errorf(mech.Name(), sasl.ErrProtocolViolation, "server continued after negotiation completed")
			}
			if resp, err = mech.Evaluate(data); err != nil {
				return nil, err
			}
		}
	}
}

// RunServer drives a server mechanism over rw until it completes or fails.
// Failures are reported to the client by their kind only.
func RunServer(ctx context.Context, rw io.ReadWriter, mech sasl.Mechanism, opts ...Option) (outcome *sasl.Outcome, err error) {
	o := newOptions(opts)
	defer watch(ctx, rw)()

	rounds := 0
	defer func() {
		if o.observer != nil {
			o.observer.Observe(mech.Name(), SideServer, rounds, err)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tok, err := ReadToken(rw, o.maxTokenSize)
		if err != nil {
			return nil, ioError(ctx, err)
		}
		rounds++

		resp, err := mech.Evaluate(tok)
		if err != nil {
			o.log.Debugf("%s: negotiation failed: %s", mech.Name(), err)
			reason := "authentication failed"
			if kind := sasl.KindOf(err); kind != nil {
				reason = kind.Error()
			}
			if werr := writeServerMessage(rw, StatusFailure, []byte(reason)); werr != nil {
				return nil, errors.Join(err, ioError(ctx, werr))
			}
			return nil, err
		}

		if mech.IsComplete() {
			if err := writeServerMessage(rw, StatusSuccess, resp); err != nil {
				return nil, ioError(ctx, err)
			}
			return mech.Outcome()
		}

		if err := writeServerMessage(rw, StatusContinue, resp); err != nil {
			return nil, ioError(ctx, err)
		}
	}
}
