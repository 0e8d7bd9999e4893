// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds reported by mechanisms.  Every error returned by a mechanism's
// Evaluate method wraps exactly one of these, so callers can test the kind
// with errors.Is.  All of them are terminal for the mechanism instance.

var ErrProtocolViolation = errors.New("protocol violation")
var ErrMalformedNegotiationMessage = errors.New("malformed security layer negotiation message")
var ErrNoAcceptableProtectionLevel = errors.New("no acceptable protection level")
var ErrInconsistentBufferSize = errors.New("non-zero buffer size offered without a protection layer")
var ErrTrustContextFailure = errors.New("trust context failure")
var ErrUnavailableService = errors.New("service unavailable")
var ErrProtectionLayerViolation = errors.New("protection layer violation")
var ErrAuthenticationFailed = errors.New("authentication failed")

var errorKinds = []error{
	ErrProtocolViolation,
	ErrMalformedNegotiationMessage,
	ErrNoAcceptableProtectionLevel,
	ErrInconsistentBufferSize,
	ErrTrustContextFailure,
	ErrUnavailableService,
	ErrProtectionLayerViolation,
	ErrAuthenticationFailed,
}

// MechError is the error type returned by mechanisms.  It carries the error
// kind, the name of the mechanism that failed and, optionally, the underlying
// cause from the trust context or the realm.
type MechError struct {
	Mech   string // Mechanism name, eg. GSSAPI
	Kind   error  // One of the Err* kind variables
	Detail string // Human readable detail, may be empty
	Cause  error  // Underlying error, may be nil
}

func (e *MechError) Error() string {
	var sb strings.Builder

	if e.Mech != "" {
		sb.WriteString(strings.ToLower(e.Mech))
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.Error())
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the error kind followed by the cause, if there is one.
func (e *MechError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}

	return errs
}

// Errorf returns a new MechError of the supplied kind.
func Errorf(mech string, kind error, format string, args ...any) error {
	return &MechError{Mech: mech, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError returns a new MechError of the supplied kind that wraps cause.
func WrapError(mech string, kind error, cause error, format string, args ...any) error {
	return &MechError{Mech: mech, Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the error kind of err, or nil if err does not wrap one of
// the known kinds.
func KindOf(err error) error {
	if err == nil {
		return nil
	}

	var me *MechError
	if errors.As(err, &me) {
		return me.Kind
	}

	for _, k := range errorKinds {
		if errors.Is(err, k) {
			return k
		}
	}

	return nil
}
