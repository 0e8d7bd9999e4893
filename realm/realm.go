// SPDX-License-Identifier: Apache-2.0

// Package realm defines how server side mechanisms look up and verify the
// identities they authenticate.
//
// A Realm maps a principal name to an Identity.  Looking up a name that does
// not exist is not an error: the realm returns an identity whose Exists
// method reports false.  Errors are reserved for the realm itself being
// unavailable, and wrap ErrRealmUnavailable.
package realm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRealmUnavailable is wrapped by errors that mean the realm could not
	// be consulted at all.
	ErrRealmUnavailable = errors.New("realm unavailable")

	// ErrIdentityNotFound is returned by operations that need an existing
	// identity.
	ErrIdentityNotFound = errors.New("identity not found")
)

// CredentialType identifies a kind of credential or evidence.
type CredentialType int

const (
	// CredentialPassword is a clear text password.
	CredentialPassword CredentialType = iota
	// CredentialBcrypt is a bcrypt password hash.
	CredentialBcrypt
	// CredentialDigest is the hex encoded H(username:realm:password)
	// used by DIGEST-MD5.
	CredentialDigest
)

func (t CredentialType) String() string {
	switch t {
	case CredentialPassword:
		return "password"
	case CredentialBcrypt:
		return "bcrypt"
	case CredentialDigest:
		return "digest"
	}

	return fmt.Sprintf("credential(%d)", int(t))
}

// SupportLevel is the answer to "does this identity have a credential of
// this type".
type SupportLevel int

const (
	Unsupported SupportLevel = iota
	PossiblySupported
	Supported
)

func (l SupportLevel) String() string {
	return [...]string{"unsupported", "possibly-supported", "supported"}[l]
}

// Credential is a credential held by the realm, or evidence presented by a
// client.
type Credential struct {
	Type  CredentialType
	Value []byte
	Realm string // the DIGEST-MD5 realm the value was computed for
}

// AuthorizationIdentity is what an authenticated identity is allowed to act
// as.
type AuthorizationIdentity struct {
	Name   string
	Groups []string
}

// Identity is a principal looked up in a realm.  Identities are only valid
// for a single authentication attempt and must be disposed when done.
type Identity interface {
	// Principal returns the name the identity was looked up by.
	Principal() string

	// CredentialSupport reports whether the identity holds a credential
	// of the given type.
	CredentialSupport(t CredentialType) (SupportLevel, error)

	// Credential returns the credential of the given type, or nil when
	// the identity does not hold one.
	Credential(t CredentialType) (*Credential, error)

	// VerifyCredential checks evidence presented by a client.
	VerifyCredential(evidence Credential) (bool, error)

	// Exists reports whether the identity exists in the realm.
	Exists() (bool, error)

	// AuthorizationIdentity returns the authorization identity.  It fails
	// with ErrIdentityNotFound for identities that do not exist.
	AuthorizationIdentity() (*AuthorizationIdentity, error)

	// Dispose releases anything held for the identity.
	Dispose()
}

// Realm looks up identities.
type Realm interface {
	Identity(ctx context.Context, principal string) (Identity, error)
}

// AnonymousName is the principal name of Anonymous.
const AnonymousName = "anonymous"

// Anonymous is the identity used for anonymous authentication.  It always
// exists and holds no credentials.
var Anonymous Identity = anonymousIdentity{}

type anonymousIdentity struct{}

func (anonymousIdentity) Principal() string { return AnonymousName }

func (anonymousIdentity) CredentialSupport(CredentialType) (SupportLevel, error) {
	return Unsupported, nil
}

func (anonymousIdentity) Credential(CredentialType) (*Credential, error) { return nil, nil }

func (anonymousIdentity) VerifyCredential(Credential) (bool, error) { return false, nil }

func (anonymousIdentity) Exists() (bool, error) { return true, nil }

func (anonymousIdentity) AuthorizationIdentity() (*AuthorizationIdentity, error) {
	return &AuthorizationIdentity{Name: AnonymousName}, nil
}

func (anonymousIdentity) Dispose() {}

// NonExistent returns an identity for a principal that the realm does not
// know about.
func NonExistent(principal string) Identity {
	return nonExistentIdentity(principal)
}

type nonExistentIdentity string

func (n nonExistentIdentity) Principal() string { return string(n) }

func (nonExistentIdentity) CredentialSupport(CredentialType) (SupportLevel, error) {
	return Unsupported, nil
}

func (nonExistentIdentity) Credential(CredentialType) (*Credential, error) { return nil, nil }

func (nonExistentIdentity) VerifyCredential(Credential) (bool, error) { return false, nil }

func (nonExistentIdentity) Exists() (bool, error) { return false, nil }

func (n nonExistentIdentity) AuthorizationIdentity() (*AuthorizationIdentity, error) {
	return nil, fmt.Errorf("realm: %q: %w", string(n), ErrIdentityNotFound)
}

func (nonExistentIdentity) Dispose() {}

// Unavailable wraps err so that it matches ErrRealmUnavailable.
func Unavailable(err error) error {
	if errors.Is(err, ErrRealmUnavailable) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrRealmUnavailable, err)
}
