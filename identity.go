// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"context"

	"github.com/golang-auth/go-sasl/realm"
)

// LookupIdentity finds principal in the configured realm.  Realm failures are
// reported as ErrUnavailableService on behalf of mech.  Callers must Dispose
// the identity.
func (c MechConfig) LookupIdentity(ctx context.Context, mech, principal string) (realm.Identity, error) {
	if c.Realm == nil {
		return nil, Errorf(mech, ErrUnavailableService, "no realm configured")
	}

	id, err := c.Realm.Identity(ctx, principal)
	if err != nil {
		return nil, WrapError(mech, ErrUnavailableService, err, "realm lookup for %s", principal)
	}

	return id, nil
}

// RequireExisting fails with ErrAuthenticationFailed unless id exists.
func RequireExisting(mech string, id realm.Identity) error {
	exists, err := id.Exists()
	if err != nil {
		return WrapError(mech, ErrUnavailableService, err, "realm lookup for %s", id.Principal())
	}
	if !exists {
		return Errorf(mech, ErrAuthenticationFailed, "%s is not known to the realm", id.Principal())
	}

	return nil
}

// Authorize decides whether authcID may act as authzID.  The configured
// Authorizer has the final say; without one a principal may only act as
// itself.
func (c MechConfig) Authorize(mech, authcID, authzID string) error {
	if c.Authorizer != nil {
		if err := c.Authorizer(authcID, authzID); err != nil {
			return WrapError(mech, ErrAuthenticationFailed, err, "%s may not act as %s", authcID, authzID)
		}
		return nil
	}

	if authcID != authzID {
		return Errorf(mech, ErrAuthenticationFailed, "%s may not act as %s", authcID, authzID)
	}

	return nil
}
