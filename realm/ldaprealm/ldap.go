// SPDX-License-Identifier: Apache-2.0

// Package ldaprealm implements a realm backed by an LDAP directory.  Users
// are located with a search filter and authenticated by binding as the
// user's DN.
package ldaprealm

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/ldap.v2"

	"github.com/golang-auth/go-sasl/realm"
)

// Conn is the subset of *ldap.Conn used by the realm.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close()
}

// Config configures a Realm.
type Config struct {
	Addr         string // host:port of the directory server
	BindDN       string // DN used for searches, empty for anonymous searches
	BindPassword string
	BaseDN       string
	// UserFilter is a filter with a single %s for the escaped principal,
	// defaulting to (uid=%s).
	UserFilter string
	// GroupAttribute is the attribute listing group membership, defaulting
	// to memberOf.
	GroupAttribute string

	// Dial opens a connection; the default dials Addr over TCP.
	Dial func() (Conn, error)
}

// Realm is an LDAP backed realm.Realm.
type Realm struct {
	cfg Config
}

// New returns an LDAP realm.
func New(cfg Config) *Realm {
	if cfg.UserFilter == "" {
		cfg.UserFilter = "(uid=%s)"
	}
	if cfg.GroupAttribute == "" {
		cfg.GroupAttribute = "memberOf"
	}
	if cfg.Dial == nil {
		addr := cfg.Addr
		cfg.Dial = func() (Conn, error) {
			return ldap.Dial("tcp", addr)
		}
	}

	return &Realm{cfg: cfg}
}

func (r *Realm) connect() (Conn, error) {
	conn, err := r.cfg.Dial()
	if err != nil {
		return nil, realm.Unavailable(fmt.Errorf("ldap: dial: %w", err))
	}

	if r.cfg.BindDN != "" {
		if err = conn.Bind(r.cfg.BindDN, r.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, realm.Unavailable(fmt.Errorf("ldap: service bind: %w", err))
		}
	}

	return conn, nil
}

// Identity implements realm.Realm.
func (r *Realm) Identity(ctx context.Context, principal string) (realm.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, realm.Unavailable(err)
	}

	conn, err := r.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		r.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
		fmt.Sprintf(r.cfg.UserFilter, ldap.EscapeFilter(principal)),
		[]string{"dn", r.cfg.GroupAttribute},
		nil,
	)

	res, err := conn.Search(req)
	if err != nil {
		return nil, realm.Unavailable(fmt.Errorf("ldap: search for %q: %w", principal, err))
	}

	switch len(res.Entries) {
	case 0:
		return realm.NonExistent(principal), nil
	case 1:
	default:
		return nil, realm.Unavailable(fmt.Errorf("ldap: %q matches %d entries", principal, len(res.Entries)))
	}

	e := res.Entries[0]
	return &identity{
		realm:     r,
		principal: principal,
		dn:        e.DN,
		groups:    e.GetAttributeValues(r.cfg.GroupAttribute),
	}, nil
}

type identity struct {
	realm     *Realm
	principal string
	dn        string
	groups    []string
}

func (i *identity) Principal() string { return i.principal }

// Passwords can be verified by binding but are never disclosed.
func (i *identity) CredentialSupport(t realm.CredentialType) (realm.SupportLevel, error) {
	if t == realm.CredentialPassword {
		return realm.PossiblySupported, nil
	}

	return realm.Unsupported, nil
}

func (i *identity) Credential(realm.CredentialType) (*realm.Credential, error) {
	return nil, nil
}

func (i *identity) VerifyCredential(evidence realm.Credential) (bool, error) {
	// an empty password is an unauthenticated bind and always succeeds
	if evidence.Type != realm.CredentialPassword || len(evidence.Value) == 0 {
		return false, nil
	}

	conn, err := i.realm.cfg.Dial()
	if err != nil {
		return false, realm.Unavailable(fmt.Errorf("ldap: dial: %w", err))
	}
	defer conn.Close()

	err = conn.Bind(i.dn, string(evidence.Value))
	switch {
	case err == nil:
		return true, nil
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return false, nil
	}

	var le *ldap.Error
	if errors.As(err, &le) && le.ResultCode == ldap.LDAPResultInappropriateAuthentication {
		return false, nil
	}

	return false, realm.Unavailable(fmt.Errorf("ldap: bind as %s: %w", i.dn, err))
}

func (i *identity) Exists() (bool, error) { return true, nil }

func (i *identity) AuthorizationIdentity() (*realm.AuthorizationIdentity, error) {
	return &realm.AuthorizationIdentity{Name: i.principal, Groups: append([]string(nil), i.groups...)}, nil
}

func (i *identity) Dispose() {}
