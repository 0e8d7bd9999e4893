// SPDX-License-Identifier: Apache-2.0

package realm

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// User is an entry in a Memory realm.  At least one of Password, Bcrypt or
// Digest should be set for the user to be able to authenticate.
type User struct {
	Name     string      `yaml:"name"`
	Password string      `yaml:"password,omitempty"`
	Bcrypt   string      `yaml:"bcrypt,omitempty"`
	Digest   *DigestHash `yaml:"digest,omitempty"`
	Groups   []string    `yaml:"groups,omitempty"`
}

// DigestHash is a precomputed DIGEST-MD5 secret for one realm.
type DigestHash struct {
	Realm string `yaml:"realm"`
	Hash  string `yaml:"hash"`
}

// Memory is a realm backed by a map of users.  It is safe for concurrent
// use.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemory returns a realm holding the supplied users.
func NewMemory(users ...User) *Memory {
	m := &Memory{users: make(map[string]User, len(users))}
	for _, u := range users {
		m.users[u.Name] = u
	}

	return m
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// LoadFile reads a YAML users file of the form:
//
//	users:
//	  - name: alice
//	    password: secret
//	    groups: [admin]
//	  - name: bob
//	    bcrypt: $2a$10$...
func LoadFile(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Unavailable(fmt.Errorf("realm: reading users file: %w", err))
	}

	var f usersFile
	if err = yaml.Unmarshal(b, &f); err != nil {
		return nil, Unavailable(fmt.Errorf("realm: parsing users file %s: %w", path, err))
	}

	for i, u := range f.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("realm: users file %s: entry %d has no name", path, i)
		}
	}

	return NewMemory(f.Users...), nil
}

// Add adds or replaces a user.
func (m *Memory) Add(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[u.Name] = u
}

// Remove deletes a user.
func (m *Memory) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, name)
}

// Identity implements Realm.
func (m *Memory) Identity(ctx context.Context, principal string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}

	m.mu.RLock()
	u, ok := m.users[principal]
	m.mu.RUnlock()

	if !ok {
		return NonExistent(principal), nil
	}

	return userIdentity{u}, nil
}

type userIdentity struct {
	u User
}

func (i userIdentity) Principal() string { return i.u.Name }

func (i userIdentity) CredentialSupport(t CredentialType) (SupportLevel, error) {
	c, _ := i.Credential(t)
	if c != nil {
		return Supported, nil
	}

	// a digest can be verified from the clear password
	if t == CredentialDigest && i.u.Password != "" {
		return PossiblySupported, nil
	}

	return Unsupported, nil
}

func (i userIdentity) Credential(t CredentialType) (*Credential, error) {
	switch {
	case t == CredentialPassword && i.u.Password != "":
		return &Credential{Type: t, Value: []byte(i.u.Password)}, nil
	case t == CredentialBcrypt && i.u.Bcrypt != "":
		return &Credential{Type: t, Value: []byte(i.u.Bcrypt)}, nil
	case t == CredentialDigest && i.u.Digest != nil:
		return &Credential{Type: t, Value: []byte(i.u.Digest.Hash), Realm: i.u.Digest.Realm}, nil
	}

	return nil, nil
}

func (i userIdentity) VerifyCredential(evidence Credential) (bool, error) {
	switch evidence.Type {
	case CredentialPassword:
		if i.u.Password != "" {
			return subtle.ConstantTimeCompare([]byte(i.u.Password), evidence.Value) == 1, nil
		}
		if i.u.Bcrypt != "" {
			err := bcrypt.CompareHashAndPassword([]byte(i.u.Bcrypt), evidence.Value)
			switch {
			case err == nil:
				return true, nil
			case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
				return false, nil
			default:
				return false, fmt.Errorf("realm: %s: %w", i.u.Name, err)
			}
		}
	case CredentialDigest:
		want := ""
		switch {
		case i.u.Digest != nil && i.u.Digest.Realm == evidence.Realm:
			want = i.u.Digest.Hash
		case i.u.Password != "":
			want = DigestSecret(i.u.Name, evidence.Realm, i.u.Password)
		}
		if want != "" {
			return subtle.ConstantTimeCompare([]byte(want), evidence.Value) == 1, nil
		}
	}

	return false, nil
}

func (i userIdentity) Exists() (bool, error) { return true, nil }

func (i userIdentity) AuthorizationIdentity() (*AuthorizationIdentity, error) {
	return &AuthorizationIdentity{Name: i.u.Name, Groups: append([]string(nil), i.u.Groups...)}, nil
}

func (i userIdentity) Dispose() {}

// DigestSecret returns the hex encoded H(username:realm:password) used as
// the stored secret for DIGEST-MD5 (RFC 2831 § 2.1.2.1).
func DigestSecret(username, realm, password string) string {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return hex.EncodeToString(sum[:])
}
