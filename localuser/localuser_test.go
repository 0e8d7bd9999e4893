// SPDX-License-Identifier: Apache-2.0

package localuser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/realm"
	"github.com/golang-auth/go-sasl/test"
)

var users = realm.NewMemory(
	realm.User{Name: "alice"},
	realm.User{Name: DefaultUser},
)

func pair(t *testing.T, clientOpts []sasl.Option, serverOpts ...sasl.Option) (c, s sasl.Mechanism, dir string) {
	assert := test.NewAssert(t)
	dir = t.TempDir()

	c, err := NewClient(sasl.NewConfig(clientOpts...))
	assert.NoErrorFatal(err)
	t.Cleanup(func() { _ = c.Dispose() })

	serverOpts = append([]sasl.Option{sasl.WithChallengeDir(dir)}, serverOpts...)
	s, err = NewServer(sasl.NewConfig(serverOpts...))
	assert.NoErrorFatal(err)
	t.Cleanup(func() { _ = s.Dispose() })

	return c, s, dir
}

func entries(t *testing.T, dir string) []os.DirEntry {
	ents, err := os.ReadDir(dir)
	test.NewAssert(t).NoErrorFatal(err)

	return ents
}

func TestExchange(t *testing.T) {
	var tests = []struct {
		name     string
		username string
		authz    string
		wantUser string
	}{
		{"named user", "alice", "", "alice"},
		{"default user", "", "", DefaultUser},
		{"explicit authzid", "alice", "alice", "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := test.NewAssert(t)
			c, s, dir := pair(t, []sasl.Option{sasl.WithCredentials(tt.username, ""), sasl.WithAuthorizationID(tt.authz)}, sasl.WithRealm(users))

			resp, err := c.Evaluate(nil)
			assert.NoErrorFatal(err)
			assert.Equal(tt.authz, string(resp))

			challenge, err := s.Evaluate(resp)
			assert.NoErrorFatal(err)
			assert.Equal(dir, filepath.Dir(string(challenge)))

			ents := entries(t, dir)
			if assert.Len(ents, 1) {
				fi, err := ents[0].Info()
				assert.NoErrorFatal(err)
				assert.Equal(os.FileMode(0o600), fi.Mode().Perm())
				assert.Equal(int64(ChallengeLength), fi.Size())
			}

			resp, err = c.Evaluate(challenge)
			assert.NoErrorFatal(err)
			assert.Len(resp, ChallengeLength+len(tt.username))
			assert.True(c.IsComplete())

			resp, err = s.Evaluate(resp)
			assert.NoErrorFatal(err)
			assert.Nil(resp)
			assert.True(s.IsComplete())
			assert.Empty(entries(t, dir), "challenge file removed")

			out, err := s.Outcome()
			assert.NoErrorFatal(err)
			assert.Equal(tt.wantUser, out.AuthenticationID)
			assert.Equal(tt.wantUser, out.AuthorizationID)
			assert.Equal(sasl.QOPAuth, out.QOP)
		})
	}
}

func TestConfiguredDefaultUser(t *testing.T) {
	assert := test.NewAssert(t)
	c, s, _ := pair(t, nil, sasl.WithDefaultUser("operator"))

	resp, err := c.Evaluate(nil)
	assert.NoErrorFatal(err)
	resp, err = s.Evaluate(resp)
	assert.NoErrorFatal(err)
	resp, err = c.Evaluate(resp)
	assert.NoErrorFatal(err)
	_, err = s.Evaluate(resp)
	assert.NoErrorFatal(err)

	out, err := s.Outcome()
	assert.NoErrorFatal(err)
	assert.Equal("operator", out.AuthenticationID)
}

func TestWrongChallenge(t *testing.T) {
	assert := test.NewAssert(t)
	c, s, dir := pair(t, []sasl.Option{sasl.WithCredentials("alice", "")})

	resp, err := c.Evaluate(nil)
	assert.NoErrorFatal(err)
	challenge, err := s.Evaluate(resp)
	assert.NoErrorFatal(err)

	resp, err = c.Evaluate(challenge)
	assert.NoErrorFatal(err)
	resp[0] ^= 0xff

	_, err = s.Evaluate(resp)
	assert.ErrorIs(err, sasl.ErrAuthenticationFailed)
	assert.Empty(entries(t, dir))

	_, err = s.Evaluate(resp)
	assert.ErrorIs(err, sasl.ErrAuthenticationFailed)
	assert.Equal(sasl.StateFailed, s.State())
}

func TestShortResponse(t *testing.T) {
	assert := test.NewAssert(t)
	_, s, _ := pair(t, nil)

	_, err := s.Evaluate(nil)
	assert.NoErrorFatal(err)
	_, err = s.Evaluate([]byte("short"))
	assert.ErrorIs(err, sasl.ErrProtocolViolation)
}

func TestUnknownUser(t *testing.T) {
	assert := test.NewAssert(t)
	c, s, _ := pair(t, []sasl.Option{sasl.WithCredentials("mallory", "")}, sasl.WithRealm(users))

	resp, _ := c.Evaluate(nil)
	resp, err := s.Evaluate(resp)
	assert.NoErrorFatal(err)
	resp, err = c.Evaluate(resp)
	assert.NoErrorFatal(err)

	_, err = s.Evaluate(resp)
	assert.ErrorIs(err, sasl.ErrAuthenticationFailed)
}

func TestAuthorizationRequired(t *testing.T) {
	assert := test.NewAssert(t)
	c, s, _ := pair(t, []sasl.Option{sasl.WithCredentials("alice", ""), sasl.WithAuthorizationID("root")})

	resp, _ := c.Evaluate(nil)
	resp, err := s.Evaluate(resp)
	assert.NoErrorFatal(err)
	resp, err = c.Evaluate(resp)
	assert.NoErrorFatal(err)

	_, err = s.Evaluate(resp)
	assert.ErrorIs(err, sasl.ErrAuthenticationFailed)
}

func TestDisposeRemovesChallenge(t *testing.T) {
	assert := test.NewAssert(t)
	_, s, dir := pair(t, nil)

	_, err := s.Evaluate(nil)
	assert.NoErrorFatal(err)
	assert.Len(entries(t, dir), 1)

	assert.NoError(s.Dispose())
	assert.Empty(entries(t, dir))
	assert.NoError(s.Dispose())
}

func TestClientErrors(t *testing.T) {
	c, err := NewClient(sasl.NewConfig())
	assert.NoError(t, err)
	_, err = c.Evaluate(nil)
	assert.NoError(t, err)
	_, err = c.Evaluate([]byte(filepath.Join(t.TempDir(), "missing")))
	assert.ErrorIs(t, err, sasl.ErrAuthenticationFailed)

	short := filepath.Join(t.TempDir(), "short")
	assert.NoError(t, os.WriteFile(short, []byte("abc"), 0o600))
	c, _ = NewClient(sasl.NewConfig())
	_, _ = c.Evaluate(nil)
	_, err = c.Evaluate([]byte(short))
	assert.ErrorIs(t, err, sasl.ErrProtocolViolation)
}

func TestServerChallengeDir(t *testing.T) {
	_, err := NewServer(sasl.NewConfig(sasl.WithChallengeDir(filepath.Join(t.TempDir(), "missing"))))
	assert.ErrorIs(t, err, sasl.ErrUnavailableService)

	f := filepath.Join(t.TempDir(), "file")
	assert.NoError(t, os.WriteFile(f, nil, 0o600))
	_, err = NewServer(sasl.NewConfig(sasl.WithChallengeDir(f)))
	assert.ErrorIs(t, err, sasl.ErrUnavailableService)
}
