// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/stretchr/testify/assert"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/test"
)

func TestRegistered(t *testing.T) {
	assert := test.NewAssert(t)

	p, err := sasl.NewProvider("krb5")
	assert.NoErrorFatal(err)
	assert.Equal("krb5", p.Name())
	assert.Contains(sasl.Providers(), "krb5")
}

func TestProviderEnvironment(t *testing.T) {
	t.Setenv("KRB5_CONFIG", "/tmp/test-krb5.conf")
	t.Setenv("KRB5CCNAME", "FILE:/tmp/test-ccache")
	t.Setenv("KRB5_KTNAME", "FILE:/tmp/test.keytab")

	p := New()
	assert.Equal(t, "/tmp/test-krb5.conf", p.confPath)
	assert.Equal(t, "/tmp/test-ccache", p.ccPath)
	assert.Equal(t, "/tmp/test.keytab", p.ktPath)
	assert.Equal(t, DefaultClockSkew, p.skew)
	assert.Equal(t, AcceptorISNInitiator, p.isn)

	p = New(
		WithConfigFile("/etc/other.conf"),
		WithCCache("FILE:/run/cc"),
		WithKeytab("/run/kt"),
		WithClockSkew(time.Minute),
		WithAcceptorISN(AcceptorISNZero),
	)
	assert.Equal(t, "/etc/other.conf", p.confPath)
	assert.Equal(t, "/run/cc", p.ccPath)
	assert.Equal(t, "/run/kt", p.ktPath)
	assert.Equal(t, time.Minute, p.skew)
	assert.Equal(t, AcceptorISNZero, p.isn)
}

func TestServiceSPN(t *testing.T) {
	var tests = []struct {
		target string
		spn    string
		ok     bool
	}{
		{"imap@mail.example.com", "imap/mail.example.com", true},
		{"ldap@dc1", "ldap/dc1", true},
		{"imap", "", false},
		{"@host", "", false},
		{"imap@", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			spn, err := serviceSPN(tt.target)
			if !tt.ok {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.spn, spn)
		})
	}
}

func TestSplitPrincipal(t *testing.T) {
	var tests = []struct {
		principal string
		user      string
		realm     string
		ok        bool
	}{
		{"alice@EXAMPLE.COM", "alice", "EXAMPLE.COM", true},
		{"host/a.example.com@EXAMPLE.COM", "host/a.example.com", "EXAMPLE.COM", true},
		{"a@b@EXAMPLE.COM", "a@b", "EXAMPLE.COM", true},
		{"alice", "", "", false},
		{"@EXAMPLE.COM", "", "", false},
		{"alice@", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.principal, func(t *testing.T) {
			user, realm, err := splitPrincipal(tt.principal)
			if !tt.ok {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.user, user)
			assert.Equal(t, tt.realm, realm)
		})
	}
}

func TestInitSecContextErrors(t *testing.T) {
	p := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.conf")))

	_, err := p.InitSecContext("no-host")
	assert.Error(t, err)

	_, err = p.InitSecContext("imap@mail.example.com", sasl.WithInitiatorCredential(42))
	assert.Error(t, err)

	// krb5.conf can't be loaded
	_, err = p.InitSecContext("imap@mail.example.com", sasl.WithInitiatorCredential(Password{Principal: "alice@EXAMPLE.COM", Password: "pw"}))
	assert.ErrorContains(t, err, "krb5.conf")
}

func TestAcceptSecContext(t *testing.T) {
	assert := test.NewAssert(t)
	dir := t.TempDir()

	kt := keytab.New()
	assert.NoErrorFatal(kt.AddEntry(testService, testRealm, "service password", time.Now(), 1, etypeID.AES256_CTS_HMAC_SHA1_96))
	b, err := kt.Marshal()
	assert.NoErrorFatal(err)

	ktPath := filepath.Join(dir, "test.keytab")
	assert.NoErrorFatal(os.WriteFile(ktPath, b, 0o600))

	p := New(WithKeytab(ktPath))

	for _, cred := range []sasl.Credential{nil, kt, Keytab{Path: ktPath}} {
		ctx, err := p.AcceptSecContext(sasl.WithAcceptorCredential(cred))
		assert.NoError(err)
		if assert.NotNil(ctx) {
			assert.False(ctx.IsEstablished())
			assert.NoError(ctx.Release())
		}
	}

	_, err = p.AcceptSecContext(sasl.WithAcceptorCredential("keytab"))
	assert.Error(err)

	_, err = p.AcceptSecContext(sasl.WithAcceptorCredential(Keytab{Path: filepath.Join(dir, "missing")}))
	assert.ErrorContains(err, "keytab")
}
