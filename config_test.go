// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()

	assert.Equal(t, []QOP{QOPAuth}, c.QOP)
	assert.False(t, c.RelaxedCompliance)
	assert.Zero(t, c.MaxReceiveBuffer)
	assert.Nil(t, c.DelegateCredential)
	assert.NotNil(t, c.Logger)
	assert.Equal(t, "krb5", c.ProviderName)
}

func TestOptions(t *testing.T) {
	c := NewConfig(
		WithQOP(QOPAuthConf, QOPAuth),
		WithMaxReceiveBuffer(1<<30),
		WithRelaxedCompliance(true),
		WithAuthorizationID("admin"),
		WithDelegateCredential(false),
		WithService("imap", "mail.example.com"),
		WithLogger(nil),
	)

	assert.Equal(t, []QOP{QOPAuthConf, QOPAuth}, c.QOP)
	assert.Equal(t, uint32(MaxBufferLimit), c.MaxReceiveBuffer)
	assert.True(t, c.RelaxedCompliance)
	assert.Equal(t, "admin", c.AuthorizationID)
	require.NotNil(t, c.DelegateCredential)
	assert.False(t, *c.DelegateCredential)
	assert.Equal(t, "imap", c.Service)
	assert.NotNil(t, c.Logger)
}

func TestOptionsFromProperties(t *testing.T) {
	opts, err := OptionsFromProperties(map[string]string{
		PropQOP:                "auth-conf,auth-int",
		PropMaxBuffer:          "65536",
		PropServerAuth:         "TRUE",
		PropRelaxCompliance:    "true",
		PropDelegateCredential: "false",
		PropProvider:           "memory",
		"unrelated":            "ignored",
	})
	require.NoError(t, err)

	c := NewConfig(opts...)
	assert.Equal(t, []QOP{QOPAuthConf, QOPAuthInt}, c.QOP)
	assert.Equal(t, uint32(65536), c.MaxReceiveBuffer)
	assert.True(t, c.ServerAuth)
	assert.True(t, c.RelaxedCompliance)
	require.NotNil(t, c.DelegateCredential)
	assert.False(t, *c.DelegateCredential)
	assert.Equal(t, "memory", c.ProviderName)

	_, err = OptionsFromProperties(map[string]string{PropQOP: "best"})
	assert.Error(t, err)

	_, err = OptionsFromProperties(map[string]string{PropMaxBuffer: "-1"})
	assert.Error(t, err)
}

func TestContextProviderLookup(t *testing.T) {
	c := NewConfig(WithProviderName("no-such-provider"))
	_, err := c.ContextProvider()
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
