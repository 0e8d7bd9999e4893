// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type someProvider struct {
	name string
}

func (p someProvider) Name() string {
	return p.name
}

func (someProvider) InitSecContext(target string, opts ...InitSecContextOption) (SecurityContext, error) {
	return nil, nil
}

func (someProvider) AcceptSecContext(opts ...AcceptSecContextOption) (SecurityContext, error) {
	return nil, nil
}

func TestRegisterProvider(t *testing.T) {
	assert := assert.New(t)

	saved := providers.libs
	defer func() { providers.libs = saved }()
	providers.libs = make(map[string]ProviderConstructor)

	constructor := func() (ContextProvider, error) {
		return someProvider{name: "TEST"}, nil
	}

	RegisterProvider("test", constructor)
	assert.Equal([]string{"test"}, Providers())

	p, err := NewProvider("test")
	assert.NoError(err)
	sp, ok := p.(someProvider)
	assert.True(ok)
	assert.Equal("TEST", sp.name)

	_, err = NewProvider("xyz")
	assert.ErrorIs(err, ErrProviderNotFound)

	assert.NotPanics(func() { MustNewProvider("test") })
	assert.Panics(func() { MustNewProvider("xyz") })

	RegisterProvider("broken", func() (ContextProvider, error) { return nil, errors.New("no config") })
	assert.Panics(func() { MustNewProvider("broken") })
}

type nullMech struct {
	Authenticated
}

func (nullMech) Name() string             { return "NULL" }
func (nullMech) Kind() Kind               { return KindAnonymous }
func (nullMech) HasInitialResponse() bool { return false }
func (nullMech) Dispose() error           { return nil }

func newNullMech(cfg MechConfig) (Mechanism, error) {
	m := NewMachine("NULL", cfg.Logger, map[State]StepFunc{})
	return &nullMech{NewAuthenticated(m)}, nil
}

func TestMechRegistry(t *testing.T) {
	assert := assert.New(t)

	savedC, savedS := mechs.clients, mechs.servers
	defer func() { mechs.clients, mechs.servers = savedC, savedS }()
	mechs.clients = make(map[string]ClientFactory)
	mechs.servers = make(map[string]ServerFactory)

	RegisterClient("null", newNullMech)
	RegisterServer("NULL", newNullMech)
	RegisterServer("SERVER-ONLY", newNullMech)

	assert.Panics(func() { RegisterClient("Null", newNullMech) })
	assert.True(IsRegistered("Null"))
	assert.False(IsRegistered("other"))
	assert.Equal([]string{"NULL"}, ClientMechs())
	assert.Equal([]string{"NULL", "SERVER-ONLY"}, ServerMechs())

	m, err := NewClient("null")
	assert.NoError(err)
	assert.Equal("NULL", m.Name())
	assert.Equal(StateInitialChallenge, m.State())

	_, err = NewClient("SERVER-ONLY")
	assert.ErrorIs(err, ErrMechNotFound)
	assert.ErrorIs(err, ErrUnavailableService)

	_, err = NewServer("server-only")
	assert.NoError(err)

	name, err := SelectMechanism([]string{"SERVER-ONLY", "null"}, []string{"PLAIN", "SERVER-ONLY", "NULL"})
	assert.NoError(err)
	assert.Equal("NULL", name)

	_, err = SelectMechanism([]string{"null"}, []string{"PLAIN"})
	assert.ErrorIs(err, ErrMechNotFound)
}
