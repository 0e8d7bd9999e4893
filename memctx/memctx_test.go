// SPDX-License-Identifier: Apache-2.0

package memctx

import (
	"testing"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/test"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func establish(t *testing.T, p *Provider, flags sasl.ContextFlag) (initiator, acceptor sasl.SecurityContext) {
	assert := test.NewAssert(t)

	initiator, err := p.InitSecContext("sasl@server.example.com", sasl.WithInitiatorFlags(flags))
	assert.NoErrorFatal(err)
	acceptor, err = p.AcceptSecContext()
	assert.NoErrorFatal(err)

	var tok []byte
	for i := 0; i < 4 && !(initiator.IsEstablished() && acceptor.IsEstablished()); i++ {
		if !initiator.IsEstablished() {
			tok, err = initiator.Continue(tok)
			assert.NoErrorFatal(err)
		}
		if len(tok) > 0 && !acceptor.IsEstablished() {
			tok, err = acceptor.Continue(tok)
			assert.NoErrorFatal(err)
		}
	}

	assert.True(initiator.IsEstablished())
	assert.True(acceptor.IsEstablished())

	return initiator, acceptor
}

func TestEstablishMutual(t *testing.T) {
	assert := test.NewAssert(t)
	p := New(testKey, WithPrincipal("alice@EXAMPLE.COM"))

	flags := sasl.ContextFlagMutual | sasl.ContextFlagInteg | sasl.ContextFlagConf | sasl.ContextFlagSequence | sasl.ContextFlagDeleg
	i, a := establish(t, p, flags)

	assert.Equal("sasl@server.example.com", i.PeerName())
	assert.Equal("alice@EXAMPLE.COM", a.PeerName())

	want := sasl.ContextFlagMutual | sasl.ContextFlagInteg | sasl.ContextFlagConf | sasl.ContextFlagSequence
	assert.Equal(want, i.ContextFlags())
	assert.Equal(want, a.ContextFlags())
}

func TestEstablishWithoutMutual(t *testing.T) {
	assert := test.NewAssert(t)
	p := New(testKey)

	i, err := p.InitSecContext("sasl@host", sasl.WithInitiatorFlags(sasl.ContextFlagInteg))
	assert.NoErrorFatal(err)
	a, err := p.AcceptSecContext()
	assert.NoErrorFatal(err)

	tok, err := i.Continue(nil)
	assert.NoErrorFatal(err)
	assert.True(i.IsEstablished())

	out, err := a.Continue(tok)
	assert.NoErrorFatal(err)
	assert.Empty(out)
	assert.True(a.IsEstablished())

	_, err = i.Continue(nil)
	assert.Error(err)
}

func TestWrongKey(t *testing.T) {
	assert := test.NewAssert(t)

	i, _ := New(testKey).InitSecContext("sasl@host", sasl.WithInitiatorFlags(sasl.ContextFlagMutual))
	a, _ := New([]byte("another key")).AcceptSecContext()

	tok, err := i.Continue(nil)
	assert.NoErrorFatal(err)
	_, err = a.Continue(tok)
	assert.Error(err)
	assert.False(a.IsEstablished())
}

func TestChannelBindingMismatch(t *testing.T) {
	assert := test.NewAssert(t)
	p := New(testKey)

	i, _ := p.InitSecContext("sasl@host", sasl.WithInitiatorChannelBinding(&sasl.ChannelBinding{Data: []byte("tls-a")}))
	a, _ := p.AcceptSecContext(sasl.WithAcceptorChannelBinding(&sasl.ChannelBinding{Data: []byte("tls-b")}))

	tok, err := i.Continue(nil)
	assert.NoErrorFatal(err)
	_, err = a.Continue(tok)
	assert.Error(err)
}

func TestWrapUnwrap(t *testing.T) {
	p := New(testKey)
	flags := sasl.ContextFlagMutual | sasl.ContextFlagInteg | sasl.ContextFlagConf | sasl.ContextFlagSequence

	for _, conf := range []bool{false, true} {
		i, a := establish(t, p, flags)
		assert := test.NewAssert(t)

		msg := []byte("hello, acceptor")
		tok, err := i.Wrap(msg, conf)
		assert.NoErrorFatal(err)
		assert.Len(tok, len(msg)+WrapOverhead)
		if conf {
			assert.NotContains(string(tok), string(msg))
		} else {
			assert.Contains(string(tok), string(msg))
		}

		out, sealed, err := a.Unwrap(tok)
		assert.NoErrorFatal(err)
		assert.Equal(msg, out)
		assert.Equal(conf, sealed)

		// and back the other way
		tok, err = a.Wrap([]byte("hello, initiator"), conf)
		assert.NoErrorFatal(err)
		out, _, err = i.Unwrap(tok)
		assert.NoErrorFatal(err)
		assert.Equal([]byte("hello, initiator"), out)

		// a token can't be reflected back at its sender
		tok, err = i.Wrap(msg, conf)
		assert.NoErrorFatal(err)
		_, _, err = i.Unwrap(tok)
		assert.Error(err)
	}
}

func TestUnwrapTampered(t *testing.T) {
	assert := test.NewAssert(t)
	i, a := establish(t, New(testKey), sasl.ContextFlagMutual|sasl.ContextFlagInteg)

	tok, err := i.Wrap([]byte("payload"), false)
	assert.NoErrorFatal(err)
	tok[wrapHdrLen] ^= 0x01

	_, _, err = a.Unwrap(tok)
	assert.Error(err)

	_, _, err = a.Unwrap(tok[:5])
	assert.Error(err)
}

func TestSequenceEnforced(t *testing.T) {
	assert := test.NewAssert(t)
	i, a := establish(t, New(testKey), sasl.ContextFlagMutual|sasl.ContextFlagInteg|sasl.ContextFlagSequence)

	first, _ := i.Wrap([]byte("one"), false)
	second, _ := i.Wrap([]byte("two"), false)

	_, _, err := a.Unwrap(second)
	assert.ErrorContains(err, "sequence")

	_, _, err = a.Unwrap(first)
	assert.NoError(err)
	_, _, err = a.Unwrap(second)
	assert.NoError(err)

	// replay
	_, _, err = a.Unwrap(second)
	assert.Error(err)
}

func TestConfidentialityUnavailable(t *testing.T) {
	assert := test.NewAssert(t)
	p := New(testKey, WithServices(sasl.ContextFlagMutual|sasl.ContextFlagInteg))
	i, _ := establish(t, p, sasl.ContextFlagMutual|sasl.ContextFlagInteg|sasl.ContextFlagConf)

	assert.False(i.ContextFlags().Confidentiality())
	_, err := i.Wrap([]byte("x"), true)
	assert.Error(err)
}

func TestWrapSizeLimit(t *testing.T) {
	assert := test.NewAssert(t)
	i, _ := establish(t, New(testKey), sasl.ContextFlagMutual|sasl.ContextFlagInteg)

	n, err := i.WrapSizeLimit(true, 1024)
	assert.NoError(err)
	assert.Equal(uint32(1024-WrapOverhead), n)

	n, err = i.WrapSizeLimit(false, 10)
	assert.NoError(err)
	assert.Zero(n)

	tok, err := i.Wrap(make([]byte, 1024-WrapOverhead), false)
	assert.NoError(err)
	assert.Len(tok, 1024)
}

func TestRelease(t *testing.T) {
	assert := test.NewAssert(t)
	i, _ := establish(t, New(testKey), sasl.ContextFlagMutual|sasl.ContextFlagInteg)

	assert.NoError(i.Release())
	_, err := i.Wrap([]byte("x"), false)
	assert.Error(err)
}

func TestRegisteredProvider(t *testing.T) {
	assert := test.NewAssert(t)

	t.Setenv("SASL_MEMCTX_KEY", "00112233445566778899aabbccddeeff")
	p, err := sasl.NewProvider("memory")
	assert.NoErrorFatal(err)
	assert.Equal("memory", p.Name())

	t.Setenv("SASL_MEMCTX_KEY", "not hex")
	_, err = sasl.NewProvider("memory")
	assert.Error(err)
}
