// SPDX-License-Identifier: Apache-2.0

/*
Package memctx provides a trust context provider based on a pre-shared key.

Both peers hold the same key.  The initiator proves knowledge of the key in
its first token; when mutual authentication is requested the acceptor
answers with its own proof.  Per-direction session keys are then derived
with HKDF and messages are protected with ChaCha20-Poly1305, either sealed or
carried in the clear with an authentication tag.

The provider registers itself as "memory".  The registered constructor reads
a hex encoded key from the SASL_MEMCTX_KEY environment variable; most users
create a provider directly with New.
*/
package memctx

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/golang-auth/go-sasl"
)

const providerName = "memory"

func init() {
	sasl.RegisterProvider(providerName, func() (sasl.ContextProvider, error) {
		k, ok := os.LookupEnv("SASL_MEMCTX_KEY")
		if !ok {
			return nil, errors.New("memctx: SASL_MEMCTX_KEY is not set")
		}

		key, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("memctx: SASL_MEMCTX_KEY: %w", err)
		}

		return New(key), nil
	})
}

// Principal may be passed as the initiator credential to override the
// provider's principal name for one context.
type Principal string

// Provider creates pre-shared key security contexts.
type Provider struct {
	key       []byte
	principal string
	services  sasl.ContextFlag
}

// Option configures a Provider.
type Option func(p *Provider)

// WithPrincipal sets the name the initiator presents to the acceptor.
func WithPrincipal(name string) Option {
	return func(p *Provider) {
		p.principal = name
	}
}

// WithServices restricts the protection services contexts will offer.
func WithServices(f sasl.ContextFlag) Option {
	return func(p *Provider) {
		p.services = f
	}
}

// New returns a provider using key as the pre-shared secret.
func New(key []byte, opts ...Option) *Provider {
	p := &Provider{
		key:       append([]byte(nil), key...),
		principal: "anonymous",
		services: sasl.ContextFlagMutual | sasl.ContextFlagReplay | sasl.ContextFlagSequence |
			sasl.ContextFlagConf | sasl.ContextFlagInteg,
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// Name implements sasl.ContextProvider.
func (p *Provider) Name() string {
	return providerName
}

// InitSecContext implements sasl.ContextProvider.
func (p *Provider) InitSecContext(target string, opts ...sasl.InitSecContextOption) (sasl.SecurityContext, error) {
	o := sasl.InitSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if len(p.key) == 0 {
		return nil, errors.New("memctx: no pre-shared key")
	}

	name := p.principal
	if pr, ok := o.Credential.(Principal); ok {
		name = string(pr)
	}

	return &secContext{
		key:       p.key,
		initiator: true,
		localName: name,
		peerName:  target,
		requested: o.Flags,
		flags:     o.Flags & p.services &^ sasl.ContextFlagDeleg,
		cbHash:    cbHash(o.ChannelBinding),
	}, nil
}

// AcceptSecContext implements sasl.ContextProvider.
func (p *Provider) AcceptSecContext(opts ...sasl.AcceptSecContextOption) (sasl.SecurityContext, error) {
	o := sasl.AcceptSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if len(p.key) == 0 {
		return nil, errors.New("memctx: no pre-shared key")
	}

	return &secContext{
		key:      p.key,
		services: p.services,
		cbHash:   cbHash(o.ChannelBinding),
	}, nil
}

func cbHash(cb *sasl.ChannelBinding) []byte {
	h := sha256.New()
	if cb != nil {
		h.Write(cb.Data)
	}

	return h.Sum(nil)
}

// token types
const (
	tokInit   byte = 0x01
	tokReply  byte = 0x02
	tokWrap   byte = 0x05
	nonceSize      = 32
	macSize        = 32
)

// wrap token flags
const (
	wrapFromAcceptor byte = 1 << iota
	wrapSealed
)

// token type, flags, sequence number
const wrapHdrLen = 1 + 1 + 8

// WrapOverhead is the number of bytes Wrap adds to a message.
const WrapOverhead = wrapHdrLen + chacha20poly1305.Overhead

type secContext struct {
	key       []byte
	initiator bool
	localName string
	peerName  string
	requested sasl.ContextFlag
	services  sasl.ContextFlag
	flags     sasl.ContextFlag
	cbHash    []byte

	nonceI []byte
	nonceA []byte

	established bool
	released    bool

	sendKey []byte
	recvKey []byte
	sendSeq uint64
	recvSeq uint64
}

func (c *secContext) IsEstablished() bool {
	return c.established
}

func (c *secContext) ContextFlags() sasl.ContextFlag {
	return c.flags
}

func (c *secContext) PeerName() string {
	return c.peerName
}

func (c *secContext) Release() error {
	for i := range c.sendKey {
		c.sendKey[i] = 0
	}
	for i := range c.recvKey {
		c.recvKey[i] = 0
	}
	c.released = true

	return nil
}

func (c *secContext) Continue(tokenIn []byte) ([]byte, error) {
	if c.released {
		return nil, errors.New("memctx: context has been released")
	}
	if c.established {
		return nil, errors.New("memctx: context already established")
	}

	if c.initiator {
		return c.continueInitiator(tokenIn)
	}

	return c.continueAcceptor(tokenIn)
}

// init token: type | nonceI | flags | name length | name | mac
func (c *secContext) continueInitiator(tokenIn []byte) ([]byte, error) {
	if c.nonceI == nil {
		if len(tokenIn) != 0 {
			return nil, errors.New("memctx: unexpected input token")
		}

		c.nonceI = make([]byte, nonceSize)
		if _, err := io.ReadFull(rand.Reader, c.nonceI); err != nil {
			return nil, err
		}

		body := make([]byte, 0, 1+nonceSize+4+2+len(c.localName)+macSize)
		body = append(body, tokInit)
		body = append(body, c.nonceI...)
		body = binary.BigEndian.AppendUint32(body, uint32(c.requested))
		body = binary.BigEndian.AppendUint16(body, uint16(len(c.localName)))
		body = append(body, c.localName...)
		body = append(body, c.mac("initiator", body)...)

		if c.requested&sasl.ContextFlagMutual == 0 {
			if err := c.establish(); err != nil {
				return nil, err
			}
		}

		return body, nil
	}

	// reply token: type | nonceA | flags | mac
	if len(tokenIn) != 1+nonceSize+4+macSize || tokenIn[0] != tokReply {
		return nil, errors.New("memctx: malformed reply token")
	}

	body, mac := tokenIn[:len(tokenIn)-macSize], tokenIn[len(tokenIn)-macSize:]
	if !c.verifyMAC("acceptor", append(append([]byte(nil), c.nonceI...), body...), mac) {
		return nil, errors.New("memctx: mutual authentication failed")
	}

	c.nonceA = append([]byte(nil), body[1:1+nonceSize]...)
	c.flags = sasl.ContextFlag(binary.BigEndian.Uint32(body[1+nonceSize:])) & c.flags
	c.flags |= sasl.ContextFlagMutual

	return nil, c.establish()
}

func (c *secContext) continueAcceptor(tokenIn []byte) ([]byte, error) {
	if len(tokenIn) < 1+nonceSize+4+2+macSize || tokenIn[0] != tokInit {
		return nil, errors.New("memctx: malformed initial token")
	}

	body, mac := tokenIn[:len(tokenIn)-macSize], tokenIn[len(tokenIn)-macSize:]
	if !c.verifyMAC("initiator", body, mac) {
		return nil, errors.New("memctx: initiator authentication failed")
	}

	c.nonceI = append([]byte(nil), body[1:1+nonceSize]...)
	requested := sasl.ContextFlag(binary.BigEndian.Uint32(body[1+nonceSize:]))
	nameLen := int(binary.BigEndian.Uint16(body[1+nonceSize+4:]))
	if len(body) != 1+nonceSize+4+2+nameLen {
		return nil, errors.New("memctx: malformed initial token")
	}
	c.peerName = string(body[1+nonceSize+4+2:])
	c.flags = requested & c.services &^ sasl.ContextFlagDeleg

	if requested&sasl.ContextFlagMutual == 0 {
		return nil, c.establish()
	}

	c.nonceA = make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, c.nonceA); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+nonceSize+4+macSize)
	out = append(out, tokReply)
	out = append(out, c.nonceA...)
	out = binary.BigEndian.AppendUint32(out, uint32(c.flags))
	out = append(out, c.mac("acceptor", append(append([]byte(nil), c.nonceI...), out...))...)

	return out, c.establish()
}

// The MAC binds the channel bindings so that peers with different bindings
// fail to establish a context.
func (c *secContext) mac(label string, data []byte) []byte {
	h, _ := blake2b.New256(c.key)
	h.Write([]byte(label))
	h.Write(c.cbHash)
	h.Write(data)

	return h.Sum(nil)
}

func (c *secContext) verifyMAC(label string, data, mac []byte) bool {
	return subtle.ConstantTimeCompare(c.mac(label, data), mac) == 1
}

func (c *secContext) establish() error {
	salt := append(append([]byte(nil), c.nonceI...), c.nonceA...)
	kdf := hkdf.New(sha256.New, c.key, salt, []byte("go-sasl memctx"))

	i2a := make([]byte, chacha20poly1305.KeySize)
	a2i := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, i2a); err != nil {
		return err
	}
	if _, err := io.ReadFull(kdf, a2i); err != nil {
		return err
	}

	if c.initiator {
		c.sendKey, c.recvKey = i2a, a2i
	} else {
		c.sendKey, c.recvKey = a2i, i2a
	}

	c.established = true
	return nil
}

func nonceFor(seq uint64, fromAcceptor bool) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	if fromAcceptor {
		n[0] = 1
	}
	binary.BigEndian.PutUint64(n[4:], seq)

	return n
}

func (c *secContext) Wrap(msg []byte, conf bool) ([]byte, error) {
	if !c.established || c.released {
		return nil, errors.New("memctx: context not established")
	}
	if conf && c.flags&sasl.ContextFlagConf == 0 {
		return nil, errors.New("memctx: confidentiality not available")
	}

	aead, err := chacha20poly1305.New(c.sendKey)
	if err != nil {
		return nil, err
	}

	var flags byte
	if !c.initiator {
		flags |= wrapFromAcceptor
	}
	if conf {
		flags |= wrapSealed
	}

	hdr := make([]byte, wrapHdrLen, wrapHdrLen+len(msg)+aead.Overhead())
	hdr[0] = tokWrap
	hdr[1] = flags
	binary.BigEndian.PutUint64(hdr[2:], c.sendSeq)
	nonce := nonceFor(c.sendSeq, !c.initiator)

	var out []byte
	if conf {
		out = aead.Seal(hdr, nonce, msg, append([]byte(nil), hdr...))
	} else {
		out = append(hdr, msg...)
		out = append(out, aead.Seal(nil, nonce, nil, out)...)
	}

	c.sendSeq++
	return out, nil
}

func (c *secContext) Unwrap(token []byte) ([]byte, bool, error) {
	if !c.established || c.released {
		return nil, false, errors.New("memctx: context not established")
	}
	if len(token) < WrapOverhead || token[0] != tokWrap {
		return nil, false, errors.New("memctx: malformed wrap token")
	}

	flags := token[1]
	fromAcceptor := flags&wrapFromAcceptor != 0
	if fromAcceptor == !c.initiator {
		return nil, false, errors.New("memctx: wrap token sent in the wrong direction")
	}

	seq := binary.BigEndian.Uint64(token[2:wrapHdrLen])
	if c.flags&(sasl.ContextFlagSequence|sasl.ContextFlagReplay) != 0 && seq != c.recvSeq {
		return nil, false, fmt.Errorf("memctx: bad sequence number from peer, got %d, wanted %d", seq, c.recvSeq)
	}

	aead, err := chacha20poly1305.New(c.recvKey)
	if err != nil {
		return nil, false, err
	}
	nonce := nonceFor(seq, fromAcceptor)

	sealed := flags&wrapSealed != 0
	var msg []byte
	if sealed {
		msg, err = aead.Open(nil, nonce, token[wrapHdrLen:], token[:wrapHdrLen])
	} else {
		split := len(token) - aead.Overhead()
		_, err = aead.Open(nil, nonce, token[split:], token[:split])
		msg = token[wrapHdrLen:split]
	}
	if err != nil {
		return nil, false, fmt.Errorf("memctx: wrap token: %w", err)
	}

	c.recvSeq = seq + 1
	return msg, sealed, nil
}

func (c *secContext) WrapSizeLimit(conf bool, maxOutput uint32) (uint32, error) {
	if !c.established {
		return 0, errors.New("memctx: context not established")
	}
	if maxOutput <= WrapOverhead {
		return 0, nil
	}

	return maxOutput - WrapOverhead, nil
}
