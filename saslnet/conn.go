// SPDX-License-Identifier: Apache-2.0

package saslnet

import (
	"errors"
	"net"
	"sync"

	"github.com/golang-auth/go-sasl"
)

// Conn is a net.Conn protected by a negotiated security layer.  Every Write
// is split into chunks no larger than the peer's buffer, and each chunk is
// encoded and sent as one length-prefixed token.
type Conn struct {
	net.Conn

	wrapper *sasl.MessageWrapper
	maxSend uint32
	maxRecv uint32

	rmu     sync.Mutex
	pending []byte

	wmu sync.Mutex
}

// NewConn layers the negotiated protection over conn.  When no protection
// layer was negotiated conn is returned unchanged.
func NewConn(conn net.Conn, outcome *sasl.Outcome) (net.Conn, error) {
	if outcome == nil {
		return nil, errors.New("saslnet: no negotiation outcome")
	}
	if !outcome.HasSecurityLayer() {
		return conn, nil
	}
	if outcome.MaxBuffer == 0 {
		return nil, errors.New("saslnet: peer buffer too small for the protection layer")
	}

	maxRecv := outcome.MaxReceiveBuffer
	if maxRecv == 0 {
		maxRecv = sasl.MaxBufferLimit
	}

	return &Conn{
		Conn:    conn,
		wrapper: outcome.Wrapper,
		maxSend: outcome.MaxBuffer,
		maxRecv: maxRecv,
	}, nil
}

// Read returns data decoded from the next token, or what is left of the
// previous one.
func (c *Conn) Read(b []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	for len(c.pending) == 0 {
		tok, err := ReadToken(c.Conn, c.maxRecv)
		if err != nil {
			return 0, err
		}

		c.pending, err = c.wrapper.Decode(tok)
		if err != nil {
			return 0, err
		}
	}

	n := copy(b, c.pending)
	c.pending = c.pending[n:]

	return n, nil
}

// Write encodes and sends b.
func (c *Conn) Write(b []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	written := 0
	for len(b) > 0 {
		chunk := b
		if uint32(len(chunk)) > c.maxSend {
			chunk = chunk[:c.maxSend]
		}

		tok, err := c.wrapper.Encode(chunk)
		if err != nil {
			return written, err
		}
		if err := WriteToken(c.Conn, tok); err != nil {
			return written, err
		}

		written += len(chunk)
		b = b[len(chunk):]
	}

	return written, nil
}
