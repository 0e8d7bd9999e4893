// SPDX-License-Identifier: Apache-2.0

package saslnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxTokenSize limits negotiation tokens read from the peer.
const DefaultMaxTokenSize = 1 << 20

// ErrTokenTooLarge is returned when the peer announces a token longer than
// the reader accepts.
var ErrTokenTooLarge = errors.New("saslnet: token too large")

// WriteToken writes tok preceded by its length as a four byte big-endian
// integer.
func WriteToken(w io.Writer, tok []byte) error {
	if uint64(len(tok)) > 0xFFFFFFFF {
		return fmt.Errorf("saslnet: %d byte token: %w", len(tok), ErrTokenTooLarge)
	}

	buf := make([]byte, 4+len(tok))
	binary.BigEndian.PutUint32(buf, uint32(len(tok)))
	copy(buf[4:], tok)

	_, err := w.Write(buf)
	return err
}

// ReadToken reads a token written by WriteToken.  Tokens longer than max
// bytes are refused without being read.
func ReadToken(r io.Reader, max uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > max {
		return nil, fmt.Errorf("saslnet: %d byte token, limit %d: %w", n, max, ErrTokenTooLarge)
	}

	tok := make([]byte, n)
	if _, err := io.ReadFull(r, tok); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return tok, nil
}

// Status is the first byte of every server message during negotiation.
type Status byte

const (
	// StatusContinue carries a challenge; the client must respond.
	StatusContinue Status = iota
	// StatusSuccess ends the negotiation, optionally with final data for
	// the client mechanism.
	StatusSuccess
	// StatusFailure ends the negotiation; the rest of the message is a
	// reason.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	}

	return fmt.Sprintf("status(%d)", byte(s))
}

func writeServerMessage(w io.Writer, s Status, data []byte) error {
	msg := make([]byte, 1+len(data))
	msg[0] = byte(s)
	copy(msg[1:], data)

	return WriteToken(w, msg)
}

func readServerMessage(r io.Reader, max uint32) (Status, []byte, error) {
	msg, err := ReadToken(r, max)
	if err != nil {
		return 0, nil, err
	}
	if len(msg) == 0 {
		return 0, nil, errors.New("saslnet: empty server message")
	}

	s := Status(msg[0])
	if s > StatusFailure {
		return 0, nil, fmt.Errorf("saslnet: unknown server status %d", msg[0])
	}

	return s, msg[1:], nil
}
