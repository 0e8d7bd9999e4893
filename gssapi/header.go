// SPDX-License-Identifier: Apache-2.0

package gssapi

import (
	"github.com/golang-auth/go-sasl"
)

// RFC 4752 § 3.3
const headerLen = 4

// header is the security layer negotiation message: a QOP bitmask followed
// by a 24-bit big-endian maximum buffer size.
type header struct {
	qop       byte
	maxBuffer uint32
}

// parseHeader decodes a negotiation message.  The server's offer must be
// exactly four bytes; the client's response may carry an authorization
// identity after the header.
func parseHeader(msg []byte, exact bool) (header, error) {
	if len(msg) < headerLen || (exact && len(msg) != headerLen) {
		return header{}, sasl.Errorf(MechName, sasl.ErrMalformedNegotiationMessage, "got %d bytes, wanted %d", len(msg), headerLen)
	}

	return header{
		qop:       msg[0],
		maxBuffer: uint32(msg[1])<<16 | uint32(msg[2])<<8 | uint32(msg[3]),
	}, nil
}

func (h header) offersProtection() bool {
	return h.qop&byte(sasl.QOPAuthInt|sasl.QOPAuthConf) != 0
}

func (h header) marshal(authzID string) []byte {
	buf := min(h.maxBuffer, sasl.MaxBufferLimit)

	out := make([]byte, headerLen, headerLen+len(authzID))
	out[0] = h.qop
	out[1] = byte(buf >> 16)
	out[2] = byte(buf >> 8)
	out[3] = byte(buf)

	return append(out, authzID...)
}
