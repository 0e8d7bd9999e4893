// SPDX-License-Identifier: Apache-2.0

package sasl

import "net"

// AddressFamily identifies the type of a channel binding address, using the
// values from RFC 2744 § 3.11.
type AddressFamily int

const (
	AddrFamilyUnspec AddressFamily = 0
	AddrFamilyLocal  AddressFamily = 1
	AddrFamilyINET   AddressFamily = 2
	AddrFamilyINET6  AddressFamily = 24
)

// ChannelBinding carries channel binding information to the trust context.
// Data is usually the TLS channel binding of the underlying connection.
type ChannelBinding struct {
	InitiatorAddr net.Addr
	AcceptorAddr  net.Addr
	Data          []byte
}
