// SPDX-License-Identifier: Apache-2.0

/*
Package gssapi implements the GSSAPI SASL mechanism described in RFC 4752.

The mechanism runs on top of a trust context supplied by a
sasl.ContextProvider, usually the Kerberos V provider in the krb5 package.
Once the context is established the server offers a set of protection
levels and a maximum buffer size in a four byte message protected by the
context.  The client picks the first of its preferences that the server
offered and the context can support, and answers with its choice, its own
buffer size and an optional authorization identity.

Importing the package registers the client and server with the sasl
mechanism registry under the name "GSSAPI":

	import (
		"github.com/golang-auth/go-sasl"
		_ "github.com/golang-auth/go-sasl/gssapi"
		_ "github.com/golang-auth/go-sasl/krb5"
	)

	mech, err := sasl.NewClient("GSSAPI",
		sasl.WithService("imap", "mail.example.com"),
		sasl.WithQOP(sasl.QOPAuthConf, sasl.QOPAuthInt, sasl.QOPAuth))
*/
package gssapi

import "github.com/golang-auth/go-sasl"

// MechName is the registered mechanism name.
const MechName = "GSSAPI"

func init() {
	sasl.RegisterClient(MechName, NewClient)
	sasl.RegisterServer(MechName, NewServer)
}
