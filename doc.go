// SPDX-License-Identifier: Apache-2.0

/*
Package sasl defines the contract shared by the SASL mechanisms in this
module and the registries that tie them together.

A Mechanism is one side of a single authentication attempt.  The
application moves opaque tokens between the two peers, feeding each one
received to Evaluate and sending back whatever it returns, until
IsComplete reports true.  Outcome then describes the negotiated quality of
protection and, for the GSSAPI mechanism, holds a MessageWrapper that
protects later application messages.

Mechanisms register themselves when their package is imported:

	import (
		"github.com/golang-auth/go-sasl"
		_ "github.com/golang-auth/go-sasl/gssapi"
		_ "github.com/golang-auth/go-sasl/krb5"
		_ "github.com/golang-auth/go-sasl/plain"
	)

	name, err := sasl.SelectMechanism([]string{"GSSAPI", "PLAIN"}, offered)
	...
	mech, err := sasl.NewClient(name,
		sasl.WithService("imap", "mail.example.com"),
		sasl.WithQOP(sasl.QOPAuthConf, sasl.QOPAuth))
	...
	defer mech.Dispose()

Every error returned by Evaluate wraps one of the Err* kinds and is
terminal for the instance.  The saslnet package drives mechanisms over a
stream connection.
*/
package sasl
