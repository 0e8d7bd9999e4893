// SPDX-License-Identifier: Apache-2.0

// Command saslauth negotiates SASL authentication over TCP and exchanges
// one protected message.
//
//	saslauth server --listen :4752 --mech GSSAPI,PLAIN --users users.yaml
//	saslauth client --connect localhost:4752 --mech GSSAPI --service sasl --message hello
package main

import (
	"os"

	_ "github.com/golang-auth/go-sasl/anonymous"
	_ "github.com/golang-auth/go-sasl/digest"
	_ "github.com/golang-auth/go-sasl/gssapi"
	_ "github.com/golang-auth/go-sasl/localuser"
	_ "github.com/golang-auth/go-sasl/plain"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
