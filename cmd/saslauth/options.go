// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
	"github.com/golang-auth/go-sasl/krb5"
	"github.com/golang-auth/go-sasl/memctx"
	"github.com/golang-auth/go-sasl/saslnet"
)

// mechFlags registers the flags shared by the client and the server.
func mechFlags(fs *pflag.FlagSet, mechs []string) {
	fs.StringSlice("mech", mechs, "mechanisms in order of preference")
	fs.String("qop", "", "protection preferences, eg. auth-conf,auth-int,auth")
	fs.Uint32("max-buffer", 0, "largest protected message we accept (0 for the default)")
	fs.Bool("relaxed", false, "accept peers that do not follow the negotiation rules strictly")
	fs.String("service", "sasl", "service name")
	fs.String("host", "", "fully qualified server host name")
	fs.String("provider", "krb5", "GSSAPI context provider: krb5 or memory")
	fs.String("krb5-conf", "", "krb5.conf path (default $KRB5_CONFIG)")
	fs.String("keytab", "", "keytab path (default $KRB5_KTNAME)")
	fs.String("psk", "", "hex pre-shared key for the memory provider (default $SASL_MEMCTX_KEY)")
	fs.String("principal", "", "principal name asserted by the memory provider")
	fs.Duration("timeout", 30*time.Second, "negotiation and exchange timeout")
	fs.Uint32("max-token", saslnet.DefaultMaxTokenSize, "largest negotiation token accepted")
}

func (a *app) log() loggable.Loggable {
	return loggable.Zap(a.logger)
}

// mechOptions builds the mechanism configuration common to both sides.
func (a *app) mechOptions() ([]sasl.Option, error) {
	opts := []sasl.Option{
		sasl.WithLogger(a.log()),
		sasl.WithRelaxedCompliance(a.v.GetBool("relaxed")),
	}

	if s := a.v.GetString("qop"); s != "" {
		qops, err := sasl.ParseQOPList(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sasl.WithQOP(qops...))
	}
	if n := a.v.GetUint32("max-buffer"); n > 0 {
		opts = append(opts, sasl.WithMaxReceiveBuffer(n))
	}

	p, err := a.provider()
	if err != nil {
		return nil, err
	}
	if p != nil {
		opts = append(opts, sasl.WithProvider(p))
	} else {
		opts = append(opts, sasl.WithProviderName(a.v.GetString("provider")))
	}

	return opts, nil
}

// provider returns the configured context provider, or nil when the
// registered provider should be looked up by name.
func (a *app) provider() (sasl.ContextProvider, error) {
	switch name := a.v.GetString("provider"); name {
	case "krb5":
		opts := []krb5.Option{krb5.WithLogger(a.log())}
		if f := a.v.GetString("krb5-conf"); f != "" {
			opts = append(opts, krb5.WithConfigFile(f))
		}
		if f := a.v.GetString("keytab"); f != "" {
			opts = append(opts, krb5.WithKeytab(f))
		}
		if f := a.v.GetString("ccache"); f != "" {
			opts = append(opts, krb5.WithCCache(f))
		}
		return krb5.New(opts...), nil

	case "memory":
		psk := a.v.GetString("psk")
		if psk == "" {
			return nil, nil
		}
		key, err := hex.DecodeString(psk)
		if err != nil {
			return nil, fmt.Errorf("bad pre-shared key: %w", err)
		}
		var opts []memctx.Option
		if p := a.v.GetString("principal"); p != "" {
			opts = append(opts, memctx.WithPrincipal(p))
		}
		return memctx.New(key, opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func (a *app) netOptions(extra ...saslnet.Option) []saslnet.Option {
	return append([]saslnet.Option{
		saslnet.WithLogger(a.log()),
		saslnet.WithMaxTokenSize(a.v.GetUint32("max-token")),
	}, extra...)
}
