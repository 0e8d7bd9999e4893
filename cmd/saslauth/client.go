// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/krb5"
	"github.com/golang-auth/go-sasl/saslnet"
)

func newClientCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Authenticate to a saslauth server and send one protected message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.v.GetDuration("timeout"))
			defer cancel()

			reply, err := a.runClient(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(reply))
			return nil
		},
	}

	fs := cmd.Flags()
	mechFlags(fs, []string{"GSSAPI"})
	fs.String("connect", "localhost:4752", "server address")
	fs.String("user", "", "user name, or Kerberos principal with --password")
	fs.String("password", "", "password")
	fs.String("authzid", "", "identity to act as")
	fs.String("trace", "", "ANONYMOUS trace information")
	fs.String("ccache", "", "Kerberos credentials cache (default $KRB5CCNAME)")
	fs.Bool("delegate", false, "delegate Kerberos credentials to the server")
	fs.String("message", "hello", "message to send once authenticated")
	fs.Bool("tls", false, "connect with TLS and bind the negotiation to the channel")
	fs.String("tls-ca", "", "PEM file of CA certificates to trust")
	fs.String("tls-server-name", "", "expected server name (default the host name)")
	fs.Bool("tls-insecure", false, "do not verify the server certificate")

	return cmd
}

func (a *app) runClient(ctx context.Context) ([]byte, error) {
	log := a.logger.Named("client")

	opts, err := a.mechOptions()
	if err != nil {
		return nil, err
	}

	addr := a.v.GetString("connect")
	host := a.v.GetString("host")
	if host == "" {
		if host, _, err = net.SplitHostPort(addr); err != nil {
			return nil, err
		}
	}
	opts = append(opts, sasl.WithService(a.v.GetString("service"), host))

	if user := a.v.GetString("user"); user != "" {
		password := a.v.GetString("password")
		opts = append(opts, sasl.WithCredentials(user, password))
		if password != "" && a.v.GetString("provider") == "krb5" {
			opts = append(opts, sasl.WithCredential(krb5.Password{Principal: user, Password: password}))
		}
	}
	if v := a.v.GetString("authzid"); v != "" {
		opts = append(opts, sasl.WithAuthorizationID(v))
	}
	if v := a.v.GetString("trace"); v != "" {
		opts = append(opts, sasl.WithTrace(v))
	}
	if a.v.IsSet("delegate") {
		opts = append(opts, sasl.WithDelegateCredential(a.v.GetBool("delegate")))
	}

	conn, cb, err := a.dial(ctx, addr, host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if cb != nil {
		opts = append(opts, sasl.WithChannelBinding(cb))
	}
	conn = a.wrapDebug(conn)

	offered, err := saslnet.ReadToken(conn, maxMechList)
	if err != nil {
		return nil, fmt.Errorf("reading offered mechanisms: %w", err)
	}
	name, err := sasl.SelectMechanism(a.v.GetStringSlice("mech"), strings.Split(string(offered), ","))
	if err != nil {
		return nil, err
	}
	log.Debug("selected mechanism", zap.String("mech", name), zap.ByteString("offered", offered))
	if err := saslnet.WriteToken(conn, []byte(name)); err != nil {
		return nil, err
	}

	mech, err := sasl.NewClient(name, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = mech.Dispose() }()

	outcome, err := saslnet.RunClient(ctx, conn, mech, a.netOptions()...)
	if err != nil {
		return nil, err
	}
	log.Info("authenticated", zap.String("mech", name), zap.Stringer("qop", outcome.QOP))

	pc, err := saslnet.NewConn(conn, outcome)
	if err != nil {
		return nil, err
	}
	if err := saslnet.WriteToken(pc, []byte(a.v.GetString("message"))); err != nil {
		return nil, err
	}

	return saslnet.ReadToken(pc, maxMessage)
}

// dial connects to the server, returning the TLS channel binding when TLS
// is enabled.
func (a *app) dial(ctx context.Context, addr, host string) (net.Conn, *sasl.ChannelBinding, error) {
	var d net.Dialer
	if !a.v.GetBool("tls") {
		conn, err := d.DialContext(ctx, "tcp", addr)
		return conn, nil, err
	}

	cfg := &tls.Config{
		ServerName:         a.v.GetString("tls-server-name"),
		InsecureSkipVerify: a.v.GetBool("tls-insecure"), //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if f := a.v.GetString("tls-ca"); f != "" {
		pem, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, err
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, nil, fmt.Errorf("no certificates in %s", f)
		}
	}

	td := tls.Dialer{NetDialer: &d, Config: cfg}
	conn, err := td.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	state := conn.(*tls.Conn).ConnectionState()
	cb, err := saslnet.TLSChannelBinding(&state, nil)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return conn, cb, nil
}
