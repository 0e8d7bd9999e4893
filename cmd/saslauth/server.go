// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/metrics"
	"github.com/golang-auth/go-sasl/realm"
	"github.com/golang-auth/go-sasl/realm/ldaprealm"
	"github.com/golang-auth/go-sasl/saslnet"
)

const (
	maxMechName = 64
	maxMechList = 1024
	maxMessage  = 1 << 16
)

func newServerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept SASL connections and echo one protected message each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := a.newServer()
			if err != nil {
				return err
			}
			return s.run(ctx)
		},
	}

	fs := cmd.Flags()
	mechFlags(fs, []string{"GSSAPI", "DIGEST-MD5", "PLAIN"})
	fs.String("listen", ":4752", "address to listen on")
	fs.String("metrics-listen", "", "address to serve Prometheus metrics on")
	fs.String("users", "", "YAML users file")
	fs.String("ldap-addr", "", "LDAP server host:port used as the user realm")
	fs.String("ldap-base-dn", "", "LDAP search base")
	fs.String("ldap-bind-dn", "", "LDAP search bind DN")
	fs.String("ldap-bind-password", "", "LDAP search bind password")
	fs.Int("cache-size", 128, "identities cached from the realm (0 disables caching)")
	fs.String("digest-realm", "", "DIGEST-MD5 realm (default the host name)")
	fs.String("challenge-dir", "", "JBOSS-LOCAL-USER challenge directory")
	fs.String("default-user", "", "JBOSS-LOCAL-USER identity for clients that send none")
	fs.String("tls-cert", "", "TLS certificate file; enables TLS and channel binding")
	fs.String("tls-key", "", "TLS private key file")

	return cmd
}

type server struct {
	a        *app
	log      *zap.Logger
	mechs    []string
	opts     []sasl.Option
	recorder *metrics.Recorder
	tls      *tls.Config
}

func (a *app) newServer() (*server, error) {
	s := &server{
		a:        a,
		log:      a.logger.Named("server"),
		recorder: metrics.NewRecorder(),
	}

	for _, m := range a.v.GetStringSlice("mech") {
		m = strings.ToUpper(m)
		if !slices.Contains(sasl.ServerMechs(), m) {
			return nil, fmt.Errorf("no server for mechanism %s", m)
		}
		s.mechs = append(s.mechs, m)
	}
	if len(s.mechs) == 0 {
		return nil, errors.New("no mechanisms configured")
	}

	opts, err := a.mechOptions()
	if err != nil {
		return nil, err
	}

	host := a.v.GetString("host")
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return nil, err
		}
	}
	opts = append(opts, sasl.WithService(a.v.GetString("service"), host))

	r, err := a.realm()
	if err != nil {
		return nil, err
	}
	if r != nil {
		opts = append(opts, sasl.WithRealm(r))
	}
	if v := a.v.GetString("digest-realm"); v != "" {
		opts = append(opts, sasl.WithDigestRealm(v))
	}
	if v := a.v.GetString("challenge-dir"); v != "" {
		opts = append(opts, sasl.WithChallengeDir(v))
	}
	if v := a.v.GetString("default-user"); v != "" {
		opts = append(opts, sasl.WithDefaultUser(v))
	}
	s.opts = opts

	if certFile := a.v.GetString("tls-cert"); certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, a.v.GetString("tls-key"))
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		s.tls = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	return s, nil
}

// realm returns the user realm for the password based mechanisms, or nil
// when none is configured.
func (a *app) realm() (realm.Realm, error) {
	var r realm.Realm

	switch {
	case a.v.GetString("users") != "":
		m, err := realm.LoadFile(a.v.GetString("users"))
		if err != nil {
			return nil, err
		}
		r = m
	case a.v.GetString("ldap-addr") != "":
		r = ldaprealm.New(ldaprealm.Config{
			Addr:         a.v.GetString("ldap-addr"),
			BaseDN:       a.v.GetString("ldap-base-dn"),
			BindDN:       a.v.GetString("ldap-bind-dn"),
			BindPassword: a.v.GetString("ldap-bind-password"),
		})
	default:
		return nil, nil
	}

	if n := a.v.GetInt("cache-size"); n > 0 {
		return realm.NewCaching(r, n)
	}

	return r, nil
}

func (s *server) run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.a.v.GetString("listen"))
	if err != nil {
		return err
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.log.Info("listening", zap.Stringer("addr", ln.Addr()), zap.Strings("mechs", s.mechs))

	g, ctx := errgroup.WithContext(ctx)

	if addr := s.a.v.GetString("metrics-listen"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.recorder.Handler())
		hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return hs.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		stop := context.AfterFunc(ctx, func() { ln.Close() })
		defer stop()

		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			go s.handle(ctx, conn)
		}
	})

	return g.Wait()
}

func (s *server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, s.a.v.GetDuration("timeout"))
	defer cancel()

	log := s.log.With(zap.Stringer("peer", conn.RemoteAddr()))
	if err := s.serve(ctx, conn, log); err != nil {
		log.Warn("connection failed", zap.Error(err))
	}
}

func (s *server) serve(ctx context.Context, conn net.Conn, log *zap.Logger) error {
	opts := slices.Clip(s.opts)

	if tc, ok := conn.(*tls.Conn); ok {
		if err := tc.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("TLS handshake: %w", err)
		}
		state := tc.ConnectionState()
		cb, err := saslnet.TLSChannelBinding(&state, s.tls.Certificates[0].Leaf)
		if err != nil {
			return err
		}
		opts = append(opts, sasl.WithChannelBinding(cb))
	}
	conn = s.a.wrapDebug(conn)

	if err := saslnet.WriteToken(conn, []byte(strings.Join(s.mechs, ","))); err != nil {
		return err
	}
	name, err := saslnet.ReadToken(conn, maxMechName)
	if err != nil {
		return fmt.Errorf("reading mechanism: %w", err)
	}
	if !slices.Contains(s.mechs, string(name)) {
		return fmt.Errorf("client selected unoffered mechanism %q", name)
	}

	mech, err := sasl.NewServer(string(name), opts...)
	if err != nil {
		return err
	}
	defer func() { _ = mech.Dispose() }()

	outcome, err := saslnet.RunServer(ctx, conn, mech, s.a.netOptions(saslnet.WithObserver(s.recorder))...)
	if err != nil {
		return err
	}
	log.Info("authenticated",
		zap.String("mech", mech.Name()),
		zap.String("authcid", outcome.AuthenticationID),
		zap.String("authzid", outcome.AuthorizationID),
		zap.Stringer("qop", outcome.QOP))

	pc, err := saslnet.NewConn(conn, outcome)
	if err != nil {
		return err
	}

	msg, err := saslnet.ReadToken(pc, maxMessage)
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}
	log.Info("received message", zap.ByteString("message", msg))

	reply := fmt.Sprintf("hello %s, you said %q", outcome.AuthorizationID, msg)
	return saslnet.WriteToken(pc, []byte(reply))
}
