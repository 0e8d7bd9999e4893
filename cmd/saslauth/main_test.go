// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/test"
)

var psk = hex.EncodeToString([]byte("saslauth test pre-shared key"))

func TestMechsCommand(t *testing.T) {
	assert := test.NewAssert(t)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	// no saslauth.yaml next to the test
	cmd.SetArgs([]string{"mechs"})
	assert.NoErrorFatal(cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(lines, 2)
	for _, m := range []string{"ANONYMOUS", "DIGEST-MD5", "GSSAPI", "JBOSS-LOCAL-USER", "PLAIN"} {
		assert.Contains(lines[0], m)
		assert.Contains(lines[1], m)
	}
}

func TestBadConfigFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"mechs", "--config", filepath.Join(t.TempDir(), "missing.yaml")})

	assert.ErrorContains(t, cmd.Execute(), "reading configuration")
}

// testApp returns an app whose settings are the command's flag defaults
// overridden by settings.
func testApp(t *testing.T, newCmd func(*app) *cobra.Command, settings map[string]any) *app {
	a := &app{v: viper.New(), logger: zaptest.NewLogger(t)}
	cmd := newCmd(a)
	test.NewAssert(t).NoErrorFatal(a.v.BindPFlags(cmd.Flags()))
	for k, v := range settings {
		a.v.Set(k, v)
	}

	return a
}

// serveOne accepts a single connection on a loopback listener.
func serveOne(t *testing.T, s *server) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	test.NewAssert(t).NoErrorFatal(err)
	t.Cleanup(func() { ln.Close() })

	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.handle(context.Background(), conn)
	}()

	return ln.Addr().String()
}

func TestGSSAPIMemoryProvider(t *testing.T) {
	assert := test.NewAssert(t)

	sa := testApp(t, newServerCommand, map[string]any{
		"mech":     []string{"GSSAPI"},
		"provider": "memory",
		"psk":      psk,
		"host":     "localhost",
		"qop":      "auth-conf,auth-int,auth",
	})
	s, err := sa.newServer()
	assert.NoErrorFatal(err)
	addr := serveOne(t, s)

	ca := testApp(t, newClientCommand, map[string]any{
		"connect":   addr,
		"host":      "localhost",
		"provider":  "memory",
		"psk":       psk,
		"principal": "alice@EXAMPLE.COM",
		"qop":       "auth-conf",
		"message":   "over the wire",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := ca.runClient(ctx)
	assert.NoErrorFatal(err)
	assert.Equal(`hello alice@EXAMPLE.COM, you said "over the wire"`, string(reply))

	// the server records the negotiation once it has completed
	assert.Equal(1, attempts(t, s))
}

// attempts counts the negotiations the server has recorded.
func attempts(t *testing.T, s *server) int {
	n, err := testutil.GatherAndCount(s.recorder.Registry(), "sasl_negotiations_total")
	test.NewAssert(t).NoErrorFatal(err)
	return n
}

func writeUsers(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "users.yaml")
	err := os.WriteFile(path, []byte("users:\n  - name: alice\n    password: wonderland\n"), 0o600)
	test.NewAssert(t).NoErrorFatal(err)
	return path
}

func plainServer(t *testing.T, extra map[string]any) *server {
	settings := map[string]any{
		"mech":     []string{"PLAIN", "DIGEST-MD5"},
		"provider": "memory",
		"users":    writeUsers(t),
		"host":     "localhost",
	}
	for k, v := range extra {
		settings[k] = v
	}

	s, err := testApp(t, newServerCommand, settings).newServer()
	test.NewAssert(t).NoErrorFatal(err)
	return s
}

func TestPasswordMechanisms(t *testing.T) {
	for _, mech := range []string{"PLAIN", "DIGEST-MD5"} {
		t.Run(mech, func(t *testing.T) {
			assert := test.NewAssert(t)
			s := plainServer(t, nil)

			ca := testApp(t, newClientCommand, map[string]any{
				"connect":  serveOne(t, s),
				"host":     "localhost",
				"mech":     []string{"GSSAPI", mech},
				"provider": "memory",
				"user":     "alice",
				"password": "wonderland",
			})
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			reply, err := ca.runClient(ctx)
			assert.NoErrorFatal(err)
			assert.Equal(`hello alice, you said "hello"`, string(reply))
		})
	}
}

func TestWrongPassword(t *testing.T) {
	s := plainServer(t, nil)

	ca := testApp(t, newClientCommand, map[string]any{
		"connect":  serveOne(t, s),
		"mech":     []string{"PLAIN"},
		"provider": "memory",
		"user":     "alice",
		"password": "looking-glass",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := ca.runClient(ctx)
	assert.ErrorContains(t, err, "authentication failed")
}

func TestNoCommonMechanism(t *testing.T) {
	s := plainServer(t, map[string]any{"mech": []string{"PLAIN"}})

	ca := testApp(t, newClientCommand, map[string]any{
		"connect":  serveOne(t, s),
		"mech":     []string{"GSSAPI"},
		"provider": "memory",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := ca.runClient(ctx)
	assert.ErrorIs(t, err, sasl.ErrMechNotFound)
}

func TestServerConfigErrors(t *testing.T) {
	_, err := testApp(t, newServerCommand, map[string]any{"mech": []string{"NOPE"}}).newServer()
	assert.ErrorContains(t, err, "no server for mechanism NOPE")

	_, err = testApp(t, newServerCommand, map[string]any{"provider": "nope"}).newServer()
	assert.ErrorContains(t, err, "unknown provider")

	_, err = testApp(t, newServerCommand, map[string]any{"provider": "memory", "psk": "zz"}).newServer()
	assert.ErrorContains(t, err, "bad pre-shared key")

	_, err = testApp(t, newServerCommand, map[string]any{"qop": "auth-nope"}).newServer()
	assert.Error(t, err)

	_, err = testApp(t, newServerCommand, map[string]any{"users": filepath.Join(t.TempDir(), "none.yaml")}).newServer()
	assert.Error(t, err)
}

// writeCertificate writes a self-signed certificate and key for localhost.
func writeCertificate(t *testing.T) (certFile, keyFile string) {
	assert := test.NewAssert(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoErrorFatal(err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	assert.NoErrorFatal(err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	assert.NoErrorFatal(os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	assert.NoErrorFatal(os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	return certFile, keyFile
}

func TestTLSChannelBinding(t *testing.T) {
	assert := test.NewAssert(t)
	certFile, keyFile := writeCertificate(t)

	s, err := testApp(t, newServerCommand, map[string]any{
		"mech":     []string{"GSSAPI"},
		"provider": "memory",
		"psk":      psk,
		"host":     "localhost",
		"tls-cert": certFile,
		"tls-key":  keyFile,
	}).newServer()
	assert.NoErrorFatal(err)

	ca := testApp(t, newClientCommand, map[string]any{
		"connect":   serveOne(t, s),
		"host":      "localhost",
		"provider":  "memory",
		"psk":       psk,
		"principal": "alice@EXAMPLE.COM",
		"tls":       true,
		"tls-ca":    certFile,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := ca.runClient(ctx)
	assert.NoErrorFatal(err)
	assert.Equal(`hello alice@EXAMPLE.COM, you said "hello"`, string(reply))
}
