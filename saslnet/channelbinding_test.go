// SPDX-License-Identifier: Apache-2.0

package saslnet

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testCertificate(t *testing.T) tls.Certificate {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "server.example.com"},
		DNSNames:     []string{"server.example.com"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

// handshake connects a TLS client and server over a pipe and returns the
// state each side ends up with.
func handshake(t *testing.T, cert tls.Certificate, maxVersion uint16) (client, server tls.ConnectionState) {
	c, s := net.Pipe()
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})

	tc := tls.Client(c, &tls.Config{
		ServerName:         "server.example.com",
		InsecureSkipVerify: true, //nolint:gosec
		MaxVersion:         maxVersion,
	})
	ts := tls.Server(s, &tls.Config{Certificates: []tls.Certificate{cert}, MaxVersion: maxVersion})

	var g errgroup.Group
	g.Go(tc.Handshake)
	g.Go(ts.Handshake)
	require.NoError(t, g.Wait())

	return tc.ConnectionState(), ts.ConnectionState()
}

func TestTLSChannelBinding(t *testing.T) {
	var tests = []struct {
		name    string
		version uint16
		prefix  string
	}{
		{"TLS 1.2", tls.VersionTLS12, "tls-server-end-point:"},
		{"TLS 1.3", tls.VersionTLS13, "tls-exporter:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := testCertificate(t)
			cs, ss := handshake(t, cert, tt.version)
			require.Equal(t, tt.version, cs.Version)

			server, err := TLSChannelBinding(&ss, cert.Leaf)
			require.NoError(t, err)
			client, err := TLSChannelBinding(&cs, nil)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(string(server.Data), tt.prefix))
			assert.Equal(t, server.Data, client.Data)
			assert.Nil(t, server.InitiatorAddr)

			// a different connection binds differently
			cs2, _ := handshake(t, testCertificate(t), tt.version)
			other, err := TLSChannelBinding(&cs2, nil)
			require.NoError(t, err)
			assert.NotEqual(t, client.Data, other.Data)
		})
	}
}

func TestTLSChannelBindingEndpoint(t *testing.T) {
	cert := testCertificate(t)

	server, err := TLSChannelBinding(&tls.ConnectionState{Version: tls.VersionTLS12}, cert.Leaf)
	require.NoError(t, err)

	client, err := TLSChannelBinding(&tls.ConnectionState{
		Version:          tls.VersionTLS12,
		PeerCertificates: []*x509.Certificate{cert.Leaf},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, server.Data, client.Data)
}

func TestTLSChannelBindingErrors(t *testing.T) {
	_, err := TLSChannelBinding(nil, nil)
	assert.ErrorContains(t, err, "no TLS connection state")

	_, err = TLSChannelBinding(&tls.ConnectionState{}, nil)
	assert.ErrorContains(t, err, "no server certificate")

	_, err = TLSChannelBinding(&tls.ConnectionState{Version: tls.VersionTLS13}, nil)
	assert.ErrorContains(t, err, "handshake not complete")
}
