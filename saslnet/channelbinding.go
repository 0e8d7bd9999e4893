// SPDX-License-Identifier: Apache-2.0

package saslnet

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	cb "github.com/golang-auth/go-channelbinding"

	"github.com/golang-auth/go-sasl"
)

// TLSChannelBinding returns channel bindings for a TLS connection.  TLS 1.3
// connections use tls-exporter (RFC 9266) data; earlier versions use
// tls-server-end-point (RFC 5929), for which servers pass their own
// certificate and clients pass nil to take it from the connection state.
func TLSChannelBinding(state *tls.ConnectionState, serverCert *x509.Certificate) (*sasl.ChannelBinding, error) {
	if state == nil {
		return nil, errors.New("saslnet: no TLS connection state, needed for channel binding")
	}

	var bindingType cb.TLSChannelBindingType = cb.TLSChannelBindingExporter
	if state.Version < tls.VersionTLS13 {
		bindingType = cb.TLSChannelBindingEndpoint
		if serverCert == nil {
			if len(state.PeerCertificates) == 0 {
				return nil, errors.New("saslnet: no server certificate found in TLS connection state, needed for channel binding")
			}
			serverCert = state.PeerCertificates[0]
		}
	} else if !state.HandshakeComplete {
		// exporter data only exists once the handshake is done
		return nil, errors.New("saslnet: TLS handshake not complete, needed for channel binding")
	}

	data, err := cb.MakeTLSChannelBinding(*state, serverCert, bindingType)
	if err != nil {
		return nil, fmt.Errorf("saslnet: channel binding: %w", err)
	}

	return &sasl.ChannelBinding{Data: data}, nil
}
