// SPDX-License-Identifier: Apache-2.0

/*
Package digest implements the DIGEST-MD5 SASL mechanism (RFC 2831) with the
"auth" quality of protection only.

The server sends a challenge with a realm and a nonce.  The client proves
knowledge of the password by answering with a digest over the nonce, a
client nonce and the digest URI service/host.  The server proves knowledge
of the same secret by returning rspauth, which the client checks.

The server verifies responses using the realm's stored digest secret
H(username:realm:password) when it has one for the negotiated realm, or the
clear text password otherwise.
*/
package digest

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/golang-auth/go-sasl"
)

// MechName is the registered mechanism name.
const MechName = "DIGEST-MD5"

const (
	qopAuth      = "auth"
	algorithm    = "md5-sess"
	charsetUTF8  = "utf-8"
	nonceCount   = "00000001"
	nonceLength  = 16
	responseSize = 32
	md5Size      = md5.Size
)

func init() {
	sasl.RegisterClient(MechName, NewClient)
	sasl.RegisterServer(MechName, NewServer)
}

// exchange holds the values both sides feed into the digest.
type exchange struct {
	username  string
	realm     string
	nonce     string
	cnonce    string
	digestURI string
	authzID   string
}

// secret returns H(username:realm:password).
func secret(username, realm, password string) []byte {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return sum[:]
}

func hexMD5(s []byte) string {
	sum := md5.Sum(s)
	return hex.EncodeToString(sum[:])
}

// response computes the response directive (RFC 2831 § 2.1.2.1) from the
// user's secret.  The server's rspauth uses the same computation with an
// empty method in A2.
func (e exchange) response(userSecret []byte, method string) string {
	a1 := make([]byte, 0, len(userSecret)+len(e.nonce)+len(e.cnonce)+len(e.authzID)+3)
	a1 = append(a1, userSecret...)
	a1 = append(a1, ':')
	a1 = append(a1, e.nonce...)
	a1 = append(a1, ':')
	a1 = append(a1, e.cnonce...)
	if e.authzID != "" {
		a1 = append(a1, ':')
		a1 = append(a1, e.authzID...)
	}

	a2 := method + ":" + e.digestURI

	kd := hexMD5(a1) + ":" + e.nonce + ":" + nonceCount + ":" + e.cnonce + ":" + qopAuth + ":" + hexMD5([]byte(a2))
	return hexMD5([]byte(kd))
}

func newNonce() (string, error) {
	b := make([]byte, nonceLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawStdEncoding.EncodeToString(b), nil
}
