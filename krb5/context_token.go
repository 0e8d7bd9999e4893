// SPDX-License-Identifier: Apache-2.0

package krb5

/*
 * Derived from github.com/jcmturner/gokrb5/v8/spnego/krb5Token.go, extended
 * to carry AP-REP messages for mutual authentication.
 */

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/golang-auth/go-sasl"
)

// RFC 4121 § 4.1 token IDs
type tokenID uint16

const (
	tokAPReq    tokenID = 0x0100
	tokAPRep    tokenID = 0x0200
	tokKRBError tokenID = 0x0300
)

func mechOID() asn1.ObjectIdentifier {
	return asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}
}

// contextToken is a context establishment token: the mechanism OID, a token
// ID and one Kerberos message, in the generic framing of RFC 2743 § 3.1.
type contextToken struct {
	id       tokenID
	apReq    *messages.APReq
	apRep    *apRep
	krbError *messages.KRBError
}

func (t *contextToken) marshal() ([]byte, error) {
	b, err := asn1.Marshal(mechOID())
	if err != nil {
		return nil, fmt.Errorf("krb5: marshalling OID: %w", err)
	}
	b = binary.BigEndian.AppendUint16(b, uint16(t.id))

	var msg []byte
	switch t.id {
	case tokAPReq:
		msg, err = t.apReq.Marshal()
	case tokAPRep:
		msg, err = t.apRep.marshal()
	case tokKRBError:
		msg, err = t.krbError.Marshal()
	default:
		err = fmt.Errorf("unknown token ID %#04x", uint16(t.id))
	}
	if err != nil {
		return nil, fmt.Errorf("krb5: marshalling context token: %w", err)
	}

	return asn1tools.AddASNAppTag(append(b, msg...), 0), nil
}

// unmarshal leaves all of the messages nil if the token ID is not known.
func (t *contextToken) unmarshal(b []byte) error {
	*t = contextToken{}

	var oid asn1.ObjectIdentifier
	rest, err := asn1.UnmarshalWithParams(b, &oid, "application,explicit,tag:0")
	if err != nil {
		return fmt.Errorf("krb5: context token OID: %w", err)
	}
	if !oid.Equal(mechOID()) {
		return fmt.Errorf("krb5: context token OID is %s, not %s", oid, mechOID())
	}
	if len(rest) < 2 {
		return fmt.Errorf("krb5: context token too short")
	}

	t.id = tokenID(binary.BigEndian.Uint16(rest))
	msg := rest[2:]

	switch t.id {
	case tokAPReq:
		var a messages.APReq
		if err := a.Unmarshal(msg); err != nil {
			return fmt.Errorf("krb5: context token AP-REQ: %w", err)
		}
		t.apReq = &a
	case tokAPRep:
		var a apRep
		if err := a.unmarshal(msg); err != nil {
			return fmt.Errorf("krb5: context token AP-REP: %w", err)
		}
		t.apRep = &a
	case tokKRBError:
		var a messages.KRBError
		if err := a.Unmarshal(msg); err != nil {
			return fmt.Errorf("krb5: context token KRB-ERROR: %w", err)
		}
		t.krbError = &a
	}

	return nil
}

// krbErrorToken wraps ke in a context token for the peer.  The returned
// error is ke itself, unless marshalling failed.
func krbErrorToken(ke messages.KRBError) ([]byte, error) {
	tok, err := (&contextToken{id: tokKRBError, krbError: &ke}).marshal()
	if err != nil {
		return nil, err
	}

	return tok, fmt.Errorf("krb5: %w", ke)
}

// newAuthenticatorChksum builds the GSSAPI checksum of RFC 4121 § 4.1.1,
// which carries the channel bindings and context flags in the AP-REQ.
func newAuthenticatorChksum(flags sasl.ContextFlag, cb *sasl.ChannelBinding) []byte {
	a := make([]byte, 24)

	// length of the channel binding hash
	binary.LittleEndian.PutUint32(a[:4], 16)

	if cb != nil {
		copy(a[4:20], cbChecksum(cb))
	}

	binary.LittleEndian.PutUint32(a[20:24], uint32(flags))

	return a
}

// cbChecksum is the MD5 hash of the gss_channel_bindings_struct encoding
// described in RFC 4121 § 4.1.1.2.
func cbChecksum(cb *sasl.ChannelBinding) []byte {
	var buf []byte

	for _, addr := range []net.Addr{cb.InitiatorAddr, cb.AcceptorAddr} {
		family, data := cbAddress(addr)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(family))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cb.Data)))
	buf = append(buf, cb.Data...)

	sum := md5.Sum(buf)
	return sum[:]
}

func cbAddress(addr net.Addr) (sasl.AddressFamily, []byte) {
	var ip net.IP

	switch a := addr.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.UnixAddr:
		return sasl.AddrFamilyLocal, []byte(a.Name)
	default:
		return sasl.AddrFamilyUnspec, nil
	}

	if ip4 := ip.To4(); ip4 != nil {
		return sasl.AddrFamilyINET, ip4
	}
	if ip16 := ip.To16(); ip16 != nil {
		return sasl.AddrFamilyINET6, ip16
	}

	return sasl.AddrFamilyUnspec, nil
}
