// SPDX-License-Identifier: Apache-2.0

package krb5

/*
 * Derived from github.com/jcmturner/gokrb5/v8/gssapi/wrapToken.go, extended
 * to seal messages and to accept rotated tokens from SSPI.
 */

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/types"
)

// RFC 4121 § 4.2.6
const (
	msgTokenHdrLen          = 16
	msgTokenFillerByte byte = 0xFF
)

var wrapTokenID = [2]byte{0x05, 0x04}

// RFC 4121 § 4.2.2
type tokenFlag uint8

const (
	tokenFlagSentByAcceptor tokenFlag = 1 << iota
	tokenFlagSealed
	tokenFlagAcceptorSubkey
)

// wrapToken is the RFC 4121 § 4.2.6.2 Wrap token.
type wrapToken struct {
	Flags          tokenFlag
	EC             uint16 // checksum length, or padding length when sealed
	RRC            uint16 // right rotation count
	SequenceNumber uint64
	Payload        []byte // signed or encrypted payload
	protected      bool
}

// wrap tokens always use the seal key usage (RFC 4121 § 2)
func (wt *wrapToken) usage() uint32 {
	if wt.Flags&tokenFlagSentByAcceptor != 0 {
		return keyusage.GSSAPI_ACCEPTOR_SEAL
	}

	return keyusage.GSSAPI_INITIATOR_SEAL
}

// header returns the token header with RRC zeroed, as used in the checksum
// (where EC is also zero) and in the encrypted copy of the header.
func (wt *wrapToken) header(ec uint16) []byte {
	hdr := make([]byte, msgTokenHdrLen)
	copy(hdr, wrapTokenID[:])
	hdr[2] = byte(wt.Flags)
	hdr[3] = msgTokenFillerByte
	binary.BigEndian.PutUint16(hdr[4:6], ec)
	binary.BigEndian.PutUint64(hdr[8:], wt.SequenceNumber)

	return hdr
}

func (wt *wrapToken) checksum(key types.EncryptionKey, payload []byte) ([]byte, error) {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fmt.Errorf("krb5: %w", err)
	}

	data := make([]byte, 0, len(payload)+msgTokenHdrLen)
	data = append(data, payload...)
	data = append(data, wt.header(0)...)

	sum, err := et.GetChecksumHash(key.KeyValue, data, wt.usage())
	if err != nil {
		return nil, fmt.Errorf("krb5: %w", err)
	}

	return sum, nil
}

// sign appends a checksum over the payload and the header (RFC 4121 § 4.2.4).
func (wt *wrapToken) sign(key types.EncryptionKey) error {
	if wt.protected {
		return errors.New("krb5: wrap token is already protected")
	}

	sum, err := wt.checksum(key, wt.Payload)
	if err != nil {
		return err
	}

	wt.Payload = append(wt.Payload, sum...)
	wt.EC = uint16(len(sum))
	wt.RRC = 0
	wt.protected = true

	return nil
}

// seal encrypts the payload followed by a copy of the header
// (RFC 4121 § 4.2.4).
func (wt *wrapToken) seal(key types.EncryptionKey) error {
	if wt.protected {
		return errors.New("krb5: wrap token is already protected")
	}

	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("krb5: %w", err)
	}

	// filler so that block ciphers need no padding of their own
	ec := uint16(fillerLength(key.KeyType, uint32(len(wt.Payload)+msgTokenHdrLen)))

	plain := make([]byte, 0, len(wt.Payload)+int(ec)+msgTokenHdrLen)
	plain = append(plain, wt.Payload...)
	plain = append(plain, make([]byte, ec)...)
	plain = append(plain, wt.header(ec)...)

	_, enc, err := et.EncryptMessage(key.KeyValue, plain, wt.usage())
	if err != nil {
		return fmt.Errorf("krb5: %w", err)
	}

	wt.Payload = enc
	wt.EC = ec
	wt.RRC = 0
	wt.protected = true

	return nil
}

func (wt *wrapToken) marshal() ([]byte, error) {
	if !wt.protected {
		return nil, errors.New("krb5: wrap token is not signed or sealed")
	}

	tok := make([]byte, msgTokenHdrLen, msgTokenHdrLen+len(wt.Payload))
	copy(tok, wrapTokenID[:])
	tok[2] = byte(wt.Flags)
	tok[3] = msgTokenFillerByte
	binary.BigEndian.PutUint16(tok[4:6], wt.EC)
	binary.BigEndian.PutUint16(tok[6:8], wt.RRC)
	binary.BigEndian.PutUint64(tok[8:16], wt.SequenceNumber)

	return append(tok, wt.Payload...), nil
}

// unmarshal parses a token, undoing any rotation applied by the sender.
func (wt *wrapToken) unmarshal(tok []byte) error {
	*wt = wrapToken{}

	if len(tok) < msgTokenHdrLen {
		return errors.New("krb5: wrap token is too short")
	}

	// RFC 4121 § 4.4: 0x60 starts a GSS-API v1 token
	if tok[0] == 0x60 {
		return errors.New("krb5: GSS-API v1 message tokens are not supported")
	}
	if tok[0] != wrapTokenID[0] || tok[1] != wrapTokenID[1] {
		return errors.New("krb5: bad wrap token ID")
	}
	if tok[3] != msgTokenFillerByte {
		return errors.New("krb5: invalid wrap token (bad filler)")
	}

	wt.Flags = tokenFlag(tok[2])
	wt.EC = binary.BigEndian.Uint16(tok[4:6])
	wt.RRC = binary.BigEndian.Uint16(tok[6:8])
	wt.SequenceNumber = binary.BigEndian.Uint64(tok[8:16])
	wt.Payload = rotateLeft(append([]byte(nil), tok[msgTokenHdrLen:]...), uint(wt.RRC))
	wt.protected = true

	return nil
}

// verifyAndDecode checks the token and replaces the payload with the
// original message.
func (wt *wrapToken) verifyAndDecode(key types.EncryptionKey, expectFromAcceptor bool) (sealed bool, err error) {
	if !wt.protected {
		return false, errors.New("krb5: wrap token is not signed or sealed")
	}
	if len(wt.Payload) == 0 {
		return false, errors.New("krb5: cannot verify an empty wrap token payload")
	}

	fromAcceptor := wt.Flags&tokenFlagSentByAcceptor != 0
	if fromAcceptor != expectFromAcceptor {
		return false, fmt.Errorf("krb5: wrap token from acceptor: %t, expected from acceptor: %t", fromAcceptor, expectFromAcceptor)
	}

	if wt.Flags&tokenFlagSealed != 0 {
		return true, wt.decrypt(key)
	}

	return false, wt.checkSig(key)
}

func (wt *wrapToken) decrypt(key types.EncryptionKey) error {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("krb5: wrap token: %w", err)
	}

	plain, err := et.DecryptMessage(key.KeyValue, wt.Payload, wt.usage())
	if err != nil {
		return fmt.Errorf("krb5: wrap token: %w", err)
	}

	if len(plain) < int(wt.EC)+msgTokenHdrLen {
		return errors.New("krb5: decrypted wrap token payload is too short")
	}

	// the encrypted copy of the header must match the clear one
	inner := wrapToken{}
	if err := inner.unmarshal(plain[len(plain)-msgTokenHdrLen:]); err != nil {
		return err
	}
	if inner.Flags != wt.Flags || inner.EC != wt.EC || inner.SequenceNumber != wt.SequenceNumber {
		return errors.New("krb5: wrap token header was modified")
	}

	wt.Payload = plain[:len(plain)-msgTokenHdrLen-int(wt.EC)]
	wt.protected = false

	return nil
}

func (wt *wrapToken) checkSig(key types.EncryptionKey) error {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return fmt.Errorf("krb5: wrap token: %w", err)
	}

	if int(wt.EC) != et.GetHMACBitLength()/8 {
		return errors.New("krb5: bad wrap token checksum length")
	}
	if len(wt.Payload) < int(wt.EC) {
		return errors.New("krb5: signed wrap token payload is too short")
	}

	split := len(wt.Payload) - int(wt.EC)
	msg, theirs := wt.Payload[:split], wt.Payload[split:]

	ours, err := wt.checksum(key, msg)
	if err != nil {
		return err
	}
	if !hmac.Equal(theirs, ours) {
		return errors.New("krb5: invalid wrap token checksum")
	}

	wt.Payload = msg
	wt.protected = false

	return nil
}

// rotateLeft is ported from MIT (gss_krb5int_rotate_left).  It rotates buf
// in place.
func rotateLeft(buf []byte, rc uint) []byte {
	if len(buf) == 0 {
		return buf
	}

	rc %= uint(len(buf))
	if rc == 0 {
		return buf
	}

	tmp := make([]byte, rc)
	copy(tmp, buf[:rc])
	copy(buf, buf[rc:])
	copy(buf[uint(len(buf))-rc:], tmp)

	return buf
}
