// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"crypto/rand"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"
)

// keySSF is the security strength factor of an encryption type, from MIT
// Kerberos 1.16 (src/lib/crypto/krb/etypes.c).
func keySSF(keyType int32) uint {
	et, err := crypto.GetEtype(keyType)
	if err != nil {
		return 0
	}

	switch et.(type) {
	case crypto.Des3CbcSha1Kd:
		return 112
	case crypto.RC4HMAC:
		return 64
	}

	return uint(et.GetKeyByteSize()) * 8
}

// cipherLayout describes the framing an encryption type adds around a
// plaintext: the confounder and any checksum that precedes it, the block
// size it is padded to, and the trailing checksum.
type cipherLayout struct {
	header  uint32
	padding uint32
	trailer uint32
}

func layoutOf(keyType int32) cipherLayout {
	et, err := crypto.GetEtype(keyType)
	if err != nil {
		return cipherLayout{}
	}

	block := uint32(et.GetCypherBlockBitLength() / 8)
	hmac := uint32(et.GetHMACBitLength() / 8)

	switch et.(type) {
	case crypto.Des3CbcSha1Kd:
		return cipherLayout{header: block, padding: block, trailer: hmac}
	case crypto.RC4HMAC:
		return cipherLayout{header: hmac + uint32(et.GetConfounderByteSize())}
	case crypto.Aes128CtsHmacSha96, crypto.Aes256CtsHmacSha96,
		crypto.Aes128CtsHmacSha256128, crypto.Aes256CtsHmacSha384192:
		return cipherLayout{header: block, trailer: hmac}
	}

	return cipherLayout{}
}

// fillerLength is ported from MIT Kerberos 1.16 (krb5int_c_padding_length).
func fillerLength(keyType int32, plainTextSize uint32) uint32 {
	l := layoutOf(keyType)
	if l.padding == 0 {
		return 0
	}

	if rem := (plainTextSize + l.header) % l.padding; rem != 0 {
		return l.padding - rem
	}

	return 0
}

// encryptedLength is ported from MIT Kerberos 1.16 (krb5_c_encrypt_length).
func encryptedLength(keyType int32, plainTextSize uint32) uint32 {
	l := layoutOf(keyType)

	return l.header + plainTextSize + fillerLength(keyType, plainTextSize) + l.trailer
}

// generateBaseKey returns a random key of the supplied type.  The key length
// for aes256-cts-hmac-sha384-192 is special cased as gokrb5 reports the
// length of the derived keys.
func generateBaseKey(keyType int32) (types.EncryptionKey, error) {
	k := types.EncryptionKey{KeyType: keyType}

	et, err := crypto.GetEtype(keyType)
	if err != nil {
		return k, err
	}

	n := et.GetKeyByteSize()
	if keyType == etypeID.AES256_CTS_HMAC_SHA384_192 {
		n = 32
	}

	k.KeyValue = make([]byte, n)
	if _, err := rand.Read(k.KeyValue); err != nil {
		return k, err
	}

	return k, nil
}
