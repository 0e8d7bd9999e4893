// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/test/testdata"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
	"github.com/golang-auth/go-sasl/test"
)

// Sample data from MIT Kerberos 1.19.1 (src/tests/asn.1/ktest.h)
const (
	sampleUsec          = 123456
	sampleSeqNumber     = 17
	sampleFlags         = 0xFEDCBA98
	sampleError         = 0x3C
	samplePrincipalName = "hftsai/extra@ATHENA.MIT.EDU"
	sampleData          = "krb5data"
)

// from kadmin:
//
//	ank -kvno 123 -pw password -e test test
//	ktadd -k test.kt -norandkey test
const testAES256Key = "93860ea9a3961f58f1e1370286c720ab8da6574cacb26396f7de6ebfbbfd00a0"

func sampleAESKey() types.EncryptionKey {
	b, _ := hex.DecodeString(testAES256Key)
	return types.EncryptionKey{
		KeyType:  etypeID.AES256_CTS_HMAC_SHA1_96,
		KeyValue: b,
	}
}

func sampleEncData() types.EncryptedData {
	return types.EncryptedData{
		EType:  0,
		KVNO:   5,
		Cipher: []byte(testdata.TEST_CIPHERTEXT),
	}
}

func sampleKeyblock() types.EncryptionKey {
	return types.EncryptionKey{
		KeyType:  1,
		KeyValue: []byte("12345678"),
	}
}

func sampleAPRepEncPart() encAPRepPart {
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	return encAPRepPart{
		CTime:          tm,
		Cusec:          sampleUsec,
		Subkey:         sampleKeyblock(),
		SequenceNumber: sampleSeqNumber,
	}
}

func sampleTicket() messages.Ticket {
	pn, realm := types.ParseSPNString(samplePrincipalName)
	return messages.Ticket{
		TktVNO:  5,
		Realm:   realm,
		SName:   pn,
		EncPart: sampleEncData(),
	}
}

func sampleAPReq() messages.APReq {
	apreq := messages.APReq{
		PVNO:                   5,
		MsgType:                msgtype.KRB_AP_REQ,
		APOptions:              types.NewKrbFlags(),
		Ticket:                 sampleTicket(),
		EncryptedAuthenticator: sampleEncData(),
	}
	binary.BigEndian.PutUint32(apreq.APOptions.Bytes, sampleFlags)

	return apreq
}

func sampleAPRep() apRep {
	return apRep{
		PVNO:    5,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: sampleEncData(),
	}
}

func sampleKRBError() messages.KRBError {
	pn, realm := types.ParseSPNString(samplePrincipalName)
	tm, _ := time.Parse(testdata.TEST_TIME_FORMAT, testdata.TEST_TIME)
	return messages.KRBError{
		PVNO:      5,
		MsgType:   msgtype.KRB_ERROR,
		CTime:     tm,
		Cusec:     sampleUsec,
		STime:     tm,
		Susec:     sampleUsec,
		ErrorCode: sampleError,
		CRealm:    realm,
		CName:     pn,
		Realm:     realm,
		SName:     pn,
		EText:     sampleData,
		EData:     []byte(sampleData),
	}
}

const (
	testRealm   = "EXAMPLE.COM"
	testService = "sasl/server.example.com"
)

// testTicket issues a service ticket for alice@EXAMPLE.COM, encrypted with a
// key from a new keytab.
func testTicket(t *testing.T, etype int32) (*keytab.Keytab, messages.Ticket, types.EncryptionKey) {
	assert := test.NewAssert(t)

	kt := keytab.New()
	assert.NoErrorFatal(kt.AddEntry(testService, testRealm, "service password", time.Now(), 1, etype))

	now := time.Now().UTC()
	tkt, key, err := messages.NewTicket(
		types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, "alice"), testRealm,
		types.NewPrincipalName(nametype.KRB_NT_SRV_HST, testService), testRealm,
		types.NewKrbFlags(), kt, etype, 1,
		now, now, now.Add(time.Hour), now.Add(time.Hour))
	assert.NoErrorFatal(err)

	return kt, tkt, key
}

// contextPair returns an initiator and an acceptor for the same ticket.
func contextPair(t *testing.T, etype int32, flags sasl.ContextFlag, cb *sasl.ChannelBinding) (initiator, acceptor *secContext) {
	kt, tkt, key := testTicket(t, etype)

	initiator = &secContext{
		log:            loggable.Nop(),
		isInitiator:    true,
		cname:          types.NewPrincipalName(nametype.KRB_NT_PRINCIPAL, "alice"),
		crealm:         testRealm,
		ticket:         &tkt,
		sessionKey:     &key,
		channelBinding: cb,
		peerName:       testService + "@" + testRealm,
	}
	initiator.initiate(flags)

	acceptor = &secContext{
		log:            loggable.Nop(),
		keytab:         kt,
		skew:           DefaultClockSkew,
		channelBinding: cb,
	}
	acceptor.accept()

	return initiator, acceptor
}

// establish runs context establishment to completion.
func establish(t *testing.T, initiator, acceptor *secContext) {
	assert := test.NewAssert(t)

	tok, err := initiator.Continue(nil)
	assert.NoErrorFatal(err)

	tok, err = acceptor.Continue(tok)
	assert.NoErrorFatal(err)
	assert.True(acceptor.IsEstablished())

	if len(tok) > 0 {
		tok, err = initiator.Continue(tok)
		assert.NoErrorFatal(err)
		assert.Empty(tok)
	}
	assert.True(initiator.IsEstablished())
}
