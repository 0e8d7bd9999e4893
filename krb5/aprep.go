// SPDX-License-Identifier: Apache-2.0

package krb5

/*
 * Derived from github.com/jcmturner/gokrb5/v8/messages/APRep.go, which
 * cannot marshal AP-REP messages.
 */

import (
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/krberror"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// apRep is KRB_AP_REP, RFC 4120 § 5.5.2.
type apRep struct {
	PVNO    int                 `asn1:"explicit,tag:0"`
	MsgType int                 `asn1:"explicit,tag:1"`
	EncPart types.EncryptedData `asn1:"explicit,tag:2"`
}

// encAPRepPart is the encrypted part of KRB_AP_REP.
type encAPRepPart struct {
	CTime          time.Time           `asn1:"generalized,explicit,tag:0"`
	Cusec          int                 `asn1:"explicit,tag:1"`
	Subkey         types.EncryptionKey `asn1:"optional,explicit,tag:2"`
	SequenceNumber int64               `asn1:"optional,explicit,tag:3"`
}

func newAPRep(tkt messages.Ticket, sessionKey types.EncryptionKey, part encAPRepPart) (apRep, error) {
	b, err := part.marshal()
	if err != nil {
		return apRep{}, krberror.Errorf(err, krberror.EncodingError, "marshalling AP-REP enc-part")
	}

	ed, err := crypto.GetEncryptedData(b, sessionKey, uint32(keyusage.AP_REP_ENCPART), tkt.EncPart.KVNO)
	if err != nil {
		return apRep{}, krberror.Errorf(err, krberror.EncryptingError, "encrypting AP-REP enc-part")
	}

	return apRep{
		PVNO:    iana.PVNO,
		MsgType: msgtype.KRB_AP_REP,
		EncPart: ed,
	}, nil
}

func (a *apRep) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*a)
	if err != nil {
		return nil, err
	}

	return asn1tools.AddASNAppTag(b, asnAppTag.APREP), nil
}

func (a *apRep) unmarshal(b []byte) error {
	if _, err := asn1.UnmarshalWithParams(b, a, fmt.Sprintf("application,explicit,tag:%d", asnAppTag.APREP)); err != nil {
		// the peer may have sent a KRB-ERROR instead
		var se asn1.StructuralError
		if errors.As(err, &se) {
			var ke messages.KRBError
			if ke.Unmarshal(b) == nil {
				return ke
			}
		}
		return krberror.Errorf(err, krberror.EncodingError, "AP-REP unmarshal error")
	}

	if a.MsgType != msgtype.KRB_AP_REP {
		return krberror.NewErrorf(krberror.KRBMsgError, "message ID does not indicate a KRB_AP_REP. Expected: %v; Actual: %v", msgtype.KRB_AP_REP, a.MsgType)
	}

	return nil
}

func (a *apRep) decryptEncPart(sessionKey types.EncryptionKey) (part encAPRepPart, err error) {
	b, err := crypto.DecryptEncPart(a.EncPart, sessionKey, uint32(keyusage.AP_REP_ENCPART))
	if err != nil {
		return part, krberror.Errorf(err, krberror.DecryptingError, "decrypting AP-REP enc-part")
	}

	if err := part.unmarshal(b); err != nil {
		return part, krberror.Errorf(err, krberror.EncodingError, "unmarshalling decrypted AP-REP enc-part")
	}

	return part, nil
}

func (p *encAPRepPart) marshal() ([]byte, error) {
	b, err := asn1.Marshal(*p)
	if err != nil {
		return nil, err
	}

	return asn1tools.AddASNAppTag(b, asnAppTag.EncAPRepPart), nil
}

func (p *encAPRepPart) unmarshal(b []byte) error {
	if _, err := asn1.UnmarshalWithParams(b, p, fmt.Sprintf("application,explicit,tag:%d", asnAppTag.EncAPRepPart)); err != nil {
		return krberror.Errorf(err, krberror.EncodingError, "AP-REP enc-part unmarshal error")
	}

	return nil
}
