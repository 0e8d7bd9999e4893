// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	ianaerrcode "github.com/jcmturner/gokrb5/v8/iana/errorcode"
	ianaflags "github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

// services the mechanism can provide; delegation is not supported
const supportedFlags = sasl.ContextFlagConf | sasl.ContextFlagInteg | sasl.ContextFlagMutual |
	sasl.ContextFlagReplay | sasl.ContextFlagSequence

// secContext is one side of a Kerberos V security context (RFC 4121).
type secContext struct {
	log loggable.Loggable

	isInitiator      bool
	isEstablished    bool
	waitingForMutual bool
	released         bool

	// initiator
	krbClient  *client.Client
	ownsClient bool
	cname      types.PrincipalName
	crealm     string

	// acceptor
	keytab *keytab.Keytab
	skew   time.Duration

	isn            AcceptorISN
	channelBinding *sasl.ChannelBinding

	ticket      *messages.Ticket
	sessionKey  *types.EncryptionKey
	clientCTime time.Time
	clientCusec int

	sessionFlags sasl.ContextFlag
	requestFlags sasl.ContextFlag

	ourSequenceNumber   uint64
	theirSequenceNumber uint64
	initiatorSubKey     *types.EncryptionKey
	acceptorSubKey      *types.EncryptionKey
	peerName            string
}

func (c *secContext) initiate(flags sasl.ContextFlag) {
	// mutual is added once it completes
	c.sessionFlags = supportedFlags &^ sasl.ContextFlagMutual
	c.requestFlags = flags & supportedFlags
}

func (c *secContext) accept() {
	// narrowed to the initiator's request once the AP-REQ arrives
	c.sessionFlags = supportedFlags &^ sasl.ContextFlagMutual
}

func (c *secContext) IsEstablished() bool {
	return c.isEstablished
}

func (c *secContext) ContextFlags() sasl.ContextFlag {
	return c.sessionFlags
}

func (c *secContext) PeerName() string {
	return c.peerName
}

// Release destroys the Kerberos client if the context created it and
// forgets the keys.
func (c *secContext) Release() error {
	if c.released {
		return nil
	}
	c.released = true

	if c.krbClient != nil && c.ownsClient {
		c.krbClient.Destroy()
	}

	keys := []*types.EncryptionKey{c.initiatorSubKey, c.acceptorSubKey}
	// the session key of a caller supplied client is still in its cache
	if !c.isInitiator || c.ownsClient {
		keys = append(keys, c.sessionKey)
	}
	for _, k := range keys {
		if k != nil {
			clear(k.KeyValue)
		}
	}
	c.sessionKey, c.initiatorSubKey, c.acceptorSubKey = nil, nil, nil

	return nil
}

// protocolKey returns the key that protects messages: the acceptor subkey if
// one was negotiated, then the initiator subkey, then the session key.
func (c *secContext) protocolKey() (key *types.EncryptionKey, fromAcceptor bool) {
	switch {
	case c.acceptorSubKey != nil:
		return c.acceptorSubKey, true
	case c.initiatorSubKey != nil:
		return c.initiatorSubKey, false
	}

	return c.sessionKey, false
}

// SSF returns the security strength factor of the protocol key.
func (c *secContext) SSF() uint {
	key, _ := c.protocolKey()
	if key == nil {
		return 0
	}

	return keySSF(key.KeyType)
}

// WrapSizeLimit is ported from MIT Kerberos 1.16
// (src/lib/gssapi/krb5/wrap_size_limit.c).
func (c *secContext) WrapSizeLimit(conf bool, maxOutput uint32) (uint32, error) {
	key, _ := c.protocolKey()
	if !c.isEstablished || key == nil {
		return 0, errors.New("krb5: context not established")
	}

	if conf {
		// shrink the message until the sealed token, including the token
		// header and the encrypted copy of it, fits
		sz := maxOutput
		for sz > 0 && msgTokenHdrLen+encryptedLength(key.KeyType, sz) > maxOutput {
			sz--
		}
		if sz <= msgTokenHdrLen {
			return 0, nil
		}

		return sz - msgTokenHdrLen, nil
	}

	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return 0, fmt.Errorf("krb5: %w", err)
	}

	overhead := uint32(msgTokenHdrLen + et.GetHMACBitLength()/8)
	if maxOutput < overhead {
		return 0, nil
	}

	return maxOutput - overhead, nil
}

// Continue advances context establishment.
func (c *secContext) Continue(tokenIn []byte) ([]byte, error) {
	if c.released {
		return nil, errors.New("krb5: context has been released")
	}
	if c.isEstablished {
		return nil, nil
	}

	if c.isInitiator {
		return c.continueInitiator(tokenIn)
	}

	return c.continueAcceptor(tokenIn)
}

func (c *secContext) continueInitiator(tokenIn []byte) ([]byte, error) {
	if len(tokenIn) == 0 {
		if c.waitingForMutual {
			return nil, errors.New("krb5: expected an AP-REP from the acceptor")
		}

		apreq, err := c.newAPReq()
		if err != nil {
			return nil, err
		}

		out, err := (&contextToken{id: tokAPReq, apReq: &apreq}).marshal()
		if err != nil {
			return nil, err
		}

		if c.requestFlags&sasl.ContextFlagMutual != 0 {
			c.waitingForMutual = true
			return out, nil
		}

		// without mutual authentication the acceptor can't tell us its
		// sequence number; see https://bugs.openjdk.java.net/browse/JDK-8201814
		if c.theirSequenceNumber, err = c.isn.acceptorSequence(c.ourSequenceNumber); err != nil {
			return nil, err
		}
		c.established()

		return out, nil
	}

	if !c.waitingForMutual {
		return nil, errors.New("krb5: unexpected token from the acceptor")
	}

	tok := contextToken{}
	if err := tok.unmarshal(tokenIn); err != nil {
		return nil, err
	}

	switch {
	case tok.krbError != nil:
		return nil, fmt.Errorf("krb5: acceptor returned an error: %w", *tok.krbError)
	case tok.apRep == nil:
		return nil, errors.New("krb5: context token does not contain an AP-REP message")
	}

	part, err := tok.apRep.decryptEncPart(*c.sessionKey)
	if err != nil {
		return nil, fmt.Errorf("krb5: %w", err)
	}

	// time.Equal fails on the monotonic clock reading in clientCTime
	if part.CTime.Unix() != c.clientCTime.Unix() || part.Cusec != c.clientCusec {
		return nil, errors.New("krb5: mutual authentication failed")
	}

	c.theirSequenceNumber = uint64(part.SequenceNumber)
	if part.Subkey.KeyType != 0 {
		c.acceptorSubKey = &part.Subkey
	}

	c.waitingForMutual = false
	c.sessionFlags |= sasl.ContextFlagMutual
	c.established()

	return nil, nil
}

func (c *secContext) continueAcceptor(tokenIn []byte) ([]byte, error) {
	tok := contextToken{}
	if err := tok.unmarshal(tokenIn); err != nil {
		return nil, err
	}

	switch {
	case tok.krbError != nil:
		return nil, fmt.Errorf("krb5: initiator sent an error: %w", *tok.krbError)
	case tok.apReq == nil && tok.apRep == nil:
		// RFC 4121 § 4.1: unknown token IDs get a KRB-ERROR
		return krbErrorToken(messages.NewKRBError(types.PrincipalName{}, "", ianaerrcode.KRB_AP_ERR_MSG_TYPE, "unexpected context token"))
	case tok.apReq == nil:
		return nil, errors.New("krb5: context token does not contain an AP-REQ message")
	}

	apreq := tok.apReq
	if krbErr := c.verifyAPReq(apreq); krbErr != nil {
		return krbErrorToken(*krbErr)
	}

	auth := apreq.Authenticator
	c.theirSequenceNumber = uint64(auth.SeqNumber)
	c.clientCTime = auth.CTime
	c.clientCusec = auth.Cusec

	c.ticket = &apreq.Ticket
	c.sessionKey = &apreq.Ticket.DecryptedEncPart.Key
	if auth.SubKey.KeyType != 0 {
		c.initiatorSubKey = &auth.SubKey
	}

	requested := sasl.ContextFlag(binary.LittleEndian.Uint32(auth.Cksum.Checksum[20:24]))
	c.sessionFlags &= requested
	c.peerName = fmt.Sprintf("%s@%s",
		apreq.Ticket.DecryptedEncPart.CName.PrincipalNameString(),
		apreq.Ticket.DecryptedEncPart.CRealm)

	if !types.IsFlagSet(&apreq.APOptions, ianaflags.APOptionMutualRequired) {
		var err error
		if c.ourSequenceNumber, err = c.isn.acceptorSequence(c.theirSequenceNumber); err != nil {
			return nil, err
		}
		c.established()

		return nil, nil
	}

	aprep, err := c.newAPRep()
	if err != nil {
		return nil, err
	}

	out, err := (&contextToken{id: tokAPRep, apRep: &aprep}).marshal()
	if err != nil {
		return nil, err
	}

	c.sessionFlags |= sasl.ContextFlagMutual
	c.established()

	return out, nil
}

func (c *secContext) established() {
	c.isEstablished = true
	c.log.Debugf("context established with %s, flags [%s], SSF %d", c.peerName, c.sessionFlags, c.SSF())
}

func (isn AcceptorISN) acceptorSequence(initiatorSeq uint64) (uint64, error) {
	switch isn {
	case AcceptorISNInitiator:
		return initiatorSeq, nil
	case AcceptorISNZero:
		return 0, nil
	}

	return 0, fmt.Errorf("krb5: unknown acceptor initial sequence number policy %d", isn)
}

func (c *secContext) newAPReq() (messages.APReq, error) {
	auth, err := types.NewAuthenticator(c.crealm, c.cname)
	if err != nil {
		return messages.APReq{}, fmt.Errorf("krb5: generating authenticator: %w", err)
	}

	// MIT compatibility
	auth.SeqNumber &= 0x3fffffff

	auth.Cksum = types.Checksum{
		CksumType: chksumtype.GSSAPI,
		Checksum:  newAuthenticatorChksum(c.requestFlags, c.channelBinding),
	}

	apreq, err := messages.NewAPReq(*c.ticket, *c.sessionKey, auth)
	if err != nil {
		return messages.APReq{}, fmt.Errorf("krb5: %w", err)
	}

	if c.requestFlags&sasl.ContextFlagMutual != 0 {
		types.SetFlag(&apreq.APOptions, ianaflags.APOptionMutualRequired)
	}

	// Authenticator.SeqNumber is a 32 bit number in the protocol
	c.ourSequenceNumber = uint64(auth.SeqNumber)
	c.clientCTime = auth.CTime
	c.clientCusec = auth.Cusec

	return apreq, nil
}

func (c *secContext) newAPRep() (apRep, error) {
	seq, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		return apRep{}, err
	}

	// Older MIT releases use signed sequence numbers, so keep the initial
	// sequence number below 2^30.
	seqNum := seq.Int64() & 0x3fffffff

	base := c.sessionKey
	if c.initiatorSubKey != nil {
		base = c.initiatorSubKey
	}
	subkey, err := generateBaseKey(base.KeyType)
	if err != nil {
		return apRep{}, fmt.Errorf("krb5: generating acceptor subkey: %w", err)
	}

	aprep, err := newAPRep(*c.ticket, *c.sessionKey, encAPRepPart{
		CTime:          c.clientCTime,
		Cusec:          c.clientCusec,
		Subkey:         subkey,
		SequenceNumber: seqNum,
	})
	if err != nil {
		return apRep{}, fmt.Errorf("krb5: %w", err)
	}

	c.ourSequenceNumber = uint64(seqNum)
	c.acceptorSubKey = &subkey

	return aprep, nil
}

// verifyAPReq checks the ticket and authenticator, returning the KRB-ERROR to
// send to the initiator on failure.  Addresses are not checked.
func (c *secContext) verifyAPReq(apreq *messages.APReq) *messages.KRBError {
	fail := func(code int32, text string) *messages.KRBError {
		c.log.Warnf("rejecting AP-REQ: %s", text)
		ke := messages.NewKRBError(apreq.Ticket.SName, apreq.Ticket.Realm, code, text)
		return &ke
	}

	if err := apreq.Ticket.DecryptEncPart(c.keytab, &apreq.Ticket.SName); err != nil {
		var ke messages.KRBError
		if errors.As(err, &ke) {
			return &ke
		}
		return fail(ianaerrcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt ticket")
	}

	if ok, err := apreq.Ticket.Valid(c.skew); err != nil || !ok {
		var ke messages.KRBError
		if errors.As(err, &ke) {
			return &ke
		}
		return fail(ianaerrcode.KRB_AP_ERR_TKT_EXPIRED, "ticket is not valid")
	}

	if err := apreq.DecryptAuthenticator(apreq.Ticket.DecryptedEncPart.Key); err != nil {
		return fail(ianaerrcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt authenticator")
	}

	auth := apreq.Authenticator
	switch {
	case auth.Cksum.CksumType != chksumtype.GSSAPI:
		return fail(ianaerrcode.KRB_AP_ERR_BADMATCH, "wrong authenticator checksum type")
	case len(auth.Cksum.Checksum) < 24:
		return fail(ianaerrcode.KRB_AP_ERR_BADMATCH, "authenticator checksum too short")
	case !auth.CName.Equal(apreq.Ticket.DecryptedEncPart.CName):
		return fail(ianaerrcode.KRB_AP_ERR_BADMATCH, "CName in authenticator does not match the ticket")
	}

	ct := auth.CTime.Add(time.Duration(auth.Cusec) * time.Microsecond)
	if d := time.Since(ct); d > c.skew || -d > c.skew {
		return fail(ianaerrcode.KRB_AP_ERR_SKEW, fmt.Sprintf("clock skew with client greater than %v", c.skew))
	}

	// an initiator without bindings sends zeros
	if c.channelBinding != nil {
		theirs := auth.Cksum.Checksum[4:20]
		if !bytes.Equal(theirs, make([]byte, 16)) && !bytes.Equal(theirs, cbChecksum(c.channelBinding)) {
			return fail(ianaerrcode.KRB_AP_ERR_BADMATCH, "channel bindings do not match")
		}
	}

	return nil
}

// Wrap protects msg in an RFC 4121 wrap token, sealing it if conf is set.
func (c *secContext) Wrap(msg []byte, conf bool) ([]byte, error) {
	if !c.isEstablished || c.released {
		return nil, errors.New("krb5: context not established")
	}
	if conf && !c.sessionFlags.Confidentiality() {
		return nil, errors.New("krb5: confidentiality not available")
	}

	key, acceptorKey := c.protocolKey()

	wt := wrapToken{
		SequenceNumber: c.ourSequenceNumber,
		Payload:        append(make([]byte, 0, len(msg)), msg...),
	}
	if !c.isInitiator {
		wt.Flags |= tokenFlagSentByAcceptor
	}
	if acceptorKey {
		wt.Flags |= tokenFlagAcceptorSubkey
	}

	var err error
	if conf {
		wt.Flags |= tokenFlagSealed
		err = wt.seal(*key)
	} else {
		err = wt.sign(*key)
	}
	if err != nil {
		return nil, err
	}

	c.ourSequenceNumber++
	return wt.marshal()
}

// Unwrap verifies a wrap token from the peer and returns its payload.
func (c *secContext) Unwrap(token []byte) ([]byte, bool, error) {
	if !c.isEstablished || c.released {
		return nil, false, errors.New("krb5: context not established")
	}

	wt := wrapToken{}
	if err := wt.unmarshal(token); err != nil {
		return nil, false, err
	}

	key := c.sessionKey
	switch {
	case wt.Flags&tokenFlagAcceptorSubkey != 0:
		if c.acceptorSubKey == nil {
			return nil, false, errors.New("krb5: acceptor subkey not negotiated, cannot unwrap message")
		}
		key = c.acceptorSubKey
	case c.initiatorSubKey != nil:
		key = c.initiatorSubKey
	}

	sealed, err := wt.verifyAndDecode(*key, c.isInitiator)
	if err != nil {
		return nil, false, err
	}

	if c.sessionFlags&(sasl.ContextFlagReplay|sasl.ContextFlagSequence) != 0 && wt.SequenceNumber != c.theirSequenceNumber {
		return nil, false, fmt.Errorf("krb5: bad sequence number from peer, got %d, wanted %d", wt.SequenceNumber, c.theirSequenceNumber)
	}
	c.theirSequenceNumber++

	return wt.Payload, sealed, nil
}
