// SPDX-License-Identifier: Apache-2.0

package sasl

import "strings"

// ContextFlag is a service requested from, or reported by, a trust context.
// The GSSAPI mechanism derives the flags it requests from the configured QOP
// preferences and checks the established flags against the QOP it selects
// (see QOP.CompatibleWith).
type ContextFlag uint32

// Trust context flags.
const (
	// ContextFlagDeleg forwards the client credential to the server.  It is
	// requested when a credential is supplied unless WithDelegateCredential
	// turns it off.
	ContextFlagDeleg ContextFlag = 1 << iota

	// ContextFlagMutual makes the server authenticate to the client.  It is
	// requested for server authentication and whenever a security layer
	// may be negotiated.
	ContextFlagMutual

	// ContextFlagReplay detects replayed wrapped messages.
	ContextFlagReplay

	// ContextFlagSequence detects out of order wrapped messages.  It is
	// requested whenever a security layer may be negotiated.
	ContextFlagSequence

	// ContextFlagConf is needed for the auth-conf QOP.
	ContextFlagConf

	// ContextFlagInteg is always requested: the security layer negotiation
	// message is itself wrapped with integrity protection, and auth-int
	// needs it afterwards.
	ContextFlagInteg
)

// FlagList returns the individual flags set in f.
func FlagList(f ContextFlag) (fl []ContextFlag) {
	t := ContextFlag(1)
	for i := 0; i < 32; i++ {
		if f&t != 0 {
			fl = append(fl, t)
		}

		t <<= 1
	}

	return
}

// FlagName names a single flag for log messages.
func FlagName(f ContextFlag) string {
	switch f {
	case ContextFlagDeleg:
		return "Delegation"
	case ContextFlagMutual:
		return "Mutual authentication"
	case ContextFlagReplay:
		return "Message replay detection"
	case ContextFlagSequence:
		return "Out of sequence message detection"
	case ContextFlagConf:
		return "Confidentiality"
	case ContextFlagInteg:
		return "Integrity"
	}

	return "Unknown"
}

func (f ContextFlag) String() string {
	names := []string{}
	for _, fl := range FlagList(f) {
		names = append(names, FlagName(fl))
	}

	return strings.Join(names, ", ")
}

// Integrity reports whether wrapped messages can be integrity protected,
// which both security layers and the negotiation message rely on.
func (f ContextFlag) Integrity() bool {
	return f&ContextFlagInteg != 0
}

// Confidentiality reports whether wrapped messages can be sealed, as the
// auth-conf QOP requires.
func (f ContextFlag) Confidentiality() bool {
	return f&ContextFlagConf != 0
}
