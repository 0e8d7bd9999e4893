// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"fmt"
	"strings"
)

// QOP is a SASL quality of protection.  The values are the single-bit
// encodings used in the security layer negotiation header (RFC 4752 § 3.3).
type QOP uint8

const (
	QOPAuth     QOP = 0x01 // authentication only
	QOPAuthInt  QOP = 0x02 // authentication with integrity protection
	QOPAuthConf QOP = 0x04 // authentication with integrity and confidentiality protection
)

// DefaultQOP is the preference list used when the caller does not supply one.
var DefaultQOP = []QOP{QOPAuth}

func (q QOP) String() string {
	switch q {
	case QOPAuth:
		return "auth"
	case QOPAuthInt:
		return "auth-int"
	case QOPAuthConf:
		return "auth-conf"
	}

	return fmt.Sprintf("qop(%#02x)", uint8(q))
}

// IncludedBy reports whether the bit for q is set in the bitmask.
func (q QOP) IncludedBy(mask byte) bool {
	return byte(q)&mask != 0
}

// CompatibleWith reports whether a trust context with the supplied flags can
// provide q.  Confidentiality implies integrity.
func (q QOP) CompatibleWith(flags ContextFlag) bool {
	switch q {
	case QOPAuthInt:
		return flags.Integrity()
	case QOPAuthConf:
		return flags.Integrity() && flags.Confidentiality()
	}

	return true
}

// ParseQOP parses one of the names "auth", "auth-int" or "auth-conf".
func ParseQOP(s string) (QOP, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auth":
		return QOPAuth, nil
	case "auth-int":
		return QOPAuthInt, nil
	case "auth-conf":
		return QOPAuthConf, nil
	}

	return 0, fmt.Errorf("sasl: unknown QOP %q", s)
}

// ParseQOPList parses a comma separated preference list such as
// "auth-conf,auth-int,auth".  Duplicates are dropped, keeping the first.
func ParseQOPList(s string) ([]QOP, error) {
	var qops []QOP
	var seen byte

	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}

		q, err := ParseQOP(name)
		if err != nil {
			return nil, err
		}

		if q.IncludedBy(seen) {
			continue
		}
		seen |= byte(q)
		qops = append(qops, q)
	}

	if len(qops) == 0 {
		return nil, fmt.Errorf("sasl: empty QOP list %q", s)
	}

	return qops, nil
}

// QOPMask returns the negotiation bitmask for the supplied QOPs.
func QOPMask(qops ...QOP) (mask byte) {
	for _, q := range qops {
		mask |= byte(q)
	}

	return
}

// QOPsIn lists the QOPs set in mask, weakest first.
func QOPsIn(mask byte) (qops []QOP) {
	for _, q := range []QOP{QOPAuth, QOPAuthInt, QOPAuthConf} {
		if q.IncludedBy(mask) {
			qops = append(qops, q)
		}
	}

	return
}

// FindAgreeableQOP walks prefs in order and returns the first QOP that is
// both offered by the peer and can be provided by a context with the supplied
// flags.  The error wraps ErrNoAcceptableProtectionLevel.
func FindAgreeableQOP(prefs []QOP, offered byte, flags ContextFlag) (QOP, error) {
	for _, q := range prefs {
		if q.IncludedBy(offered) && q.CompatibleWith(flags) {
			return q, nil
		}
	}

	return 0, fmt.Errorf("%w: offered %v, wanted %v", ErrNoAcceptableProtectionLevel, QOPsIn(offered), prefs)
}

// MayRequireSecurityLayer reports whether any of the preferences needs a
// protection layer.
func MayRequireSecurityLayer(prefs []QOP) bool {
	for _, q := range prefs {
		if q == QOPAuthInt || q == QOPAuthConf {
			return true
		}
	}

	return false
}
