// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-auth/go-sasl/internal/loggable"
	"github.com/golang-auth/go-sasl/realm"
)

// Property names accepted by OptionsFromProperties.
const (
	PropQOP                = "javax.security.sasl.qop"
	PropMaxBuffer          = "javax.security.sasl.maxbuffer"
	PropServerAuth         = "javax.security.sasl.server.authentication"
	PropRelaxCompliance    = "wildfly.sasl.relax-compliance"
	PropDelegateCredential = "wildfly.sasl.gssapi.client.delegate-credential"
	PropProvider           = "go-sasl.gssapi.provider"
	PropChallengeDir       = "wildfly.sasl.local-user.challenge-path"
	PropDefaultUser        = "wildfly.sasl.local-user.default-user"
	PropDigestRealm        = "com.sun.security.sasl.digest.realm"
)

// MaxBufferLimit is the largest buffer size that fits the 24-bit field of
// the negotiation header.
const MaxBufferLimit = 0xFFFFFF

// Authorizer decides whether authenticationID may act as authorizationID.
type Authorizer func(authenticationID, authorizationID string) error

// MechConfig holds the configuration shared by all mechanisms.  Mechanisms
// ignore the fields that do not apply to them.
type MechConfig struct {
	Logger loggable.Loggable

	Service    string // service name, eg. "imap"
	ServerFQDN string // host name of the server

	QOP               []QOP  // QOP preferences, most preferred first
	MaxReceiveBuffer  uint32 // advertised receive buffer, 0 for the effective size
	RelaxedCompliance bool   // accept peers that violate the negotiation rules

	AuthorizationID string // identity to act as, empty for the authenticated identity
	Username        string
	Password        string

	ServerAuth         bool  // require the server to authenticate to the client
	DelegateCredential *bool // override the credential delegation default

	Provider       ContextProvider // trust context provider, nil for ProviderName
	ProviderName   string          // registered provider name, default "krb5"
	Credential     Credential
	ChannelBinding *ChannelBinding

	Realm      realm.Realm
	Authorizer Authorizer

	DigestRealm  string // DIGEST-MD5 realm
	ChallengeDir string // JBOSS-LOCAL-USER challenge directory
	DefaultUser  string // JBOSS-LOCAL-USER identity used when the client sends none
	Trace        string // ANONYMOUS trace information
}

// Option configures a MechConfig.
type Option func(c *MechConfig)

// NewConfig returns a configuration with defaults applied.
func NewConfig(opts ...Option) MechConfig {
	c := MechConfig{
		Logger:       loggable.Nop(),
		QOP:          append([]QOP(nil), DefaultQOP...),
		ProviderName: "krb5",
	}

	for _, o := range opts {
		o(&c)
	}

	if c.Logger == nil {
		c.Logger = loggable.Nop()
	}

	return c
}

// ContextProvider returns the configured provider, looking it up by name in
// the registry if one was not supplied directly.
func (c MechConfig) ContextProvider() (ContextProvider, error) {
	if c.Provider != nil {
		return c.Provider, nil
	}

	return NewProvider(c.ProviderName)
}

// WithLogger sets the logger.
func WithLogger(l loggable.Loggable) Option {
	return func(c *MechConfig) {
		c.Logger = l
	}
}

// WithService sets the service name and server host name.
func WithService(service, serverFQDN string) Option {
	return func(c *MechConfig) {
		c.Service = service
		c.ServerFQDN = serverFQDN
	}
}

// WithQOP sets the QOP preferences, most preferred first.
func WithQOP(qops ...QOP) Option {
	return func(c *MechConfig) {
		c.QOP = append([]QOP(nil), qops...)
	}
}

// WithMaxReceiveBuffer sets the receive buffer size advertised to the peer.
// Values larger than MaxBufferLimit are clamped.
func WithMaxReceiveBuffer(n uint32) Option {
	return func(c *MechConfig) {
		c.MaxReceiveBuffer = min(n, MaxBufferLimit)
	}
}

// WithRelaxedCompliance suppresses the checks that reject peers that do not
// follow the negotiation rules to the letter.
func WithRelaxedCompliance(relaxed bool) Option {
	return func(c *MechConfig) {
		c.RelaxedCompliance = relaxed
	}
}

// WithAuthorizationID sets the identity the client asks to act as.
func WithAuthorizationID(id string) Option {
	return func(c *MechConfig) {
		c.AuthorizationID = id
	}
}

// WithCredentials sets the client's user name and password.
func WithCredentials(username, password string) Option {
	return func(c *MechConfig) {
		c.Username = username
		c.Password = password
	}
}

// WithServerAuth requires mutual authentication.
func WithServerAuth(required bool) Option {
	return func(c *MechConfig) {
		c.ServerAuth = required
	}
}

// WithDelegateCredential overrides whether credentials are delegated to the
// server.  By default they are delegated iff a credential was supplied.
func WithDelegateCredential(delegate bool) Option {
	return func(c *MechConfig) {
		c.DelegateCredential = &delegate
	}
}

// WithProvider sets the trust context provider.
func WithProvider(p ContextProvider) Option {
	return func(c *MechConfig) {
		c.Provider = p
	}
}

// WithProviderName selects a registered trust context provider.
func WithProviderName(name string) Option {
	return func(c *MechConfig) {
		c.ProviderName = name
	}
}

// WithCredential supplies a provider specific credential.
func WithCredential(cred Credential) Option {
	return func(c *MechConfig) {
		c.Credential = cred
	}
}

// WithChannelBinding supplies channel binding information.
func WithChannelBinding(cb *ChannelBinding) Option {
	return func(c *MechConfig) {
		c.ChannelBinding = cb
	}
}

// WithRealm sets the realm used by server mechanisms.
func WithRealm(r realm.Realm) Option {
	return func(c *MechConfig) {
		c.Realm = r
	}
}

// WithAuthorizer sets the authorization check used by server mechanisms.
func WithAuthorizer(a Authorizer) Option {
	return func(c *MechConfig) {
		c.Authorizer = a
	}
}

// WithDigestRealm sets the DIGEST-MD5 realm.
func WithDigestRealm(name string) Option {
	return func(c *MechConfig) {
		c.DigestRealm = name
	}
}

// WithChallengeDir sets the directory JBOSS-LOCAL-USER challenges are
// written to.
func WithChallengeDir(dir string) Option {
	return func(c *MechConfig) {
		c.ChallengeDir = dir
	}
}

// WithDefaultUser sets the identity JBOSS-LOCAL-USER authenticates when the
// client does not name one.
func WithDefaultUser(name string) Option {
	return func(c *MechConfig) {
		c.DefaultUser = name
	}
}

// WithTrace sets the ANONYMOUS trace information.
func WithTrace(trace string) Option {
	return func(c *MechConfig) {
		c.Trace = trace
	}
}

// OptionsFromProperties converts a property map, as used by the Java SASL
// API, into options.  Unknown properties are ignored.
func OptionsFromProperties(props map[string]string) ([]Option, error) {
	var opts []Option

	if v, ok := props[PropQOP]; ok {
		qops, err := ParseQOPList(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithQOP(qops...))
	}

	if v, ok := props[PropMaxBuffer]; ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("sasl: %s: %w", PropMaxBuffer, err)
		}
		opts = append(opts, WithMaxReceiveBuffer(uint32(n)))
	}

	for _, b := range []struct {
		prop string
		opt  func(bool) Option
	}{
		{PropServerAuth, WithServerAuth},
		{PropRelaxCompliance, WithRelaxedCompliance},
		{PropDelegateCredential, WithDelegateCredential},
	} {
		v, ok := props[b.prop]
		if !ok {
			continue
		}
		opts = append(opts, b.opt(parseBool(v)))
	}

	if v, ok := props[PropProvider]; ok {
		opts = append(opts, WithProviderName(v))
	}
	if v, ok := props[PropChallengeDir]; ok {
		opts = append(opts, WithChallengeDir(v))
	}
	if v, ok := props[PropDefaultUser]; ok {
		opts = append(opts, WithDefaultUser(v))
	}
	if v, ok := props[PropDigestRealm]; ok {
		opts = append(opts, WithDigestRealm(v))
	}

	return opts, nil
}

// Anything other than "true" is false.
func parseBool(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
