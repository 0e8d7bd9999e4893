// SPDX-License-Identifier: Apache-2.0

/*
Package krb5 is the Kerberos V trust context provider for the GSSAPI SASL
mechanism.  It implements the context tokens and per-message tokens of
RFC 4121 on top of the gokrb5 library.

The package registers itself with the sasl provider registry as "krb5",
which is the default provider of the GSSAPI mechanism, so importing it is
usually all that is needed:

	import (
		_ "github.com/golang-auth/go-sasl/gssapi"
		_ "github.com/golang-auth/go-sasl/krb5"
	)

The registered provider reads its configuration from the usual MIT
environment variables: KRB5_CONFIG names the krb5.conf file, KRB5CCNAME the
credentials cache used by initiators and KRB5_KTNAME the keytab used by
acceptors.  Use New to build a provider with explicit settings.
*/
package krb5

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/golang-auth/go-sasl"
	"github.com/golang-auth/go-sasl/internal/loggable"
)

const providerName = "krb5"

func init() {
	sasl.RegisterProvider(providerName, func() (sasl.ContextProvider, error) {
		return New(), nil
	})
}

// AcceptorISN defines how the acceptor's initial sequence number is derived
// when the context does not use mutual authentication.  In that case the
// acceptor has no opportunity to tell the initiator its own sequence number.
type AcceptorISN int

const (
	// AcceptorISNInitiator uses the initiator's initial sequence number, for
	// compatibility with MIT and Microsoft.
	AcceptorISNInitiator AcceptorISN = iota

	// AcceptorISNZero starts the acceptor's sequence at zero, for
	// compatibility with Heimdal.
	AcceptorISNZero
)

// DefaultClockSkew is the largest tolerated difference between the clocks
// of the two peers.
const DefaultClockSkew = 10 * time.Second

// Password is an initiator credential that obtains a TGT with a password.
type Password struct {
	Principal string // user@REALM
	Password  string
}

// Keytab is an initiator or acceptor credential read from a keytab file.
// Initiators must also name the principal to use.
type Keytab struct {
	Principal string // user@REALM, initiators only
	Path      string
}

// Provider creates Kerberos V security contexts.
type Provider struct {
	confPath string
	ccPath   string
	ktPath   string
	skew     time.Duration
	isn      AcceptorISN
	log      loggable.Loggable
}

// Option configures a Provider.
type Option func(p *Provider)

// WithConfigFile sets the path to krb5.conf.
func WithConfigFile(path string) Option {
	return func(p *Provider) {
		p.confPath = path
	}
}

// WithCCache sets the path to the initiator's credentials cache.
func WithCCache(path string) Option {
	return func(p *Provider) {
		p.ccPath = strings.TrimPrefix(path, "FILE:")
	}
}

// WithKeytab sets the path to the acceptor's keytab.
func WithKeytab(path string) Option {
	return func(p *Provider) {
		p.ktPath = strings.TrimPrefix(path, "FILE:")
	}
}

// WithClockSkew sets the tolerated clock skew.  Increase it if clocks are
// poorly synchronised; decrease it where they are well synchronised.
func WithClockSkew(d time.Duration) Option {
	return func(p *Provider) {
		p.skew = d
	}
}

// WithAcceptorISN sets the acceptor initial sequence number policy.
func WithAcceptorISN(isn AcceptorISN) Option {
	return func(p *Provider) {
		p.isn = isn
	}
}

// WithLogger sets the logger.
func WithLogger(l loggable.Loggable) Option {
	return func(p *Provider) {
		p.log = l
	}
}

// New returns a provider.  Settings not supplied as options come from the
// environment or the MIT defaults.
func New(opts ...Option) *Provider {
	p := &Provider{
		confPath: krbConfFile(),
		ccPath:   krbCCFile(),
		ktPath:   krbKtFile(),
		skew:     DefaultClockSkew,
		isn:      AcceptorISNInitiator,
	}

	for _, o := range opts {
		o(p)
	}

	p.log = loggable.Named(p.log, "krb5")
	return p
}

// Name implements sasl.ContextProvider.
func (p *Provider) Name() string {
	return providerName
}

// InitSecContext obtains a service ticket for target and returns an
// initiator context.  target is a host based service name, service@host.
//
// The credential may be a logged in *client.Client, a Password or a Keytab.
// Without one, the credentials cache is used.
func (p *Provider) InitSecContext(target string, opts ...sasl.InitSecContextOption) (sasl.SecurityContext, error) {
	o := sasl.InitSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	spn, err := serviceSPN(target)
	if err != nil {
		return nil, err
	}

	cl, owned, err := p.client(o.Credential)
	if err != nil {
		return nil, err
	}

	if err := cl.AffirmLogin(); err != nil {
		if owned {
			cl.Destroy()
		}
		return nil, fmt.Errorf("krb5: checking TGT: %w", err)
	}

	tkt, key, err := cl.GetServiceTicket(spn)
	if err != nil {
		if owned {
			cl.Destroy()
		}
		return nil, fmt.Errorf("krb5: getting service ticket for %q: %w", spn, err)
	}
	p.log.Debugf("obtained ticket for %s", spn)

	c := &secContext{
		log:            p.log,
		isInitiator:    true,
		krbClient:      cl,
		ownsClient:     owned,
		cname:          cl.Credentials.CName(),
		crealm:         cl.Credentials.Domain(),
		ticket:         &tkt,
		sessionKey:     &key,
		channelBinding: o.ChannelBinding,
		isn:            p.isn,
		peerName:       fmt.Sprintf("%s@%s", tkt.SName.PrincipalNameString(), tkt.Realm),
	}
	c.initiate(o.Flags)

	return c, nil
}

// AcceptSecContext returns an acceptor context.  The credential may be a
// *keytab.Keytab or a Keytab naming the file; without one the provider's
// keytab is used.
func (p *Provider) AcceptSecContext(opts ...sasl.AcceptSecContextOption) (sasl.SecurityContext, error) {
	o := sasl.AcceptSecContextOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	var kt *keytab.Keytab
	var err error

	switch cred := o.Credential.(type) {
	case nil:
		kt, err = keytab.Load(p.ktPath)
	case *keytab.Keytab:
		kt = cred
	case Keytab:
		kt, err = keytab.Load(cred.Path)
	default:
		return nil, fmt.Errorf("krb5: unsupported acceptor credential %T", o.Credential)
	}
	if err != nil {
		return nil, fmt.Errorf("krb5: loading keytab: %w", err)
	}

	c := &secContext{
		log:            p.log,
		keytab:         kt,
		skew:           p.skew,
		isn:            p.isn,
		channelBinding: o.ChannelBinding,
	}
	c.accept()

	return c, nil
}

func (p *Provider) client(cred sasl.Credential) (cl *client.Client, owned bool, err error) {
	if cl, ok := cred.(*client.Client); ok {
		return cl, false, nil
	}

	cfg, err := config.Load(p.confPath)
	if err != nil {
		return nil, false, fmt.Errorf("krb5: loading krb5.conf: %w", err)
	}

	switch c := cred.(type) {
	case nil:
		ccache, err := credentials.LoadCCache(p.ccPath)
		if err != nil {
			return nil, false, fmt.Errorf("krb5: loading credentials cache: %w", err)
		}
		cl, err = client.NewFromCCache(ccache, cfg)
		if err != nil {
			return nil, false, fmt.Errorf("krb5: creating client: %w", err)
		}
	case Password:
		user, realm, err := splitPrincipal(c.Principal)
		if err != nil {
			return nil, false, err
		}
		cl = client.NewWithPassword(user, realm, c.Password, cfg)
	case Keytab:
		user, realm, err := splitPrincipal(c.Principal)
		if err != nil {
			return nil, false, err
		}
		path := c.Path
		if path == "" {
			path = p.ktPath
		}
		kt, err := keytab.Load(path)
		if err != nil {
			return nil, false, fmt.Errorf("krb5: loading keytab: %w", err)
		}
		cl = client.NewWithKeytab(user, realm, kt, cfg)
	default:
		return nil, false, fmt.Errorf("krb5: unsupported initiator credential %T", cred)
	}

	return cl, true, nil
}

// serviceSPN converts service@host to the Kerberos form service/host.
func serviceSPN(target string) (string, error) {
	service, host, ok := strings.Cut(target, "@")
	if !ok || service == "" || host == "" {
		return "", fmt.Errorf("krb5: invalid host based service name %q", target)
	}

	return service + "/" + host, nil
}

func splitPrincipal(principal string) (user, realm string, err error) {
	i := strings.LastIndex(principal, "@")
	if i <= 0 || i == len(principal)-1 {
		return "", "", errors.New("krb5: principal must be in the form user@REALM")
	}

	return principal[:i], principal[i+1:], nil
}

func krbConfFile() string {
	cfgFile, ok := os.LookupEnv("KRB5_CONFIG")
	if !ok {
		cfgFile = "/etc/krb5.conf"
	}

	return cfgFile
}

func krbCCFile() string {
	ccFile, ok := os.LookupEnv("KRB5CCNAME")
	if !ok {
		ccFile = fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
	}

	return strings.TrimPrefix(ccFile, "FILE:")
}

func krbKtFile() string {
	ktFile, ok := os.LookupEnv("KRB5_KTNAME")
	if !ok {
		ktFile = "/etc/krb5.keytab"
	}

	return strings.TrimPrefix(ktFile, "FILE:")
}
