// SPDX-License-Identifier: Apache-2.0

package sasl

// SecurityContext is the trust-context capability the GSSAPI mechanisms are
// built on.  It is supplied by a ContextProvider; the Kerberos V provider
// lives in the krb5 package and an in-memory provider in memctx.
type SecurityContext interface {
	// IsEstablished reports whether context establishment has finished.
	IsEstablished() bool

	// Continue advances context establishment with a token from the peer.
	// The initiator's first call is made with an empty token.  A non-empty
	// output token must be sent to the peer.
	Continue(tokenIn []byte) (tokenOut []byte, err error)

	// ContextFlags returns the services available on the context.  The
	// result is only final once the context is established.
	ContextFlags() ContextFlag

	// Wrap protects msg, sealing it if conf is set.
	Wrap(msg []byte, conf bool) ([]byte, error)

	// Unwrap verifies a token produced by the peer's Wrap and reports
	// whether it was sealed.
	Unwrap(token []byte) (msg []byte, isSealed bool, err error)

	// WrapSizeLimit returns the largest message that can be passed to Wrap
	// such that the output token is no larger than maxOutput.
	WrapSizeLimit(conf bool, maxOutput uint32) (uint32, error)

	// PeerName returns the name of the authenticated peer, once known.
	PeerName() string

	// Release frees any resources held by the context.
	Release() error
}

// Credential is a provider specific credential, such as a Kerberos keytab
// entry.  Providers document the credential types they accept.
type Credential any

// InitSecContextOptions holds the optional parameters for initiating a
// security context.
type InitSecContextOptions struct {
	Credential     Credential      // Source credential for context establishment
	Flags          ContextFlag     // Requested protection flags
	ChannelBinding *ChannelBinding // Channel binding information
}

// InitSecContextOption is a function type for configuring InitSecContext options.
type InitSecContextOption func(o *InitSecContextOptions)

// WithInitiatorCredential supplies the credential used when initiating the context.
func WithInitiatorCredential(cred Credential) InitSecContextOption {
	return func(o *InitSecContextOptions) {
		o.Credential = cred
	}
}

// WithInitiatorFlags sets the requested protection flags.
func WithInitiatorFlags(flags ContextFlag) InitSecContextOption {
	return func(o *InitSecContextOptions) {
		o.Flags = flags
	}
}

// WithInitiatorChannelBinding supplies channel binding information.
func WithInitiatorChannelBinding(cb *ChannelBinding) InitSecContextOption {
	return func(o *InitSecContextOptions) {
		o.ChannelBinding = cb
	}
}

// AcceptSecContextOptions holds the optional parameters for accepting a
// security context.
type AcceptSecContextOptions struct {
	Credential     Credential      // Acceptor credential for context establishment
	ChannelBinding *ChannelBinding // Channel binding information
}

// AcceptSecContextOption is a function type for configuring AcceptSecContext options.
type AcceptSecContextOption func(o *AcceptSecContextOptions)

// WithAcceptorCredential supplies the credential used to accept the context.
func WithAcceptorCredential(cred Credential) AcceptSecContextOption {
	return func(o *AcceptSecContextOptions) {
		o.Credential = cred
	}
}

// WithAcceptorChannelBinding supplies channel binding information.
func WithAcceptorChannelBinding(cb *ChannelBinding) AcceptSecContextOption {
	return func(o *AcceptSecContextOptions) {
		o.ChannelBinding = cb
	}
}

// ContextProvider creates security contexts.
type ContextProvider interface {
	// Name returns the unique name of the provider.
	Name() string

	// InitSecContext creates an initiator context for the host based
	// service name target, in the form service@host.
	InitSecContext(target string, opts ...InitSecContextOption) (SecurityContext, error)

	// AcceptSecContext creates an acceptor context.
	AcceptSecContext(opts ...AcceptSecContextOption) (SecurityContext, error)
}
