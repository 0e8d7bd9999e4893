// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"errors"
	"sort"
	"sync"
)

var ErrProviderNotFound = errors.New("provider not found")

var providers struct {
	sync.Mutex
	libs map[string]ProviderConstructor
}

func init() {
	providers.libs = make(map[string]ProviderConstructor)
}

// ProviderConstructor defines the function signature passed to RegisterProvider, used
// by the registration interface to create new instances of a provider.
type ProviderConstructor func() (ContextProvider, error)

// RegisterProvider associates the supplied provider factory with the unique
// name for the provider. If a provider with name is already registered, the new
// factory function will replace the existing registration.
//
// Trust context providers register themselves by calling RegisterProvider in
// their init() function.
func RegisterProvider(name string, f ProviderConstructor) {
	providers.Lock()
	defer providers.Unlock()

	providers.libs[name] = f
}

// NewProvider is used to instantiate a provider given its unique name. It
// returns ErrProviderNotFound if name is not registered.
func NewProvider(name string) (ContextProvider, error) {
	providers.Lock()
	f, ok := providers.libs[name]
	providers.Unlock()

	if !ok {
		return nil, ErrProviderNotFound
	}

	return f()
}

// MustNewProvider wraps NewProvider in a panic.
//
// Panics if the provider name is not registered or its constructor returns an error.
func MustNewProvider(name string) ContextProvider {
	p, err := NewProvider(name)
	if err != nil {
		panic("sasl: provider " + name + ": " + err.Error())
	}

	return p
}

// Providers returns the sorted names of the registered providers.
func Providers() []string {
	providers.Lock()
	defer providers.Unlock()

	names := make([]string, 0, len(providers.libs))
	for name := range providers.libs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
