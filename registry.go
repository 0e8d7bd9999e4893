// SPDX-License-Identifier: Apache-2.0

package sasl

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ClientFactory creates a client side mechanism instance.
type ClientFactory func(cfg MechConfig) (Mechanism, error)

// ServerFactory creates a server side mechanism instance.
type ServerFactory func(cfg MechConfig) (Mechanism, error)

var mechs struct {
	sync.Mutex
	clients map[string]ClientFactory
	servers map[string]ServerFactory
}

func init() {
	mechs.clients = make(map[string]ClientFactory)
	mechs.servers = make(map[string]ServerFactory)
}

// ErrMechNotFound is returned when a mechanism name is not registered.
var ErrMechNotFound = fmt.Errorf("%w: mechanism not registered", ErrUnavailableService)

// RegisterClient should be called by mechanism implementations to make the
// client side available.  Names are case-insensitive.
func RegisterClient(name string, f ClientFactory) {
	name = strings.ToUpper(name)

	mechs.Lock()
	defer mechs.Unlock()

	// can't register two mechs with the same name
	if _, ok := mechs.clients[name]; ok {
		panic("Cannot have two client mechs named " + name)
	}

	mechs.clients[name] = f
}

// RegisterServer should be called by mechanism implementations to make the
// server side available.  Names are case-insensitive.
func RegisterServer(name string, f ServerFactory) {
	name = strings.ToUpper(name)

	mechs.Lock()
	defer mechs.Unlock()

	if _, ok := mechs.servers[name]; ok {
		panic("Cannot have two server mechs named " + name)
	}

	mechs.servers[name] = f
}

// IsRegistered can be used to find out whether a named mechanism has a
// client or a server registered.
func IsRegistered(name string) bool {
	name = strings.ToUpper(name)

	mechs.Lock()
	defer mechs.Unlock()

	_, c := mechs.clients[name]
	_, s := mechs.servers[name]

	return c || s
}

// NewClient returns a new client mechanism instance by name.
func NewClient(name string, opts ...Option) (Mechanism, error) {
	mechs.Lock()
	f, ok := mechs.clients[strings.ToUpper(name)]
	mechs.Unlock()

	if !ok {
		return nil, fmt.Errorf("sasl: client %s: %w", name, ErrMechNotFound)
	}

	return f(NewConfig(opts...))
}

// NewServer returns a new server mechanism instance by name.
func NewServer(name string, opts ...Option) (Mechanism, error) {
	mechs.Lock()
	f, ok := mechs.servers[strings.ToUpper(name)]
	mechs.Unlock()

	if !ok {
		return nil, fmt.Errorf("sasl: server %s: %w", name, ErrMechNotFound)
	}

	return f(NewConfig(opts...))
}

// ClientMechs returns the sorted list of registered client mechanism names.
func ClientMechs() []string {
	mechs.Lock()
	defer mechs.Unlock()

	return sortedKeys(mechs.clients)
}

// ServerMechs returns the sorted list of registered server mechanism names.
func ServerMechs() []string {
	mechs.Lock()
	defer mechs.Unlock()

	return sortedKeys(mechs.servers)
}

// SelectMechanism returns the first of the client's preferred mechanisms
// that the server offers and that has a registered client.
func SelectMechanism(preferred, offered []string) (string, error) {
	mechs.Lock()
	defer mechs.Unlock()

	for _, p := range preferred {
		_, haveClient := mechs.clients[strings.ToUpper(p)]
		for _, o := range offered {
			if strings.EqualFold(p, o) && haveClient {
				return strings.ToUpper(p), nil
			}
		}
	}

	return "", fmt.Errorf("sasl: no common mechanism in %v: %w", offered, ErrMechNotFound)
}

func sortedKeys[V any](m map[string]V) []string {
	l := make([]string, 0, len(m))
	for name := range m {
		l = append(l, name)
	}
	sort.Strings(l)

	return l
}
