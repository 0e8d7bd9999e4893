// SPDX-License-Identifier: Apache-2.0

package realm

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Caching fronts another realm with an LRU cache of existing identities.
// Lookups that fail, and identities that do not exist, are not cached.
//
// Every lookup returns its own Identity that the caller disposes as usual.
// A cached identity is disposed once it has left the cache and no lookup
// still holds it.
type Caching struct {
	next  Realm
	cache *lru.Cache[string, *sharedIdentity]
}

// NewCaching returns a caching realm that holds up to size identities.
func NewCaching(next Realm, size int) (*Caching, error) {
	c, err := lru.NewWithEvict(size, func(_ string, s *sharedIdentity) {
		s.evict()
	})
	if err != nil {
		return nil, err
	}

	return &Caching{next: next, cache: c}, nil
}

// Identity implements Realm.
func (c *Caching) Identity(ctx context.Context, principal string) (Identity, error) {
	if s, ok := c.cache.Get(principal); ok && s.acquire() {
		return &cachedIdentity{Identity: s.Identity, shared: s}, nil
	}

	id, err := c.next.Identity(ctx, principal)
	if err != nil {
		return nil, err
	}

	if ok, err := id.Exists(); err != nil || !ok {
		return id, nil
	}

	s := &sharedIdentity{Identity: id, refs: 1}
	if found, _ := c.cache.ContainsOrAdd(principal, s); found {
		// lost a race with another lookup; hand this one out uncached
		return id, nil
	}

	return &cachedIdentity{Identity: id, shared: s}, nil
}

// Invalidate drops a cached identity.
func (c *Caching) Invalidate(principal string) {
	c.cache.Remove(principal)
}

// Purge empties the cache.
func (c *Caching) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached identities.
func (c *Caching) Len() int {
	return c.cache.Len()
}

type sharedIdentity struct {
	Identity

	mu       sync.Mutex
	refs     int
	evicted  bool
	disposed bool
}

func (s *sharedIdentity) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return false
	}
	s.refs++

	return true
}

func (s *sharedIdentity) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs--
	s.disposeIfUnused()
}

func (s *sharedIdentity) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evicted = true
	s.disposeIfUnused()
}

// must be called with mu held
func (s *sharedIdentity) disposeIfUnused() {
	if s.evicted && s.refs <= 0 && !s.disposed {
		s.disposed = true
		s.Identity.Dispose()
	}
}

// cachedIdentity is one lookup's handle on a cached identity.
type cachedIdentity struct {
	Identity
	shared *sharedIdentity
	once   sync.Once
}

func (c *cachedIdentity) Dispose() {
	c.once.Do(c.shared.release)
}
