// Package resolve turns host names into addresses. It replaces the ambient
// process-wide lookup cache of older designs with an explicit service
// instance carrying its own cache and an invalidation hook for
// network-change events.
package resolve

import (
	"container/list"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Resolver maps a host name to zero or more addresses.
type Resolver interface {
	LookupHost(host string) ([]net.IP, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(host string) ([]net.IP, error)

func (f ResolverFunc) LookupHost(host string) ([]net.IP, error) {
	return f(host)
}

// System resolves through the operating system resolver without caching.
func System() Resolver {
	return ResolverFunc(systemLookup)
}

func systemLookup(host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: lookup of host %q failed", host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if ip := net.ParseIP(addr); ip != nil {
			ips = append(ips, ip)
		}
	}
	if len(ips) == 0 {
		return nil, errors.Errorf("resolve: host %q has no addresses", host)
	}
	return ips, nil
}

type cacheEntry struct {
	host    string
	ips     []net.IP
	element *list.Element
}

// Service is a caching resolver with a least-recently-used eviction policy.
// Invalidate flushes the cache and should be wired to whatever signal the
// application has for network topology changes.
type Service struct {
	next Resolver

	order *list.List
	items map[string]*cacheEntry
	limit int

	mu sync.Mutex
}

// NewService wraps next with an LRU cache holding up to limit hosts. A nil
// next falls back to the system resolver.
func NewService(next Resolver, limit int) *Service {
	if next == nil {
		next = System()
	}
	if limit <= 0 {
		limit = 1000
	}

	return &Service{
		next:  next,
		order: list.New(),
		items: make(map[string]*cacheEntry),
		limit: limit,
	}
}

// LookupHost returns the cached addresses for host, consulting the wrapped
// resolver on a miss.
func (s *Service) LookupHost(host string) ([]net.IP, error) {
	s.mu.Lock()

	if entry, ok := s.items[host]; ok {
		s.order.MoveToFront(entry.element)
		ips := entry.ips

		s.mu.Unlock()
		return ips, nil
	}
	s.mu.Unlock()

	// The lookup itself runs unlocked so one slow host cannot stall every
	// other caller.
	ips, err := s.next.LookupHost(host)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.items[host]; !ok {
		if s.order.Len() >= s.limit {
			oldest := s.order.Remove(s.order.Back()).(*cacheEntry)
			delete(s.items, oldest.host)
		}

		entry := &cacheEntry{host: host, ips: ips}
		entry.element = s.order.PushFront(entry)
		s.items[host] = entry
	}
	s.mu.Unlock()

	return ips, nil
}

// InvalidateHost drops one host from the cache.
func (s *Service) InvalidateHost(host string) {
	s.mu.Lock()
	if entry, ok := s.items[host]; ok {
		s.order.Remove(entry.element)
		delete(s.items, host)
	}
	s.mu.Unlock()
}

// Invalidate drops every cached entry. Call it when the network environment
// changes and stale addresses must not be served.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.order.Init()
	s.items = make(map[string]*cacheEntry)
	s.mu.Unlock()
}

// Len reports the number of cached hosts.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
