package service

import (
	"context"
	"sync"
	"time"

	"satspos/pkg/lnaddr"
)

// AddressClient does the two well-known lookups for a Lightning address.
type AddressClient interface {
	ResolveLNURL(ctx context.Context, address string) (*lnaddr.PayParams, error)
	ResolveNIP05(ctx context.Context, address string) (*lnaddr.Identity, error)
}

// ResolverService turns a payer-facing name@domain address into a routable
// LNURL-pay endpoint and an optional Nostr identity. The two lookups are
// independent: either may fail without affecting the other.
type ResolverService struct {
	client AddressClient
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]nip05Entry
	now   func() time.Time
}

type nip05Entry struct {
	identity  lnaddr.Identity
	expiresAt time.Time
}

func NewResolverService(client AddressClient, nip05TTL time.Duration) *ResolverService {
	return &ResolverService{
		client: client,
		ttl:    nip05TTL,
		cache:  make(map[string]nip05Entry),
		now:    time.Now,
	}
}

// ResolveNIP05 resolves address to a Nostr identity, serving cached results
// for the configured TTL keyed by the full address.
func (s *ResolverService) ResolveNIP05(ctx context.Context, address string) (*lnaddr.Identity, error) {
	s.mu.Lock()
	if e, ok := s.cache[address]; ok && s.now().Before(e.expiresAt) {
		id := e.identity
		s.mu.Unlock()
		return &id, nil
	}
	s.mu.Unlock()

	id, err := s.client.ResolveNIP05(ctx, address)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[address] = nip05Entry{identity: *id, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return id, nil
}

// ResolveLNURL resolves address to its LNURL-pay parameters. Not cached:
// destinations may rotate callbacks and min/max bounds.
func (s *ResolverService) ResolveLNURL(ctx context.Context, address string) (*lnaddr.PayParams, error) {
	return s.client.ResolveLNURL(ctx, address)
}
