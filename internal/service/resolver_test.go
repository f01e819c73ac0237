package service

import (
	"context"
	"testing"
	"time"

	"satspos/pkg/lnaddr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddressClient struct {
	nip05Calls int
	lnurlCalls int
	identity   *lnaddr.Identity
	params     *lnaddr.PayParams
	err        error
}

func (f *fakeAddressClient) ResolveNIP05(ctx context.Context, address string) (*lnaddr.Identity, error) {
	f.nip05Calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func (f *fakeAddressClient) ResolveLNURL(ctx context.Context, address string) (*lnaddr.PayParams, error) {
	f.lnurlCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.params, nil
}

func TestResolveNIP05Caching(t *testing.T) {
	client := &fakeAddressClient{identity: &lnaddr.Identity{Pubkey: "abcd"}}
	current := time.Now()
	svc := NewResolverService(client, 5*time.Minute)
	svc.now = func() time.Time { return current }

	id, err := svc.ResolveNIP05(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "abcd", id.Pubkey)
	assert.Equal(t, 1, client.nip05Calls)

	// second lookup inside the TTL is served from cache
	_, err = svc.ResolveNIP05(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, client.nip05Calls)

	// a different full address is a different entry
	_, err = svc.ResolveNIP05(context.Background(), "alice@other.com")
	require.NoError(t, err)
	assert.Equal(t, 2, client.nip05Calls)

	// after the TTL the entry is refreshed
	current = current.Add(6 * time.Minute)
	_, err = svc.ResolveNIP05(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, client.nip05Calls)
}

func TestResolveLNURLNotCached(t *testing.T) {
	client := &fakeAddressClient{params: &lnaddr.PayParams{Callback: "https://x/cb", Tag: "payRequest"}}
	svc := NewResolverService(client, 5*time.Minute)

	_, err := svc.ResolveLNURL(context.Background(), "alice@example.com")
	require.NoError(t, err)
	_, err = svc.ResolveLNURL(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, client.lnurlCalls)
}
