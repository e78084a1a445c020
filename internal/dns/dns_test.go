package dns

import (
	"context"
	"errors"
	"io"
	"net"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(cacheTimeout time.Duration) *CachedDNSResolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCachedDNSResolver(context.Background(), Options{
		Server:         "127.0.0.1:1",
		ConnectTimeout: 100 * time.Millisecond,
		Timeout:        200 * time.Millisecond,
		CacheTimeout:   cacheTimeout,
	}, logger)
}

func TestGetCacheEntry(t *testing.T) {
	t.Parallel()

	dns := testResolver(1 * time.Microsecond)
	dns.updateCache("1.1.1.1", []string{"asdf.com", "ghjkl.com"}, nil)
	time.Sleep(1 * time.Millisecond)
	_, ok := dns.getCacheEntry("1.1.1.1")
	assert.False(t, ok, "cache not expired")

	dns = testResolver(1 * time.Hour)
	dns.updateCache("1.1.1.1", []string{"asdf.com", "ghjkl.com"}, nil)
	res, ok := dns.getCacheEntry("1.1.1.1")
	require.True(t, ok, "cache expired and should not be")
	assert.Equal(t, []string{"asdf.com", "ghjkl.com"}, res.domains)
}

func TestCachedLookupUsesCache(t *testing.T) {
	t.Parallel()

	dns := testResolver(1 * time.Hour)
	dns.updateCache("192.0.2.1", []string{"mail.example.com"}, nil)

	res, err := dns.CachedDNSLookup("192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"mail.example.com"}, res)
}

func TestCachedLookupInvalidIP(t *testing.T) {
	t.Parallel()

	dns := testResolver(1 * time.Hour)
	_, err := dns.CachedDNSLookup("not-an-ip")
	var addrErr *net.AddrError
	require.ErrorAs(t, err, &addrErr)

	// a cached failure returns the same error
	res, err := dns.CachedDNSLookup("not-an-ip")
	require.ErrorAs(t, err, &addrErr)
	assert.Equal(t, "not-an-ip", addrErr.Addr)
	assert.Empty(t, res)
}

func TestCachedLookupFailureCached(t *testing.T) {
	t.Parallel()

	dns := testResolver(1 * time.Hour)
	lookupErr := errors.New("server misbehaving")
	dns.updateCache("192.0.2.2", nil, lookupErr)

	res, err := dns.CachedDNSLookup("192.0.2.2")
	require.ErrorIs(t, err, lookupErr)
	assert.Empty(t, res)
}
