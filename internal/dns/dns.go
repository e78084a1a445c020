package dns

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	domains   []string
	err       error
	timestamp time.Time
}

// Options configures the CachedDNSResolver. An empty Server uses the system
// resolver.
type Options struct {
	Server         string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	CacheTimeout   time.Duration
}

// CachedDNSResolver resolves the PTR names of report source ips. Results,
// including failed lookups, are cached for CacheTimeout as the same senders
// show up in most reports.
type CachedDNSResolver struct {
	ctx          context.Context
	timeout      time.Duration
	cacheTimeout time.Duration
	resolver     *net.Resolver
	mutex        sync.RWMutex
	dnsCache     map[string]cacheEntry
	logger       *slog.Logger
}

func NewCachedDNSResolver(ctx context.Context, opts Options, logger *slog.Logger) *CachedDNSResolver {
	resolver := net.DefaultResolver
	if opts.Server != "" {
		resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				d := net.Dialer{
					Timeout: opts.ConnectTimeout,
				}
				return d.DialContext(ctx, network, opts.Server)
			},
		}
	}
	return &CachedDNSResolver{
		ctx:          ctx,
		timeout:      opts.Timeout,
		cacheTimeout: opts.CacheTimeout,
		resolver:     resolver,
		dnsCache:     make(map[string]cacheEntry),
		logger:       logger.With("component", "dns"),
	}
}

// CachedDNSLookup returns the PTR names for ip without the trailing dot.
func (r *CachedDNSResolver) CachedDNSLookup(ip string) ([]string, error) {
	if entry, ok := r.getCacheEntry(ip); ok {
		return entry.domains, entry.err
	}

	r.logger.Debug("resolving", "ip", ip)

	if net.ParseIP(ip) == nil {
		err := &net.AddrError{Err: "invalid ip address", Addr: ip}
		r.updateCache(ip, nil, err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	domains, err := r.resolver.LookupAddr(ctx, ip)
	if err != nil {
		// store the failure so we do not reresolve the ip
		r.updateCache(ip, nil, err)
		return nil, err
	}

	for i := range domains {
		domains[i] = strings.TrimSuffix(domains[i], ".")
	}
	r.updateCache(ip, domains, nil)
	return domains, nil
}

func (r *CachedDNSResolver) updateCache(ip string, domains []string, err error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dnsCache[ip] = cacheEntry{
		domains:   domains,
		err:       err,
		timestamp: time.Now(),
	}
}

// getCacheEntry returns the cached lookup result for ip. The second return
// value is false if there is no entry or it expired.
func (r *CachedDNSResolver) getCacheEntry(ip string) (cacheEntry, bool) {
	r.mutex.RLock()
	val, ok := r.dnsCache[ip]
	r.mutex.RUnlock()
	if !ok {
		return cacheEntry{}, false
	}

	if time.Since(val.timestamp) > r.cacheTimeout {
		r.logger.Debug("deleting stale DNS entry", "ip", ip, "stored", val.timestamp)
		r.mutex.Lock()
		delete(r.dnsCache, ip)
		r.mutex.Unlock()
		return cacheEntry{}, false
	}
	return val, true
}
