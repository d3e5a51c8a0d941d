package doh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/miekg/dns"
	"github.com/picatz/dohclient/pkg/dj"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is the longest time an answer is reused without asking
// the server again.
const DefaultCacheTTL = 5 * time.Minute

// DefaultLookupTimeout bounds a single lookup, A and AAAA queries included.
const DefaultLookupTimeout = 30 * time.Second

// Resolver resolves host names exclusively through a DoH server. It never
// falls back to the system resolver: the bootstrap addresses are only used
// to reach the DoH server itself.
//
// A Resolver is safe for concurrent use.
type Resolver struct {
	server     string
	jsonServer string

	// serverHosts are the host names that may be dialed via bootstrap.
	serverHosts map[string]bool
	bootstrap   []netip.Addr

	client *http.Client
	dialer *net.Dialer
	cache  *cache
	group  singleflight.Group
	log    logrus.FieldLogger

	lookupTimeout time.Duration

	// err is set when the server URL cannot be used at all.
	err error
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger lookups and dials are reported to.
func WithResolverLogger(log logrus.FieldLogger) ResolverOption {
	return func(r *Resolver) {
		r.log = log
	}
}

// WithJSONAPI makes the resolver query the given DoH JSON API endpoint
// instead of exchanging RFC8484 messages.
func WithJSONAPI(server string) ResolverOption {
	return func(r *Resolver) {
		r.jsonServer = server
	}
}

// WithCacheTTL caps how long answers are cached. Zero disables the cache.
func WithCacheTTL(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = newCache(d)
	}
}

// WithBootstrapTimeout sets the timeout of every dial, both towards the
// DoH server and towards resolved addresses.
func WithBootstrapTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.dialer.Timeout = d
	}
}

// WithLookupTimeout bounds each lookup, independently of the callers
// waiting for it. Zero leaves lookups unbounded.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.lookupTimeout = d
	}
}

// NewResolver returns a Resolver using the DoH server at the given URL,
// reached through the bootstrap addresses.
func NewResolver(server string, bootstrap []netip.Addr, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		server:      server,
		serverHosts: map[string]bool{},
		bootstrap:   bootstrap,
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		cache:         newCache(DefaultCacheTTL),
		log:           logrus.StandardLogger(),
		lookupTimeout: DefaultLookupTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	for _, s := range []string{r.server, r.jsonServer} {
		if s == "" {
			continue
		}

		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			r.err = fmt.Errorf("doh: invalid server URL %q", s)
			continue
		}

		r.serverHosts[strings.ToLower(u.Hostname())] = true
	}

	transport := cleanhttp.DefaultPooledTransport()
	// A proxy would resolve the server name on its own.
	transport.Proxy = nil
	transport.DialContext = r.dialServer

	r.client = &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}

	return r
}

// Server returns the URL of the DoH server lookups are sent to.
func (r *Resolver) Server() string {
	if r.jsonServer != "" {
		return r.jsonServer
	}
	return r.server
}

// CloseIdleConnections closes idle connections to the DoH server.
func (r *Resolver) CloseIdleConnections() {
	r.client.CloseIdleConnections()
}

// dialServer is the DialContext of the resolver's own HTTP client. It only
// connects to IP literals or to the DoH server via its bootstrap addresses.
func (r *Resolver) dialServer(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return r.dialAddrs(ctx, network, []netip.Addr{addr}, port)
	}

	if !r.serverHosts[strings.ToLower(host)] {
		return nil, fmt.Errorf("doh: refusing to dial %q without a bootstrap address", host)
	}

	if len(r.bootstrap) == 0 {
		return nil, fmt.Errorf("doh: no bootstrap address for %q", host)
	}

	r.log.WithFields(logrus.Fields{
		"host":      host,
		"bootstrap": r.bootstrap,
	}).Debug("dialing DoH server")

	return r.dialAddrs(ctx, network, r.bootstrap, port)
}

// dialAddrs dials each address in order, returning the first connection
// established.
func (r *Resolver) dialAddrs(ctx context.Context, network string, addrs []netip.Addr, port string) (net.Conn, error) {
	var errs []error

	for _, addr := range addrs {
		switch {
		case strings.HasSuffix(network, "4") && !addr.Is4():
			continue
		case strings.HasSuffix(network, "6") && addr.Is4():
			continue
		}

		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}

		errs = append(errs, err)

		if ctx.Err() != nil {
			break
		}
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("doh: no %s address to dial", network)
	}

	return nil, errors.Join(errs...)
}

// DialContext connects to the address on the named network, resolving its
// host through the DoH server. It can be used as the DialContext of an
// [http.Transport].
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	addrs, err := r.LookupNetIP(ctx, host)
	if err != nil {
		return nil, err
	}

	conn, err := r.dialAddrs(ctx, network, addrs, port)
	if err != nil {
		return nil, fmt.Errorf("doh: dial %s: %w", address, err)
	}

	r.log.WithFields(logrus.Fields{
		"address": address,
		"remote":  conn.RemoteAddr().String(),
	}).Debug("dialed")

	return conn, nil
}

// LookupNetIP returns the addresses of host. IP literals are returned as is;
// names are resolved with concurrent A and AAAA queries, IPv4 first.
func (r *Resolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}

	if r.err != nil {
		return nil, r.err
	}

	name, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return nil, fmt.Errorf("doh: invalid host name %q: %w", host, err)
	}

	name = strings.ToLower(name)

	if addrs, ok := r.cache.get(name); ok {
		return addrs, nil
	}

	// The lookup is shared by every caller asking for name, so it must
	// outlive the one that started it.
	ch := r.group.DoChan(name, func() (any, error) {
		lctx := context.WithoutCancel(ctx)

		if r.lookupTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, r.lookupTimeout)
			defer cancel()
		}

		return r.lookup(lctx, name)
	})

	var res singleflight.Result

	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("doh: lookup %s: %w", name, ctx.Err())
	}

	if res.Err != nil {
		return nil, res.Err
	}

	addrs := slices.Clone(res.Val.([]netip.Addr))

	r.log.WithFields(logrus.Fields{
		"host":   name,
		"addrs":  addrs,
		"shared": res.Shared,
	}).Debug("resolved")

	return addrs, nil
}

// lookup sends the A and AAAA queries for name, and caches the answer.
func (r *Resolver) lookup(ctx context.Context, name string) ([]netip.Addr, error) {
	qtypes := [2]uint16{dns.TypeA, dns.TypeAAAA}

	var (
		results [2][]netip.Addr
		ttls    [2]uint32
		errs    [2]error
		g       errgroup.Group
	)

	// Queries never fail the group, a family without answers is fine as
	// long as the other one has some.
	for i, qtype := range qtypes {
		g.Go(func() error {
			results[i], ttls[i], errs[i] = r.exchange(ctx, name, qtype)
			return nil
		})
	}
	g.Wait()

	var (
		addrs []netip.Addr
		ttl   uint32
	)

	for i := range qtypes {
		if errs[i] != nil {
			r.log.WithError(errs[i]).WithField("host", name).Debug("lookup failed")
			continue
		}

		if len(results[i]) == 0 {
			continue
		}

		if len(addrs) == 0 || ttls[i] < ttl {
			ttl = ttls[i]
		}

		addrs = append(addrs, results[i]...)
	}

	if len(addrs) == 0 {
		if err := errors.Join(errs[:]...); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, name)
	}

	r.cache.set(name, addrs, time.Duration(ttl)*time.Second)

	return addrs, nil
}

// exchange performs a single query, using the JSON API when configured.
func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) ([]netip.Addr, uint32, error) {
	if r.jsonServer == "" {
		return QueryAddrs(ctx, r.client, r.server, name, qtype)
	}

	resp, err := dj.Query(ctx, r.client, r.jsonServer, &dj.Request{
		Name: name,
		Type: dns.TypeToString[qtype],
	})
	if err != nil {
		return nil, 0, err
	}

	if resp.Status != dns.RcodeSuccess {
		return nil, 0, fmt.Errorf("doh: lookup %s (%s): %s", name, dns.TypeToString[qtype], dns.RcodeToString[resp.Status])
	}

	addrs, ttl := resp.Addrs()

	return addrs, ttl, nil
}
