package doh_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/picatz/dohclient/pkg/doh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingServer serves the static records, counting the DNS questions it receives.
func countingServer(t *testing.T, records map[string][]netip.Addr) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var count atomic.Int64

	static := doh.StaticHandler(records)

	srv := httptest.NewServer(doh.NewServerMux(func(w http.ResponseWriter, r *http.Request, req *dns.Msg) (*dns.Msg, error) {
		count.Add(1)
		return static(w, r, req)
	}))
	t.Cleanup(srv.Close)

	return srv, &count
}

// resolverHostURL rewrites the server URL so that its host is a name that
// can only be reached through a bootstrap address.
func resolverHostURL(t *testing.T, srv *httptest.Server) (string, netip.Addr) {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	addrPort := netip.MustParseAddrPort(u.Host)
	u.Host = net.JoinHostPort("resolver.test", u.Port())
	u.Path = "/dns-query"

	return u.String(), addrPort.Addr()
}

func TestResolverLookupNetIP(t *testing.T) {
	srv, count := countingServer(t, map[string][]netip.Addr{
		"api.test": {netip.MustParseAddr("127.0.0.1"), netip.MustParseAddr("::1")},
		"v6.test":  {netip.MustParseAddr("2001:db8::1")},
	})

	server, bootstrap := resolverHostURL(t, srv)

	r := doh.NewResolver(server, []netip.Addr{bootstrap})

	t.Run("both families", func(t *testing.T) {
		addrs, err := r.LookupNetIP(testContext(t), "api.test")
		require.NoError(t, err)
		assert.Equal(t, []netip.Addr{netip.MustParseAddr("127.0.0.1"), netip.MustParseAddr("::1")}, addrs)
	})

	t.Run("single family", func(t *testing.T) {
		addrs, err := r.LookupNetIP(testContext(t), "V6.test.")
		require.NoError(t, err)
		assert.Equal(t, []netip.Addr{netip.MustParseAddr("2001:db8::1")}, addrs)
	})

	t.Run("cached", func(t *testing.T) {
		before := count.Load()

		_, err := r.LookupNetIP(testContext(t), "api.test")
		require.NoError(t, err)

		assert.Equal(t, before, count.Load(), "cached answer should not hit the server")
	})

	t.Run("ip literal", func(t *testing.T) {
		before := count.Load()

		addrs, err := r.LookupNetIP(testContext(t), "192.0.2.1")
		require.NoError(t, err)
		assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.1")}, addrs)
		assert.Equal(t, before, count.Load())
	})

	t.Run("nxdomain", func(t *testing.T) {
		_, err := r.LookupNetIP(testContext(t), "missing.test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NXDOMAIN")
	})
}

func TestResolverNoCache(t *testing.T) {
	srv, count := countingServer(t, map[string][]netip.Addr{
		"api.test": {netip.MustParseAddr("127.0.0.1")},
	})

	r := doh.NewResolver(srv.URL+"/dns-query", nil, doh.WithCacheTTL(0))

	for range 2 {
		_, err := r.LookupNetIP(testContext(t), "api.test")
		require.NoError(t, err)
	}

	// A and AAAA, twice.
	assert.Equal(t, int64(4), count.Load())
}

func TestResolverConcurrentLookups(t *testing.T) {
	srv, _ := countingServer(t, map[string][]netip.Addr{
		"api.test": {netip.MustParseAddr("127.0.0.1")},
	})

	r := doh.NewResolver(srv.URL+"/dns-query", nil)

	var wg sync.WaitGroup

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			addrs, err := r.LookupNetIP(testContext(t), "api.test")
			assert.NoError(t, err)
			assert.Equal(t, []netip.Addr{netip.MustParseAddr("127.0.0.1")}, addrs)
		}()
	}

	wg.Wait()
}

func TestResolverNeverUsesSystemDNS(t *testing.T) {
	t.Run("no bootstrap", func(t *testing.T) {
		r := doh.NewResolver("https://dns.example/dns-query", nil)

		_, err := r.LookupNetIP(testContext(t), "api.test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no bootstrap address")
	})

	t.Run("invalid server", func(t *testing.T) {
		r := doh.NewResolver("::not a url", nil)

		_, err := r.LookupNetIP(testContext(t), "api.test")
		require.Error(t, err)
	})
}

func TestResolverDialContext(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			io.WriteString(conn, "hello")
			conn.Close()
		}
	}()

	srv, _ := countingServer(t, map[string][]netip.Addr{
		"echo.test": {netip.MustParseAddr("127.0.0.1")},
	})

	r := doh.NewResolver(srv.URL+"/dns-query", nil)

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	conn, err := r.DialContext(testContext(t), "tcp", net.JoinHostPort("echo.test", port))
	require.NoError(t, err)
	defer conn.Close()

	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = r.DialContext(testContext(t), "tcp6", net.JoinHostPort("echo.test", port))
	require.Error(t, err, "no IPv6 address should be dialable")
}

func TestResolverJSONAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/dns-json", r.Header.Get("Accept"))

		var answers []map[string]any
		if r.URL.Query().Get("type") == "A" {
			answers = append(answers, map[string]any{"name": "api.test.", "type": 1, "TTL": 60, "data": "203.0.113.7"})
		}

		json.NewEncoder(w).Encode(map[string]any{"Status": 0, "Answer": answers})
	}))
	t.Cleanup(srv.Close)

	r := doh.NewResolver("https://unused.example/dns-query", nil, doh.WithJSONAPI(srv.URL+"/resolve"))
	assert.Equal(t, srv.URL+"/resolve", r.Server())

	addrs, err := r.LookupNetIP(testContext(t), "api.test")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("203.0.113.7")}, addrs)
}

func TestResolverSharedLookupOutlivesCaller(t *testing.T) {
	var (
		started = make(chan struct{})
		release = make(chan struct{})
		once    sync.Once
		count   atomic.Int64
	)

	static := doh.StaticHandler(map[string][]netip.Addr{
		"api.test": {netip.MustParseAddr("127.0.0.1")},
	})

	srv := httptest.NewServer(doh.NewServerMux(func(w http.ResponseWriter, r *http.Request, req *dns.Msg) (*dns.Msg, error) {
		count.Add(1)
		once.Do(func() { close(started) })
		<-release
		return static(w, r, req)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	r := doh.NewResolver(srv.URL+"/dns-query", nil)

	first, cancel := context.WithCancel(testContext(t))

	firstErr := make(chan error, 1)
	go func() {
		_, err := r.LookupNetIP(first, "api.test")
		firstErr <- err
	}()

	<-started

	type lookupResult struct {
		addrs []netip.Addr
		err   error
	}

	second := make(chan lookupResult, 1)
	go func() {
		addrs, err := r.LookupNetIP(testContext(t), "api.test")
		second <- lookupResult{addrs, err}
	}()

	// Let the second caller join the in-flight lookup.
	time.Sleep(100 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("127.0.0.1")}, res.addrs)

	// A and AAAA, once for both callers.
	assert.Equal(t, int64(2), count.Load())
}
