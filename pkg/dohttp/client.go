// Package dohttp is an HTTP client whose name resolution is routed through
// one of the DoH providers of package provider.
//
// Every request completes with a [Result], never with a Go error or a
// panic: failures are normalized into an [Error] carrying a message and a
// code (an HTTP status, or one of the negative Code constants).
package dohttp

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/picatz/dohclient/pkg/doh"
	"github.com/picatz/dohclient/pkg/provider"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a whole request, including DoH resolution.
const DefaultTimeout = 30 * time.Second

// Client sends HTTP requests whose host names are resolved via DoH only.
//
// A Client holds no per-request state and is safe for concurrent use.
type Client struct {
	provider provider.Config
	resolver *doh.Resolver
	http     *retryablehttp.Client
	log      logrus.FieldLogger
}

type options struct {
	log          logrus.FieldLogger
	timeout      time.Duration
	retries      int
	config       *provider.Config
	jsonResolver bool
	resolverOpts []doh.ResolverOption
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger requests are reported to (default: the logrus
// standard logger).
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithTimeout bounds each request (default: [DefaultTimeout]). Zero means
// no timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithRetries sets how many times a failed request is retried (default: 0).
func WithRetries(n int) Option {
	return func(o *options) {
		o.retries = max(n, 0)
	}
}

// WithProviderConfig replaces the registry configuration of the provider,
// for instance to point the client at a private DoH server.
func WithProviderConfig(cfg provider.Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

// WithJSONResolver resolves names through the provider's DoH JSON API, when
// the provider has one.
func WithJSONResolver() Option {
	return func(o *options) {
		o.jsonResolver = true
	}
}

// WithResolverOptions passes options through to the underlying [doh.Resolver].
func WithResolverOptions(opts ...doh.ResolverOption) Option {
	return func(o *options) {
		o.resolverOpts = append(o.resolverOpts, opts...)
	}
}

// New returns a Client for the provider named by providerID. Unknown
// identifiers select Cloudflare.
func New(providerID string, opts ...Option) *Client {
	o := &options{
		log:     logrus.StandardLogger(),
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(o)
	}

	cfg := provider.Resolve(providerID)
	if o.config != nil {
		cfg = *o.config
	}

	resolverOpts := []doh.ResolverOption{doh.WithResolverLogger(o.log)}
	if o.jsonResolver && cfg.JSONURL != "" {
		resolverOpts = append(resolverOpts, doh.WithJSONAPI(cfg.JSONURL))
	}
	resolverOpts = append(resolverOpts, o.resolverOpts...)

	resolver := doh.NewResolver(cfg.URL, cfg.Bootstrap, resolverOpts...)

	transport := cleanhttp.DefaultPooledTransport()
	// A proxy would resolve target hosts on its own.
	transport.Proxy = nil
	transport.DialContext = resolver.DialContext

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: transport,
		Timeout:   o.timeout,
	}
	rc.RetryMax = o.retries
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{log: o.log}

	return &Client{
		provider: cfg,
		resolver: resolver,
		http:     rc,
		log:      o.log.WithField("provider", cfg.Name),
	}
}

// Provider returns the configuration of the provider in use.
func (c *Client) Provider() provider.Config {
	return c.provider
}

// Resolver returns the resolver target hosts are looked up with.
func (c *Client) Resolver() *doh.Resolver {
	return c.resolver
}

// CloseIdleConnections closes connections kept alive by the client and
// its resolver.
func (c *Client) CloseIdleConnections() {
	c.http.HTTPClient.CloseIdleConnections()
	c.resolver.CloseIdleConnections()
}
