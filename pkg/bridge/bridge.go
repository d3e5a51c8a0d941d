// Package bridge exposes the DoH HTTP client through named calls
// (makeGetRequest, makePostRequest, ...) taking loosely typed arguments, so
// that it can be driven across a process or language boundary.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/picatz/dohclient/pkg/dohttp"
	"github.com/picatz/dohclient/pkg/provider"
	"github.com/sirupsen/logrus"
)

// ErrNotImplemented is returned for call names the bridge does not know.
var ErrNotImplemented = errors.New("bridge: not implemented")

// Call names understood by [Bridge.Call].
const (
	MakeGetRequest    = "makeGetRequest"
	MakePostRequest   = "makePostRequest"
	MakePutRequest    = "makePutRequest"
	MakePatchRequest  = "makePatchRequest"
	MakeDeleteRequest = "makeDeleteRequest"
)

var methods = map[string]string{
	MakeGetRequest:    http.MethodGet,
	MakePostRequest:   http.MethodPost,
	MakePutRequest:    http.MethodPut,
	MakePatchRequest:  http.MethodPatch,
	MakeDeleteRequest: http.MethodDelete,
}

// Args are the arguments of a call.
type Args struct {
	URL         *string           `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        *string           `json:"body,omitempty"`
	DohProvider string            `json:"dohProvider,omitempty"`
}

// Bridge dispatches calls to one [dohttp.Client] per provider.
type Bridge struct {
	opts []dohttp.Option
	log  logrus.FieldLogger

	mu      sync.Mutex
	clients map[provider.Provider]*dohttp.Client
}

// New returns a Bridge creating its clients with the given options.
func New(log logrus.FieldLogger, opts ...dohttp.Option) *Bridge {
	return &Bridge{
		opts:    append([]dohttp.Option{dohttp.WithLogger(log)}, opts...),
		log:     log,
		clients: map[provider.Provider]*dohttp.Client{},
	}
}

// client returns the client of the provider named by id, creating it on
// first use. Unknown identifiers share the Cloudflare client.
func (b *Bridge) client(id string) *dohttp.Client {
	p := provider.Parse(id)

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[p]
	if !ok {
		c = dohttp.New(p.String(), b.opts...)
		b.clients[p] = c
	}

	return c
}

// Call performs the named call, returning the result map of the request.
// Request failures are reported in the map; the error is only set, to
// ErrNotImplemented, for unknown call names.
func (b *Bridge) Call(ctx context.Context, name string, args Args) (map[string]any, error) {
	method, ok := methods[name]
	if !ok {
		b.log.WithField("call", name).Warn("call not implemented")
		return nil, ErrNotImplemented
	}

	if args.URL == nil {
		return (&dohttp.Error{Message: "URL is required", Code: dohttp.CodeTransport}).Map(), nil
	}

	req := &dohttp.Request{
		Method:  method,
		URL:     *args.URL,
		Headers: args.Headers,
	}

	if args.Body != nil {
		req.Body = []byte(*args.Body)
	}

	return b.client(args.DohProvider).Execute(ctx, req).Map(), nil
}

// CallAsync performs the call in its own goroutine, invoking done exactly
// once with the outcome of [Bridge.Call].
func (b *Bridge) CallAsync(ctx context.Context, name string, args Args, done func(map[string]any, error)) {
	go func() {
		done(b.Call(ctx, name, args))
	}()
}

// Close releases idle connections of every client created so far.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.clients {
		c.CloseIdleConnections()
	}
}
