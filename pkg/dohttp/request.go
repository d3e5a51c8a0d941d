package dohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Request describes a single HTTP request.
type Request struct {
	Method string
	URL    string

	// Headers are applied in key order; keys differing only in case
	// collapse to the last one.
	Headers map[string]string

	// Body is sent for POST, PUT and PATCH only. A nil Body sends no body.
	Body []byte
}

// bodyMethods are the methods a request body is attached to.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// Execute performs the request and normalizes its outcome.
func (c *Client) Execute(ctx context.Context, req *Request) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = failure(CodeProcessing, "Failed to process response: %v", r)
		}
	}()

	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return failure(CodeTransport, "Invalid URL")
	}

	method := strings.ToUpper(req.Method)

	var body any
	if req.Body != nil && bodyMethods[method] {
		body = req.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return failure(CodeTransport, "%s", err)
	}

	keys := make([]string, 0, len(req.Headers))
	for key := range req.Headers {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		// net/http sends Request.Host, not the header.
		if strings.EqualFold(key, "Host") {
			httpReq.Host = req.Headers[key]
			continue
		}
		httpReq.Header.Set(key, req.Headers[key])
	}

	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	log := c.log.WithFields(logrus.Fields{
		"method": method,
		"url":    u.Redacted(),
	})

	log.Debug("sending request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return failure(CodeTransport, "%s", err)
	}

	if resp == nil {
		return failure(CodeNoResponse, "No HTTP response")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Debug("reading response body failed")
		return failure(CodeTransport, "%s", err)
	}

	log.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"bytes":  len(data),
	}).Debug("received response")

	return normalize(resp.StatusCode, data)
}

// normalize turns a status and body into a Result.
func normalize(status int, body []byte) *Result {
	if status < 200 || status > 299 {
		text := string(body)
		result := failure(status, "HTTP Error %d", status)
		result.Err.ResponseBody = &text
		return result
	}

	if len(body) == 0 {
		return failure(CodeNoData, "No response data")
	}

	switch v := decodeJSON(body).(type) {
	case map[string]any:
		return &Result{Success: &Success{StatusCode: status, Object: v}}
	case []any:
		return &Result{Success: &Success{StatusCode: status, Data: v}}
	}

	// Undecodable bytes become U+FFFD, as text decoders do.
	text := strings.ToValidUTF8(string(body), string(utf8.RuneError))

	return &Result{Success: &Success{StatusCode: status, Data: text}}
}

// decodeJSON strictly decodes a single JSON value, returning nil when the
// body is not exactly one valid JSON value.
func decodeJSON(body []byte) any {
	dec := json.NewDecoder(bytes.NewReader(body))

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil
	}

	return v
}

// Go performs the request in its own goroutine. The returned channel
// receives exactly one Result and is then closed.
func (c *Client) Go(ctx context.Context, req *Request) <-chan *Result {
	ch := make(chan *Result, 1)

	go func() {
		defer close(ch)
		ch <- c.Execute(ctx, req)
	}()

	return ch
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) *Result {
	return c.Execute(ctx, &Request{Method: http.MethodGet, URL: rawURL, Headers: headers})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, rawURL string, headers map[string]string, body []byte) *Result {
	return c.Execute(ctx, &Request{Method: http.MethodPost, URL: rawURL, Headers: headers, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, rawURL string, headers map[string]string, body []byte) *Result {
	return c.Execute(ctx, &Request{Method: http.MethodPut, URL: rawURL, Headers: headers, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, rawURL string, headers map[string]string, body []byte) *Result {
	return c.Execute(ctx, &Request{Method: http.MethodPatch, URL: rawURL, Headers: headers, Body: body})
}

// Delete performs a DELETE request. The body is accepted for symmetry with
// the other verbs, but never sent.
func (c *Client) Delete(ctx context.Context, rawURL string, headers map[string]string, body []byte) *Result {
	return c.Execute(ctx, &Request{Method: http.MethodDelete, URL: rawURL, Headers: headers, Body: body})
}
