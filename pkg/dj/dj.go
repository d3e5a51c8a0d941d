// Package dj provides a DoH JSON API client provided by some DNS providers,
// including Google, Cloudflare, and AliDNS.
//
// This is different from [RFC8484], which came later,
// and became the generally accepted standard for DoH.
//
// [RFC8484]: https://tools.ietf.org/html/rfc8484
package dj

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
)

// Record types understood by [Response.Addrs].
const (
	RecordA    = "A"
	RecordAAAA = "AAAA"
)

const (
	typeA    = 1
	typeAAAA = 28
)

// maxResponseSize bounds how much of a response body is decoded.
const maxResponseSize = 64 << 10

// Request is a DNS query to a DoH server using the JSON API.
type Request struct {
	Name string // domain name (e.g. google.com)
	Type string // record type (e.g. A, AAAA, MX, ANY)
}

// Answer is a single resource record of a [Response].
type Answer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

// Response is a DNS response from a DoH JSON API server.
type Response struct {
	Status   int  `json:"Status"` // DNS response code
	TC       bool `json:"TC"`     // Truncated
	RD       bool `json:"RD"`     // Recursion Desired
	RA       bool `json:"RA"`     // Recursion Available
	AD       bool `json:"AD"`     // Authenticated Data
	CD       bool `json:"CD"`     // Checking Disabled
	Question []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
	} `json:"Question"`
	Answer []Answer `json:"Answer"`
}

// Addrs returns the addresses carried by A and AAAA answers, along with
// the smallest TTL among them. Answers of other types (e.g. CNAME) are skipped.
func (r *Response) Addrs() ([]netip.Addr, uint32) {
	var (
		addrs  []netip.Addr
		minTTL uint32
	)

	for _, answer := range r.Answer {
		if answer.Type != typeA && answer.Type != typeAAAA {
			continue
		}

		addr, err := netip.ParseAddr(answer.Data)
		if err != nil {
			continue
		}

		ttl := uint32(max(answer.TTL, 0))
		if len(addrs) == 0 || ttl < minTTL {
			minTTL = ttl
		}

		addrs = append(addrs, addr.Unmap())
	}

	return addrs, minTTL
}

// Query performs a DNS query using a DoH server.
func Query(ctx context.Context, httpClient *http.Client, server string, req *Request) (*Response, error) {
	// Prepare the HTTP request, including the relevant headers and query params.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, server, nil)
	if err != nil {
		return nil, fmt.Errorf("dj: error creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/dns-json")
	httpReq.Header.Set("User-Agent", "dohclient")

	q := httpReq.URL.Query()
	q.Add("name", req.Name)
	q.Add("type", req.Type)

	httpReq.URL.RawQuery = q.Encode()

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dj: error performing HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dj: %q HTTP request returned status code: %d (%s)", server, httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	resp := &Response{}

	err = json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseSize)).Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("dj: error decoding response: %w", err)
	}

	return resp, nil
}
