// Package doh provides a DNS-over-HTTPS (DoH) client implementation
// following [RFC8484], and a resolver built on it that can stand in for
// the system resolver of an HTTP transport.
//
// [RFC8484]: https://tools.ietf.org/html/rfc8484
package doh

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"

	"github.com/miekg/dns"
)

// maxMessageSize is the largest DNS message accepted from a server.
const maxMessageSize = dns.MaxMsgSize

// ErrNoAddresses is returned when a lookup succeeds without yielding any address.
var ErrNoAddresses = errors.New("doh: no addresses found")

// Query performs a DNS query using a DoH server.
func Query(ctx context.Context, httpClient *http.Client, server string, dnsReq dns.Msg) (*dns.Msg, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, server, nil)
	if err != nil {
		return nil, fmt.Errorf("doh: error creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/dns-message")

	q := httpReq.URL.Query()

	// https://datatracker.ietf.org/doc/html/rfc8484#section-4.1
	dnsReq.Id = 0

	dnsReqBytes, err := dnsReq.Pack()
	if err != nil {
		return nil, fmt.Errorf("doh: error packing DNS request: %w", err)
	}

	q.Set("dns", base64.RawURLEncoding.EncodeToString(dnsReqBytes))

	httpReq.URL.RawQuery = q.Encode()

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("doh: error performing HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: %q HTTP request returned status code: %d (%s)", server, httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("doh: error reading HTTP response body: %w", err)
	}

	dnsResp := &dns.Msg{}
	err = dnsResp.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("doh: error unpacking DNS response: %w", err)
	}

	return dnsResp, nil
}

// QueryAddrs queries the server for the A or AAAA records of name, returning
// the addresses found and the smallest TTL among them.
//
// A response code other than NOERROR is reported as an error.
func QueryAddrs(ctx context.Context, httpClient *http.Client, server, name string, qtype uint16) ([]netip.Addr, uint32, error) {
	dnsResp, err := Query(ctx, httpClient, server, dns.Msg{
		MsgHdr: dns.MsgHdr{
			RecursionDesired: true,
		},
		Question: []dns.Question{
			{
				Name:   dns.Fqdn(name),
				Qtype:  qtype,
				Qclass: dns.ClassINET,
			},
		},
	})
	if err != nil {
		return nil, 0, err
	}

	if dnsResp.Rcode != dns.RcodeSuccess {
		return nil, 0, fmt.Errorf("doh: lookup %s (%s): %s", name, dns.TypeToString[qtype], dns.RcodeToString[dnsResp.Rcode])
	}

	var (
		addrs  []netip.Addr
		minTTL uint32
	)

	for _, answer := range dnsResp.Answer {
		var ip []byte

		// CNAME chains are flattened by the resolver, so only the
		// terminal records carry addresses.
		switch answer := answer.(type) {
		case *dns.A:
			ip = answer.A
		case *dns.AAAA:
			ip = answer.AAAA
		default:
			continue
		}

		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}

		if ttl := answer.Header().Ttl; len(addrs) == 0 || ttl < minTTL {
			minTTL = ttl
		}

		addrs = append(addrs, addr.Unmap())
	}

	return addrs, minTTL, nil
}
