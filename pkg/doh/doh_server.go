package doh

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// Handler is a function that handles a DNS-over-HTTPS (DoH) request.
type Handler func(w http.ResponseWriter, httpReq *http.Request, dnsReq *dns.Msg) (*dns.Msg, error)

// NewServerMux returns an HTTP server mux with an endpoint for the DoH server,
// supporting the DNS-over-HTTPS (DoH) protocol as defined in [RFC 8484].
//
// [RFC 8484]: https://tools.ietf.org/html/rfc8484
func NewServerMux(handler Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/dns-query", func(w http.ResponseWriter, r *http.Request) {
		var (
			b   []byte
			err error
		)

		// https://datatracker.ietf.org/doc/html/rfc8484#section-4.1
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("Content-Type") != "application/dns-message" {
				http.Error(w, http.StatusText(http.StatusUnsupportedMediaType), http.StatusUnsupportedMediaType)
				return
			}
			b, err = io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		case http.MethodGet:
			b, err = base64.RawURLEncoding.DecodeString(r.URL.Query().Get("dns"))
			if err == nil && len(b) == 0 {
				err = io.ErrUnexpectedEOF
			}
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		// Unpack the DNS message from the HTTP request.
		var dnsReq dns.Msg
		if err := dnsReq.Unpack(b); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		serverHandleDNSReq(w, r, handler, &dnsReq)
	})

	return mux
}

// serverHandleDNSReq calls the handler to process the DNS request, if one is
// configured, and writes the packed response back to the HTTP response.
func serverHandleDNSReq(w http.ResponseWriter, r *http.Request, handler Handler, dnsReq *dns.Msg) {
	if handler == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	dnsResp, err := handler(w, r, dnsReq)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	// Pack the DNS response message into the HTTP response.
	b, err := dnsResp.Pack()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/dns-message")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// StaticHandler returns a DoH handler answering A and AAAA questions from a
// fixed table of host names, with a TTL of 300 seconds. Names missing from
// the table are answered with NXDOMAIN.
func StaticHandler(records map[string][]netip.Addr) Handler {
	table := make(map[string][]netip.Addr, len(records))
	for name, addrs := range records {
		table[strings.ToLower(dns.Fqdn(name))] = addrs
	}

	return func(w http.ResponseWriter, r *http.Request, req *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg).SetReply(req)

		if len(req.Question) != 1 {
			resp.Rcode = dns.RcodeFormatError
			return resp, nil
		}

		q := req.Question[0]

		addrs, ok := table[strings.ToLower(q.Name)]
		if !ok {
			resp.Rcode = dns.RcodeNameError
			return resp, nil
		}

		hdr := dns.RR_Header{
			Name:   q.Name,
			Rrtype: q.Qtype,
			Class:  dns.ClassINET,
			Ttl:    300,
		}

		for _, addr := range addrs {
			switch {
			case q.Qtype == dns.TypeA && addr.Is4():
				resp.Answer = append(resp.Answer, &dns.A{Hdr: hdr, A: addr.AsSlice()})
			case q.Qtype == dns.TypeAAAA && addr.Is6():
				resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: addr.AsSlice()})
			}
		}

		return resp, nil
	}
}
