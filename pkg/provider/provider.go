// Package provider is the registry of public DNS-over-HTTPS (DoH) services
// that a client can route its name resolution through.
//
// Each provider carries the resolver endpoint and the bootstrap addresses
// used to reach that endpoint before any DoH resolution is possible.
package provider

import (
	"net/netip"
	"slices"
)

// Provider identifies one of the supported DoH services.
type Provider int

const (
	Cloudflare Provider = iota
	Google
	AdGuard
	Quad9
	AliDNS
	DNSPod
	ThreeSixty
	Quad101
	Mullvad
	ControlD
	Najalla
	SheCan
)

// Config is the bootstrap configuration of a provider.
type Config struct {
	Provider Provider

	// Name is the case-sensitive identifier of the provider (e.g. "CloudFlare").
	Name string

	// URL is the RFC8484 resolver endpoint.
	URL string

	// JSONURL is the DoH JSON API endpoint, empty when the provider
	// does not offer one.
	JSONURL string

	// Bootstrap holds the addresses used to dial the resolver host.
	Bootstrap []netip.Addr
}

// registry is indexed by Provider, and never mutated after init.
var registry = [...]Config{
	Cloudflare: {
		Name:    "CloudFlare",
		URL:     "https://cloudflare-dns.com/dns-query",
		JSONURL: "https://cloudflare-dns.com/dns-query",
		Bootstrap: addrs(
			"1.1.1.1", "1.0.0.1",
			"2606:4700:4700::1111", "2606:4700:4700::1001",
		),
	},
	Google: {
		Name:    "Google",
		URL:     "https://dns.google/dns-query",
		JSONURL: "https://dns.google/resolve",
		Bootstrap: addrs(
			"8.8.8.8", "8.8.4.4",
			"2001:4860:4860::8888", "2001:4860:4860::8844",
		),
	},
	AdGuard: {
		Name:      "AdGuard",
		URL:       "https://dns.adguard-dns.com/dns-query",
		Bootstrap: addrs("94.140.14.140", "94.140.14.141"),
	},
	Quad9: {
		Name:      "Quad9",
		URL:       "https://dns.quad9.net/dns-query",
		Bootstrap: addrs("9.9.9.9", "149.112.112.112"),
	},
	AliDNS: {
		Name:      "AliDNS",
		URL:       "https://dns.alidns.com/dns-query",
		JSONURL:   "https://dns.alidns.com/resolve",
		Bootstrap: addrs("223.5.5.5", "223.6.6.6"),
	},
	DNSPod: {
		Name:      "DNSPod",
		URL:       "https://doh.pub/dns-query",
		Bootstrap: addrs("1.12.12.12", "120.53.53.53"),
	},
	ThreeSixty: {
		Name:      "threeSixty",
		URL:       "https://doh.360.cn/dns-query",
		Bootstrap: addrs("101.226.4.6", "218.30.118.6"),
	},
	Quad101: {
		Name:      "Quad101",
		URL:       "https://dns.twnic.tw/dns-query",
		Bootstrap: addrs("101.101.101.101", "101.102.103.104"),
	},
	Mullvad: {
		Name:      "Mullvad",
		URL:       "https://dns.mullvad.net/dns-query",
		Bootstrap: addrs("194.242.2.2"),
	},
	ControlD: {
		Name:      "ControlD",
		URL:       "https://freedns.controld.com/p0",
		Bootstrap: addrs("76.76.2.0", "76.76.10.0"),
	},
	Najalla: {
		Name:      "Najalla",
		URL:       "https://dns.njal.la/dns-query",
		Bootstrap: addrs("95.215.19.53"),
	},
	SheCan: {
		Name:      "SheCan",
		URL:       "https://free.shecan.ir/dns-query",
		Bootstrap: addrs("178.22.122.100", "185.51.200.2"),
	},
}

func init() {
	for i := range registry {
		registry[i].Provider = Provider(i)
	}
}

func addrs(ips ...string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.MustParseAddr(ip))
	}
	return out
}

// All returns every supported provider, in registry order.
func All() []Provider {
	all := make([]Provider, len(registry))
	for i := range registry {
		all[i] = Provider(i)
	}
	return all
}

// Parse maps an identifier to a Provider. Matching is case-sensitive, and
// any unknown identifier (including the empty string) yields Cloudflare.
func Parse(id string) Provider {
	for i, cfg := range registry {
		if cfg.Name == id {
			return Provider(i)
		}
	}
	return Cloudflare
}

// Resolve returns the configuration of the provider named by id, falling
// back to Cloudflare. It never fails.
func Resolve(id string) Config {
	return Parse(id).Config()
}

// String returns the identifier of the provider.
func (p Provider) String() string {
	return p.Config().Name
}

// Config returns a copy of the provider's configuration.
func (p Provider) Config() Config {
	if p < 0 || int(p) >= len(registry) {
		p = Cloudflare
	}
	cfg := registry[p]
	cfg.Bootstrap = slices.Clone(cfg.Bootstrap)
	return cfg
}
