package tools

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// checkSSRF validates rawURL against the private-network blocklist used by
// web_fetch and the browser tool's validate_url step: the scheme must be
// http(s), the host must resolve, and none of its resolved addresses may
// fall in a private/loopback/link-local range. DNS resolution happens here
// (not just a string match on the hostname) so a public-looking hostname
// that rebinds to an internal address is still caught.
func checkSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	return checkHostIsPublic(host)
}

// checkHostIsPublic resolves host and rejects it if literal or any resolved
// address is loopback, RFC1918 private, link-local, unique-local IPv6, or
// an IPv4-mapped IPv6 address whose embedded v4 address is itself private.
func checkHostIsPublic(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		return checkIPIsPublic(ip)
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("host %q did not resolve to any address", host)
	}
	for _, addr := range addrs {
		if err := checkIPIsPublic(addr); err != nil {
			return fmt.Errorf("host %q resolves to a blocked address: %w", host, err)
		}
	}
	return nil
}

func checkIPIsPublic(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address %s", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address %s", ip)
	case ip.IsPrivate():
		// net.IP.IsPrivate covers RFC1918 (10/8, 172.16/12, 192.168/16) and
		// RFC4193 unique-local IPv6 (fc00::/7) in one check.
		return fmt.Errorf("private address %s", ip)
	}
	return nil
}

// DomainAllowlist implements the browser tool's domain matching: "*"
// allows everything, "*.example.com" matches example.com and any
// subdomain, and a bare "example.com" matches the domain and its
// subdomains.
type DomainAllowlist []string

func (a DomainAllowlist) Allows(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range a {
		pattern = strings.ToLower(pattern)
		switch {
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "*."):
			suffix := pattern[1:] // ".example.com"
			base := pattern[2:]   // "example.com"
			if host == base || strings.HasSuffix(host, suffix) {
				return true
			}
		case pattern == host, strings.HasSuffix(host, "."+pattern):
			return true
		}
	}
	return false
}

// ValidateURL is the browser tool's pre-navigation gate: http(s) scheme
// only, host must resolve to a public address, and (when allowlist is
// non-empty) the host must match it. file:// and every other scheme are
// rejected unconditionally.
func ValidateURL(ctx context.Context, rawURL string, allowlist DomainAllowlist) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed, only http/https", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if err := checkHostIsPublic(host); err != nil {
		return fmt.Errorf("validate_url: %w", err)
	}
	if len(allowlist) > 0 && !allowlist.Allows(host) {
		return fmt.Errorf("validate_url: host %q is not in the domain allowlist", host)
	}
	return nil
}
