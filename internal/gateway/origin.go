// SPDX-License-Identifier: MIT

// Package gateway owns the external HTTP surface: the WebSocket endpoint the
// presence protocol runs over, the login and snapshot REST endpoints, and the
// middleware stack around them.
package gateway

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// originChecker validates the Origin header on WebSocket upgrades. With an
// allowlist configured, the origin must match one of its entries. Without
// one, only same-host origins pass. Requests without an Origin header are
// accepted; non-browser clients do not send one and gain nothing by forging
// it.
type originChecker struct {
	allowed map[string]struct{}
}

func newOriginChecker(origins []string) (*originChecker, error) {
	if len(origins) == 0 {
		return &originChecker{}, nil
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		norm, err := normalizeOrigin(o)
		if err != nil {
			return nil, fmt.Errorf("allowed origin %q: %w", o, err)
		}
		allowed[norm] = struct{}{}
	}
	return &originChecker{allowed: allowed}, nil
}

func (c *originChecker) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	norm, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}

	if c.allowed != nil {
		_, ok := c.allowed[norm]
		return ok
	}

	// Same-host mode compares hostnames only; the LB terminating TLS
	// rewrites ports anyway.
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost, err := normalizeHost(u.Hostname())
	if err != nil {
		return false
	}
	requestHost, err := normalizeHost(hostOnly(r.Host))
	if err != nil {
		return false
	}
	return originHost == requestHost
}

// normalizeOrigin canonicalizes "scheme://host[:port]" for bytewise
// comparison: lowercased scheme, IDNA ASCII host, default ports stripped.
func normalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	if port == "" {
		return scheme + "://" + host, nil
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}

// normalizeHost validates and normalizes a hostname for comparison. IP
// literals pass through; names go through IDNA so a Unicode origin matches
// its punycode allowlist entry.
func normalizeHost(raw string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
