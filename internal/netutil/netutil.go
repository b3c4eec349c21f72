// SPDX-License-Identifier: MIT

// Package netutil holds small network helpers shared by discovery and the
// panel client.
package netutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// BaseURL normalises a panel host into a base URL. Accepts a bare host or
// host:port ("192.168.1.10", "span.local:80") or a full http(s) URL and
// returns the URL without a trailing slash.
func BaseURL(host string) (string, error) {
	s := strings.TrimSpace(host)
	if s == "" {
		return "", fmt.Errorf("empty panel host")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse panel host %q: %w", host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q for panel host", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("panel host %q has no authority", host)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// IsIPv4 reports whether s is an IPv4 literal.
func IsIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}
