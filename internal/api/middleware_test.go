// SPDX-License-Identifier: MIT
package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustedProxiesParsing(t *testing.T) {
	tp := parseTrustedProxies("10.0.0.0/8, 192.168.1.5, garbage")

	assert.True(t, tp.trusts("10.1.2.3:1234"))
	assert.True(t, tp.trusts("192.168.1.5:80"))
	assert.False(t, tp.trusts("192.168.1.6:80"))
	assert.False(t, tp.trusts("not-an-ip"))

	empty := parseTrustedProxies("")
	assert.False(t, empty.trusts("10.1.2.3:1234"))
}

func TestClientIPHonoursForwardingOnlyFromTrustedProxy(t *testing.T) {
	tp := parseTrustedProxies("10.0.0.0/8")

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", tp.clientIP(r))

	// Untrusted peers cannot spoof via headers.
	r.RemoteAddr = "198.51.100.9:5000"
	assert.Equal(t, "198.51.100.9", tp.clientIP(r))
}

func TestClientIPFallsBackToXRealIP(t *testing.T) {
	tp := parseTrustedProxies("10.0.0.0/8")

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	r.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", tp.clientIP(r))
}
