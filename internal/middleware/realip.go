package middleware

import (
	"net/http"
	"net/netip"
	"strings"
)

// RealIPMiddleware rewrites X-Real-IP from forwarding headers, but only for
// requests arriving from a configured trusted proxy. Everything downstream
// (rate limiting, security logs) reads the client IP from X-Real-IP.
type RealIPMiddleware struct {
	trusted []netip.Prefix
}

// NewRealIPMiddleware creates a RealIPMiddleware. trustedProxies may hold IP
// addresses ("192.168.1.1") or CIDRs ("10.0.0.0/8"); invalid entries are skipped.
func NewRealIPMiddleware(trustedProxies []string) *RealIPMiddleware {
	m := &RealIPMiddleware{}

	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if prefix, err := netip.ParsePrefix(proxy); err == nil {
			m.trusted = append(m.trusted, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(proxy); err == nil {
			m.trusted = append(m.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}

	return m
}

// Handler returns the middleware handler. Any client-supplied X-Real-IP is
// overwritten.
func (m *RealIPMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if realIP := m.extractRealIP(r); realIP != "" {
			r.Header.Set("X-Real-IP", realIP)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RealIPMiddleware) extractRealIP(r *http.Request) string {
	remote, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !m.isTrustedProxy(remote) {
		return remote.String()
	}

	// Cloudflare's header takes priority
	if cfIP := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}

	// First hop of X-Forwarded-For is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	return remote.String()
}

func (m *RealIPMiddleware) isTrustedProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range m.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemoteAddr extracts the IP from RemoteAddr, which may carry a port.
func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	if addr, err := netip.ParseAddr(remoteAddr); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}
