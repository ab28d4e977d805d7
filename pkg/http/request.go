package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// maxUserAgentLen bounds what gets stored from hostile clients.
const maxUserAgentLen = 512

// IPConfig controls which proxies may assert a client address through
// forwarding headers.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// trusted reports whether the TCP peer falls inside a configured proxy
// range. Invalid CIDR entries are skipped.
func (c *IPConfig) trusted(addr string) bool {
	if c == nil || len(c.TrustedProxies) == 0 {
		return false
	}

	peer, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}

	for _, cidr := range c.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(peer) {
			return true
		}
	}
	return false
}

// ExtractClientIP resolves the caller's address. X-Forwarded-For and
// X-Real-IP are honored only when the TCP peer is a trusted proxy, so
// clients cannot spoof their source by setting the headers themselves.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer := peerAddr(r)

	if config.trusted(peer) {
		// X-Forwarded-For may carry a chain; take the first parseable hop
		for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			hop = strings.TrimSpace(hop)
			if _, err := netip.ParseAddr(hop); err == nil {
				return hop
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if _, err := netip.ParseAddr(xri); err == nil {
				return xri
			}
		}
	}

	return peer
}

// ExtractUserAgent returns the User-Agent header truncated so hostile
// clients cannot bloat attempt records.
func ExtractUserAgent(r *http.Request) string {
	ua := r.Header.Get("User-Agent")
	if len(ua) > maxUserAgentLen {
		return ua[:maxUserAgentLen]
	}
	return ua
}

// peerAddr strips the port from RemoteAddr.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
