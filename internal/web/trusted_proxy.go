package web

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxyChecker validates whether requests come from trusted proxies.
// It is immutable after construction and safe for concurrent use.
type TrustedProxyChecker struct {
	trustedNets []*net.IPNet
	trustedIPs  []net.IP
}

// NewTrustedProxyChecker creates a new trusted proxy checker from a list of
// IP addresses and CIDR ranges. Invalid entries are ignored.
func NewTrustedProxyChecker(trustedProxies []string) *TrustedProxyChecker {
	tpc := &TrustedProxyChecker{}

	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err == nil {
				tpc.trustedNets = append(tpc.trustedNets, network)
				continue
			}
		}

		if ip := net.ParseIP(entry); ip != nil {
			tpc.trustedIPs = append(tpc.trustedIPs, ip)
		}
	}

	return tpc
}

// IsTrusted checks if the given address is a trusted proxy.
func (tpc *TrustedProxyChecker) IsTrusted(ipStr string) bool {
	if !tpc.HasTrustedProxies() {
		return false
	}

	ip := parseClientIP(ipStr)
	if ip == nil {
		return false
	}

	for _, trustedIP := range tpc.trustedIPs {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	for _, network := range tpc.trustedNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// HasTrustedProxies returns true if any trusted proxies are configured.
func (tpc *TrustedProxyChecker) HasTrustedProxies() bool {
	return len(tpc.trustedNets) > 0 || len(tpc.trustedIPs) > 0
}

// ClientIP extracts the real client IP from the request, without port.
// X-Forwarded-For and X-Real-IP are only honored when the direct peer is a
// trusted proxy.
func (tpc *TrustedProxyChecker) ClientIP(r *http.Request) string {
	directIP := hostOnly(r.RemoteAddr)

	if !tpc.IsTrusted(r.RemoteAddr) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the original client.
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); clientIP != "" {
			return hostOnly(clientIP)
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return hostOnly(xri)
	}

	return directIP
}

// parseClientIP parses "1.2.3.4", "1.2.3.4:80", "[::1]:80" or "::1".
func parseClientIP(addr string) net.IP {
	return net.ParseIP(hostOnly(addr))
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
