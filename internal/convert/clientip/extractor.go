// Package clientip resolves the identity that rate limiting counts
// against. Behind a reverse proxy the connection's remote address is
// the proxy, not the client; the RFC 7239 Forwarded header carries the
// real client, but only a proxy the operator has listed may vouch for
// it. A client connecting directly can send the header too, so the
// entry's by directive must name a trusted proxy before its for
// directive is believed.
package clientip

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

const forwardedHeader = "Forwarded"

// Extract returns the client IP for the request. With no trusted
// proxies configured the remote address is always used and the
// Forwarded header is ignored entirely.
func Extract(ctx *fasthttp.RequestCtx, trustedProxies []string) string {
	remote := parseRemoteAddr(ctx.RemoteAddr().String())
	if len(trustedProxies) == 0 {
		return remote
	}

	entries := parseForwarded(string(ctx.Request.Header.Peek(forwardedHeader)))
	if len(entries) == 0 {
		return remote
	}

	// The last entry was appended by the proxy closest to this service.
	last := entries[len(entries)-1]
	if !isTrustedProxy(last["by"], trustedProxies) {
		return remote
	}
	if forIP := last["for"]; forIP != "" {
		return forIP
	}
	return remote
}

// parseForwarded splits an RFC 7239 Forwarded header into one directive
// map per proxy hop, e.g. "proto=https;for=1.2.3.4:56;by=5.6.7.8".
// The for and by values are reduced to bare IPs.
func parseForwarded(header string) []map[string]string {
	if header == "" {
		return nil
	}

	var entries []map[string]string
	for _, entry := range strings.Split(header, ",") {
		directives := make(map[string]string)
		for _, part := range strings.Split(entry, ";") {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.TrimSpace(value)
			if key == "for" || key == "by" {
				value = directiveIP(value)
			}
			directives[key] = value
		}
		if len(directives) > 0 {
			entries = append(entries, directives)
		}
	}
	return entries
}

// directiveIP strips RFC 7239 quoting, an optional port, and IPv6
// brackets from a for/by node identifier.
func directiveIP(value string) string {
	value = strings.Trim(value, `"`)
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	return normalizeIP(value)
}

func isTrustedProxy(proxyIP string, trustedProxies []string) bool {
	if proxyIP == "" {
		return false
	}
	for _, trusted := range trustedProxies {
		if normalizeIP(trusted) == proxyIP {
			return true
		}
	}
	return false
}

func parseRemoteAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return normalizeIP(addr)
	}
	return normalizeIP(host)
}

// normalizeIP canonicalizes an IP string so comparisons are not
// defeated by brackets, zones, or alternate IPv6 spellings. Non-IP
// values pass through unchanged.
func normalizeIP(raw string) string {
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if idx := strings.IndexByte(raw, '%'); idx >= 0 {
		raw = raw[:idx]
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	return ip.String()
}
