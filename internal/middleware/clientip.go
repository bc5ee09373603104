package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const clientIPContextKey contextKey = "client_ip"

// ClientIP resolves the caller's address once per request. Forwarding
// headers are only honoured when trustProxy is set.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPContextKey, ip)))
		})
	}
}

// ClientIPFromRequest returns the address stored by ClientIP, falling back to
// the connection's remote address.
func ClientIPFromRequest(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return extractClientIP(r, false)
}

func extractClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		forwarded := r.Header.Get("X-Forwarded-For")
		if forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}

		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err == nil && host != "" {
		return strings.ToValidUTF8(host, "")
	}

	if remote == "" {
		return "unknown"
	}

	return strings.ToValidUTF8(remote, "")
}

// parseIP returns the canonical form of a header-supplied address, or "" when
// the value is not an IP.
func parseIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return ""
	}
	return ip.String()
}
