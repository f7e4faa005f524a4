// Package network provides network-related utilities.
package network

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from the request. Forwarding
// headers (X-Forwarded-For, then X-Real-IP) are honored only when
// trustProxy is set, since any client can send them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
