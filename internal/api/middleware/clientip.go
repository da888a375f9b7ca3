package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ClientIP rewrites RemoteAddr to the caller's IP. Forwarding headers are
// honoured only when the direct peer is a trusted proxy.
type ClientIP struct {
	trusted []*net.IPNet
}

// NewClientIP parses trusted proxy IPs or CIDRs. Invalid entries are logged
// and skipped.
func NewClientIP(trusted []string, logger zerolog.Logger) *ClientIP {
	c := &ClientIP{}
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid trusted proxy")
			continue
		}
		c.trusted = append(c.trusted, ipNet)
	}
	return c
}

func (c *ClientIP) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range c.trusted {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the client IP of r. X-Forwarded-For is walked from the
// right, skipping trusted hops; the first untrusted hop is the client.
func (c *ClientIP) Resolve(r *http.Request) string {
	peer := RealIP(r)
	if !c.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break
			}
			if !c.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return peer
}

// Middleware replaces RemoteAddr with the resolved client IP.
func (c *ClientIP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.RemoteAddr = c.Resolve(r)
		next.ServeHTTP(w, r)
	})
}

// RealIP returns the host part of RemoteAddr. Behind ClientIP.Middleware
// this is the resolved client IP.
func RealIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
