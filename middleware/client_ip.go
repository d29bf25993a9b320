package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// sourceHeaders are checked in order; the first is what Netlify sets for the visitor address.
var sourceHeaders = []string{
	"X-Nf-Client-Connection-Ip",
	"Client-Ip",
	"CF-Connecting-IP",
	"X-Real-IP",
}

// RequestSourceKey returns the caller's apparent address. Without a trusted proxy header every caller
// may collapse onto the same key; that is accepted for a single small deployment.
func RequestSourceKey(c *gin.Context) string {
	for _, h := range sourceHeaders {
		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			return stripPort(v)
		}
	}
	if v := strings.TrimSpace(c.GetHeader("X-Forwarded-For")); v != "" {
		if first := strings.TrimSpace(strings.Split(v, ",")[0]); first != "" {
			return stripPort(first)
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return stripPort(ip)
	}
	return "unknown"
}

func stripPort(ip string) string {
	if h, _, err := net.SplitHostPort(ip); err == nil {
		return h
	}
	return ip
}
