// Package ratelimit gates WebSocket connection attempts per remote address.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/config"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/metrics"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// ConnLimiter enforces the signaling server's single rate-limit rule: at most N
// connection attempts within a rolling window per remote address. There is no
// horizontal scale-out for this server, so an in-memory store is sufficient
// and matches spec for a single-process authority.
type ConnLimiter struct {
	ws         *limiter.Limiter
	trustProxy bool
}

// NewConnLimiter builds a ConnLimiter from the formatted rate in cfg.ConnRateLimit
// (ulule/limiter syntax, e.g. "10-M" for 10 per minute).
func NewConnLimiter(cfg *config.Config, trustProxy bool) (*ConnLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.ConnRateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid CONN_RATE_LIMIT: %w", err)
	}

	store := memory.NewStore()
	return &ConnLimiter{
		ws:         limiter.New(store, rate),
		trustProxy: trustProxy,
	}, nil
}

// Allow checks whether a new connection attempt from the given request's
// remote address should proceed. Exceeding the limit is a TCP-level reject:
// the caller must close the connection without sending an envelope.
func (l *ConnLimiter) Allow(ctx context.Context, r *http.Request) bool {
	ip := ClientIP(r, l.trustProxy)

	limiterCtx, err := l.ws.Get(ctx, ip)
	if err != nil {
		// Fail open: a broken limiter must not take down the signaling path.
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		metrics.RateLimitRequests.WithLabelValues("/ws").Inc()
		return true
	}

	metrics.RateLimitRequests.WithLabelValues("/ws").Inc()
	if limiterCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("window_exceeded").Inc()
		return false
	}
	return true
}

// ClientIP resolves the remote address to rate-limit against. When trustProxy
// is false (the default), it always uses the TCP peer address, ignoring any
// client-supplied headers. When true, X-Forwarded-For / X-Real-IP are
// honored, matching a server deployed behind a trusted reverse proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := parseIP(strings.TrimSpace(parts[0])); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			if ip := parseIP(strings.TrimSpace(xrip)); ip != "" {
				return ip
			}
		}
	}
	return parseIP(r.RemoteAddr)
}

// parseIP strips a trailing port (and IPv6 zone) from a host:port pair,
// returning just the bare address.
func parseIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
