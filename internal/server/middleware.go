package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

// KeyFunc extracts the rate limit identifier from a request.
type KeyFunc func(r *http.Request) string

// RateLimit guards next with l under policy. Rejections get 429 with a
// Retry-After header and requests without a usable key get 400. Store failures are logged and, when failOpen is set,
// let the request through; otherwise they answer 503.
func RateLimit(l limiter.RateLimiter, policy limiter.Policy, key KeyFunc, failOpen bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			dec, err := l.Allow(r.Context(), id, policy)
			if errors.Is(err, limiter.ErrInvalidRequest) {
				logger.Debug("rate limit key rejected", "id", id, "error", err)
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if err != nil {
				logger.Warn("rate limiter failed", "id", id, "error", err)
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(policy.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
			if !dec.Allow {
				tmr := &limiter.TooManyRequestsError{ID: id, RetryAfter: int64(dec.RetryAfter.Seconds())}
				for k, v := range tmr.Headers() {
					w.Header().Set(k, v)
				}
				http.Error(w, tmr.Error(), tmr.StatusCode())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the remote address.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
