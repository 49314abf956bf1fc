package main

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/activeview/mab/internal/ratelimit"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("client", clientKey(r)).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// limited wraps a handler with the global token bucket and the per-client
// sliding window for the named endpoint.
func (s *Server) limited(endpoint string, limit int, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "10")
			s.metrics.RateLimited.WithLabelValues(endpoint).Inc()
			writeError(w, http.StatusTooManyRequests, "too many requests", "")
			return
		}

		key := clientKey(r) + ":" + endpoint
		d := s.perClient.Allow(key, limit)
		setRateHeaders(w, d)
		if !d.Allowed {
			s.metrics.RateLimited.WithLabelValues(endpoint).Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", fmt.Sprintf("limit %d per minute for %s", limit, endpoint))
			return
		}

		next(w, r)
	}
}

func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		retryAfter := time.Until(d.ResetAt).Seconds()
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
	}
}

// clientKey identifies the caller for rate limiting: first hop of
// X-Forwarded-For when present, otherwise the remote address.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
