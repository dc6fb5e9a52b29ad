package apihttp

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"feedstream/internal/metrics"
)

var errNoHijack = errors.New("response writer does not support hijacking")

// responseWriter records what a handler sent. A hijacked connection (a feed
// session upgrade) is recorded as 101.
type responseWriter struct {
	http.ResponseWriter
	status   int
	size     int
	hijacked bool
}

func wrapResponse(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Hijack lets gorilla/websocket take over the connection through the chain.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNoHijack
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
		rw.status = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

// corsMiddleware reflects the request origin when it is whitelisted. An empty
// whitelist allows every origin. Requests without an Origin header are
// same-origin and get no CORS headers.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	whitelist := newOriginWhitelist(allowed)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(whitelist, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Expose-Headers", "Content-Length, Retry-After")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newOriginWhitelist(allowed []string) map[string]struct{} {
	whitelist := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			whitelist[origin] = struct{}{}
		}
	}
	return whitelist
}

func originAllowed(whitelist map[string]struct{}, origin string) bool {
	if len(whitelist) == 0 {
		return true
	}
	_, ok := whitelist[strings.TrimRight(origin, "/")]
	return ok
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrapResponse(w)

		next.ServeHTTP(rw, r)

		if rw.hijacked {
			logger.LogAttrs(r.Context(), slog.LevelDebug, "feed session upgraded",
				slog.String("path", r.URL.Path),
				slog.String("query", truncate(r.URL.RawQuery, 180)),
				slog.String("clientIP", clientIP(r)),
			)
			return
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Int("bytes", rw.size),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		if q := strings.TrimSpace(r.URL.RawQuery); q != "" {
			attrs = append(attrs, slog.String("query", truncate(q, 180)))
		}
		if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
			attrs = append(attrs, slog.String("userAgent", truncate(ua, 120)))
		}
		logger.LogAttrs(r.Context(), pickRequestLogLevel(r.URL.Path, rw.status), "http request", attrs...)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := wrapResponse(w)
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("clientIP", clientIP(r)),
					slog.String("stack", string(debug.Stack())),
				)
				if !rw.hijacked {
					writeError(rw, http.StatusInternalServerError, "internal_error", "internal server error")
				}
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := wrapResponse(w)
		next.ServeHTTP(rw, r)
		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		if !rw.hijacked {
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		}
	})
}

func normalizeRoute(path string) string {
	switch {
	case path == "/metrics", path == "/healthz", path == "/feed", path == "/positions", path == "/ws/feed":
		return path
	case strings.HasPrefix(path, "/positions/"):
		return "/positions/:key"
	default:
		return "/other"
	}
}

func pickRequestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case isNoisyPath(path):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func isNoisyPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

const maxTrackedClients = 4096

// clientLimiter keeps one token bucket per client IP. The least recently
// seen clients are forgotten once maxTrackedClients is reached.
type clientLimiter struct {
	rps     rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

func newClientLimiter(rps float64, burst, capacity int) *clientLimiter {
	if capacity <= 0 {
		capacity = maxTrackedClients
	}
	buckets, _ := lru.New[string, *rate.Limiter](capacity)
	return &clientLimiter{rps: rate.Limit(rps), burst: burst, buckets: buckets}
}

func (l *clientLimiter) allow(client string) bool {
	lim, ok := l.buckets.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		if prev, found, _ := l.buckets.PeekOrAdd(client, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}

// rateLimitMiddleware answers 429 once a client exceeds its budget. Health
// checks and scrapes are never limited.
func rateLimitMiddleware(limiter *clientLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isNoisyPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
