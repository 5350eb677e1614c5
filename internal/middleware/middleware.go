// Package middleware wraps the metastore router with request ids, access
// logs, panic recovery, per-scope rate limits, deadlines and metrics.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/devrev/pairdb/metastore/internal/metrics"
)

// ContextKey is a type for context keys.
type ContextKey string

// RequestIDKey is the context key for the request ID.
const RequestIDKey ContextKey = "request_id"

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// maxLimitedScopes bounds the number of scope buckets kept at once
const maxLimitedScopes = 1024

// RequestID tags the request with the caller's X-Request-ID or a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		r.Header.Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// GetRequestID returns the request ID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestFields names the entity a request addresses
func requestFields(r *http.Request) []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("route", routeTemplate(r)),
	}
	vars := mux.Vars(r)
	if scope, ok := vars["scope"]; ok {
		fields = append(fields, zap.String("scope", scope))
	}
	if name, ok := vars["name"]; ok {
		fields = append(fields, zap.String("entity", name))
	}
	return fields
}

// Logging writes one access log line per request. Server errors log at error
// level, client errors at warn and the rest at debug.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			fields := append(requestFields(r),
				zap.Int("status", rw.statusCode),
				zap.Duration("latency", time.Since(start)),
			)
			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				logger.Error("request failed", fields...)
			case rw.statusCode >= http.StatusBadRequest:
				logger.Warn("request rejected", fields...)
			default:
				logger.Debug("request served", fields...)
			}
		})
	}
}

// Recovery turns a handler panic into an INTERNAL error response.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("handler panicked", append(requestFields(r), zap.Any("panic", p))...)
					writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// errorBody matches the handler package's error response
type errorBody struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: GetRequestID(r.Context()),
	})
}

// RateLimiter keeps one token bucket per scope so a busy scope cannot starve
// the others. Requests outside any scope share the "" bucket.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
	logger  *zap.Logger
}

// NewRateLimiter allows requestsPerSecond with bursts of burstSize per scope.
func NewRateLimiter(requestsPerSecond float64, burstSize int, logger *zap.Logger) *RateLimiter {
	buckets, err := lru.New[string, *rate.Limiter](maxLimitedScopes)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &RateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burstSize,
		buckets: buckets,
		logger:  logger,
	}
}

func (rl *RateLimiter) bucket(scope string) *rate.Limiter {
	if l, ok := rl.buckets.Get(scope); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if prev, ok, _ := rl.buckets.PeekOrAdd(scope, l); ok {
		return prev
	}
	return l
}

// Limit rejects requests over the scope's budget with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := mux.Vars(r)["scope"]
		if !rl.bucket(scope).Allow() {
			rl.logger.Warn("rate limit exceeded", requestFields(r)...)
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded for scope "+strconv.Quote(scope))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Timeout bounds the request context. Store calls observe the deadline.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Metrics records request counts and latency by route template.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			m.RecordRequest(r.Method, routeTemplate(r), strconv.Itoa(rw.statusCode), time.Since(start).Seconds())
		})
	}
}

// routeTemplate keeps label cardinality bounded by entity count
func routeTemplate(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tmpl, err := cur.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Chain applies middlewares so the first one listed runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
