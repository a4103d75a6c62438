package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/event-booking/internal/auth"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/idempotency"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/robertarktes/event-booking/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller authenticated by AuthMiddleware.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

// LoggerMiddleware puts a request-scoped logger in the context and logs
// every completed request.
func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(observability.ContextWithLogger(r.Context(), entry)))

			entry.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("bytes", ww.BytesWritten()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Info("request completed")
		})
	}
}

// MetricsMiddleware counts requests by route pattern so ids do not explode
// label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("eventbook/http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.request_id", middleware.GetReqID(r.Context())),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware verifies the bearer token. When optional is set, requests
// without an Authorization header pass through anonymously; a bad token is
// always rejected.
func AuthMiddleware(tokens *auth.Tokens, optional bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, present := bearerToken(r)
			if !present {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, r, errors.Wrap(domain.ErrUnauthorized, "missing bearer token"))
				return
			}
			id, err := tokens.Verify(raw)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := withIdentity(r.Context(), id)
			if l := observability.LoggerFromContext(ctx, nil); l != nil {
				ctx = observability.ContextWithLogger(ctx, l.WithField("user_id", id.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireRole(roles ...domain.Role) func(next http.Handler) http.Handler {
	allowed := make(map[domain.Role]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, r, errors.Wrap(domain.ErrUnauthorized, "authentication required"))
				return
			}
			if !allowed[id.Role] {
				writeError(w, r, errors.Wrapf(domain.ErrForbidden, "role %s may not access this resource", id.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware limits authenticated callers per user and everyone
// per client IP. Redis failures let the request through.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perUser, perIP int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := observability.LoggerFromContext(ctx, nopLogger)

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			checks := []struct {
				key  string
				rate int
			}{{"ip:" + ip, perIP}}
			if id, ok := IdentityFrom(ctx); ok {
				checks = append(checks, struct {
					key  string
					rate int
				}{"user:" + id.UserID.String(), perUser})
			}

			for _, c := range checks {
				ok, err := rl.Allow(ctx, c.key, c.rate, window)
				if err != nil {
					log.WithError(err).Warn("rate limiter unavailable")
				}
				if !ok {
					observability.RateLimitExceeded.Inc()
					w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
					writeJSON(w, http.StatusTooManyRequests, errorBody{errorDetail{Code: "rate_limited", Message: "rate limit exceeded"}})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of an earlier request
// with the same Idempotency-Key from the same caller. The header is
// optional; concurrent duplicates get 409 while the first is in flight.
// Only non-5xx responses are stored so retryable failures can be retried.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if idemp == nil || r.Method != http.MethodPost || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > 255 {
				badRequest(w, r, "Idempotency-Key is too long")
				return
			}
			scope := "anon"
			if id, ok := IdentityFrom(r.Context()); ok {
				scope = id.UserID.String()
			}
			key := idempotency.Key(scope, r.URL.Path+":"+clientKey)
			ctx := r.Context()
			log := observability.LoggerFromContext(ctx, nopLogger)

			if prev, err := idemp.Get(ctx, key); err != nil {
				log.WithError(err).Warn("idempotency lookup failed")
			} else if prev != nil {
				w.Header().Set("Idempotent-Replay", "true")
				if prev.ContentType != "" {
					w.Header().Set("Content-Type", prev.ContentType)
				}
				w.WriteHeader(prev.Status)
				_, _ = w.Write(prev.Result)
				return
			}

			if err := idemp.Begin(ctx, key); err != nil {
				if errors.Is(err, idempotency.ErrInFlight) {
					writeError(w, r, err)
					return
				}
				log.WithError(err).Warn("idempotency lock failed")
			}
			defer func() {
				if err := idemp.End(context.WithoutCancel(ctx), key); err != nil {
					log.WithError(err).Warn("idempotency unlock failed")
				}
			}()

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status != 0 && cw.status < http.StatusInternalServerError {
				resp := idempotency.Response{Status: cw.status, ContentType: cw.Header().Get("Content-Type"), Result: cw.buf.Bytes()}
				if err := idemp.Set(context.WithoutCancel(ctx), key, resp); err != nil {
					log.WithError(err).Warn("idempotency store failed")
				}
			}
		})
	}
}
