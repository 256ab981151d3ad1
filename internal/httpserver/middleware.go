package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/kuberdock/internal/apierror"
	"github.com/wisbric/kuberdock/internal/telemetry"
)

type contextKey string

const (
	requestIDKey     contextKey = "request_id"
	apiVersionKey    contextKey = "api_version"
	errorNotifierKey contextKey = "error_notifier"
)

// Supported API versions. The header selects the error envelope shape.
const (
	APIVersionV1     = "v1"
	APIVersionV2     = "v2"
	apiVersionHeader = "kuberdock-api-version"
)

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// APIVersionFromContext returns the negotiated API version, defaulting to v1.
func APIVersionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(apiVersionKey).(string); ok {
		return v
	}
	return APIVersionV1
}

// WithErrorNotifier makes the notifier available to RespondAPIError, which
// reports every unhandled error through it.
func WithErrorNotifier(n ErrorNotifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), errorNotifierKey, n)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func errorNotifierFromContext(ctx context.Context) ErrorNotifier {
	n, _ := ctx.Value(errorNotifierKey).(ErrorNotifier)
	return n
}

// RequestID injects a unique request ID into each request's context and response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// APIVersion negotiates the API version from the kuberdock-api-version
// header. An absent header means v1; an unknown value is rejected before
// routing.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := r.Header.Get(apiVersionHeader)
		if version == "" {
			version = APIVersionV1
		}
		if version != APIVersionV1 && version != APIVersionV2 {
			// The envelope for an unsupported version is the v1 shape: the
			// caller asked for something we cannot speak.
			apiErr := apierror.InvalidAPIVersion(version, APIVersionV1, APIVersionV2)
			Respond(w, apiErr.Status(), errorEnvelopeV1{Error: string(apiErr.Kind), Data: apiErr.Message})
			return
		}
		ctx := context.WithValue(r.Context(), apiVersionKey, version)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger logs every request with method, path, status, and duration.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
			)
		})
	}
}

// Metrics records request duration to Prometheus.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		routePath := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				routePath = pattern
			}
		}

		telemetry.HTTPRequestDuration.WithLabelValues(
			r.Method,
			routePath,
			strconv.Itoa(sw.status),
		).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streaming works through the
// middleware chain.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
