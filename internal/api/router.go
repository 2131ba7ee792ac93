package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/kagami/internal/daemon"
	"github.com/harunnryd/kagami/internal/logger"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestIDHeader = "X-Request-ID"

// Vision is what the HTTP surface needs from the orchestrator.
type Vision interface {
	AnalyzeImage(ctx context.Context, image []byte, kind contract.AnalysisKind) (*contract.AnalysisResult, error)
	DetectFaces(ctx context.Context, image []byte) (*contract.FaceDetectionResult, error)
	ProviderStatus(ctx context.Context) map[contract.ProviderID]contract.ProviderStatus
	Metrics() *metrics.Collector
}

type Options struct {
	// MaxImageBytes caps request bodies on the analysis endpoints.
	MaxImageBytes int64
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
	// Components reports daemon component health for /health; may be nil.
	Components func() map[string]*daemon.ComponentHealth
	Version    string

	// RateLimitRequests per client IP per RateLimitWindow on the analysis
	// routes; 0 disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// CORSAllowedOrigins enables CORS when non-empty.
	CORSAllowedOrigins []string
}

type handler struct {
	vision Vision
	opts   Options
	start  time.Time
}

func NewRouter(v Vision, opts Options) http.Handler {
	h := &handler{vision: v, opts: opts, start: time.Now()}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog)
	if len(opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/providers/status", h.providerStatus)
		r.Get("/providers/metrics", h.providerMetrics)

		r.Group(func(r chi.Router) {
			if opts.RateLimitRequests > 0 && opts.RateLimitWindow > 0 {
				r.Use(httprate.Limit(opts.RateLimitRequests, opts.RateLimitWindow,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(rateLimited),
				))
			}
			r.Post("/analyze", h.analyze)
			r.Post("/faces", h.faces)
		})
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// requestID honours an incoming X-Request-ID and otherwise mints one, so
// orchestrator log lines can be joined with the access log.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" && len(id) <= 128 {
			ctx = logger.WithRequestID(ctx, id)
		}
		ctx, id := logger.EnsureRequestID(ctx)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "HTTP request",
			"request_id", logger.GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusTooManyRequests, &Error{Code: "RATE_LIMITED", Message: "too many analysis requests, slow down"})
}
