// Package httpapi exposes the illustration and training services over HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"illustrationd/internal/illustration"
)

type handlers struct {
	opts Options
	log  zerolog.Logger
}

// NewMux builds the router. Health, readiness, status and metrics are open;
// everything under /v1 goes through bearer auth when it is enabled.
func NewMux(opts Options) http.Handler {
	opts = opts.withDefaults()
	h := &handlers{opts: opts, log: opts.Logger.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger(h.log, parseLevel(opts.LogLevel)))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)
	if c := opts.CORS; c.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: c.Origins,
			AllowedMethods: c.Methods,
			AllowedHeaders: c.Headers,
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	r.Get("/health/", h.health)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.readyz)
	r.Get("/status", h.status)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	r.Route("/v1", func(v chi.Router) {
		v.Use(bearerAuth(opts.Auth))
		v.Post("/images/memory", h.generate(illustration.KindMemory))
		v.Post("/images/subject", h.generate(illustration.KindSubject))
		v.Post("/images/train-lora", h.startTraining)
		v.Get("/images/train-lora/{job_id}", h.trainingStatus)
	})
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
