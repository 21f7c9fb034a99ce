package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"quotepulse-backend/internal/handlers"
	"quotepulse-backend/internal/metrics"
	"quotepulse-backend/internal/middleware"
	"quotepulse-backend/internal/websocket"
)

type Options struct {
	FrontendURL     string
	IngestRateLimit int // requests per minute per IP
	Logger          zerolog.Logger
}

func New(
	jwtAuth *middleware.JWTAuth,
	activityHandler *handlers.ActivityHandler,
	viewersHandler *handlers.ViewersHandler,
	wsHandler *websocket.Handler,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.CORS(opts.FrontendURL))

	ingestLimiter := middleware.RateLimit(opts.IngestRateLimit, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Presence ────
		r.Route("/ws/quote/{documentId}", func(r chi.Router) {
			r.Get("/", wsHandler.HandleQuote)
			r.Get("/viewers", viewersHandler.Get)
		})

		// ──── Activity ────
		r.Route("/activities", func(r chi.Router) {
			r.With(ingestLimiter).Post("/", activityHandler.MissingDocument)
			r.With(ingestLimiter).Post("/{documentId}", activityHandler.Ingest)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/{documentId}", activityHandler.List)
			})
		})
	})

	return r
}
