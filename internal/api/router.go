package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Cheertaboi/discount-code-service/internal/api/handlers"
	"github.com/Cheertaboi/discount-code-service/internal/api/middleware"
)

type Options struct {
	Service     handlers.DiscountService
	Hub         *handlers.Hub
	Ready       func() bool
	AdminSecret string
	Logger      *slog.Logger
}

// NewRouter builds the HTTP router for the discount-service
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	var notifier handlers.Notifier
	if opts.Hub != nil {
		notifier = opts.Hub
	}
	h := handlers.NewDiscountHandler(opts.Service, notifier, logger)

	// Public code endpoints
	r.Route("/codes", func(r chi.Router) {
		r.Get("/", h.ListCodes)
		r.Get("/recent", h.RecentCodes)
		r.Post("/generate", h.GenerateCodes)
		r.Post("/{code}/use", h.UseCode)
	})

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireSecret(opts.AdminSecret))
		r.Get("/codes/{code}", h.GetCode)
		r.Post("/codes/{code}/deactivate", h.DeactivateCode)
		r.Delete("/codes/{code}", h.DeleteCode)
	})

	if opts.Hub != nil {
		r.Handle("/discountCodeHub", opts.Hub)
	}

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil && !opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("preloading"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return r
}
