package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	Logger      *slog.Logger
	JWTSecret   string
	CORSOrigins []string
}

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	auth := NewHostAuth(cfg.JWTSecret)

	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORS(cfg.CORSOrigins))

	r.Get("/health", HealthCheck)

	r.Route("/concerts", func(r chi.Router) {
		r.Get("/{id}", h.GetConcert)
		r.Post("/{id}/rsvps", h.RequestSeats)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Post("/", h.CreateConcert)
			r.Get("/{id}/stats", h.ConcertStats)
		})
	})

	r.Route("/rsvps", func(r chi.Router) {
		r.Use(auth.Require)
		r.Get("/", h.ListRSVPs)
		r.Get("/{id}", h.GetRSVP)
		r.Get("/{id}/transitions", h.Transitions)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/decline", h.Decline)
		r.Post("/{id}/waitlist", h.Waitlist)
	})

	r.Route("/hosts/{id}", func(r chi.Router) {
		r.Use(auth.Require)
		r.Get("/concerts", h.HostConcerts)
		r.Get("/stats", h.HostStats)
	})

	return r
}
