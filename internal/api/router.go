package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/classifieds-negotiation/internal/appointment"
	"github.com/hackgods/classifieds-negotiation/internal/negotiation"
	"github.com/hackgods/classifieds-negotiation/internal/offer"
)

type RouterConfig struct {
	Coordinator  *negotiation.Coordinator
	Offers       *offer.Service
	Appointments *appointment.Service
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{coord: cfg.Coordinator, offers: cfg.Offers, appointments: cfg.Appointments}

	r.Route("/listings/{listingID}", func(r chi.Router) {
		r.Post("/offers", h.createOffer)
		r.Get("/offers", h.listOffersForListing)
		r.Get("/appointments", h.listAppointmentsForListing)
	})

	r.Get("/buyers/{buyerID}/offers", h.listOffersForBuyer)
	r.Get("/sellers/{sellerID}/offers", h.listOffersForSeller)

	r.Route("/offers/{id}", func(r chi.Router) {
		r.Get("/", h.getOffer)
		r.Post("/accept", h.respond(negotiation.ActionAccept))
		r.Post("/reject", h.respond(negotiation.ActionReject))
		r.Post("/counter", h.respond(negotiation.ActionCounter))
		r.Post("/accept-counter", h.acceptCounter)
		r.Post("/decline-counter", h.declineCounter)
		r.Post("/appointments", h.scheduleAppointment)
	})

	r.Get("/appointments/upcoming", h.upcomingAppointments)
	r.Get("/appointments/calendar", h.calendar)
	r.Route("/appointments/{id}", func(r chi.Router) {
		r.Get("/", h.getAppointment)
		r.Post("/complete", h.closeAppointment(appointment.StatusCompleted))
		r.Post("/cancel", h.closeAppointment(appointment.StatusCancelled))
		r.Post("/no-show", h.closeAppointment(appointment.StatusNoShow))
	})

	return r
}
