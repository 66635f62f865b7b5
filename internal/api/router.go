package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/velvetrope/doorlist/internal/api/handlers"
	"github.com/velvetrope/doorlist/internal/api/middleware"
	"github.com/velvetrope/doorlist/internal/config"
	"github.com/velvetrope/doorlist/internal/repository"
	"github.com/velvetrope/doorlist/internal/service"
)

// Services collects everything the router wires into handlers.
type Services struct {
	DB           repository.Conn
	Events       *repository.EventRepository
	Applications *service.ApplicationService
	Approval     *service.ApprovalService
	Codes        *service.CodeService
	Redemption   *service.RedemptionService
}

// NewRouter builds the HTTP router for the doorlist service
func NewRouter(cfg *config.ServerConfig, svcs Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	applicationHandler := handlers.NewApplicationHandler(svcs.Applications)
	adminHandler := handlers.NewAdminHandler(svcs.DB, svcs.Events, svcs.Applications, svcs.Approval, svcs.Codes)
	scannerHandler := handlers.NewScannerHandler(svcs.Redemption)

	// Public guest endpoints
	r.Get("/events", adminHandler.ListEvents)
	r.With(middleware.RateLimit(cfg.SubmitRate, cfg.SubmitBurst)).
		Post("/events/{eventID}/applications", applicationHandler.SubmitOrFetch)

	// Door scanner: stateless redeem plus per-door workflow sessions
	r.Route("/scanner", func(r chi.Router) {
		r.Post("/redeem", scannerHandler.Redeem)
		r.Route("/{door}", func(r chi.Router) {
			r.Post("/arm", scannerHandler.Arm)
			r.Post("/scan", scannerHandler.Scan)
			r.Post("/reset", scannerHandler.Reset)
			r.Get("/state", scannerHandler.State)
		})
	})

	// Admin endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Post("/events", adminHandler.CreateEvent)
		r.Get("/events/{id}", adminHandler.GetEvent)
		r.Delete("/events/{id}", adminHandler.DeleteEvent)
		r.Post("/events/{id}/codes", adminHandler.GenerateCodes)
		r.Get("/events/{id}/applications", adminHandler.ListApplications)
		r.Post("/applications/{id}/approve", adminHandler.Approve)
		r.Post("/applications/{id}/reject", adminHandler.Reject)
	})

	return r
}
