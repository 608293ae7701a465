package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/counseling-booking/internal/auth"
	"github.com/frahmantamala/counseling-booking/internal/booking"
	"github.com/frahmantamala/counseling-booking/internal/therapist"
	"github.com/frahmantamala/counseling-booking/internal/transport/middleware"
	"github.com/frahmantamala/counseling-booking/internal/transport/swagger"
	"github.com/frahmantamala/counseling-booking/internal/user"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, authHandler *auth.Handler, userHandler *user.Handler, therapistHandler *therapist.Handler, bookingHandler *booking.Handler, allowedOrigins string, metricsEnabled bool, metricsPath string, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS(allowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.Metrics)

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	if metricsEnabled {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, promhttp.Handler())
	}

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Auth routes
		if authHandler != nil {
			r.Route("/auth", func(sr chi.Router) {
				sr.Post("/login", authHandler.Login)
				sr.Post("/refresh", authHandler.RefreshToken)
				sr.Post("/logout", authHandler.Logout)
			})
		}

		// Public client registration
		if userHandler != nil {
			r.Post("/users", userHandler.Register)
		}

		// Public therapist catalog (no auth required)
		if therapistHandler != nil {
			r.Get("/therapists", therapistHandler.ListTherapists)
			r.Get("/therapists/{id}", therapistHandler.GetTherapist)
		}

		if authHandler != nil {
			// Protected routes that require authentication
			r.Group(func(pr chi.Router) {
				pr.Use(authHandler.AuthMiddleware)

				if userHandler != nil {
					pr.Get("/users/me", userHandler.GetCurrentUser)
					pr.Patch("/users/me", userHandler.UpdateProfile)
				}

				if bookingHandler != nil {
					pr.Route("/checkout", func(cr chi.Router) {
						cr.Post("/", bookingHandler.StartCheckout)
						cr.Post("/{intentID}/events", bookingHandler.WidgetEvent)
						cr.Get("/{intentID}/status", bookingHandler.PaymentStatus)
						cr.Post("/{intentID}/recheck", bookingHandler.RecheckSettlement)
						cr.Delete("/{intentID}", bookingHandler.CancelCheckout)
					})

					pr.Route("/appointments", func(ar chi.Router) {
						ar.Get("/", bookingHandler.ListAppointments)
						ar.Get("/{id}", bookingHandler.GetAppointment)
						ar.Post("/{id}/retry-payment", bookingHandler.RetryPayment)
					})
				}
			})
		}
	})
}
