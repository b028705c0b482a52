package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/seat-booking-core/internal/middleware"
	"github.com/smarttransit/seat-booking-core/internal/models"
	"github.com/smarttransit/seat-booking-core/pkg/jwt"
)

// Routes bundles the handlers mounted by SetupRoutes
type Routes struct {
	Health   *HealthHandler
	Trips    *TripHandler
	Bookings *BookingHandler
	Payments *PaymentHandler
	Buses    *BusHandler
	Admin    *AdminHandler
}

// SetupRoutes mounts the public, passenger, operator and admin routes
func SetupRoutes(router *gin.Engine, r Routes, jwtService *jwt.Service, logger *logrus.Logger) {
	router.GET("/health", r.Health.Health)

	v1 := router.Group("/api/v1")

	// Public
	trips := v1.Group("/trips")
	{
		trips.GET("/search", r.Trips.SearchTrips)
		trips.GET("/:trip_id/seats", r.Trips.GetSeatAvailability)
	}
	v1.POST("/payments/webhook", r.Payments.Webhook)

	// Authenticated
	auth := v1.Group("")
	auth.Use(middleware.AuthMiddleware(jwtService, logger))
	{
		auth.POST("/holds", r.Bookings.HoldSeats)
		auth.DELETE("/holds/:hold_id", r.Bookings.ReleaseHold)

		auth.GET("/attempts/:attempt_id", r.Bookings.GetAttempt)
		auth.POST("/attempts/:attempt_id/payment", r.Bookings.StartPayment)

		auth.GET("/bookings", r.Bookings.ListBookings)
		auth.POST("/bookings/confirm", r.Bookings.ConfirmBooking)
		auth.GET("/bookings/:booking_id", r.Bookings.GetBooking)
		auth.GET("/bookings/:booking_id/ticket", r.Bookings.GetTicket)
		auth.POST("/bookings/:booking_id/cancel", r.Bookings.CancelBooking)
		auth.PUT("/bookings/:booking_id/seats", r.Bookings.ModifyBooking)

		auth.POST("/buses", r.Buses.RegisterBus)
		auth.GET("/buses/:bus_id", r.Buses.GetBus)
		auth.PUT("/buses/:bus_id/seat-map", r.Buses.UpdateSeatMap)
		auth.POST("/buses/:bus_id/submit", r.Buses.SubmitForApproval)
	}

	// Admin
	admin := auth.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/buses/:bus_id/approve", r.Admin.ApproveBus)
		admin.POST("/buses/:bus_id/reject", r.Admin.RejectBus)
		admin.POST("/buses/:bus_id/reopen", r.Admin.ReopenBus)
		admin.POST("/assignments", r.Admin.CreateAssignment)
		admin.PUT("/bookings/:booking_id/status", r.Bookings.UpdateBookingStatus)
		admin.GET("/payments/:invoice_id/audit", r.Payments.GetPaymentHistory)

		admin.GET("/jobs", r.Admin.GetJobStatus)
		admin.POST("/jobs/:job/run", r.Admin.RunJob)
	}
}
