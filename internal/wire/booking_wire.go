package wire

import (
	"trip-installments/internal/adaptor"

	"github.com/go-chi/chi/v5"
)

func wireBooking(
	r chi.Router,
	bookingHandler *adaptor.BookingHandler,
	installmentHandler *adaptor.InstallmentHandler,
) {
	r.Route("/bookings", func(r chi.Router) {
		// POST /api/admin/bookings - Register a booking and generate its schedule
		r.Post("/", bookingHandler.Register)

		// GET /api/admin/bookings - List bookings, optionally by status
		r.Get("/", bookingHandler.List)

		// GET /api/admin/bookings/{id} - Booking with its installments
		r.Get("/{id}", bookingHandler.GetByID)

		// POST /api/admin/bookings/{id}/schedule - Regenerate the schedule for the unpaid balance
		r.Post("/{id}/schedule", installmentHandler.GenerateSchedule)

		// PUT /api/admin/bookings/{id}/frequency - Change frequency and replace unpaid installments
		r.Put("/{id}/frequency", installmentHandler.ChangeFrequency)

		// PUT /api/admin/bookings/{id}/cancel - Cancel booking and unpaid installments
		r.Put("/{id}/cancel", bookingHandler.Cancel)
	})
}
