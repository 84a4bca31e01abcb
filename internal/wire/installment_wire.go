package wire

import (
	"trip-installments/internal/adaptor"

	"github.com/go-chi/chi/v5"
)

func wireInstallment(r chi.Router, installmentHandler *adaptor.InstallmentHandler) {
	r.Route("/installments", func(r chi.Router) {
		// GET /api/admin/installments/due - Pending installments due by ?at=
		r.Get("/due", installmentHandler.ListDue)

		// GET /api/admin/installments/retry-ready - Failed installments whose retry time has passed
		r.Get("/retry-ready", installmentHandler.ListRetryReady)

		// GET /api/admin/installments/unresolved - Exhausted or authentication-required installments
		r.Get("/unresolved", installmentHandler.ListUnresolved)

		// POST /api/admin/installments/{id}/outcome - Record a charge outcome reported out of band
		r.Post("/{id}/outcome", installmentHandler.RecordOutcome)
	})

	// POST /api/admin/poll - Run one poll cycle now
	r.Post("/poll", installmentHandler.Poll)
}
