package adaptor

import (
	"encoding/json"
	"net/http"

	"trip-installments/internal/dto/request"
	"trip-installments/internal/usecase"
	"trip-installments/pkg/utils"

	"go.uber.org/zap"
)

type BookingHandler struct {
	service usecase.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log.With(zap.String("handler", "booking")),
	}
}

// Register handles POST /api/admin/bookings
func (h *BookingHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	schedule, err := h.service.Register(r.Context(), &req)
	if err != nil {
		handleServiceError(h.log, w, err, "register booking")
		return
	}

	utils.ResponseCreated(w, "success", schedule)
}

// List handles GET /api/admin/bookings
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := &request.ListBookingsRequest{
		PaginatedRequest: request.PageFromQuery(query, 10),
		Status:           query.Get("status"),
	}

	bookings, err := h.service.List(r.Context(), req)
	if err != nil {
		handleServiceError(h.log, w, err, "list bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// GetByID handles GET /api/admin/bookings/{id}
func (h *BookingHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	booking, err := h.service.GetByID(r.Context(), bookingID)
	if err != nil {
		handleServiceError(h.log, w, err, "get booking by ID")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// Cancel handles PUT /api/admin/bookings/{id}/cancel
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	booking, err := h.service.Cancel(r.Context(), bookingID)
	if err != nil {
		handleServiceError(h.log, w, err, "cancel booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}
