package adaptor

import (
	"errors"
	"fmt"
	"net/http"

	"trip-installments/internal/engine"
	"trip-installments/internal/usecase"
	"trip-installments/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	Booking     *BookingHandler
	Installment *InstallmentHandler
}

func NewHandler(service *usecase.Service, poller PollRunner, log *zap.Logger) *Handler {
	return &Handler{
		Booking:     NewBookingHandler(service.Booking, log),
		Installment: NewInstallmentHandler(service.Installment, poller, log),
	}
}

// pathID parses the {name} URL parameter as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// handleServiceError maps service errors to HTTP responses
func handleServiceError(log *zap.Logger, w http.ResponseWriter, err error, operation string) {
	errMsg := err.Error()

	switch {
	case errors.Is(err, usecase.ErrBookingNotFound), errors.Is(err, usecase.ErrInstallmentNotFound):
		log.Warn(operation+" failed - not found",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseNotFound(w, errMsg)

	case errors.Is(err, usecase.ErrValidation),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidFrequency):
		log.Warn(operation+" validation failed",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseBadRequest(w, errMsg, nil)

	case errors.Is(err, usecase.ErrBookingNotActive),
		errors.Is(err, usecase.ErrBookingSettled),
		errors.Is(err, usecase.ErrInstallmentInFlight),
		errors.Is(err, usecase.ErrInvalidTransition):
		log.Warn(operation+" failed - invalid state",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseConflict(w, errMsg)

	default:
		log.Error("Failed to "+operation,
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseInternalError(w, "Internal server error")
	}
}
