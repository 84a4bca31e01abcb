package adaptor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"trip-installments/internal/charge"
	"trip-installments/internal/data/entity"
	"trip-installments/internal/dto/request"
	"trip-installments/internal/dto/response"
	"trip-installments/internal/poller"
	"trip-installments/internal/usecase"
	"trip-installments/pkg/utils"

	"go.uber.org/zap"
)

// PollRunner triggers one poll cycle on demand.
type PollRunner interface {
	RunOnce(ctx context.Context) (poller.Summary, error)
}

type InstallmentHandler struct {
	service usecase.InstallmentService
	poller  PollRunner
	log     *zap.Logger
}

func NewInstallmentHandler(service usecase.InstallmentService, poller PollRunner, log *zap.Logger) *InstallmentHandler {
	return &InstallmentHandler{
		service: service,
		poller:  poller,
		log:     log.With(zap.String("handler", "installment")),
	}
}

// GenerateSchedule handles POST /api/admin/bookings/{id}/schedule
func (h *InstallmentHandler) GenerateSchedule(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	result, err := h.service.GenerateSchedule(r.Context(), bookingID)
	if err != nil {
		handleServiceError(h.log, w, err, "generate schedule")
		return
	}

	utils.ResponseCreated(w, "success", response.ScheduleToResponse(result.Booking, result.Cancelled, result.Installments))
}

// ChangeFrequency handles PUT /api/admin/bookings/{id}/frequency
func (h *InstallmentHandler) ChangeFrequency(w http.ResponseWriter, r *http.Request) {
	bookingID, err := pathID(r, "id")
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	var req request.ChangeFrequencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	result, err := h.service.ChangeFrequency(r.Context(), bookingID, entity.PaymentFrequency(req.Frequency))
	if err != nil {
		handleServiceError(h.log, w, err, "change frequency")
		return
	}

	utils.ResponseSuccess(w, "success", response.ScheduleToResponse(result.Booking, result.Cancelled, result.Installments))
}

// ListDue handles GET /api/admin/installments/due?at=&limit=
func (h *InstallmentHandler) ListDue(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list due installments", h.service.ListDue)
}

// ListRetryReady handles GET /api/admin/installments/retry-ready?at=&limit=
func (h *InstallmentHandler) ListRetryReady(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list retry-ready installments", h.service.ListRetryReady)
}

func (h *InstallmentHandler) list(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	find func(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error),
) {
	query := r.URL.Query()

	at, err := utils.ParseTime(query.Get("at"), time.Now())
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}
	limit := utils.ParseInt(query.Get("limit"), 100)

	installments, err := find(r.Context(), at, limit)
	if err != nil {
		handleServiceError(h.log, w, err, operation)
		return
	}

	utils.ResponseSuccess(w, "success", response.InstallmentsToResponse(installments))
}

// ListUnresolved handles GET /api/admin/installments/unresolved?page=&per_page=
func (h *InstallmentHandler) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	page := request.PageFromQuery(r.URL.Query(), 20)

	installments, err := h.service.ListUnresolved(r.Context(), page.Limit(), page.Offset())
	if err != nil {
		handleServiceError(h.log, w, err, "list unresolved installments")
		return
	}

	utils.ResponseSuccess(w, "success", response.InstallmentsToResponse(installments))
}

// RecordOutcome handles POST /api/admin/installments/{id}/outcome
func (h *InstallmentHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	installmentID, err := pathID(r, "id")
	if err != nil {
		utils.ResponseBadRequest(w, err.Error(), nil)
		return
	}

	var req request.RecordOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	inst, err := h.service.RecordOutcome(r.Context(), installmentID, charge.Outcome{
		Kind:           charge.OutcomeKind(req.Outcome),
		TransactionRef: req.TransactionRef,
		Reason:         req.Reason,
	})
	if err != nil {
		handleServiceError(h.log, w, err, "record outcome")
		return
	}

	utils.ResponseSuccess(w, "success", response.InstallmentToResponse(inst))
}

// Poll handles POST /api/admin/poll
func (h *InstallmentHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// A client disconnect must not abort charges mid-flight.
	summary, err := h.poller.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		handleServiceError(h.log, w, err, "run poll cycle")
		return
	}

	utils.ResponseSuccess(w, "success", response.PollResponse{
		LockContended: summary.LockContended,
		Due:           summary.Due,
		RetryReady:    summary.RetryReady,
		Paid:          summary.Paid,
		Failed:        summary.Failed,
		Unresolved:    summary.Unresolved,
		Pending:       summary.Pending,
		Skipped:       summary.Skipped,
		Errors:        summary.Errors,
		Recovered:     summary.Recovered,
		Reconciled:    summary.Reconciled,
	})
}
