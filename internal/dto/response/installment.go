package response

import (
	"time"

	"trip-installments/internal/data/entity"
)

type InstallmentResponse struct {
	ID             string                   `json:"id"`
	BookingID      string                   `json:"booking_id"`
	Sequence       int                      `json:"sequence"`
	DueDate        string                   `json:"due_date"`
	Amount         int64                    `json:"amount"`
	Status         entity.InstallmentStatus `json:"status"`
	Attempts       int                      `json:"attempts"`
	NextRetryAt    *time.Time               `json:"next_retry_at,omitempty"`
	TransactionRef *string                  `json:"transaction_ref,omitempty"`
	FailureKind    *entity.FailureKind      `json:"failure_kind,omitempty"`
	FailureReason  *string                  `json:"failure_reason,omitempty"`
	Unresolved     bool                     `json:"unresolved"`
	PaidAt         *time.Time               `json:"paid_at,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// PollResponse summarizes one poll cycle.
type PollResponse struct {
	LockContended bool `json:"lock_contended"`
	Due           int  `json:"due"`
	RetryReady    int  `json:"retry_ready"`
	Paid          int  `json:"paid"`
	Failed        int  `json:"failed"`
	Unresolved    int  `json:"unresolved"`
	Pending       int  `json:"pending"`
	Skipped       int  `json:"skipped"`
	Errors        int  `json:"errors"`
	Recovered     int  `json:"recovered"`
	Reconciled    int  `json:"reconciled"`
}

func InstallmentToResponse(inst *entity.Installment) InstallmentResponse {
	return InstallmentResponse{
		ID:             inst.ID.String(),
		BookingID:      inst.BookingID.String(),
		Sequence:       inst.Sequence,
		DueDate:        inst.DueDate.Format(time.DateOnly),
		Amount:         inst.Amount,
		Status:         inst.Status,
		Attempts:       inst.Attempts,
		NextRetryAt:    inst.NextRetryAt,
		TransactionRef: inst.TransactionRef,
		FailureKind:    inst.FailureKind,
		FailureReason:  inst.FailureReason,
		Unresolved:     inst.Unresolved(),
		PaidAt:         inst.PaidAt,
		UpdatedAt:      inst.UpdatedAt,
	}
}

func InstallmentsToResponse(installments []*entity.Installment) []InstallmentResponse {
	result := make([]InstallmentResponse, len(installments))
	for i, inst := range installments {
		result[i] = InstallmentToResponse(inst)
	}
	return result
}
