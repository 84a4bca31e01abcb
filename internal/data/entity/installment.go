package entity

import (
	"time"

	"github.com/google/uuid"
)

type InstallmentStatus string

const (
	InstallmentStatusPending    InstallmentStatus = "pending"
	InstallmentStatusProcessing InstallmentStatus = "processing"
	InstallmentStatusPaid       InstallmentStatus = "paid"
	InstallmentStatusFailed     InstallmentStatus = "failed"
	InstallmentStatusCancelled  InstallmentStatus = "cancelled"
)

// FailureKind distinguishes why the last attempt failed.
type FailureKind string

const (
	FailureDeclined               FailureKind = "declined"
	FailureAuthenticationRequired FailureKind = "authentication_required"
	FailureError                  FailureKind = "error"
	FailureTimeout                FailureKind = "timeout"
)

type Installment struct {
	BaseNoDelete
	BookingID      uuid.UUID         `db:"booking_id"`
	Sequence       int               `db:"sequence"`
	DueDate        time.Time         `db:"due_date"`
	Amount         int64             `db:"amount"`
	Status         InstallmentStatus `db:"status"`
	Attempts       int               `db:"attempts"`
	NextRetryAt    *time.Time        `db:"next_retry_at"`
	ClaimedAt      *time.Time        `db:"claimed_at"`
	TransactionRef *string           `db:"transaction_ref"`
	FailureKind    *FailureKind      `db:"failure_kind"`
	FailureReason  *string           `db:"failure_reason"`
	PaidAt         *time.Time        `db:"paid_at"`
}

// Unresolved reports a failed installment that will not be retried automatically.
func (i *Installment) Unresolved() bool {
	return i.Status == InstallmentStatusFailed && i.NextRetryAt == nil
}

// Reconciliation records that an installment's amount was applied to its booking.
type Reconciliation struct {
	InstallmentID uuid.UUID `db:"installment_id"`
	BookingID     uuid.UUID `db:"booking_id"`
	Amount        int64     `db:"amount"`
	AppliedAt     time.Time `db:"applied_at"`
}
