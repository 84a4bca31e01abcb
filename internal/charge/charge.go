// Package charge abstracts charging a stored payment method without the customer present.
package charge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type OutcomeKind string

const (
	OutcomeSucceeded              OutcomeKind = "succeeded"
	OutcomeDeclined               OutcomeKind = "declined"
	OutcomeAuthenticationRequired OutcomeKind = "authentication_required"
	// OutcomePending means the processor accepted the charge but has not settled it yet.
	// It is not recordable; the attempt stays in flight until a later call reports the result.
	OutcomePending OutcomeKind = "pending"
	// OutcomeError and OutcomeTimeout are produced by the engine when a processor call fails.
	OutcomeError   OutcomeKind = "error"
	OutcomeTimeout OutcomeKind = "timeout"
)

// Valid reports whether k is a final outcome that can be recorded against an installment.
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeSucceeded, OutcomeDeclined, OutcomeAuthenticationRequired, OutcomeError, OutcomeTimeout:
		return true
	}
	return false
}

// Outcome is the result of one charge attempt.
type Outcome struct {
	Kind           OutcomeKind
	TransactionRef string
	Reason         string
}

func Succeeded(transactionRef string) Outcome {
	return Outcome{Kind: OutcomeSucceeded, TransactionRef: transactionRef}
}

func Declined(reason string) Outcome {
	return Outcome{Kind: OutcomeDeclined, Reason: reason}
}

func AuthenticationRequired(reason string) Outcome {
	return Outcome{Kind: OutcomeAuthenticationRequired, Reason: reason}
}

func Pending(transactionRef string) Outcome {
	return Outcome{Kind: OutcomePending, TransactionRef: transactionRef}
}

// Request is one off-session charge.
type Request struct {
	InstallmentID    uuid.UUID
	BookingID        uuid.UUID
	BookingReference string
	CustomerRef      string
	PaymentMethodRef string
	Amount           int64
	Currency         string
	// IdempotencyKey is stable per attempt so a re-sent attempt never charges twice.
	IdempotencyKey string
}

// IdempotencyKey identifies attempt number attempt of an installment.
func IdempotencyKey(installmentID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:%d", installmentID.String(), attempt)
}

// Processor charges a stored payment method. A returned error means the outcome is unknown
// (network failure, processor outage); declines are outcomes, not errors.
type Processor interface {
	Charge(ctx context.Context, req Request) (Outcome, error)
}
