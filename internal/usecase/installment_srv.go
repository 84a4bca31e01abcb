package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trip-installments/internal/charge"
	"trip-installments/internal/data/entity"
	"trip-installments/internal/data/repository"
	"trip-installments/internal/engine"
	"trip-installments/internal/notify"
	"trip-installments/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProcessResult is what happened to one installment handed to ProcessInstallment.
type ProcessResult string

const (
	ProcessSkipped    ProcessResult = "skipped"
	ProcessPaid       ProcessResult = "paid"
	ProcessFailed     ProcessResult = "failed"
	ProcessUnresolved ProcessResult = "unresolved"
	// ProcessPending leaves the installment processing until the processor settles the charge.
	ProcessPending ProcessResult = "pending"
)

// notifyTimeout bounds one operator notification so a slow mail server cannot stall a poll.
const notifyTimeout = 10 * time.Second

// RepairSummary counts what a repair pass fixed.
type RepairSummary struct {
	StaleRecovered int `json:"stale_recovered"`
	StillPending   int `json:"still_pending"`
	Reconciled     int `json:"reconciled"`
	Errors         int `json:"errors"`
}

type InstallmentService interface {
	// Schedule management
	GenerateSchedule(ctx context.Context, bookingID uuid.UUID) (*repository.RescheduleResult, error)
	ChangeFrequency(ctx context.Context, bookingID uuid.UUID, frequency entity.PaymentFrequency) (*repository.RescheduleResult, error)

	// Poller surface
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error)
	ListRetryReady(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error)
	ProcessInstallment(ctx context.Context, inst *entity.Installment) (ProcessResult, error)
	RecordOutcome(ctx context.Context, installmentID uuid.UUID, outcome charge.Outcome) (*entity.Installment, error)

	// Operator surface
	ListUnresolved(ctx context.Context, limit, offset int) ([]*entity.Installment, error)
	Repair(ctx context.Context) (*RepairSummary, error)
}

type installmentService struct {
	repo          *repository.Repository
	processor     charge.Processor
	notifier      notify.Notifier
	retry         engine.RetryPolicy
	now           func() time.Time
	chargeTimeout time.Duration
	staleAfter    time.Duration
	batchSize     int
	log           *zap.Logger
}

func NewInstallmentService(repo *repository.Repository, collab Collaborators, cfg utils.PollerConfig, log *zap.Logger) InstallmentService {
	clock := collab.Clock
	if clock == nil {
		clock = time.Now
	}

	return &installmentService{
		repo:          repo,
		processor:     collab.Processor,
		notifier:      collab.Notifier,
		retry:         collab.Retry,
		now:           clock,
		chargeTimeout: cfg.ChargeTimeout,
		staleAfter:    cfg.StaleProcessingAfter,
		batchSize:     max(cfg.BatchSize, 1),
		log:           log.With(zap.String("service", "installment")),
	}
}

// ==================== SCHEDULE ====================

func (s *installmentService) GenerateSchedule(ctx context.Context, bookingID uuid.UUID) (*repository.RescheduleResult, error) {
	return s.reschedule(ctx, bookingID, nil)
}

func (s *installmentService) ChangeFrequency(ctx context.Context, bookingID uuid.UUID, frequency entity.PaymentFrequency) (*repository.RescheduleResult, error) {
	if !frequency.Valid() {
		return nil, fmt.Errorf("%w: frequency %q", ErrValidation, frequency)
	}
	return s.reschedule(ctx, bookingID, &frequency)
}

func (s *installmentService) reschedule(ctx context.Context, bookingID uuid.UUID, frequency *entity.PaymentFrequency) (*repository.RescheduleResult, error) {
	now := s.now()

	result, err := s.repo.Ledger.Reschedule(ctx, bookingID, frequency, now, func(booking *entity.Booking) ([]*entity.Installment, error) {
		return buildInstallments(booking, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Installment schedule generated",
		zap.String("booking_id", bookingID.String()),
		zap.String("frequency", string(result.Booking.Frequency)),
		zap.Int64("remaining", result.Booking.Remaining()),
		zap.Int64("cancelled", result.Cancelled),
		zap.Int("installments", len(result.Installments)),
	)

	return result, nil
}

// buildInstallments turns the booking's unpaid balance into pending installments.
func buildInstallments(booking *entity.Booking, now time.Time) ([]*entity.Installment, error) {
	remaining := booking.Remaining()
	if remaining == 0 {
		return nil, fmt.Errorf("booking %s: %w", booking.ID.String(), ErrBookingSettled)
	}

	payments, err := engine.GenerateSchedule(engine.ScheduleTerms{
		Total:      remaining,
		Frequency:  booking.Frequency,
		CutoffDate: booking.CutoffDate,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("generate schedule for booking %s: %w", booking.ID.String(), err)
	}

	installments := make([]*entity.Installment, len(payments))
	for i, p := range payments {
		installments[i] = &entity.Installment{
			BaseNoDelete: entity.BaseNoDelete{
				ID:        uuid.New(),
				CreatedAt: now,
				UpdatedAt: now,
			},
			BookingID: booking.ID,
			Sequence:  i + 1,
			DueDate:   p.DueDate,
			Amount:    p.Amount,
			Status:    entity.InstallmentStatusPending,
		}
	}

	return installments, nil
}

// ==================== POLLER SURFACE ====================

func (s *installmentService) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	return s.repo.Installment.FindDue(ctx, now, limit)
}

func (s *installmentService) ListRetryReady(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	return s.repo.Installment.FindRetryReady(ctx, now, limit)
}

// ProcessInstallment claims the installment, charges it and records the outcome.
// A lost claim is not an error: another worker owns the attempt.
func (s *installmentService) ProcessInstallment(ctx context.Context, inst *entity.Installment) (ProcessResult, error) {
	if !engine.CanTransition(inst.Status, entity.InstallmentStatusProcessing) {
		return ProcessSkipped, fmt.Errorf("installment %s is %s: %w", inst.ID.String(), inst.Status, ErrInvalidTransition)
	}

	booking, err := s.repo.Booking.FindByID(ctx, inst.BookingID)
	if err != nil {
		return ProcessSkipped, fmt.Errorf("load booking for installment %s: %w", inst.ID.String(), err)
	}
	if booking == nil {
		return ProcessSkipped, fmt.Errorf("booking %s: %w", inst.BookingID.String(), ErrBookingNotFound)
	}
	if booking.Status != entity.BookingStatusActive && booking.Status != entity.BookingStatusOverdue {
		s.log.Warn("Skipping installment of inactive booking",
			zap.String("installment_id", inst.ID.String()),
			zap.String("booking_id", booking.ID.String()),
			zap.String("booking_status", string(booking.Status)),
		)
		return ProcessSkipped, nil
	}

	// The claim only succeeds against the exact state inst was read in, so a stale copy
	// (already retried by another worker, or not yet due) is skipped.
	claimed, err := s.repo.Installment.Claim(ctx, inst, s.now())
	if err != nil {
		return ProcessSkipped, err
	}
	if !claimed {
		s.log.Debug("Installment already claimed or not ready",
			zap.String("installment_id", inst.ID.String()),
			zap.String("expected_status", string(inst.Status)),
			zap.Int("expected_attempts", inst.Attempts),
		)
		return ProcessSkipped, nil
	}

	return s.chargeClaimed(ctx, booking, inst)
}

// chargeClaimed runs the attempt for an installment already in processing. The attempt number
// (and so the idempotency key) is derived from the stored attempt count, which only grows on failure.
func (s *installmentService) chargeClaimed(ctx context.Context, booking *entity.Booking, inst *entity.Installment) (ProcessResult, error) {
	attempt := inst.Attempts + 1
	log := s.log.With(
		zap.String("installment_id", inst.ID.String()),
		zap.String("booking_id", booking.ID.String()),
		zap.Int("attempt", attempt),
	)

	outcome := s.charge(ctx, charge.Request{
		InstallmentID:    inst.ID,
		BookingID:        booking.ID,
		BookingReference: booking.Reference,
		CustomerRef:      booking.CustomerRef,
		PaymentMethodRef: booking.PaymentMethodRef,
		Amount:           inst.Amount,
		Currency:         booking.Currency,
		IdempotencyKey:   charge.IdempotencyKey(inst.ID, attempt),
	})

	// Shutting down mid-charge: leave the installment processing for stale recovery,
	// which re-sends the same idempotency key.
	if err := ctx.Err(); err != nil {
		log.Warn("Charge interrupted, leaving installment for recovery", zap.Error(err))
		return ProcessSkipped, fmt.Errorf("charge installment %s interrupted: %w", inst.ID.String(), err)
	}

	log.Info("Charge attempted",
		zap.String("outcome", string(outcome.Kind)),
		zap.String("transaction_ref", outcome.TransactionRef),
		zap.String("reason", outcome.Reason),
	)

	// Recording anything now would be a guess. Stale recovery re-sends the same key,
	// which returns the settled result.
	if outcome.Kind == charge.OutcomePending {
		log.Warn("Charge pending at processor, leaving installment processing")
		return ProcessPending, nil
	}

	updated, err := s.RecordOutcome(ctx, inst.ID, outcome)
	if err != nil {
		return ProcessSkipped, err
	}

	switch {
	case updated.Status == entity.InstallmentStatusPaid:
		return ProcessPaid, nil
	case updated.Unresolved():
		return ProcessUnresolved, nil
	}
	return ProcessFailed, nil
}

// charge calls the processor under the charge timeout. Processor errors become failure outcomes.
func (s *installmentService) charge(ctx context.Context, req charge.Request) charge.Outcome {
	chargeCtx := ctx
	if s.chargeTimeout > 0 {
		var cancel context.CancelFunc
		chargeCtx, cancel = context.WithTimeout(ctx, s.chargeTimeout)
		defer cancel()
	}

	type result struct {
		outcome charge.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := s.processor.Charge(chargeCtx, req)
		done <- result{outcome, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-chargeCtx.Done():
		res = result{err: chargeCtx.Err()}
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return charge.Outcome{Kind: charge.OutcomeTimeout, Reason: "charge timed out after " + s.chargeTimeout.String()}
		}
		return charge.Outcome{Kind: charge.OutcomeError, Reason: res.err.Error()}
	}
	return res.outcome
}

// RecordOutcome applies processing -> paid or processing -> failed. Recording success for an
// installment that is already paid is a no-op, so a booking is credited at most once.
func (s *installmentService) RecordOutcome(ctx context.Context, installmentID uuid.UUID, outcome charge.Outcome) (*entity.Installment, error) {
	if !outcome.Kind.Valid() {
		return nil, fmt.Errorf("%w: outcome %q", ErrValidation, outcome.Kind)
	}

	inst, err := s.repo.Installment.FindByID(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("installment %s: %w", installmentID.String(), ErrInstallmentNotFound)
	}

	if outcome.Kind == charge.OutcomeSucceeded {
		return s.recordSuccess(ctx, inst, outcome)
	}
	return s.recordFailure(ctx, inst, outcome)
}

func (s *installmentService) recordSuccess(ctx context.Context, inst *entity.Installment, outcome charge.Outcome) (*entity.Installment, error) {
	if inst.Status == entity.InstallmentStatusPaid {
		s.log.Info("Duplicate success ignored",
			zap.String("installment_id", inst.ID.String()),
			zap.String("transaction_ref", outcome.TransactionRef),
		)
		return inst, nil
	}
	if !engine.CanTransition(inst.Status, entity.InstallmentStatusPaid) {
		return nil, fmt.Errorf("installment %s is %s: %w", inst.ID.String(), inst.Status, ErrInvalidTransition)
	}

	result, err := s.repo.Ledger.Settle(ctx, inst.ID, outcome.TransactionRef, s.now())
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		// Lost a race with another recorder; report the winner's state.
		current, err := s.repo.Installment.FindByID(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == entity.InstallmentStatusPaid {
			return current, nil
		}
		return nil, fmt.Errorf("installment %s is no longer processing: %w", inst.ID.String(), ErrInvalidTransition)
	}

	s.log.Info("Installment paid",
		zap.String("installment_id", inst.ID.String()),
		zap.String("booking_id", inst.BookingID.String()),
		zap.Int64("amount", inst.Amount),
		zap.Int64("amount_paid", result.Booking.AmountPaid),
		zap.Int64("total_amount", result.Booking.TotalAmount),
		zap.Bool("reconciled", result.Reconciled),
	)
	s.reportOverpaid(result)
	if result.Booking.Status == entity.BookingStatusCompleted {
		s.log.Info("Booking fully paid",
			zap.String("booking_id", result.Booking.ID.String()),
			zap.String("reference", result.Booking.Reference),
		)
	}

	return result.Installment, nil
}

// reportOverpaid flags a settlement the booking could not fully absorb. The excess was charged
// but not credited, so it needs a refund.
func (s *installmentService) reportOverpaid(result *repository.SettleResult) {
	if result.Overpaid <= 0 {
		return
	}
	var ref string
	if result.Installment.TransactionRef != nil {
		ref = *result.Installment.TransactionRef
	}
	s.log.Error("Installment overpays booking",
		zap.String("installment_id", result.Installment.ID.String()),
		zap.String("booking_id", result.Booking.ID.String()),
		zap.String("transaction_ref", ref),
		zap.Int64("amount", result.Installment.Amount),
		zap.Int64("overpaid", result.Overpaid),
		zap.Int64("total_amount", result.Booking.TotalAmount),
	)
}

func (s *installmentService) recordFailure(ctx context.Context, inst *entity.Installment, outcome charge.Outcome) (*entity.Installment, error) {
	if !engine.CanTransition(inst.Status, entity.InstallmentStatusFailed) {
		return nil, fmt.Errorf("installment %s is %s: %w", inst.ID.String(), inst.Status, ErrInvalidTransition)
	}

	now := s.now()
	attempts := inst.Attempts + 1
	kind := failureKind(outcome.Kind)
	reason := outcome.Reason
	if reason == "" {
		reason = string(kind)
	}

	update := repository.FailureUpdate{
		Attempts: attempts,
		Kind:     kind,
		Reason:   reason,
		FailedAt: now,
	}
	if outcome.TransactionRef != "" {
		update.TransactionRef = &outcome.TransactionRef
	}
	if next, ok := s.retry.NextRetryAt(attempts, now); ok {
		update.NextRetryAt = &next
	}

	applied, err := s.repo.Installment.MarkFailed(ctx, inst.ID, update)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("installment %s is no longer processing: %w", inst.ID.String(), ErrInvalidTransition)
	}

	inst.Status = entity.InstallmentStatusFailed
	inst.Attempts = attempts
	inst.FailureKind = &kind
	inst.FailureReason = &reason
	inst.NextRetryAt = update.NextRetryAt
	if update.TransactionRef != nil {
		inst.TransactionRef = update.TransactionRef
	}
	inst.UpdatedAt = now

	log := s.log.With(
		zap.String("installment_id", inst.ID.String()),
		zap.String("booking_id", inst.BookingID.String()),
		zap.Int("attempts", attempts),
		zap.String("failure_kind", string(kind)),
		zap.String("reason", reason),
	)
	if inst.NextRetryAt != nil {
		log.Info("Installment failed, retry scheduled", zap.Time("next_retry_at", *inst.NextRetryAt))
	} else {
		log.Warn("Installment failed, retries exhausted")
	}

	s.notifyFailure(ctx, inst)
	return inst, nil
}

func failureKind(kind charge.OutcomeKind) entity.FailureKind {
	switch kind {
	case charge.OutcomeDeclined:
		return entity.FailureDeclined
	case charge.OutcomeAuthenticationRequired:
		return entity.FailureAuthenticationRequired
	case charge.OutcomeTimeout:
		return entity.FailureTimeout
	}
	return entity.FailureError
}

// notifyFailure surfaces failures that automated retries alone will not fix.
// Notification errors are logged, never returned: the state change already happened.
func (s *installmentService) notifyFailure(ctx context.Context, inst *entity.Installment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	authRequired := inst.FailureKind != nil && *inst.FailureKind == entity.FailureAuthenticationRequired
	if !inst.Unresolved() && !authRequired {
		return
	}

	booking, err := s.repo.Booking.FindByID(ctx, inst.BookingID)
	if err != nil || booking == nil {
		s.log.Error("Cannot notify operator, booking lookup failed",
			zap.Error(err),
			zap.String("installment_id", inst.ID.String()),
		)
		return
	}

	if inst.Unresolved() {
		err = s.notifier.InstallmentUnresolved(ctx, booking, inst)
	} else {
		err = s.notifier.AuthenticationRequired(ctx, booking, inst)
	}
	if err != nil {
		s.log.Error("Operator notification failed", zap.Error(err), zap.String("installment_id", inst.ID.String()))
	}
}

// ==================== OPERATOR SURFACE ====================

func (s *installmentService) ListUnresolved(ctx context.Context, limit, offset int) ([]*entity.Installment, error) {
	return s.repo.Installment.FindUnresolved(ctx, limit, offset)
}

// Repair finishes attempts interrupted between claim and outcome, then reconciles any paid
// installment that is missing from the ledger.
func (s *installmentService) Repair(ctx context.Context) (*RepairSummary, error) {
	summary := &RepairSummary{}
	now := s.now()

	stale, err := s.repo.Installment.FindStaleProcessing(ctx, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return nil, err
	}

	for _, inst := range stale {
		booking, err := s.repo.Booking.FindByID(ctx, inst.BookingID)
		if err != nil || booking == nil {
			summary.Errors++
			s.log.Error("Stale installment without booking",
				zap.Error(err),
				zap.String("installment_id", inst.ID.String()),
			)
			continue
		}

		s.log.Warn("Recovering stale installment",
			zap.String("installment_id", inst.ID.String()),
			zap.Timep("claimed_at", inst.ClaimedAt),
		)
		result, err := s.chargeClaimed(ctx, booking, inst)
		if err != nil {
			summary.Errors++
			s.log.Error("Stale recovery failed", zap.Error(err), zap.String("installment_id", inst.ID.String()))
			continue
		}
		if result == ProcessPending {
			summary.StillPending++
			continue
		}
		summary.StaleRecovered++
	}

	unreconciled, err := s.repo.Ledger.FindUnreconciledPaid(ctx, s.batchSize)
	if err != nil {
		return nil, err
	}

	for _, inst := range unreconciled {
		result, err := s.repo.Ledger.ReconcilePaid(ctx, inst.ID, now)
		if err != nil {
			summary.Errors++
			continue
		}
		if result.Reconciled {
			summary.Reconciled++
			s.reportOverpaid(result)
			s.log.Warn("Reconciled paid installment missing from ledger",
				zap.String("installment_id", inst.ID.String()),
				zap.String("booking_id", inst.BookingID.String()),
			)
		}
	}

	s.log.Info("Repair finished",
		zap.Int("stale_recovered", summary.StaleRecovered),
		zap.Int("still_pending", summary.StillPending),
		zap.Int("reconciled", summary.Reconciled),
		zap.Int("errors", summary.Errors),
	)

	return summary, nil
}
