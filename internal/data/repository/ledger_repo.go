package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trip-installments/internal/data/entity"
	"trip-installments/internal/engine"
	"trip-installments/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SettleResult describes what a settlement changed.
type SettleResult struct {
	// Applied is false when the installment was no longer processing (already settled or never claimed).
	Applied bool
	// Reconciled is true when the amount was added to the booking by this call.
	Reconciled bool
	// Overpaid is the part of the installment amount above the booking's unpaid balance.
	// amount_paid is capped at total_amount, so this much was charged but not credited.
	Overpaid    int64
	Installment *entity.Installment
	Booking     *entity.Booking
}

// ScheduleBuilder produces replacement installments for a locked booking.
type ScheduleBuilder func(booking *entity.Booking) ([]*entity.Installment, error)

// RescheduleResult reports a replaced schedule.
type RescheduleResult struct {
	Booking      *entity.Booking
	Cancelled    int64
	Installments []*entity.Installment
}

// LedgerRepository owns every write that spans bookings and installments. Each method is a
// single transaction with the booking row locked, so reconciliation is serialized per booking.
type LedgerRepository interface {
	// CreateBooking inserts the booking together with the builder's initial schedule.
	CreateBooking(ctx context.Context, booking *entity.Booking, build ScheduleBuilder) (*RescheduleResult, error)

	// Settle marks a processing installment paid and reconciles its amount into the booking.
	Settle(ctx context.Context, installmentID uuid.UUID, transactionRef string, paidAt time.Time) (*SettleResult, error)
	// ReconcilePaid applies an already paid installment to its booking at most once.
	ReconcilePaid(ctx context.Context, installmentID uuid.UUID, now time.Time) (*SettleResult, error)
	FindUnreconciledPaid(ctx context.Context, limit int) ([]*entity.Installment, error)

	// Reschedule cancels pending and failed installments and inserts the builder's schedule.
	// A non-nil frequency is stored on the booking first.
	Reschedule(ctx context.Context, bookingID uuid.UUID, frequency *entity.PaymentFrequency, now time.Time, build ScheduleBuilder) (*RescheduleResult, error)
	// CancelBooking cancels the booking and its unpaid installments.
	CancelBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (int64, error)
}

type ledgerRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewLedgerRepository(db database.PgxIface, log *zap.Logger) LedgerRepository {
	return &ledgerRepository{
		db:  db,
		log: log.With(zap.String("repository", "ledger")),
	}
}

func lockBooking(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (*entity.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	booking, err := scanBooking(tx.QueryRow(ctx, query, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", bookingID.String(), ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock booking %s: %w", bookingID.String(), err)
	}
	return booking, nil
}

// applyToBooking records the ledger row and increments amount_paid, filling the booking side
// of result. An installment that was already reconciled leaves the booking untouched.
func applyToBooking(ctx context.Context, tx pgx.Tx, inst *entity.Installment, now time.Time, result *SettleResult) error {
	booking, err := lockBooking(ctx, tx, inst.BookingID)
	if err != nil {
		return err
	}
	result.Booking = booking

	rec := entity.Reconciliation{
		InstallmentID: inst.ID,
		BookingID:     inst.BookingID,
		Amount:        inst.Amount,
		AppliedAt:     now,
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO installment_reconciliations (installment_id, booking_id, amount, applied_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (installment_id) DO NOTHING
	`, rec.InstallmentID, rec.BookingID, rec.Amount, rec.AppliedAt)
	if err != nil {
		return fmt.Errorf("record reconciliation %s: %w", inst.ID.String(), err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	result.Reconciled = true
	result.Overpaid = max(booking.AmountPaid+rec.Amount-booking.TotalAmount, 0)

	err = tx.QueryRow(ctx, `
		UPDATE bookings
		SET amount_paid = LEAST(amount_paid + $2, total_amount), updated_at = $3
		WHERE id = $1
		RETURNING amount_paid
	`, booking.ID, rec.Amount, now).Scan(&booking.AmountPaid)
	if err != nil {
		return fmt.Errorf("increment amount paid for booking %s: %w", booking.ID.String(), err)
	}

	status := engine.DeriveBookingStatus(booking.AmountPaid, booking.TotalAmount, booking.Status)
	if status != booking.Status {
		if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
			booking.ID, status, now); err != nil {
			return fmt.Errorf("update booking %s status to %s: %w", booking.ID.String(), status, err)
		}
		booking.Status = status
	}
	booking.UpdatedAt = now

	return nil
}

func (r *ledgerRepository) Settle(ctx context.Context, installmentID uuid.UUID, transactionRef string, paidAt time.Time) (*SettleResult, error) {
	result := &SettleResult{}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		inst, err := scanInstallment(tx.QueryRow(ctx, `
			UPDATE installments
			SET status = 'paid', paid_at = $2, transaction_ref = $3, next_retry_at = NULL,
			    failure_kind = NULL, failure_reason = NULL, updated_at = $2
			WHERE id = $1 AND status = 'processing'
			RETURNING `+installmentColumns,
			installmentID, paidAt, transactionRef))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark installment %s paid: %w", installmentID.String(), err)
		}

		result.Applied = true
		result.Installment = inst
		return applyToBooking(ctx, tx, inst, paidAt, result)
	})
	if err != nil {
		r.log.Error("Failed to settle installment",
			zap.Error(err),
			zap.String("installment_id", installmentID.String()),
		)
		return nil, fmt.Errorf("settle installment %s: %w", installmentID.String(), err)
	}

	return result, nil
}

func (r *ledgerRepository) ReconcilePaid(ctx context.Context, installmentID uuid.UUID, now time.Time) (*SettleResult, error) {
	result := &SettleResult{}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		inst, err := scanInstallment(tx.QueryRow(ctx,
			`SELECT `+installmentColumns+` FROM installments WHERE id = $1 AND status = 'paid'`,
			installmentID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find paid installment %s: %w", installmentID.String(), err)
		}

		result.Installment = inst
		return applyToBooking(ctx, tx, inst, now, result)
	})
	if err != nil {
		r.log.Error("Failed to reconcile paid installment",
			zap.Error(err),
			zap.String("installment_id", installmentID.String()),
		)
		return nil, fmt.Errorf("reconcile installment %s: %w", installmentID.String(), err)
	}

	return result, nil
}

func (r *ledgerRepository) FindUnreconciledPaid(ctx context.Context, limit int) ([]*entity.Installment, error) {
	query := `
		SELECT ` + prefixed("i", installmentColumns) + `
		FROM installments i
		LEFT JOIN installment_reconciliations rec ON rec.installment_id = i.id
		WHERE i.status = 'paid' AND rec.installment_id IS NULL
		ORDER BY i.paid_at
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		r.log.Error("Failed to find unreconciled installments", zap.Error(err))
		return nil, fmt.Errorf("find unreconciled installments: %w", err)
	}

	return collectInstallments(rows)
}

func (r *ledgerRepository) CreateBooking(ctx context.Context, booking *entity.Booking, build ScheduleBuilder) (*RescheduleResult, error) {
	result := &RescheduleResult{Booking: booking}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertBooking(ctx, tx, booking); err != nil {
			return err
		}

		installments, err := build(booking)
		if err != nil {
			return err
		}
		if err := insertInstallments(ctx, tx, installments); err != nil {
			return fmt.Errorf("insert installments for booking %s: %w", booking.ID.String(), err)
		}

		result.Installments = installments
		return nil
	})
	if err != nil {
		r.log.Error("Failed to create booking",
			zap.Error(err),
			zap.String("booking_id", booking.ID.String()),
			zap.String("reference", booking.Reference),
		)
		return nil, err
	}

	return result, nil
}

func (r *ledgerRepository) Reschedule(ctx context.Context, bookingID uuid.UUID, frequency *entity.PaymentFrequency, now time.Time, build ScheduleBuilder) (*RescheduleResult, error) {
	result := &RescheduleResult{}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		booking, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != entity.BookingStatusActive && booking.Status != entity.BookingStatusOverdue {
			return fmt.Errorf("booking %s is %s: %w", bookingID.String(), booking.Status, ErrBookingNotActive)
		}

		// Cancel before counting: a claim racing this transaction either committed already and is
		// counted below, or blocks on the row lock and then misses its status condition.
		cancelled, err := cancelUnpaid(ctx, tx, bookingID, now)
		if err != nil {
			return err
		}
		if err := ensureNothingInFlight(ctx, tx, bookingID); err != nil {
			return err
		}

		if frequency != nil && *frequency != booking.Frequency {
			if _, err := tx.Exec(ctx, `UPDATE bookings SET frequency = $2, updated_at = $3 WHERE id = $1`,
				bookingID, *frequency, now); err != nil {
				return fmt.Errorf("update booking %s frequency: %w", bookingID.String(), err)
			}
			booking.Frequency = *frequency
			booking.UpdatedAt = now
		}

		installments, err := build(booking)
		if err != nil {
			return err
		}
		if err := insertInstallments(ctx, tx, installments); err != nil {
			return fmt.Errorf("insert installments for booking %s: %w", bookingID.String(), err)
		}

		result.Booking = booking
		result.Cancelled = cancelled
		result.Installments = installments
		return nil
	})
	if err != nil {
		r.log.Warn("Reschedule aborted",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return nil, fmt.Errorf("reschedule booking %s: %w", bookingID.String(), err)
	}

	return result, nil
}

func (r *ledgerRepository) CancelBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (int64, error) {
	var cancelled int64

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		booking, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != entity.BookingStatusActive && booking.Status != entity.BookingStatusOverdue {
			return fmt.Errorf("booking %s is %s: %w", bookingID.String(), booking.Status, ErrBookingNotActive)
		}

		cancelled, err = cancelUnpaid(ctx, tx, bookingID, now)
		if err != nil {
			return err
		}
		if err := ensureNothingInFlight(ctx, tx, bookingID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `UPDATE bookings SET status = 'cancelled', updated_at = $2 WHERE id = $1`, bookingID, now)
		if err != nil {
			return fmt.Errorf("cancel booking %s: %w", bookingID.String(), err)
		}
		return nil
	})
	if err != nil {
		r.log.Warn("Cancel booking aborted",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return 0, fmt.Errorf("cancel booking %s: %w", bookingID.String(), err)
	}

	return cancelled, nil
}

func ensureNothingInFlight(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) error {
	var inFlight int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM installments WHERE booking_id = $1 AND status = 'processing'`,
		bookingID).Scan(&inFlight)
	if err != nil {
		return fmt.Errorf("count processing installments for booking %s: %w", bookingID.String(), err)
	}
	if inFlight > 0 {
		return fmt.Errorf("booking %s has %d processing: %w", bookingID.String(), inFlight, ErrInstallmentInFlight)
	}
	return nil
}

func cancelUnpaid(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, now time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE installments
		SET status = 'cancelled', next_retry_at = NULL, updated_at = $2
		WHERE booking_id = $1 AND status IN ('pending', 'failed')
	`, bookingID, now)
	if err != nil {
		return 0, fmt.Errorf("cancel installments for booking %s: %w", bookingID.String(), err)
	}
	return tag.RowsAffected(), nil
}
