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

// FailureUpdate is what a failed attempt writes back to its installment.
type FailureUpdate struct {
	Attempts       int
	Kind           entity.FailureKind
	Reason         string
	TransactionRef *string
	NextRetryAt    *time.Time
	FailedAt       time.Time
}

type InstallmentRepository interface {
	CreateBatch(ctx context.Context, installments []*entity.Installment) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Installment, error)
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Installment, error)

	// Poller queries
	FindDue(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error)
	FindRetryReady(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error)
	FindStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]*entity.Installment, error)
	FindUnresolved(ctx context.Context, limit, offset int) ([]*entity.Installment, error)

	// Claim moves seen to processing only if the stored row still has seen's status and attempt
	// count and is chargeable at now: pending and due, or failed with its retry time reached.
	Claim(ctx context.Context, seen *entity.Installment, now time.Time) (bool, error)
	// MarkFailed moves a processing installment to failed.
	MarkFailed(ctx context.Context, id uuid.UUID, update FailureUpdate) (bool, error)
}

const installmentColumns = `id, booking_id, sequence, due_date, amount, status, attempts, next_retry_at, claimed_at,
	transaction_ref, failure_kind, failure_reason, paid_at, created_at, updated_at`

type installmentRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewInstallmentRepository(db database.PgxIface, log *zap.Logger) InstallmentRepository {
	return &installmentRepository{
		db:  db,
		log: log.With(zap.String("repository", "installment")),
	}
}

func scanInstallment(row pgx.Row) (*entity.Installment, error) {
	var inst entity.Installment
	err := row.Scan(
		&inst.ID,
		&inst.BookingID,
		&inst.Sequence,
		&inst.DueDate,
		&inst.Amount,
		&inst.Status,
		&inst.Attempts,
		&inst.NextRetryAt,
		&inst.ClaimedAt,
		&inst.TransactionRef,
		&inst.FailureKind,
		&inst.FailureReason,
		&inst.PaidAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func collectInstallments(rows pgx.Rows) ([]*entity.Installment, error) {
	defer rows.Close()

	var installments []*entity.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}

	return installments, rows.Err()
}

const insertInstallment = `
	INSERT INTO installments (` + installmentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

func queueInstallments(batch *pgx.Batch, installments []*entity.Installment) {
	for _, inst := range installments {
		batch.Queue(insertInstallment,
			inst.ID,
			inst.BookingID,
			inst.Sequence,
			inst.DueDate,
			inst.Amount,
			inst.Status,
			inst.Attempts,
			inst.NextRetryAt,
			inst.ClaimedAt,
			inst.TransactionRef,
			inst.FailureKind,
			inst.FailureReason,
			inst.PaidAt,
			inst.CreatedAt,
			inst.UpdatedAt,
		)
	}
}

// insertInstallments bulk inserts inside an existing transaction.
func insertInstallments(ctx context.Context, tx pgx.Tx, installments []*entity.Installment) error {
	if len(installments) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	queueInstallments(batch, installments)

	return tx.SendBatch(ctx, batch).Close()
}

func (r *installmentRepository) CreateBatch(ctx context.Context, installments []*entity.Installment) error {
	if len(installments) == 0 {
		return nil
	}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return insertInstallments(ctx, tx, installments)
	})
	if err != nil {
		r.log.Error("Failed to create installments",
			zap.Error(err),
			zap.String("booking_id", installments[0].BookingID.String()),
			zap.Int("count", len(installments)),
		)
		return fmt.Errorf("create installments for booking %s: %w", installments[0].BookingID.String(), err)
	}

	return nil
}

func (r *installmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE id = $1`

	inst, err := scanInstallment(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find installment by ID",
			zap.Error(err),
			zap.String("installment_id", id.String()),
		)
		return nil, fmt.Errorf("find installment by ID %s: %w", id.String(), err)
	}

	return inst, nil
}

func (r *installmentRepository) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE booking_id = $1
		ORDER BY created_at, sequence
	`

	rows, err := r.db.Query(ctx, query, bookingID)
	if err != nil {
		r.log.Error("Failed to find installments by booking ID",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return nil, fmt.Errorf("find installments by booking ID %s: %w", bookingID.String(), err)
	}

	return collectInstallments(rows)
}

func (r *installmentRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE status = 'pending' AND due_date <= $1
		ORDER BY due_date, sequence
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, engine.DateOf(now), limit)
	if err != nil {
		r.log.Error("Failed to find due installments", zap.Error(err), zap.Time("now", now))
		return nil, fmt.Errorf("find due installments: %w", err)
	}

	return collectInstallments(rows)
}

func (r *installmentRepository) FindRetryReady(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		r.log.Error("Failed to find retry-ready installments", zap.Error(err), zap.Time("now", now))
		return nil, fmt.Errorf("find retry-ready installments: %w", err)
	}

	return collectInstallments(rows)
}

func (r *installmentRepository) FindStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]*entity.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE status = 'processing' AND claimed_at <= $1
		ORDER BY claimed_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, claimedBefore, limit)
	if err != nil {
		r.log.Error("Failed to find stale processing installments", zap.Error(err))
		return nil, fmt.Errorf("find stale processing installments: %w", err)
	}

	return collectInstallments(rows)
}

func (r *installmentRepository) FindUnresolved(ctx context.Context, limit, offset int) ([]*entity.Installment, error) {
	query := `
		SELECT ` + installmentColumns + `
		FROM installments
		WHERE status = 'failed' AND (next_retry_at IS NULL OR failure_kind = 'authentication_required')
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		r.log.Error("Failed to find unresolved installments", zap.Error(err))
		return nil, fmt.Errorf("find unresolved installments: %w", err)
	}

	return collectInstallments(rows)
}

func (r *installmentRepository) Claim(ctx context.Context, seen *entity.Installment, now time.Time) (bool, error) {
	query := `
		UPDATE installments
		SET status = 'processing', claimed_at = $4, next_retry_at = NULL, updated_at = $4
		WHERE id = $1 AND status = $2 AND attempts = $3
		  AND (
		    (status = 'pending' AND due_date <= $5)
		    OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $4)
		  )
	`

	result, err := r.db.Exec(ctx, query, seen.ID, seen.Status, seen.Attempts, now, engine.DateOf(now))
	if err != nil {
		r.log.Error("Failed to claim installment",
			zap.Error(err),
			zap.String("installment_id", seen.ID.String()),
			zap.String("from", string(seen.Status)),
			zap.Int("attempts", seen.Attempts),
		)
		return false, fmt.Errorf("claim installment %s: %w", seen.ID.String(), err)
	}

	return result.RowsAffected() == 1, nil
}

func (r *installmentRepository) MarkFailed(ctx context.Context, id uuid.UUID, update FailureUpdate) (bool, error) {
	query := `
		UPDATE installments
		SET status = 'failed', attempts = $2, failure_kind = $3, failure_reason = $4,
		    transaction_ref = COALESCE($5, transaction_ref), next_retry_at = $6, updated_at = $7
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Exec(ctx, query,
		id,
		update.Attempts,
		update.Kind,
		update.Reason,
		update.TransactionRef,
		update.NextRetryAt,
		update.FailedAt,
	)
	if err != nil {
		r.log.Error("Failed to mark installment failed",
			zap.Error(err),
			zap.String("installment_id", id.String()),
			zap.Int("attempts", update.Attempts),
		)
		return false, fmt.Errorf("mark installment %s failed: %w", id.String(), err)
	}

	return result.RowsAffected() == 1, nil
}
