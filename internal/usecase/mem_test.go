package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trip-installments/internal/charge"
	"trip-installments/internal/data/entity"
	"trip-installments/internal/data/repository"
	"trip-installments/internal/engine"
	"trip-installments/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// memStore backs the in-memory repositories with the same conditional-update rules as the SQL.
type memStore struct {
	mu           sync.Mutex
	bookings     map[uuid.UUID]*entity.Booking
	installments map[uuid.UUID]*entity.Installment
	reconciled   map[uuid.UUID]entity.Reconciliation

	// onBookingLocked runs with mu held once Reschedule or CancelBooking holds the booking,
	// like a claim committing while the SQL transaction waits on the booking lock.
	onBookingLocked func()
	// failInsert fails CreateBooking after the schedule is built, like a rolled back insert.
	failInsert error
}

func newMemStore() *memStore {
	return &memStore{
		bookings:     make(map[uuid.UUID]*entity.Booking),
		installments: make(map[uuid.UUID]*entity.Installment),
		reconciled:   make(map[uuid.UUID]entity.Reconciliation),
	}
}

func (m *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Booking:     &memBookings{m},
		Installment: &memInstallments{m},
		Ledger:      &memLedger{m},
	}
}

func copyBooking(b *entity.Booking) *entity.Booking {
	c := *b
	return &c
}

func copyInstallment(i *entity.Installment) *entity.Installment {
	c := *i
	return &c
}

// sorted returns copies of the installments matching keep, ordered by due date then sequence.
func (m *memStore) sorted(keep func(*entity.Installment) bool) []*entity.Installment {
	var out []*entity.Installment
	for _, inst := range m.installments {
		if keep(inst) {
			out = append(out, copyInstallment(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func limited(list []*entity.Installment, limit, offset int) []*entity.Installment {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

type memBookings struct{ *memStore }

func (r *memBookings) FindByID(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, nil
	}
	return copyBooking(b), nil
}

func (r *memBookings) FindAll(ctx context.Context, status *entity.BookingStatus, limit, offset int) ([]*entity.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Booking
	for _, b := range r.bookings {
		if status == nil || b.Status == *status {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBookings) Count(ctx context.Context, status *entity.BookingStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, b := range r.bookings {
		if status == nil || b.Status == *status {
			count++
		}
	}
	return count, nil
}

type memInstallments struct{ *memStore }

func (r *memInstallments) CreateBatch(ctx context.Context, installments []*entity.Installment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range installments {
		r.installments[inst.ID] = copyInstallment(inst)
	}
	return nil
}

func (r *memInstallments) FindByID(ctx context.Context, id uuid.UUID) (*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installments[id]
	if !ok {
		return nil, nil
	}
	return copyInstallment(inst), nil
}

func (r *memInstallments) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(i *entity.Installment) bool { return i.BookingID == bookingID }), nil
}

func (r *memInstallments) FindDue(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	today := engine.DateOf(now)
	return limited(r.sorted(func(i *entity.Installment) bool {
		return i.Status == entity.InstallmentStatusPending && !i.DueDate.After(today)
	}), limit, 0), nil
}

func (r *memInstallments) FindRetryReady(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return limited(r.sorted(func(i *entity.Installment) bool {
		return i.Status == entity.InstallmentStatusFailed && i.NextRetryAt != nil && !i.NextRetryAt.After(now)
	}), limit, 0), nil
}

func (r *memInstallments) FindStaleProcessing(ctx context.Context, claimedBefore time.Time, limit int) ([]*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return limited(r.sorted(func(i *entity.Installment) bool {
		return i.Status == entity.InstallmentStatusProcessing && i.ClaimedAt != nil && !i.ClaimedAt.After(claimedBefore)
	}), limit, 0), nil
}

func (r *memInstallments) FindUnresolved(ctx context.Context, limit, offset int) ([]*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return limited(r.sorted(func(i *entity.Installment) bool {
		authRequired := i.FailureKind != nil && *i.FailureKind == entity.FailureAuthenticationRequired
		return i.Status == entity.InstallmentStatusFailed && (i.NextRetryAt == nil || authRequired)
	}), limit, offset), nil
}

func (r *memInstallments) Claim(ctx context.Context, seen *entity.Installment, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installments[seen.ID]
	if !ok || inst.Status != seen.Status || inst.Attempts != seen.Attempts {
		return false, nil
	}
	switch inst.Status {
	case entity.InstallmentStatusPending:
		if inst.DueDate.After(engine.DateOf(now)) {
			return false, nil
		}
	case entity.InstallmentStatusFailed:
		if inst.NextRetryAt == nil || inst.NextRetryAt.After(now) {
			return false, nil
		}
	default:
		return false, nil
	}
	inst.Status = entity.InstallmentStatusProcessing
	inst.ClaimedAt = &now
	inst.NextRetryAt = nil
	inst.UpdatedAt = now
	return true, nil
}

func (r *memInstallments) MarkFailed(ctx context.Context, id uuid.UUID, update repository.FailureUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installments[id]
	if !ok || inst.Status != entity.InstallmentStatusProcessing {
		return false, nil
	}
	kind, reason := update.Kind, update.Reason
	inst.Status = entity.InstallmentStatusFailed
	inst.Attempts = update.Attempts
	inst.FailureKind = &kind
	inst.FailureReason = &reason
	if update.TransactionRef != nil {
		inst.TransactionRef = update.TransactionRef
	}
	inst.NextRetryAt = update.NextRetryAt
	inst.UpdatedAt = update.FailedAt
	return true, nil
}

type memLedger struct{ *memStore }

// apply must be called with mu held.
func (r *memLedger) apply(inst *entity.Installment, now time.Time, result *repository.SettleResult) error {
	b, ok := r.bookings[inst.BookingID]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if _, done := r.reconciled[inst.ID]; !done {
		r.reconciled[inst.ID] = entity.Reconciliation{
			InstallmentID: inst.ID,
			BookingID:     inst.BookingID,
			Amount:        inst.Amount,
			AppliedAt:     now,
		}
		result.Reconciled = true
		result.Overpaid = max(b.AmountPaid+inst.Amount-b.TotalAmount, 0)
		b.AmountPaid = min(b.AmountPaid+inst.Amount, b.TotalAmount)
		b.Status = engine.DeriveBookingStatus(b.AmountPaid, b.TotalAmount, b.Status)
		b.UpdatedAt = now
	}
	result.Booking = copyBooking(b)
	return nil
}

func (r *memLedger) Settle(ctx context.Context, installmentID uuid.UUID, transactionRef string, paidAt time.Time) (*repository.SettleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installments[installmentID]
	if !ok || inst.Status != entity.InstallmentStatusProcessing {
		return &repository.SettleResult{}, nil
	}
	inst.Status = entity.InstallmentStatusPaid
	inst.PaidAt = &paidAt
	inst.TransactionRef = &transactionRef
	inst.NextRetryAt = nil
	inst.FailureKind = nil
	inst.FailureReason = nil
	inst.UpdatedAt = paidAt

	result := &repository.SettleResult{Applied: true, Installment: copyInstallment(inst)}
	if err := r.apply(inst, paidAt, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *memLedger) ReconcilePaid(ctx context.Context, installmentID uuid.UUID, now time.Time) (*repository.SettleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installments[installmentID]
	if !ok || inst.Status != entity.InstallmentStatusPaid {
		return &repository.SettleResult{}, nil
	}
	result := &repository.SettleResult{Installment: copyInstallment(inst)}
	if err := r.apply(inst, now, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *memLedger) FindUnreconciledPaid(ctx context.Context, limit int) ([]*entity.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return limited(r.sorted(func(i *entity.Installment) bool {
		_, done := r.reconciled[i.ID]
		return i.Status == entity.InstallmentStatusPaid && !done
	}), limit, 0), nil
}

// guard must be called with mu held. It checks for processing installments after the
// booking is held, as the SQL does after cancelling.
func (r *memLedger) guard(bookingID uuid.UUID) (*entity.Booking, error) {
	b, ok := r.bookings[bookingID]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	if b.Status != entity.BookingStatusActive && b.Status != entity.BookingStatusOverdue {
		return nil, repository.ErrBookingNotActive
	}
	if r.onBookingLocked != nil {
		r.onBookingLocked()
	}
	for _, inst := range r.installments {
		if inst.BookingID == bookingID && inst.Status == entity.InstallmentStatusProcessing {
			return nil, repository.ErrInstallmentInFlight
		}
	}
	return b, nil
}

// cancelUnpaid must be called with mu held.
func (r *memLedger) cancelUnpaid(bookingID uuid.UUID, now time.Time) int64 {
	var cancelled int64
	for _, inst := range r.installments {
		if inst.BookingID != bookingID {
			continue
		}
		if inst.Status == entity.InstallmentStatusPending || inst.Status == entity.InstallmentStatusFailed {
			inst.Status = entity.InstallmentStatusCancelled
			inst.NextRetryAt = nil
			inst.UpdatedAt = now
			cancelled++
		}
	}
	return cancelled
}

func (r *memLedger) CreateBooking(ctx context.Context, booking *entity.Booking, build repository.ScheduleBuilder) (*repository.RescheduleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	installments, err := build(copyBooking(booking))
	if err != nil {
		return nil, err
	}
	if r.failInsert != nil {
		return nil, fmt.Errorf("insert installments for booking %s: %w", booking.ID, r.failInsert)
	}
	r.bookings[booking.ID] = copyBooking(booking)
	for _, inst := range installments {
		r.installments[inst.ID] = copyInstallment(inst)
	}
	return &repository.RescheduleResult{Booking: copyBooking(booking), Installments: installments}, nil
}

func (r *memLedger) Reschedule(ctx context.Context, bookingID uuid.UUID, frequency *entity.PaymentFrequency, now time.Time, build repository.ScheduleBuilder) (*repository.RescheduleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.guard(bookingID)
	if err != nil {
		return nil, fmt.Errorf("reschedule booking %s: %w", bookingID, err)
	}

	// Build before mutating so a failed build leaves the schedule intact, as the SQL rollback does.
	next := copyBooking(b)
	if frequency != nil {
		next.Frequency = *frequency
	}
	installments, err := build(next)
	if err != nil {
		return nil, fmt.Errorf("reschedule booking %s: %w", bookingID, err)
	}

	cancelled := r.cancelUnpaid(bookingID, now)
	b.Frequency = next.Frequency
	for _, inst := range installments {
		r.installments[inst.ID] = copyInstallment(inst)
	}
	return &repository.RescheduleResult{Booking: copyBooking(b), Cancelled: cancelled, Installments: installments}, nil
}

func (r *memLedger) CancelBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.guard(bookingID)
	if err != nil {
		return 0, fmt.Errorf("cancel booking %s: %w", bookingID, err)
	}
	cancelled := r.cancelUnpaid(bookingID, now)
	b.Status = entity.BookingStatusCancelled
	return cancelled, nil
}

// scriptedProcessor returns outcomes in order, repeating the last one, and counts calls.
type scriptedProcessor struct {
	mu       sync.Mutex
	outcomes []charge.Outcome
	err      error
	delay    time.Duration
	calls    atomic.Int32
	keys     []string
}

func (p *scriptedProcessor) Charge(ctx context.Context, req charge.Request) (charge.Outcome, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.keys = append(p.keys, req.IdempotencyKey)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return charge.Outcome{}, ctx.Err()
		}
	}
	if p.err != nil {
		return charge.Outcome{}, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outcomes) == 0 {
		return charge.Succeeded("txn_" + req.IdempotencyKey), nil
	}
	out := p.outcomes[0]
	if len(p.outcomes) > 1 {
		p.outcomes = p.outcomes[1:]
	}
	return out, nil
}

func (p *scriptedProcessor) idempotencyKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type recordingNotifier struct {
	mu           sync.Mutex
	unresolved   []uuid.UUID
	authRequired []uuid.UUID
	// contexts holds the context of every notification, in call order.
	contexts []context.Context
}

func (n *recordingNotifier) InstallmentUnresolved(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unresolved = append(n.unresolved, inst.ID)
	n.contexts = append(n.contexts, ctx)
	return nil
}

func (n *recordingNotifier) AuthenticationRequired(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.authRequired = append(n.authRequired, inst.ID)
	n.contexts = append(n.contexts, ctx)
	return nil
}

// fixture wires services over a memStore with a controllable clock.
type fixture struct {
	store     *memStore
	processor *scriptedProcessor
	notifier  *recordingNotifier
	service   *Service
	logs      *observer.ObservedLogs
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     newMemStore(),
		processor: &scriptedProcessor{},
		notifier:  &recordingNotifier{},
		now:       time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}

	core, logs := observer.New(zap.InfoLevel)
	f.logs = logs

	config := &utils.Config{
		Poller: utils.PollerConfig{
			BatchSize:            50,
			ChargeTimeout:        200 * time.Millisecond,
			StaleProcessingAfter: 10 * time.Minute,
		},
		Processor: utils.ProcessorConfig{Currency: "usd"},
	}

	f.service = NewService(f.store.repository(), Collaborators{
		Processor: f.processor,
		Notifier:  f.notifier,
		Retry:     engine.DefaultRetryPolicy(),
		Clock:     func() time.Time { return f.now },
	}, config, zap.New(core))

	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// seedBooking stores an active booking with the given totals.
func (f *fixture) seedBooking(total, paid int64, frequency entity.PaymentFrequency, cutoffInDays int) *entity.Booking {
	booking := &entity.Booking{
		BaseNoDelete:     entity.BaseNoDelete{ID: uuid.New(), CreatedAt: f.now, UpdatedAt: f.now},
		Reference:        "TRIP-" + uuid.NewString()[:8],
		PackageRef:       "pkg-lisbon",
		CustomerRef:      "cus_1",
		PaymentMethodRef: "pm_card",
		TotalAmount:      total,
		AmountPaid:       paid,
		Currency:         "usd",
		Frequency:        frequency,
		CutoffDate:       engine.DateOf(f.now).AddDate(0, 0, cutoffInDays),
		Status:           entity.BookingStatusActive,
	}
	f.store.bookings[booking.ID] = copyBooking(booking)
	return booking
}

// seedInstallment stores an installment for booking due today.
func (f *fixture) seedInstallment(booking *entity.Booking, amount int64, status entity.InstallmentStatus) *entity.Installment {
	inst := &entity.Installment{
		BaseNoDelete: entity.BaseNoDelete{ID: uuid.New(), CreatedAt: f.now, UpdatedAt: f.now},
		BookingID:    booking.ID,
		Sequence:     len(f.store.installments) + 1,
		DueDate:      engine.DateOf(f.now),
		Amount:       amount,
		Status:       status,
	}
	if status == entity.InstallmentStatusProcessing {
		claimed := f.now
		inst.ClaimedAt = &claimed
	}
	f.store.installments[inst.ID] = copyInstallment(inst)
	return inst
}

func (f *fixture) booking(id uuid.UUID) *entity.Booking {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return copyBooking(f.store.bookings[id])
}

func (f *fixture) installment(id uuid.UUID) *entity.Installment {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return copyInstallment(f.store.installments[id])
}
