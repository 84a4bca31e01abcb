// Package poller periodically charges due installments and retries failed ones.
package poller

import (
	"context"
	"sync"
	"time"

	"trip-installments/internal/data/entity"
	"trip-installments/internal/usecase"
	"trip-installments/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source is the slice of the installment service the poller drives.
type Source interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error)
	ListRetryReady(ctx context.Context, now time.Time, limit int) ([]*entity.Installment, error)
	ProcessInstallment(ctx context.Context, inst *entity.Installment) (usecase.ProcessResult, error)
	Repair(ctx context.Context) (*usecase.RepairSummary, error)
}

// Summary counts what one cycle did.
type Summary struct {
	LockContended bool
	Due           int
	RetryReady    int
	Paid          int
	Failed        int
	Unresolved    int
	Pending       int
	Skipped       int
	Errors        int
	Recovered     int
	Reconciled    int
}

func (s *Summary) record(result usecase.ProcessResult, err error) {
	if err != nil {
		s.Errors++
		return
	}
	switch result {
	case usecase.ProcessPaid:
		s.Paid++
	case usecase.ProcessFailed:
		s.Failed++
	case usecase.ProcessUnresolved:
		s.Unresolved++
	case usecase.ProcessPending:
		s.Pending++
	default:
		s.Skipped++
	}
}

type Poller struct {
	source    Source
	locker    Locker
	interval  time.Duration
	workers   int
	batchSize int
	lockTTL   time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func New(source Source, locker Locker, cfg utils.PollerConfig, clock func() time.Time, log *zap.Logger) *Poller {
	if locker == nil {
		locker = &LocalLocker{}
	}
	if clock == nil {
		clock = time.Now
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	// Must outlast the slowest charge in a cycle.
	lockTTL := max(interval, 2*cfg.ChargeTimeout)

	return &Poller{
		source:    source,
		locker:    locker,
		interval:  interval,
		workers:   max(cfg.Workers, 1),
		batchSize: max(cfg.BatchSize, 1),
		lockTTL:   lockTTL,
		now:       clock,
		log:       log.With(zap.String("component", "poller")),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("Poller started",
		zap.Duration("interval", p.interval),
		zap.Int("workers", p.workers),
		zap.Int("batch_size", p.batchSize),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("Poll cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle: stale-attempt repair, then due and retry-ready installments.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary

	release, ok, err := p.locker.Acquire(ctx, p.lockTTL)
	if err != nil {
		return summary, err
	}
	if !ok {
		p.log.Debug("Another poller holds the lock, skipping cycle")
		summary.LockContended = true
		return summary, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			p.log.Warn("Failed to release poller lock", zap.Error(err))
		}
	}()

	repaired, err := p.source.Repair(ctx)
	if err != nil {
		p.log.Error("Repair failed", zap.Error(err))
		summary.Errors++
	} else {
		summary.Recovered = repaired.StaleRecovered
		summary.Pending = repaired.StillPending
		summary.Reconciled = repaired.Reconciled
		summary.Errors += repaired.Errors
	}

	now := p.now()
	due, err := p.source.ListDue(ctx, now, p.batchSize)
	if err != nil {
		return summary, err
	}
	retry, err := p.source.ListRetryReady(ctx, now, p.batchSize)
	if err != nil {
		return summary, err
	}
	summary.Due = len(due)
	summary.RetryReady = len(retry)

	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(p.workers)

	for _, inst := range append(due, retry...) {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := p.source.ProcessInstallment(ctx, inst)
			if err != nil {
				p.log.Warn("Installment not processed",
					zap.Error(err),
					zap.String("installment_id", inst.ID.String()),
				)
			}

			mu.Lock()
			summary.record(result, err)
			mu.Unlock()
			// Counted, not propagated: the rest of the batch still runs.
			return nil
		})
	}
	_ = g.Wait()

	if summary.Due+summary.RetryReady > 0 || summary.Recovered+summary.Reconciled > 0 {
		p.log.Info("Poll cycle finished",
			zap.Int("due", summary.Due),
			zap.Int("retry_ready", summary.RetryReady),
			zap.Int("paid", summary.Paid),
			zap.Int("failed", summary.Failed),
			zap.Int("unresolved", summary.Unresolved),
			zap.Int("pending", summary.Pending),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors),
			zap.Int("recovered", summary.Recovered),
			zap.Int("reconciled", summary.Reconciled),
		)
	}

	return summary, ctx.Err()
}
