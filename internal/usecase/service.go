package usecase

import (
	"time"

	"trip-installments/internal/charge"
	"trip-installments/internal/data/repository"
	"trip-installments/internal/engine"
	"trip-installments/internal/notify"
	"trip-installments/pkg/utils"

	"go.uber.org/zap"
)

// Collaborators are the external parts the installment engine drives.
type Collaborators struct {
	Processor charge.Processor
	Notifier  notify.Notifier
	Retry     engine.RetryPolicy
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	Booking     BookingService
	Installment InstallmentService
}

func NewService(repo *repository.Repository, collab Collaborators, config *utils.Config, log *zap.Logger) *Service {
	if collab.Clock == nil {
		collab.Clock = time.Now
	}

	installment := NewInstallmentService(repo, collab, config.Poller, log)

	return &Service{
		Booking:     NewBookingService(repo, config.Processor.Currency, collab.Clock, log),
		Installment: installment,
	}
}
