package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trip-installments/internal/data/entity"
	"trip-installments/internal/data/repository"
	"trip-installments/internal/dto/request"
	"trip-installments/internal/dto/response"
	"trip-installments/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingService interface {
	// Register stores a booking and generates its first schedule.
	Register(ctx context.Context, req *request.RegisterBookingRequest) (*response.ScheduleResponse, error)
	GetByID(ctx context.Context, bookingID uuid.UUID) (*response.BookingDetailResponse, error)
	List(ctx context.Context, req *request.ListBookingsRequest) (*response.PaginatedResponse[response.BookingResponse], error)
	Cancel(ctx context.Context, bookingID uuid.UUID) (*response.BookingDetailResponse, error)
}

type bookingService struct {
	repo     *repository.Repository
	currency string
	now      func() time.Time
	log      *zap.Logger
}

func NewBookingService(repo *repository.Repository, currency string, clock func() time.Time, log *zap.Logger) BookingService {
	if clock == nil {
		clock = time.Now
	}

	return &bookingService{
		repo:     repo,
		currency: currency,
		now:      clock,
		log:      log.With(zap.String("service", "booking")),
	}
}

func (s *bookingService) Register(ctx context.Context, req *request.RegisterBookingRequest) (*response.ScheduleResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Register booking validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	cutoff, err := time.Parse(time.DateOnly, req.CutoffDate)
	if err != nil {
		return nil, fmt.Errorf("%w: cutoff_date %q", ErrValidation, req.CutoffDate)
	}

	now := s.now()
	booking := &entity.Booking{
		BaseNoDelete: entity.BaseNoDelete{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Reference:        utils.GenerateBookingReference(now),
		PackageRef:       strings.TrimSpace(req.PackageRef),
		CustomerRef:      strings.TrimSpace(req.CustomerRef),
		PaymentMethodRef: strings.TrimSpace(req.PaymentMethodRef),
		TotalAmount:      req.TotalAmount,
		Currency:         s.currency,
		Frequency:        entity.PaymentFrequency(req.Frequency),
		CutoffDate:       cutoff,
		Status:           entity.BookingStatusActive,
	}

	result, err := s.repo.Ledger.CreateBooking(ctx, booking, func(b *entity.Booking) ([]*entity.Installment, error) {
		return buildInstallments(b, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Booking registered",
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
		zap.String("customer_ref", booking.CustomerRef),
		zap.Int64("total_amount", booking.TotalAmount),
		zap.String("frequency", string(booking.Frequency)),
		zap.Int("installments", len(result.Installments)),
	)

	resp := response.ScheduleToResponse(result.Booking, result.Cancelled, result.Installments)
	return &resp, nil
}

func (s *bookingService) GetByID(ctx context.Context, bookingID uuid.UUID) (*response.BookingDetailResponse, error) {
	booking, err := s.repo.Booking.FindByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %s: %w", bookingID.String(), ErrBookingNotFound)
	}

	installments, err := s.repo.Installment.FindByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	resp := response.BookingToDetailResponse(booking, installments)
	return &resp, nil
}

func (s *bookingService) List(ctx context.Context, req *request.ListBookingsRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, utils.FormatValidationErrors(errs))
	}

	var status *entity.BookingStatus
	if req.Status != "" {
		st := entity.BookingStatus(req.Status)
		status = &st
	}

	bookings, err := s.repo.Booking.FindAll(ctx, status, req.Limit(), req.Offset())
	if err != nil {
		return nil, err
	}

	total, err := s.repo.Booking.Count(ctx, status)
	if err != nil {
		return nil, err
	}

	data := make([]response.BookingResponse, len(bookings))
	for i, booking := range bookings {
		data[i] = response.BookingToResponse(booking)
	}

	return response.NewPaginatedResponse(data, req.Page, req.Limit(), total), nil
}

func (s *bookingService) Cancel(ctx context.Context, bookingID uuid.UUID) (*response.BookingDetailResponse, error) {
	cancelled, err := s.repo.Ledger.CancelBooking(ctx, bookingID, s.now())
	if err != nil {
		return nil, err
	}

	s.log.Info("Booking cancelled",
		zap.String("booking_id", bookingID.String()),
		zap.Int64("installments_cancelled", cancelled),
	)

	return s.GetByID(ctx, bookingID)
}
