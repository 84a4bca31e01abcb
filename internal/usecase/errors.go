package usecase

import (
	"errors"

	"trip-installments/internal/data/repository"
)

var (
	ErrBookingNotFound     = repository.ErrBookingNotFound
	ErrInstallmentNotFound = repository.ErrInstallmentNotFound
	ErrBookingNotActive    = repository.ErrBookingNotActive
	ErrInstallmentInFlight = repository.ErrInstallmentInFlight

	ErrBookingSettled    = errors.New("booking is already fully paid")
	ErrInvalidTransition = errors.New("invalid installment transition")
	ErrValidation        = errors.New("validation failed")
)
