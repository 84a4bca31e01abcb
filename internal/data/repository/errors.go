package repository

import "errors"

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrBookingNotActive    = errors.New("booking is not active")
	ErrInstallmentInFlight = errors.New("installment charge in flight")
)
