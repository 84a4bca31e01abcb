package engine

import "trip-installments/internal/data/entity"

// DeriveBookingStatus is the only place a booking's completion is decided.
// A booking is completed iff amountPaid >= total; cancelled bookings stay cancelled.
func DeriveBookingStatus(amountPaid, total int64, current entity.BookingStatus) entity.BookingStatus {
	if current == entity.BookingStatusCancelled {
		return current
	}
	if amountPaid >= total {
		return entity.BookingStatusCompleted
	}
	if current == entity.BookingStatusCompleted {
		return entity.BookingStatusActive
	}
	return current
}

var transitions = map[entity.InstallmentStatus][]entity.InstallmentStatus{
	entity.InstallmentStatusPending:    {entity.InstallmentStatusProcessing, entity.InstallmentStatusCancelled},
	entity.InstallmentStatusProcessing: {entity.InstallmentStatusPaid, entity.InstallmentStatusFailed},
	entity.InstallmentStatusFailed:     {entity.InstallmentStatusProcessing, entity.InstallmentStatusCancelled},
}

// CanTransition reports whether an installment may move from one status to another.
func CanTransition(from, to entity.InstallmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports statuses that never change again.
func Terminal(s entity.InstallmentStatus) bool {
	return s == entity.InstallmentStatusPaid || s == entity.InstallmentStatusCancelled
}
