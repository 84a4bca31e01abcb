package entity

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusOverdue   BookingStatus = "overdue"
)

type PaymentFrequency string

const (
	FrequencyWeekly   PaymentFrequency = "weekly"
	FrequencyBiWeekly PaymentFrequency = "bi-weekly"
	FrequencyMonthly  PaymentFrequency = "monthly"
	FrequencyLumpSum  PaymentFrequency = "lump-sum"
)

func (f PaymentFrequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly, FrequencyLumpSum:
		return true
	}
	return false
}

// Booking is one customer's purchase of one trip package. Amounts are minor currency units.
type Booking struct {
	BaseNoDelete
	Reference        string           `db:"reference"`
	PackageRef       string           `db:"package_ref"`
	CustomerRef      string           `db:"customer_ref"`
	PaymentMethodRef string           `db:"payment_method_ref"`
	TotalAmount      int64            `db:"total_amount"`
	AmountPaid       int64            `db:"amount_paid"`
	Currency         string           `db:"currency"`
	Frequency        PaymentFrequency `db:"frequency"`
	CutoffDate       time.Time        `db:"cutoff_date"`
	Status           BookingStatus    `db:"status"`
}

// Remaining is the unpaid balance, never negative.
func (b *Booking) Remaining() int64 {
	if b.AmountPaid >= b.TotalAmount {
		return 0
	}
	return b.TotalAmount - b.AmountPaid
}
