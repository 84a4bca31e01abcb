// Package engine holds the pure rules of installment billing: schedule generation,
// retry backoff, booking status derivation and the installment transition table.
package engine

import (
	"errors"
	"time"

	"trip-installments/internal/data/entity"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount: must be greater than zero")
	ErrInvalidFrequency = errors.New("invalid payment frequency")
)

// ScheduleTerms are the booking terms a schedule is generated from.
type ScheduleTerms struct {
	Total      int64
	Frequency  entity.PaymentFrequency
	CutoffDate time.Time
	Now        time.Time
}

// ScheduledPayment is one generated (due date, amount) pair.
type ScheduledPayment struct {
	DueDate time.Time
	Amount  int64
}

// PeriodDays is the cadence step of a frequency. Lump-sum has no cadence.
func PeriodDays(f entity.PaymentFrequency) int {
	switch f {
	case entity.FrequencyWeekly:
		return 7
	case entity.FrequencyBiWeekly:
		return 14
	case entity.FrequencyMonthly:
		return 28
	}
	return 0
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole calendar days from a to b, negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)) / (24 * time.Hour))
}

// GenerateSchedule splits terms.Total into installments spaced by the frequency cadence
// from terms.Now, never later than the cutoff date.
//
// Every installment but the last is ceil(Total/N); the last absorbs the remainder so the
// amounts always sum to Total. When the horizon cannot fit a full period, the frequency is
// lump-sum, or the remainder would be non-positive, a single installment for the whole
// amount is due on the cutoff date.
func GenerateSchedule(terms ScheduleTerms) ([]ScheduledPayment, error) {
	if terms.Total <= 0 {
		return nil, ErrInvalidAmount
	}
	if !terms.Frequency.Valid() {
		return nil, ErrInvalidFrequency
	}

	today := DateOf(terms.Now)
	cutoff := DateOf(terms.CutoffDate)
	lumpSum := []ScheduledPayment{{DueDate: cutoff, Amount: terms.Total}}

	step := PeriodDays(terms.Frequency)
	if step == 0 {
		return lumpSum, nil
	}

	days := DaysBetween(today, cutoff)
	if days < step {
		return lumpSum, nil
	}

	n := int64(days / step)
	regular := (terms.Total + n - 1) / n
	last := terms.Total - regular*(n-1)
	if last <= 0 {
		return lumpSum, nil
	}

	payments := make([]ScheduledPayment, 0, n)
	for i := int64(0); i < n; i++ {
		amount := regular
		if i == n-1 {
			amount = last
		}
		payments = append(payments, ScheduledPayment{
			DueDate: today.AddDate(0, 0, int(i)*step),
			Amount:  amount,
		})
	}

	return payments, nil
}
