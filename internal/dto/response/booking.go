package response

import (
	"time"

	"trip-installments/internal/data/entity"
)

type BookingResponse struct {
	ID               string                  `json:"id"`
	Reference        string                  `json:"reference"`
	PackageRef       string                  `json:"package_ref"`
	CustomerRef      string                  `json:"customer_ref"`
	PaymentMethodRef string                  `json:"payment_method_ref"`
	TotalAmount      int64                   `json:"total_amount"`
	AmountPaid       int64                   `json:"amount_paid"`
	Remaining        int64                   `json:"remaining"`
	Currency         string                  `json:"currency"`
	Frequency        entity.PaymentFrequency `json:"frequency"`
	CutoffDate       string                  `json:"cutoff_date"`
	Status           entity.BookingStatus    `json:"status"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

type BookingDetailResponse struct {
	BookingResponse
	Installments []InstallmentResponse `json:"installments"`
}

// ScheduleResponse is returned when a schedule is generated or replaced.
type ScheduleResponse struct {
	Booking      BookingResponse       `json:"booking"`
	Cancelled    int64                 `json:"cancelled"`
	Installments []InstallmentResponse `json:"installments"`
}

// Helper converters
func BookingToResponse(booking *entity.Booking) BookingResponse {
	return BookingResponse{
		ID:               booking.ID.String(),
		Reference:        booking.Reference,
		PackageRef:       booking.PackageRef,
		CustomerRef:      booking.CustomerRef,
		PaymentMethodRef: booking.PaymentMethodRef,
		TotalAmount:      booking.TotalAmount,
		AmountPaid:       booking.AmountPaid,
		Remaining:        booking.Remaining(),
		Currency:         booking.Currency,
		Frequency:        booking.Frequency,
		CutoffDate:       booking.CutoffDate.Format(time.DateOnly),
		Status:           booking.Status,
		CreatedAt:        booking.CreatedAt,
		UpdatedAt:        booking.UpdatedAt,
	}
}

func BookingToDetailResponse(booking *entity.Booking, installments []*entity.Installment) BookingDetailResponse {
	return BookingDetailResponse{
		BookingResponse: BookingToResponse(booking),
		Installments:    InstallmentsToResponse(installments),
	}
}

func ScheduleToResponse(booking *entity.Booking, cancelled int64, installments []*entity.Installment) ScheduleResponse {
	return ScheduleResponse{
		Booking:      BookingToResponse(booking),
		Cancelled:    cancelled,
		Installments: InstallmentsToResponse(installments),
	}
}
