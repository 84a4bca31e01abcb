package request

type RegisterBookingRequest struct {
	PackageRef       string `json:"package_ref" validate:"required,max=120"`
	CustomerRef      string `json:"customer_ref" validate:"required,max=120"`
	PaymentMethodRef string `json:"payment_method_ref" validate:"required,max=120"`
	TotalAmount      int64  `json:"total_amount" validate:"required,gt=0"`
	CutoffDate       string `json:"cutoff_date" validate:"required,datetime=2006-01-02"`
	Frequency        string `json:"frequency" validate:"required,oneof=weekly bi-weekly monthly lump-sum"`
}

type ChangeFrequencyRequest struct {
	Frequency string `json:"frequency" validate:"required,oneof=weekly bi-weekly monthly lump-sum"`
}

type ListBookingsRequest struct {
	PaginatedRequest
	Status string `json:"status" validate:"omitempty,oneof=active completed cancelled overdue"`
}
