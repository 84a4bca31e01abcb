package request

// RecordOutcomeRequest lets an operator or processor callback report an attempt's result.
type RecordOutcomeRequest struct {
	Outcome        string `json:"outcome" validate:"required,oneof=succeeded declined authentication_required error timeout"`
	TransactionRef string `json:"transaction_ref" validate:"required_if=Outcome succeeded,max=120"`
	Reason         string `json:"reason" validate:"max=500"`
}
