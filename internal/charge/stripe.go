package charge

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"go.uber.org/zap"
)

// intentClient is the part of paymentintent.Client the processor uses.
type intentClient interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProcessor confirms off-session PaymentIntents against a saved customer and payment method.
type StripeProcessor struct {
	client intentClient
	log    *zap.Logger
}

func NewStripeProcessor(secretKey string, log *zap.Logger) *StripeProcessor {
	return &StripeProcessor{
		client: paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		log:    log.With(zap.String("processor", "stripe")),
	}
}

func (p *StripeProcessor) Charge(ctx context.Context, req Request) (Outcome, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(fmt.Sprintf("Installment for booking %s", req.BookingReference)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("installment_id", req.InstallmentID.String())
	params.AddMetadata("booking_id", req.BookingID.String())

	pi, err := p.client.New(params)
	if err != nil {
		outcome, classifyErr := classifyError(err)
		if classifyErr != nil {
			p.log.Warn("PaymentIntent request failed",
				zap.Error(err),
				zap.String("installment_id", req.InstallmentID.String()),
			)
			return Outcome{}, classifyErr
		}
		return outcome, nil
	}

	// A replayed idempotency key returns the intent as first created, so a processing
	// intent is read again for its current status.
	if pi.Status == stripe.PaymentIntentStatusProcessing {
		getParams := &stripe.PaymentIntentParams{}
		getParams.Context = ctx
		current, err := p.client.Get(pi.ID, getParams)
		if err != nil {
			p.log.Warn("PaymentIntent refresh failed, reporting pending",
				zap.Error(err),
				zap.String("payment_intent", pi.ID),
				zap.String("installment_id", req.InstallmentID.String()),
			)
			return Pending(pi.ID), nil
		}
		pi = current
	}

	return classifyIntent(pi), nil
}

// classifyError turns card errors into outcomes; anything else stays an error.
func classifyError(err error) (Outcome, error) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return Outcome{}, fmt.Errorf("stripe request: %w", err)
	}

	var ref string
	if stripeErr.PaymentIntent != nil {
		ref = stripeErr.PaymentIntent.ID
	}

	switch {
	case stripeErr.Code == stripe.ErrorCodeAuthenticationRequired:
		outcome := AuthenticationRequired(stripeErr.Msg)
		outcome.TransactionRef = ref
		return outcome, nil
	case stripeErr.Type == stripe.ErrorTypeCard:
		reason := stripeErr.Msg
		if stripeErr.DeclineCode != "" {
			reason = fmt.Sprintf("%s: %s", stripeErr.DeclineCode, stripeErr.Msg)
		}
		outcome := Declined(reason)
		outcome.TransactionRef = ref
		return outcome, nil
	}

	return Outcome{}, fmt.Errorf("stripe %s: %w", stripeErr.Type, err)
}

func classifyIntent(pi *stripe.PaymentIntent) Outcome {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Succeeded(pi.ID)
	case stripe.PaymentIntentStatusProcessing:
		return Pending(pi.ID)
	case stripe.PaymentIntentStatusRequiresAction:
		outcome := AuthenticationRequired("payment requires customer authentication")
		outcome.TransactionRef = pi.ID
		return outcome
	}

	outcome := Declined(fmt.Sprintf("payment intent ended in status %s", pi.Status))
	outcome.TransactionRef = pi.ID
	return outcome
}
