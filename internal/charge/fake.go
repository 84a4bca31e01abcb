package charge

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// FakeProcessor decides outcomes from the payment method reference, for local runs:
// "pm_decline*" declines, "pm_auth*" needs authentication, "pm_error*" fails transiently,
// "pm_processing*" stays pending, everything else succeeds.
type FakeProcessor struct{}

func (FakeProcessor) Charge(ctx context.Context, req Request) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	switch ref := req.PaymentMethodRef; {
	case strings.HasPrefix(ref, "pm_decline"):
		return Declined("card_declined: your card was declined"), nil
	case strings.HasPrefix(ref, "pm_auth"):
		return AuthenticationRequired("authentication_required: off-session payment needs 3-D Secure"), nil
	case strings.HasPrefix(ref, "pm_processing"):
		return Pending("fake_" + uuid.NewString()), nil
	case strings.HasPrefix(ref, "pm_error"):
		return Outcome{}, errFakeUnavailable
	}

	return Succeeded("fake_" + uuid.NewString()), nil
}

var errFakeUnavailable = errors.New("processor unavailable")
