// Package notify tells operators about installments that automated retries cannot resolve.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"trip-installments/internal/data/entity"
	"trip-installments/pkg/utils"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"
)

type Notifier interface {
	// InstallmentUnresolved fires once retries are exhausted.
	InstallmentUnresolved(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error
	// AuthenticationRequired fires when the customer must authenticate the payment themselves.
	AuthenticationRequired(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error
}

// New returns an SMTP notifier, or a log-only one when SMTP or the operator address is not configured.
func New(cfg utils.EmailConfig, log *zap.Logger) Notifier {
	if cfg.Host == "" || cfg.Operator == "" {
		return &LogNotifier{log: log.With(zap.String("notifier", "log"))}
	}

	return &MailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
		to:     cfg.Operator,
		log:    log.With(zap.String("notifier", "mail")),
	}
}

var bodyTemplate = template.Must(template.New("body").Parse(`{{.Headline}}

Booking:      {{.Booking.Reference}} ({{.Booking.ID}})
Customer:     {{.Booking.CustomerRef}}
Installment:  #{{.Installment.Sequence}} ({{.Installment.ID}})
Amount:       {{.Installment.Amount}} {{.Booking.Currency}}
Due date:     {{.Installment.DueDate.Format "2006-01-02"}}
Attempts:     {{.Installment.Attempts}}
{{- with .Installment.FailureKind}}
Failure kind: {{.}}{{end}}
{{- with .Installment.FailureReason}}
Reason:       {{.}}{{end}}
`))

type message struct {
	Headline    string
	Booking     *entity.Booking
	Installment *entity.Installment
}

func render(msg message) (string, error) {
	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, msg); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return body.String(), nil
}

// sender is the part of gomail.Dialer the notifier uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type MailNotifier struct {
	dialer sender
	from   string
	to     string
	log    *zap.Logger
}

func (n *MailNotifier) InstallmentUnresolved(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error {
	return n.send(ctx,
		fmt.Sprintf("[installments] Unresolved installment for booking %s", booking.Reference),
		message{Headline: "Automatic retries are exhausted. Manual follow-up is needed.", Booking: booking, Installment: inst},
	)
}

func (n *MailNotifier) AuthenticationRequired(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error {
	return n.send(ctx,
		fmt.Sprintf("[installments] Customer authentication required for booking %s", booking.Reference),
		message{Headline: "The card issuer requires the customer to authenticate this payment.", Booking: booking, Installment: inst},
	)
}

// send delivers the mail but gives up when ctx ends. gomail has no context support, so a
// hung SMTP dial keeps running in the background until the dialer's own timeout.
func (n *MailNotifier) send(ctx context.Context, subject string, msg message) error {
	body, err := render(msg)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() { done <- n.dialer.DialAndSend(m) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		n.log.Error("Failed to send operator email",
			zap.Error(err),
			zap.String("subject", subject),
			zap.String("installment_id", msg.Installment.ID.String()),
		)
		return fmt.Errorf("send operator email: %w", err)
	}

	n.log.Info("Operator notified",
		zap.String("subject", subject),
		zap.String("installment_id", msg.Installment.ID.String()),
	)
	return nil
}

// LogNotifier only logs; used when SMTP is not configured.
type LogNotifier struct {
	log *zap.Logger
}

func (n *LogNotifier) InstallmentUnresolved(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error {
	n.log.Warn("Installment unresolved, retries exhausted",
		zap.String("booking_id", booking.ID.String()),
		zap.String("installment_id", inst.ID.String()),
		zap.Int("attempts", inst.Attempts),
	)
	return nil
}

func (n *LogNotifier) AuthenticationRequired(ctx context.Context, booking *entity.Booking, inst *entity.Installment) error {
	n.log.Warn("Installment needs customer authentication",
		zap.String("booking_id", booking.ID.String()),
		zap.String("installment_id", inst.ID.String()),
		zap.Int("attempts", inst.Attempts),
	)
	return nil
}
