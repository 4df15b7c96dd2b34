package notify

import (
	"context"
	"fmt"

	"salesbot/config"
	"salesbot/internal/util"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Mailer sends transactional email: payment confirmations to payers and
// first-contact alerts to tenant owners. Both are best-effort side effects;
// callers record the outcome and move on.
type Mailer struct {
	cfg    config.MailConfig
	logger *zap.Logger
}

func NewMailer(cfg config.MailConfig) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// SendPaymentConfirmation emails the payer after a settled purchase.
func (m *Mailer) SendPaymentConfirmation(ctx context.Context, payerEmail, tenantName, productName string, quantity int, amount int64, currency string) error {
	subject := fmt.Sprintf("Your purchase from %s is confirmed", tenantName)
	body := fmt.Sprintf(
		"Thank you for your purchase!\n\n%d x %s\nTotal: %d %s\n\nYou will hear from %s shortly.\n",
		quantity, productName, amount, currency, tenantName)

	if err := m.send(ctx, payerEmail, subject, body); err != nil {
		util.EmailsSentTotal.WithLabelValues("error").Inc()
		return err
	}
	util.EmailsSentTotal.WithLabelValues("ok").Inc()
	return nil
}

// SendOwnerAlert notifies the tenant owner of a first-time customer message.
func (m *Mailer) SendOwnerAlert(ctx context.Context, ownerEmail, tenantName, channel, sender string) error {
	subject := fmt.Sprintf("New customer on %s", channel)
	body := fmt.Sprintf("A new customer (%s) just wrote to %s on %s.\n", sender, tenantName, channel)
	return m.send(ctx, ownerEmail, subject, body)
}
