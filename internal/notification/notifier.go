package notification

import (
	"context"
	"html"
	"strings"

	"github.com/savethedate/payments/internal/config"
	"github.com/savethedate/payments/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyThankYouSubject     = "email.thank_you.subject"
	keyThankYouBody        = "email.thank_you.body"
	keyPayoutFailedSubject = "email.payout_failed.subject"
	keyPayoutFailedBody    = "email.payout_failed.body"
)

// Contribution is what the contributor thank-you email shows.
type Contribution struct {
	Email        string
	Language     string
	EventName    string
	GiftItemName string
	Amount       string
	Currency     string
	Reference    string
}

// PayoutAlert is what the operator alert for a failed transfer shows.
type PayoutAlert struct {
	Reference   string
	Beneficiary string
	Amount      string
	Reason      string
}

type Notifier interface {
	ContributionReceived(ctx context.Context, c Contribution) error
	PayoutFailed(ctx context.Context, alert PayoutAlert) error
}

type NotifierParams struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Catalog *Catalog
	Email   email.Provider
}

type emailNotifier struct {
	log             *zap.Logger
	catalog         *Catalog
	email           email.Provider
	alertRecipients []string
}

func NewNotifier(p NotifierParams) Notifier {
	return &emailNotifier{
		log:             p.Log.Named("notification.notifier"),
		catalog:         p.Catalog,
		email:           p.Email,
		alertRecipients: p.Config.Email.AlertRecipients,
	}
}

func (n *emailNotifier) ContributionReceived(ctx context.Context, c Contribution) error {
	if strings.TrimSpace(c.Email) == "" {
		return nil
	}
	vars := escapeVars(map[string]string{
		"event_name": c.EventName,
		"gift_item":  c.GiftItemName,
		"amount":     c.Amount,
		"currency":   c.Currency,
		"reference":  c.Reference,
	})
	subject := n.catalog.Translate(c.Language, keyThankYouSubject, map[string]string{"event_name": c.EventName})
	body := n.catalog.Translate(c.Language, keyThankYouBody, vars)
	return n.email.Send(ctx, []string{c.Email}, subject, body)
}

func (n *emailNotifier) PayoutFailed(ctx context.Context, alert PayoutAlert) error {
	if len(n.alertRecipients) == 0 {
		n.log.Debug("no alert recipients configured", zap.String("reference", alert.Reference))
		return nil
	}
	vars := escapeVars(map[string]string{
		"reference":   alert.Reference,
		"beneficiary": alert.Beneficiary,
		"amount":      alert.Amount,
		"reason":      alert.Reason,
	})
	subject := n.catalog.Translate(DefaultLanguage, keyPayoutFailedSubject, map[string]string{"reference": alert.Reference})
	body := n.catalog.Translate(DefaultLanguage, keyPayoutFailedBody, vars)
	return n.email.Send(ctx, n.alertRecipients, subject, body)
}

func escapeVars(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = html.EscapeString(v)
	}
	return out
}
