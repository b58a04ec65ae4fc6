package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/savethedate/payments/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type recordingProvider struct {
	sent []sentMail
}

func (r *recordingProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	r.sent = append(r.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func newTestNotifier(t *testing.T, recipients []string) (Notifier, *recordingProvider) {
	t.Helper()
	catalog, err := NewCatalog(nil, zap.NewNop())
	require.NoError(t, err)
	provider := &recordingProvider{}
	cfg := config.Config{}
	cfg.Email.AlertRecipients = recipients
	return NewNotifier(NotifierParams{Config: cfg, Log: zap.NewNop(), Catalog: catalog, Email: provider}), provider
}

func TestContributionReceivedIsLocalised(t *testing.T) {
	notifier, provider := newTestNotifier(t, nil)

	err := notifier.ContributionReceived(context.Background(), Contribution{
		Email:        "guest@example.com",
		Language:     "fr",
		EventName:    "Ada & Tunde",
		GiftItemName: "Stand <mixer>",
		Amount:       "10000.00",
		Currency:     "NGN",
		Reference:    "std_01",
	})
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)

	mail := provider.sent[0]
	assert.Equal(t, []string{"guest@example.com"}, mail.to)
	assert.Equal(t, "Merci pour votre cadeau à Ada & Tunde", mail.subject)
	assert.True(t, strings.Contains(mail.body, "Stand &lt;mixer&gt;"))
	assert.True(t, strings.Contains(mail.body, "NGN 10000.00"))
}

func TestPayoutFailedWithoutRecipientsIsSilent(t *testing.T) {
	notifier, provider := newTestNotifier(t, nil)
	require.NoError(t, notifier.PayoutFailed(context.Background(), PayoutAlert{Reference: "po_1"}))
	assert.Empty(t, provider.sent)
}

func TestPayoutFailedAlertsOperators(t *testing.T) {
	notifier, provider := newTestNotifier(t, []string{"ops@example.com"})
	require.NoError(t, notifier.PayoutFailed(context.Background(), PayoutAlert{
		Reference:   "po_1",
		Beneficiary: "event:evt_1",
		Amount:      "2850.00",
		Reason:      "Could not resolve account",
	}))
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "Payout po_1 failed", provider.sent[0].subject)
	assert.Contains(t, provider.sent[0].body, "Could not resolve account")
}
