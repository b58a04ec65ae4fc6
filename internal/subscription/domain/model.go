package domain

import (
	"context"

	"github.com/savethedate/payments/pkg/errkind"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const DefaultLanguage = "en"

// Owner is the platform user an event belongs to, joined with the tier that
// prices their contributions. Event fields are empty when the owner was
// looked up by user id.
type Owner struct {
	UserID        string
	Email         string
	RecipientCode *string
	TierID        *string
	FeePercentage decimal.NullDecimal
	EventID       string
	EventName     string
	LanguageID    string
}

// HasRecipient reports whether payouts can be sent to this owner.
func (o Owner) HasRecipient() bool {
	return o.RecipientCode != nil && *o.RecipientCode != ""
}

func (o Owner) Language() string {
	if o.LanguageID == "" {
		return DefaultLanguage
	}
	return o.LanguageID
}

type Repository interface {
	FindOwnerByEvent(ctx context.Context, db *gorm.DB, eventID string) (*Owner, error)
	FindOwnerByUser(ctx context.Context, db *gorm.DB, userID string) (*Owner, error)

	RenewalRepository
}

type Service interface {
	// FeePercentage resolves the platform fee for contributions to eventID at
	// the moment of the call. db may be a transaction; nil uses the service
	// connection.
	FeePercentage(ctx context.Context, db *gorm.DB, eventID string) (decimal.Decimal, error)
	OwnerForEvent(ctx context.Context, eventID string) (*Owner, error)
	OwnerForUser(ctx context.Context, userID string) (*Owner, error)
}

var (
	ErrEventNotFound = errkind.NotFound("event not found")
	ErrUserNotFound  = errkind.NotFound("user not found")
)
