package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment records one settled Stripe payment that funded an investment. The
// unique payment-intent and event ids make webhook delivery idempotent:
// a replayed event finds the existing row and is acknowledged without
// re-investing.
type Payment struct {
	ID                    uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	StripePaymentIntentID string         `gorm:"column:stripe_payment_intent_id;uniqueIndex;not null" json:"stripe_payment_intent_id"`
	StripeEventID         string         `gorm:"column:stripe_event_id;uniqueIndex;not null" json:"stripe_event_id"`
	InvestorID            uuid.UUID      `gorm:"column:investor_id;type:uuid;not null" json:"investor_id"`
	PoolID                uuid.UUID      `gorm:"column:pool_id;type:uuid;not null" json:"pool_id"`
	TargetID              uuid.UUID      `gorm:"column:target_id;type:uuid;not null" json:"target_id"`
	AmountPaidCents       int            `gorm:"column:amount_paid_cents;not null" json:"amount_paid_cents"`
	Currency              string         `gorm:"column:currency;not null" json:"currency"`
	Status                string         `gorm:"column:status;not null" json:"status"`
	RawPaymentIntent      datatypes.JSON `gorm:"column:raw_payment_intent;type:jsonb;not null" json:"raw_payment_intent"`
	CreatedAt             time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt             time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Payment) TableName() string {
	return "Payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
