package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wekeza-backend/internal/pkg/money"
)

// DividendRecord is one distribution event against a pool or tranche. The
// record is append-only: after creation the only mutations are the status
// transitions pending to settled or failed, and attaching the settlement
// reference once the ledger confirms. PerShare keeps 18 fractional digits so
// per-holder flooring loses at most one minor unit per holder.
type DividendRecord struct {
	RecordID      uuid.UUID       `gorm:"column:record_id;type:uuid;primaryKey" json:"record_id"`
	PoolID        uuid.UUID       `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	TrancheID     *uuid.UUID      `gorm:"column:tranche_id;type:uuid" json:"tranche_id"`
	TargetID      uuid.UUID       `gorm:"column:target_id;type:uuid;not null;index" json:"target_id"`
	TotalAmount   money.Amount    `gorm:"column:total_amount;type:numeric(38,0);not null" json:"total_amount"`
	TotalShares   money.Shares    `gorm:"column:total_shares;type:numeric(38,0);not null" json:"total_shares"`
	PerShare      decimal.Decimal `gorm:"column:per_share;type:numeric(65,18);not null" json:"per_share"`
	Description   string          `gorm:"column:description" json:"description"`
	Status        string          `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`
	SettlementRef *string         `gorm:"column:settlement_ref" json:"settlement_ref"`
	CreatedAt     time.Time       `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"column:updatedAt" json:"updatedAt"`
}

func (DividendRecord) TableName() string {
	return "DividendRecords"
}

func (r *DividendRecord) BeforeCreate(tx *gorm.DB) error {
	if r.RecordID == uuid.Nil {
		r.RecordID = uuid.New()
	}
	return nil
}

// DividendPayout is the per-holder slice of one dividend record. The unique
// (record_id, investment_id) pair is the idempotency marker: a retried
// distribution pays only rows still pending, so no holder is paid twice for
// the same record.
type DividendPayout struct {
	PayoutID     uuid.UUID    `gorm:"column:payout_id;type:uuid;primaryKey" json:"payout_id"`
	RecordID     uuid.UUID    `gorm:"column:record_id;type:uuid;not null;uniqueIndex:idx_record_investment,priority:1" json:"record_id"`
	InvestmentID uuid.UUID    `gorm:"column:investment_id;type:uuid;not null;uniqueIndex:idx_record_investment,priority:2" json:"investment_id"`
	Amount       money.Amount `gorm:"column:amount;type:numeric(38,0);not null" json:"amount"`
	Status       string       `gorm:"column:status;type:varchar(20);not null;default:'pending'" json:"status"`
	TransferRef  *string      `gorm:"column:transfer_ref" json:"transfer_ref"`
	PaidAt       *time.Time   `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt    time.Time    `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt    time.Time    `gorm:"column:updatedAt" json:"updatedAt"`
}

func (DividendPayout) TableName() string {
	return "DividendPayouts"
}

func (p *DividendPayout) BeforeCreate(tx *gorm.DB) error {
	if p.PayoutID == uuid.Nil {
		p.PayoutID = uuid.New()
	}
	return nil
}
