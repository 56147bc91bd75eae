package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wekeza-backend/internal/pkg/money"
)

// Investment is one investor's cumulative position in a pool or tranche.
// TargetID is the tranche id when the pool is tranched, otherwise the pool
// id, so one unique key covers both shapes. AmountInvested and
// DividendsReceived only ever grow; SharesHeld moves with issuance and
// burning and Active clears only when it reaches zero.
type Investment struct {
	InvestmentID      uuid.UUID      `gorm:"column:investment_id;type:uuid;primaryKey" json:"investment_id"`
	PoolID            uuid.UUID      `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	TrancheID         *uuid.UUID     `gorm:"column:tranche_id;type:uuid" json:"tranche_id"`
	TargetID          uuid.UUID      `gorm:"column:target_id;type:uuid;not null;uniqueIndex:idx_target_investor,priority:1" json:"target_id"`
	InvestorID        uuid.UUID      `gorm:"column:investor_id;type:uuid;not null;uniqueIndex:idx_target_investor,priority:2" json:"investor_id"`
	WalletAddress     string         `gorm:"column:wallet_address;not null" json:"wallet_address"`
	AmountInvested    money.Amount   `gorm:"column:amount_invested;type:numeric(38,0);not null;default:0" json:"amount_invested"`
	SharesHeld        money.Shares   `gorm:"column:shares_held;type:numeric(38,0);not null;default:0" json:"shares_held"`
	DividendsReceived money.Amount   `gorm:"column:dividends_received;type:numeric(38,0);not null;default:0" json:"dividends_received"`
	Active            bool           `gorm:"column:active;not null;default:true" json:"active"`
	FirstInvestedAt   time.Time      `gorm:"column:first_invested_at;not null" json:"first_invested_at"`
	IndexState        string         `gorm:"column:index_state;type:varchar(20);not null;default:'COMMITTED'" json:"index_state"`
	ChainAddress      string         `gorm:"column:chain_address;not null" json:"chain_address"`
	LastVerifiedAt    *time.Time     `gorm:"column:last_verified_at" json:"last_verified_at"`
	CreatedAt         time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Investment) TableName() string {
	return "Investments"
}

func (i *Investment) BeforeCreate(tx *gorm.DB) error {
	if i.InvestmentID == uuid.Nil {
		i.InvestmentID = uuid.New()
	}
	return nil
}
