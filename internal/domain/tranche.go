package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wekeza-backend/internal/pkg/money"
)

// Tranche is an ordered sub-allocation of a pool with its own share ledger
// and yield rate. Rank 0 is the most senior.
type Tranche struct {
	TrancheID      uuid.UUID      `gorm:"column:tranche_id;type:uuid;primaryKey" json:"tranche_id"`
	PoolID         uuid.UUID      `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	Rank           int            `gorm:"column:rank;not null" json:"rank"`
	AllocationPct  money.Percent  `gorm:"column:allocation_pct;type:numeric(5,2);not null" json:"allocation_pct"`
	TargetAPYBps   money.Bps      `gorm:"column:target_apy_bps;not null" json:"target_apy_bps"`
	TotalInvested  money.Amount   `gorm:"column:total_invested;type:numeric(38,0);not null;default:0" json:"total_invested"`
	TotalShares    money.Shares   `gorm:"column:total_shares;type:numeric(38,0);not null;default:0" json:"total_shares"`
	IndexState     string         `gorm:"column:index_state;type:varchar(20);not null;default:'COMMITTED'" json:"index_state"`
	ChainAddress   string         `gorm:"column:chain_address;not null;uniqueIndex" json:"chain_address"`
	LastVerifiedAt *time.Time     `gorm:"column:last_verified_at" json:"last_verified_at"`
	CreatedAt      time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Tranche) TableName() string {
	return "Tranches"
}

func (t *Tranche) BeforeCreate(tx *gorm.DB) error {
	if t.TrancheID == uuid.Nil {
		t.TrancheID = uuid.New()
	}
	return nil
}

// TrancheSpec is the creation-time description of one tranche before any
// ledger identifiers exist.
type TrancheSpec struct {
	Name          string        `json:"name"`
	Rank          int           `json:"rank"`
	AllocationPct money.Percent `json:"allocation_pct"`
	TargetAPYBps  money.Bps     `json:"target_apy_bps"`
}
