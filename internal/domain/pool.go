package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wekeza-backend/internal/pkg/money"
)

// Pool is a share-issuing investment vehicle backed by one or more tokenized
// assets. Rows exist only for pools the ledger has confirmed; TotalInvested
// is cumulative and is not reduced by withdrawals.
type Pool struct {
	PoolID         uuid.UUID      `gorm:"column:pool_id;type:uuid;primaryKey" json:"pool_id"`
	CreatorID      uuid.UUID      `gorm:"column:creator_id;type:uuid;not null" json:"creator_id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	Description    string         `gorm:"column:description" json:"description"`
	TargetAmount   money.Amount   `gorm:"column:target_amount;type:numeric(38,0);not null" json:"target_amount"`
	MinInvestment  money.Amount   `gorm:"column:min_investment;type:numeric(38,0);not null" json:"min_investment"`
	MaxPerInvestor money.Amount   `gorm:"column:max_per_investor;type:numeric(38,0);not null" json:"max_per_investor"`
	TotalInvested  money.Amount   `gorm:"column:total_invested;type:numeric(38,0);not null;default:0" json:"total_invested"`
	TotalShares    money.Shares   `gorm:"column:total_shares;type:numeric(38,0);not null;default:0" json:"total_shares"`
	YieldRateBps   money.Bps      `gorm:"column:yield_rate_bps;not null;default:0" json:"yield_rate_bps"`
	Status         string         `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	IndexState     string         `gorm:"column:index_state;type:varchar(20);not null;default:'COMMITTED'" json:"index_state"`
	ChainAddress   string         `gorm:"column:chain_address;not null;uniqueIndex" json:"chain_address"`
	LastVerifiedAt *time.Time     `gorm:"column:last_verified_at" json:"last_verified_at"`
	Tranches       []Tranche      `gorm:"foreignKey:PoolID;references:PoolID" json:"tranches,omitempty"`
	Assets         []PoolAsset    `gorm:"foreignKey:PoolID;references:PoolID" json:"assets,omitempty"`
	CreatedAt      time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Pool) TableName() string {
	return "Pools"
}

func (p *Pool) BeforeCreate(tx *gorm.DB) error {
	if p.PoolID == uuid.Nil {
		p.PoolID = uuid.New()
	}
	return nil
}

// Tranched reports whether shares are issued against tranches instead of
// the pool itself. Pools carry zero or at least two tranches, never one.
func (p *Pool) Tranched() bool {
	return len(p.Tranches) > 0
}

// PoolAsset records how much of an asset's declared value one pool
// tokenized, and the two-decimal percentage slice that contributed to the
// asset's cumulative counter.
type PoolAsset struct {
	ID               uuid.UUID     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PoolID           uuid.UUID     `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	AssetID          uuid.UUID     `gorm:"column:asset_id;type:uuid;not null;index" json:"asset_id"`
	ValueContributed money.Amount  `gorm:"column:value_contributed;type:numeric(38,0);not null" json:"value_contributed"`
	TokenizedPct     money.Percent `gorm:"column:tokenized_pct;type:numeric(5,2);not null" json:"tokenized_pct"`
	CreatedAt        time.Time     `gorm:"column:createdAt" json:"createdAt"`
}

func (PoolAsset) TableName() string {
	return "PoolAssets"
}

func (pa *PoolAsset) BeforeCreate(tx *gorm.DB) error {
	if pa.ID == uuid.Nil {
		pa.ID = uuid.New()
	}
	return nil
}
