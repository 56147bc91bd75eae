package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wekeza-backend/internal/pkg/money"
)

// Asset is an underlying real-world asset or receivable registered by its
// owner. The engine treats it as read-only except for TokenizedPct, the
// cumulative percentage already sold into pools, which the tokenization
// guard maintains. MaxInvestablePct is always re-read from the ledger when
// it matters; the column here is display data.
type Asset struct {
	AssetID          uuid.UUID      `gorm:"column:asset_id;type:uuid;primaryKey" json:"asset_id"`
	OwnerID          uuid.UUID      `gorm:"column:owner_id;type:uuid;not null" json:"owner_id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	Description      string         `gorm:"column:description" json:"description"`
	Category         string         `gorm:"column:category;type:varchar(30);not null" json:"category"`
	TotalValue       money.Amount   `gorm:"column:total_value;type:numeric(38,0);not null" json:"total_value"`
	MaxInvestablePct money.Percent  `gorm:"column:max_investable_pct;type:numeric(5,2);not null" json:"max_investable_pct"`
	TokenizedPct     money.Percent  `gorm:"column:tokenized_pct;type:numeric(5,2);not null;default:0" json:"tokenized_pct"`
	ChainAddress     string         `gorm:"column:chain_address;not null;uniqueIndex" json:"chain_address"`
	IndexState       string         `gorm:"column:index_state;type:varchar(20);not null;default:'COMMITTED'" json:"index_state"`
	DocumentCID      *string        `gorm:"column:document_cid" json:"document_cid"`
	LastVerifiedAt   *time.Time     `gorm:"column:last_verified_at" json:"last_verified_at"`
	CreatedAt        time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Asset) TableName() string {
	return "Assets"
}

func (a *Asset) BeforeCreate(tx *gorm.DB) error {
	if a.AssetID == uuid.Nil {
		a.AssetID = uuid.New()
	}
	return nil
}
