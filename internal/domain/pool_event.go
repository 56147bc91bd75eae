package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Pool event types recorded in the audit trail.
const (
	EventPoolCreated         = "POOL_CREATED"
	EventPoolClosed          = "POOL_CLOSED"
	EventPoolPaused          = "POOL_PAUSED"
	EventPoolResumed         = "POOL_RESUMED"
	EventInvested            = "INVESTED"
	EventWithdrawn           = "WITHDRAWN"
	EventDividendDistributed = "DIVIDEND_DISTRIBUTED"
	EventDividendRetried     = "DIVIDEND_RETRIED"
	EventIndexPruned         = "INDEX_PRUNED"
	EventQuarantined         = "QUARANTINED"
)

// PoolEvent is one row of the append-only audit trail. Events are written in
// the same transaction as the index mutation they describe, so the trail
// never records a change the index did not take.
type PoolEvent struct {
	EventID   uuid.UUID      `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	PoolID    uuid.UUID      `gorm:"column:pool_id;type:uuid;not null;index" json:"pool_id"`
	EventType string         `gorm:"column:event_type;type:varchar(30);not null" json:"event_type"`
	EventData datatypes.JSON `gorm:"column:event_data;type:jsonb;not null" json:"event_data"`
	ActorID   *uuid.UUID     `gorm:"column:actor_id;type:uuid" json:"actor_id"`
	CreatedAt time.Time      `gorm:"column:createdAt" json:"createdAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (PoolEvent) TableName() string {
	return "PoolEvents"
}

func (e *PoolEvent) BeforeCreate(tx *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	return nil
}
