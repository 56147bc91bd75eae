package transactions

import (
	"context"

	"wekeza-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	DB *gorm.DB
}

// FormattedEvent is one row of the activity feed returned to clients. Pool
// names are joined in so the frontend does not need a second round trip.
type FormattedEvent struct {
	EventID   uuid.UUID      `json:"event_id"`
	PoolID    uuid.UUID      `json:"pool_id"`
	PoolName  *string        `json:"pool_name"`
	EventType string         `json:"event_type"`
	EventData datatypes.JSON `json:"event_data"`
	ActorID   *uuid.UUID     `json:"actor_id"`
	CreatedAt interface{}    `json:"created_at"`
}

// ViewTransactions returns the event history for the caller. With a pool_id
// it returns that pool's full audit trail, otherwise the caller's own
// activity (events where they are the actor), newest first.
func (s *Service) ViewTransactions(ctx context.Context, userID, poolID string) (interface{}, string, int) {
	if userID == "" {
		return nil, "user_id missing from session", 401
	}

	q := s.DB.WithContext(ctx).Model(&domain.PoolEvent{})
	if poolID != "" {
		pid, err := uuid.Parse(poolID)
		if err != nil {
			return nil, "Invalid pool_id", 400
		}
		q = q.Where("pool_id = ?", pid)
	} else {
		q = q.Where("actor_id = ?", userID)
	}

	var events []domain.PoolEvent
	if err := q.Order(`"createdAt" DESC`).Limit(200).Find(&events).Error; err != nil {
		return nil, "Internal Server Error", 500
	}
	if len(events) == 0 {
		return []interface{}{}, "", 0
	}

	poolIDs := map[uuid.UUID]bool{}
	for _, e := range events {
		poolIDs[e.PoolID] = true
	}
	ids := make([]uuid.UUID, 0, len(poolIDs))
	for id := range poolIDs {
		ids = append(ids, id)
	}
	nameMap := map[string]string{}
	var pools []domain.Pool
	s.DB.WithContext(ctx).Where("pool_id IN ?", ids).Select("pool_id, name").Find(&pools)
	for _, p := range pools {
		nameMap[p.PoolID.String()] = p.Name
	}

	out := make([]FormattedEvent, len(events))
	for i, e := range events {
		fe := FormattedEvent{
			EventID:   e.EventID,
			PoolID:    e.PoolID,
			EventType: e.EventType,
			EventData: e.EventData,
			ActorID:   e.ActorID,
			CreatedAt: e.CreatedAt,
		}
		if name, ok := nameMap[e.PoolID.String()]; ok {
			fe.PoolName = &name
		}
		out[i] = fe
	}
	return out, "", 0
}
