package transactions

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/pkg/money"
)

func setup(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Pool{}, &domain.PoolEvent{}))
	return &Service{DB: db}
}

func seedPool(t *testing.T, s *Service, name string) *domain.Pool {
	t.Helper()
	pool := &domain.Pool{
		CreatorID:    uuid.New(),
		Name:         name,
		TargetAmount: money.Amount{},
		Status:       domain.PoolActive,
		IndexState:   domain.IndexCommitted,
		ChainAddress: "pool-" + uuid.NewString(),
	}
	require.NoError(t, s.DB.Create(pool).Error)
	return pool
}

func seedEvent(t *testing.T, s *Service, poolID uuid.UUID, actorID *uuid.UUID, eventType string) {
	t.Helper()
	require.NoError(t, s.DB.Create(&domain.PoolEvent{
		PoolID:    poolID,
		EventType: eventType,
		EventData: datatypes.JSON([]byte(`{}`)),
		ActorID:   actorID,
	}).Error)
}

func TestViewTransactions_DefaultsToActorScope(t *testing.T) {
	s := setup(t)
	pool := seedPool(t, s, "Harvest Pool")
	alice, bob := uuid.New(), uuid.New()

	seedEvent(t, s, pool.PoolID, &alice, domain.EventInvested)
	seedEvent(t, s, pool.PoolID, &alice, domain.EventWithdrawn)
	seedEvent(t, s, pool.PoolID, &bob, domain.EventInvested)

	out, msg, code := s.ViewTransactions(context.Background(), alice.String(), "")
	require.Empty(t, msg)
	require.Zero(t, code)
	events, ok := out.([]FormattedEvent)
	require.True(t, ok)
	require.Len(t, events, 2)
	for _, e := range events {
		require.NotNil(t, e.ActorID)
		assert.Equal(t, alice, *e.ActorID)
		require.NotNil(t, e.PoolName)
		assert.Equal(t, "Harvest Pool", *e.PoolName)
	}
}

func TestViewTransactions_PoolScopeReturnsFullTrail(t *testing.T) {
	s := setup(t)
	pool := seedPool(t, s, "Harvest Pool")
	other := seedPool(t, s, "Other Pool")
	alice, bob := uuid.New(), uuid.New()

	seedEvent(t, s, pool.PoolID, &alice, domain.EventInvested)
	seedEvent(t, s, pool.PoolID, &bob, domain.EventInvested)
	seedEvent(t, s, other.PoolID, &alice, domain.EventInvested)

	out, msg, code := s.ViewTransactions(context.Background(), alice.String(), pool.PoolID.String())
	require.Empty(t, msg)
	require.Zero(t, code)
	events, ok := out.([]FormattedEvent)
	require.True(t, ok)
	assert.Len(t, events, 2)
}

func TestViewTransactions_InvalidPoolID(t *testing.T) {
	s := setup(t)

	_, msg, code := s.ViewTransactions(context.Background(), uuid.NewString(), "not-a-uuid")
	assert.Equal(t, "Invalid pool_id", msg)
	assert.Equal(t, 400, code)
}

func TestViewTransactions_MissingUser(t *testing.T) {
	s := setup(t)

	_, msg, code := s.ViewTransactions(context.Background(), "", "")
	assert.Equal(t, 401, code)
	assert.NotEmpty(t, msg)
}

func TestViewTransactions_EmptyHistory(t *testing.T) {
	s := setup(t)

	out, msg, code := s.ViewTransactions(context.Background(), uuid.NewString(), "")
	require.Empty(t, msg)
	require.Zero(t, code)
	assert.Empty(t, out)
}
