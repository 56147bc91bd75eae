package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/money"
)

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func setup(t *testing.T) (*Service, *ledger.Memory, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Pool{}, &domain.Tranche{}, &domain.PoolAsset{},
		&domain.Investment{}, &domain.PoolEvent{}, &domain.DividendRecord{},
	))
	lc := ledger.NewMemory()
	return NewService(db, lc, time.Second), lc, db
}

// seedPool writes a pool row backed by a real ledger account.
func seedPool(t *testing.T, db *gorm.DB, lc *ledger.Memory) *domain.Pool {
	t.Helper()
	address, err := lc.CreatePool(context.Background(), ledger.PoolSpec{
		Name:          "Backed Pool",
		CreatorWallet: "creator-wallet",
		Target:        mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	require.NoError(t, err)
	pool := &domain.Pool{
		CreatorID:     uuid.New(),
		Name:          "Backed Pool",
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
		Status:        domain.PoolActive,
		IndexState:    domain.IndexCommitted,
		ChainAddress:  address,
	}
	require.NoError(t, db.Create(pool).Error)
	return pool
}

func TestVerifyPool_MarksVerifiedOnHit(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)

	require.NoError(t, s.VerifyPool(context.Background(), pool))
	assert.Equal(t, domain.IndexVerified, pool.IndexState)
	require.NotNil(t, pool.LastVerifiedAt)

	var got domain.Pool
	require.NoError(t, db.Where("pool_id = ?", pool.PoolID).First(&got).Error)
	assert.Equal(t, domain.IndexVerified, got.IndexState)
}

func TestVerifyPool_StaleRowDeletesWholeTree(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)
	require.NoError(t, db.Create(&domain.Investment{
		PoolID: pool.PoolID, TargetID: pool.PoolID, InvestorID: uuid.New(),
		WalletAddress: "alice-wallet", SharesHeld: money.Shares{},
		Active: true, FirstInvestedAt: time.Now(),
		IndexState: domain.IndexCommitted, ChainAddress: "position-gone",
	}).Error)

	lc.Delete(pool.ChainAddress)

	err := s.VerifyPool(context.Background(), pool)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	var pools, invs int64
	db.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).Count(&pools)
	db.Model(&domain.Investment{}).Where("pool_id = ?", pool.PoolID).Count(&invs)
	assert.Zero(t, pools)
	assert.Zero(t, invs)

	var event domain.PoolEvent
	require.NoError(t, db.Where("pool_id = ? AND event_type = ?",
		pool.PoolID, domain.EventIndexPruned).First(&event).Error)
}

func TestVerifyPool_TransportFailureKeepsRow(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)

	lc.FailNext("Exists", errors.New("rpc timeout"))
	err := s.VerifyPool(context.Background(), pool)
	assert.True(t, apperr.IsKind(err, apperr.KindLedgerUnavailable))

	var count int64
	db.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestVerifyPool_QuarantinedRowNeverServed(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)
	pool.IndexState = domain.IndexQuarantined

	err := s.VerifyPool(context.Background(), pool)
	assert.True(t, apperr.IsKind(err, apperr.KindInconsistentState))
}

func TestFilterVerifiedPools_PrunesStaleInBackground(t *testing.T) {
	s, lc, db := setup(t)
	backed := seedPool(t, db, lc)
	stale := seedPool(t, db, lc)
	lc.Delete(stale.ChainAddress)

	out, err := s.FilterVerifiedPools(context.Background(), []domain.Pool{*backed, *stale})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, backed.PoolID, out[0].PoolID)

	s.Wait()
	var count int64
	db.Model(&domain.Pool{}).Where("pool_id = ?", stale.PoolID).Count(&count)
	assert.Zero(t, count)
}

func TestFilterVerifiedPools_TransportFailureAbortsListing(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)

	lc.FailNext("Exists", errors.New("rpc timeout"))
	_, err := s.FilterVerifiedPools(context.Background(), []domain.Pool{*pool})
	assert.True(t, apperr.IsKind(err, apperr.KindLedgerUnavailable))
}

func TestPruneAsync_DeduplicatesInFlightRequests(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)
	lc.Delete(pool.ChainAddress)

	id := pool.PoolID.String()
	s.PruneAsync(id)
	s.PruneAsync(id)
	s.Wait()

	var pruned []domain.PoolEvent
	require.NoError(t, db.Where("pool_id = ? AND event_type = ?",
		pool.PoolID, domain.EventIndexPruned).Find(&pruned).Error)
	assert.Len(t, pruned, 1)
}

func TestSweep_QuarantinesDivergedTotals(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)

	// Skew the index so its totals no longer match the chain.
	require.NoError(t, db.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).
		Update("total_invested", mustAmount(t, "999")).Error)

	s.Sweep(context.Background(), time.Minute)

	var got domain.Pool
	require.NoError(t, db.Where("pool_id = ?", pool.PoolID).First(&got).Error)
	assert.Equal(t, domain.IndexQuarantined, got.IndexState)

	var event domain.PoolEvent
	require.NoError(t, db.Where("pool_id = ? AND event_type = ?",
		pool.PoolID, domain.EventQuarantined).First(&event).Error)
}

func TestSweep_DeletesPoolsTheChainDropped(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)
	lc.Delete(pool.ChainAddress)

	s.Sweep(context.Background(), time.Minute)

	var count int64
	db.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).Count(&count)
	assert.Zero(t, count)
}

func TestSweep_ResolvesStuckDividendRecords(t *testing.T) {
	s, _, db := setup(t)
	ref := "settlement-sig"

	confirmed := &domain.DividendRecord{
		PoolID: uuid.New(), TargetID: uuid.New(),
		TotalAmount: mustAmount(t, "100"), TotalShares: money.Shares{},
		Status: domain.DividendPending, SettlementRef: &ref,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	orphaned := &domain.DividendRecord{
		PoolID: uuid.New(), TargetID: uuid.New(),
		TotalAmount: mustAmount(t, "100"), TotalShares: money.Shares{},
		Status:    domain.DividendPending,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	fresh := &domain.DividendRecord{
		PoolID: uuid.New(), TargetID: uuid.New(),
		TotalAmount: mustAmount(t, "100"), TotalShares: money.Shares{},
		Status: domain.DividendPending,
	}
	require.NoError(t, db.Create(confirmed).Error)
	require.NoError(t, db.Create(orphaned).Error)
	require.NoError(t, db.Create(fresh).Error)

	s.Sweep(context.Background(), time.Minute)

	var gotConfirmed domain.DividendRecord
	require.NoError(t, db.Where("record_id = ?", confirmed.RecordID).First(&gotConfirmed).Error)
	assert.Equal(t, domain.DividendSettled, gotConfirmed.Status)

	var gotOrphaned domain.DividendRecord
	require.NoError(t, db.Where("record_id = ?", orphaned.RecordID).First(&gotOrphaned).Error)
	assert.Equal(t, domain.DividendFailed, gotOrphaned.Status)

	// A record still inside the sweep window is left for the running
	// distribution to finish.
	var gotFresh domain.DividendRecord
	require.NoError(t, db.Where("record_id = ?", fresh.RecordID).First(&gotFresh).Error)
	assert.Equal(t, domain.DividendPending, gotFresh.Status)
}

func TestSweep_VerifiesMatchingPools(t *testing.T) {
	s, lc, db := setup(t)
	pool := seedPool(t, db, lc)

	s.Sweep(context.Background(), time.Minute)

	var got domain.Pool
	require.NoError(t, db.Where("pool_id = ?", pool.PoolID).First(&got).Error)
	assert.Equal(t, domain.IndexVerified, got.IndexState)
	require.NotNil(t, got.LastVerifiedAt)
}
