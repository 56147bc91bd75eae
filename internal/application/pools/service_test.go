package pools

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

	"wekeza-backend/internal/application/assets"
	"wekeza-backend/internal/application/reconciliation"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/keylock"
	"wekeza-backend/internal/pkg/money"
)

type env struct {
	DB     *gorm.DB
	Ledger *ledger.Memory
	Assets *assets.Service
	Recon  *reconciliation.Service
	Pools  *Service
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func mustPercent(t *testing.T, s string) money.Percent {
	t.Helper()
	p, err := money.ParsePercent(s)
	require.NoError(t, err)
	return p
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Asset{}, &domain.Pool{}, &domain.Tranche{}, &domain.PoolAsset{},
		&domain.Investment{}, &domain.DividendRecord{}, &domain.PoolEvent{},
	))
	lc := ledger.NewMemory()
	as := &assets.Service{DB: db, Ledger: lc}
	recon := reconciliation.NewService(db, lc, time.Second)
	return &env{
		DB:     db,
		Ledger: lc,
		Assets: as,
		Recon:  recon,
		Pools: &Service{
			DB:      db,
			Ledger:  lc,
			Assets:  as,
			Recon:   recon,
			Locks:   keylock.NewRegistry(),
			Timeout: time.Second,
		},
	}
}

func (e *env) seedAsset(t *testing.T, value string, capBps money.Bps) *domain.Asset {
	t.Helper()
	address := e.Ledger.SeedAsset("owner-wallet", mustAmount(t, value), capBps)
	asset, err := e.Assets.RegisterAsset(context.Background(), assets.RegisterAssetInput{
		OwnerID:      uuid.New(),
		ChainAddress: address,
		Name:         "Nairobi Logistics Receivables",
		Category:     "receivables",
	})
	require.NoError(t, err)
	return asset
}

func (e *env) poolInput(t *testing.T, assetID uuid.UUID) CreatePoolInput {
	t.Helper()
	return CreatePoolInput{
		CreatorID:     uuid.New(),
		CreatorWallet: "creator-wallet",
		Name:          "Receivables Pool Q3",
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
		YieldRateBps:  800,
		Assets:        []assets.Contribution{{AssetID: assetID, Value: mustAmount(t, "40000")}},
	}
}

func TestCreatePool_IndexesAndReserves(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)
	ctx := context.Background()

	pool, err := e.Pools.CreatePool(ctx, e.poolInput(t, asset.AssetID))
	require.NoError(t, err)
	assert.Equal(t, domain.PoolActive, pool.Status)
	assert.Equal(t, domain.IndexCommitted, pool.IndexState)
	assert.NotEmpty(t, pool.ChainAddress)

	ok, err := e.Ledger.Exists(ctx, pool.ChainAddress)
	require.NoError(t, err)
	assert.True(t, ok)

	var got domain.Asset
	require.NoError(t, e.DB.Where("asset_id = ?", asset.AssetID).First(&got).Error)
	assert.Equal(t, "40.00", got.TokenizedPct.String())

	var pa domain.PoolAsset
	require.NoError(t, e.DB.Where("pool_id = ?", pool.PoolID).First(&pa).Error)
	assert.Equal(t, asset.AssetID, pa.AssetID)
	assert.Equal(t, "40000", pa.ValueContributed.String())

	var event domain.PoolEvent
	require.NoError(t, e.DB.Where("pool_id = ? AND event_type = ?", pool.PoolID, domain.EventPoolCreated).First(&event).Error)
}

func TestCreatePool_SingleTrancheRejected(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)

	in := e.poolInput(t, asset.AssetID)
	in.Tranches = []domain.TrancheSpec{{Name: "Senior", AllocationPct: mustPercent(t, "100")}}
	_, err := e.Pools.CreatePool(context.Background(), in)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCreatePool_AllocationsOverHundredRejected(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)

	in := e.poolInput(t, asset.AssetID)
	in.Tranches = []domain.TrancheSpec{
		{Name: "Senior", Rank: 0, AllocationPct: mustPercent(t, "70")},
		{Name: "Junior", Rank: 1, AllocationPct: mustPercent(t, "40")},
	}
	_, err := e.Pools.CreatePool(context.Background(), in)
	assert.True(t, apperr.IsKind(err, apperr.KindLimitExceeded))
}

func TestCreatePool_TranchesGetChainAccounts(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)
	ctx := context.Background()

	in := e.poolInput(t, asset.AssetID)
	in.Tranches = []domain.TrancheSpec{
		{Name: "Senior", Rank: 0, AllocationPct: mustPercent(t, "70"), TargetAPYBps: 600},
		{Name: "Junior", Rank: 1, AllocationPct: mustPercent(t, "30"), TargetAPYBps: 1200},
	}
	pool, err := e.Pools.CreatePool(ctx, in)
	require.NoError(t, err)
	require.Len(t, pool.Tranches, 2)
	for _, tr := range pool.Tranches {
		assert.NotEmpty(t, tr.ChainAddress)
		ok, err := e.Ledger.Exists(ctx, tr.ChainAddress)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	var rows []domain.Tranche
	require.NoError(t, e.DB.Where("pool_id = ?", pool.PoolID).Find(&rows).Error)
	assert.Len(t, rows, 2)
}

func TestCreatePool_LedgerFailureReleasesReservation(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)

	e.Ledger.FailNext("CreatePool", errors.New("rpc timeout"))
	_, err := e.Pools.CreatePool(context.Background(), e.poolInput(t, asset.AssetID))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindLedgerUnavailable))

	var got domain.Asset
	require.NoError(t, e.DB.Where("asset_id = ?", asset.AssetID).First(&got).Error)
	assert.Equal(t, "0.00", got.TokenizedPct.String())

	var count int64
	e.DB.Model(&domain.Pool{}).Count(&count)
	assert.Zero(t, count)
}

func TestSetStatus_Lifecycle(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)
	ctx := context.Background()
	actor := uuid.New()

	pool, err := e.Pools.CreatePool(ctx, e.poolInput(t, asset.AssetID))
	require.NoError(t, err)

	paused, err := e.Pools.SetStatus(ctx, actor, pool.PoolID, domain.PoolPaused)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolPaused, paused.Status)

	// Same status again is a no-op, not an error.
	again, err := e.Pools.SetStatus(ctx, actor, pool.PoolID, domain.PoolPaused)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolPaused, again.Status)

	resumed, err := e.Pools.SetStatus(ctx, actor, pool.PoolID, domain.PoolActive)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolActive, resumed.Status)

	closed, err := e.Pools.SetStatus(ctx, actor, pool.PoolID, domain.PoolClosed)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolClosed, closed.Status)

	_, err = e.Pools.SetStatus(ctx, actor, pool.PoolID, domain.PoolActive)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	var events []domain.PoolEvent
	require.NoError(t, e.DB.Where("pool_id = ? AND event_type IN ?", pool.PoolID,
		[]string{domain.EventPoolPaused, domain.EventPoolResumed, domain.EventPoolClosed}).Find(&events).Error)
	assert.Len(t, events, 3)
}

func TestGetPool_SelfHealsStaleRow(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)
	ctx := context.Background()

	pool, err := e.Pools.CreatePool(ctx, e.poolInput(t, asset.AssetID))
	require.NoError(t, err)

	e.Ledger.Delete(pool.ChainAddress)

	_, err = e.Pools.GetPool(ctx, pool.PoolID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	var count int64
	e.DB.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).Count(&count)
	assert.Zero(t, count)
}

func TestListActivePools_SkipsUnbackedRows(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)
	ctx := context.Background()

	backed, err := e.Pools.CreatePool(ctx, e.poolInput(t, asset.AssetID))
	require.NoError(t, err)

	in := e.poolInput(t, asset.AssetID)
	in.Name = "Receivables Pool Q4"
	in.Assets = []assets.Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "20000")}}
	stale, err := e.Pools.CreatePool(ctx, in)
	require.NoError(t, err)
	e.Ledger.Delete(stale.ChainAddress)

	pools, err := e.Pools.ListActivePools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, backed.PoolID, pools[0].PoolID)

	// The stale row is pruned in the background.
	e.Recon.Wait()
	var count int64
	e.DB.Model(&domain.Pool{}).Where("pool_id = ?", stale.PoolID).Count(&count)
	assert.Zero(t, count)
}

func TestGetPoolStats_SummarizesPool(t *testing.T) {
	e := setup(t)
	asset := e.seedAsset(t, "100000", 7000)
	ctx := context.Background()

	pool, err := e.Pools.CreatePool(ctx, e.poolInput(t, asset.AssetID))
	require.NoError(t, err)

	stats, err := e.Pools.GetPoolStats(ctx, pool.PoolID)
	require.NoError(t, err)
	assert.Equal(t, pool.PoolID, stats.PoolID)
	assert.Equal(t, domain.PoolActive, stats.Status)
	assert.Equal(t, "1000", stats.TargetAmount.String())
	assert.Equal(t, "0.00", stats.FundedPct.String())
	assert.Zero(t, stats.HolderCount)
}
