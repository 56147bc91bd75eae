package roi

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"wekeza-backend/internal/application/assets"
	"wekeza-backend/internal/application/investments"
	"wekeza-backend/internal/application/pools"
	"wekeza-backend/internal/application/reconciliation"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/keylock"
	"wekeza-backend/internal/pkg/money"
)

type env struct {
	DB          *gorm.DB
	Ledger      *ledger.Memory
	Pools       *pools.Service
	Investments *investments.Service
	ROI         *Service
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func setup(t *testing.T, rdb *redis.Client) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Asset{}, &domain.Pool{}, &domain.Tranche{}, &domain.PoolAsset{},
		&domain.Investment{}, &domain.PoolEvent{},
	))
	lc := ledger.NewMemory()
	as := &assets.Service{DB: db, Ledger: lc}
	recon := reconciliation.NewService(db, lc, time.Second)
	locks := keylock.NewRegistry()
	return &env{
		DB:     db,
		Ledger: lc,
		Pools: &pools.Service{
			DB: db, Ledger: lc, Assets: as, Recon: recon, Locks: locks, Timeout: time.Second,
		},
		Investments: &investments.Service{
			DB: db, Ledger: lc, Recon: recon, Locks: locks, Timeout: time.Second,
		},
		ROI: &Service{DB: db, Ledger: lc, Rdb: rdb, Timeout: time.Second},
	}
}

func (e *env) createPool(t *testing.T, yieldBps money.Bps) *domain.Pool {
	t.Helper()
	address := e.Ledger.SeedAsset("owner-wallet", mustAmount(t, "100000"), 7000)
	asset, err := e.Pools.Assets.RegisterAsset(context.Background(), assets.RegisterAssetInput{
		OwnerID:      uuid.New(),
		ChainAddress: address,
		Name:         "Thika Road Receivables",
		Category:     "receivables",
	})
	require.NoError(t, err)
	pool, err := e.Pools.CreatePool(context.Background(), pools.CreatePoolInput{
		CreatorID:     uuid.New(),
		CreatorWallet: "creator-wallet",
		Name:          "Yield Pool",
		TargetAmount:  mustAmount(t, "10000"),
		MinInvestment: mustAmount(t, "10"),
		YieldRateBps:  yieldBps,
		Assets:        []assets.Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "10000")}},
	})
	require.NoError(t, err)
	return pool
}

func TestProject_FreshPositionHasNoReturn(t *testing.T) {
	e := setup(t, nil)
	pool := e.createPool(t, 1000)
	ctx := context.Background()
	alice := uuid.New()

	_, err := e.Investments.Invest(ctx, investments.InvestInput{
		InvestorID: alice, InvestorWallet: "alice-wallet",
		PoolID: pool.PoolID, Amount: mustAmount(t, "1000"),
	})
	require.NoError(t, err)

	p, err := e.ROI.Project(ctx, alice, pool.PoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000", p.Principal.String())
	assert.Equal(t, "1000", p.SharesHeld.String())
	assert.Equal(t, "1000", p.CurrentValue.String())
	assert.Equal(t, "0", p.ActualYield.String())
	assert.Equal(t, "0.00", p.TotalReturnPct.String())
	assert.Equal(t, money.Bps(1000), p.APYBps)
	assert.Zero(t, p.HeldDays)
}

func TestProject_YearOldPositionProjectsFullAPY(t *testing.T) {
	e := setup(t, nil)
	pool := e.createPool(t, 1000)
	ctx := context.Background()
	alice := uuid.New()

	inv, err := e.Investments.Invest(ctx, investments.InvestInput{
		InvestorID: alice, InvestorWallet: "alice-wallet",
		PoolID: pool.PoolID, Amount: mustAmount(t, "1000"),
	})
	require.NoError(t, err)

	backdated := time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, e.DB.Model(&domain.Investment{}).
		Where("investment_id = ?", inv.InvestmentID).
		Update("first_invested_at", backdated).Error)

	p, err := e.ROI.Project(ctx, alice, pool.PoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, "100", p.ProjectedYield.String())
	assert.Equal(t, int64(365), p.HeldDays)
}

func TestProject_DividendsCountAsRealizedReturn(t *testing.T) {
	e := setup(t, nil)
	pool := e.createPool(t, 1000)
	ctx := context.Background()
	alice := uuid.New()

	inv, err := e.Investments.Invest(ctx, investments.InvestInput{
		InvestorID: alice, InvestorWallet: "alice-wallet",
		PoolID: pool.PoolID, Amount: mustAmount(t, "1000"),
	})
	require.NoError(t, err)
	require.NoError(t, e.DB.Model(&domain.Investment{}).
		Where("investment_id = ?", inv.InvestmentID).
		Update("dividends_received", mustAmount(t, "100")).Error)

	p, err := e.ROI.Project(ctx, alice, pool.PoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, "100", p.ActualYield.String())
	assert.Equal(t, "10.00", p.TotalReturnPct.String())
}

func TestProject_NoPositionIsNotFound(t *testing.T) {
	e := setup(t, nil)
	pool := e.createPool(t, 1000)

	_, err := e.ROI.Project(context.Background(), uuid.New(), pool.PoolID, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestProject_CachesProjection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	e := setup(t, rdb)
	pool := e.createPool(t, 1000)
	ctx := context.Background()
	alice := uuid.New()

	inv, err := e.Investments.Invest(ctx, investments.InvestInput{
		InvestorID: alice, InvestorWallet: "alice-wallet",
		PoolID: pool.PoolID, Amount: mustAmount(t, "1000"),
	})
	require.NoError(t, err)

	first, err := e.ROI.Project(ctx, alice, pool.PoolID, nil)
	require.NoError(t, err)

	// A write after the first projection is invisible until the TTL runs out.
	require.NoError(t, e.DB.Model(&domain.Investment{}).
		Where("investment_id = ?", inv.InvestmentID).
		Update("dividends_received", mustAmount(t, "100")).Error)

	cached, err := e.ROI.Project(ctx, alice, pool.PoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ActualYield.String(), cached.ActualYield.String())

	mr.FastForward(time.Minute)
	fresh, err := e.ROI.Project(ctx, alice, pool.PoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, "100", fresh.ActualYield.String())
}
