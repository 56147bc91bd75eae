package dividends

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
	Dividends   *Service
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
		&domain.Investment{}, &domain.DividendRecord{}, &domain.DividendPayout{},
		&domain.PoolEvent{}, &domain.User{},
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
		Dividends: &Service{DB: db, Ledger: lc, Locks: locks, Timeout: time.Second},
	}
}

func (e *env) createPool(t *testing.T, in pools.CreatePoolInput) *domain.Pool {
	t.Helper()
	address := e.Ledger.SeedAsset("owner-wallet", mustAmount(t, "100000"), 7000)
	asset, err := e.Pools.Assets.RegisterAsset(context.Background(), assets.RegisterAssetInput{
		OwnerID:      uuid.New(),
		ChainAddress: address,
		Name:         "Eldoret Grain Receivables",
		Category:     "receivables",
	})
	require.NoError(t, err)
	in.CreatorID = uuid.New()
	in.CreatorWallet = "creator-wallet"
	if in.Name == "" {
		in.Name = "Grain Pool"
	}
	in.Assets = []assets.Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "10000")}}
	pool, err := e.Pools.CreatePool(context.Background(), in)
	require.NoError(t, err)
	return pool
}

func (e *env) invest(t *testing.T, poolID uuid.UUID, investor uuid.UUID, wallet, amount string) *domain.Investment {
	t.Helper()
	inv, err := e.Investments.Invest(context.Background(), investments.InvestInput{
		InvestorID: investor, InvestorWallet: wallet,
		PoolID: poolID, Amount: mustAmount(t, amount),
	})
	require.NoError(t, err)
	return inv
}

func TestDistribute_ProRataAcrossHolders(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceInv := e.invest(t, pool.PoolID, alice, "alice-wallet", "500")
	bobInv := e.invest(t, pool.PoolID, bob, "bob-wallet", "300")

	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID,
		Amount: mustAmount(t, "80"), Description: "Q3 yield",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DividendSettled, record.Status)
	require.NotNil(t, record.SettlementRef)
	assert.NotEmpty(t, *record.SettlementRef)
	assert.Equal(t, "800", record.TotalShares.String())

	var payouts []domain.DividendPayout
	require.NoError(t, e.DB.Where("record_id = ?", record.RecordID).Find(&payouts).Error)
	require.Len(t, payouts, 2)
	byInvestment := map[uuid.UUID]domain.DividendPayout{}
	for _, p := range payouts {
		assert.Equal(t, domain.PayoutPaid, p.Status)
		byInvestment[p.InvestmentID] = p
	}
	assert.Equal(t, "50", byInvestment[aliceInv.InvestmentID].Amount.String())
	assert.Equal(t, "30", byInvestment[bobInv.InvestmentID].Amount.String())

	var got domain.Investment
	require.NoError(t, e.DB.Where("investment_id = ?", aliceInv.InvestmentID).First(&got).Error)
	assert.Equal(t, "50", got.DividendsReceived.String())

	pos, err := e.Ledger.GetPosition(ctx, pool.ChainAddress, "alice-wallet")
	require.NoError(t, err)
	assert.Equal(t, "50", pos.DividendsReceived.String())
}

func TestDistribute_FlooringNeverOverpays(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()

	for _, wallet := range []string{"alice-wallet", "bob-wallet", "carol-wallet"} {
		e.invest(t, pool.PoolID, uuid.New(), wallet, "10")
	}

	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "0.0001"),
	})
	require.NoError(t, err)

	var payouts []domain.DividendPayout
	require.NoError(t, e.DB.Where("record_id = ?", record.RecordID).Find(&payouts).Error)
	require.Len(t, payouts, 3)
	var paid money.Amount
	for _, p := range payouts {
		assert.Equal(t, "0.000033", p.Amount.String())
		paid = paid.Add(p.Amount)
	}
	assert.False(t, paid.GreaterThan(record.TotalAmount))
}

func TestDistribute_NoActiveHolders(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})

	_, err := e.Dividends.Distribute(context.Background(), DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "80"),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNoActiveHolders))
}

func TestDistribute_TranchedPoolRequiresTrancheID(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
		Tranches: []domain.TrancheSpec{
			{Name: "Senior", Rank: 0, AllocationPct: mustPercent(t, "70"), TargetAPYBps: 600},
			{Name: "Junior", Rank: 1, AllocationPct: mustPercent(t, "30"), TargetAPYBps: 1200},
		},
	})
	ctx := context.Background()

	senior := pool.Tranches[0].TrancheID
	_, err := e.Investments.Invest(ctx, investments.InvestInput{
		InvestorID: uuid.New(), InvestorWallet: "alice-wallet",
		PoolID: pool.PoolID, TrancheID: &senior, Amount: mustAmount(t, "100"),
	})
	require.NoError(t, err)

	_, err = e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "10"),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, TrancheID: &senior,
		Amount: mustAmount(t, "10"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DividendSettled, record.Status)
	assert.Equal(t, senior, record.TargetID)
}

func TestRetry_FailedSettlementIsIdempotent(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()
	alice := uuid.New()
	aliceInv := e.invest(t, pool.PoolID, alice, "alice-wallet", "500")

	e.Ledger.FailNext("SettleDistribution", errors.New("rpc timeout"))
	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "50"),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindLedgerUnavailable))
	require.NotNil(t, record)
	assert.Equal(t, domain.DividendFailed, record.Status)

	// The payout itself succeeded before settlement failed.
	var got domain.Investment
	require.NoError(t, e.DB.Where("investment_id = ?", aliceInv.InvestmentID).First(&got).Error)
	assert.Equal(t, "50", got.DividendsReceived.String())

	retried, err := e.Dividends.Retry(ctx, uuid.New(), record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.DividendSettled, retried.Status)

	// The holder was paid exactly once across the two runs.
	require.NoError(t, e.DB.Where("investment_id = ?", aliceInv.InvestmentID).First(&got).Error)
	assert.Equal(t, "50", got.DividendsReceived.String())
	pos, err := e.Ledger.GetPosition(ctx, pool.ChainAddress, "alice-wallet")
	require.NoError(t, err)
	assert.Equal(t, "50", pos.DividendsReceived.String())
}

func TestRetry_FailedTransferPaysPendingRowsOnly(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()
	e.invest(t, pool.PoolID, uuid.New(), "alice-wallet", "500")
	e.invest(t, pool.PoolID, uuid.New(), "bob-wallet", "300")

	e.Ledger.FailNext("PayDividend", errors.New("rpc timeout"))
	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "80"),
	})
	require.Error(t, err)
	require.NotNil(t, record)
	assert.Equal(t, domain.DividendFailed, record.Status)

	retried, err := e.Dividends.Retry(ctx, uuid.New(), record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.DividendSettled, retried.Status)

	var payouts []domain.DividendPayout
	require.NoError(t, e.DB.Where("record_id = ?", record.RecordID).Find(&payouts).Error)
	require.Len(t, payouts, 2)
	var total money.Amount
	for _, p := range payouts {
		assert.Equal(t, domain.PayoutPaid, p.Status)
		total = total.Add(p.Amount)
	}
	assert.Equal(t, "80", total.String())
}

func TestRetry_ConfirmedTransferIsNeverRepaid(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()
	aliceInv := e.invest(t, pool.PoolID, uuid.New(), "alice-wallet", "500")

	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "50"),
	})
	require.NoError(t, err)

	// Roll the index back to how a crash after the on-chain transfer
	// leaves it: payout pending, record failed, nothing credited.
	require.NoError(t, e.DB.Model(&domain.DividendPayout{}).
		Where("record_id = ?", record.RecordID).
		Update("status", domain.PayoutPending).Error)
	require.NoError(t, e.DB.Model(&domain.DividendRecord{}).
		Where("record_id = ?", record.RecordID).
		Update("status", domain.DividendFailed).Error)
	require.NoError(t, e.DB.Model(&domain.Investment{}).
		Where("investment_id = ?", aliceInv.InvestmentID).
		Update("dividends_received", money.Amount{}).Error)

	retried, err := e.Dividends.Retry(ctx, uuid.New(), record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.DividendSettled, retried.Status)

	// The replayed transfer credits the index but not the ledger again.
	var got domain.Investment
	require.NoError(t, e.DB.Where("investment_id = ?", aliceInv.InvestmentID).First(&got).Error)
	assert.Equal(t, "50", got.DividendsReceived.String())
	pos, err := e.Ledger.GetPosition(ctx, pool.ChainAddress, "alice-wallet")
	require.NoError(t, err)
	assert.Equal(t, "50", pos.DividendsReceived.String())
}

func TestRetry_SettledRecordIsANoOp(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()
	aliceInv := e.invest(t, pool.PoolID, uuid.New(), "alice-wallet", "500")

	record, err := e.Dividends.Distribute(ctx, DistributeInput{
		ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, "50"),
	})
	require.NoError(t, err)

	again, err := e.Dividends.Retry(ctx, uuid.New(), record.RecordID)
	require.NoError(t, err)
	assert.Equal(t, domain.DividendSettled, again.Status)

	var got domain.Investment
	require.NoError(t, e.DB.Where("investment_id = ?", aliceInv.InvestmentID).First(&got).Error)
	assert.Equal(t, "50", got.DividendsReceived.String())
}

func TestListForPool_ReturnsHistory(t *testing.T) {
	e := setup(t)
	pool := e.createPool(t, pools.CreatePoolInput{
		TargetAmount:  mustAmount(t, "1000"),
		MinInvestment: mustAmount(t, "10"),
	})
	ctx := context.Background()
	e.invest(t, pool.PoolID, uuid.New(), "alice-wallet", "500")

	for _, amount := range []string{"10", "20"} {
		_, err := e.Dividends.Distribute(ctx, DistributeInput{
			ActorID: uuid.New(), PoolID: pool.PoolID, Amount: mustAmount(t, amount),
		})
		require.NoError(t, err)
	}

	records, err := e.Dividends.ListForPool(ctx, pool.PoolID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
