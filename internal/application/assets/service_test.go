package assets

import (
	"context"
	"testing"

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

func setup(t *testing.T) (*Service, *ledger.Memory) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Asset{}))
	lc := ledger.NewMemory()
	return &Service{DB: db, Ledger: lc}, lc
}

func seedAndRegister(t *testing.T, s *Service, lc *ledger.Memory, value string, capBps money.Bps) *domain.Asset {
	t.Helper()
	address := lc.SeedAsset("owner-wallet", mustAmount(t, value), capBps)
	asset, err := s.RegisterAsset(context.Background(), RegisterAssetInput{
		OwnerID:      uuid.New(),
		ChainAddress: address,
		Name:         "Mombasa Warehouse Receivables",
		Category:     "receivables",
	})
	require.NoError(t, err)
	return asset
}

func TestRegisterAsset_MirrorsLedgerValues(t *testing.T) {
	s, lc := setup(t)
	asset := seedAndRegister(t, s, lc, "100000", 7000)

	assert.Equal(t, "100000", asset.TotalValue.String())
	assert.Equal(t, "70.00", asset.MaxInvestablePct.String())
	assert.Equal(t, "0.00", asset.TokenizedPct.String())
	assert.Equal(t, domain.IndexCommitted, asset.IndexState)
}

func TestRegisterAsset_UnknownOnLedger(t *testing.T) {
	s, _ := setup(t)
	_, err := s.RegisterAsset(context.Background(), RegisterAssetInput{
		OwnerID:      uuid.New(),
		ChainAddress: "asset-nowhere",
		Name:         "Ghost",
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestRegisterAsset_DuplicateRejected(t *testing.T) {
	s, lc := setup(t)
	asset := seedAndRegister(t, s, lc, "100000", 7000)

	_, err := s.RegisterAsset(context.Background(), RegisterAssetInput{
		OwnerID:      uuid.New(),
		ChainAddress: asset.ChainAddress,
		Name:         "Same account twice",
	})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCheckTokenization_CapEnforcedCumulatively(t *testing.T) {
	s, lc := setup(t)
	asset := seedAndRegister(t, s, lc, "100000", 7000)
	ctx := context.Background()

	// First pool takes 40% of the asset's value.
	res, err := s.CheckTokenization(ctx, []Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "40000")}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "40.00", res[0].TokenizedPct.String())
	require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
		return s.ReserveTokenization(tx, res)
	}))

	// 40 + 35 passes the 70% cap.
	_, err = s.CheckTokenization(ctx, []Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "35000")}})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindLimitExceeded))
	assert.Contains(t, err.Error(), "TokenizationLimitExceeded")

	// 40 + 30 lands exactly on the cap and is allowed.
	res, err = s.CheckTokenization(ctx, []Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "30000")}})
	require.NoError(t, err)
	assert.Equal(t, "30.00", res[0].TokenizedPct.String())
}

func TestReserveAndRelease_RoundTripsCounter(t *testing.T) {
	s, lc := setup(t)
	asset := seedAndRegister(t, s, lc, "100000", 7000)
	ctx := context.Background()

	res, err := s.CheckTokenization(ctx, []Contribution{{AssetID: asset.AssetID, Value: mustAmount(t, "25000")}})
	require.NoError(t, err)
	require.NoError(t, s.DB.Transaction(func(tx *gorm.DB) error {
		return s.ReserveTokenization(tx, res)
	}))

	var got domain.Asset
	require.NoError(t, s.DB.Where("asset_id = ?", asset.AssetID).First(&got).Error)
	assert.Equal(t, "25.00", got.TokenizedPct.String())

	require.NoError(t, s.ReleaseTokenization(ctx, res))
	require.NoError(t, s.DB.Where("asset_id = ?", asset.AssetID).First(&got).Error)
	assert.Equal(t, "0.00", got.TokenizedPct.String())
}

func TestViewAsset_SelfHealsWhenChainAccountGone(t *testing.T) {
	s, lc := setup(t)
	asset := seedAndRegister(t, s, lc, "100000", 7000)
	ctx := context.Background()

	lc.Delete(asset.ChainAddress)

	_, err := s.ViewAsset(ctx, asset.AssetID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	var count int64
	s.DB.Model(&domain.Asset{}).Where("asset_id = ?", asset.AssetID).Count(&count)
	assert.Zero(t, count)
}

func TestAttachDocument_OwnerOnly(t *testing.T) {
	s, lc := setup(t)
	asset := seedAndRegister(t, s, lc, "100000", 7000)
	ctx := context.Background()

	err := s.AttachDocument(ctx, uuid.New(), asset.AssetID, "QmTestCID")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	require.NoError(t, s.AttachDocument(ctx, asset.OwnerID, asset.AssetID, "QmTestCID"))
	var got domain.Asset
	require.NoError(t, s.DB.Where("asset_id = ?", asset.AssetID).First(&got).Error)
	require.NotNil(t, got.DocumentCID)
	assert.Equal(t, "QmTestCID", *got.DocumentCID)
}
