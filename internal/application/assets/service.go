// Package assets registers on-chain assets into the index and enforces the
// tokenization limit: the cumulative percentage of an asset sold into pools
// can never pass the owner's cap.
package assets

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/money"
)

type Service struct {
	DB     *gorm.DB
	Ledger ledger.Client
}

type RegisterAssetInput struct {
	OwnerID      uuid.UUID
	ChainAddress string
	Name         string
	Description  string
	Category     string
	DocumentCID  *string
}

// RegisterAsset imports an asset the owner already registered on chain. The
// declared value and investable cap come from the ledger, never from the
// request, so the index can only mirror what the chain enforces.
func (s *Service) RegisterAsset(ctx context.Context, in RegisterAssetInput) (*domain.Asset, error) {
	if in.Name == "" {
		return nil, apperr.Validation("Asset name is required")
	}
	if in.ChainAddress == "" {
		return nil, apperr.Validation("Asset chain address is required")
	}

	view, err := s.Ledger.GetAsset(ctx, in.ChainAddress)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, apperr.NotFound("Asset does not exist on the ledger")
		}
		return nil, apperr.LedgerUnavailable("Could not verify asset on the ledger", err)
	}

	var existing domain.Asset
	if err := s.DB.WithContext(ctx).Where("chain_address = ?", in.ChainAddress).First(&existing).Error; err == nil {
		return nil, apperr.Validation("Asset is already registered")
	}

	asset := &domain.Asset{
		OwnerID:          in.OwnerID,
		Name:             in.Name,
		Description:      in.Description,
		Category:         in.Category,
		TotalValue:       view.TotalValue,
		MaxInvestablePct: view.MaxInvestableBps.Percent(),
		ChainAddress:     in.ChainAddress,
		IndexState:       domain.IndexCommitted,
		DocumentCID:      in.DocumentCID,
	}
	if err := s.DB.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

// ViewAsset returns one indexed asset after confirming it still exists on
// chain. A missing chain account deletes the row and reports NotFound.
func (s *Service) ViewAsset(ctx context.Context, assetID uuid.UUID) (*domain.Asset, error) {
	var asset domain.Asset
	if err := s.DB.WithContext(ctx).Where("asset_id = ?", assetID).First(&asset).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Asset not found")
		}
		return nil, err
	}
	ok, err := s.Ledger.Exists(ctx, asset.ChainAddress)
	if err != nil {
		return nil, apperr.LedgerUnavailable("Could not verify asset on the ledger", err)
	}
	if !ok {
		s.DB.WithContext(ctx).Delete(&asset)
		return nil, apperr.NotFound("Asset not found")
	}
	return &asset, nil
}

func (s *Service) ViewOwnerAssets(ctx context.Context, ownerID uuid.UUID) ([]domain.Asset, error) {
	var list []domain.Asset
	if err := s.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order(`"createdAt" DESC`).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// AttachDocument stores a pinned document CID on an asset the caller owns.
func (s *Service) AttachDocument(ctx context.Context, ownerID, assetID uuid.UUID, cid string) error {
	if cid == "" {
		return apperr.Validation("Document CID is required")
	}
	res := s.DB.WithContext(ctx).Model(&domain.Asset{}).
		Where("asset_id = ? AND owner_id = ?", assetID, ownerID).
		Update("document_cid", cid)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Asset not found")
	}
	return nil
}

// Contribution is one (asset, value) pair a pool tokenizes.
type Contribution struct {
	AssetID uuid.UUID    `json:"asset_id"`
	Value   money.Amount `json:"value"`
}

// Reservation is the guard's verdict for one contribution, ready to become
// a PoolAsset row once the pool exists.
type Reservation struct {
	Asset        domain.Asset
	Value        money.Amount
	TokenizedPct money.Percent
}

// CheckTokenization validates a batch of contributions without mutating
// anything. Pool creation runs it before the ledger write so an over-limit
// request never reaches the chain. The investable cap is re-read from the
// ledger for every asset; the index copy is display data.
func (s *Service) CheckTokenization(ctx context.Context, batch []Contribution) ([]Reservation, error) {
	if len(batch) == 0 {
		return nil, apperr.Validation("A pool must tokenize at least one asset")
	}
	out := make([]Reservation, 0, len(batch))
	for _, c := range batch {
		if !c.Value.IsPositive() {
			return nil, apperr.Validation("Asset contribution must be positive")
		}
		var asset domain.Asset
		if err := s.DB.WithContext(ctx).Where("asset_id = ?", c.AssetID).First(&asset).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, apperr.Newf(apperr.KindNotFound, "Asset %s not found", c.AssetID)
			}
			return nil, err
		}
		view, err := s.Ledger.GetAsset(ctx, asset.ChainAddress)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				s.DB.WithContext(ctx).Delete(&asset)
				return nil, apperr.Newf(apperr.KindNotFound, "Asset %s not found", c.AssetID)
			}
			return nil, apperr.LedgerUnavailable("Could not fetch asset limit from the ledger", err)
		}

		pct, err := money.PercentOf(c.Value, view.TotalValue)
		if err != nil {
			return nil, apperr.Validation("Asset has no declared value")
		}
		newTotal := asset.TokenizedPct.Add(pct)
		if !newTotal.WithinLimit(view.MaxInvestableBps.Percent()) {
			return nil, apperr.Newf(apperr.KindLimitExceeded,
				"TokenizationLimitExceeded: asset %s is at %s%% tokenized, adding %s%% passes the %s%% cap",
				asset.AssetID, asset.TokenizedPct, pct, view.MaxInvestableBps.Percent())
		}
		out = append(out, Reservation{Asset: asset, Value: c.Value, TokenizedPct: pct})
	}
	return out, nil
}

// ReserveTokenization re-checks every reservation inside tx and increments
// the cumulative counters. All increments commit together or none do: the
// first failure aborts the transaction and rolls back the whole batch.
func (s *Service) ReserveTokenization(tx *gorm.DB, reservations []Reservation) error {
	for _, r := range reservations {
		var asset domain.Asset
		if err := tx.Where("asset_id = ?", r.Asset.AssetID).First(&asset).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.Newf(apperr.KindNotFound, "Asset %s not found", r.Asset.AssetID)
			}
			return err
		}
		newTotal := asset.TokenizedPct.Add(r.TokenizedPct)
		if !newTotal.WithinLimit(asset.MaxInvestablePct) {
			return apperr.Newf(apperr.KindLimitExceeded,
				"TokenizationLimitExceeded: asset %s is at %s%% tokenized, adding %s%% passes the %s%% cap",
				asset.AssetID, asset.TokenizedPct, r.TokenizedPct, asset.MaxInvestablePct)
		}
		if err := tx.Model(&domain.Asset{}).
			Where("asset_id = ?", asset.AssetID).
			Update("tokenized_pct", newTotal).Error; err != nil {
			return err
		}
	}
	return nil
}

// ReleaseTokenization undoes reservations after a failed pool creation, so
// a pool the ledger rejected does not leave phantom percentage behind.
func (s *Service) ReleaseTokenization(ctx context.Context, reservations []Reservation) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range reservations {
			var asset domain.Asset
			if err := tx.Where("asset_id = ?", r.Asset.AssetID).First(&asset).Error; err != nil {
				return err
			}
			reduced := asset.TokenizedPct.Sub(r.TokenizedPct)
			if reduced.IsNegative() {
				reduced = money.Percent{}
			}
			if err := tx.Model(&domain.Asset{}).
				Where("asset_id = ?", asset.AssetID).
				Update("tokenized_pct", reduced).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
