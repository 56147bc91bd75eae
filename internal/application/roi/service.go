// Package roi derives an investor's projected and realized return from the
// position's age, the target's APY and the distribution history. Output is
// display data; nothing here moves money.
package roi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/money"
)

const projectionCacheTTL = 30 * time.Second

// A projection year is 365 days.
const year = 365 * 24 * time.Hour

type Service struct {
	DB      *gorm.DB
	Ledger  ledger.Client
	Rdb     *redis.Client
	Timeout time.Duration
}

type Projection struct {
	PoolID         uuid.UUID     `json:"pool_id"`
	TrancheID      *uuid.UUID    `json:"tranche_id,omitempty"`
	Principal      money.Amount  `json:"principal"`
	SharesHeld     money.Shares  `json:"shares_held"`
	CurrentValue   money.Amount  `json:"current_value"`
	ActualYield    money.Amount  `json:"actual_yield"`
	ProjectedYield money.Amount  `json:"projected_yield"`
	APYBps         money.Bps     `json:"apy_bps"`
	HeldDays       int64         `json:"held_days"`
	TotalReturnPct money.Percent `json:"total_return_pct"`
}

// Project computes the return picture for one position. Current value is
// priced from ledger state, never from the index; dividends received come
// from the position's own history.
func (s *Service) Project(ctx context.Context, investorID, poolID uuid.UUID, trancheID *uuid.UUID) (*Projection, error) {
	targetID := poolID
	if trancheID != nil {
		targetID = *trancheID
	}

	cacheKey := "roi:" + investorID.String() + ":" + targetID.String()
	if s.Rdb != nil {
		if raw, err := s.Rdb.Get(ctx, cacheKey).Result(); err == nil {
			var cached Projection
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	var inv domain.Investment
	if err := s.DB.WithContext(ctx).
		Where("target_id = ? AND investor_id = ?", targetID, investorID).
		First(&inv).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("No investment found for this pool")
		}
		return nil, err
	}

	var pool domain.Pool
	if err := s.DB.WithContext(ctx).Where("pool_id = ?", inv.PoolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, err
	}

	apy := pool.YieldRateBps
	targetAddress := pool.ChainAddress
	if inv.TrancheID != nil {
		var tranche domain.Tranche
		if err := s.DB.WithContext(ctx).Where("tranche_id = ?", *inv.TrancheID).First(&tranche).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, apperr.NotFound("Tranche not found")
			}
			return nil, err
		}
		apy = tranche.TargetAPYBps
		targetAddress = tranche.ChainAddress
	}

	lctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	view, err := s.Ledger.GetPool(lctx, targetAddress)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, apperr.NotFound("Pool not found on the ledger")
		}
		return nil, apperr.LedgerUnavailable("Could not price the position against the ledger", err)
	}

	currentValue, err := money.AmountForShares(inv.SharesHeld, view.TotalShares, view.TotalInvested)
	if err != nil {
		currentValue = money.Amount{}
	}

	elapsed := time.Since(inv.FirstInvestedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	projection := &Projection{
		PoolID:         inv.PoolID,
		TrancheID:      inv.TrancheID,
		Principal:      inv.AmountInvested,
		SharesHeld:     inv.SharesHeld,
		CurrentValue:   currentValue,
		ActualYield:    inv.DividendsReceived,
		ProjectedYield: money.YieldOver(inv.AmountInvested, apy, elapsed, year),
		APYBps:         apy,
		HeldDays:       int64(elapsed.Hours() / 24),
	}
	gross := currentValue.Add(inv.DividendsReceived).Sub(inv.AmountInvested)
	if pct, err := money.PercentOf(gross, inv.AmountInvested); err == nil {
		projection.TotalReturnPct = pct
	}

	if s.Rdb != nil {
		if raw, err := json.Marshal(projection); err == nil {
			s.Rdb.Set(ctx, cacheKey, raw, projectionCacheTTL)
		}
	}
	return projection, nil
}
