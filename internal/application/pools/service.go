// Package pools creates and serves investment pools. Creation reserves
// tokenization percentage before the chain write and compensates if the
// chain rejects it; reads go through reconciliation so the index never
// serves a pool the ledger no longer backs.
package pools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wekeza-backend/internal/application/assets"
	"wekeza-backend/internal/application/reconciliation"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/keylock"
	"wekeza-backend/internal/pkg/money"
)

const statsCacheTTL = 30 * time.Second

type Service struct {
	DB      *gorm.DB
	Ledger  ledger.Client
	Assets  *assets.Service
	Recon   *reconciliation.Service
	Locks   *keylock.Registry
	Rdb     *redis.Client
	Timeout time.Duration
}

type CreatePoolInput struct {
	CreatorID      uuid.UUID
	CreatorWallet  string
	Name           string
	Description    string
	TargetAmount   money.Amount
	MinInvestment  money.Amount
	MaxPerInvestor money.Amount
	YieldRateBps   money.Bps
	Assets         []assets.Contribution
	Tranches       []domain.TrancheSpec
}

func (in *CreatePoolInput) validate() error {
	if in.Name == "" {
		return apperr.Validation("Pool name is required")
	}
	if in.CreatorWallet == "" {
		return apperr.Validation("Creator has no wallet address")
	}
	if !in.TargetAmount.IsPositive() {
		return apperr.Validation("Target amount must be positive")
	}
	if !in.MinInvestment.IsPositive() {
		return apperr.Validation("Minimum investment must be positive")
	}
	if in.MinInvestment.GreaterThan(in.TargetAmount) {
		return apperr.Validation("Minimum investment cannot exceed the target")
	}
	if in.MaxPerInvestor.IsPositive() && in.MaxPerInvestor.LessThan(in.MinInvestment) {
		return apperr.Validation("Maximum per investor cannot be below the minimum investment")
	}
	if in.YieldRateBps < 0 {
		return apperr.Validation("Yield rate cannot be negative")
	}
	if len(in.Tranches) == 1 {
		return apperr.Validation("A pool carries zero or at least two tranches, never one")
	}
	var total money.Percent
	for _, t := range in.Tranches {
		if t.Name == "" {
			return apperr.Validation("Every tranche needs a name")
		}
		if t.AllocationPct.IsZero() || t.AllocationPct.IsNegative() {
			return apperr.Validation("Tranche allocation must be positive")
		}
		if t.TargetAPYBps < 0 {
			return apperr.Validation("Tranche APY cannot be negative")
		}
		total = total.Add(t.AllocationPct)
	}
	if !total.WithinLimit(money.Bps(10000).Percent()) {
		return apperr.Newf(apperr.KindLimitExceeded,
			"Tranche allocations sum to %s%%, above 100%%", total)
	}
	return nil
}

// CreatePool runs the tokenization guard, writes the pool (and tranches) to
// the ledger and indexes the result. The percentage counters are reserved
// before the chain write and released again if the chain rejects it, so two
// racing creations can never jointly pass an asset's cap.
func (s *Service) CreatePool(ctx context.Context, in CreatePoolInput) (*domain.Pool, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	reservations, err := s.Assets.CheckTokenization(ctx, in.Assets)
	if err != nil {
		return nil, err
	}

	// One lock per touched asset, taken in sorted order so concurrent
	// creations over overlapping asset sets cannot deadlock.
	keys := make([]string, 0, len(reservations))
	for _, r := range reservations {
		keys = append(keys, "asset:"+r.Asset.AssetID.String())
	}
	sort.Strings(keys)
	for _, k := range keys {
		l := s.Locks.Get(k)
		l.Lock()
		defer l.Unlock()
	}

	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.Assets.ReserveTokenization(tx, reservations)
	}); err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	address, err := s.Ledger.CreatePool(lctx, ledger.PoolSpec{
		Name:           in.Name,
		CreatorWallet:  in.CreatorWallet,
		Target:         in.TargetAmount,
		MinInvestment:  in.MinInvestment,
		MaxPerInvestor: in.MaxPerInvestor,
	})
	if err != nil {
		if relErr := s.Assets.ReleaseTokenization(ctx, reservations); relErr != nil {
			log.Error().Err(relErr).Bool("inconsistent_state", true).
				Msg("Could not release tokenization reservation after failed pool creation")
		}
		return nil, apperr.LedgerUnavailable("Pool creation failed on the ledger", err)
	}

	tranches := make([]domain.Tranche, 0, len(in.Tranches))
	for _, spec := range in.Tranches {
		taddr, err := s.Ledger.CreateTranche(lctx, address, ledger.TrancheSpec{
			Name:          spec.Name,
			Rank:          spec.Rank,
			AllocationBps: spec.AllocationPct.Bps(),
			TargetAPYBps:  spec.TargetAPYBps,
		})
		if err != nil {
			if relErr := s.Assets.ReleaseTokenization(ctx, reservations); relErr != nil {
				log.Error().Err(relErr).Bool("inconsistent_state", true).
					Msg("Could not release tokenization reservation after failed tranche creation")
			}
			return nil, apperr.LedgerUnavailable(
				fmt.Sprintf("Tranche %q creation failed on the ledger", spec.Name), err)
		}
		tranches = append(tranches, domain.Tranche{
			Name:          spec.Name,
			Rank:          spec.Rank,
			AllocationPct: spec.AllocationPct,
			TargetAPYBps:  spec.TargetAPYBps,
			IndexState:    domain.IndexCommitted,
			ChainAddress:  taddr,
		})
	}

	pool := &domain.Pool{
		CreatorID:      in.CreatorID,
		Name:           in.Name,
		Description:    in.Description,
		TargetAmount:   in.TargetAmount,
		MinInvestment:  in.MinInvestment,
		MaxPerInvestor: in.MaxPerInvestor,
		YieldRateBps:   in.YieldRateBps,
		Status:         domain.PoolActive,
		IndexState:     domain.IndexCommitted,
		ChainAddress:   address,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(pool).Error; err != nil {
			return err
		}
		for i := range tranches {
			tranches[i].PoolID = pool.PoolID
			if err := tx.Create(&tranches[i]).Error; err != nil {
				return err
			}
		}
		for _, r := range reservations {
			pa := domain.PoolAsset{
				PoolID:           pool.PoolID,
				AssetID:          r.Asset.AssetID,
				ValueContributed: r.Value,
				TokenizedPct:     r.TokenizedPct,
			}
			if err := tx.Create(&pa).Error; err != nil {
				return err
			}
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"chain_address": address,
			"target":        pool.TargetAmount,
			"tranches":      len(tranches),
		})
		return tx.Create(&domain.PoolEvent{
			PoolID:    pool.PoolID,
			EventType: domain.EventPoolCreated,
			EventData: datatypes.JSON(payload),
			ActorID:   &in.CreatorID,
		}).Error
	})
	if err != nil {
		// The chain write is confirmed; only the index is missing. This
		// cannot be compensated locally, so it is a hard alert.
		log.Error().Err(err).Str("chain_address", address).Bool("inconsistent_state", true).
			Msg("Pool confirmed on ledger but index write failed")
		return nil, apperr.InconsistentState("Pool was created on the ledger but could not be indexed")
	}
	pool.Tranches = tranches
	return pool, nil
}

// GetPool serves one pool after read-time verification.
func (s *Service) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.Pool, error) {
	var pool domain.Pool
	if err := s.DB.WithContext(ctx).
		Preload("Tranches").Preload("Assets").
		Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, err
	}
	if err := s.Recon.VerifyPool(ctx, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// ListActivePools returns active pools the ledger still backs. Stale rows
// are pruned in the background and never block the response.
func (s *Service) ListActivePools(ctx context.Context) ([]domain.Pool, error) {
	var pools []domain.Pool
	if err := s.DB.WithContext(ctx).
		Preload("Tranches").
		Where("status = ?", domain.PoolActive).
		Order(`"createdAt" DESC`).
		Find(&pools).Error; err != nil {
		return nil, err
	}
	return s.Recon.FilterVerifiedPools(ctx, pools)
}

// PoolStats is the derived, cacheable summary of one pool. It is display
// data only; no money decision reads it.
type PoolStats struct {
	PoolID           uuid.UUID       `json:"pool_id"`
	Status           string          `json:"status"`
	TargetAmount     money.Amount    `json:"target_amount"`
	TotalInvested    money.Amount    `json:"total_invested"`
	TotalShares      money.Shares    `json:"total_shares"`
	SharePrice       string          `json:"share_price"`
	FundedPct        money.Percent   `json:"funded_pct"`
	HolderCount      int64           `json:"holder_count"`
	Distributions    int64           `json:"distributions"`
	TotalDistributed money.Amount    `json:"total_distributed"`
	Tranches         []domain.Tranche `json:"tranches,omitempty"`
}

func statsKey(poolID uuid.UUID) string { return "poolstats:" + poolID.String() }

func (s *Service) GetPoolStats(ctx context.Context, poolID uuid.UUID) (*PoolStats, error) {
	if s.Rdb != nil {
		if raw, err := s.Rdb.Get(ctx, statsKey(poolID)).Result(); err == nil {
			var cached PoolStats
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	pool, err := s.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var holderCount int64
	s.DB.WithContext(ctx).Model(&domain.Investment{}).
		Where("pool_id = ? AND active = ?", poolID, true).
		Count(&holderCount)

	var records []domain.DividendRecord
	s.DB.WithContext(ctx).
		Where("pool_id = ? AND status = ?", poolID, domain.DividendSettled).
		Find(&records)
	var distributed money.Amount
	for _, r := range records {
		distributed = distributed.Add(r.TotalAmount)
	}

	funded, err := money.PercentOf(pool.TotalInvested, pool.TargetAmount)
	if err != nil {
		funded = money.Percent{}
	}

	stats := &PoolStats{
		PoolID:           pool.PoolID,
		Status:           pool.Status,
		TargetAmount:     pool.TargetAmount,
		TotalInvested:    pool.TotalInvested,
		TotalShares:      pool.TotalShares,
		SharePrice:       money.SharePrice(pool.TotalInvested, pool.TotalShares).String(),
		FundedPct:        funded,
		HolderCount:      holderCount,
		Distributions:    int64(len(records)),
		TotalDistributed: distributed,
		Tranches:         pool.Tranches,
	}

	if s.Rdb != nil {
		if raw, err := json.Marshal(stats); err == nil {
			s.Rdb.Set(ctx, statsKey(poolID), raw, statsCacheTTL)
		}
	}
	return stats, nil
}

// SetStatus moves a pool between ACTIVE, PAUSED and CLOSED. Transitions are
// always explicit; a fully funded pool stays ACTIVE until closed here.
func (s *Service) SetStatus(ctx context.Context, actorID, poolID uuid.UUID, status string) (*domain.Pool, error) {
	var eventType string
	switch status {
	case domain.PoolClosed:
		eventType = domain.EventPoolClosed
	case domain.PoolPaused:
		eventType = domain.EventPoolPaused
	case domain.PoolActive:
		eventType = domain.EventPoolResumed
	default:
		return nil, apperr.Validation("Unknown pool status")
	}

	lock := s.Locks.Get(poolID.String())
	lock.Lock()
	defer lock.Unlock()

	var pool domain.Pool
	if err := s.DB.WithContext(ctx).Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, err
	}
	if pool.Status == domain.PoolClosed {
		return nil, apperr.Validation("Pool is closed")
	}
	if pool.Status == status {
		return &pool, nil
	}

	lctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if _, err := s.Ledger.SetPoolActive(lctx, pool.ChainAddress, status == domain.PoolActive); err != nil {
		return nil, apperr.LedgerUnavailable("Pool status change failed on the ledger", err)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Pool{}).Where("pool_id = ?", poolID).
			Update("status", status).Error; err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"from": pool.Status, "to": status})
		return tx.Create(&domain.PoolEvent{
			PoolID:    poolID,
			EventType: eventType,
			EventData: datatypes.JSON(payload),
			ActorID:   &actorID,
		}).Error
	})
	if err != nil {
		log.Error().Err(err).Str("pool_id", poolID.String()).Bool("inconsistent_state", true).
			Msg("Pool status changed on ledger but index update failed")
		return nil, apperr.InconsistentState("Pool status changed on the ledger but could not be indexed")
	}
	pool.Status = status
	return &pool, nil
}
