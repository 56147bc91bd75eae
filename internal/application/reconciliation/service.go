// Package reconciliation keeps the index subordinate to the ledger. Every
// read verifies the chain account still exists before the row is served;
// rows the chain no longer backs are deleted, never returned. The index is
// a disposable cache and is never used as a fallback when the ledger is
// unreachable.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
)

type Service struct {
	DB      *gorm.DB
	Ledger  ledger.Client
	Timeout time.Duration

	mu      sync.Mutex
	pruning map[string]struct{}
	wg      sync.WaitGroup
}

func NewService(db *gorm.DB, lc ledger.Client, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		DB:      db,
		Ledger:  lc,
		Timeout: timeout,
		pruning: make(map[string]struct{}),
	}
}

func (s *Service) exists(ctx context.Context, address string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	return s.Ledger.Exists(ctx, address)
}

// VerifyPool confirms the pool's chain account is live. A hit bumps the
// entry to VERIFIED; a miss deletes the pool and everything under it and
// reports NotFound. A transport failure is LedgerUnavailable: the row is
// neither served nor deleted, because the outcome is unknown.
func (s *Service) VerifyPool(ctx context.Context, pool *domain.Pool) error {
	if pool.IndexState == domain.IndexQuarantined {
		return apperr.InconsistentState("Pool is quarantined pending operator review")
	}
	ok, err := s.exists(ctx, pool.ChainAddress)
	if err != nil {
		return apperr.LedgerUnavailable("Could not verify pool on the ledger", err)
	}
	if !ok {
		s.deletePoolTree(ctx, pool)
		return apperr.NotFound("Pool not found")
	}
	now := time.Now()
	s.DB.WithContext(ctx).Model(&domain.Pool{}).
		Where("pool_id = ?", pool.PoolID).
		Updates(map[string]interface{}{"index_state": domain.IndexVerified, "last_verified_at": now})
	pool.IndexState = domain.IndexVerified
	pool.LastVerifiedAt = &now
	return nil
}

// VerifyTranche is VerifyPool for one tranche share ledger.
func (s *Service) VerifyTranche(ctx context.Context, tranche *domain.Tranche) error {
	if tranche.IndexState == domain.IndexQuarantined {
		return apperr.InconsistentState("Tranche is quarantined pending operator review")
	}
	ok, err := s.exists(ctx, tranche.ChainAddress)
	if err != nil {
		return apperr.LedgerUnavailable("Could not verify tranche on the ledger", err)
	}
	if !ok {
		s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			tx.Where("target_id = ?", tranche.TrancheID).Delete(&domain.Investment{})
			return tx.Where("tranche_id = ?", tranche.TrancheID).Delete(&domain.Tranche{}).Error
		})
		return apperr.NotFound("Tranche not found")
	}
	now := time.Now()
	s.DB.WithContext(ctx).Model(&domain.Tranche{}).
		Where("tranche_id = ?", tranche.TrancheID).
		Updates(map[string]interface{}{"index_state": domain.IndexVerified, "last_verified_at": now})
	tranche.IndexState = domain.IndexVerified
	tranche.LastVerifiedAt = &now
	return nil
}

// VerifyInvestment confirms the position account backing one investment.
func (s *Service) VerifyInvestment(ctx context.Context, inv *domain.Investment) error {
	if inv.IndexState == domain.IndexQuarantined {
		return apperr.InconsistentState("Investment is quarantined pending operator review")
	}
	ok, err := s.exists(ctx, inv.ChainAddress)
	if err != nil {
		return apperr.LedgerUnavailable("Could not verify investment on the ledger", err)
	}
	if !ok {
		s.DB.WithContext(ctx).Where("investment_id = ?", inv.InvestmentID).Delete(&domain.Investment{})
		return apperr.NotFound("Investment not found")
	}
	now := time.Now()
	s.DB.WithContext(ctx).Model(&domain.Investment{}).
		Where("investment_id = ?", inv.InvestmentID).
		Updates(map[string]interface{}{"index_state": domain.IndexVerified, "last_verified_at": now})
	inv.IndexState = domain.IndexVerified
	inv.LastVerifiedAt = &now
	return nil
}

// FilterVerifiedPools checks every row of a listing and returns the ones
// the ledger still backs. Stale rows are handed to the background pruner;
// the response never waits on deletes. The first transport failure aborts
// the whole listing rather than serving unverified index data.
func (s *Service) FilterVerifiedPools(ctx context.Context, pools []domain.Pool) ([]domain.Pool, error) {
	verified := make([]domain.Pool, 0, len(pools))
	for i := range pools {
		if pools[i].IndexState == domain.IndexQuarantined {
			continue
		}
		ok, err := s.exists(ctx, pools[i].ChainAddress)
		if err != nil {
			return nil, apperr.LedgerUnavailable("Could not verify pools on the ledger", err)
		}
		if !ok {
			s.PruneAsync(pools[i].PoolID.String())
			continue
		}
		verified = append(verified, pools[i])
	}
	return verified, nil
}

// PruneAsync deletes a stale pool in the background. Duplicate requests
// for the same id while a prune is in flight are dropped.
func (s *Service) PruneAsync(poolID string) {
	s.mu.Lock()
	if _, busy := s.pruning[poolID]; busy {
		s.mu.Unlock()
		return
	}
	s.pruning[poolID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.pruning, poolID)
			s.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		var pool domain.Pool
		if err := s.DB.WithContext(ctx).Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
			return
		}
		s.deletePoolTree(ctx, &pool)
	}()
}

// Wait blocks until in-flight prunes finish. Tests use it; the server
// never does.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) deletePoolTree(ctx context.Context, pool *domain.Pool) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tranches []domain.Tranche
		tx.Where("pool_id = ?", pool.PoolID).Find(&tranches)
		for _, t := range tranches {
			if err := tx.Where("target_id = ?", t.TrancheID).Delete(&domain.Investment{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("target_id = ?", pool.PoolID).Delete(&domain.Investment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pool_id = ?", pool.PoolID).Delete(&domain.Tranche{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pool_id = ?", pool.PoolID).Delete(&domain.PoolAsset{}).Error; err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"chain_address": pool.ChainAddress})
		if err := tx.Create(&domain.PoolEvent{
			PoolID:    pool.PoolID,
			EventType: domain.EventIndexPruned,
			EventData: datatypes.JSON(payload),
		}).Error; err != nil {
			return err
		}
		return tx.Where("pool_id = ?", pool.PoolID).Delete(&domain.Pool{}).Error
	})
	if err != nil {
		log.Error().Err(err).Str("pool_id", pool.PoolID.String()).Msg("Failed to prune stale pool")
		return
	}
	log.Warn().Str("pool_id", pool.PoolID.String()).Str("chain_address", pool.ChainAddress).
		Msg("Pruned pool with no on-chain counterpart")
}

// QuarantinePool marks a pool the ledger disagrees with in a way deleting
// cannot fix. Quarantined rows are excluded from every read until an
// operator resolves them.
func (s *Service) QuarantinePool(ctx context.Context, poolID string, reason string) {
	log.Error().Str("pool_id", poolID).Str("reason", reason).Bool("inconsistent_state", true).
		Msg("Quarantining pool: index and ledger disagree")
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Pool{}).Where("pool_id = ?", poolID).
			Update("index_state", domain.IndexQuarantined).Error; err != nil {
			return err
		}
		var pool domain.Pool
		if err := tx.Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{"reason": reason})
		return tx.Create(&domain.PoolEvent{
			PoolID:    pool.PoolID,
			EventType: domain.EventQuarantined,
			EventData: datatypes.JSON(payload),
		}).Error
	})
	if err != nil {
		log.Error().Err(err).Str("pool_id", poolID).Msg("Failed to quarantine pool")
	}
}

// Sweep re-verifies every entry whose last verification is older than
// maxAge, and cross-checks pool totals against the chain. Totals the chain
// never saw quarantine the pool with a hard alert. Sweep holds no pool
// locks, so investments proceed while it runs.
func (s *Service) Sweep(ctx context.Context, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	var pools []domain.Pool
	if err := s.DB.WithContext(ctx).
		Where("last_verified_at IS NULL OR last_verified_at < ?", cutoff).
		Where("index_state <> ?", domain.IndexQuarantined).
		Find(&pools).Error; err != nil {
		log.Error().Err(err).Msg("Reconciliation sweep could not list pools")
		return
	}
	for i := range pools {
		if ctx.Err() != nil {
			return
		}
		vctx, cancel := context.WithTimeout(ctx, s.Timeout)
		view, err := s.Ledger.GetPool(vctx, pools[i].ChainAddress)
		cancel()
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				s.deletePoolTree(ctx, &pools[i])
			}
			// Transport failure: unknown outcome, try again next sweep.
			continue
		}
		if view.TotalShares.Cmp(pools[i].TotalShares) != 0 ||
			view.TotalInvested.Cmp(pools[i].TotalInvested) != 0 {
			s.QuarantinePool(ctx, pools[i].PoolID.String(), "index totals diverge from ledger")
			continue
		}
		now := time.Now()
		s.DB.WithContext(ctx).Model(&domain.Pool{}).
			Where("pool_id = ?", pools[i].PoolID).
			Updates(map[string]interface{}{"index_state": domain.IndexVerified, "last_verified_at": now})
	}

	var invs []domain.Investment
	if err := s.DB.WithContext(ctx).
		Where("last_verified_at IS NULL OR last_verified_at < ?", cutoff).
		Where("index_state <> ?", domain.IndexQuarantined).
		Find(&invs).Error; err != nil {
		return
	}
	for i := range invs {
		if ctx.Err() != nil {
			return
		}
		_ = s.VerifyInvestment(ctx, &invs[i])
	}

	s.resolveStuckDividends(ctx, cutoff)
}

// resolveStuckDividends settles or fails dividend records a crash left
// pending. A settlement reference means the ledger confirmed the
// distribution and only the status write was lost; without one the record
// goes to failed, where the retry path can finish it without double-paying.
func (s *Service) resolveStuckDividends(ctx context.Context, cutoff time.Time) {
	var records []domain.DividendRecord
	if err := s.DB.WithContext(ctx).
		Where("status = ?", domain.DividendPending).
		Where(`"createdAt" < ?`, cutoff).
		Find(&records).Error; err != nil {
		return
	}
	for i := range records {
		next := domain.DividendFailed
		if records[i].SettlementRef != nil {
			next = domain.DividendSettled
		}
		if err := s.DB.WithContext(ctx).Model(&domain.DividendRecord{}).
			Where("record_id = ? AND status = ?", records[i].RecordID, domain.DividendPending).
			Update("status", next).Error; err != nil {
			log.Error().Err(err).Str("record_id", records[i].RecordID.String()).
				Msg("Could not resolve stuck dividend record")
			continue
		}
		log.Warn().Str("record_id", records[i].RecordID.String()).Str("status", next).
			Msg("Resolved dividend record left pending")
	}
}

// RunSweeper loops Sweep until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Dur("interval", interval).Msg("Reconciliation sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx, interval)
		}
	}
}
