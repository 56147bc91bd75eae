// Package investments converts investor capital into pool or tranche shares
// and burns them back. Every money decision is validated against state
// freshly read from the ledger, the write goes to the ledger first, and the
// index is updated only after the ledger confirms.
package investments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wekeza-backend/internal/application/reconciliation"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/keylock"
	"wekeza-backend/internal/pkg/money"
)

// OwnershipTracker is an optional external registry notified of position
// changes. Absence or failure never touches the investment path.
type OwnershipTracker interface {
	PositionChanged(ctx context.Context, investorWallet, targetAddress string, shares money.Shares) error
}

type Service struct {
	DB      *gorm.DB
	Ledger  ledger.Client
	Recon   *reconciliation.Service
	Locks   *keylock.Registry
	Tracker OwnershipTracker
	Timeout time.Duration
}

type InvestInput struct {
	InvestorID     uuid.UUID
	InvestorWallet string
	PoolID         uuid.UUID
	TrancheID      *uuid.UUID
	Amount         money.Amount
}

// target resolves the share ledger an operation addresses: the tranche for
// tranched pools, otherwise the pool itself.
type target struct {
	pool    domain.Pool
	tranche *domain.Tranche
	id      uuid.UUID
	address string
}

func (s *Service) resolveTarget(ctx context.Context, poolID uuid.UUID, trancheID *uuid.UUID) (*target, error) {
	var pool domain.Pool
	if err := s.DB.WithContext(ctx).Preload("Tranches").
		Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, err
	}
	if pool.IndexState == domain.IndexQuarantined {
		return nil, apperr.InconsistentState("Pool is quarantined pending operator review")
	}
	t := &target{pool: pool, id: pool.PoolID, address: pool.ChainAddress}
	if pool.Tranched() {
		if trancheID == nil {
			return nil, apperr.Validation("Pool issues shares per tranche; tranche_id is required")
		}
		for i := range pool.Tranches {
			if pool.Tranches[i].TrancheID == *trancheID {
				t.tranche = &pool.Tranches[i]
				t.id = pool.Tranches[i].TrancheID
				t.address = pool.Tranches[i].ChainAddress
				return t, nil
			}
		}
		return nil, apperr.NotFound("Tranche not found in this pool")
	}
	if trancheID != nil {
		return nil, apperr.Validation("Pool has no tranches; omit tranche_id")
	}
	return t, nil
}

// Invest issues shares for a deposit. Preconditions run in order against
// ledger state, first failure wins: target exists and is active, amount
// meets the minimum, the investor's cumulative stays within the per-investor
// maximum, and the deposit fits under the target cap. The target's key is
// locked across the whole validate, ledger write, index commit window.
func (s *Service) Invest(ctx context.Context, in InvestInput) (*domain.Investment, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("Investment amount must be positive")
	}
	if in.InvestorWallet == "" {
		return nil, apperr.Validation("Investor has no wallet address")
	}

	t, err := s.resolveTarget(ctx, in.PoolID, in.TrancheID)
	if err != nil {
		return nil, err
	}

	lock := s.Locks.Get(t.id.String())
	lock.Lock()
	defer lock.Unlock()

	lctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	view, err := s.Ledger.GetPool(lctx, t.address)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.Recon.PruneAsync(t.pool.PoolID.String())
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, apperr.LedgerUnavailable("Could not read pool state from the ledger", err)
	}
	if !view.Active || t.pool.Status != domain.PoolActive {
		return nil, apperr.Validation("Pool is not accepting investments")
	}
	// Money-movement limits come from the view just read off the ledger,
	// never from the index row.
	if in.Amount.LessThan(view.MinInvestment) {
		return nil, apperr.Newf(apperr.KindLimitExceeded,
			"Amount is below the minimum investment of %s", view.MinInvestment)
	}

	var cumulative money.Amount
	if pos, err := s.Ledger.GetPosition(lctx, t.address, in.InvestorWallet); err == nil {
		cumulative = pos.AmountInvested
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, apperr.LedgerUnavailable("Could not read investor position from the ledger", err)
	}
	if view.MaxPerInvestor.IsPositive() && cumulative.Add(in.Amount).GreaterThan(view.MaxPerInvestor) {
		return nil, apperr.Newf(apperr.KindLimitExceeded,
			"Cumulative investment would exceed the per-investor maximum of %s", view.MaxPerInvestor)
	}
	if view.TotalInvested.Add(in.Amount).GreaterThan(view.Target) {
		return nil, apperr.Newf(apperr.KindLimitExceeded,
			"Investment would push the pool past its target of %s", view.Target)
	}

	expected, err := money.SharesForDeposit(in.Amount, view.TotalShares, view.TotalInvested)
	if err != nil {
		return nil, apperr.Validation("Pool has no backing value to price shares against")
	}
	if expected.IsZero() {
		return nil, apperr.AmountTooSmall("Amount is too small to issue a single share unit")
	}

	result, err := s.Ledger.Invest(lctx, t.address, in.InvestorWallet, in.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.Recon.PruneAsync(t.pool.PoolID.String())
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, apperr.LedgerUnavailable("Investment failed on the ledger", err)
	}
	if result.SharesIssued.Cmp(expected) != 0 {
		// The ledger issued at a price the index cannot derive. The write
		// is confirmed, so the disagreement quarantines rather than heals.
		s.Recon.QuarantinePool(ctx, t.pool.PoolID.String(),
			"ledger issued "+result.SharesIssued.String()+" shares, index expected "+expected.String())
		return nil, apperr.InconsistentState("Ledger share issuance diverged from the indexed price")
	}

	var investment domain.Investment
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The rows snapshotted by resolveTarget predate the lock, so the
		// totals increment bases on a fresh read inside the transaction.
		if t.tranche != nil {
			var tranche domain.Tranche
			if err := tx.Where("tranche_id = ?", t.tranche.TrancheID).First(&tranche).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Tranche{}).Where("tranche_id = ?", tranche.TrancheID).
				Updates(map[string]interface{}{
					"total_invested": tranche.TotalInvested.Add(in.Amount),
					"total_shares":   tranche.TotalShares.Add(result.SharesIssued),
				}).Error; err != nil {
				return err
			}
		} else {
			var pool domain.Pool
			if err := tx.Where("pool_id = ?", t.pool.PoolID).First(&pool).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).
				Updates(map[string]interface{}{
					"total_invested": pool.TotalInvested.Add(in.Amount),
					"total_shares":   pool.TotalShares.Add(result.SharesIssued),
				}).Error; err != nil {
				return err
			}
		}

		err := tx.Where("target_id = ? AND investor_id = ?", t.id, in.InvestorID).
			First(&investment).Error
		if err == gorm.ErrRecordNotFound {
			investment = domain.Investment{
				PoolID:          t.pool.PoolID,
				TrancheID:       in.TrancheID,
				TargetID:        t.id,
				InvestorID:      in.InvestorID,
				WalletAddress:   in.InvestorWallet,
				AmountInvested:  in.Amount,
				SharesHeld:      result.SharesIssued,
				Active:          true,
				FirstInvestedAt: time.Now(),
				IndexState:      domain.IndexCommitted,
				ChainAddress:    result.PositionAddress,
			}
			if err := tx.Create(&investment).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			investment.AmountInvested = investment.AmountInvested.Add(in.Amount)
			investment.SharesHeld = investment.SharesHeld.Add(result.SharesIssued)
			investment.Active = true
			investment.IndexState = domain.IndexCommitted
			if err := tx.Save(&investment).Error; err != nil {
				return err
			}
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"amount":    in.Amount,
			"shares":    result.SharesIssued,
			"target_id": t.id,
			"signature": result.Signature,
		})
		return tx.Create(&domain.PoolEvent{
			PoolID:    t.pool.PoolID,
			EventType: domain.EventInvested,
			EventData: datatypes.JSON(payload),
			ActorID:   &in.InvestorID,
		}).Error
	})
	if err != nil {
		log.Error().Err(err).Str("target", t.address).Bool("inconsistent_state", true).
			Msg("Investment confirmed on ledger but index write failed")
		return nil, apperr.InconsistentState("Investment settled on the ledger but could not be indexed")
	}

	s.notifyTracker(ctx, in.InvestorWallet, t.address, investment.SharesHeld)
	return &investment, nil
}

type WithdrawInput struct {
	InvestorID     uuid.UUID
	InvestorWallet string
	PoolID         uuid.UUID
	TrancheID      *uuid.UUID
	Shares         money.Shares
}

// WithdrawResult reports a confirmed redemption to the caller.
type WithdrawResult struct {
	Investment *domain.Investment `json:"investment"`
	Redeemed   money.Amount       `json:"redeemed"`
	Signature  string             `json:"signature"`
}

// Withdraw burns shares at the current price. The cumulative invested
// figure is historical and is not reduced; only shares move. An investor
// whose balance reaches zero goes inactive.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (*WithdrawResult, error) {
	if !in.Shares.IsPositive() {
		return nil, apperr.Validation("Share amount must be positive")
	}

	t, err := s.resolveTarget(ctx, in.PoolID, in.TrancheID)
	if err != nil {
		return nil, err
	}

	lock := s.Locks.Get(t.id.String())
	lock.Lock()
	defer lock.Unlock()

	var investment domain.Investment
	if err := s.DB.WithContext(ctx).
		Where("target_id = ? AND investor_id = ?", t.id, in.InvestorID).
		First(&investment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.InsufficientShares("No position to withdraw from")
		}
		return nil, err
	}
	if in.Shares.Cmp(investment.SharesHeld) > 0 {
		return nil, apperr.Newf(apperr.KindInsufficientShares,
			"Position holds %s shares, cannot burn %s", investment.SharesHeld, in.Shares)
	}

	lctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	result, err := s.Ledger.Withdraw(lctx, t.address, in.InvestorWallet, in.Shares)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			s.Recon.PruneAsync(t.pool.PoolID.String())
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, apperr.LedgerUnavailable("Withdrawal failed on the ledger", err)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Same rule as Invest: the burn decrements a freshly read total,
		// not the pre-lock snapshot.
		if t.tranche != nil {
			var tranche domain.Tranche
			if err := tx.Where("tranche_id = ?", t.tranche.TrancheID).First(&tranche).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Tranche{}).Where("tranche_id = ?", tranche.TrancheID).
				Update("total_shares", tranche.TotalShares.Sub(in.Shares)).Error; err != nil {
				return err
			}
		} else {
			var pool domain.Pool
			if err := tx.Where("pool_id = ?", t.pool.PoolID).First(&pool).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Pool{}).Where("pool_id = ?", pool.PoolID).
				Update("total_shares", pool.TotalShares.Sub(in.Shares)).Error; err != nil {
				return err
			}
		}

		investment.SharesHeld = investment.SharesHeld.Sub(in.Shares)
		if investment.SharesHeld.IsZero() {
			investment.Active = false
		}
		if err := tx.Save(&investment).Error; err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"shares":    in.Shares,
			"redeemed":  result.Redeemed,
			"target_id": t.id,
			"signature": result.Signature,
		})
		return tx.Create(&domain.PoolEvent{
			PoolID:    t.pool.PoolID,
			EventType: domain.EventWithdrawn,
			EventData: datatypes.JSON(payload),
			ActorID:   &in.InvestorID,
		}).Error
	})
	if err != nil {
		log.Error().Err(err).Str("target", t.address).Bool("inconsistent_state", true).
			Msg("Withdrawal confirmed on ledger but index write failed")
		return nil, apperr.InconsistentState("Withdrawal settled on the ledger but could not be indexed")
	}

	s.notifyTracker(ctx, in.InvestorWallet, t.address, investment.SharesHeld)
	return &WithdrawResult{Investment: &investment, Redeemed: result.Redeemed, Signature: result.Signature}, nil
}

// ViewInvestorPositions lists the caller's positions after verifying each
// against the ledger. Stale positions self-heal out of the result.
func (s *Service) ViewInvestorPositions(ctx context.Context, investorID uuid.UUID) ([]domain.Investment, error) {
	var list []domain.Investment
	if err := s.DB.WithContext(ctx).
		Where("investor_id = ?", investorID).
		Order(`"createdAt" DESC`).
		Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Investment, 0, len(list))
	for i := range list {
		if err := s.Recon.VerifyInvestment(ctx, &list[i]); err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) || apperr.IsKind(err, apperr.KindInconsistentState) {
				continue
			}
			return nil, err
		}
		out = append(out, list[i])
	}
	return out, nil
}

func (s *Service) notifyTracker(ctx context.Context, wallet, targetAddress string, shares money.Shares) {
	if s.Tracker == nil {
		return
	}
	if err := s.Tracker.PositionChanged(ctx, wallet, targetAddress, shares); err != nil {
		log.Warn().Err(err).Str("wallet", wallet).Str("target", targetAddress).
			Msg("Ownership tracker notification failed")
	}
}
