// Package dividends distributes yield pro-rata to active share holders.
// A distribution is planned as one immutable record plus one payout row per
// holder; the (record, investment) unique pair makes retries idempotent, so
// a failed distribution can be re-run without double-paying anyone.
package dividends

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	emailsvc "wekeza-backend/internal/application/emails"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/pkg/apperr"
	"wekeza-backend/internal/pkg/keylock"
	"wekeza-backend/internal/pkg/money"
)

type Service struct {
	DB      *gorm.DB
	Ledger  ledger.Client
	Locks   *keylock.Registry
	Emails  emailsvc.Sender
	Timeout time.Duration
}

type DistributeInput struct {
	ActorID     uuid.UUID
	PoolID      uuid.UUID
	TrancheID   *uuid.UUID
	Amount      money.Amount
	Description string
}

// Distribute plans and executes one distribution. The plan (record plus
// per-holder payouts) is snapshotted under the target's lock; the ledger
// transfers run after the lock is released so a slow chain never blocks
// new investments. Any transfer failure leaves the record failed and
// retryable.
func (s *Service) Distribute(ctx context.Context, in DistributeInput) (*domain.DividendRecord, error) {
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("Distribution amount must be positive")
	}

	var pool domain.Pool
	if err := s.DB.WithContext(ctx).Preload("Tranches").
		Where("pool_id = ?", in.PoolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, err
	}
	if pool.Status != domain.PoolActive {
		return nil, apperr.Validation("Pool is not active")
	}

	targetID := pool.PoolID
	targetAddress := pool.ChainAddress
	if pool.Tranched() {
		// The engine never infers a tranche split from a pool-level
		// amount; the caller distributes to each tranche explicitly.
		if in.TrancheID == nil {
			return nil, apperr.Validation("Pool is tranched; distribute to each tranche_id separately")
		}
		found := false
		for i := range pool.Tranches {
			if pool.Tranches[i].TrancheID == *in.TrancheID {
				targetID = pool.Tranches[i].TrancheID
				targetAddress = pool.Tranches[i].ChainAddress
				found = true
				break
			}
		}
		if !found {
			return nil, apperr.NotFound("Tranche not found in this pool")
		}
	} else if in.TrancheID != nil {
		return nil, apperr.Validation("Pool has no tranches; omit tranche_id")
	}

	record, err := s.plan(ctx, &pool, targetID, in)
	if err != nil {
		return nil, err
	}

	if err := s.execute(ctx, record, targetAddress); err != nil {
		return record, err
	}
	return record, nil
}

// plan snapshots the holder set and writes the record plus pending payout
// rows in one transaction, under the target's lock so concurrent invests
// and withdrawals cannot shift the snapshot mid-plan.
func (s *Service) plan(ctx context.Context, pool *domain.Pool, targetID uuid.UUID, in DistributeInput) (*domain.DividendRecord, error) {
	lock := s.Locks.Get(targetID.String())
	lock.Lock()
	defer lock.Unlock()

	var holders []domain.Investment
	if err := s.DB.WithContext(ctx).
		Where("target_id = ? AND active = ?", targetID, true).
		Find(&holders).Error; err != nil {
		return nil, err
	}

	var totalShares money.Shares
	for _, h := range holders {
		totalShares = totalShares.Add(h.SharesHeld)
	}
	if len(holders) == 0 || !totalShares.IsPositive() {
		return nil, apperr.NoActiveHolders("Target has no active share holders")
	}

	rate, err := money.PerShareRate(in.Amount, totalShares)
	if err != nil {
		return nil, apperr.NoActiveHolders("Target has no active share holders")
	}

	record := &domain.DividendRecord{
		PoolID:      pool.PoolID,
		TrancheID:   in.TrancheID,
		TargetID:    targetID,
		TotalAmount: in.Amount,
		TotalShares: totalShares,
		PerShare:    rate,
		Description: in.Description,
		Status:      domain.DividendPending,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		for _, h := range holders {
			slice, err := money.ProRata(in.Amount, h.SharesHeld, totalShares)
			if err != nil {
				return err
			}
			payout := domain.DividendPayout{
				RecordID:     record.RecordID,
				InvestmentID: h.InvestmentID,
				Amount:       slice,
				Status:       domain.PayoutPending,
			}
			if err := tx.Create(&payout).Error; err != nil {
				return err
			}
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"record_id": record.RecordID,
			"amount":    in.Amount,
			"holders":   len(holders),
			"per_share": rate.String(),
		})
		return tx.Create(&domain.PoolEvent{
			PoolID:    pool.PoolID,
			EventType: domain.EventDividendDistributed,
			EventData: datatypes.JSON(payload),
			ActorID:   &in.ActorID,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// execute pays every still-pending payout of a record, then settles the
// record on the ledger. Re-running it skips rows already paid, which is
// what makes retry idempotent per holder.
func (s *Service) execute(ctx context.Context, record *domain.DividendRecord, targetAddress string) error {
	var pending []domain.DividendPayout
	if err := s.DB.WithContext(ctx).
		Where("record_id = ? AND status = ?", record.RecordID, domain.PayoutPending).
		Find(&pending).Error; err != nil {
		return err
	}

	for _, payout := range pending {
		var inv domain.Investment
		if err := s.DB.WithContext(ctx).
			Where("investment_id = ?", payout.InvestmentID).First(&inv).Error; err != nil {
			s.markFailed(ctx, record)
			return apperr.InconsistentState("Payout references an investment the index no longer holds")
		}

		// The ref makes the transfer idempotent on the ledger: if a prior
		// run paid this row but lost the index write, the replay returns
		// the original signature instead of paying again.
		ref := payout.RecordID.String() + ":" + payout.InvestmentID.String()
		lctx, cancel := context.WithTimeout(ctx, s.Timeout)
		sig, err := s.Ledger.PayDividend(lctx, targetAddress, inv.WalletAddress, ref, payout.Amount)
		cancel()
		if err != nil {
			s.markFailed(ctx, record)
			if errors.Is(err, ledger.ErrNotFound) {
				return apperr.NotFound("Distribution target not found on the ledger")
			}
			return apperr.LedgerUnavailable("Dividend transfer failed; record retained for retry", err)
		}

		now := time.Now()
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&domain.DividendPayout{}).
				Where("payout_id = ? AND status = ?", payout.PayoutID, domain.PayoutPending).
				Updates(map[string]interface{}{
					"status":       domain.PayoutPaid,
					"transfer_ref": sig,
					"paid_at":      now,
				}).Error; err != nil {
				return err
			}
			return tx.Model(&domain.Investment{}).
				Where("investment_id = ?", inv.InvestmentID).
				Update("dividends_received", inv.DividendsReceived.Add(payout.Amount)).Error
		})
		if err != nil {
			log.Error().Err(err).Str("record_id", record.RecordID.String()).
				Bool("inconsistent_state", true).
				Msg("Dividend paid on ledger but index write failed")
			s.markFailed(ctx, record)
			return apperr.InconsistentState("Dividend paid on the ledger but could not be indexed")
		}
	}

	lctx, cancel := context.WithTimeout(ctx, s.Timeout)
	receipt, err := s.Ledger.SettleDistribution(lctx, targetAddress, record.RecordID.String(), record.TotalAmount)
	cancel()
	if err != nil {
		s.markFailed(ctx, record)
		return apperr.LedgerUnavailable("Distribution settlement failed; record retained for retry", err)
	}

	if err := s.DB.WithContext(ctx).Model(&domain.DividendRecord{}).
		Where("record_id = ?", record.RecordID).
		Updates(map[string]interface{}{
			"status":         domain.DividendSettled,
			"settlement_ref": receipt.Signature,
		}).Error; err != nil {
		return err
	}
	record.Status = domain.DividendSettled
	record.SettlementRef = &receipt.Signature

	s.notifyHolders(ctx, record)
	return nil
}

func (s *Service) markFailed(ctx context.Context, record *domain.DividendRecord) {
	if err := s.DB.WithContext(ctx).Model(&domain.DividendRecord{}).
		Where("record_id = ?", record.RecordID).
		Update("status", domain.DividendFailed).Error; err != nil {
		log.Error().Err(err).Str("record_id", record.RecordID.String()).
			Msg("Could not mark dividend record failed")
		return
	}
	record.Status = domain.DividendFailed
}

// Retry re-runs the unpaid payouts of a failed record. Holders already
// paid keep their single payout; only pending rows reach the ledger.
func (s *Service) Retry(ctx context.Context, actorID, recordID uuid.UUID) (*domain.DividendRecord, error) {
	var record domain.DividendRecord
	if err := s.DB.WithContext(ctx).Where("record_id = ?", recordID).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Dividend record not found")
		}
		return nil, err
	}
	if record.Status == domain.DividendSettled {
		return &record, nil
	}

	var pool domain.Pool
	if err := s.DB.WithContext(ctx).Where("pool_id = ?", record.PoolID).First(&pool).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Pool not found")
		}
		return nil, err
	}
	targetAddress := pool.ChainAddress
	if record.TrancheID != nil {
		var tranche domain.Tranche
		if err := s.DB.WithContext(ctx).Where("tranche_id = ?", *record.TrancheID).First(&tranche).Error; err != nil {
			return nil, apperr.NotFound("Tranche not found")
		}
		targetAddress = tranche.ChainAddress
	}

	payload, _ := json.Marshal(map[string]interface{}{"record_id": recordID})
	s.DB.WithContext(ctx).Create(&domain.PoolEvent{
		PoolID:    record.PoolID,
		EventType: domain.EventDividendRetried,
		EventData: datatypes.JSON(payload),
		ActorID:   &actorID,
	})

	if err := s.execute(ctx, &record, targetAddress); err != nil {
		return &record, err
	}
	return &record, nil
}

// ListForPool returns the distribution history of a pool, payouts included.
func (s *Service) ListForPool(ctx context.Context, poolID uuid.UUID) ([]domain.DividendRecord, error) {
	var records []domain.DividendRecord
	if err := s.DB.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order(`"createdAt" DESC`).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// notifyHolders emails each paid holder, best effort. Email absence or
// failure never affects the distribution.
func (s *Service) notifyHolders(ctx context.Context, record *domain.DividendRecord) {
	if s.Emails == nil {
		return
	}
	var payouts []domain.DividendPayout
	if err := s.DB.WithContext(ctx).
		Where("record_id = ? AND status = ?", record.RecordID, domain.PayoutPaid).
		Find(&payouts).Error; err != nil {
		return
	}
	var pool domain.Pool
	if err := s.DB.WithContext(ctx).Where("pool_id = ?", record.PoolID).First(&pool).Error; err != nil {
		return
	}
	for _, p := range payouts {
		var inv domain.Investment
		if err := s.DB.WithContext(ctx).Where("investment_id = ?", p.InvestmentID).First(&inv).Error; err != nil {
			continue
		}
		var user domain.User
		if err := s.DB.WithContext(ctx).Where("user_id = ?", inv.InvestorID).First(&user).Error; err != nil {
			continue
		}
		if err := s.Emails.SendDistributionSettled(ctx, user.Email, user.Fullname, p.Amount.String(), pool.Name); err != nil {
			log.Warn().Err(err).Str("email", user.Email).Msg("Distribution notification email failed")
		}
	}
}
