// Package ledger defines the client contract for the authoritative on-chain
// ledger and its implementations. The chain is the system of record for
// pools, positions and distributions; the database is only an index derived
// from it. All quantities cross this boundary as minor-unit integers.
package ledger

import (
	"context"
	"errors"

	"wekeza-backend/internal/pkg/money"
)

// ErrNotFound reports that the addressed account does not exist on the
// ledger. Callers treat it as a self-heal trigger, never as a transport
// failure. Any other error from a Client is a transport or execution
// failure whose outcome may be unknown.
var ErrNotFound = errors.New("ledger: account not found")

// PoolSpec describes a pool to create on the ledger.
type PoolSpec struct {
	Name           string
	CreatorWallet  string
	Target         money.Amount
	MinInvestment  money.Amount
	MaxPerInvestor money.Amount
}

// TrancheSpec describes one tranche of a pool. Allocation crosses the
// boundary in basis points.
type TrancheSpec struct {
	Name          string
	Rank          int
	AllocationBps money.Bps
	TargetAPYBps  money.Bps
}

// PoolView is the on-chain state of a pool or tranche share ledger.
type PoolView struct {
	Address        string
	Target         money.Amount
	MinInvestment  money.Amount
	MaxPerInvestor money.Amount
	TotalInvested  money.Amount
	TotalShares    money.Shares
	Active         bool
}

// AssetView is the on-chain state of a registered asset. Limits cross the
// boundary in basis points.
type AssetView struct {
	Address          string
	OwnerWallet      string
	TotalValue       money.Amount
	MaxInvestableBps money.Bps
}

// PositionView is the on-chain state of one investor's position.
type PositionView struct {
	Address           string
	Shares            money.Shares
	AmountInvested    money.Amount
	DividendsReceived money.Amount
	Redeemed          money.Amount
}

// InvestResult reports a confirmed investment.
type InvestResult struct {
	PositionAddress string
	SharesIssued    money.Shares
	Signature       string
}

// WithdrawResult reports a confirmed redemption.
type WithdrawResult struct {
	Redeemed  money.Amount
	Signature string
}

// Receipt identifies a confirmed settlement on the ledger.
type Receipt struct {
	Signature string
}

// Client is the authoritative ledger. Writes block until the ledger
// confirms or the context expires; an expired context means the outcome is
// unknown and the caller must not assume either success or failure.
type Client interface {
	CreatePool(ctx context.Context, spec PoolSpec) (string, error)
	CreateTranche(ctx context.Context, poolAddress string, spec TrancheSpec) (string, error)
	SetPoolActive(ctx context.Context, address string, active bool) (string, error)

	Invest(ctx context.Context, targetAddress, investorWallet string, amount money.Amount) (InvestResult, error)
	Withdraw(ctx context.Context, targetAddress, investorWallet string, shares money.Shares) (WithdrawResult, error)

	// PayDividend transfers one holder's slice of a distribution. The
	// payoutRef names the (record, holder) pair; replaying a ref returns
	// the original signature without moving money again.
	PayDividend(ctx context.Context, targetAddress, investorWallet, payoutRef string, amount money.Amount) (string, error)
	// SettleDistribution finalizes a distribution after every holder has
	// been paid and returns the settlement reference for the record.
	SettleDistribution(ctx context.Context, targetAddress string, recordID string, amount money.Amount) (Receipt, error)

	GetPool(ctx context.Context, address string) (PoolView, error)
	GetAsset(ctx context.Context, address string) (AssetView, error)
	GetPosition(ctx context.Context, targetAddress, investorWallet string) (PositionView, error)

	// Exists is the cheap existence check reconciliation runs on reads:
	// true only for a live, non-empty account.
	Exists(ctx context.Context, address string) (bool, error)

	Ping(ctx context.Context) error
}
