package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wekeza-backend/internal/pkg/money"
)

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func mustShares(t *testing.T, s string) money.Shares {
	t.Helper()
	q, err := money.ParseShares(s)
	require.NoError(t, err)
	return q
}

func newTestPool(t *testing.T, m *Memory, target string) string {
	t.Helper()
	address, err := m.CreatePool(context.Background(), PoolSpec{
		Name:           "Nairobi Invoice Pool",
		CreatorWallet:  "creator",
		Target:         mustAmount(t, target),
		MinInvestment:  mustAmount(t, "10"),
		MaxPerInvestor: mustAmount(t, "500000"),
	})
	require.NoError(t, err)
	return address
}

func TestInvest_FirstInvestorPegsOneToOne(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "1000")

	res, err := m.Invest(context.Background(), pool, "alice", mustAmount(t, "1000"))
	require.NoError(t, err)
	assert.Equal(t, "1000", res.SharesIssued.String())
	assert.NotEmpty(t, res.Signature)

	view, err := m.GetPool(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, "1000", view.TotalInvested.String())
	assert.Equal(t, "1000", view.TotalShares.String())
}

func TestInvest_TargetEnforced(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "1000")

	_, err := m.Invest(context.Background(), pool, "alice", mustAmount(t, "1000"))
	require.NoError(t, err)

	_, err = m.Invest(context.Background(), pool, "bob", mustAmount(t, "100"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target exceeded")
}

func TestInvest_AppreciationChangesPrice(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "10000")

	_, err := m.Invest(context.Background(), pool, "alice", mustAmount(t, "1000"))
	require.NoError(t, err)

	// Value doubles: 1000 invested now backs 2000 of value.
	m.Appreciate(pool, mustAmount(t, "1000"))

	res, err := m.Invest(context.Background(), pool, "bob", mustAmount(t, "500"))
	require.NoError(t, err)
	assert.Equal(t, "250", res.SharesIssued.String())
}

func TestInvest_InactivePoolRejected(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "1000")
	_, err := m.SetPoolActive(context.Background(), pool, false)
	require.NoError(t, err)

	_, err = m.Invest(context.Background(), pool, "alice", mustAmount(t, "100"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestWithdraw_RedeemsAtCurrentPrice(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "10000")
	ctx := context.Background()

	_, err := m.Invest(ctx, pool, "alice", mustAmount(t, "1000"))
	require.NoError(t, err)
	m.Appreciate(pool, mustAmount(t, "1000"))

	res, err := m.Withdraw(ctx, pool, "alice", mustShares(t, "500"))
	require.NoError(t, err)
	assert.Equal(t, "1000", res.Redeemed.String())

	pos, err := m.GetPosition(ctx, pool, "alice")
	require.NoError(t, err)
	assert.Equal(t, "500", pos.Shares.String())
	assert.Equal(t, "1000", pos.Redeemed.String())

	view, err := m.GetPool(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, "500", view.TotalShares.String())
	// TotalInvested is cumulative and untouched by redemption.
	assert.Equal(t, "1000", view.TotalInvested.String())
}

func TestWithdraw_OverBalanceRejected(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "10000")
	ctx := context.Background()

	_, err := m.Invest(ctx, pool, "alice", mustAmount(t, "100"))
	require.NoError(t, err)

	_, err = m.Withdraw(ctx, pool, "alice", mustShares(t, "101"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot burn")
}

func TestPayDividend_AccumulatesOnPosition(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "10000")
	ctx := context.Background()

	_, err := m.Invest(ctx, pool, "alice", mustAmount(t, "500"))
	require.NoError(t, err)

	_, err = m.PayDividend(ctx, pool, "alice", "payout-1", mustAmount(t, "50"))
	require.NoError(t, err)
	_, err = m.PayDividend(ctx, pool, "alice", "payout-2", mustAmount(t, "25"))
	require.NoError(t, err)

	pos, err := m.GetPosition(ctx, pool, "alice")
	require.NoError(t, err)
	assert.Equal(t, "75", pos.DividendsReceived.String())
}

func TestPayDividend_ReplayedRefPaysOnce(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "10000")
	ctx := context.Background()

	_, err := m.Invest(ctx, pool, "alice", mustAmount(t, "500"))
	require.NoError(t, err)

	first, err := m.PayDividend(ctx, pool, "alice", "payout-1", mustAmount(t, "50"))
	require.NoError(t, err)
	second, err := m.PayDividend(ctx, pool, "alice", "payout-1", mustAmount(t, "50"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	pos, err := m.GetPosition(ctx, pool, "alice")
	require.NoError(t, err)
	assert.Equal(t, "50", pos.DividendsReceived.String())
}

func TestSettleDistribution_IdempotentPerRecord(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "10000")
	ctx := context.Background()

	first, err := m.SettleDistribution(ctx, pool, "record-1", mustAmount(t, "80"))
	require.NoError(t, err)
	second, err := m.SettleDistribution(ctx, pool, "record-1", mustAmount(t, "80"))
	require.NoError(t, err)
	assert.Equal(t, first.Signature, second.Signature)

	other, err := m.SettleDistribution(ctx, pool, "record-2", mustAmount(t, "10"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Signature, other.Signature)
}

func TestCreateTranche_AllocationSlicesTarget(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "1000")
	ctx := context.Background()

	senior, err := m.CreateTranche(ctx, pool, TrancheSpec{Name: "Senior", Rank: 0, AllocationBps: 7000, TargetAPYBps: 800})
	require.NoError(t, err)
	view, err := m.GetPool(ctx, senior)
	require.NoError(t, err)
	assert.Equal(t, "700", view.Target.String())
}

func TestExists_And_Delete(t *testing.T) {
	m := NewMemory()
	pool := newTestPool(t, m, "1000")
	ctx := context.Background()

	ok, err := m.Exists(ctx, pool)
	require.NoError(t, err)
	assert.True(t, ok)

	m.Delete(pool)
	ok, err = m.Exists(ctx, pool)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.GetPool(ctx, pool)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailNext_InjectsOnce(t *testing.T) {
	m := NewMemory()
	boom := errors.New("rpc timeout")
	m.FailNext("Ping", boom)

	assert.ErrorIs(t, m.Ping(context.Background()), boom)
	assert.NoError(t, m.Ping(context.Background()))
}
