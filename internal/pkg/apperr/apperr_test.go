package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_Kinded(t *testing.T) {
	err := LimitExceeded("Asset tokenization limit exceeded")
	assert.Equal(t, KindLimitExceeded, KindOf(err))
	assert.Equal(t, "Asset tokenization limit exceeded", Message(err))
}

func TestKindOf_WrappedInChain(t *testing.T) {
	inner := NotFound("Pool not found")
	outer := fmt.Errorf("loading pool: %w", inner)
	assert.Equal(t, KindNotFound, KindOf(outer))
	assert.Equal(t, "Pool not found", Message(outer))
}

func TestKindOf_Unkinded(t *testing.T) {
	err := errors.New("pq: connection refused")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "Internal Server Error", Message(err))
}

func TestWrap_CauseReachable(t *testing.T) {
	cause := errors.New("rpc timeout")
	err := LedgerUnavailable("Ledger unavailable", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindLedgerUnavailable, KindOf(err))
	assert.Equal(t, "Ledger unavailable", Message(err))
	assert.Contains(t, err.Error(), "rpc timeout")
}

func TestIs_MatchesByKind(t *testing.T) {
	a := Validation("Amount must be positive")
	b := Validation("Missing pool_id")
	assert.True(t, errors.Is(a, b))

	c := NotFound("Pool not found")
	assert.False(t, errors.Is(a, c))
}

func TestStatus(t *testing.T) {
	require.Equal(t, 400, Status(Validation("x")))
	require.Equal(t, 400, Status(AmountTooSmall("x")))
	require.Equal(t, 400, Status(InsufficientShares("x")))
	require.Equal(t, 404, Status(NotFound("x")))
	require.Equal(t, 401, Status(Unauthorized("x")))
	require.Equal(t, 422, Status(LimitExceeded("x")))
	require.Equal(t, 409, Status(NoActiveHolders("x")))
	require.Equal(t, 409, Status(InconsistentState("x")))
	require.Equal(t, 503, Status(LedgerUnavailable("x", nil)))
	require.Equal(t, 500, Status(errors.New("boom")))
}
