package domain

// Index entry lifecycle. The local database is a disposable index of the
// on-chain ledger; these states track how far an entry has been confirmed.
// STALE has no constant: a stale entry is deleted, not stored.
const (
	IndexUncommitted = "UNCOMMITTED"
	IndexCommitted   = "COMMITTED"
	IndexVerified    = "VERIFIED"
	// IndexQuarantined marks an entry the ledger disagrees with in a way
	// self-healing cannot resolve. Quarantined entries are excluded from
	// reads and require operator review.
	IndexQuarantined = "QUARANTINED"
)

// Pool lifecycle statuses. A pool only leaves ACTIVE through an explicit
// close or pause operation, never implicitly from being fully funded.
const (
	PoolActive = "ACTIVE"
	PoolClosed = "CLOSED"
	PoolPaused = "PAUSED"
)

// Dividend record settlement statuses.
const (
	DividendPending = "pending"
	DividendSettled = "settled"
	DividendFailed  = "failed"
)

// Per-holder payout statuses within one dividend record.
const (
	PayoutPending = "pending"
	PayoutPaid    = "paid"
)
