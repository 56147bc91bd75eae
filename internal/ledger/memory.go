package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"wekeza-backend/internal/pkg/money"
)

// Memory is an in-process ledger with the same economic rules as the pool
// program: flooring share issuance, target enforcement, per-position
// balances. It backs tests and the dev environment, and exposes hooks to
// inject failures and delete accounts so reconciliation paths can be
// exercised.
type Memory struct {
	mu          sync.Mutex
	pools       map[string]*memPool
	assets      map[string]*memAsset
	positions   map[string]*memPosition
	payouts     map[string]string
	settlements map[string]string
	failNext    map[string]error
	seq         int
}

type memPool struct {
	active         bool
	target         money.Amount
	minInvestment  money.Amount
	maxPerInvestor money.Amount
	totalInvested  money.Amount
	totalShares    money.Shares
	// value is what shares price against. It starts equal to invested
	// capital and moves with Appreciate and redemptions.
	value money.Amount
}

type memAsset struct {
	owner            string
	totalValue       money.Amount
	maxInvestableBps money.Bps
}

type memPosition struct {
	shares            money.Shares
	amountInvested    money.Amount
	dividendsReceived money.Amount
	redeemed          money.Amount
}

func NewMemory() *Memory {
	return &Memory{
		pools:       make(map[string]*memPool),
		assets:      make(map[string]*memAsset),
		positions:   make(map[string]*memPosition),
		payouts:     make(map[string]string),
		settlements: make(map[string]string),
		failNext:    make(map[string]error),
	}
}

// FailNext makes the next call of the named method return err.
func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[method] = err
}

// Delete removes an account, simulating an index entry whose on-chain
// counterpart is gone.
func (m *Memory) Delete(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, address)
	delete(m.assets, address)
	delete(m.positions, address)
}

// SeedAsset registers an asset account, standing in for the owner's own
// on-chain registration.
func (m *Memory) SeedAsset(ownerWallet string, totalValue money.Amount, maxInvestableBps money.Bps) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	address := "asset-" + uuid.NewString()
	m.assets[address] = &memAsset{
		owner:            ownerWallet,
		totalValue:       totalValue,
		maxInvestableBps: maxInvestableBps,
	}
	return address
}

// Appreciate moves a pool's backing value without changing shares, so tests
// can price shares away from the 1.0 peg.
func (m *Memory) Appreciate(address string, delta money.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[address]; ok {
		p.value = p.value.Add(delta)
	}
}

func (m *Memory) takeFailure(method string) error {
	if err, ok := m.failNext[method]; ok {
		delete(m.failNext, method)
		return err
	}
	return nil
}

func (m *Memory) signature() string {
	m.seq++
	return fmt.Sprintf("memsig-%06d", m.seq)
}

func (m *Memory) CreatePool(ctx context.Context, spec PoolSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreatePool"); err != nil {
		return "", err
	}
	address := "pool-" + uuid.NewString()
	m.pools[address] = &memPool{
		active:         true,
		target:         spec.Target,
		minInvestment:  spec.MinInvestment,
		maxPerInvestor: spec.MaxPerInvestor,
	}
	return address, nil
}

func (m *Memory) CreateTranche(ctx context.Context, poolAddress string, spec TrancheSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateTranche"); err != nil {
		return "", err
	}
	parent, ok := m.pools[poolAddress]
	if !ok {
		return "", fmt.Errorf("pool %s: %w", poolAddress, ErrNotFound)
	}
	address := "tranche-" + uuid.NewString()
	// A tranche's capacity is its allocation slice of the parent target.
	m.pools[address] = &memPool{
		active:         true,
		target:         parent.target.MulBps(spec.AllocationBps),
		minInvestment:  parent.minInvestment,
		maxPerInvestor: parent.maxPerInvestor,
	}
	return address, nil
}

func (m *Memory) SetPoolActive(ctx context.Context, address string, active bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("SetPoolActive"); err != nil {
		return "", err
	}
	p, ok := m.pools[address]
	if !ok {
		return "", fmt.Errorf("pool %s: %w", address, ErrNotFound)
	}
	p.active = active
	return m.signature(), nil
}

func (m *Memory) Invest(ctx context.Context, targetAddress, investorWallet string, amount money.Amount) (InvestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("Invest"); err != nil {
		return InvestResult{}, err
	}
	p, ok := m.pools[targetAddress]
	if !ok {
		return InvestResult{}, fmt.Errorf("pool %s: %w", targetAddress, ErrNotFound)
	}
	if !p.active {
		return InvestResult{}, fmt.Errorf("pool %s is not active", targetAddress)
	}
	if p.totalInvested.Add(amount).GreaterThan(p.target) {
		return InvestResult{}, fmt.Errorf("pool %s target exceeded", targetAddress)
	}
	issued, err := money.SharesForDeposit(amount, p.totalShares, p.value)
	if err != nil {
		return InvestResult{}, err
	}
	if issued.IsZero() {
		return InvestResult{}, fmt.Errorf("deposit too small for share issuance")
	}

	p.totalInvested = p.totalInvested.Add(amount)
	p.totalShares = p.totalShares.Add(issued)
	p.value = p.value.Add(amount)

	key := positionKey(targetAddress, investorWallet)
	pos, ok := m.positions[key]
	if !ok {
		pos = &memPosition{}
		m.positions[key] = pos
	}
	pos.shares = pos.shares.Add(issued)
	pos.amountInvested = pos.amountInvested.Add(amount)

	return InvestResult{
		PositionAddress: key,
		SharesIssued:    issued,
		Signature:       m.signature(),
	}, nil
}

func (m *Memory) Withdraw(ctx context.Context, targetAddress, investorWallet string, shares money.Shares) (WithdrawResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("Withdraw"); err != nil {
		return WithdrawResult{}, err
	}
	p, ok := m.pools[targetAddress]
	if !ok {
		return WithdrawResult{}, fmt.Errorf("pool %s: %w", targetAddress, ErrNotFound)
	}
	pos, ok := m.positions[positionKey(targetAddress, investorWallet)]
	if !ok {
		return WithdrawResult{}, fmt.Errorf("position: %w", ErrNotFound)
	}
	if shares.Cmp(pos.shares) > 0 {
		return WithdrawResult{}, fmt.Errorf("position holds %s shares, cannot burn %s", pos.shares, shares)
	}
	redeemed, err := money.AmountForShares(shares, p.totalShares, p.value)
	if err != nil {
		return WithdrawResult{}, err
	}

	p.totalShares = p.totalShares.Sub(shares)
	p.value = p.value.Sub(redeemed)
	pos.shares = pos.shares.Sub(shares)
	pos.redeemed = pos.redeemed.Add(redeemed)

	return WithdrawResult{Redeemed: redeemed, Signature: m.signature()}, nil
}

func (m *Memory) PayDividend(ctx context.Context, targetAddress, investorWallet, payoutRef string, amount money.Amount) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("PayDividend"); err != nil {
		return "", err
	}
	if _, ok := m.pools[targetAddress]; !ok {
		return "", fmt.Errorf("pool %s: %w", targetAddress, ErrNotFound)
	}
	pos, ok := m.positions[positionKey(targetAddress, investorWallet)]
	if !ok {
		return "", fmt.Errorf("position: %w", ErrNotFound)
	}
	if sig, ok := m.payouts[payoutRef]; ok {
		return sig, nil
	}
	pos.dividendsReceived = pos.dividendsReceived.Add(amount)
	sig := m.signature()
	m.payouts[payoutRef] = sig
	return sig, nil
}

func (m *Memory) SettleDistribution(ctx context.Context, targetAddress string, recordID string, amount money.Amount) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("SettleDistribution"); err != nil {
		return Receipt{}, err
	}
	if _, ok := m.pools[targetAddress]; !ok {
		return Receipt{}, fmt.Errorf("pool %s: %w", targetAddress, ErrNotFound)
	}
	if sig, ok := m.settlements[recordID]; ok {
		return Receipt{Signature: sig}, nil
	}
	sig := m.signature()
	m.settlements[recordID] = sig
	return Receipt{Signature: sig}, nil
}

func (m *Memory) GetPool(ctx context.Context, address string) (PoolView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetPool"); err != nil {
		return PoolView{}, err
	}
	p, ok := m.pools[address]
	if !ok {
		return PoolView{}, fmt.Errorf("pool %s: %w", address, ErrNotFound)
	}
	return PoolView{
		Address:        address,
		Target:         p.target,
		MinInvestment:  p.minInvestment,
		MaxPerInvestor: p.maxPerInvestor,
		TotalInvested:  p.totalInvested,
		TotalShares:    p.totalShares,
		Active:         p.active,
	}, nil
}

func (m *Memory) GetAsset(ctx context.Context, address string) (AssetView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetAsset"); err != nil {
		return AssetView{}, err
	}
	a, ok := m.assets[address]
	if !ok {
		return AssetView{}, fmt.Errorf("asset %s: %w", address, ErrNotFound)
	}
	return AssetView{
		Address:          address,
		OwnerWallet:      a.owner,
		TotalValue:       a.totalValue,
		MaxInvestableBps: a.maxInvestableBps,
	}, nil
}

func (m *Memory) GetPosition(ctx context.Context, targetAddress, investorWallet string) (PositionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetPosition"); err != nil {
		return PositionView{}, err
	}
	key := positionKey(targetAddress, investorWallet)
	pos, ok := m.positions[key]
	if !ok {
		return PositionView{}, fmt.Errorf("position: %w", ErrNotFound)
	}
	return PositionView{
		Address:           key,
		Shares:            pos.shares,
		AmountInvested:    pos.amountInvested,
		DividendsReceived: pos.dividendsReceived,
		Redeemed:          pos.redeemed,
	}, nil
}

func (m *Memory) Exists(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("Exists"); err != nil {
		return false, err
	}
	if _, ok := m.pools[address]; ok {
		return true, nil
	}
	if _, ok := m.assets[address]; ok {
		return true, nil
	}
	if _, ok := m.positions[address]; ok {
		return true, nil
	}
	return false, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeFailure("Ping")
}

func positionKey(targetAddress, investorWallet string) string {
	return strings.Join([]string{"position", targetAddress, investorWallet}, ":")
}
