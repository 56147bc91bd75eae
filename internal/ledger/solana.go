package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"wekeza-backend/internal/pkg/money"
)

// Instruction tags of the pool program.
const (
	ixCreatePool uint8 = iota
	ixCreateTranche
	ixSetActive
	ixInvest
	ixWithdraw
	ixPayDividend
	ixSettleDistribution
)

// Account tags, first byte of every program account.
const (
	tagPool uint8 = iota + 1
	tagTranche
	tagAsset
	tagPosition
)

// Solana talks to the pool program over JSON-RPC. Every write is submitted
// by the service's fee payer and waited on to finalized commitment; an
// expired context leaves the outcome unknown, which callers must treat as
// neither success nor failure.
type Solana struct {
	rpc       *rpc.Client
	programID solana.PublicKey
	feePayer  solana.PrivateKey
	timeout   time.Duration
}

func NewSolana(rpcURL, programID, feePayerKey string, timeout time.Duration) (*Solana, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, fmt.Errorf("pool program id: %w", err)
	}
	feePayer, err := solana.PrivateKeyFromBase58(feePayerKey)
	if err != nil {
		return nil, fmt.Errorf("fee payer key: %w", err)
	}
	return &Solana{
		rpc:       rpc.New(rpcURL),
		programID: program,
		feePayer:  feePayer,
		timeout:   timeout,
	}, nil
}

// On-chain layouts, borsh encoded. Pool and tranche share ledgers use the
// same state shape; the tag tells them apart.
type poolState struct {
	Tag            uint8
	Active         bool
	Target         uint64
	MinInvestment  uint64
	MaxPerInvestor uint64
	TotalInvested  uint64
	TotalShares    bin.Uint128
}

type assetState struct {
	Tag              uint8
	Owner            solana.PublicKey
	TotalValue       uint64
	MaxInvestableBps uint16
}

type positionState struct {
	Tag               uint8
	Active            bool
	Shares            bin.Uint128
	AmountInvested    uint64
	DividendsReceived uint64
	Redeemed          uint64
}

func (c *Solana) CreatePool(ctx context.Context, spec PoolSpec) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	seed := uuid.New()
	pool, _, err := solana.FindProgramAddress([][]byte{[]byte("pool"), seed[:]}, c.programID)
	if err != nil {
		return "", fmt.Errorf("derive pool address: %w", err)
	}

	target, err := amountToU64(spec.Target)
	if err != nil {
		return "", err
	}
	minInv, err := amountToU64(spec.MinInvestment)
	if err != nil {
		return "", err
	}
	maxInv, err := amountToU64(spec.MaxPerInvestor)
	if err != nil {
		return "", err
	}

	data, err := encodeArgs(struct {
		Tag            uint8
		Seed           [16]byte
		Target         uint64
		MinInvestment  uint64
		MaxPerInvestor uint64
	}{ixCreatePool, seed, target, minInv, maxInv})
	if err != nil {
		return "", err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(pool).WRITE(),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return "", fmt.Errorf("create pool: %w", err)
	}
	log.Info().Str("pool", pool.String()).Str("signature", sig.String()).Msg("Pool created on ledger")
	return pool.String(), nil
}

func (c *Solana) CreateTranche(ctx context.Context, poolAddress string, spec TrancheSpec) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pool, err := parseKey(poolAddress)
	if err != nil {
		return "", err
	}
	seed := uuid.New()
	tranche, _, err := solana.FindProgramAddress([][]byte{[]byte("tranche"), pool.Bytes(), seed[:]}, c.programID)
	if err != nil {
		return "", fmt.Errorf("derive tranche address: %w", err)
	}

	data, err := encodeArgs(struct {
		Tag           uint8
		Seed          [16]byte
		Rank          uint8
		AllocationBps uint16
		TargetAPYBps  uint16
	}{ixCreateTranche, seed, uint8(spec.Rank), uint16(spec.AllocationBps), uint16(spec.TargetAPYBps)})
	if err != nil {
		return "", err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(pool).WRITE(),
		solana.Meta(tranche).WRITE(),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return "", fmt.Errorf("create tranche: %w", err)
	}
	log.Info().Str("tranche", tranche.String()).Str("signature", sig.String()).Msg("Tranche created on ledger")
	return tranche.String(), nil
}

func (c *Solana) SetPoolActive(ctx context.Context, address string, active bool) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	pool, err := parseKey(address)
	if err != nil {
		return "", err
	}
	data, err := encodeArgs(struct {
		Tag    uint8
		Active bool
	}{ixSetActive, active})
	if err != nil {
		return "", err
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(pool).WRITE(),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return "", fmt.Errorf("set pool active: %w", err)
	}
	return sig.String(), nil
}

func (c *Solana) Invest(ctx context.Context, targetAddress, investorWallet string, amount money.Amount) (InvestResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := parseKey(targetAddress)
	if err != nil {
		return InvestResult{}, err
	}
	investor, err := parseKey(investorWallet)
	if err != nil {
		return InvestResult{}, err
	}
	position, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), target.Bytes(), investor.Bytes()}, c.programID)
	if err != nil {
		return InvestResult{}, fmt.Errorf("derive position address: %w", err)
	}

	before, err := c.readPosition(ctx, position)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return InvestResult{}, err
	}

	units, err := amountToU64(amount)
	if err != nil {
		return InvestResult{}, err
	}
	data, err := encodeArgs(struct {
		Tag    uint8
		Amount uint64
	}{ixInvest, units})
	if err != nil {
		return InvestResult{}, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(target).WRITE(),
		solana.Meta(position).WRITE(),
		solana.Meta(investor),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return InvestResult{}, fmt.Errorf("invest: %w", err)
	}

	after, err := c.readPosition(ctx, position)
	if err != nil {
		return InvestResult{}, fmt.Errorf("read position after invest: %w", err)
	}
	issued, err := money.SharesFromUnits(after.Shares.Minor().Sub(before.Shares.Minor()))
	if err != nil {
		return InvestResult{}, err
	}
	return InvestResult{
		PositionAddress: position.String(),
		SharesIssued:    issued,
		Signature:       sig.String(),
	}, nil
}

func (c *Solana) Withdraw(ctx context.Context, targetAddress, investorWallet string, shares money.Shares) (WithdrawResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := parseKey(targetAddress)
	if err != nil {
		return WithdrawResult{}, err
	}
	investor, err := parseKey(investorWallet)
	if err != nil {
		return WithdrawResult{}, err
	}
	position, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), target.Bytes(), investor.Bytes()}, c.programID)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("derive position address: %w", err)
	}

	before, err := c.readPosition(ctx, position)
	if err != nil {
		return WithdrawResult{}, err
	}

	burn, err := sharesToU128(shares)
	if err != nil {
		return WithdrawResult{}, err
	}
	data, err := encodeArgs(struct {
		Tag    uint8
		Shares bin.Uint128
	}{ixWithdraw, burn})
	if err != nil {
		return WithdrawResult{}, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(target).WRITE(),
		solana.Meta(position).WRITE(),
		solana.Meta(investor),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}

	after, err := c.readPosition(ctx, position)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("read position after withdraw: %w", err)
	}
	redeemed, err := money.AmountFromUnits(after.Redeemed.Minor().Sub(before.Redeemed.Minor()))
	if err != nil {
		return WithdrawResult{}, err
	}
	return WithdrawResult{Redeemed: redeemed, Signature: sig.String()}, nil
}

func (c *Solana) PayDividend(ctx context.Context, targetAddress, investorWallet, payoutRef string, amount money.Amount) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := parseKey(targetAddress)
	if err != nil {
		return "", err
	}
	investor, err := parseKey(investorWallet)
	if err != nil {
		return "", err
	}
	position, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), target.Bytes(), investor.Bytes()}, c.programID)
	if err != nil {
		return "", fmt.Errorf("derive position address: %w", err)
	}

	units, err := amountToU64(amount)
	if err != nil {
		return "", err
	}
	// The program records the payout ref on the position and treats a
	// replayed ref as a no-op, so a retried transfer cannot pay twice.
	data, err := encodeArgs(struct {
		Tag    uint8
		Ref    [32]byte
		Amount uint64
	}{ixPayDividend, sha256.Sum256([]byte(payoutRef)), units})
	if err != nil {
		return "", err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(target).WRITE(),
		solana.Meta(position).WRITE(),
		solana.Meta(investor),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return "", fmt.Errorf("pay dividend: %w", err)
	}
	return sig.String(), nil
}

func (c *Solana) SettleDistribution(ctx context.Context, targetAddress string, recordID string, amount money.Amount) (Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := parseKey(targetAddress)
	if err != nil {
		return Receipt{}, err
	}
	record, err := uuid.Parse(recordID)
	if err != nil {
		return Receipt{}, fmt.Errorf("record id: %w", err)
	}
	units, err := amountToU64(amount)
	if err != nil {
		return Receipt{}, err
	}
	data, err := encodeArgs(struct {
		Tag    uint8
		Record [16]byte
		Amount uint64
	}{ixSettleDistribution, record, units})
	if err != nil {
		return Receipt{}, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(target).WRITE(),
		solana.Meta(c.feePayer.PublicKey()).SIGNER().WRITE(),
	}
	sig, err := c.sendAndConfirm(ctx, accounts, data)
	if err != nil {
		return Receipt{}, fmt.Errorf("settle distribution: %w", err)
	}
	return Receipt{Signature: sig.String()}, nil
}

func (c *Solana) GetPool(ctx context.Context, address string) (PoolView, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key, err := parseKey(address)
	if err != nil {
		return PoolView{}, err
	}
	raw, err := c.readAccount(ctx, key)
	if err != nil {
		return PoolView{}, err
	}
	var st poolState
	if err := bin.NewBorshDecoder(raw).Decode(&st); err != nil {
		return PoolView{}, fmt.Errorf("decode pool account %s: %w", address, err)
	}
	if st.Tag != tagPool && st.Tag != tagTranche {
		return PoolView{}, fmt.Errorf("account %s is not a pool", address)
	}
	shares, err := money.SharesFromUnits(decimal.NewFromBigInt(st.TotalShares.BigInt(), 0))
	if err != nil {
		return PoolView{}, err
	}
	return PoolView{
		Address:        address,
		Target:         money.AmountFromMinor(int64(st.Target)),
		MinInvestment:  money.AmountFromMinor(int64(st.MinInvestment)),
		MaxPerInvestor: money.AmountFromMinor(int64(st.MaxPerInvestor)),
		TotalInvested:  money.AmountFromMinor(int64(st.TotalInvested)),
		TotalShares:    shares,
		Active:         st.Active,
	}, nil
}

func (c *Solana) GetAsset(ctx context.Context, address string) (AssetView, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key, err := parseKey(address)
	if err != nil {
		return AssetView{}, err
	}
	raw, err := c.readAccount(ctx, key)
	if err != nil {
		return AssetView{}, err
	}
	var st assetState
	if err := bin.NewBorshDecoder(raw).Decode(&st); err != nil {
		return AssetView{}, fmt.Errorf("decode asset account %s: %w", address, err)
	}
	if st.Tag != tagAsset {
		return AssetView{}, fmt.Errorf("account %s is not an asset", address)
	}
	return AssetView{
		Address:          address,
		OwnerWallet:      st.Owner.String(),
		TotalValue:       money.AmountFromMinor(int64(st.TotalValue)),
		MaxInvestableBps: money.Bps(st.MaxInvestableBps),
	}, nil
}

func (c *Solana) GetPosition(ctx context.Context, targetAddress, investorWallet string) (PositionView, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	target, err := parseKey(targetAddress)
	if err != nil {
		return PositionView{}, err
	}
	investor, err := parseKey(investorWallet)
	if err != nil {
		return PositionView{}, err
	}
	position, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("position"), target.Bytes(), investor.Bytes()}, c.programID)
	if err != nil {
		return PositionView{}, fmt.Errorf("derive position address: %w", err)
	}
	return c.readPosition(ctx, position)
}

func (c *Solana) Exists(ctx context.Context, address string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key, err := parseKey(address)
	if err != nil {
		return false, err
	}
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("existence check for %s: %w", address, err)
	}
	if out == nil || out.Value == nil || len(out.Value.Data.GetBinary()) == 0 {
		return false, nil
	}
	return true, nil
}

func (c *Solana) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	health, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("ledger health: %w", err)
	}
	if health != rpc.HealthOk {
		return fmt.Errorf("ledger health: %s", health)
	}
	return nil
}

func (c *Solana) readPosition(ctx context.Context, position solana.PublicKey) (PositionView, error) {
	raw, err := c.readAccount(ctx, position)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PositionView{Address: position.String()}, err
		}
		return PositionView{}, err
	}
	var st positionState
	if err := bin.NewBorshDecoder(raw).Decode(&st); err != nil {
		return PositionView{}, fmt.Errorf("decode position account %s: %w", position, err)
	}
	if st.Tag != tagPosition {
		return PositionView{}, fmt.Errorf("account %s is not a position", position)
	}
	shares, err := money.SharesFromUnits(decimal.NewFromBigInt(st.Shares.BigInt(), 0))
	if err != nil {
		return PositionView{}, err
	}
	return PositionView{
		Address:           position.String(),
		Shares:            shares,
		AmountInvested:    money.AmountFromMinor(int64(st.AmountInvested)),
		DividendsReceived: money.AmountFromMinor(int64(st.DividendsReceived)),
		Redeemed:          money.AmountFromMinor(int64(st.Redeemed)),
	}, nil
}

// readAccount fetches finalized account data, mapping an absent account to
// ErrNotFound.
func (c *Solana) readAccount(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read account %s: %w", key, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("account %s: %w", key, ErrNotFound)
	}
	raw := out.Value.Data.GetBinary()
	if len(raw) == 0 {
		return nil, fmt.Errorf("account %s: %w", key, ErrNotFound)
	}
	return raw, nil
}

// sendAndConfirm builds, signs and submits one instruction against the pool
// program, then waits for finalized commitment.
func (c *Solana) sendAndConfirm(ctx context.Context, accounts solana.AccountMetaSlice, data []byte) (solana.Signature, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}

	ix := solana.NewInstruction(c.programID, accounts, data)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.feePayer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.feePayer.PublicKey()) {
			return &c.feePayer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	if err := c.confirm(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// confirm polls signature status until finalized. A context deadline here
// means the transaction may still land; the caller must surface an unknown
// outcome, not a failure.
func (c *Solana) confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation of %s: %w", sig, ctx.Err())
		case <-ticker.C:
			out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				log.Debug().Err(err).Str("signature", sig.String()).Msg("Signature status poll failed")
				continue
			}
			if len(out.Value) == 0 || out.Value[0] == nil {
				continue
			}
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction %s rejected by ledger: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

func (c *Solana) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func parseKey(s string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("address %q: %w", s, err)
	}
	return key, nil
}

func encodeArgs(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode instruction: %w", err)
	}
	return buf.Bytes(), nil
}

func amountToU64(a money.Amount) (uint64, error) {
	v := a.Minor().BigInt()
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("amount %s out of ledger range", a)
	}
	return v.Uint64(), nil
}

func sharesToU128(s money.Shares) (bin.Uint128, error) {
	v := s.Minor().BigInt()
	if v.Sign() < 0 || v.BitLen() > 128 {
		return bin.Uint128{}, fmt.Errorf("share quantity %s out of ledger range", s)
	}
	var buf [16]byte
	v.FillBytes(buf[:])
	return bin.Uint128{
		Hi: binary.BigEndian.Uint64(buf[0:8]),
		Lo: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}
