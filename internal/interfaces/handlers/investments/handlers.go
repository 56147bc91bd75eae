package investments

import (
	investsvc "wekeza-backend/internal/application/investments"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/money"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

type Handlers struct {
	Service       *investsvc.Service
	StripeCreator StripePaymentIntentCreator
}

// StripePaymentIntentCreator abstracts Stripe PaymentIntent creation for testability.
type StripePaymentIntentCreator interface {
	Create(amountCents int64, currency string, metadata map[string]string) (*StripePaymentIntentResult, error)
}

type StripePaymentIntentResult struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// RealStripeCreator uses the Stripe Go SDK to create PaymentIntents.
type RealStripeCreator struct {
	SecretKey string
}

func (r *RealStripeCreator) Create(amountCents int64, currency string, metadata map[string]string) (*StripePaymentIntentResult, error) {
	if r.SecretKey == "" {
		return nil, fiber.NewError(501, "Stripe integration pending")
	}
	stripe.Key = r.SecretKey
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		Metadata: metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	return &StripePaymentIntentResult{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

type investRequest struct {
	PoolID    string       `json:"pool_id"`
	TrancheID *string      `json:"tranche_id"`
	Amount    money.Amount `json:"amount"`
}

func parseTarget(req *investRequest) (uuid.UUID, *uuid.UUID, error) {
	poolID, err := uuid.Parse(req.PoolID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	var trancheID *uuid.UUID
	if req.TrancheID != nil && *req.TrancheID != "" {
		tid, err := uuid.Parse(*req.TrancheID)
		if err != nil {
			return uuid.Nil, nil, err
		}
		trancheID = &tid
	}
	return poolID, trancheID, nil
}

// Invest POST /api/v1/investments/invest
func (h *Handlers) Invest(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	investorID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req investRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "pool_id and amount are required", 400, nil)
	}
	if req.PoolID == "" {
		return response.Error(c, "pool_id and amount are required", 400, nil)
	}
	poolID, trancheID, err := parseTarget(&req)
	if err != nil {
		return response.Error(c, "Invalid UUID format", 400, nil)
	}

	investment, err := h.Service.Invest(c.Context(), investsvc.InvestInput{
		InvestorID:     investorID,
		InvestorWallet: actor.Wallet,
		PoolID:         poolID,
		TrancheID:      trancheID,
		Amount:         req.Amount,
	})
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Investment settled", investment, nil)
}

type withdrawRequest struct {
	PoolID    string       `json:"pool_id"`
	TrancheID *string      `json:"tranche_id"`
	Shares    money.Shares `json:"shares"`
}

// Withdraw POST /api/v1/investments/withdraw
func (h *Handlers) Withdraw(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	investorID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "pool_id and shares are required", 400, nil)
	}
	if req.PoolID == "" {
		return response.Error(c, "pool_id and shares are required", 400, nil)
	}
	poolID, err := uuid.Parse(req.PoolID)
	if err != nil {
		return response.Error(c, "Invalid UUID format", 400, nil)
	}
	var trancheID *uuid.UUID
	if req.TrancheID != nil && *req.TrancheID != "" {
		tid, err := uuid.Parse(*req.TrancheID)
		if err != nil {
			return response.Error(c, "Invalid UUID format", 400, nil)
		}
		trancheID = &tid
	}

	result, err := h.Service.Withdraw(c.Context(), investsvc.WithdrawInput{
		InvestorID:     investorID,
		InvestorWallet: actor.Wallet,
		PoolID:         poolID,
		TrancheID:      trancheID,
		Shares:         req.Shares,
	})
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Withdrawal settled", result, nil)
}

// ViewPositions GET /api/v1/investments/view-positions
func (h *Handlers) ViewPositions(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	investorID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	list, err := h.Service.ViewInvestorPositions(c.Context(), investorID)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Positions retrieved", list, nil)
}

// InitiatePayment POST /api/v1/investments/initiate-payment — ONLY creates
// the Stripe PaymentIntent; the investment itself settles via the webhook
// once funds clear.
func (h *Handlers) InitiatePayment(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req investRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "pool_id and amount are required", 400, nil)
	}
	if req.PoolID == "" || !req.Amount.IsPositive() {
		return response.Error(c, "pool_id and a positive amount are required", 400, nil)
	}
	if _, _, err := parseTarget(&req); err != nil {
		return response.Error(c, "Invalid UUID format", 400, nil)
	}

	if h.StripeCreator == nil {
		return response.Error(c, "Stripe not configured", 500, nil)
	}

	// Amount is 6dp USDC minor units; Stripe charges in cents.
	amountCents := req.Amount.Minor().Shift(-4).IntPart()
	if amountCents <= 0 {
		return response.Error(c, "Amount is below the charging minimum", 400, nil)
	}

	metadata := map[string]string{
		"pool_id":     req.PoolID,
		"investor_id": actor.UserID,
		"amount":      req.Amount.String(),
	}
	if req.TrancheID != nil && *req.TrancheID != "" {
		metadata["tranche_id"] = *req.TrancheID
	}

	pi, err := h.StripeCreator.Create(amountCents, "usd", metadata)
	if err != nil {
		code := 500
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}
		return response.Error(c, err.Error(), code, nil)
	}

	return response.Success(c, "Payment intent created", fiber.Map{
		"payment_intent_id": pi.ID,
		"client_secret":     pi.ClientSecret,
	}, nil)
}

type actor struct {
	UserID string
	Wallet string
}

func getActor(c *fiber.Ctx) *actor {
	u := middleware.GetUser(c)
	if u == nil {
		return nil
	}
	m, ok := u.(map[string]interface{})
	if !ok {
		return nil
	}
	userID, _ := m["user_id"].(string)
	if userID == "" {
		return nil
	}
	wallet := ""
	if w, ok := m["wallet_address"]; ok && w != nil {
		if s, ok := w.(string); ok {
			wallet = s
		}
	}
	return &actor{UserID: userID, Wallet: wallet}
}
