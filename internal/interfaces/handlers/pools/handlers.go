package pools

import (
	assetsvc "wekeza-backend/internal/application/assets"
	poolsvc "wekeza-backend/internal/application/pools"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/money"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *poolsvc.Service
}

type createPoolRequest struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	TargetAmount   money.Amount           `json:"target_amount"`
	MinInvestment  money.Amount           `json:"min_investment"`
	MaxPerInvestor money.Amount           `json:"max_per_investor"`
	YieldRateBps   money.Bps              `json:"yield_rate_bps"`
	Assets         []assetsvc.Contribution `json:"assets"`
	Tranches       []domain.TrancheSpec   `json:"tranches"`
}

// CreatePool POST /api/v1/pools/create-pool
func (h *Handlers) CreatePool(c *fiber.Ctx) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	creatorID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	if actor.Wallet == "" {
		return response.Error(c, "Account has no wallet address", 400, nil)
	}

	var req createPoolRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Invalid request body", 400, nil)
	}

	pool, err := h.Service.CreatePool(c.Context(), poolsvc.CreatePoolInput{
		CreatorID:      creatorID,
		CreatorWallet:  actor.Wallet,
		Name:           req.Name,
		Description:    req.Description,
		TargetAmount:   req.TargetAmount,
		MinInvestment:  req.MinInvestment,
		MaxPerInvestor: req.MaxPerInvestor,
		YieldRateBps:   req.YieldRateBps,
		Assets:         req.Assets,
		Tranches:       req.Tranches,
	})
	if err != nil {
		return response.Failure(c, err)
	}
	return response.SuccessCreated(c, "Pool created", pool, nil)
}

// ViewPool GET /api/v1/pools/view-pool/:id
func (h *Handlers) ViewPool(c *fiber.Ctx) error {
	poolID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid pool id", 400, nil)
	}
	pool, err := h.Service.GetPool(c.Context(), poolID)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Pool retrieved", pool, nil)
}

// ListActive GET /api/v1/pools/list-active
func (h *Handlers) ListActive(c *fiber.Ctx) error {
	pools, err := h.Service.ListActivePools(c.Context())
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Active pools retrieved", pools, nil)
}

// PoolStats GET /api/v1/pools/pool-stats/:id
func (h *Handlers) PoolStats(c *fiber.Ctx) error {
	poolID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid pool id", 400, nil)
	}
	stats, err := h.Service.GetPoolStats(c.Context(), poolID)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Pool stats retrieved", stats, nil)
}

type statusRequest struct {
	PoolID string `json:"pool_id"`
}

func (h *Handlers) setStatus(c *fiber.Ctx, status, message string) error {
	actor := getActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	actorID, err := uuid.Parse(actor.UserID)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "pool_id is required", 400, nil)
	}
	poolID, err := uuid.Parse(req.PoolID)
	if err != nil {
		return response.Error(c, "Invalid pool_id", 400, nil)
	}
	pool, err := h.Service.SetStatus(c.Context(), actorID, poolID, status)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, message, pool, nil)
}

// ClosePool POST /api/v1/pools/close-pool
func (h *Handlers) ClosePool(c *fiber.Ctx) error {
	return h.setStatus(c, domain.PoolClosed, "Pool closed")
}

// PausePool POST /api/v1/pools/pause-pool
func (h *Handlers) PausePool(c *fiber.Ctx) error {
	return h.setStatus(c, domain.PoolPaused, "Pool paused")
}

// ResumePool POST /api/v1/pools/resume-pool
func (h *Handlers) ResumePool(c *fiber.Ctx) error {
	return h.setStatus(c, domain.PoolActive, "Pool resumed")
}

type actor struct {
	UserID string
	Role   string
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
	role, _ := m["role"].(string)
	wallet := ""
	if w, ok := m["wallet_address"]; ok && w != nil {
		if s, ok := w.(string); ok {
			wallet = s
		}
	}
	return &actor{UserID: userID, Role: role, Wallet: wallet}
}
