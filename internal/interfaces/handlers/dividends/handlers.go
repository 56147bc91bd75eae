package dividends

import (
	dividendsvc "wekeza-backend/internal/application/dividends"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/money"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *dividendsvc.Service
}

type distributeRequest struct {
	PoolID      string       `json:"pool_id"`
	TrancheID   *string      `json:"tranche_id"`
	Amount      money.Amount `json:"amount"`
	Description string       `json:"description"`
}

// Distribute POST /api/v1/dividends/distribute
func (h *Handlers) Distribute(c *fiber.Ctx) error {
	actorID, ok := getActorID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req distributeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "pool_id and amount are required", 400, nil)
	}
	if req.PoolID == "" {
		return response.Error(c, "pool_id and amount are required", 400, nil)
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

	record, err := h.Service.Distribute(c.Context(), dividendsvc.DistributeInput{
		ActorID:     actorID,
		PoolID:      poolID,
		TrancheID:   trancheID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		// The failed record, if planned, stays in the index for /retry.
		return response.Failure(c, err)
	}
	return response.Success(c, "Distribution settled", record, nil)
}

type retryRequest struct {
	RecordID string `json:"record_id"`
}

// Retry POST /api/v1/dividends/retry
func (h *Handlers) Retry(c *fiber.Ctx) error {
	actorID, ok := getActorID(c)
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	var req retryRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "record_id is required", 400, nil)
	}
	recordID, err := uuid.Parse(req.RecordID)
	if err != nil {
		return response.Error(c, "Invalid record_id", 400, nil)
	}
	record, err := h.Service.Retry(c.Context(), actorID, recordID)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Distribution settled", record, nil)
}

// List GET /api/v1/dividends/list/:poolId
func (h *Handlers) List(c *fiber.Ctx) error {
	poolID, err := uuid.Parse(c.Params("poolId"))
	if err != nil {
		return response.Error(c, "Invalid pool id", 400, nil)
	}
	records, err := h.Service.ListForPool(c.Context(), poolID)
	if err != nil {
		return response.Error(c, "Internal Server Error", 500, nil)
	}
	return response.Success(c, "Distributions retrieved", records, nil)
}

func getActorID(c *fiber.Ctx) (uuid.UUID, bool) {
	u := middleware.GetUser(c)
	m, ok := u.(map[string]interface{})
	if !ok {
		return uuid.Nil, false
	}
	raw, _ := m["user_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
