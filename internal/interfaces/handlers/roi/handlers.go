package roi

import (
	roisvc "wekeza-backend/internal/application/roi"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *roisvc.Service
}

// Projected GET /api/v1/roi/projected?pool_id=...&tranche_id=...
func (h *Handlers) Projected(c *fiber.Ctx) error {
	u := middleware.GetUser(c)
	m, ok := u.(map[string]interface{})
	if !ok {
		return response.Unauthorized(c, "Unauthorized")
	}
	raw, _ := m["user_id"].(string)
	investorID, err := uuid.Parse(raw)
	if err != nil {
		return response.Unauthorized(c, "Unauthorized")
	}

	poolID, err := uuid.Parse(c.Query("pool_id"))
	if err != nil {
		return response.Error(c, "pool_id is required", 400, nil)
	}
	var trancheID *uuid.UUID
	if q := c.Query("tranche_id"); q != "" {
		tid, err := uuid.Parse(q)
		if err != nil {
			return response.Error(c, "Invalid tranche_id", 400, nil)
		}
		trancheID = &tid
	}

	projection, err := h.Service.Project(c.Context(), investorID, poolID, trancheID)
	if err != nil {
		return response.Failure(c, err)
	}
	return response.Success(c, "Projection computed", projection, nil)
}
