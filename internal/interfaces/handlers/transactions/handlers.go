package transactions

import (
	txsvc "wekeza-backend/internal/application/transactions"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *txsvc.Service
}

// GetTransactions GET /api/v1/transactions/get-transactions?pool_id=...
func (h *Handlers) GetTransactions(c *fiber.Ctx) error {
	user := middleware.GetUser(c)
	if user == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	m, ok := user.(map[string]interface{})
	if !ok {
		return response.Error(c, "Authorization error", 500, nil)
	}
	userID, _ := m["user_id"].(string)

	data, errMsg, code := h.Service.ViewTransactions(c.Context(), userID, c.Query("pool_id"))
	if errMsg != "" {
		return response.Error(c, errMsg, code, nil)
	}
	return response.Success(c, "Transactions fetched successfully", data, nil)
}
