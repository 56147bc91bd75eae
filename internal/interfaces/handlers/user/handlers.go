package user

import (
	usersvc "wekeza-backend/internal/application/user"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const userSessionsPrefix = "user_sessions:"

// Handlers holds the user service and session config for create-user (session + cookie).
type Handlers struct {
	Service *usersvc.Service
	Config  middleware.SessionConfig
}

type CreateUserRequest struct {
	Fullname      string  `json:"fullname"`
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	WalletAddress *string `json:"wallet_address"`
}

// CreateUser POST /api/v1/users/create-user — public registration. Creates
// the user, rotates the session, sets the cookie and returns 201.
func (h *Handlers) CreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "Missing required fields", 400, nil)
	}
	if req.Email == "" || req.Password == "" || req.Fullname == "" {
		return response.Error(c, "Missing required fields", 400, nil)
	}

	u, err := h.Service.CreateUser(c.Context(), usersvc.CreateUserInput{
		Fullname:      req.Fullname,
		Email:         req.Email,
		Password:      req.Password,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		return mapCreateError(c, err)
	}

	sid := middleware.RegenerateSessionID(c)
	middleware.SetSessionUser(c, middleware.SessionUser{
		UserID:        u.UserID.String(),
		Fullname:      u.Fullname,
		Email:         u.Email,
		Role:          u.Role,
		Eligible:      u.Eligible,
		WalletAddress: u.WalletAddress,
	})
	if h.Service.Rdb != nil {
		_ = h.Service.Rdb.SAdd(c.Context(), userSessionsPrefix+u.UserID.String(), sid).Err()
	}

	cookie := middleware.SessionCookieConfig(h.Config)
	cookie.Value = "s:" + sid
	c.Cookie(&cookie)

	return response.SuccessCreated(c, "User created successfully", fiber.Map{"user": safeUser(u)}, nil)
}

// UpdateUser PUT /api/v1/users/update-user — updates the session user.
func (h *Handlers) UpdateUser(c *fiber.Ctx) error {
	actor := getSessionActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	userID := actor.UserID
	if _, err := uuid.Parse(userID); err != nil {
		return response.Error(c, "Invalid user ID format (must be a valid UUID)", 400, nil)
	}

	var body map[string]interface{}
	if err := c.BodyParser(&body); err != nil || len(body) == 0 {
		return response.Error(c, "Missing update fields", 400, nil)
	}

	u, err := h.Service.UpdateUser(c.Context(), userID, body)
	if err != nil {
		return mapUpdateError(c, err)
	}
	return response.Success(c, "User updated successfully", fiber.Map{"user": safeUser(u)}, nil)
}

// ViewUser GET /api/v1/users/view-user — returns the session user.
func (h *Handlers) ViewUser(c *fiber.Ctx) error {
	actor := getSessionActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}

	u, err := h.Service.ViewUser(c.Context(), actor.UserID)
	if err != nil {
		return mapViewError(c, err)
	}
	return response.Success(c, "User found", fiber.Map{"user": safeUser(u)}, nil)
}

type UpdateRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// UpdateRole PATCH /api/v1/users/update-role — requires MANAGE_USERS.
func (h *Handlers) UpdateRole(c *fiber.Ctx) error {
	var req UpdateRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "user_id and role are required", 400, nil)
	}
	if req.UserID == "" || req.Role == "" {
		return response.Error(c, "user_id and role are required", 400, nil)
	}

	actor := getSessionActor(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}

	u, err := h.Service.UpdateUserRole(c.Context(), usersvc.UpdateUserRoleInput{
		ActorUserID:  actor.UserID,
		ActorRole:    actor.Role,
		TargetUserID: req.UserID,
		TargetRole:   req.Role,
	})
	if err != nil {
		return response.Error(c, err.Error(), 400, nil)
	}
	return response.Success(c, "User role updated successfully", fiber.Map{"user": safeUser(u)}, nil)
}

type SetEligibilityRequest struct {
	UserID   string `json:"user_id"`
	Eligible *bool  `json:"eligible"`
}

// SetEligibility PATCH /api/v1/users/set-eligibility — requires MANAGE_USERS.
// Records the outcome of the eligibility review for the target user.
func (h *Handlers) SetEligibility(c *fiber.Ctx) error {
	var req SetEligibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return response.Error(c, "user_id and eligible are required", 400, nil)
	}
	if req.UserID == "" || req.Eligible == nil {
		return response.Error(c, "user_id and eligible are required", 400, nil)
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		return response.Error(c, "Invalid user ID format (must be a valid UUID)", 400, nil)
	}

	u, err := h.Service.SetEligibility(c.Context(), req.UserID, *req.Eligible)
	if err != nil {
		if err.Error() == "User not found" {
			return response.Error(c, err.Error(), 404, nil)
		}
		return response.Error(c, err.Error(), 400, nil)
	}
	return response.Success(c, "User eligibility updated", fiber.Map{"user": safeUser(u)}, nil)
}

type sessionActor struct {
	UserID string
	Role   string
}

func getSessionActor(c *fiber.Ctx) *sessionActor {
	u := middleware.GetUser(c)
	if u == nil {
		return nil
	}
	m, ok := u.(map[string]interface{})
	if !ok {
		return nil
	}
	userID, _ := m["user_id"].(string)
	role, _ := m["role"].(string)
	if userID == "" || role == "" {
		return nil
	}
	return &sessionActor{UserID: userID, Role: role}
}

func safeUser(u *domain.User) fiber.Map {
	var wallet interface{}
	if u.WalletAddress != nil {
		wallet = *u.WalletAddress
	}
	return fiber.Map{
		"user_id":        u.UserID.String(),
		"fullname":       u.Fullname,
		"email":          u.Email,
		"role":           u.Role,
		"eligible":       u.Eligible,
		"wallet_address": wallet,
		"createdAt":      u.CreatedAt,
		"updatedAt":      u.UpdatedAt,
	}
}

func mapCreateError(c *fiber.Ctx, err error) error {
	msg := err.Error()
	status := 500
	switch {
	case msg == "Invalid email format", msg == "Invalid password format",
		msg == "Invalid wallet address format",
		msg == "Full name is required and must be a non-empty string",
		msg == "Full name contains invalid characters (only letters, spaces, hyphens, and apostrophes allowed)":
		status = 400
	case msg == "Email already registered", msg == "Wallet address already registered":
		status = 409
	}
	return response.Error(c, msg, status, nil)
}

func mapUpdateError(c *fiber.Ctx, err error) error {
	msg := err.Error()
	status := 500
	switch {
	case msg == "Missing user ID", msg == "Missing update fields", msg == "No valid update fields provided",
		msg == "Invalid email format", msg == "Invalid password format", msg == "Invalid wallet address format",
		msg == "Full name must be a non-empty string", msg == "Full name contains invalid characters",
		msg == "Invalid user ID format (must be a valid UUID)":
		status = 400
	case msg == "Email already registered", msg == "Wallet address already registered":
		status = 409
	case msg == "User not found":
		status = 404
	}
	return response.Error(c, msg, status, nil)
}

func mapViewError(c *fiber.Ctx, err error) error {
	msg := err.Error()
	status := 500
	switch {
	case msg == "Missing user ID":
		status = 400
	case msg == "User not found":
		status = 404
	}
	return response.Error(c, msg, status, nil)
}
