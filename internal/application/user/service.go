package user

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"wekeza-backend/internal/application/emails"
	policies "wekeza-backend/internal/application/policies/user"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/pkg/constants"
	"wekeza-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Service holds DB, Redis and the email sender for user operations.
type Service struct {
	DB     *gorm.DB
	Rdb    *redis.Client
	Emails emails.Sender
}

// CreateUserInput is the public registration body.
type CreateUserInput struct {
	Fullname      string  `json:"fullname"`
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	WalletAddress *string `json:"wallet_address"`
}

// CreateUser registers a new user. Public registration always creates an
// investor; role changes go through UpdateUserRole. Returns the created model
// (caller sanitizes password_hash).
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	if in.Fullname == "" || strings.TrimSpace(in.Fullname) == "" {
		return nil, errors.New("Full name is required and must be a non-empty string")
	}
	trimmed := strings.TrimSpace(in.Fullname)
	if !validation.IsValidFullname(trimmed) {
		return nil, errors.New("Full name contains invalid characters (only letters, spaces, hyphens, and apostrophes allowed)")
	}
	if in.Email == "" || !validation.IsValidEmail(in.Email) {
		return nil, errors.New("Invalid email format")
	}
	if in.Password == "" || !validation.IsValidPassword(in.Password) {
		return nil, errors.New("Invalid password format")
	}
	if in.WalletAddress != nil && *in.WalletAddress != "" && !validation.IsValidWalletAddress(*in.WalletAddress) {
		return nil, errors.New("Invalid wallet address format")
	}

	email := strings.TrimSpace(strings.ToLower(in.Email))
	fullname := titleCaseAndNormalize(trimmed)

	var existing domain.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, errors.New("Email already registered")
	}
	if in.WalletAddress != nil && *in.WalletAddress != "" {
		if err := s.DB.WithContext(ctx).Where("wallet_address = ?", *in.WalletAddress).First(&existing).Error; err == nil {
			return nil, errors.New("Wallet address already registered")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), 10)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Fullname:     fullname,
		Email:        email,
		PasswordHash: string(hash),
		Role:         constants.Investor,
	}
	if in.WalletAddress != nil && *in.WalletAddress != "" {
		u.WalletAddress = in.WalletAddress
	}
	if err := s.DB.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}

	if s.Emails != nil {
		first := fullname
		if i := strings.IndexByte(first, ' '); i > 0 {
			first = first[:i]
		}
		if err := s.Emails.SendWelcome(ctx, email, first); err != nil {
			log.Warn().Err(err).Str("email", email).Msg("welcome email failed")
		}
	}
	return u, nil
}

// UpdateUser updates allowed fields. Allowed: email, password, fullname, wallet_address.
func (s *Service) UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) (*domain.User, error) {
	if userID == "" {
		return nil, errors.New("Missing user ID")
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, errors.New("Invalid user ID format (must be a valid UUID)")
	}
	if len(fields) == 0 {
		return nil, errors.New("Missing update fields")
	}

	allowed := map[string]bool{
		"email": true, "password": true, "fullname": true, "wallet_address": true,
	}
	upd := make(map[string]interface{})
	for k, v := range fields {
		if !allowed[k] {
			continue
		}
		upd[k] = v
	}
	if len(upd) == 0 {
		return nil, errors.New("No valid update fields provided")
	}

	if e, ok := upd["email"].(string); ok && e != "" {
		if !validation.IsValidEmail(e) {
			return nil, errors.New("Invalid email format")
		}
		upd["email"] = strings.TrimSpace(strings.ToLower(e))
	}
	if p, ok := upd["password"].(string); ok && p != "" {
		if !validation.IsValidPassword(p) {
			return nil, errors.New("Invalid password format")
		}
		hash, _ := bcrypt.GenerateFromPassword([]byte(p), 10)
		upd["password_hash"] = string(hash)
		delete(upd, "password")
	}
	if fn, ok := upd["fullname"].(string); ok {
		if strings.TrimSpace(fn) == "" {
			return nil, errors.New("Full name must be a non-empty string")
		}
		trimmed := strings.TrimSpace(fn)
		if !validation.IsValidFullname(trimmed) {
			return nil, errors.New("Full name contains invalid characters")
		}
		upd["fullname"] = titleCaseAndNormalize(trimmed)
	}
	if w, ok := upd["wallet_address"]; ok {
		if w == nil {
			upd["wallet_address"] = nil
		} else if ws, ok := w.(string); ok {
			if ws == "" {
				upd["wallet_address"] = nil
			} else if !validation.IsValidWalletAddress(ws) {
				return nil, errors.New("Invalid wallet address format")
			}
		}
	}

	// Uniqueness: no other user (excluding this one) may have the new email or wallet
	if e, ok := upd["email"].(string); ok {
		var dup domain.User
		if err := s.DB.WithContext(ctx).Where("email = ? AND user_id != ?", e, userID).First(&dup).Error; err == nil {
			return nil, errors.New("Email already registered")
		}
	}
	if w, ok := upd["wallet_address"].(string); ok && w != "" {
		var dup domain.User
		if err := s.DB.WithContext(ctx).Where("wallet_address = ? AND user_id != ?", w, userID).First(&dup).Error; err == nil {
			return nil, errors.New("Wallet address already registered")
		}
	}

	result := s.DB.WithContext(ctx).Model(&domain.User{}).Where("user_id = ?", userID).Updates(upd)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, errors.New("User not found")
	}

	var u domain.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ViewUser returns user by ID.
func (s *Service) ViewUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, errors.New("Missing user ID")
	}
	var u domain.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New("User not found")
		}
		return nil, err
	}
	return &u, nil
}

// UpdateUserRoleInput carries the acting admin and the target assignment.
type UpdateUserRoleInput struct {
	ActorUserID  string
	ActorRole    string
	TargetUserID string
	TargetRole   string
}

// UpdateUserRole updates the target user's role after governance checks and
// destroys their sessions so the new role takes effect immediately.
func (s *Service) UpdateUserRole(ctx context.Context, in UpdateUserRoleInput) (*domain.User, error) {
	if err := policies.ValidateRoleAssignment(s.DB, policies.ValidateRoleAssignmentParams{
		ActorRole:    in.ActorRole,
		TargetRole:   in.TargetRole,
		ActorUserID:  in.ActorUserID,
		TargetUserID: in.TargetUserID,
	}); err != nil {
		return nil, err
	}
	var u domain.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", in.TargetUserID).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New("User not found")
		}
		return nil, err
	}
	u.Role = in.TargetRole
	if err := s.DB.WithContext(ctx).Save(&u).Error; err != nil {
		return nil, err
	}
	policies.DestroyUserSessions(ctx, s.Rdb, in.TargetUserID)
	return &u, nil
}

// SetEligibility records the outcome of an eligibility review and destroys
// the target's sessions so the cached session shape is refreshed on next login.
func (s *Service) SetEligibility(ctx context.Context, targetUserID string, eligible bool) (*domain.User, error) {
	if targetUserID == "" {
		return nil, errors.New("Missing user ID")
	}
	var u domain.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", targetUserID).First(&u).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New("User not found")
		}
		return nil, err
	}
	u.Eligible = eligible
	if err := s.DB.WithContext(ctx).Save(&u).Error; err != nil {
		return nil, err
	}
	policies.DestroyUserSessions(ctx, s.Rdb, targetUserID)
	return &u, nil
}

func titleCaseAndNormalize(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	runes := []rune(s)
	var b strings.Builder
	capitalize := true
	for _, r := range runes {
		if unicode.IsSpace(r) {
			if !capitalize {
				b.WriteRune(' ')
				capitalize = true
			}
			continue
		}
		if capitalize {
			b.WriteRune(unicode.ToUpper(r))
			capitalize = false
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
