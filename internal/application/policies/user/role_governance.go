package policies

import (
	"errors"

	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/pkg/constants"

	"gorm.io/gorm"
)

var (
	ErrInvalidRole                               = errors.New("Invalid role")
	ErrOnlySuperadminsCanAssignAdminOrSuperadmin = errors.New("Only superadmins can assign admin or superadmin roles")
	ErrUsersCannotModifyTheirOwnRole             = errors.New("Users cannot modify their own role")
	ErrTargetUserNotFound                        = errors.New("Target user not found")
	ErrMustHaveAtLeastOneSuperadmin              = errors.New("There must be at least one superadmin")
)

type ValidateRoleAssignmentParams struct {
	ActorRole    string
	TargetRole   string
	ActorUserID  string
	TargetUserID string
}

// ValidateRoleAssignment enforces role governance for admin role changes.
// Returns nil on success.
func ValidateRoleAssignment(db *gorm.DB, params ValidateRoleAssignmentParams) error {
	if !constants.IsValidRole(params.TargetRole) {
		return ErrInvalidRole
	}
	// Only superadmin can assign admin/superadmin
	if (params.TargetRole == constants.Admin || params.TargetRole == constants.Superadmin) &&
		params.ActorRole != constants.Superadmin {
		return ErrOnlySuperadminsCanAssignAdminOrSuperadmin
	}
	var target domain.User
	if err := db.Where("user_id = ?", params.TargetUserID).First(&target).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrTargetUserNotFound
		}
		return err
	}
	// Prevent self-role modification
	if params.ActorUserID == params.TargetUserID && params.ActorRole != constants.Superadmin {
		return ErrUsersCannotModifyTheirOwnRole
	}
	// Prevent last superadmin downgrade
	if target.Role == constants.Superadmin && params.TargetRole != constants.Superadmin {
		var count int64
		db.Model(&domain.User{}).Where("role = ?", constants.Superadmin).Count(&count)
		if count <= 1 {
			return ErrMustHaveAtLeastOneSuperadmin
		}
	}
	return nil
}
