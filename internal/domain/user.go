package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	UserID        uuid.UUID      `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	Fullname      string         `gorm:"column:fullname;not null" json:"fullname"`
	Email         string         `gorm:"column:email;not null;uniqueIndex" json:"email"`
	PasswordHash  string         `gorm:"column:password_hash;not null" json:"-"`
	Role          string         `gorm:"column:role;not null;default:investor" json:"role"`
	WalletAddress *string        `gorm:"column:wallet_address;uniqueIndex" json:"wallet_address"`
	Eligible      bool           `gorm:"column:eligible;not null;default:false" json:"eligible"`
	CreatedAt     time.Time      `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"column:updatedAt" json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "Users"
}

// BeforeCreate sets UUID if not set (for DBs without gen_random_uuid).
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UserID == uuid.Nil {
		u.UserID = uuid.New()
	}
	return nil
}
