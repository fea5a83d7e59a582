package models

import (
	"time"
)

// RoleUser is the default role assigned to self-registered accounts.
const RoleUser = "user"

// User is the durable identity shared by the login handshake and the
// registration workflow. It is created by registration step 1 and mutated
// only by the email-verification step.
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Email        string `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"size:512;not null" json:"-"`
	Role         string `gorm:"size:32;not null;default:user" json:"role"`

	EmailVerifiedAt *time.Time `json:"email_verified_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailVerified reports whether the placeholder verification step has run.
func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}
