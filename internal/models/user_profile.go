package models

import "time"

// UserProfile extends a User 1:1 with the data collected at registration
// step 1. It is created atomically with its owner and removed by the
// cancellation cascade.
type UserProfile struct {
	ID     uint  `gorm:"primaryKey" json:"id"`
	UserID uint  `gorm:"uniqueIndex;not null" json:"user_id"`
	User   *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	FirstName string `gorm:"size:128;not null" json:"first_name"`
	LastName  string `gorm:"size:128;not null" json:"last_name"`
	Address   string `gorm:"size:255;not null" json:"address"`
	Country   string `gorm:"size:128;not null" json:"country"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
