package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Registration workflow step slots. StepData exits by creating the records,
// so a freshly persisted session already sits at StepEmail.
const (
	StepData = iota + 1
	StepEmail
	StepSecondFactor
	StepPayment
	StepReview
)

// RegistrationSession status values. Both completed and canceled are terminal.
const (
	RegistrationInProgress = "in_progress"
	RegistrationCompleted  = "completed"
	RegistrationCanceled   = "canceled"
)

// RegistrationSession is the durable root of an in-progress account creation.
// Step only ever moves forward; cancellation cascades over the profile and
// the user.
type RegistrationSession struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID uint   `gorm:"not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"-"`

	Step   int    `gorm:"not null;default:2" json:"step"`
	Status string `gorm:"size:32;not null;default:in_progress" json:"status"`

	CheckoutSessionID string     `gorm:"size:255" json:"-"`
	PaidAt            *time.Time `json:"paid_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (r *RegistrationSession) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Paid reports whether the external payment has been confirmed.
func (r *RegistrationSession) Paid() bool {
	return r.PaidAt != nil
}
