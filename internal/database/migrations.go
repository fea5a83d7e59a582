package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/acnewman/deskbridge/internal/models"
	"github.com/acnewman/deskbridge/pkg/crypto"
)

// AutoMigrate applies the schema for all persistent models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	return db.AutoMigrate(
		&models.User{},
		&models.UserProfile{},
		&models.RegistrationSession{},
	)
}

// SeedUserInput describes the development convenience account created at
// start-up when seeding is enabled.
type SeedUserInput struct {
	Email    string
	Password string
	Role     string
}

// SeedExampleUser creates the example account unless it already exists.
// Returns true when a row was inserted.
func SeedExampleUser(db *gorm.DB, input SeedUserInput) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return false, errors.New("seed: email is required")
	}

	var existing models.User
	err := db.Where("email = ?", email).Take(&existing).Error
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, fmt.Errorf("seed: lookup example user: %w", err)
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return false, fmt.Errorf("seed: hash password: %w", err)
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = models.RoleUser
	}

	now := time.Now().UTC()
	user := models.User{
		Email:           email,
		PasswordHash:    hashed,
		Role:            role,
		EmailVerifiedAt: &now,
	}

	if err := db.Create(&user).Error; err != nil {
		return false, fmt.Errorf("seed: create example user: %w", err)
	}

	return true, nil
}
