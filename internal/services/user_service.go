package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/acnewman/deskbridge/internal/models"
	"github.com/acnewman/deskbridge/pkg/crypto"
	apperrors "github.com/acnewman/deskbridge/pkg/errors"
)

// NormalizeEmail lowercases and trims an email address. Every lookup and
// every stored row goes through this, so uniqueness is case- and
// space-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserService covers identity lookups and credential verification for the
// login handshake. User creation lives in the registration workflow, which
// owns the atomic user+profile+session insert.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// FindByEmail fetches a user by normalized email.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, apperrors.ErrUnknownUser
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrUnknownUser
	case err != nil:
		return nil, fmt.Errorf("user service: find by email: %w", err)
	}

	return &user, nil
}

// FindByID fetches a user by primary key.
func (s *UserService) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrUnknownUser
	case err != nil:
		return nil, fmt.Errorf("user service: find by id: %w", err)
	}

	return &user, nil
}

// Authenticate verifies an email/password pair and returns the matching user.
// Unknown email and wrong password both surface as ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnknownUser) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, err
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		return nil, apperrors.ErrInvalidCredentials
	}

	return user, nil
}
