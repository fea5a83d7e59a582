package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/acnewman/deskbridge/internal/models"
	"github.com/acnewman/deskbridge/internal/payment"
	"github.com/acnewman/deskbridge/pkg/crypto"
	apperrors "github.com/acnewman/deskbridge/pkg/errors"
	"github.com/acnewman/deskbridge/pkg/logger"
	"github.com/acnewman/deskbridge/pkg/metrics"
)

// RegistrationOption customises the RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// StartRegistrationInput carries the step 1 form data.
type StartRegistrationInput struct {
	FirstName string
	LastName  string
	Address   string
	Country   string
	Email     string
	Password  string
}

// RegistrationDetails bundles the session with its owning user and profile
// for the review page.
type RegistrationDetails struct {
	Session *models.RegistrationSession
	User    *models.User
	Profile *models.UserProfile
}

// RegistrationService drives the five-step account creation state machine.
// Every transition is a single transactional read-modify-write: steps only
// move forward, completion requires a confirmed payment, and cancellation
// removes the user, profile, and session as one unit.
type RegistrationService struct {
	db       *gorm.DB
	payments payment.Provider
	now      func() time.Time
	log      *zap.Logger
}

// NewRegistrationService constructs the workflow service. A nil payment
// provider is allowed; payment operations then report that payment is
// unavailable while leaving sessions retryable at step 4.
func NewRegistrationService(db *gorm.DB, payments payment.Provider, opts ...RegistrationOption) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}

	service := &RegistrationService{
		db:       db,
		payments: payments,
		now:      time.Now,
		log:      logger.WithModule("registration"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Start executes step 1: it creates the User, UserProfile, and
// RegistrationSession atomically. The session begins at the email step.
func (s *RegistrationService) Start(ctx context.Context, input StartRegistrationInput) (*models.RegistrationSession, error) {
	email := NormalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("registration service: hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hashed,
		Role:         models.RoleUser,
	}
	session := &models.RegistrationSession{
		Step:   models.StepEmail,
		Status: models.RegistrationInProgress,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		profile := &models.UserProfile{
			UserID:    user.ID,
			FirstName: strings.TrimSpace(input.FirstName),
			LastName:  strings.TrimSpace(input.LastName),
			Address:   strings.TrimSpace(input.Address),
			Country:   strings.TrimSpace(input.Country),
		}
		if err := tx.Create(profile).Error; err != nil {
			return err
		}

		session.UserID = user.ID
		return tx.Create(session).Error
	})
	if err != nil {
		// The unique index is the race-safe arbiter; any concurrent insert
		// of the same email loses here, not at a pre-check.
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("registration service: start: %w", err)
	}

	s.log.Info("registration started", zap.String("session_id", session.ID), zap.Uint("user_id", user.ID))
	return session, nil
}

// Get loads a registration session by id.
func (s *RegistrationService) Get(ctx context.Context, id string) (*models.RegistrationSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.ErrInvalidRegistrationSession
	}

	var session models.RegistrationSession
	err := s.db.WithContext(ctx).Take(&session, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, apperrors.ErrInvalidRegistrationSession
	case err != nil:
		return nil, fmt.Errorf("registration service: get: %w", err)
	}

	return &session, nil
}

// Details loads the session together with its user and profile.
func (s *RegistrationService) Details(ctx context.Context, id string) (*RegistrationDetails, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, session.UserID).Error; err != nil {
		return nil, apperrors.ErrInvalidRegistrationSession.WithInternal(err)
	}

	var profile models.UserProfile
	if err := s.db.WithContext(ctx).Where("user_id = ?", session.UserID).Take(&profile).Error; err != nil {
		return nil, apperrors.ErrInvalidRegistrationSession.WithInternal(err)
	}

	return &RegistrationDetails{Session: session, User: &user, Profile: &profile}, nil
}

// AdvanceEmail executes the email verification placeholder: it idempotently
// stamps email_verified_at on the user and moves the session to the second
// factor step.
func (s *RegistrationService) AdvanceEmail(ctx context.Context, id string) (*models.RegistrationSession, error) {
	return s.advance(ctx, id, models.StepSecondFactor, func(tx *gorm.DB, session *models.RegistrationSession) error {
		var user models.User
		if err := tx.Take(&user, session.UserID).Error; err != nil {
			return err
		}

		if user.EmailVerifiedAt == nil {
			now := s.now().UTC()
			if err := tx.Model(&user).Update("email_verified_at", &now).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AdvanceSecondFactor executes the 2FA placeholder. It changes nothing but
// the step: the slot exists so the ordering contract holds once a real
// second factor lands.
func (s *RegistrationService) AdvanceSecondFactor(ctx context.Context, id string) (*models.RegistrationSession, error) {
	return s.advance(ctx, id, models.StepPayment, nil)
}

// StartPayment creates an external checkout session and stores its reference.
// Provider failures leave the session untouched and retryable.
func (s *RegistrationService) StartPayment(ctx context.Context, id, successURL, cancelURL string) (string, error) {
	if s.payments == nil {
		return "", apperrors.ErrPaymentNotConfigured
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if session.Status == models.RegistrationCompleted {
		return "", apperrors.ErrAlreadyCompleted
	}

	checkout, err := s.payments.CreateCheckout(ctx, payment.CheckoutInput{
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"registration_id": session.ID,
			"user_id":         fmt.Sprint(session.UserID),
		},
	})
	if err != nil {
		s.log.Warn("checkout creation failed", zap.String("session_id", session.ID), zap.Error(err))
		return "", apperrors.ErrPaymentNotConfigured.WithInternal(err)
	}

	err = s.db.WithContext(ctx).Model(&models.RegistrationSession{}).
		Where("id = ?", session.ID).
		Update("checkout_session_id", checkout.ID).Error
	if err != nil {
		return "", fmt.Errorf("registration service: store checkout reference: %w", err)
	}

	return checkout.URL, nil
}

// ConfirmPayment re-fetches the authoritative status of a checkout session
// from the provider and, only if it reports paid, stamps paid_at and opens
// the review step. A client-supplied "paid" flag is never trusted. When the
// provider reports anything else the session stays at the payment step.
func (s *RegistrationService) ConfirmPayment(ctx context.Context, id, checkoutID string) (*models.RegistrationSession, error) {
	if s.payments == nil {
		return nil, apperrors.ErrPaymentNotConfigured
	}

	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return nil, apperrors.NewBadRequest("checkout session id is required")
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == models.RegistrationCompleted {
		return session, nil
	}

	checkout, err := s.payments.GetCheckout(ctx, checkoutID)
	if err != nil {
		s.log.Warn("checkout lookup failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, apperrors.ErrPaymentNotConfigured.WithInternal(err)
	}
	if !checkout.Paid {
		return nil, apperrors.ErrPaymentNotCompleted
	}

	return s.advance(ctx, id, models.StepReview, func(tx *gorm.DB, session *models.RegistrationSession) error {
		updates := map[string]any{"checkout_session_id": checkoutID}
		if session.PaidAt == nil {
			now := s.now().UTC()
			updates["paid_at"] = &now
			session.PaidAt = &now
		}
		return tx.Model(session).Updates(updates).Error
	})
}

// Complete executes step 5. Completion always requires a confirmed payment,
// regardless of how far the client claims to have progressed. Completing an
// already-completed session is a no-op.
func (s *RegistrationService) Complete(ctx context.Context, id string) (*models.RegistrationSession, error) {
	var result *models.RegistrationSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RegistrationSession
		if err := tx.Take(&session, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidRegistrationSession
			}
			return err
		}

		if session.Status == models.RegistrationCompleted {
			result = &session
			return nil
		}

		if session.PaidAt == nil {
			return apperrors.ErrPaymentNotCompleted
		}

		session.Status = models.RegistrationCompleted
		session.Step = models.StepReview
		if err := tx.Model(&session).Updates(map[string]any{
			"status": models.RegistrationCompleted,
			"step":   models.StepReview,
		}).Error; err != nil {
			return err
		}

		result = &session
		return nil
	})
	if err != nil {
		return nil, wrapWorkflowError(err, "complete")
	}

	metrics.Registrations.WithLabelValues("completed").Inc()
	s.log.Info("registration completed", zap.String("session_id", result.ID))
	return result, nil
}

// Cancel deletes the profile, the session, and the user as one atomic unit.
// Completed registrations can no longer be canceled.
func (s *RegistrationService) Cancel(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RegistrationSession
		if err := tx.Take(&session, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidRegistrationSession
			}
			return err
		}

		if session.Status == models.RegistrationCompleted {
			return apperrors.ErrAlreadyCompleted
		}

		if err := tx.Where("user_id = ?", session.UserID).Delete(&models.UserProfile{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.RegistrationSession{}, "id = ?", session.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, session.UserID).Error
	})
	if err != nil {
		return wrapWorkflowError(err, "cancel")
	}

	metrics.Registrations.WithLabelValues("canceled").Inc()
	s.log.Info("registration canceled", zap.String("session_id", id))
	return nil
}

// advance moves the session's step to at least target inside one
// transaction. The step is a monotonic max, never an overwrite, so stale
// re-submissions cannot regress it.
func (s *RegistrationService) advance(ctx context.Context, id string, target int, mutate func(tx *gorm.DB, session *models.RegistrationSession) error) (*models.RegistrationSession, error) {
	var result *models.RegistrationSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.RegistrationSession
		if err := tx.Take(&session, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrInvalidRegistrationSession
			}
			return err
		}

		if session.Status == models.RegistrationCompleted {
			return apperrors.ErrAlreadyCompleted
		}

		if mutate != nil {
			if err := mutate(tx, &session); err != nil {
				return err
			}
		}

		if session.Step < target {
			if err := tx.Model(&session).Update("step", target).Error; err != nil {
				return err
			}
			session.Step = target
		}

		result = &session
		return nil
	})
	if err != nil {
		return nil, wrapWorkflowError(err, "advance")
	}

	return result, nil
}

func wrapWorkflowError(err error, op string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("registration service: %s: %w", op, err)
}
