package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/acnewman/deskbridge/internal/models"
	"github.com/acnewman/deskbridge/internal/payment"
	apperrors "github.com/acnewman/deskbridge/pkg/errors"
)

type fakeCheckoutProvider struct {
	created   int
	paid      bool
	createErr error
	getErr    error
}

func (f *fakeCheckoutProvider) CreateCheckout(_ context.Context, input payment.CheckoutInput) (*payment.Checkout, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &payment.Checkout{
		ID:  fmt.Sprintf("cs_test_%d", f.created),
		URL: "https://checkout.example/session",
	}, nil
}

func (f *fakeCheckoutProvider) GetCheckout(_ context.Context, id string) (*payment.Checkout, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &payment.Checkout{ID: id, Paid: f.paid}, nil
}

func openWorkflowTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.UserProfile{},
		&models.RegistrationSession{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func newWorkflowService(t *testing.T, db *gorm.DB, provider payment.Provider) *RegistrationService {
	t.Helper()

	svc, err := NewRegistrationService(db, provider)
	require.NoError(t, err)
	return svc
}

func startInput(email string) StartRegistrationInput {
	return StartRegistrationInput{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Address:   "123 Demo Street",
		Country:   "United States",
		Email:     email,
		Password:  "DemoPass123!",
	}
}

func TestStartCreatesUserProfileAndSession(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.Equal(t, models.StepEmail, session.Step)
	require.Equal(t, models.RegistrationInProgress, session.Status)

	var user models.User
	require.NoError(t, db.Take(&user, session.UserID).Error)
	require.Equal(t, "ada@example.demo", user.Email)
	require.Equal(t, models.RoleUser, user.Role)
	require.Nil(t, user.EmailVerifiedAt)

	var profile models.UserProfile
	require.NoError(t, db.Where("user_id = ?", user.ID).Take(&profile).Error)
	require.Equal(t, "Ada", profile.FirstName)
}

func TestStartRejectsDuplicateEmailCaseInsensitive(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, startInput("a@x.com"))
	require.NoError(t, err)

	_, err = svc.Start(ctx, startInput("  A@X.COM "))
	require.ErrorIs(t, err, apperrors.ErrEmailAlreadyRegistered)

	// The failed attempt must not leave a second user row behind.
	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestAdvanceEmailIsIdempotent(t *testing.T) {
	db := openWorkflowTestDB(t)

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewRegistrationService(db, nil, WithRegistrationClock(func() time.Time { return stamp }))
	require.NoError(t, err)

	ctx := context.Background()
	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	session, err = svc.AdvanceEmail(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepSecondFactor, session.Step)

	var user models.User
	require.NoError(t, db.Take(&user, session.UserID).Error)
	require.NotNil(t, user.EmailVerifiedAt)
	first := *user.EmailVerifiedAt

	// Re-running the step must not re-stamp the timestamp or corrupt the step.
	session, err = svc.AdvanceEmail(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepSecondFactor, session.Step)

	require.NoError(t, db.Take(&user, session.UserID).Error)
	require.True(t, first.Equal(*user.EmailVerifiedAt))
}

func TestStepIsMonotonicMax(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	_, err = svc.AdvanceEmail(ctx, session.ID)
	require.NoError(t, err)
	session, err = svc.AdvanceSecondFactor(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepPayment, session.Step)

	// A stale email-step re-submission must not move the step backwards.
	session, err = svc.AdvanceEmail(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepPayment, session.Step)
}

func TestUnknownSessionIsInvalid(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, "no-such-session")
	require.ErrorIs(t, err, apperrors.ErrInvalidRegistrationSession)

	_, err = svc.AdvanceEmail(ctx, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidRegistrationSession)

	err = svc.Cancel(ctx, "no-such-session")
	require.ErrorIs(t, err, apperrors.ErrInvalidRegistrationSession)
}

func TestStartPaymentStoresCheckoutReference(t *testing.T) {
	db := openWorkflowTestDB(t)
	provider := &fakeCheckoutProvider{}
	svc := newWorkflowService(t, db, provider)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	url, err := svc.StartPayment(ctx, session.ID, "https://app/success", "https://app/cancel")
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example/session", url)

	session, err = svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", session.CheckoutSessionID)
}

func TestStartPaymentWithoutProvider(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	_, err = svc.StartPayment(ctx, session.ID, "https://app/success", "https://app/cancel")
	require.ErrorIs(t, err, apperrors.ErrPaymentNotConfigured)
}

func TestStartPaymentProviderFailureLeavesSessionUnchanged(t *testing.T) {
	db := openWorkflowTestDB(t)
	provider := &fakeCheckoutProvider{createErr: errors.New("provider down")}
	svc := newWorkflowService(t, db, provider)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	_, err = svc.StartPayment(ctx, session.ID, "https://app/success", "https://app/cancel")
	require.ErrorIs(t, err, apperrors.ErrPaymentNotConfigured)

	session, err = svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Empty(t, session.CheckoutSessionID)
	require.Equal(t, models.RegistrationInProgress, session.Status)
}

func TestConfirmPaymentRequiresProviderPaidStatus(t *testing.T) {
	db := openWorkflowTestDB(t)
	provider := &fakeCheckoutProvider{paid: false}
	svc := newWorkflowService(t, db, provider)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	// The callback carries the reference, but the provider says unpaid.
	_, err = svc.ConfirmPayment(ctx, session.ID, "cs_test_1")
	require.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)

	session, err = svc.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Nil(t, session.PaidAt)

	// Once the provider reports paid, confirmation succeeds and is idempotent.
	provider.paid = true
	session, err = svc.ConfirmPayment(ctx, session.ID, "cs_test_1")
	require.NoError(t, err)
	require.NotNil(t, session.PaidAt)
	require.Equal(t, models.StepReview, session.Step)
	first := *session.PaidAt

	session, err = svc.ConfirmPayment(ctx, session.ID, "cs_test_1")
	require.NoError(t, err)
	require.True(t, first.Equal(*session.PaidAt))
}

func TestCompletionAlwaysRequiresPayment(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, &fakeCheckoutProvider{})
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	// Attempt completion at every step before payment confirmation; all must fail.
	_, err = svc.Complete(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)

	_, err = svc.AdvanceEmail(ctx, session.ID)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)

	_, err = svc.AdvanceSecondFactor(ctx, session.ID)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)

	// Force the step forward without paid_at; the server-side gate must still hold.
	require.NoError(t, db.Model(&models.RegistrationSession{}).Where("id = ?", session.ID).Update("step", models.StepReview).Error)
	_, err = svc.Complete(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrPaymentNotCompleted)
}

func TestCompleteAfterPaymentIsTerminal(t *testing.T) {
	db := openWorkflowTestDB(t)
	provider := &fakeCheckoutProvider{paid: true}
	svc := newWorkflowService(t, db, provider)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(ctx, session.ID, "cs_test_1")
	require.NoError(t, err)

	session, err = svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.RegistrationCompleted, session.Status)
	require.Equal(t, models.StepReview, session.Step)

	// Completing again is a no-op.
	session, err = svc.Complete(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.RegistrationCompleted, session.Status)

	// A completed session can no longer advance.
	_, err = svc.AdvanceEmail(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrAlreadyCompleted)
}

func TestCancelCascadesOverProfileAndUser(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)
	userID := session.UserID

	require.NoError(t, svc.Cancel(ctx, session.ID))

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error)
	require.Zero(t, count)

	require.NoError(t, db.Model(&models.UserProfile{}).Where("user_id = ?", userID).Count(&count).Error)
	require.Zero(t, count)

	require.NoError(t, db.Model(&models.RegistrationSession{}).Where("id = ?", session.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestCancelCompletedIsRejectedAndLeavesRecords(t *testing.T) {
	db := openWorkflowTestDB(t)
	provider := &fakeCheckoutProvider{paid: true}
	svc := newWorkflowService(t, db, provider)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(ctx, session.ID, "cs_test_1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, session.ID)
	require.NoError(t, err)

	err = svc.Cancel(ctx, session.ID)
	require.ErrorIs(t, err, apperrors.ErrAlreadyCompleted)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", session.UserID).Count(&count).Error)
	require.Equal(t, int64(1), count)

	require.NoError(t, db.Model(&models.RegistrationSession{}).Where("id = ?", session.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestDetailsReturnsUserAndProfile(t *testing.T) {
	db := openWorkflowTestDB(t)
	svc := newWorkflowService(t, db, nil)
	ctx := context.Background()

	session, err := svc.Start(ctx, startInput("ada@example.demo"))
	require.NoError(t, err)

	details, err := svc.Details(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, details.Session.ID)
	require.Equal(t, "ada@example.demo", details.User.Email)
	require.Equal(t, "Lovelace", details.Profile.LastName)
}
