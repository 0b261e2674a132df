package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aneti-platform/aneti-api/internal/models"
	appErrors "github.com/aneti-platform/aneti-api/pkg/errors"
)

type mockAuthRepo struct {
	users            map[string]*models.User
	refreshTokens    map[string]*models.RefreshToken
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool

	findByEmailErr error
	createTokenErr error
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	repo := &mockAuthRepo{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
	}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) Create(_ context.Context, user *models.User) error {
	user.ID = "user-new"
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return nil
}

func (m *mockAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (m *mockAuthRepo) UpdateLastLogin(_ context.Context, id string, _ time.Time) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	for _, t := range m.refreshTokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	if m.createTokenErr != nil {
		return m.createTokenErr
	}
	copied := *token
	m.refreshTokens[token.Token] = &copied
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	t, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *t
	return &copied, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, t := range m.refreshTokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type resetTokenStoreStub struct {
	tokens   map[string]string
	issueErr error
}

func (s *resetTokenStoreStub) Issue(_ context.Context, userID string) (string, error) {
	if s.issueErr != nil {
		return "", s.issueErr
	}
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	token := "reset-" + userID
	s.tokens[token] = userID
	return token, nil
}

func (s *resetTokenStoreStub) Consume(_ context.Context, token string) (string, error) {
	userID, ok := s.tokens[token]
	if !ok {
		return "", ErrResetTokenNotFound
	}
	delete(s.tokens, token)
	return userID, nil
}

type welcomeNotifierStub struct {
	welcomed []string
}

func (s *welcomeNotifierStub) NotifyWelcome(_ context.Context, userID string) {
	s.welcomed = append(s.welcomed, userID)
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newAuthTestService(repo *mockAuthRepo, resets *resetTokenStoreStub, notifier *welcomeNotifierStub) *AuthService {
	return NewAuthService(repo, resets, notifier, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "aneti-api",
		Audience:           []string{"aneti-clients"},
	})
}

func authTestUser(t *testing.T) *models.User {
	t.Helper()
	return &models.User{
		ID:           "user-1",
		Email:        "ana@example.com",
		PasswordHash: hashPassword(t, "correct-horse"),
		FullName:     "Ana Martins",
		Role:         models.RoleMember,
		Status:       models.UserStatusApproved,
		Active:       true,
	}
}

func TestAuthServiceRegisterCreatesPendingAccount(t *testing.T) {
	repo := newMockAuthRepo()
	notifier := &welcomeNotifierStub{}
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, notifier)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "bruno@example.com",
		Password: "secret-pass",
		FullName: "Bruno Costa",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, user.Role)
	assert.Equal(t, models.UserStatusPending, user.Status)
	assert.Nil(t, user.PlanID)
	assert.True(t, user.Active)
	assert.NotEqual(t, "secret-pass", user.PasswordHash)
	assert.Equal(t, []string{user.ID}, notifier.welcomed)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionRegister, repo.auditLogs[0].Action)
}

func TestAuthServiceRegisterDuplicateEmail(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "ana@example.com",
		Password: "secret-pass",
		FullName: "Ana Again",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRegisterRejectsShortPassword(t *testing.T) {
	svc := newAuthTestService(newMockAuthRepo(), &resetTokenStoreStub{}, &welcomeNotifierStub{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "short@example.com",
		Password: "abc",
		FullName: "Short Pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ana@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "user-1", resp.User.ID)
	assert.True(t, repo.lastLoginUpdated)
	assert.Len(t, repo.refreshTokens, 1)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ana@example.com",
		Password: "wrong-pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newAuthTestService(newMockAuthRepo(), &resetTokenStoreStub{}, &welcomeNotifierStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever-pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	user := authTestUser(t)
	user.Active = false
	svc := newAuthTestService(newMockAuthRepo(user), &resetTokenStoreStub{}, &welcomeNotifierStub{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ana@example.com",
		Password: "correct-horse",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ana@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	resp, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEqual(t, login.RefreshToken, resp.RefreshToken)

	old := repo.refreshTokens[login.RefreshToken]
	require.NotNil(t, old)
	assert.True(t, old.Revoked)

	// the rotated-out token must not be accepted again
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshTokenExpired(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	repo.refreshTokens["stale"] = &models.RefreshToken{
		ID:        "token-1",
		UserID:    "user-1",
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "stale"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutRevokesToken(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "ana@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "user-1", models.LoginRequest{}))
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)
}

func TestAuthServiceLogoutForeignToken(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	repo.refreshTokens["other"] = &models.RefreshToken{
		ID:        "token-2",
		UserID:    "user-2",
		Token:     "other",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	err := svc.Logout(context.Background(), "other", "user-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePassword(t *testing.T) {
	user := authTestUser(t)
	oldHash := user.PasswordHash
	repo := newMockAuthRepo(user)
	repo.refreshTokens["session"] = &models.RefreshToken{
		ID:        "token-3",
		UserID:    "user-1",
		Token:     "session",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "correct-horse",
		NewPassword: "new-password",
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.users["user-1"].PasswordHash)
	assert.True(t, repo.refreshTokens["session"].Revoked)
}

func TestAuthServiceChangePasswordWrongOldPassword(t *testing.T) {
	repo := newMockAuthRepo(authTestUser(t))
	svc := newAuthTestService(repo, &resetTokenStoreStub{}, &welcomeNotifierStub{})

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{
		OldPassword: "not-the-password",
		NewPassword: "new-password",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateToken(t *testing.T) {
	user := authTestUser(t)
	svc := newAuthTestService(newMockAuthRepo(user), &resetTokenStoreStub{}, &welcomeNotifierStub{})

	signed, _, err := svc.generateAccessToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleMember, claims.Role)
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestAuthServiceValidateTokenBadSignature(t *testing.T) {
	user := authTestUser(t)
	issuer := newAuthTestService(newMockAuthRepo(user), &resetTokenStoreStub{}, &welcomeNotifierStub{})
	signed, _, err := issuer.generateAccessToken(user)
	require.NoError(t, err)

	verifier := NewAuthService(newMockAuthRepo(user), &resetTokenStoreStub{}, &welcomeNotifierStub{}, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: time.Hour,
	})
	_, err = verifier.ValidateToken(signed)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceForgotPasswordIssuesToken(t *testing.T) {
	resets := &resetTokenStoreStub{}
	svc := newAuthTestService(newMockAuthRepo(authTestUser(t)), resets, &welcomeNotifierStub{})

	token, err := svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "ana@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "user-1", resets.tokens[token])
}

func TestAuthServiceForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	resets := &resetTokenStoreStub{}
	svc := newAuthTestService(newMockAuthRepo(), resets, &welcomeNotifierStub{})

	token, err := svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, resets.tokens)
}

func TestAuthServiceResetPassword(t *testing.T) {
	user := authTestUser(t)
	oldHash := user.PasswordHash
	repo := newMockAuthRepo(user)
	repo.refreshTokens["session"] = &models.RefreshToken{
		ID:        "token-4",
		UserID:    "user-1",
		Token:     "session",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	resets := &resetTokenStoreStub{}
	svc := newAuthTestService(repo, resets, &welcomeNotifierStub{})

	token, err := svc.ForgotPassword(context.Background(), models.ResetPasswordRequest{Email: "ana@example.com"})
	require.NoError(t, err)

	err = svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{
		Token:       token,
		NewPassword: "brand-new-pass",
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.users["user-1"].PasswordHash)
	assert.True(t, repo.refreshTokens["session"].Revoked)

	// a reset token is single use
	err = svc.ResetPassword(context.Background(), models.ConfirmResetPasswordRequest{
		Token:       token,
		NewPassword: "another-pass",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
