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

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	findByEmailErr   error
	refreshTokens    map[string]*models.RefreshToken
	createRefreshErr error
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.userByEmail == nil {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil {
		return m.userByID, nil
	}
	if m.userByEmail != nil {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	if token.ID == "" {
		token.ID = "rt-" + token.TokenHash[:8]
	}
	m.refreshTokens[token.TokenHash] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func newTestAuthService(repo *mockAuthRepo, audit auditRecorder) *AuthService {
	return NewAuthService(repo, audit, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
	})
}

func hashedPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	dept := "CSE"
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "hod@example.com", PasswordHash: hashedPassword(t, "password"), Active: true, Role: models.RoleHOD, FirstName: "Asha", LastName: "Rao", Department: &dept}}
	audit := &recordingAudit{}
	svc := newTestAuthService(repo, audit)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "hod@example.com", Password: "password", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, "Asha Rao", res.User.FullName)
	assert.Equal(t, "CSE", res.User.Department)
	assert.True(t, repo.lastLoginUpdated)

	_, storedRaw := repo.refreshTokens[res.RefreshToken]
	assert.False(t, storedRaw, "refresh tokens are stored hashed")
	_, storedHash := repo.refreshTokens[hashRefreshToken(res.RefreshToken)]
	assert.True(t, storedHash)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionLogin, audit.entries[0].Action)
	assert.Equal(t, "10.0.0.1", audit.entries[0].Actor.IPAddress)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleHOD, claims.Role)
	assert.Equal(t, "CSE", claims.Department)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: hashedPassword(t, "password"), Active: true}}
	svc := newTestAuthService(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := &mockAuthRepo{userByEmail: &models.User{ID: "123", Email: "user@example.com", PasswordHash: hashedPassword(t, "password"), Active: false}}
	svc := newTestAuthService(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "user@example.com", Active: true, Role: models.RoleFaculty}
	repo := &mockAuthRepo{userByID: user}
	old := &models.RefreshToken{ID: "rt1", UserID: user.ID, TokenHash: hashRefreshToken("token"), ExpiresAt: time.Now().Add(time.Hour)}
	repo.refreshTokens = map[string]*models.RefreshToken{old.TokenHash: old}
	svc := newTestAuthService(repo, nil)

	res, err := svc.Refresh(context.Background(), "token", models.AuditActor{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.NotNil(t, old.RevokedAt)

	_, err = svc.Refresh(context.Background(), "token", models.AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshExpired(t *testing.T) {
	repo := &mockAuthRepo{userByID: &models.User{ID: "u1", Active: true}}
	expired := &models.RefreshToken{ID: "rt1", UserID: "u1", TokenHash: hashRefreshToken("token"), ExpiresAt: time.Now().Add(-time.Minute)}
	repo.refreshTokens = map[string]*models.RefreshToken{expired.TokenHash: expired}
	svc := newTestAuthService(repo, nil)

	_, err := svc.Refresh(context.Background(), "token", models.AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	token := &models.RefreshToken{ID: "rt1", UserID: "owner", TokenHash: hashRefreshToken("token"), ExpiresAt: time.Now().Add(time.Hour)}
	repo := &mockAuthRepo{refreshTokens: map[string]*models.RefreshToken{token.TokenHash: token}}
	svc := newTestAuthService(repo, nil)

	err := svc.Logout(context.Background(), "token", models.AuditActor{UserID: "intruder"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Nil(t, token.RevokedAt)

	require.NoError(t, svc.Logout(context.Background(), "token", models.AuditActor{UserID: "owner"}))
	assert.NotNil(t, token.RevokedAt)
}

func TestValidateTokenRejectsOtherSecret(t *testing.T) {
	svc := newTestAuthService(&mockAuthRepo{}, nil)
	other := NewAuthService(&mockAuthRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour})
	token, err := other.generateAccessToken(&models.User{ID: "u1", Role: models.RoleAdmin}, time.Now().UTC())
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
