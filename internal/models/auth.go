package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Role       UserRole `json:"role"`
	Department string   `json:"department,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email"`
	Department string   `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// RefreshToken is a persisted refresh session.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress string     `db:"ip_address" json:"ip_address"`
	UserAgent string     `db:"user_agent" json:"user_agent"`
}

// Active reports whether the session can still be exchanged at the given instant.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Viewer identifies the caller of a read operation for row-level visibility checks.
type Viewer struct {
	UserID     string
	Role       UserRole
	Department string
}

// DepartmentScope returns the department a listing is restricted to. An explicit request wins;
// otherwise a HOD sees only their own department.
func (v Viewer) DepartmentScope(requested string) string {
	if requested != "" {
		return requested
	}
	if v.Role == RoleHOD {
		return v.Department
	}
	return ""
}

// CanSeeDepartment reports whether department-level analytics are visible to the viewer.
func (v Viewer) CanSeeDepartment(department string) bool {
	return v.Role != RoleHOD || v.Department == "" || v.Department == department
}

// IsStudent reports whether the viewer may only see their own records.
func (v Viewer) IsStudent() bool {
	return v.Role == RoleStudent
}
