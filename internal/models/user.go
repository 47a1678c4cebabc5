package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleHOD     UserRole = "HOD"
	RoleFaculty UserRole = "FACULTY"
	RoleStudent UserRole = "STUDENT"
)

// Valid reports whether the role is known.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleHOD, RoleFaculty, RoleStudent:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	Role             UserRole   `db:"role" json:"role"`
	Department       *string    `db:"department" json:"department,omitempty"`
	Semester         *int       `db:"semester" json:"semester,omitempty"`
	Section          *string    `db:"section" json:"section,omitempty"`
	EnrollmentNumber *string    `db:"enrollment_number" json:"enrollment_number,omitempty"`
	Active           bool       `db:"active" json:"active"`
	LastLogin        *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last names.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// RosterFilter selects active students of a department/semester/section.
type RosterFilter struct {
	Department string
	Semester   int
	Section    string
}

// UserFilter narrows the user listing.
type UserFilter struct {
	Role       UserRole
	Department string
	Semester   int
	Section    string
	Search     string
	Page       int
	PageSize   int
}
