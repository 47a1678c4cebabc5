package dto

import "github.com/noah-isme/academic-records-api/internal/models"

// CreateUserRequest captures POST /users payload.
type CreateUserRequest struct {
	Email            string          `json:"email" validate:"required,email"`
	Password         string          `json:"password" validate:"required,min=8"`
	FirstName        string          `json:"first_name" validate:"required"`
	LastName         string          `json:"last_name"`
	Role             models.UserRole `json:"role" validate:"required,oneof=ADMIN HOD FACULTY STUDENT"`
	Department       string          `json:"department"`
	Semester         int             `json:"semester" validate:"omitempty,min=1,max=8"`
	Section          string          `json:"section"`
	EnrollmentNumber string          `json:"enrollment_number"`
	AssignedSubjects []string        `json:"assigned_subjects" validate:"omitempty,dive,required"`
}

// RefreshTokenRequest captures POST /auth/refresh and /auth/logout payloads.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}
