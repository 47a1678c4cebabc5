package models

import (
	"encoding/json"
	"time"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionCreate   = "CREATE"
	AuditActionUpdate   = "UPDATE"
	AuditActionDelete   = "DELETE"
	AuditActionUpload   = "UPLOAD"
	AuditActionDownload = "DOWNLOAD"
	AuditActionLogin    = "LOGIN"
)

// Audit entity types.
const (
	AuditEntityUser         = "USER"
	AuditEntityScheme       = "EVALUATION_SCHEME"
	AuditEntityStudentMarks = "STUDENT_MARKS"
	AuditEntityAttendance   = "ATTENDANCE"
	AuditEntityAuth         = "AUTH"
	AuditEntityAuditLog     = "AUDIT_LOG"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID          string          `db:"id" json:"id"`
	UserID      *string         `db:"user_id" json:"user_id,omitempty"`
	Action      string          `db:"action" json:"action"`
	EntityType  string          `db:"entity_type" json:"entity_type"`
	EntityID    *string         `db:"entity_id" json:"entity_id,omitempty"`
	OldValue    json.RawMessage `db:"old_value" json:"old_value,omitempty"`
	NewValue    json.RawMessage `db:"new_value" json:"new_value,omitempty"`
	Description string          `db:"description" json:"description"`
	IPAddress   string          `db:"ip_address" json:"ip_address"`
	UserAgent   string          `db:"user_agent" json:"user_agent"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// AuditActor identifies who triggered a mutation and from where.
type AuditActor struct {
	UserID    string
	IPAddress string
	UserAgent string
}
