package models

import "strings"

// UserRole is the tier that selects a caller's daily quotas.
type UserRole string

const (
	RoleAnalyst   UserRole = "analyst"
	RoleManager   UserRole = "manager"
	RoleExecutive UserRole = "executive"
	RoleAdmin     UserRole = "admin"
)

// ParseUserRole falls back to analyst for anything unknown.
func ParseUserRole(s string) UserRole {
	switch r := UserRole(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleManager, RoleExecutive, RoleAdmin:
		return r
	default:
		return RoleAnalyst
	}
}

// Caller identifies who a request is made for. An empty UserID means
// anonymous: only global quotas apply.
type Caller struct {
	UserID string   `json:"userId,omitempty"`
	Role   UserRole `json:"role"`
}

// Anonymous returns the caller used when no session is attached.
func Anonymous() Caller {
	return Caller{Role: RoleAnalyst}
}
