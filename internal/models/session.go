package models

import "time"

// Session is an authenticated caller of the API.
type Session struct {
	Token        string    `json:"token"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// IsExpired checks if session has expired
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// UpdateActivity updates the last activity timestamp
func (s *Session) UpdateActivity() {
	s.LastActivity = time.Now()
}

// Caller derives the identity used for quotas.
func (s *Session) Caller() Caller {
	return Caller{UserID: s.UserID, Role: s.Role}
}
