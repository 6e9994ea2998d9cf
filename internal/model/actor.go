package model

import "github.com/google/uuid"

// Actor is the principal an operation runs on behalf of.
type Actor struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID int       `json:"tenant_id"`
	IsAdmin  bool      `json:"is_admin,omitempty"`
	IP       string    `json:"ip,omitempty"`

	// External is set for unauthenticated external-share sessions.
	External *ExternalSession `json:"external,omitempty"`
}

type ExternalSession struct {
	LinkID    uuid.UUID `json:"link_id"`
	SessionID string    `json:"session_id"`
}

// Key identifies the principal for task ownership and download storage.
func (a Actor) Key() string {
	if a.External != nil {
		return a.External.LinkID.String() + "/" + a.External.SessionID
	}
	return a.UserID.String()
}
