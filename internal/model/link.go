package model

import (
	"time"

	"github.com/google/uuid"
)

// ProviderLink is a connected third-party account, optionally promoted to a room.
// Credentials and Token are stored encrypted.
type ProviderLink struct {
	ID          int          `json:"id"`
	TenantID    int          `json:"tenant_id"`
	Provider    ProviderType `json:"provider"`
	Title       string       `json:"title"`
	Credentials string       `json:"-"`
	Token       string       `json:"-"`
	URL         string       `json:"url,omitempty"`
	FolderID    string       `json:"folder_id,omitempty"`
	FolderType  FolderType   `json:"folder_type"`
	RoomType    FolderType   `json:"room_type,omitempty"`
	Owner       uuid.UUID    `json:"owner"`
	Private     bool         `json:"private"`
	HasLogo     bool         `json:"has_logo"`
	Color       string       `json:"color,omitempty"`
	CreateOn    time.Time    `json:"create_on"`
	ModifiedOn  time.Time    `json:"modified_on"`
}

// IsRoom reports whether the link backs a room rather than a plain linked folder.
func (l *ProviderLink) IsRoom() bool { return l.RoomType.IsRoom() }
