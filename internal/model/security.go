package model

import (
	"time"

	"github.com/google/uuid"
)

type SecurityAction string

const (
	ActionRead     SecurityAction = "read"
	ActionCreate   SecurityAction = "create"
	ActionEdit     SecurityAction = "edit"
	ActionDelete   SecurityAction = "delete"
	ActionMove     SecurityAction = "move"
	ActionCopy     SecurityAction = "copy"
	ActionMoveTo   SecurityAction = "move_to"
	ActionCopyTo   SecurityAction = "copy_to"
	ActionDownload SecurityAction = "download"
	ActionEditRoom SecurityAction = "edit_room"
)

type FileShare int

const (
	ShareNone FileShare = iota
	ShareReadWrite
	ShareRead
	ShareRestrict
	ShareVaries
	ShareReview
	ShareComment
	ShareFillForms
	ShareCustomFilter
	ShareRoomManager
	ShareEditing
	ShareContentCreator
)

// Ace is one sharing record: Subject has Share access to the entry addressed by Ref.
type Ace struct {
	TenantID  int       `json:"tenant_id"`
	Ref       EntryRef  `json:"ref"`
	Subject   uuid.UUID `json:"subject"`
	Owner     uuid.UUID `json:"owner"`
	Share     FileShare `json:"share"`
	Timestamp time.Time `json:"timestamp"`
}

type TagType int

const (
	TagNew TagType = 1 << iota
	TagFavorite
	TagSystem
	TagLocked
	TagRecent
	TagTemplate
	TagCustom
	TagPin
	TagOrigin
)

// Tag links a named marker to an entry. New tags carry a per-owner Count of unread
// items at or below the entry.
type Tag struct {
	ID       int       `json:"id"`
	TenantID int       `json:"tenant_id"`
	Name     string    `json:"name"`
	Type     TagType   `json:"type"`
	Owner    uuid.UUID `json:"owner"`
	Ref      EntryRef  `json:"ref"`
	Count    int       `json:"count"`
	CreateOn time.Time `json:"create_on"`
}
