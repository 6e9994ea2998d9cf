package model

import (
	"fmt"
	"strings"
)

type FolderType int

const (
	FolderTypeDefault       FolderType = 0
	FolderTypeCommon        FolderType = 1
	FolderTypeTrash         FolderType = 3
	FolderTypeUser          FolderType = 5
	FolderTypeShare         FolderType = 6
	FolderTypeProjects      FolderType = 8
	FolderTypeFavorites     FolderType = 10
	FolderTypeRecent        FolderType = 11
	FolderTypePrivacy       FolderType = 13
	FolderTypeVirtualRooms  FolderType = 14
	FolderTypeFillingForms  FolderType = 15
	FolderTypeEditingRoom   FolderType = 16
	FolderTypeCustomRoom    FolderType = 19
	FolderTypeArchive       FolderType = 20
	FolderTypePublicRoom    FolderType = 22
	FolderTypeFormRoom      FolderType = 25
	FolderTypeRoomTemplates FolderType = 30
)

var folderTypeNames = map[FolderType]string{
	FolderTypeDefault:       "default",
	FolderTypeCommon:        "common",
	FolderTypeTrash:         "trash",
	FolderTypeUser:          "user",
	FolderTypeShare:         "share",
	FolderTypeProjects:      "projects",
	FolderTypeFavorites:     "favorites",
	FolderTypeRecent:        "recent",
	FolderTypePrivacy:       "privacy",
	FolderTypeVirtualRooms:  "virtual_rooms",
	FolderTypeFillingForms:  "filling_forms_room",
	FolderTypeEditingRoom:   "editing_room",
	FolderTypeCustomRoom:    "custom_room",
	FolderTypeArchive:       "archive",
	FolderTypePublicRoom:    "public_room",
	FolderTypeFormRoom:      "form_room",
	FolderTypeRoomTemplates: "room_templates",
}

func (t FolderType) String() string {
	if name, ok := folderTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("folder_type(%d)", int(t))
}

func (t FolderType) IsRoom() bool {
	switch t {
	case FolderTypeFillingForms, FolderTypeEditingRoom, FolderTypeCustomRoom, FolderTypePublicRoom, FolderTypeFormRoom:
		return true
	default:
		return false
	}
}

func (t FolderType) IsRoot() bool {
	switch t {
	case FolderTypeCommon, FolderTypeTrash, FolderTypeUser, FolderTypeShare, FolderTypeProjects,
		FolderTypeFavorites, FolderTypeRecent, FolderTypePrivacy, FolderTypeVirtualRooms,
		FolderTypeArchive, FolderTypeRoomTemplates:
		return true
	default:
		return false
	}
}

// OwnerScoped roots exist once per user, the others once per tenant.
func (t FolderType) OwnerScoped() bool {
	switch t {
	case FolderTypeUser, FolderTypeTrash, FolderTypePrivacy:
		return true
	default:
		return false
	}
}

type ProviderType string

const (
	ProviderBox         ProviderType = "Box"
	ProviderDropbox     ProviderType = "DropboxV2"
	ProviderGoogleDrive ProviderType = "GoogleDrive"
	ProviderOneDrive    ProviderType = "OneDrive"
	ProviderSharePoint  ProviderType = "SharePoint"
	ProviderWebDav      ProviderType = "WebDav"
)

// ParseProviderType accepts the canonical key case-insensitively.
func ParseProviderType(raw string) (ProviderType, error) {
	for _, p := range []ProviderType{ProviderBox, ProviderDropbox, ProviderGoogleDrive, ProviderOneDrive, ProviderSharePoint, ProviderWebDav} {
		if strings.EqualFold(raw, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", raw)
}

type ConflictResolve int

const (
	ConflictSkip ConflictResolve = iota
	ConflictOverwrite
	ConflictDuplicate
)

func (c ConflictResolve) String() string {
	switch c {
	case ConflictOverwrite:
		return "overwrite"
	case ConflictDuplicate:
		return "duplicate"
	default:
		return "skip"
	}
}

// ParseConflictResolve defaults to Skip for empty input.
func ParseConflictResolve(raw string) (ConflictResolve, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "skip":
		return ConflictSkip, nil
	case "overwrite":
		return ConflictOverwrite, nil
	case "duplicate":
		return ConflictDuplicate, nil
	default:
		return ConflictSkip, fmt.Errorf("%w: conflict policy %q", ErrInvalidInput, raw)
	}
}

func (c ConflictResolve) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ConflictResolve) UnmarshalText(b []byte) error {
	v, err := ParseConflictResolve(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
