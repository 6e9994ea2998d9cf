// Package security answers whether an actor may perform an action on an
// entry. The engine only consumes the yes/no answer.
package security

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

// Subject is the id-space independent view of an entry the oracle decides on.
type Subject struct {
	Ref            model.EntryRef
	Title          string
	TenantID       int
	CreateBy       uuid.UUID
	FolderType     model.FolderType
	RootFolderType model.FolderType
	RootCreateBy   uuid.UUID
	ProviderEntry  bool
	// Parents are the refs of the enclosing folders, nearest first. Shares
	// granted on a parent apply to the subject.
	Parents []model.EntryRef
}

// SubjectOf builds the subject of entry stored under ref.
func SubjectOf[T model.ID](ref model.EntryRef, entry model.FileEntry[T], parents ...model.EntryRef) Subject {
	c := entry.Common()
	s := Subject{
		Ref:            ref,
		Title:          c.Title,
		TenantID:       c.TenantID,
		CreateBy:       c.CreateBy,
		RootFolderType: c.RootFolderType,
		RootCreateBy:   c.RootCreateBy,
		ProviderEntry:  c.ProviderEntry,
		Parents:        parents,
	}
	if f, ok := entry.(*model.Folder[T]); ok {
		s.FolderType = f.FolderType
	}
	return s
}

type Oracle interface {
	Can(ctx context.Context, actor model.Actor, action model.SecurityAction, s Subject) (bool, error)
}

// Check turns a denial into a SecurityError.
func Check(ctx context.Context, o Oracle, actor model.Actor, action model.SecurityAction, s Subject) error {
	ok, err := o.Can(ctx, actor, action, s)
	if err != nil {
		return fmt.Errorf("check %s access: %w", action, err)
	}
	if !ok {
		return model.NewSecurityError(action, s.Title)
	}
	return nil
}

// AceOracle decides from ownership and the sharing records of the subject
// and its parents.
type AceOracle struct {
	shares store.Shares
}

var _ Oracle = (*AceOracle)(nil)

func NewAceOracle(shares store.Shares) *AceOracle {
	return &AceOracle{shares: shares}
}

func (o *AceOracle) Can(ctx context.Context, actor model.Actor, action model.SecurityAction, s Subject) (bool, error) {
	if s.TenantID != actor.TenantID {
		return false, nil
	}
	if actor.IsAdmin {
		return true, nil
	}
	if actor.External != nil {
		// External sessions only ever read through the link that let them in.
		if !readOnly(action) {
			return false, nil
		}
	} else if owns(actor.UserID, s) {
		return true, nil
	}

	if s.FolderType.IsRoot() {
		return rootAllows(action, s.FolderType), nil
	}

	refs := append([]model.EntryRef{s.Ref}, s.Parents...)
	aces, err := o.shares.GetShares(ctx, s.TenantID, refs...)
	if err != nil {
		return false, err
	}

	// The nearest record wins, so an explicit restriction on the entry beats
	// a grant on its room.
	for _, ref := range refs {
		for _, ace := range aces {
			if ace.Ref != ref || ace.Subject != actor.UserID {
				continue
			}
			return allows(ace.Share, action), nil
		}
	}

	if s.RootFolderType == model.FolderTypeCommon {
		return readOnly(action), nil
	}
	return false, nil
}

func owns(user uuid.UUID, s Subject) bool {
	if user == uuid.Nil {
		return false
	}
	if s.RootFolderType.OwnerScoped() && s.RootCreateBy == user {
		return true
	}
	return s.CreateBy == user
}

func readOnly(action model.SecurityAction) bool {
	switch action {
	case model.ActionRead, model.ActionDownload, model.ActionCopy:
		return true
	}
	return false
}

// rootAllows covers well-known roots, which carry no sharing records.
func rootAllows(action model.SecurityAction, root model.FolderType) bool {
	switch root {
	case model.FolderTypeCommon, model.FolderTypeShare:
		return readOnly(action)
	case model.FolderTypeVirtualRooms:
		return readOnly(action) || action == model.ActionMoveTo
	}
	return false
}

func allows(share model.FileShare, action model.SecurityAction) bool {
	switch share {
	case model.ShareNone, model.ShareRestrict:
		return false
	case model.ShareReadWrite, model.ShareRoomManager:
		return true
	case model.ShareContentCreator:
		return action != model.ActionEditRoom
	case model.ShareEditing:
		return readOnly(action) || action == model.ActionEdit
	default:
		return readOnly(action)
	}
}
