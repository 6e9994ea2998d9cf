package native

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

var rootTitles = map[model.FolderType]string{
	model.FolderTypeUser:          "My documents",
	model.FolderTypeCommon:        "Common",
	model.FolderTypeShare:         "Shared with me",
	model.FolderTypeProjects:      "Projects",
	model.FolderTypeTrash:         "Trash",
	model.FolderTypeFavorites:     "Favorites",
	model.FolderTypeRecent:        "Recent",
	model.FolderTypePrivacy:       "Private",
	model.FolderTypeVirtualRooms:  "Rooms",
	model.FolderTypeArchive:       "Archive",
	model.FolderTypeRoomTemplates: "Templates",
}

// Roots resolves the well-known root folders of a tenant, creating them on
// first use. Owner-scoped roots (My, Trash, Privacy) exist once per user.
type Roots struct {
	store    store.Store
	tenantID int

	mu sync.Mutex
}

func NewRoots(st store.Store, tenantID int) *Roots {
	return &Roots{store: st, tenantID: tenantID}
}

func (r *Roots) Get(ctx context.Context, folderType model.FolderType, owner uuid.UUID) (int, error) {
	if !folderType.IsRoot() {
		return 0, fmt.Errorf("%w: %s is not a root folder type", model.ErrInvalidInput, folderType)
	}

	id, err := r.store.FindRoot(ctx, r.tenantID, folderType, owner)
	if err != nil || id != 0 {
		return id, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, err = r.store.FindRoot(ctx, r.tenantID, folderType, owner); err != nil || id != 0 {
		return id, err
	}

	createBy := owner
	if !folderType.OwnerScoped() {
		createBy = uuid.Nil
	}
	now := time.Now().UTC()
	id, err = r.store.InsertFolder(ctx, &model.Folder[int]{
		Entry: model.Entry[int]{
			Title:      rootTitles[folderType],
			TenantID:   r.tenantID,
			CreateBy:   createBy,
			CreateOn:   now,
			ModifiedBy: createBy,
			ModifiedOn: now,
		},
		FolderType: folderType,
	})
	if err != nil {
		return 0, fmt.Errorf("create %s root: %w", folderType, err)
	}
	return id, nil
}

func (r *Roots) My(ctx context.Context, owner uuid.UUID) (int, error) {
	return r.Get(ctx, model.FolderTypeUser, owner)
}

func (r *Roots) Trash(ctx context.Context, owner uuid.UUID) (int, error) {
	return r.Get(ctx, model.FolderTypeTrash, owner)
}

func (r *Roots) VirtualRooms(ctx context.Context) (int, error) {
	return r.Get(ctx, model.FolderTypeVirtualRooms, uuid.Nil)
}

func (r *Roots) Archive(ctx context.Context) (int, error) {
	return r.Get(ctx, model.FolderTypeArchive, uuid.Nil)
}
