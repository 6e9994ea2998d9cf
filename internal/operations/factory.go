// Package operations runs the bulk file operations: move, copy, delete,
// empty trash, download, mark as read and duplicate. Every operation is split
// into a native and a third-party sub-operation reported through one
// Composite.
package operations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-docspace/internal/dao"
	"go-docspace/internal/dao/native"
	"go-docspace/internal/dao/thirdparty"
	"go-docspace/internal/event"
	"go-docspace/internal/marker"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/security"
	"go-docspace/internal/storage"
	"go-docspace/internal/store"
	"go-docspace/internal/tracker"
	"go-docspace/internal/transfer"
)

type RoomQuota interface {
	Reserve(ctx context.Context, tenantID int) error
	Release(ctx context.Context, tenantID int) error
}

type RoomNotifier interface {
	SendRoomRemoved(ctx context.Context, actor model.Actor, roomID, title string, aces []model.Ace)
}

type EditingTracker interface {
	IsEditing(key string, except uuid.UUID) bool
}

type Converter interface {
	transfer.Converter
	CanConvert(from, to string) bool
}

// Deps are the process-wide collaborators shared by every operation.
type Deps struct {
	Store         store.Store
	Content       storage.Backend
	Temp          storage.Backend
	NativeUploads *dao.Uploads[int]
	ThirdUploads  *dao.Uploads[string]
	Sessions      thirdparty.Sessions
	Security      security.Oracle
	Audit         notify.Sender
	Notifier      RoomNotifier
	Marker        *marker.Marker
	Rooms         RoomQuota
	Editors       EditingTracker
	Converter     Converter
	Bus           event.Bus
}

type Config struct {
	MaxTransferFileSize     int64
	DownloadMaxPathLength   int
	DownloadPathPlaceholder string
	PrivacyEnabled          bool
}

type Factory struct {
	deps Deps
	cfg  Config
}

func NewFactory(deps Deps, cfg Config) *Factory {
	if cfg.DownloadPathPlaceholder == "" {
		cfg.DownloadPathPlaceholder = "long_path"
	}
	return &Factory{deps: deps, cfg: cfg}
}

// Operation is a rebuilt bulk operation ready to run.
type Operation struct {
	Kind  model.OperationType
	Input Input

	run func(ctx context.Context, c *Composite)
}

// Run executes the operation. publish receives a status after every step;
// the final status is returned. Cancelling ctx stops the operation at the
// next entry, keeping what already completed.
func (o *Operation) Run(ctx context.Context, publish func(Status)) Status {
	c := newComposite(publish)
	o.run(ctx, c)
	return c.Status()
}

// New rebuilds the operation described by in.
func (f *Factory) New(in Input) (*Operation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ids, err := splitIDs(in.Folders, in.Files)
	if err != nil {
		return nil, err
	}

	op := &Operation{Kind: in.Operation, Input: in}
	switch in.Operation {
	case model.OperationMove, model.OperationCopy:
		to, err := parseDest(in.DestFolderID)
		if err != nil {
			return nil, err
		}
		op.run = f.moveCopy(in, ids, to)
	case model.OperationDelete:
		op.run = f.delete(in, ids)
	case model.OperationEmptyTrash:
		op.run = f.emptyTrash(in)
	case model.OperationDownload:
		op.run = f.download(in, ids)
	case model.OperationMarkAsRead:
		op.run = f.markAsRead(in, ids)
	case model.OperationDuplicate:
		op.run = f.duplicate(in, ids)
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", model.ErrInvalidInput, in.Operation)
	}
	return op, nil
}

// scope binds the daos to the actor an operation runs for.
type scope struct {
	*Factory
	actor   model.Actor
	headers map[string]string
	native  *native.Dao
	third   *thirdparty.Dao
	roots   *native.Roots
	engine  *transfer.Engine
}

func (f *Factory) scope(in Input) *scope {
	tenant := in.Actor.TenantID
	return &scope{
		Factory: f,
		actor:   in.Actor,
		headers: in.Headers,
		native:  native.New(f.deps.Store, f.deps.Content, f.deps.NativeUploads, tenant, in.Actor.UserID),
		third:   thirdparty.New(f.deps.Store, f.deps.Sessions, f.deps.ThirdUploads, tenant),
		roots:   native.NewRoots(f.deps.Store, tenant),
		engine:  transfer.New(f.deps.Store, f.deps.Converter, f.cfg.MaxTransferFileSize),
	}
}

func (s *scope) tenant() int { return s.actor.TenantID }

func (s *scope) audit(action notify.Action, target string, titles ...string) {
	if s.deps.Audit != nil {
		s.deps.Audit.Send(s.actor, action, target, s.headers, titles...)
	}
}

// editing reports whether someone other than the actor has the file open.
func (s *scope) editing(ref model.EntryRef) bool {
	if s.deps.Editors == nil {
		return false
	}
	return s.deps.Editors.IsEditing(tracker.EditKey(s.tenant(), ref.Key), s.actor.UserID)
}

// checkFileFree fails when the file is locked or open in an editor by someone else.
func (s *scope) checkFileFree(lockedBy uuid.UUID, ref model.EntryRef) error {
	if lockedBy != uuid.Nil && lockedBy != s.actor.UserID {
		return model.ErrLockedFile
	}
	if s.editing(ref) {
		return model.ErrEditingConflict
	}
	return nil
}

func (s *scope) check(ctx context.Context, action model.SecurityAction, subject security.Subject) error {
	return security.Check(ctx, s.deps.Security, s.actor, action, subject)
}

type subOp func(ctx context.Context, p *Progress) error

// concurrently runs the native and third-party halves side by side. Each
// half finishes on its own; a failure of one never stops the other.
func concurrently(ctx context.Context, c *Composite, nativeOp, thirdOp subOp) {
	var g errgroup.Group
	g.Go(func() error { runSub(ctx, c.Native, nativeOp, "native"); return nil })
	g.Go(func() error { runSub(ctx, c.Third, thirdOp, "third_party"); return nil })
	_ = g.Wait()
}

func runSub(ctx context.Context, p *Progress, op subOp, space string) {
	defer p.Finish()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("operation panicked", "id_space", space, "panic", r)
			p.SetError(fmt.Errorf("internal error: %v", r))
		}
	}()
	if op == nil {
		return
	}
	if err := op(ctx, p); err != nil {
		if !model.IsCancellation(err) {
			slog.Warn("sub-operation failed", "id_space", space, "error", err)
		}
		p.SetError(err)
	}
}

// ── Entry helpers ────────────────────────────────────────────────

// ancestors returns the refs of parentID and everything above it, nearest
// first, together with the folders themselves (root first).
func ancestors[T model.ID](ctx context.Context, d dao.Dao[T], parentID T) ([]model.EntryRef, []*model.Folder[T], error) {
	var zero T
	if parentID == zero {
		return nil, nil, nil
	}
	chain, err := d.GetParentFolders(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	refs := make([]model.EntryRef, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		key, err := d.Key(ctx, chain[i].ID)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, model.FolderRef(key))
	}
	return refs, chain, nil
}

// subjectOf describes entry for the security oracle.
func subjectOf[T model.ID](ctx context.Context, d dao.Dao[T], entry model.FileEntry[T]) (security.Subject, []*model.Folder[T], error) {
	ref, err := dao.Ref(ctx, d, entry)
	if err != nil {
		return security.Subject{}, nil, err
	}
	parents, chain, err := ancestors(ctx, d, entry.Common().ParentID)
	if err != nil {
		return security.Subject{}, nil, err
	}
	return security.SubjectOf(ref, entry, parents...), chain, nil
}

// isLinkRoot reports whether f is the root of a connected provider storage.
func isLinkRoot[T model.ID](f *model.Folder[T]) bool {
	var zero T
	return f.ProviderEntry && f.ParentID == zero
}

func tokenOf[T model.ID](entry model.FileEntry[T]) string {
	if entry.EntryType() == model.EntryTypeFolder {
		return model.FolderToken(entry.Common().ID)
	}
	return model.FileToken(entry.Common().ID)
}

func idString[T model.ID](id T) string { return fmt.Sprint(id) }
