package operations

import (
	"context"
	"fmt"
	"log/slog"

	"go-docspace/internal/dao"
	"go-docspace/internal/dao/native"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/transfer"
)

func (f *Factory) delete(in Input, ids idSet) func(context.Context, *Composite) {
	return func(ctx context.Context, c *Composite) {
		s := f.scope(in)
		concurrently(ctx, c,
			func(ctx context.Context, p *Progress) error {
				d := &deleter[int]{scope: s, d: s.native, progress: p, immediately: in.Immediately, hidden: in.Hidden}
				return d.execute(ctx, ids.nativeFolders, ids.nativeFiles)
			},
			func(ctx context.Context, p *Progress) error {
				d := &deleter[string]{scope: s, d: s.third, progress: p, immediately: in.Immediately, hidden: in.Hidden}
				return d.execute(ctx, ids.thirdFolders, ids.thirdFiles)
			})
	}
}

type deleter[T model.ID] struct {
	*scope
	d           dao.Dao[T]
	progress    *Progress
	immediately bool
	hidden      bool
	// quiet suppresses per-entry audit (empty trash).
	quiet bool
}

func (d *deleter[T]) execute(ctx context.Context, folders, files []T) error {
	d.progress.AddTotal(len(folders) + len(files))
	for _, id := range folders {
		if err := d.step(ctx, id, d.folder); err != nil {
			return err
		}
	}
	for _, id := range files {
		if err := d.step(ctx, id, d.file); err != nil {
			return err
		}
	}
	return nil
}

// step runs one top-level entry; only a cancellation stops the batch.
func (d *deleter[T]) step(ctx context.Context, id T, fn func(context.Context, T) (string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := fn(ctx, id)
	switch {
	case model.IsCancellation(err):
		return err
	case err != nil:
		slog.Warn("entry not deleted", "entry_id", idString(id), "error", err)
		d.progress.SetError(err)
	default:
		d.progress.Complete(tok)
	}
	d.progress.Step(1)
	return nil
}

func (d *deleter[T]) useTrash() bool { return !d.immediately && !d.hidden }

func (d *deleter[T]) folder(ctx context.Context, id T) (string, error) {
	f, err := d.d.GetFolder(ctx, id)
	if err != nil {
		return "", err
	}
	if f.IsRoot() {
		return "", model.ErrSystemFolder
	}
	subject, _, err := subjectOf(ctx, d.d, f)
	if err != nil {
		return "", err
	}
	if err := d.check(ctx, model.ActionDelete, subject); err != nil {
		return "", err
	}
	tok := model.FolderToken(f.ID)

	if f.IsRoom() {
		return tok, d.room(ctx, f, subject.Ref)
	}

	if d.useTrash() && d.d.UseTrashForRemoveFolder(f) {
		if err := toTrash(ctx, d.scope, d.d, model.FileEntry[T](f)); err != nil {
			return "", err
		}
		d.report(notify.FolderMovedToTrash, f.ID, f.Title)
		return tok, nil
	}

	if d.d.CanCalculateSubitems(id) {
		if err := d.d.DeleteFolder(ctx, id); err != nil {
			return "", err
		}
	} else if err := d.walk(ctx, id); err != nil {
		return "", err
	}
	d.report(notify.FolderDeleted, f.ID, f.Title)
	return tok, nil
}

// walk deletes a subtree client-side for backends that cannot do it: files,
// then subfolders, then the folder once nothing below it failed.
func (d *deleter[T]) walk(ctx context.Context, id T) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	files, err := d.d.GetFiles(ctx, id)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		keep(d.d.DeleteFile(ctx, f.ID))
	}

	folders, err := d.d.GetFolders(ctx, id)
	if err != nil {
		return err
	}
	for _, sub := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		keep(d.walk(ctx, sub.ID))
	}

	if first != nil {
		return first
	}
	return d.d.DeleteFolder(ctx, id)
}

// room removes a room for good: its sharing is revoked first and the people
// it was shared with are told.
func (d *deleter[T]) room(ctx context.Context, f *model.Folder[T], ref model.EntryRef) error {
	aces, err := d.deps.Store.GetShares(ctx, d.tenant(), ref)
	if err != nil {
		return fmt.Errorf("read room sharing: %w", err)
	}
	if err := d.deps.Store.DeleteShares(ctx, d.tenant(), ref); err != nil {
		return fmt.Errorf("revoke room sharing: %w", err)
	}
	archived := f.RootFolderType == model.FolderTypeArchive

	if err := d.d.DeleteFolder(ctx, f.ID); err != nil {
		return err
	}

	if d.deps.Notifier != nil {
		d.deps.Notifier.SendRoomRemoved(ctx, d.actor, idString(f.ID), f.Title, aces)
	}
	d.audit(notify.RoomDeleted, idString(f.ID), f.Title)
	if !archived && d.deps.Rooms != nil {
		if err := d.deps.Rooms.Release(ctx, d.tenant()); err != nil {
			slog.Warn("release room quota failed", "tenant_id", d.tenant(), "error", err)
		}
	}
	return nil
}

func (d *deleter[T]) file(ctx context.Context, id T) (string, error) {
	f, err := d.d.GetFile(ctx, id)
	if err != nil {
		return "", err
	}
	subject, _, err := subjectOf(ctx, d.d, f)
	if err != nil {
		return "", err
	}
	if err := d.check(ctx, model.ActionDelete, subject); err != nil {
		return "", err
	}
	if err := d.checkFileFree(f.LockedBy, subject.Ref); err != nil {
		return "", err
	}
	tok := model.FileToken(f.ID)

	if d.useTrash() && d.d.UseTrashForRemoveFile(f) {
		if err := toTrash(ctx, d.scope, d.d, model.FileEntry[T](f)); err != nil {
			return "", err
		}
		d.report(notify.FileMovedToTrash, f.ID, f.Title)
		return tok, nil
	}
	if err := d.d.DeleteFile(ctx, id); err != nil {
		return "", err
	}
	d.report(notify.FileDeleted, f.ID, f.Title)
	return tok, nil
}

func (d *deleter[T]) report(action notify.Action, id T, title string) {
	if !d.quiet {
		d.audit(action, idString(id), title)
	}
}

// toTrash puts entry into the actor's native trash: native entries are
// moved, provider entries are transferred. The new trash entry carries an
// Origin tag naming its former parent.
func toTrash[T model.ID](ctx context.Context, s *scope, d dao.Dao[T], entry model.FileEntry[T]) error {
	trashID, err := s.roots.Trash(ctx, s.actor.UserID)
	if err != nil {
		return err
	}
	c := entry.Common()
	origin := idString(c.ParentID)

	var ref model.EntryRef
	if nd, ok := any(d).(*native.Dao); ok {
		id := any(c.ID).(int)
		switch entry.EntryType() {
		case model.EntryTypeFolder:
			newID, err := nd.MoveFolder(ctx, id, trashID)
			if err != nil {
				return err
			}
			ref = model.FolderRef(idString(newID))
		default:
			newID, err := nd.MoveFile(ctx, id, trashID)
			if err != nil {
				return err
			}
			ref = model.FileRef(idString(newID))
		}
	} else {
		switch entry.EntryType() {
		case model.EntryTypeFolder:
			dst, err := transfer.Folder(ctx, s.engine, d, c.ID, dao.Dao[int](s.native), trashID, true)
			if err != nil {
				return err
			}
			ref = model.FolderRef(idString(dst.ID))
		default:
			dst, err := transfer.File(ctx, s.engine, d, c.ID, dao.Dao[int](s.native), trashID, true)
			if err != nil {
				return err
			}
			ref = model.FileRef(idString(dst.ID))
		}
	}

	return s.deps.Store.SaveTag(ctx, model.Tag{
		TenantID: s.tenant(),
		Name:     origin,
		Type:     model.TagOrigin,
		Owner:    s.actor.UserID,
		Ref:      ref,
	})
}
