package operations

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/security"
	"go-docspace/internal/transfer"
)

func (f *Factory) moveCopy(in Input, ids idSet, to dest) func(context.Context, *Composite) {
	copying := in.Operation == model.OperationCopy
	return func(ctx context.Context, c *Composite) {
		s := f.scope(in)
		if to.third == "" {
			concurrently(ctx, c,
				func(ctx context.Context, p *Progress) error {
					m := newMover[int, int](s, s.native, s.native, to.native, copying, in.Conflict, p)
					return m.execute(ctx, ids.nativeFolders, ids.nativeFiles)
				},
				func(ctx context.Context, p *Progress) error {
					m := newMover[string, int](s, s.third, s.native, to.native, copying, in.Conflict, p)
					return m.execute(ctx, ids.thirdFolders, ids.thirdFiles)
				})
			return
		}
		concurrently(ctx, c,
			func(ctx context.Context, p *Progress) error {
				m := newMover[int, string](s, s.native, s.third, to.third, copying, in.Conflict, p)
				return m.execute(ctx, ids.nativeFolders, ids.nativeFiles)
			},
			func(ctx context.Context, p *Progress) error {
				m := newMover[string, string](s, s.third, s.third, to.third, copying, in.Conflict, p)
				return m.execute(ctx, ids.thirdFolders, ids.thirdFiles)
			})
	}
}

// mover moves or copies entries of one id space (S) into a folder of
// another or the same one (D).
type mover[S, D model.ID] struct {
	*scope
	from     dao.Dao[S]
	to       dao.Dao[D]
	toID     D
	copying  bool
	dup      bool
	conflict model.ConflictResolve
	progress *Progress

	// nested movers work below a top-level entry: no security checks, no
	// badges, no steps.
	nested bool

	dest        *model.Folder[D]
	destChain   []D
	destParents []model.EntryRef
}

func newMover[S, D model.ID](s *scope, from dao.Dao[S], to dao.Dao[D], toID D, copying bool, conflict model.ConflictResolve, p *Progress) *mover[S, D] {
	return &mover[S, D]{scope: s, from: from, to: to, toID: toID, copying: copying, conflict: conflict, progress: p}
}

type job[S model.ID] struct {
	id     S
	folder bool
	weight int
}

func (m *mover[S, D]) execute(ctx context.Context, folders, files []S) error {
	jobs, err := m.prepare(ctx, folders, files)
	if err != nil {
		return err
	}
	return m.run(ctx, jobs)
}

// prepare resolves the destination and announces the work: one step per
// file, one per folder plus one per entry below it.
func (m *mover[S, D]) prepare(ctx context.Context, folders, files []S) ([]job[S], error) {
	if len(folders)+len(files) == 0 {
		return nil, nil
	}
	if err := m.open(ctx); err != nil {
		return nil, err
	}

	jobs := make([]job[S], 0, len(folders)+len(files))
	total := 0
	for _, id := range folders {
		weight := 1
		if n, err := m.from.GetItemsCount(ctx, id); err == nil {
			weight += n
		}
		jobs = append(jobs, job[S]{id: id, folder: true, weight: weight})
		total += weight
	}
	for _, id := range files {
		jobs = append(jobs, job[S]{id: id, weight: 1})
		total++
	}
	m.progress.AddTotal(total)
	return jobs, nil
}

func (m *mover[S, D]) open(ctx context.Context) error {
	dest, err := m.to.GetFolder(ctx, m.toID)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	parents, chain, err := ancestors(ctx, m.to, dest.ParentID)
	if err != nil {
		return err
	}
	key, err := m.to.Key(ctx, dest.ID)
	if err != nil {
		return err
	}

	m.dest = dest
	m.destParents = append([]model.EntryRef{model.FolderRef(key)}, parents...)
	m.destChain = m.destChain[:0]
	for _, f := range chain {
		m.destChain = append(m.destChain, f.ID)
	}
	m.destChain = append(m.destChain, dest.ID)

	// Rooms roots are authorised per room.
	if m.roomsRoot() {
		return nil
	}
	action := model.ActionMoveTo
	if m.copying {
		action = model.ActionCopyTo
	}
	return m.check(ctx, action, security.SubjectOf(model.FolderRef(key), dest, parents...))
}

func (m *mover[S, D]) run(ctx context.Context, jobs []job[S]) error {
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var tok string
		var err error
		if j.folder {
			tok, err = m.folder(ctx, j.id)
		} else {
			tok, err = m.file(ctx, j.id)
		}
		switch {
		case model.IsCancellation(err):
			return err
		case err != nil:
			slog.Warn("entry not processed", "entry_id", idString(j.id), "error", err)
			m.progress.SetError(err)
		default:
			m.progress.Complete(tok)
		}
		m.progress.Step(j.weight)
	}
	return nil
}

func (m *mover[S, D]) roomsRoot() bool {
	return m.dest.FolderType == model.FolderTypeVirtualRooms || m.dest.FolderType == model.FolderTypeArchive
}

// local returns id as a destination id when both sit in one storage, so that
// plain Move/Copy calls can be used.
func (m *mover[S, D]) local(id S) (D, bool) {
	var zero D
	if any(m.from) != any(m.to) {
		return zero, false
	}
	d, ok := any(id).(D)
	if !ok {
		return zero, false
	}
	return d, m.to.SameStorage(d, m.toID)
}

// into returns a nested mover working below dest.
func (m *mover[S, D]) into(dest *model.Folder[D]) *mover[S, D] {
	n := *m
	n.toID = dest.ID
	n.dest = dest
	n.nested = true
	n.destChain = nil
	n.destParents = nil
	return &n
}

func (m *mover[S, D]) entryAction() model.SecurityAction {
	if m.copying {
		return model.ActionCopy
	}
	return model.ActionMove
}

// ── Folders ──────────────────────────────────────────────────────

func (m *mover[S, D]) folder(ctx context.Context, id S) (string, error) {
	src, err := m.from.GetFolder(ctx, id)
	if err != nil {
		return "", err
	}
	if src.IsRoot() || (isLinkRoot(src) && !src.IsRoom()) {
		return "", model.ErrSystemFolder
	}

	if !m.nested {
		subject, _, err := subjectOf(ctx, m.from, src)
		if err != nil {
			return "", err
		}
		if err := m.check(ctx, m.entryAction(), subject); err != nil {
			return "", err
		}
		if src.IsRoom() && !m.copying {
			if err := m.check(ctx, model.ActionEditRoom, subject); err != nil {
				return "", err
			}
		}
	}

	localID, isLocal := m.local(id)
	if isLocal && !m.nested && slices.Contains(m.destChain, localID) {
		return "", model.ErrFolderCopy
	}

	switch {
	case m.dest.FolderType == model.FolderTypeArchive:
		return m.archiveRoom(ctx, src, localID, isLocal)
	case m.dest.FolderType == model.FolderTypeVirtualRooms:
		return m.placeRoom(ctx, src, localID, isLocal)
	case src.IsRoom():
		return "", fmt.Errorf("%w: room %q can only be placed into rooms or the archive", model.ErrInvalidInput, src.Title)
	}
	return m.plainFolder(ctx, src, localID, isLocal)
}

// archiveRoom takes a room out of the active rooms. Provider rooms only
// change the folder type of their link.
func (m *mover[S, D]) archiveRoom(ctx context.Context, src *model.Folder[S], localID D, isLocal bool) (string, error) {
	if !src.IsRoom() || m.copying {
		return "", fmt.Errorf("%w: only rooms can be moved to the archive", model.ErrInvalidInput)
	}
	if src.RootFolderType == model.FolderTypeArchive {
		return model.FolderToken(src.ID), nil
	}

	var tok string
	switch {
	case isLinkRoot(src):
		if err := m.third.SetLinkFolderType(ctx, src.ProviderID, model.FolderTypeArchive); err != nil {
			return "", err
		}
		tok = model.FolderToken(src.ID)
	case isLocal:
		newID, err := m.to.MoveFolder(ctx, localID, m.toID)
		if err != nil {
			return "", err
		}
		tok = model.FolderToken(newID)
	default:
		return "", fmt.Errorf("%w: room %q cannot be archived across storages", model.ErrInvalidInput, src.Title)
	}

	m.releaseRoom(ctx)
	m.audit(notify.RoomArchived, idString(src.ID), src.Title)
	return tok, nil
}

// placeRoom moves a room into the rooms root: unarchiving, or copying one.
// Both take a slot of the tenant's room quota.
func (m *mover[S, D]) placeRoom(ctx context.Context, src *model.Folder[S], localID D, isLocal bool) (string, error) {
	if !src.IsRoom() {
		return "", model.NewSecurityError(model.ActionMoveTo, m.dest.Title)
	}
	if m.copying && isLinkRoot(src) {
		return "", fmt.Errorf("%w: provider rooms cannot be copied", model.ErrInvalidInput)
	}

	unarchive := !m.copying && src.RootFolderType == model.FolderTypeArchive
	if !unarchive && !m.copying {
		return m.plainFolder(ctx, src, localID, isLocal)
	}
	if m.deps.Rooms != nil {
		if err := m.deps.Rooms.Reserve(ctx, m.tenant()); err != nil {
			return "", err
		}
	}

	var tok string
	var err error
	if isLinkRoot(src) {
		err = m.third.SetLinkFolderType(ctx, src.ProviderID, model.FolderTypeVirtualRooms)
		tok = model.FolderToken(src.ID)
	} else {
		// A copied room is always a new room, never merged into another one.
		placer := *m
		if m.copying {
			placer.conflict = model.ConflictDuplicate
		}
		tok, err = placer.plainFolder(ctx, src, localID, isLocal)
	}
	if err != nil {
		m.releaseRoom(ctx)
		return "", err
	}
	if unarchive {
		m.audit(notify.RoomUnarchived, idString(src.ID), src.Title)
	}
	return tok, nil
}

func (m *mover[S, D]) releaseRoom(ctx context.Context) {
	if m.deps.Rooms == nil {
		return
	}
	if err := m.deps.Rooms.Release(ctx, m.tenant()); err != nil {
		slog.Warn("release room quota failed", "tenant_id", m.tenant(), "error", err)
	}
}

func (m *mover[S, D]) plainFolder(ctx context.Context, src *model.Folder[S], localID D, isLocal bool) (string, error) {
	var existing *model.Folder[D]
	if m.conflict != model.ConflictDuplicate && !src.Encrypted && !src.Private {
		found, err := m.to.GetFolderByTitle(ctx, m.toID, src.Title)
		if err != nil {
			return "", err
		}
		existing = found
	}
	if existing != nil {
		if isLocal && existing.ID == localID {
			return model.FolderToken(existing.ID), nil
		}
		if err := m.merge(ctx, src, existing); err != nil {
			return "", err
		}
		return model.FolderToken(existing.ID), nil
	}

	title := src.Title
	if m.conflict == model.ConflictDuplicate {
		free, err := freeFolderTitle(ctx, m.to, m.toID, src.Title)
		if err != nil {
			return "", err
		}
		title = free
	}

	var dstID D
	switch {
	case isLocal && !m.copying:
		newID, err := m.to.MoveFolder(ctx, localID, m.toID)
		if err != nil {
			return "", err
		}
		dstID = newID
		if title != src.Title {
			moved, err := m.to.GetFolder(ctx, newID)
			if err != nil {
				return "", err
			}
			if dstID, err = m.to.RenameFolder(ctx, moved, title); err != nil {
				return "", err
			}
		}
	case isLocal:
		created, err := m.copyShell(ctx, src, localID, title)
		if err != nil {
			return "", err
		}
		dstID = created.ID
		if err := m.into(created).children(ctx, src.ID); err != nil {
			return "", err
		}
	case title != src.Title:
		created, err := m.to.CreateFolder(ctx, m.toID, title)
		if err != nil {
			return "", err
		}
		dstID = created.ID
		if err := m.into(created).children(ctx, src.ID); err != nil {
			return "", err
		}
		if !m.copying {
			m.dropIfEmpty(ctx, src)
		}
	default:
		dst, err := transfer.Folder(ctx, m.engine, m.from, src.ID, m.to, m.toID, !m.copying)
		if err != nil {
			return "", err
		}
		dstID = dst.ID
	}

	m.placed(ctx, model.EntryTypeFolder, dstID, title, false)
	return model.FolderToken(dstID), nil
}

// copyShell creates the empty copy of src titled title. Room attributes
// survive only a plain CopyFolder, so rooms are renamed after the copy.
func (m *mover[S, D]) copyShell(ctx context.Context, src *model.Folder[S], localID D, title string) (*model.Folder[D], error) {
	if title != src.Title && !src.IsRoom() {
		return m.to.CreateFolder(ctx, m.toID, title)
	}
	created, err := m.to.CopyFolder(ctx, localID, m.toID)
	if err != nil || title == src.Title {
		return created, err
	}
	newID, err := m.to.RenameFolder(ctx, created, title)
	if err != nil {
		return nil, err
	}
	return m.to.GetFolder(ctx, newID)
}

// merge moves or copies the content of src into the same-titled existing
// folder. A moved source that ends up empty is removed.
func (m *mover[S, D]) merge(ctx context.Context, src *model.Folder[S], existing *model.Folder[D]) error {
	if err := m.into(existing).children(ctx, src.ID); err != nil {
		return err
	}
	if !m.copying {
		m.dropIfEmpty(ctx, src)
	}
	m.placed(ctx, model.EntryTypeFolder, existing.ID, existing.Title, false)
	return nil
}

func (m *mover[S, D]) dropIfEmpty(ctx context.Context, src *model.Folder[S]) {
	empty, err := m.from.IsEmpty(ctx, src.ID)
	if err != nil || !empty {
		return
	}
	if err := m.from.DeleteFolder(ctx, src.ID); err != nil {
		slog.Warn("remove emptied source folder failed", "folder_id", idString(src.ID), "error", err)
	}
}

// children processes the files of srcID, then its subfolders, into m's
// destination. Siblings continue past a failure; the first one is returned.
func (m *mover[S, D]) children(ctx context.Context, srcID S) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	files, err := m.from.GetFiles(ctx, srcID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := m.file(ctx, f.ID)
		keep(err)
	}

	folders, err := m.from.GetFolders(ctx, srcID)
	if err != nil {
		keep(err)
		return first
	}
	for _, sub := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := m.folder(ctx, sub.ID)
		keep(err)
	}
	return first
}

// ── Files ────────────────────────────────────────────────────────

func (m *mover[S, D]) file(ctx context.Context, id S) (string, error) {
	src, err := m.from.GetFile(ctx, id)
	if err != nil {
		return "", err
	}
	ref, err := dao.Ref(ctx, m.from, src)
	if err != nil {
		return "", err
	}
	if !m.nested {
		parents, _, err := ancestors(ctx, m.from, src.ParentID)
		if err != nil {
			return "", err
		}
		if err := m.check(ctx, m.entryAction(), security.SubjectOf(ref, src, parents...)); err != nil {
			return "", err
		}
	}
	if m.roomsRoot() {
		if m.copying {
			return "", model.NewSecurityError(model.ActionCopyTo, m.dest.Title)
		}
		return "", model.NewSecurityError(model.ActionMoveTo, m.dest.Title)
	}
	if !m.copying {
		if err := m.checkFileFree(src.LockedBy, ref); err != nil {
			return "", err
		}
	}

	localID, isLocal := m.local(id)
	if m.conflict != model.ConflictDuplicate && !src.Encrypted {
		existing, err := m.to.GetFileByTitle(ctx, m.toID, src.Title)
		if err != nil {
			return "", err
		}
		if existing != nil {
			if isLocal && existing.ID == localID {
				return model.FileToken(existing.ID), nil
			}
			if m.conflict == model.ConflictOverwrite {
				return m.overwrite(ctx, src, existing)
			}
			return "", nil
		}
	}

	title := src.Title
	if m.conflict == model.ConflictDuplicate {
		if title, err = freeFileTitle(ctx, m.to, m.toID, src.Title); err != nil {
			return "", err
		}
	}

	var dstID D
	switch {
	case isLocal && title == src.Title && !m.copying:
		if dstID, err = m.to.MoveFile(ctx, localID, m.toID); err != nil {
			return "", err
		}
	case isLocal && title == src.Title:
		created, err := m.to.CopyFile(ctx, localID, m.toID)
		if err != nil {
			return "", err
		}
		dstID = created.ID
	default:
		rename := ""
		if title != src.Title {
			rename = title
		}
		dst, err := transfer.FileAs(ctx, m.engine, m.from, id, m.to, m.toID, rename, !m.copying)
		if err != nil {
			return "", err
		}
		dstID, title = dst.ID, dst.Title
	}

	m.placed(ctx, model.EntryTypeFile, dstID, title, false)
	return model.FileToken(dstID), nil
}

// overwrite stores src as a new version of existing, keeping its id.
func (m *mover[S, D]) overwrite(ctx context.Context, src *model.File[S], existing *model.File[D]) (string, error) {
	dstRef, err := dao.Ref(ctx, m.to, existing)
	if err != nil {
		return "", err
	}
	if err := m.checkFileFree(existing.LockedBy, dstRef); err != nil {
		return "", err
	}

	rc, err := m.from.OpenReadStream(ctx, src, 0)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", src.Title, err)
	}
	defer rc.Close()

	saved, err := m.to.SaveFile(ctx, &model.File[D]{
		Entry: model.Entry[D]{
			ID:       existing.ID,
			ParentID: m.toID,
			Title:    existing.Title,
			TenantID: m.to.TenantID(),
		},
	}, rc, src.ContentLength)
	if err != nil {
		return "", fmt.Errorf("overwrite %q: %w", existing.Title, err)
	}

	if !m.copying {
		if err := m.from.DeleteFile(ctx, src.ID); err != nil {
			return "", fmt.Errorf("delete source %q: %w", src.Title, err)
		}
	}
	m.placed(ctx, model.EntryTypeFile, saved.ID, saved.Title, true)
	return model.FileToken(saved.ID), nil
}

// placed audits an entry landing at the destination and, for top-level
// entries outside the archive, marks it new for the people it is shared with.
func (m *mover[S, D]) placed(ctx context.Context, typ model.EntryType, id D, title string, overwritten bool) {
	m.audit(m.auditAction(typ, overwritten), idString(id), title)

	if m.nested || m.dest.FolderType == model.FolderTypeArchive || m.deps.Marker == nil {
		return
	}
	key, err := m.to.Key(ctx, id)
	if err != nil {
		slog.Warn("mark as new skipped", "entry_id", idString(id), "error", err)
		return
	}
	ref := model.EntryRef{Key: key, Type: typ}
	if err := m.deps.Marker.MarkAsNew(ctx, m.tenant(), m.actor.UserID, ref, m.destParents); err != nil {
		slog.Warn("mark as new failed", "entry_id", idString(id), "error", err)
	}
}

func (m *mover[S, D]) auditAction(typ model.EntryType, overwritten bool) notify.Action {
	folder := typ == model.EntryTypeFolder
	switch {
	case m.dup && folder:
		return notify.FolderDuplicated
	case m.dup:
		return notify.FileDuplicated
	case folder && m.copying:
		return notify.FolderCopied
	case folder:
		return notify.FolderMoved
	case m.copying && overwritten:
		return notify.FileCopiedWithOverwriting
	case m.copying:
		return notify.FileCopied
	case overwritten:
		return notify.FileMovedWithOverwriting
	default:
		return notify.FileMoved
	}
}
