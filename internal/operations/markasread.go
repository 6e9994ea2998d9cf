package operations

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"go-docspace/internal/dao"
	"go-docspace/internal/event"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
)

// badgeRoots are the roots whose new-item counts are pushed after a mark as read.
var badgeRoots = []model.FolderType{
	model.FolderTypeUser,
	model.FolderTypeCommon,
	model.FolderTypeShare,
	model.FolderTypeProjects,
	model.FolderTypeVirtualRooms,
}

func (f *Factory) markAsRead(in Input, ids idSet) func(context.Context, *Composite) {
	return func(ctx context.Context, c *Composite) {
		s := f.scope(in)
		concurrently(ctx, c,
			func(ctx context.Context, p *Progress) error {
				r := &reader[int]{scope: s, d: s.native, progress: p}
				return r.execute(ctx, ids.nativeFolders, ids.nativeFiles)
			},
			func(ctx context.Context, p *Progress) error {
				r := &reader[string]{scope: s, d: s.third, progress: p}
				return r.execute(ctx, ids.thirdFolders, ids.thirdFiles)
			})
		if ctx.Err() == nil {
			s.pushBadges(ctx)
		}
	}
}

type reader[T model.ID] struct {
	*scope
	d        dao.Dao[T]
	progress *Progress
}

func (r *reader[T]) execute(ctx context.Context, folders, files []T) error {
	r.progress.AddTotal(len(folders) + len(files))
	for _, id := range folders {
		if err := r.step(ctx, func(ctx context.Context) (model.FileEntry[T], error) {
			return r.d.GetFolder(ctx, id)
		}); err != nil {
			return err
		}
	}
	for _, id := range files {
		if err := r.step(ctx, func(ctx context.Context) (model.FileEntry[T], error) {
			return r.d.GetFile(ctx, id)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader[T]) step(ctx context.Context, load func(context.Context) (model.FileEntry[T], error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := r.read(ctx, load)
	switch {
	case model.IsCancellation(err):
		return err
	case err != nil:
		slog.Warn("entry not marked as read", "error", err)
		r.progress.SetError(err)
	default:
		r.progress.Complete(tok)
	}
	r.progress.Step(1)
	return nil
}

// read clears the actor's New tag on the entry. Entries the actor cannot
// read are passed over without an error.
func (r *reader[T]) read(ctx context.Context, load func(context.Context) (model.FileEntry[T], error)) (string, error) {
	entry, err := load(ctx)
	if err != nil {
		return "", err
	}
	subject, _, err := subjectOf(ctx, r.d, entry)
	if err != nil {
		return "", err
	}
	if err := r.check(ctx, model.ActionRead, subject); err != nil {
		if errors.Is(err, model.ErrForbidden) {
			return "", nil
		}
		return "", err
	}

	owner := r.actor.UserID
	if r.deps.Marker == nil {
		return tokenOf(entry), nil
	}
	if _, err := r.deps.Marker.MarkAsRead(ctx, r.tenant(), owner, subject.Ref, subject.Parents); err != nil {
		return "", err
	}

	c := entry.Common()
	if folder, ok := entry.(*model.Folder[T]); ok {
		refs, err := descendants(ctx, r.d, folder.ID)
		if err != nil {
			return "", err
		}
		if err := r.deps.Marker.Clear(ctx, r.tenant(), owner, refs...); err != nil {
			return "", err
		}
		r.audit(notify.FolderMarkedAsRead, idString(c.ID), c.Title)
	} else {
		r.audit(notify.FileMarkedAsRead, idString(c.ID), c.Title)
	}
	return tokenOf(entry), nil
}

// descendants returns the refs of everything below folderID.
func descendants[T model.ID](ctx context.Context, d dao.Dao[T], folderID T) ([]model.EntryRef, error) {
	var refs []model.EntryRef
	files, err := d.GetFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		key, err := d.Key(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, model.FileRef(key))
	}

	folders, err := d.GetFolders(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for _, sub := range folders {
		key, err := d.Key(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, model.FolderRef(key))
		below, err := descendants(ctx, d, sub.ID)
		if err != nil {
			return nil, err
		}
		refs = append(refs, below...)
	}
	return refs, nil
}

// pushBadges recomputes the actor's new-item count of each root and sends
// them to the actor's sockets.
func (s *scope) pushBadges(ctx context.Context) {
	if s.deps.Bus == nil || s.deps.Marker == nil || s.actor.External != nil {
		return
	}
	types := badgeRoots
	if s.cfg.PrivacyEnabled {
		types = append(types[:len(types):len(types)], model.FolderTypePrivacy)
	}

	roots := make(map[model.FolderType]model.EntryRef, len(types))
	for _, t := range types {
		id, err := s.roots.Get(ctx, t, s.actor.UserID)
		if err != nil {
			slog.Warn("resolve root for badges", "folder_type", t.String(), "error", err)
			continue
		}
		roots[t] = model.FolderRef(strconv.Itoa(id))
	}

	counts, err := s.deps.Marker.Counts(ctx, s.tenant(), s.actor.UserID, roots)
	if err != nil {
		slog.Warn("count new items", "error", err)
		return
	}
	payload := make(map[string]int, len(counts))
	for t, n := range counts {
		payload[t.String()] = n
	}
	s.deps.Bus.Publish(event.New(event.TypeNewItems, s.actor.UserID.String(), s.tenant(), payload))
}
