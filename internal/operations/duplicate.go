package operations

import (
	"context"
	"fmt"
	"log/slog"

	"go-docspace/internal/dao"
	"go-docspace/internal/model"
)

// duplicate copies every entry next to itself under a free "(copy)" title.
func (f *Factory) duplicate(in Input, ids idSet) func(context.Context, *Composite) {
	return func(ctx context.Context, c *Composite) {
		s := f.scope(in)
		concurrently(ctx, c,
			func(ctx context.Context, p *Progress) error {
				return duplicateIn(ctx, s, s.native, p, ids.nativeFolders, ids.nativeFiles)
			},
			func(ctx context.Context, p *Progress) error {
				return duplicateIn(ctx, s, s.third, p, ids.thirdFolders, ids.thirdFiles)
			})
	}
}

type siblings[T model.ID] struct {
	folders []T
	files   []T
}

// duplicateIn groups the entries by parent and runs one copying mover per
// parent. All movers are prepared before the first one runs so that the
// total is known up front.
func duplicateIn[T model.ID](ctx context.Context, s *scope, d dao.Dao[T], p *Progress, folders, files []T) error {
	var order []T
	groups := map[T]*siblings[T]{}
	group := func(parent T) *siblings[T] {
		g, ok := groups[parent]
		if !ok {
			g = &siblings[T]{}
			groups[parent] = g
			order = append(order, parent)
		}
		return g
	}
	skip := func(id T, err error) {
		slog.Warn("entry not duplicated", "entry_id", idString(id), "error", err)
		p.AddTotal(1)
		p.SetError(err)
		p.Step(1)
	}

	var zero T
	for _, id := range folders {
		f, err := d.GetFolder(ctx, id)
		if err == nil && f.ParentID == zero {
			err = fmt.Errorf("%w: %q has no parent to duplicate into", model.ErrInvalidInput, f.Title)
		}
		if err != nil {
			skip(id, err)
			continue
		}
		g := group(f.ParentID)
		g.folders = append(g.folders, id)
	}
	for _, id := range files {
		f, err := d.GetFile(ctx, id)
		if err != nil {
			skip(id, err)
			continue
		}
		g := group(f.ParentID)
		g.files = append(g.files, id)
	}

	type prepared struct {
		m    *mover[T, T]
		jobs []job[T]
	}
	var runs []prepared
	for _, parent := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := groups[parent]
		m := newMover[T, T](s, d, d, parent, true, model.ConflictDuplicate, p)
		m.dup = true
		jobs, err := m.prepare(ctx, g.folders, g.files)
		if err != nil {
			if model.IsCancellation(err) {
				return err
			}
			n := len(g.folders) + len(g.files)
			slog.Warn("duplicate target not usable", "parent_id", idString(parent), "error", err)
			p.AddTotal(n)
			p.SetError(err)
			p.Step(n)
			continue
		}
		runs = append(runs, prepared{m: m, jobs: jobs})
	}

	for _, r := range runs {
		if err := r.m.run(ctx, r.jobs); err != nil {
			return err
		}
	}
	return nil
}
