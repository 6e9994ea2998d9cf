package operations

import (
	"context"

	"go-docspace/internal/notify"
)

// emptyTrash removes everything in the actor's trash for good. Provider
// entries never live in the native trash, so only the native half works.
func (f *Factory) emptyTrash(in Input) func(context.Context, *Composite) {
	return func(ctx context.Context, c *Composite) {
		s := f.scope(in)
		concurrently(ctx, c, func(ctx context.Context, p *Progress) error {
			trashID, err := s.roots.Trash(ctx, s.actor.UserID)
			if err != nil {
				return err
			}
			folders, err := s.native.GetFolders(ctx, trashID)
			if err != nil {
				return err
			}
			files, err := s.native.GetFiles(ctx, trashID)
			if err != nil {
				return err
			}

			folderIDs := make([]int, 0, len(folders))
			for _, f := range folders {
				folderIDs = append(folderIDs, f.ID)
			}
			fileIDs := make([]int, 0, len(files))
			for _, f := range files {
				fileIDs = append(fileIDs, f.ID)
			}

			d := &deleter[int]{scope: s, d: s.native, progress: p, immediately: true, quiet: true}
			if err := d.execute(ctx, folderIDs, fileIDs); err != nil {
				return err
			}
			s.audit(notify.TrashEmptied, idString(trashID))
			return nil
		}, nil)
	}
}
