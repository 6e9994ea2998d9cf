// Package marker keeps the "new for recipient" badges: a New tag per
// recipient on every fresh entry, and on each enclosing folder a New tag
// whose Count is the number of fresh entries below it.
package marker

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

type Marker struct {
	store store.Store
}

func New(st store.Store) *Marker {
	return &Marker{store: st}
}

// Recipients lists everyone the entry or one of its parents is shared with,
// except the actor who caused the change.
func (m *Marker) Recipients(ctx context.Context, tenantID int, actor uuid.UUID, ref model.EntryRef, parents []model.EntryRef) ([]uuid.UUID, error) {
	aces, err := m.store.GetShares(ctx, tenantID, append([]model.EntryRef{ref}, parents...)...)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, ace := range aces {
		if ace.Subject == actor || ace.Share == model.ShareRestrict || ace.Share == model.ShareNone {
			continue
		}
		if !slices.Contains(out, ace.Subject) {
			out = append(out, ace.Subject)
		}
	}
	return out, nil
}

// MarkAsNew tags ref as new for every recipient and bumps the counters of
// the parents (nearest first). An entry already new for a recipient is left
// alone.
func (m *Marker) MarkAsNew(ctx context.Context, tenantID int, actor uuid.UUID, ref model.EntryRef, parents []model.EntryRef) error {
	recipients, err := m.Recipients(ctx, tenantID, actor, ref, parents)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	return m.store.InTx(ctx, func(tx store.Store) error {
		for _, owner := range recipients {
			existing, err := ownerTag(ctx, tx, tenantID, owner, ref)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if err := tx.SaveTag(ctx, newTag(tenantID, owner, ref, 1)); err != nil {
				return err
			}
			if err := adjust(ctx, tx, tenantID, owner, parents, 1); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkAsRead drops owner's New tag on ref and takes its weight off the
// parents. It returns whether there was anything to clear.
func (m *Marker) MarkAsRead(ctx context.Context, tenantID int, owner uuid.UUID, ref model.EntryRef, parents []model.EntryRef) (bool, error) {
	var cleared bool
	err := m.store.InTx(ctx, func(tx store.Store) error {
		tag, err := ownerTag(ctx, tx, tenantID, owner, ref)
		if err != nil || tag == nil {
			return err
		}
		cleared = true
		if err := tx.RemoveTag(ctx, tenantID, model.TagNew, owner, ref); err != nil {
			return err
		}
		return adjust(ctx, tx, tenantID, owner, parents, -max(tag.Count, 1))
	})
	return cleared, err
}

// Clear removes owner's New tags on refs without touching any counter. It is
// used for the descendants of a folder whose own tag was read.
func (m *Marker) Clear(ctx context.Context, tenantID int, owner uuid.UUID, refs ...model.EntryRef) error {
	return m.store.InTx(ctx, func(tx store.Store) error {
		for _, ref := range refs {
			if err := tx.RemoveTag(ctx, tenantID, model.TagNew, owner, ref); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts returns owner's number of new items below each of roots.
func (m *Marker) Counts(ctx context.Context, tenantID int, owner uuid.UUID, roots map[model.FolderType]model.EntryRef) (map[model.FolderType]int, error) {
	out := make(map[model.FolderType]int, len(roots))
	for typ, ref := range roots {
		tag, err := ownerTag(ctx, m.store, tenantID, owner, ref)
		if err != nil {
			return nil, err
		}
		if tag != nil {
			out[typ] = tag.Count
		} else {
			out[typ] = 0
		}
	}
	return out, nil
}

func ownerTag(ctx context.Context, st store.Tags, tenantID int, owner uuid.UUID, ref model.EntryRef) (*model.Tag, error) {
	tags, err := st.GetTags(ctx, tenantID, model.TagNew, ref)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if t.Owner == owner {
			return &t, nil
		}
	}
	return nil, nil
}

func adjust(ctx context.Context, tx store.Store, tenantID int, owner uuid.UUID, parents []model.EntryRef, delta int) error {
	for _, p := range parents {
		tag, err := ownerTag(ctx, tx, tenantID, owner, p)
		if err != nil {
			return err
		}
		count := delta
		if tag != nil {
			count += tag.Count
		}
		if count <= 0 {
			if tag != nil {
				if err := tx.RemoveTag(ctx, tenantID, model.TagNew, owner, p); err != nil {
					return err
				}
			}
			continue
		}
		if err := tx.SaveTag(ctx, newTag(tenantID, owner, p, count)); err != nil {
			return err
		}
	}
	return nil
}

func newTag(tenantID int, owner uuid.UUID, ref model.EntryRef, count int) model.Tag {
	return model.Tag{TenantID: tenantID, Name: "new", Type: model.TagNew, Owner: owner, Ref: ref, Count: count}
}
