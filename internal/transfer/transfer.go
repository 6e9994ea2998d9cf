// Package transfer moves and copies entries between two different DAOs by
// streaming content through the process. Sharing records and tags follow a
// moved entry to its destination before the source is deleted.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go-docspace/internal/convert"
	"go-docspace/internal/dao"
	"go-docspace/internal/metrics"
	"go-docspace/internal/model"
	"go-docspace/internal/store"
)

// Converter decides and performs format conversion on the way out.
type Converter interface {
	TransferTarget(title string) string
	Convert(ctx context.Context, src io.Reader, from, to string, opts convert.Options) (io.ReadCloser, error)
}

type Engine struct {
	store       store.Store
	converter   Converter
	maxFileSize int64
}

// New returns an engine. maxFileSize <= 0 disables the size limit; conv may be nil.
func New(st store.Store, conv Converter, maxFileSize int64) *Engine {
	return &Engine{store: st, converter: conv, maxFileSize: maxFileSize}
}

// File streams fromID into toParentID. With deleteSource the source's sharing
// and tags are attached to the new file first, then the source is deleted;
// the new file is returned even when that delete fails.
func File[F, T model.ID](ctx context.Context, e *Engine, from dao.Dao[F], fromID F, to dao.Dao[T], toParentID T, deleteSource bool) (*model.File[T], error) {
	return FileAs(ctx, e, from, fromID, to, toParentID, "", deleteSource)
}

// FileAs is File with the destination titled title; an empty title keeps the
// source title (with its extension replaced when the content is converted).
func FileAs[F, T model.ID](ctx context.Context, e *Engine, from dao.Dao[F], fromID F, to dao.Dao[T], toParentID T, title string, deleteSource bool) (*model.File[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := from.GetFile(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if e.maxFileSize > 0 && src.ContentLength > e.maxFileSize {
		return nil, &model.QuotaExceededError{Move: deleteSource, Size: src.ContentLength, Limit: e.maxFileSize}
	}

	rc, converted, size, err := openSource(ctx, e, from, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if title == "" {
		title = converted
	} else if converted != src.Title {
		title = model.ReplaceExtension(title, model.Extension(converted))
	}

	counted := &countingReader{r: rc}
	dst, err := to.SaveFile(ctx, &model.File[T]{
		Entry: model.Entry[T]{
			ParentID: toParentID,
			Title:    title,
			TenantID: to.TenantID(),
			CreateBy: src.CreateBy,
		},
		Comment: src.Comment,
	}, counted, size)
	if err != nil {
		return nil, fmt.Errorf("save %q: %w", title, err)
	}
	metrics.RecordTransfer(storageLabel(src.Entry), storageLabel(dst.Entry), counted.n)

	if !deleteSource {
		return dst, nil
	}
	if err := reattach[F, T](ctx, e, from, src, to, dst); err != nil {
		return dst, err
	}
	if err := from.DeleteFile(ctx, fromID); err != nil {
		return dst, fmt.Errorf("delete source %v: %w", fromID, err)
	}
	return dst, nil
}

// Folder recreates fromID (files first, then subfolders) under toRootID,
// reusing a same-titled folder there. A failing child does not stop its
// siblings: the destination folder is returned with the first error seen.
// With deleteSource a source folder is removed once its whole subtree moved.
func Folder[F, T model.ID](ctx context.Context, e *Engine, from dao.Dao[F], fromID F, to dao.Dao[T], toRootID T, deleteSource bool) (*model.Folder[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := from.GetFolder(ctx, fromID)
	if err != nil {
		return nil, err
	}

	dst, err := to.GetFolderByTitle(ctx, toRootID, src.Title)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		if dst, err = to.CreateFolder(ctx, toRootID, src.Title); err != nil {
			return nil, fmt.Errorf("create folder %q: %w", src.Title, err)
		}
	}

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	files, err := from.GetFiles(ctx, fromID)
	if err != nil {
		return dst, err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return dst, err
		}
		_, err := File(ctx, e, from, f.ID, to, dst.ID, deleteSource)
		keep(err)
	}

	folders, err := from.GetFolders(ctx, fromID)
	if err != nil {
		return dst, errors.Join(first, err)
	}
	for _, sub := range folders {
		if err := ctx.Err(); err != nil {
			return dst, err
		}
		_, err := Folder(ctx, e, from, sub.ID, to, dst.ID, deleteSource)
		keep(err)
	}

	if first != nil {
		slog.Warn("folder transfer incomplete", "folder_id", fmt.Sprint(fromID), "error", first)
		return dst, first
	}
	if !deleteSource {
		return dst, nil
	}

	if err := reattach[F, T](ctx, e, from, src, to, dst); err != nil {
		return dst, err
	}
	empty, err := from.IsEmpty(ctx, fromID)
	if err != nil {
		return dst, err
	}
	if !empty {
		return dst, nil
	}
	if err := from.DeleteFolder(ctx, fromID); err != nil {
		return dst, fmt.Errorf("delete source folder %v: %w", fromID, err)
	}
	return dst, nil
}

// openSource returns the stream to send, its title and its size (-1 when the
// content is converted on the way).
func openSource[F model.ID](ctx context.Context, e *Engine, from dao.Dao[F], src *model.File[F]) (io.ReadCloser, string, int64, error) {
	rc, err := from.OpenReadStream(ctx, src, 0)
	if err != nil {
		return nil, "", 0, fmt.Errorf("open %q: %w", src.Title, err)
	}
	if e.converter == nil {
		return rc, src.Title, src.ContentLength, nil
	}
	ext := e.converter.TransferTarget(src.Title)
	if ext == "" {
		return rc, src.Title, src.ContentLength, nil
	}

	defer rc.Close()
	converted, err := e.converter.Convert(ctx, rc, src.Extension(), ext, convert.Options{})
	if err != nil {
		return nil, "", 0, fmt.Errorf("convert %q: %w", src.Title, err)
	}
	return converted, model.ReplaceExtension(src.Title, ext), -1, nil
}

// reattach copies the sharing records and tags of src onto dst.
func reattach[F, T model.ID](ctx context.Context, e *Engine, from dao.Dao[F], src model.FileEntry[F], to dao.Dao[T], dst model.FileEntry[T]) error {
	srcRef, err := dao.Ref(ctx, from, src)
	if err != nil {
		return err
	}
	dstRef, err := dao.Ref(ctx, to, dst)
	if err != nil {
		return err
	}
	if srcRef == dstRef {
		return nil
	}

	tenantID := from.TenantID()
	return e.store.InTx(ctx, func(tx store.Store) error {
		aces, err := tx.GetShares(ctx, tenantID, srcRef)
		if err != nil {
			return fmt.Errorf("read shares: %w", err)
		}
		for _, ace := range aces {
			ace.TenantID = to.TenantID()
			ace.Ref = dstRef
			if err := tx.SetShare(ctx, ace); err != nil {
				return fmt.Errorf("attach share: %w", err)
			}
		}

		tags, err := tx.GetTags(ctx, tenantID, 0, srcRef)
		if err != nil {
			return fmt.Errorf("read tags: %w", err)
		}
		for _, tag := range tags {
			tag.ID = 0
			tag.TenantID = to.TenantID()
			tag.Ref = dstRef
			if err := tx.SaveTag(ctx, tag); err != nil {
				return fmt.Errorf("attach tag: %w", err)
			}
		}
		return nil
	})
}

func storageLabel[T model.ID](e model.Entry[T]) string {
	if e.ProviderEntry {
		return string(e.ProviderKey)
	}
	return "native"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
