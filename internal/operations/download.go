package operations

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-docspace/internal/convert"
	"go-docspace/internal/dao"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/util"
)

// DownloadRoot prefixes every download result in the temp backend.
const DownloadRoot = "downloads/"

// DownloadPrefix is the part of the temp storage that holds actor's results.
// External share sessions get their own area below link and session.
func DownloadPrefix(actor model.Actor) string {
	if actor.External != nil {
		return DownloadRoot + actor.Key() + "/"
	}
	return DownloadRoot + strconv.Itoa(actor.TenantID) + "/" + actor.UserID.String() + "/"
}

// downloadItem is one archive entry. Directories have no open func.
type downloadItem struct {
	path     string
	modified time.Time
	open     func(ctx context.Context) (io.ReadCloser, error)
	progress *Progress
}

func (i downloadItem) dir() bool { return i.open == nil }

type bundle[T model.ID] struct {
	*scope
	d        dao.Dao[T]
	progress *Progress
	convert  map[string]string
	// dirs is shared by both bundles so that folders of the same title
	// get distinct paths before their children are laid out.
	dirs  *util.NameSet
	items []downloadItem
}

func (f *Factory) download(in Input, ids idSet) func(context.Context, *Composite) {
	return func(ctx context.Context, c *Composite) {
		s := f.scope(in)
		defer c.Third.Finish()
		defer c.Native.Finish()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("download panicked", "task_id", in.TaskID, "panic", r)
				c.Native.SetError(fmt.Errorf("internal error: %v", r))
			}
		}()

		dirs := util.NewNameSet()
		nb := &bundle[int]{scope: s, d: s.native, progress: c.Native, convert: in.ConvertTo, dirs: dirs}
		tb := &bundle[string]{scope: s, d: s.third, progress: c.Third, convert: in.ConvertTo, dirs: dirs}

		var g errgroup.Group
		g.Go(func() error { nb.collect(ctx, ids.nativeFolders, ids.nativeFiles); return nil })
		g.Go(func() error { tb.collect(ctx, ids.thirdFolders, ids.thirdFiles); return nil })
		_ = g.Wait()
		if ctx.Err() != nil {
			return
		}

		items := append(nb.items, tb.items...)
		if len(items) == 0 {
			return
		}

		files := len(ids.nativeFiles) + len(ids.thirdFiles)
		folders := len(ids.nativeFolders) + len(ids.thirdFolders)

		name := "download.zip"
		if folders == 1 && files == 0 {
			name = path.Base(items[0].path) + ".zip"
		}
		key, err := s.storeDownload(ctx, in, items, files == 1 && folders == 0, name)
		if err != nil {
			if !model.IsCancellation(err) {
				slog.Warn("download not stored", "task_id", in.TaskID, "error", err)
			}
			items[0].progress.SetError(err)
			return
		}
		c.Native.Complete(key)

		switch {
		case files == 1 && folders == 0:
			s.audit(notify.FileDownloaded, key, path.Base(key))
		case folders == 1 && files == 0:
			s.audit(notify.FolderDownloaded, key, path.Base(key))
		default:
			s.audit(notify.FilesDownloaded, key, path.Base(key))
		}
	}
}

// storeDownload writes the items to the temp backend and returns the result
// key relative to DownloadRoot. single streams the one file as is, anything
// else becomes the zip archive name.
func (s *scope) storeDownload(ctx context.Context, in Input, items []downloadItem, single bool, name string) (string, error) {
	task := in.TaskID
	if task == "" || s.actor.External != nil {
		task = uuid.NewString()
	}
	base := DownloadPrefix(s.actor) + task + "/"

	if single {
		it := items[0]
		name := path.Base(it.path)
		rc, err := it.open(ctx)
		if err != nil {
			it.progress.Step(1)
			return "", err
		}
		defer rc.Close()
		if err := s.deps.Temp.PutObject(ctx, base+name, rc, -1); err != nil {
			return "", fmt.Errorf("store download: %w", err)
		}
		it.progress.Step(1)
		return (base + name)[len(DownloadRoot):], nil
	}

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		err := s.writeZip(ctx, pw, items)
		pw.CloseWithError(err)
		return err
	})
	putErr := s.deps.Temp.PutObject(ctx, base+name, pr, -1)
	pr.CloseWithError(putErr)
	if err := g.Wait(); err != nil {
		return "", err
	}
	if putErr != nil {
		return "", fmt.Errorf("store download: %w", putErr)
	}
	return (base + name)[len(DownloadRoot):], nil
}

// writeZip adds every item. An entry that cannot be read or converted is
// reported on its sub-operation and left out.
func (s *scope) writeZip(ctx context.Context, w io.Writer, items []downloadItem) error {
	zb := util.NewZipBuilder(w)
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if it.dir() {
			if _, err := zb.AddDir(it.path); err != nil {
				return err
			}
			it.progress.Step(1)
			continue
		}

		rc, err := it.open(ctx)
		if err != nil {
			if model.IsCancellation(err) {
				return err
			}
			it.progress.AppendError(fmt.Errorf("%s: %w", path.Base(it.path), err))
			it.progress.Step(1)
			continue
		}
		_, _, err = zb.AddFile(it.path, rc, it.modified)
		rc.Close()
		if err != nil {
			return err
		}
		it.progress.Step(1)
	}
	return zb.Close()
}

// collect expands the requested entries of one id space into archive items.
// Entries the actor may not download are reported and skipped.
func (b *bundle[T]) collect(ctx context.Context, folders, files []T) {
	b.progress.AddTotal(len(folders) + len(files))
	for _, id := range files {
		if ctx.Err() != nil {
			return
		}
		if err := b.topFile(ctx, id); err != nil {
			b.fail(err)
		}
	}
	for _, id := range folders {
		if ctx.Err() != nil {
			return
		}
		if err := b.topFolder(ctx, id); err != nil {
			b.fail(err)
		}
	}
}

func (b *bundle[T]) fail(err error) {
	if !model.IsCancellation(err) {
		slog.Warn("entry not downloaded", "error", err)
	}
	b.progress.SetError(err)
	b.progress.Step(1)
}

func (b *bundle[T]) topFile(ctx context.Context, id T) error {
	f, err := b.d.GetFile(ctx, id)
	if err != nil {
		return err
	}
	subject, chain, err := subjectOf(ctx, b.d, f)
	if err != nil {
		return err
	}
	if err := b.check(ctx, model.ActionDownload, subject); err != nil {
		return err
	}
	b.addFile(f, "", watermarkOf(chain))
	return nil
}

func (b *bundle[T]) topFolder(ctx context.Context, id T) error {
	f, err := b.d.GetFolder(ctx, id)
	if err != nil {
		return err
	}
	subject, chain, err := subjectOf(ctx, b.d, f)
	if err != nil {
		return err
	}
	if err := b.check(ctx, model.ActionDownload, subject); err != nil {
		return err
	}
	mark := watermarkOf(append(chain, f))
	n := len(b.items)
	if err := b.addFolder(ctx, f, "", mark, true); err != nil {
		b.items = b.items[:n]
		return err
	}
	return nil
}

// addFolder adds a directory entry for f and everything below it. The top
// folder was already counted by collect.
func (b *bundle[T]) addFolder(ctx context.Context, f *model.Folder[T], dir, mark string, top bool) error {
	p := util.EntryPath(dir, util.ArchiveName(f.Title), b.cfg.DownloadMaxPathLength, b.cfg.DownloadPathPlaceholder)
	p = strings.TrimSuffix(b.dirs.Reserve(p+"/"), "/")
	if !top {
		b.progress.AddTotal(1)
	}
	b.items = append(b.items, downloadItem{path: p, progress: b.progress})

	files, err := b.d.GetFiles(ctx, f.ID)
	if err != nil {
		return err
	}
	b.progress.AddTotal(len(files))
	for _, file := range files {
		b.addFile(file, p, mark)
	}

	subs, err := b.d.GetFolders(ctx, f.ID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.addFolder(ctx, sub, p, mark, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *bundle[T]) addFile(f *model.File[T], dir, mark string) {
	from := f.Extension()
	to := b.convert[idString(f.ID)]
	if to == "" && mark != "" && util.IsImageExtension(from) {
		to = from
	}
	if b.deps.Converter == nil {
		to = ""
	}

	title := f.Title
	if to != "" && to != from {
		title = model.ReplaceExtension(title, to)
	}
	p := util.EntryPath(dir, util.ArchiveName(title), b.cfg.DownloadMaxPathLength, b.cfg.DownloadPathPlaceholder)

	b.items = append(b.items, downloadItem{
		path:     p,
		modified: f.ModifiedOn,
		progress: b.progress,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			rc, err := b.d.OpenReadStream(ctx, f, 0)
			if err != nil {
				return nil, err
			}
			if to == "" {
				return rc, nil
			}
			defer rc.Close()
			return b.deps.Converter.Convert(ctx, rc, from, to, convert.Options{Watermark: mark})
		},
	})
}

// watermarkOf returns the watermark of the nearest room in chain (root first).
func watermarkOf[T model.ID](chain []*model.Folder[T]) string {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].IsRoom() {
			return chain[i].Watermark
		}
	}
	return ""
}
