package operations

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/convert"
	"go-docspace/internal/dao"
	"go-docspace/internal/event"
	"go-docspace/internal/lock"
	"go-docspace/internal/marker"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/provider"
	"go-docspace/internal/provider/providertest"
	"go-docspace/internal/quota"
	"go-docspace/internal/security"
	"go-docspace/internal/storage"
	"go-docspace/internal/testenv"
	"go-docspace/internal/tracker"
)

type allowAll struct{}

func (allowAll) Can(context.Context, model.Actor, model.SecurityAction, security.Subject) (bool, error) {
	return true, nil
}

type auditLog struct {
	mu      sync.Mutex
	actions []notify.Action
}

func (a *auditLog) Send(_ model.Actor, action notify.Action, _ string, _ map[string]string, _ ...string) {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	a.mu.Unlock()
}

func (a *auditLog) all() []notify.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]notify.Action(nil), a.actions...)
}

type fixture struct {
	*testenv.Env
	factory *Factory
	deps    Deps
	audit   *auditLog
	temp    *storage.Local
	rooms   *quota.Rooms
	bus     *event.InMemoryBus
}

func newFixture(t *testing.T, opts ...providertest.Option) *fixture {
	t.Helper()
	env := testenv.New(t, opts...)
	temp, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	nativeUploads, err := dao.NewUploads[int](t.TempDir())
	require.NoError(t, err)
	thirdUploads, err := dao.NewUploads[string](t.TempDir())
	require.NoError(t, err)

	log := &auditLog{}
	bus := event.NewBus()
	rooms := quota.NewRooms(env.Store, lock.NewLocal(), nil, 0)
	deps := Deps{
		Store:         env.Store,
		Content:       env.Content,
		Temp:          temp,
		NativeUploads: nativeUploads,
		ThirdUploads:  thirdUploads,
		Sessions:      env.Sessions,
		Security:      allowAll{},
		Audit:         log,
		Notifier:      notify.NewNotifier(bus),
		Marker:        marker.New(env.Store),
		Rooms:         rooms,
		Bus:           bus,
	}
	return &fixture{
		Env:     env,
		factory: NewFactory(deps, Config{DownloadMaxPathLength: 200}),
		deps:    deps,
		audit:   log,
		temp:    temp,
		rooms:   rooms,
		bus:     bus,
	}
}

func (f *fixture) run(t *testing.T, in Input) Status {
	t.Helper()
	in.Actor = f.Actor
	op, err := f.factory.New(in)
	require.NoError(t, err)
	return op.Run(context.Background(), nil)
}

func ids(values ...int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strconv.Itoa(v))
	}
	return out
}

// ── Move / copy ──────────────────────────────────────────────────

func TestMoveNativeFileKeepsID(t *testing.T) {
	f := newFixture(t)
	src := f.NativeFile(t, f.My, "a.txt", "hello")
	dst := f.NativeFolder(t, f.My, "docs")

	st := f.run(t, Input{Operation: model.OperationMove, Files: ids(src.ID), DestFolderID: strconv.Itoa(dst.ID)})
	assert.True(t, st.Finished)
	assert.Equal(t, 100, st.Progress)
	assert.Empty(t, st.Error)
	assert.Equal(t, model.FileToken(src.ID), st.Result)

	moved, err := f.Native.GetFile(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, dst.ID, moved.ParentID)
	assert.Contains(t, f.audit.all(), notify.FileMoved)
}

func TestMoveFolderIntoItsSubfolderFails(t *testing.T) {
	f := newFixture(t)
	a := f.NativeFolder(t, f.My, "a")
	b := f.NativeFolder(t, a.ID, "b")

	st := f.run(t, Input{Operation: model.OperationMove, Folders: ids(a.ID), DestFolderID: strconv.Itoa(b.ID)})
	assert.True(t, st.Finished)
	assert.Equal(t, model.ErrFolderCopy.Error(), st.Error)
	assert.Empty(t, st.Result)

	still, err := f.Native.GetFolder(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, f.My, still.ParentID)
}

func TestMoveWithOverwriteBumpsVersion(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "docs")
	existing := f.NativeFile(t, dst.ID, "a.txt", "old")
	src := f.NativeFile(t, f.My, "a.txt", "new")

	st := f.run(t, Input{
		Operation:    model.OperationMove,
		Files:        ids(src.ID),
		DestFolderID: strconv.Itoa(dst.ID),
		Conflict:     model.ConflictOverwrite,
	})
	require.Empty(t, st.Error)
	assert.Equal(t, model.FileToken(existing.ID), st.Result)

	ctx := context.Background()
	after, err := f.Native.GetFile(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.Version+1, after.Version)
	assert.Equal(t, "new", f.ReadNative(t, existing.ID))

	_, err = f.Native.GetFile(ctx, src.ID)
	assert.ErrorIs(t, err, model.ErrFileNotFound)
	assert.Contains(t, f.audit.all(), notify.FileMovedWithOverwriting)
}

func (f *fixture) lockNative(t *testing.T, file *model.File[int], by uuid.UUID) {
	t.Helper()
	file.LockedBy = by
	require.NoError(t, f.Store.UpdateFile(context.Background(), file))
}

func TestOverwriteLockedDestinationIsRefused(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "docs")
	existing := f.NativeFile(t, dst.ID, "a.txt", "old")
	src := f.NativeFile(t, f.My, "a.txt", "new")
	f.lockNative(t, existing, uuid.New())

	st := f.run(t, Input{
		Operation:    model.OperationMove,
		Files:        ids(src.ID),
		DestFolderID: strconv.Itoa(dst.ID),
		Conflict:     model.ConflictOverwrite,
	})
	assert.Contains(t, st.Error, model.ErrLockedFile.Error())
	assert.Empty(t, st.Result)

	ctx := context.Background()
	after, err := f.Native.GetFile(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.Version, after.Version)
	assert.Equal(t, "old", f.ReadNative(t, existing.ID))

	// the source stays where it was
	still, err := f.Native.GetFile(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, f.My, still.ParentID)
}

func TestOverwriteOwnLockIsAllowed(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "docs")
	existing := f.NativeFile(t, dst.ID, "a.txt", "old")
	src := f.NativeFile(t, f.My, "a.txt", "new")
	f.lockNative(t, existing, f.Actor.UserID)

	st := f.run(t, Input{
		Operation:    model.OperationCopy,
		Files:        ids(src.ID),
		DestFolderID: strconv.Itoa(dst.ID),
		Conflict:     model.ConflictOverwrite,
	})
	require.Empty(t, st.Error)
	assert.Equal(t, "new", f.ReadNative(t, existing.ID))
}

func TestOverwriteWhileSomeoneEdits(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "docs")
	existing := f.NativeFile(t, dst.ID, "a.txt", "old")
	src := f.NativeFile(t, f.My, "a.txt", "new")

	key, err := f.Native.Key(context.Background(), existing.ID)
	require.NoError(t, err)
	editors := tracker.New(16, time.Minute)
	editors.Prolong(tracker.EditKey(testenv.TenantID, key), "session-1", uuid.New())
	f.deps.Editors = editors
	f.factory = NewFactory(f.deps, Config{})

	st := f.run(t, Input{
		Operation:    model.OperationCopy,
		Files:        ids(src.ID),
		DestFolderID: strconv.Itoa(dst.ID),
		Conflict:     model.ConflictOverwrite,
	})
	assert.Contains(t, st.Error, model.ErrEditingConflict.Error())
	assert.Empty(t, st.Result)
	assert.Equal(t, "old", f.ReadNative(t, existing.ID))
}

func TestMoveLockedSourceIsRefused(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "docs")
	src := f.NativeFile(t, f.My, "a.txt", "a")
	f.lockNative(t, src, uuid.New())

	st := f.run(t, Input{
		Operation:    model.OperationMove,
		Files:        ids(src.ID),
		DestFolderID: strconv.Itoa(dst.ID),
	})
	assert.Contains(t, st.Error, model.ErrLockedFile.Error())

	still, err := f.Native.GetFile(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, f.My, still.ParentID)
}

func TestCopySkipsExistingTitle(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "docs")
	f.NativeFile(t, dst.ID, "a.txt", "old")
	src := f.NativeFile(t, f.My, "a.txt", "new")

	st := f.run(t, Input{Operation: model.OperationCopy, Files: ids(src.ID), DestFolderID: strconv.Itoa(dst.ID)})
	assert.Empty(t, st.Error)
	assert.Empty(t, st.Result)
	assert.True(t, st.Finished)
}

func TestCopyNativeFolderToProvider(t *testing.T) {
	f := newFixture(t)
	docs := f.NativeFolder(t, f.My, "docs")
	f.NativeFile(t, docs.ID, "a.txt", "a")

	st := f.run(t, Input{Operation: model.OperationCopy, Folders: ids(docs.ID), DestFolderID: f.ThirdID("")})
	require.Empty(t, st.Error)
	require.Len(t, model.ParseResult(st.Result), 1)

	ctx := context.Background()
	copied, err := f.Third.GetFolderByTitle(ctx, f.ThirdID(""), "docs")
	require.NoError(t, err)
	require.NotNil(t, copied)
	file, err := f.Third.GetFileByTitle(ctx, copied.ID, "a.txt")
	require.NoError(t, err)
	assert.NotNil(t, file)

	_, err = f.Native.GetFolder(ctx, docs.ID)
	assert.NoError(t, err, "a copy keeps the source")
}

func TestProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	dst := f.NativeFolder(t, f.My, "dst")
	var files []int
	for i := range 5 {
		files = append(files, f.NativeFile(t, f.My, "f"+strconv.Itoa(i)+".txt", "x").ID)
	}
	files = append(files, 99999)

	in := Input{Operation: model.OperationMove, Actor: f.Actor, Files: ids(files...), DestFolderID: strconv.Itoa(dst.ID)}
	op, err := f.factory.New(in)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []int
	final := op.Run(context.Background(), func(s Status) {
		mu.Lock()
		seen = append(seen, s.Progress)
		mu.Unlock()
	})

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.True(t, final.Finished)
	assert.NotEmpty(t, final.Error)
	assert.Len(t, model.ParseResult(final.Result), 5)
}

// ── Rooms ────────────────────────────────────────────────────────

func TestArchiveAndRestoreRoomUpdatesQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomsRoot, err := f.Roots.VirtualRooms(ctx)
	require.NoError(t, err)
	archive, err := f.Roots.Archive(ctx)
	require.NoError(t, err)

	room := f.NativeFolder(t, roomsRoot, "Team")
	room.FolderType = model.FolderTypeCustomRoom
	require.NoError(t, f.Store.UpdateFolder(ctx, room))
	require.NoError(t, f.rooms.Reserve(ctx, testenv.TenantID))

	st := f.run(t, Input{Operation: model.OperationMove, Folders: ids(room.ID), DestFolderID: strconv.Itoa(archive)})
	require.Empty(t, st.Error)
	n, err := f.rooms.Count(ctx, testenv.TenantID)
	require.NoError(t, err)
	assert.Zero(t, n)

	archived, err := f.Native.GetFolder(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FolderTypeArchive, archived.RootFolderType)

	st = f.run(t, Input{Operation: model.OperationMove, Folders: ids(room.ID), DestFolderID: strconv.Itoa(roomsRoot)})
	require.Empty(t, st.Error)
	n, err = f.rooms.Count(ctx, testenv.TenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, f.audit.all(), notify.RoomArchived)
	assert.Contains(t, f.audit.all(), notify.RoomUnarchived)
}

func TestPlainFolderCannotBeArchived(t *testing.T) {
	f := newFixture(t)
	archive, err := f.Roots.Archive(context.Background())
	require.NoError(t, err)
	plain := f.NativeFolder(t, f.My, "plain")

	st := f.run(t, Input{Operation: model.OperationMove, Folders: ids(plain.ID), DestFolderID: strconv.Itoa(archive)})
	assert.Contains(t, st.Error, model.ErrInvalidInput.Error())
}

// ── Duplicate ────────────────────────────────────────────────────

func TestDuplicateNamesCopies(t *testing.T) {
	f := newFixture(t)
	src := f.NativeFile(t, f.My, "a.txt", "body")
	docs := f.NativeFolder(t, f.My, "docs.v1")

	st := f.run(t, Input{Operation: model.OperationDuplicate, Files: ids(src.ID, src.ID), Folders: ids(docs.ID)})
	require.Empty(t, st.Error)
	assert.Len(t, model.ParseResult(st.Result), 3)

	ctx := context.Background()
	first, err := f.Native.GetFileByTitle(ctx, f.My, "a (copy).txt")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "body", f.ReadNative(t, first.ID))
	second, err := f.Native.GetFileByTitle(ctx, f.My, "a (copy 2).txt")
	require.NoError(t, err)
	assert.NotNil(t, second)

	folder, err := f.Native.GetFolderByTitle(ctx, f.My, "docs.v1 (copy)")
	require.NoError(t, err)
	assert.NotNil(t, folder)
	assert.Contains(t, f.audit.all(), notify.FileDuplicated)
}

// ── Delete ───────────────────────────────────────────────────────

func TestDeleteMovesToTrashWithOrigin(t *testing.T) {
	f := newFixture(t)
	docs := f.NativeFolder(t, f.My, "docs")
	file := f.NativeFile(t, docs.ID, "a.txt", "a")

	st := f.run(t, Input{Operation: model.OperationDelete, Files: ids(file.ID)})
	require.Empty(t, st.Error)
	assert.Equal(t, model.FileToken(file.ID), st.Result)

	ctx := context.Background()
	trash, err := f.Roots.Trash(ctx, f.Actor.UserID)
	require.NoError(t, err)
	trashed, err := f.Native.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, trash, trashed.ParentID)

	tags, err := f.Store.GetTags(ctx, testenv.TenantID, model.TagOrigin, model.FileRef(strconv.Itoa(file.ID)))
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, strconv.Itoa(docs.ID), tags[0].Name)

	st = f.run(t, Input{Operation: model.OperationEmptyTrash})
	require.Empty(t, st.Error)
	_, err = f.Native.GetFile(ctx, file.ID)
	assert.ErrorIs(t, err, model.ErrFileNotFound)
	assert.Contains(t, f.audit.all(), notify.TrashEmptied)
	assert.NotContains(t, f.audit.all(), notify.FileDeleted)
}

func TestDeleteLockedFileIsRefused(t *testing.T) {
	f := newFixture(t)
	file := f.NativeFile(t, f.My, "a.txt", "a")
	f.lockNative(t, file, uuid.New())

	st := f.run(t, Input{Operation: model.OperationDelete, Files: ids(file.ID)})
	assert.Contains(t, st.Error, model.ErrLockedFile.Error())
	assert.Empty(t, st.Result)

	still, err := f.Native.GetFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, f.My, still.ParentID)
	assert.NotContains(t, f.audit.all(), notify.FileMovedToTrash)
}

func TestDeleteRootIsRejected(t *testing.T) {
	f := newFixture(t)
	st := f.run(t, Input{Operation: model.OperationDelete, Folders: ids(f.My), Immediately: true})
	assert.Equal(t, model.ErrSystemFolder.Error(), st.Error)
	assert.True(t, st.Finished)
}

func TestDeleteCleansSiblingMetadataWhenProviderFails(t *testing.T) {
	f := newFixture(t, providertest.WithCapabilities(provider.Capabilities{ServerCopy: true, ServerMove: true}))
	docs := f.Fake.AddFolder("", "docs")
	bad := f.Fake.AddFile(docs, "a.txt", "a")
	good := f.Fake.AddFile(docs, "b.txt", "b")
	f.Fake.FailOn("delete", bad, errors.New("provider unavailable"))

	badRef := f.ThirdRef(t, f.ThirdID(bad), model.EntryTypeFile)
	goodRef := f.ThirdRef(t, f.ThirdID(good), model.EntryTypeFile)
	f.Share(t, badRef)
	f.Share(t, goodRef)

	st := f.run(t, Input{Operation: model.OperationDelete, Folders: []string{f.ThirdID(docs)}, Immediately: true})
	assert.True(t, st.Finished)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 100, st.Progress)

	assert.Empty(t, f.Shares(t, goodRef))
	assert.False(t, f.Fake.Exists(good))
	assert.True(t, f.Fake.Exists(docs), "the folder stays while something below it could not be deleted")
}

func TestDeleteRoomNotifiesMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomsRoot, err := f.Roots.VirtualRooms(ctx)
	require.NoError(t, err)
	room := f.NativeFolder(t, roomsRoot, "Team")
	room.FolderType = model.FolderTypeCustomRoom
	require.NoError(t, f.Store.UpdateFolder(ctx, room))
	require.NoError(t, f.rooms.Reserve(ctx, testenv.TenantID))
	ace := f.Share(t, model.FolderRef(strconv.Itoa(room.ID)))

	events, stop := f.bus.Subscribe()
	defer stop()

	st := f.run(t, Input{Operation: model.OperationDelete, Folders: ids(room.ID)})
	require.Empty(t, st.Error)

	_, err = f.Native.GetFolder(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrFolderNotFound)
	assert.Empty(t, f.Shares(t, model.FolderRef(strconv.Itoa(room.ID))))
	n, err := f.rooms.Count(ctx, testenv.TenantID)
	require.NoError(t, err)
	assert.Zero(t, n)

	select {
	case e := <-events:
		require.Equal(t, event.TypeRoomRemoved, e.Type)
		removed, ok := e.Payload.(notify.RoomRemoved)
		require.True(t, ok)
		assert.Contains(t, removed.Recipients, ace.Subject)
	case <-time.After(time.Second):
		t.Fatal("no room removed event")
	}
}

// ── Download ─────────────────────────────────────────────────────

func (f *fixture) readTemp(t *testing.T, result string) []byte {
	t.Helper()
	rc, _, err := f.temp.GetObject(context.Background(), DownloadRoot+result, 0)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestDownloadSingleFileIsNotZipped(t *testing.T) {
	f := newFixture(t)
	file := f.NativeFile(t, f.My, "report.txt", "numbers")

	st := f.run(t, Input{Operation: model.OperationDownload, TaskID: "task-1", Files: ids(file.ID)})
	require.Empty(t, st.Error)
	assert.Equal(t, "report.txt", path.Base(st.Result))
	assert.Equal(t, "numbers", string(f.readTemp(t, st.Result)))
	assert.Equal(t, DownloadPrefix(f.Actor)+"task-1/report.txt", DownloadRoot+st.Result)
	assert.Contains(t, f.audit.all(), notify.FileDownloaded)
}

func TestDownloadArchivesBothStorages(t *testing.T) {
	f := newFixture(t)
	docs := f.NativeFolder(t, f.My, "docs")
	f.NativeFile(t, docs.ID, "a.txt", "a")
	sub := f.NativeFolder(t, docs.ID, "sub")
	f.NativeFile(t, sub.ID, "b.txt", "b")
	loose := f.NativeFile(t, f.My, "c.txt", "c")
	remote := f.Fake.AddFile("", "c.txt", "remote")

	st := f.run(t, Input{
		Operation: model.OperationDownload,
		Folders:   ids(docs.ID),
		Files:     append(ids(loose.ID), f.ThirdID(remote)),
	})
	require.Empty(t, st.Error)
	assert.Equal(t, "download.zip", path.Base(st.Result))

	data := f.readTemp(t, st.Result)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	contents := map[string]string{}
	for _, zf := range zr.File {
		names = append(names, zf.Name)
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[zf.Name] = string(b)
	}
	assert.ElementsMatch(t, []string{"c.txt", "docs/", "docs/a.txt", "docs/sub/", "docs/sub/b.txt", "c (1).txt"}, names)
	assert.Equal(t, "remote", contents["c (1).txt"])
	assert.Equal(t, "b", contents["docs/sub/b.txt"])
}

func TestDownloadConversionErrorsAreCollected(t *testing.T) {
	f := newFixture(t)
	f.deps.Converter = stubConverter{}
	f.factory = NewFactory(f.deps, Config{})
	good := f.NativeFile(t, f.My, "a.txt", "a")
	bad := f.NativeFile(t, f.My, "b.docx", "not really a document")
	worse := f.NativeFile(t, f.My, "c.docx", "still not")

	st := f.run(t, Input{
		Operation: model.OperationDownload,
		Files:     ids(good.ID, bad.ID, worse.ID),
		ConvertTo: map[string]string{strconv.Itoa(bad.ID): ".pdf", strconv.Itoa(worse.ID): ".pdf"},
	})
	assert.True(t, st.Finished)
	assert.Contains(t, st.Error, "b.pdf")
	assert.Contains(t, st.Error, "c.pdf")
	assert.Contains(t, st.Error, "; ")

	data := f.readTemp(t, st.Result)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)
}

func TestDownloadFolderUsesFolderName(t *testing.T) {
	f := newFixture(t)
	docs := f.NativeFolder(t, f.My, "Quarterly")
	f.NativeFile(t, docs.ID, "a.txt", "a")

	st := f.run(t, Input{Operation: model.OperationDownload, Folders: ids(docs.ID)})
	require.Empty(t, st.Error)
	assert.Equal(t, "Quarterly.zip", path.Base(st.Result))
	assert.Contains(t, f.audit.all(), notify.FolderDownloaded)
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	return names
}

func TestDownloadFoldersOfSameTitleKeepTheirFiles(t *testing.T) {
	f := newFixture(t)
	first := f.NativeFolder(t, f.My, "A")
	f.NativeFile(t, first.ID, "x.txt", "first")
	inner := f.NativeFolder(t, first.ID, "B")
	f.NativeFile(t, inner.ID, "y.txt", "y")
	parent := f.NativeFolder(t, f.My, "other")
	second := f.NativeFolder(t, parent.ID, "a")
	f.NativeFile(t, second.ID, "x.txt", "second")

	st := f.run(t, Input{Operation: model.OperationDownload, Folders: ids(first.ID, second.ID)})
	require.Empty(t, st.Error)

	data := f.readTemp(t, st.Result)
	assert.Equal(t, []string{"A/", "A/x.txt", "A/B/", "A/B/y.txt", "a (1)/", "a (1)/x.txt"}, zipNames(t, data))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, zf := range zr.File {
		if zf.Name != "a (1)/x.txt" {
			continue
		}
		rc, err := zf.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "second", string(b))
	}
}

func TestDownloadStorageFailureIsReportedOnItsHalf(t *testing.T) {
	f := newFixture(t)
	remote := f.Fake.AddFile("", "remote.txt", "remote")
	f.Fake.FailOn("download", remote, errors.New("provider unavailable"))

	c := newComposite(nil)
	split, err := splitIDs(nil, []string{f.ThirdID(remote)})
	require.NoError(t, err)
	f.factory.download(Input{Operation: model.OperationDownload, Actor: f.Actor}, split)(context.Background(), c)

	assert.Empty(t, c.Native.snapshot().err)
	assert.Contains(t, c.Third.snapshot().err, "provider unavailable")

	st := c.Status()
	assert.True(t, st.Finished)
	assert.Empty(t, st.Result)
	assert.Contains(t, st.Error, "provider unavailable")
}

func TestExternalDownloadKey(t *testing.T) {
	link := uuid.New()
	actor := model.Actor{TenantID: 1, External: &model.ExternalSession{LinkID: link, SessionID: "s1"}}
	assert.Equal(t, "downloads/"+link.String()+"/s1/", DownloadPrefix(actor))
}

type stubConverter struct{}

func (stubConverter) TransferTarget(string) string { return "" }
func (stubConverter) CanConvert(string, string) bool { return false }
func (stubConverter) Convert(context.Context, io.Reader, string, string, convert.Options) (io.ReadCloser, error) {
	return nil, model.ErrNotSupportedFormat
}

// ── Mark as read ─────────────────────────────────────────────────

func TestMarkAsReadClearsBadges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docs := f.NativeFolder(t, f.My, "docs")
	file := f.NativeFile(t, docs.ID, "a.txt", "a")

	other := uuid.New()
	docsRef := model.FolderRef(strconv.Itoa(docs.ID))
	myRef := model.FolderRef(strconv.Itoa(f.My))
	require.NoError(t, f.Store.SetShare(ctx, model.Ace{TenantID: testenv.TenantID, Ref: docsRef, Subject: f.Actor.UserID, Share: model.ShareRead}))
	require.NoError(t, f.deps.Marker.MarkAsNew(ctx, testenv.TenantID, other, model.FileRef(strconv.Itoa(file.ID)), []model.EntryRef{docsRef, myRef}))

	events, stop := f.bus.Subscribe()
	defer stop()

	st := f.run(t, Input{Operation: model.OperationMarkAsRead, Folders: ids(docs.ID)})
	require.Empty(t, st.Error)
	assert.Equal(t, model.FolderToken(docs.ID), st.Result)

	tags, err := f.Store.GetOwnerTags(ctx, testenv.TenantID, f.Actor.UserID, model.TagNew)
	require.NoError(t, err)
	assert.Empty(t, tags)

	for {
		select {
		case e := <-events:
			if e.Type != event.TypeNewItems {
				continue
			}
			counts, ok := e.Payload.(map[string]int)
			require.True(t, ok)
			assert.Zero(t, counts[model.FolderTypeUser.String()])
			return
		case <-time.After(time.Second):
			t.Fatal("no badge event")
		}
	}
}

// ── Composition ──────────────────────────────────────────────────

func TestNativeErrorWinsTie(t *testing.T) {
	c := newComposite(nil)
	c.Native.SetError(errors.New("native failed"))
	c.Third.SetError(errors.New("provider failed"))
	c.Native.Complete("file_1")
	c.Third.Complete("file_x")
	c.Native.Finish()
	c.Third.Finish()

	st := c.Status()
	assert.Equal(t, "native failed", st.Error)
	assert.Equal(t, "file_1:file_x", st.Result)
	assert.Equal(t, 100, st.Progress)
}

func TestCancellationIsNotAnError(t *testing.T) {
	f := newFixture(t)
	file := f.NativeFile(t, f.My, "a.txt", "a")
	in := Input{Operation: model.OperationDelete, Actor: f.Actor, Files: ids(file.ID)}
	op, err := f.factory.New(in)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := op.Run(ctx, nil)
	assert.True(t, st.Finished)
	assert.Empty(t, st.Error)
	assert.Empty(t, st.Result)
}

func TestInputRoundTripAndValidate(t *testing.T) {
	in := Input{
		TaskID:       "t1",
		Operation:    model.OperationCopy,
		Actor:        model.Actor{UserID: uuid.New(), TenantID: 3},
		Folders:      []string{"4"},
		DestFolderID: "9",
		Conflict:     model.ConflictDuplicate,
	}
	raw, err := in.Encode()
	require.NoError(t, err)
	assert.Contains(t, raw, `"conflict":"duplicate"`)
	back, err := DecodeInput(raw)
	require.NoError(t, err)
	assert.Equal(t, in, back)
	assert.NoError(t, back.Validate())

	cases := map[string]Input{
		"no tenant":      {Operation: model.OperationDelete, Files: []string{"1"}},
		"no destination": {Operation: model.OperationMove, Actor: in.Actor, Files: []string{"1"}},
		"no entries":     {Operation: model.OperationDownload, Actor: in.Actor},
		"bad id":         {Operation: model.OperationDelete, Actor: in.Actor, Files: []string{"-2"}},
		"unknown":        {Operation: "shred", Actor: in.Actor, Files: []string{"1"}},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, c.Validate(), model.ErrInvalidInput)
		})
	}
	assert.NoError(t, Input{Operation: model.OperationEmptyTrash, Actor: in.Actor}.Validate())
}
