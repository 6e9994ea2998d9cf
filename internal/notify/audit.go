// Package notify holds the fire-and-forget sinks of the engine: audit
// messages, notifications and statistic pushes. None of them blocks or fails
// the operation that triggers them.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-docspace/internal/metrics"
	"go-docspace/internal/model"
)

type Action string

const (
	FileMoved                 Action = "file_moved"
	FileMovedWithOverwriting  Action = "file_moved_with_overwriting"
	FileCopied                Action = "file_copied"
	FileCopiedWithOverwriting Action = "file_copied_with_overwriting"
	FolderMoved               Action = "folder_moved"
	FolderCopied              Action = "folder_copied"
	FileMovedToTrash          Action = "file_moved_to_trash"
	FolderMovedToTrash        Action = "folder_moved_to_trash"
	FileDeleted               Action = "file_deleted"
	FolderDeleted             Action = "folder_deleted"
	RoomDeleted               Action = "room_deleted"
	RoomArchived              Action = "room_archived"
	RoomUnarchived            Action = "room_unarchived"
	TrashEmptied              Action = "trash_emptied"
	FileDownloaded            Action = "file_downloaded"
	FolderDownloaded          Action = "folder_downloaded"
	FilesDownloaded           Action = "files_downloaded"
	FileMarkedAsRead          Action = "file_marked_as_read"
	FolderMarkedAsRead        Action = "folder_marked_as_read"
	FileDuplicated            Action = "file_duplicated"
	FolderDuplicated          Action = "folder_duplicated"
)

// Entry is one audit record.
type Entry struct {
	TenantID   int               `json:"tenant_id"`
	Action     Action            `json:"action"`
	Actor      uuid.UUID         `json:"actor"`
	Target     string            `json:"target"`
	Titles     []string          `json:"titles,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// AuditWriter persists batches of entries.
type AuditWriter interface {
	Write(ctx context.Context, entries []Entry) error
}

// Sender is the audit surface the engine depends on.
type Sender interface {
	Send(actor model.Actor, action Action, target string, headers map[string]string, titles ...string)
}

const (
	auditBatch = 64
	auditFlush = time.Second
)

// Audit buffers entries and writes them in batches from one goroutine.
// Send never blocks: when the buffer is full the entry is dropped and counted.
type Audit struct {
	writer AuditWriter
	queue  chan Entry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ Sender = (*Audit)(nil)

func NewAudit(writer AuditWriter, buffer int) *Audit {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Audit{
		writer: writer,
		queue:  make(chan Entry, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (a *Audit) Send(actor model.Actor, action Action, target string, headers map[string]string, titles ...string) {
	if a == nil {
		return
	}
	e := Entry{
		TenantID:   actor.TenantID,
		Action:     action,
		Actor:      actor.UserID,
		Target:     target,
		Titles:     titles,
		Headers:    headers,
		OccurredAt: time.Now().UTC(),
	}
	select {
	case a.queue <- e:
	default:
		metrics.RecordAuditDropped()
		slog.Warn("audit buffer full, entry dropped", "action", action, "target", target)
	}
}

// Run writes queued entries until Close. Pending entries are flushed on the way out.
func (a *Audit) Run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(auditFlush)
	defer ticker.Stop()

	batch := make([]Entry, 0, auditBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.writer.Write(wctx, batch); err != nil {
			slog.Error("write audit entries failed", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-a.queue:
			batch = append(batch, e)
			if len(batch) >= auditBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.stop:
			for {
				select {
				case e := <-a.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// Close stops Run and waits for the final flush.
func (a *Audit) Close() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

// LogWriter writes audit entries to the process log; it backs the sink when
// no database is configured.
type LogWriter struct{}

func (LogWriter) Write(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		slog.Info("audit",
			"tenant_id", e.TenantID,
			"action", e.Action,
			"actor", e.Actor,
			"target", e.Target,
			"titles", strings.Join(e.Titles, ", "),
		)
	}
	return nil
}
