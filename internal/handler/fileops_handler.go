package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-docspace/internal/middleware"
	"go-docspace/internal/model"
	"go-docspace/internal/operations"
	"go-docspace/internal/storage"
	"go-docspace/internal/tasks"
	"go-docspace/internal/util"
	"go-docspace/pkg/apierror"
)

type taskService interface {
	Publish(ctx context.Context, in operations.Input, opts ...tasks.PublishOption) (string, error)
	Poll(ctx context.Context, actor model.Actor) ([]model.OperationResult, error)
	Cancel(ctx context.Context, actor model.Actor, id string) ([]model.OperationResult, error)
}

// auditHeaders are copied from the request into the task input so audit
// records name the client that started the operation.
var auditHeaders = []string{"User-Agent", "Referer", "X-Forwarded-For", "X-Request-ID"}

type FileOpsHandler struct {
	tasks taskService
	temp  storage.Backend
}

func NewFileOpsHandler(tasks taskService, temp storage.Backend) *FileOpsHandler {
	return &FileOpsHandler{tasks: tasks, temp: temp}
}

type fileOpsRequest struct {
	FolderIDs    []string          `json:"folder_ids"`
	FileIDs      []string          `json:"file_ids"`
	DestFolderID string            `json:"dest_folder_id"`
	Conflict     string            `json:"conflict_resolve_type"`
	Immediately  bool              `json:"immediately"`
	HoldResult   bool              `json:"hold_result"`
	ConvertTo    map[string]string `json:"convert_to"`
}

func (h *FileOpsHandler) Move(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationMove)
}

func (h *FileOpsHandler) Copy(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationCopy)
}

func (h *FileOpsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationDelete)
}

func (h *FileOpsHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationEmptyTrash)
}

func (h *FileOpsHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationDownload)
}

func (h *FileOpsHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationMarkAsRead)
}

func (h *FileOpsHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, model.OperationDuplicate)
}

// publish queues the operation and answers with the actor's current task
// list, the new task included.
func (h *FileOpsHandler) publish(w http.ResponseWriter, r *http.Request, op model.OperationType) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}
	defer r.Body.Close()

	var payload fileOpsRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	conflict, err := model.ParseConflictResolve(payload.Conflict)
	if err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid conflict_resolve_type", payload.Conflict, http.StatusBadRequest))
		return
	}

	in := operations.Input{
		Operation:    op,
		Actor:        actor,
		Folders:      payload.FolderIDs,
		Files:        payload.FileIDs,
		DestFolderID: payload.DestFolderID,
		Conflict:     conflict,
		Immediately:  payload.Immediately,
		ConvertTo:    payload.ConvertTo,
		Headers:      requestHeaders(r),
	}
	var opts []tasks.PublishOption
	if payload.HoldResult {
		opts = append(opts, tasks.WithHold())
	}

	id, err := h.tasks.Publish(r.Context(), in, opts...)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := h.tasks.Poll(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/fileops?task="+id)
	writeSuccess(w, http.StatusAccepted, results)
}

func (h *FileOpsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	results, err := h.tasks.Poll(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, results)
}

// Terminate cancels every unfinished task of the actor, or the one named by
// the taskID path parameter.
func (h *FileOpsHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	results, err := h.tasks.Cancel(r.Context(), actor, strings.TrimSpace(chi.URLParam(r, "taskID")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, results)
}

// DownloadResult streams a finished download. Only the actor's own area of
// the temp storage is reachable; share sessions get each result once.
func (h *FileOpsHandler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthorized)
		return
	}

	rel := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	key := operations.DownloadRoot + rel
	if rel == "" || strings.Contains(rel, "..") || !strings.HasPrefix(key, operations.DownloadPrefix(actor)) {
		writeError(w, apierror.New("NOT_FOUND", "Download not found", "", http.StatusNotFound))
		return
	}

	body, size, err := h.temp.GetObject(r.Context(), key, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	filename := path.Base(key)
	w.Header().Set("Content-Type", util.ContentType(filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("download stream interrupted", "key", key, "error", err)
		return
	}

	if actor.External != nil {
		if err := h.temp.DeleteObject(context.WithoutCancel(r.Context()), key); err != nil {
			slog.Warn("share download not removed", "key", key, "error", err)
		}
	}
}

func requestHeaders(r *http.Request) map[string]string {
	out := map[string]string{}
	for _, name := range auditHeaders {
		if v := r.Header.Get(name); v != "" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
