package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OperationType string

const (
	OperationMove       OperationType = "move"
	OperationCopy       OperationType = "copy"
	OperationDelete     OperationType = "delete"
	OperationEmptyTrash OperationType = "empty_trash"
	OperationDownload   OperationType = "download"
	OperationMarkAsRead OperationType = "mark_as_read"
	OperationDuplicate  OperationType = "duplicate"
)

type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a persisted bulk operation.
type Task struct {
	ID              string        `json:"id"`
	TenantID        int           `json:"tenant_id"`
	Owner           string        `json:"owner"`
	Operation       OperationType `json:"operation"`
	Input           string        `json:"input"`
	Status          TaskStatus    `json:"status"`
	Progress        int           `json:"progress"`
	Processed       int           `json:"processed"`
	Total           int           `json:"total"`
	Result          string        `json:"result"`
	Error           string        `json:"error"`
	Finished        bool          `json:"finished"`
	Hold            bool          `json:"hold"`
	CancelRequested bool          `json:"cancel_requested"`
	ProcessID       string        `json:"process_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func NewTaskID() string { return uuid.NewString() }

// OperationResult is what a poller sees.
type OperationResult struct {
	ID        string        `json:"id"`
	Operation OperationType `json:"operation"`
	Status    TaskStatus    `json:"status"`
	Progress  int           `json:"progress"`
	Processed int           `json:"processed"`
	Result    string        `json:"result"`
	Error     string        `json:"error"`
	Finished  bool          `json:"finished"`
}

func (t *Task) ToResult() OperationResult {
	return OperationResult{
		ID:        t.ID,
		Operation: t.Operation,
		Status:    t.Status,
		Progress:  t.Progress,
		Processed: t.Processed,
		Result:    t.Result,
		Error:     t.Error,
		Finished:  t.Finished,
	}
}

const ResultSeparator = ":"

func FileToken[T ID](id T) string   { return fmt.Sprintf("file_%v", id) }
func FolderToken[T ID](id T) string { return fmt.Sprintf("folder_%v", id) }

// ParseResult splits a result string into its tokens.
func ParseResult(result string) []string {
	if result == "" {
		return nil
	}
	return strings.Split(result, ResultSeparator)
}
