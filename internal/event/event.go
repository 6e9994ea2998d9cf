package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	// Integration events, one per top-level bulk operation.
	TypeMoveOrCopy   Type = "operation.move_or_copy"
	TypeDelete       Type = "operation.delete"
	TypeEmptyTrash   Type = "operation.empty_trash"
	TypeBulkDownload Type = "operation.bulk_download"
	TypeMarkAsRead   Type = "operation.mark_as_read"
	TypeDuplicate    Type = "operation.duplicate"

	TypeTaskProgress Type = "task.progress"
	TypeTaskFinished Type = "task.finished"

	TypeRoomRemoved Type = "room.removed"
	TypeStatUpdated Type = "stat.updated"
	TypeNewItems    Type = "marker.new_items"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
	ActorID   string `json:"actor_id,omitempty"` // Who triggered the event
	TenantID  int    `json:"tenant_id,omitempty"`
}

// New stamps an event with an id and the current time.
func New(t Type, actorID string, tenantID int, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
		TenantID:  tenantID,
	}
}

// OperationPayload is carried by integration events.
type OperationPayload struct {
	ActorID  string `json:"actor_id"`
	TenantID int    `json:"tenant_id"`
	TaskID   string `json:"task_id"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
