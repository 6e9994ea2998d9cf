package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"go-docspace/internal/event"
	"go-docspace/internal/model"
)

// RoomRemoved is pushed to everyone who had access to a deleted room.
type RoomRemoved struct {
	RoomID     string      `json:"room_id"`
	Title      string      `json:"title"`
	Recipients []uuid.UUID `json:"recipients"`
}

// Notifier delivers user-facing notifications over the event bus.
type Notifier struct {
	bus event.Bus
}

func NewNotifier(bus event.Bus) *Notifier {
	return &Notifier{bus: bus}
}

// SendRoomRemoved tells the members listed in aces (as they were before the
// room was deleted) that it is gone.
func (n *Notifier) SendRoomRemoved(_ context.Context, actor model.Actor, roomID, title string, aces []model.Ace) {
	var recipients []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, ace := range aces {
		if ace.Subject == actor.UserID || seen[ace.Subject] {
			continue
		}
		seen[ace.Subject] = true
		recipients = append(recipients, ace.Subject)
	}

	slog.Info("room removed", "room_id", roomID, "title", title, "recipients", len(recipients))
	n.bus.Publish(event.New(event.TypeRoomRemoved, actor.UserID.String(), actor.TenantID, RoomRemoved{
		RoomID:     roomID,
		Title:      title,
		Recipients: recipients,
	}))
}

// StatUpdate carries the new value of a tenant statistic.
type StatUpdate struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Stats pushes statistic changes to connected clients.
type Stats struct {
	bus event.Bus
}

func NewStats(bus event.Bus) *Stats {
	return &Stats{bus: bus}
}

func (s *Stats) PushStat(_ context.Context, tenantID int, name string, value int64) {
	s.bus.Publish(event.New(event.TypeStatUpdated, "", tenantID, StatUpdate{Name: name, Value: value}))
}
