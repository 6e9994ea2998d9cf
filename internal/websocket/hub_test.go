package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-docspace/internal/event"
	"go-docspace/internal/model"
)

func TestClientWants(t *testing.T) {
	actor := model.Actor{UserID: uuid.New(), TenantID: 1}
	c := &Client{actor: actor}

	assert.True(t, c.wants(event.New(event.TypeTaskProgress, actor.Key(), 1, nil)))
	assert.False(t, c.wants(event.New(event.TypeTaskProgress, uuid.NewString(), 1, nil)))
	assert.False(t, c.wants(event.New(event.TypeStatUpdated, "", 2, nil)))
	assert.True(t, c.wants(event.New(event.TypeRoomRemoved, uuid.NewString(), 1, nil)))
}

func TestHubBroadcastsFilteredEvents(t *testing.T) {
	bus := event.NewBus()
	hub := NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	actor := model.Actor{UserID: uuid.New(), TenantID: 1}
	client := &Client{hub: hub, send: make(chan []byte, 8), actor: actor}
	hub.register <- client

	// The hub subscribes before it starts selecting, so the register above
	// guarantees the subscription exists.
	bus.Publish(event.New(event.TypeTaskProgress, uuid.NewString(), 1, "someone else"))
	bus.Publish(event.New(event.TypeTaskProgress, actor.Key(), 1, "mine"))

	select {
	case msg := <-client.send:
		var e event.Event
		require.NoError(t, json.Unmarshal(msg, &e))
		assert.Equal(t, "mine", e.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	<-done
	_, open := <-client.send
	assert.False(t, open)
}
