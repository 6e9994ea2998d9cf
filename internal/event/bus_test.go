package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()
	defer unsubB()

	bus.Publish(New(TypeDelete, "u1", 1, OperationPayload{TaskID: "t1"}))

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, TypeDelete, e.Type)
		assert.Equal(t, "t1", e.Payload.(OperationPayload).TaskID)
		assert.NotEmpty(t, e.ID)
	}

	unsubA()
	_, open := <-a
	assert.False(t, open)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	for range 150 {
		bus.Publish(New(TypeTaskProgress, "", 0, nil))
	}
	require.Len(t, ch, 100)
}
