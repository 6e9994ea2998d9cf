package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"go-docspace/internal/event"
	"go-docspace/internal/metrics"
)

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Event bus to listen for events
	bus event.Bus
}

func NewHub(bus event.Bus) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		bus:        bus,
	}
}

func (h *Hub) Run(ctx context.Context) {
	// Subscribe to event bus
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			metrics.SetWebsocketClients(0)
			return
		case client := <-h.register:
			h.clients[client] = true
			metrics.SetWebsocketClients(len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.SetWebsocketClients(len(h.clients))
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			// Marshal event to JSON
			message, err := json.Marshal(e)
			if err != nil {
				slog.Error("failed to marshal event", "error", err)
				continue
			}
			for client := range h.clients {
				if !client.wants(e) {
					continue
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
					metrics.SetWebsocketClients(len(h.clients))
				}
			}
		}
	}
}
