// Package ws pushes real-time notifications to connected staff and patients.
// It implements a hub-and-spoke pattern: every authenticated connection is
// subscribed to its own user topic, and untargeted events go to everyone.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Well-known notification actions.
const (
	ActionNewBooking        = "NEW_BOOKING"
	ActionAssignAppointment = "ASSIGN_APPOINTMENT"
	ActionAppointmentUpdate = "APPOINTMENT_UPDATE"
)

// Event is a notification pushed to websocket clients. When TargetUserID is
// set only that user's connections receive it, otherwise it goes to all.
type Event struct {
	Action       string          `json:"action"`
	TargetUserID *uuid.UUID      `json:"target_user_id,omitempty"`
	Message      string          `json:"message,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Publisher is the side services use to emit notifications. Publishing is
// best effort; callers must not fail their operation on a publish error.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client represents a single websocket connection for one user.
type Client struct {
	UserID uuid.UUID
	Send   chan []byte
}

// Hub tracks connected clients by user. Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	byUser  map[uuid.UUID]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
	sendBuf int
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byUser:  make(map[uuid.UUID]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
		sendBuf: 256,
	}
}

// Register adds a connection for the given user.
func (h *Hub) Register(userID uuid.UUID) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, h.sendBuf),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Client]struct{})
	}
	h.byUser[userID][client] = struct{}{}

	return client
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	delete(h.all, client)
	if conns, ok := h.byUser[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.byUser, client.UserID)
		}
	}
	close(client.Send)
}

// Publish implements Publisher. Events are fanned out without blocking;
// clients with a full buffer miss the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("action", event.Action).Msg("marshal event")
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if event.TargetUserID != nil {
		for client := range h.byUser[*event.TargetUserID] {
			h.send(client, data)
		}
		return nil
	}

	for client := range h.all {
		h.send(client, data)
	}
	return nil
}

func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		// Buffer full; drop rather than block the publisher.
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// UserConnCount returns the number of connections for one user.
func (h *Hub) UserConnCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// RecordingPublisher captures published events. Used in tests.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *RecordingPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (p *RecordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
