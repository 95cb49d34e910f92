package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/logger"
	"github.com/issuetracker/backend/internal/metrics"
)

// Hub maintains the set of active clients per project and fans events out
// to them.
type Hub struct {
	// Registered clients by project ID
	clients map[uuid.UUID]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast channel for project events
	broadcast chan Event

	// Closed when Run returns
	done chan struct{}

	mu      sync.RWMutex
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewHub creates a new Hub instance.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		metrics:    m,
		log:        logger.Default().WithComponent("websocket"),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing
// every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for projectID, clients := range h.clients {
				for client := range clients {
					h.drop(projectID, client)
				}
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.projectID] == nil {
				h.clients[client.projectID] = make(map[*Client]bool)
			}
			h.clients[client.projectID][client] = true
			h.mu.Unlock()
			h.metrics.IncWSConnections()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client.projectID, client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[event.ProjectID] {
				select {
				case client.send <- event:
				default:
					// slow consumer
					h.drop(event.ProjectID, client)
				}
			}
			h.evict(event)
			h.mu.Unlock()
		}
	}
}

// Register adds a client unless the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. It is a no-op after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// drop removes client and closes its send channel. Callers hold mu.
func (h *Hub) drop(projectID uuid.UUID, client *Client) {
	clients, ok := h.clients[projectID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	h.metrics.DecWSConnections()
	if len(clients) == 0 {
		delete(h.clients, projectID)
	}
}

// evict closes the streams an event revokes. Queued events, including
// this one, are still written before the close. Callers hold mu.
func (h *Hub) evict(event Event) {
	switch event.Type {
	case MemberRemoved:
		if event.UserID == nil {
			return
		}
		for client := range h.clients[event.ProjectID] {
			if client.userID == *event.UserID {
				h.drop(event.ProjectID, client)
			}
		}
	case ProjectDeleted:
		for client := range h.clients[event.ProjectID] {
			h.drop(event.ProjectID, client)
		}
	}
}

// Publish queues an event for the project's subscribers. It never blocks;
// when the queue is full the event is dropped.
func (h *Hub) Publish(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn(context.Background(), "event queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("project_id", event.ProjectID.String()),
		)
	}
}

// ClientCount returns the number of connected clients for a project.
func (h *Hub) ClientCount(projectID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
