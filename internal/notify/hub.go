package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/beacon-dash/beacon/internal/authz"
)

// ErrConnectionLimit is returned when a user already holds the maximum
// number of live connections.
var ErrConnectionLimit = errors.New("notify: connection limit reached")

// HubObserver is told about connection churn.
type HubObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Client is one live subscriber. Role is captured when the client connects.
type Client struct {
	UserID int64
	Role   authz.Role
	send   chan []byte
}

// NewClient allocates a client with a bounded outbound queue.
func NewClient(userID int64, role authz.Role, queue int) *Client {
	if queue <= 0 {
		queue = 16
	}
	return &Client{UserID: userID, Role: role, send: make(chan []byte, queue)}
}

// Outbound returns the queue the writer drains. It is closed on unregister.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// Hub is the in-process connection registry keyed by user ID.
type Hub struct {
	mu          sync.RWMutex
	clients     map[int64]map[*Client]struct{}
	maxPerUser  int
	observer    HubObserver
	logger      *slog.Logger
	connections int
}

// NewHub constructs a Hub. maxPerUser <= 0 means unlimited.
func NewHub(maxPerUser int, observer HubObserver, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[int64]map[*Client]struct{}), maxPerUser: maxPerUser, observer: observer, logger: logger}
}

// Register adds c to the registry.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	set := h.clients[c.UserID]
	if h.maxPerUser > 0 && len(set) >= h.maxPerUser {
		h.mu.Unlock()
		return ErrConnectionLimit
	}
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.connections++
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}
	return nil
}

// Unregister removes c and closes its queue. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	h.connections--
	close(c.send)
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.ConnectionClosed()
	}
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections
}

// Broadcast queues msg for every client and returns the number reached.
func (h *Hub) Broadcast(msg Message) int {
	return h.deliver(msg, func(*Client) bool { return true })
}

// SendToUser queues msg for every connection of userID.
func (h *Hub) SendToUser(userID int64, msg Message) int {
	payload, ok := h.encode(msg)
	if !ok {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients[userID] {
		if h.enqueue(c, payload) {
			n++
		}
	}
	return n
}

// SendToRoles queues msg for clients whose role is one of roles.
func (h *Hub) SendToRoles(roles []authz.Role, msg Message) int {
	want := make(map[authz.Role]struct{}, len(roles))
	for _, r := range roles {
		want[r] = struct{}{}
	}
	return h.deliver(msg, func(c *Client) bool {
		_, ok := want[c.Role]
		return ok
	})
}

// Deliver routes env to local clients.
func (h *Hub) Deliver(env Envelope) int {
	if env.All {
		return h.Broadcast(env.Message)
	}
	n := 0
	users := make(map[int64]struct{}, len(env.Users))
	for _, id := range env.Users {
		if _, seen := users[id]; seen {
			continue
		}
		users[id] = struct{}{}
		n += h.SendToUser(id, env.Message)
	}
	if len(env.Roles) > 0 {
		want := make(map[authz.Role]struct{}, len(env.Roles))
		for _, r := range env.Roles {
			want[r] = struct{}{}
		}
		n += h.deliver(env.Message, func(c *Client) bool {
			if _, done := users[c.UserID]; done {
				return false
			}
			_, ok := want[c.Role]
			return ok
		})
	}
	return n
}

func (h *Hub) deliver(msg Message, match func(*Client) bool) int {
	payload, ok := h.encode(msg)
	if !ok {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		for c := range set {
			if match(c) && h.enqueue(c, payload) {
				n++
			}
		}
	}
	return n
}

// enqueue never blocks; slow clients lose messages. Callers hold h.mu.
func (h *Hub) enqueue(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		h.logger.Warn("notification dropped", slog.Int64("user_id", c.UserID))
		return false
	}
}

func (h *Hub) encode(msg Message) ([]byte, bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode notification", slog.Any("error", err))
		return nil, false
	}
	return payload, true
}
