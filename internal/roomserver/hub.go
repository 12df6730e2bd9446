package roomserver

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"roomchat/internal/models"
)

type member struct {
	user string
	room string
	send chan string
}

// Hub tracks room membership and fans frames out to the members of a room.
type Hub struct {
	// Map of room -> member set
	rooms map[string]map[*member]bool

	logger *slog.Logger
	mu     sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*member]bool),
		logger: logger,
	}
}

// Join places m in its room and announces it to everyone there, m included.
func (h *Hub) Join(m *member) {
	h.mu.Lock()
	members, ok := h.rooms[m.room]
	if !ok {
		members = make(map[*member]bool)
		h.rooms[m.room] = members
	}
	members[m] = true
	h.mu.Unlock()

	h.logger.Info("user joined", "user", m.user, "room", m.room)
	h.broadcast(m.room, models.Frame{Type: models.FrameTypeJoin, User: m.user})
}

// Leave removes m from its room and announces it to the remaining members.
// It reports whether m was a member.
func (h *Hub) Leave(m *member) bool {
	h.mu.Lock()
	members, ok := h.rooms[m.room]
	if !ok || !members[m] {
		h.mu.Unlock()
		return false
	}
	delete(members, m)
	if len(members) == 0 {
		delete(h.rooms, m.room)
	}
	h.mu.Unlock()

	h.logger.Info("user left", "user", m.user, "room", m.room)
	h.broadcast(m.room, models.Frame{Type: models.FrameTypeLeave, User: m.user})
	return true
}

// Dispatch relays a chat message from m to its room.
func (h *Hub) Dispatch(m *member, text string) {
	h.mu.RLock()
	joined := h.rooms[m.room][m]
	h.mu.RUnlock()

	if !joined {
		return
	}
	h.broadcast(m.room, models.Frame{Type: models.FrameTypeMessage, User: m.user, Message: &text})
}

// Members lists the users currently in room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.rooms[room]))
	for m := range h.rooms[room] {
		users = append(users, m.user)
	}
	sort.Strings(users)
	return users
}

func (h *Hub) broadcast(room string, frame models.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for m := range h.rooms[room] {
		select {
		case m.send <- string(data):
		default:
			h.logger.Warn("dropping frame for slow member", "user", m.user, "room", room)
		}
	}
}
