package ws

import (
	"sync"
)

// Hub tracks which connections belong to which draft room. It holds no
// presence or version state of its own: the Session Registry and Version
// Store stay the single source of truth, the hub only fans events out.
type Hub struct {
	mu sync.RWMutex
	// draftID -> set of connections; a user may hold several connections
	// (tabs, devices), so rooms key by connection rather than user.
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(draftID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[draftID] == nil {
		h.rooms[draftID] = make(map[*Conn]struct{})
	}
	h.rooms[draftID][c] = struct{}{}
}

func (h *Hub) Leave(draftID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[draftID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, draftID)
		}
	}
}

func (h *Hub) conns(draftID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.rooms[draftID]))
	for c := range h.rooms[draftID] {
		conns = append(conns, c)
	}
	return conns
}

// BroadcastExcept delivers msg to every room member except the given
// connection. Delivery is best effort: a slow consumer's message is dropped
// rather than blocking the room.
func (h *Hub) BroadcastExcept(draftID string, except *Conn, msg ServerMessage) {
	for _, c := range h.conns(draftID) {
		if c == except {
			continue
		}
		c.enqueue(msg)
	}
}

// ContentUpdated implements the service broadcaster: a save accepted on the
// HTTP path is pushed to every other member of the draft's room. Connections
// belonging to the editor are skipped, their client already holds the content.
func (h *Hub) ContentUpdated(draftID, editorID, content string, version int, timestamp int64) {
	msg := ServerMessage{
		Type:      MsgContentUpdated,
		DraftID:   draftID,
		UserID:    editorID,
		Content:   content,
		Version:   version,
		Timestamp: timestamp,
	}
	for _, c := range h.conns(draftID) {
		if c.userID == editorID {
			continue
		}
		c.enqueue(msg)
	}
}
