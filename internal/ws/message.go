package ws

type ClientMessage struct {
	Type    string `json:"type"`
	DraftID string `json:"draft_id,omitempty"`
	Content string `json:"content,omitempty"`
}

type ServerMessage struct {
	Type      string   `json:"type"`
	DraftID   string   `json:"draft_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Users     []string `json:"users,omitempty"`
	Content   string   `json:"content,omitempty"`
	Version   int      `json:"version,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
	Message   string   `json:"message,omitempty"`
}

const (
	// client -> server
	MsgJoinDraft     = "join-draft"
	MsgLeaveDraft    = "leave-draft"
	MsgContentChange = "content-change"
	MsgHeartbeat     = "heartbeat"

	// server -> client
	MsgUsersList      = "users-list"
	MsgUserJoined     = "user-joined"
	MsgUserLeft       = "user-left"
	MsgContentUpdated = "content-updated"
	MsgError          = "error"
)
