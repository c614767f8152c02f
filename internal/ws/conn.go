package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
	"github.com/draftwire/draftwire/internal/session"
)

// DraftService is the slice of the collaboration service the push transport
// needs: room authorization and the current version for stamping relays.
type DraftService interface {
	Authorize(ctx context.Context, draftID, userID string) error
	CurrentVersion(ctx context.Context, draftID string) (int, error)
}

type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	svc       DraftService
	registry  *session.Registry
	userID    string
	draftID   string
	sessionID string

	// sendMu orders enqueue against closeSend: broadcasts snapshot room
	// membership before enqueueing, so a racing disconnect must not close
	// the channel out from under them.
	sendMu sync.Mutex
	closed bool
	send   chan ServerMessage
}

func NewConn(ws *websocket.Conn, hub *Hub, svc DraftService, registry *session.Registry, userID string, queueLen int) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		svc:      svc,
		registry: registry,
		userID:   userID,
		send:     make(chan ServerMessage, queueLen),
	}
}

func (c *Conn) enqueue(msg ServerMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// queue full, drop; the poll path catches the client up
	}
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		// A dropped transport is not a leave: the session keeps its last
		// activity and ages out via recency, only the room membership goes.
		c.leaveRoom(ctx, false)
		c.closeSend()
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			logutil.GetLogger(ctx).Debug("websocket read ended",
				zap.String("user_id", c.userID),
				zap.String("draft_id", c.draftID),
				zap.Error(err))
			return
		}
		switch msg.Type {
		case MsgJoinDraft:
			c.handleJoin(ctx, msg.DraftID)
		case MsgLeaveDraft:
			c.leaveRoom(ctx, true)
		case MsgContentChange:
			c.handleContentChange(ctx, msg)
		case MsgHeartbeat:
			c.handleHeartbeat(ctx)
		default:
			c.enqueue(ServerMessage{Type: MsgError, Message: "unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, draftID string) {
	if draftID == "" {
		c.enqueue(ServerMessage{Type: MsgError, Message: "draft_id required"})
		return
	}
	if err := c.svc.Authorize(ctx, draftID, c.userID); err != nil {
		c.enqueue(ServerMessage{Type: MsgError, DraftID: draftID, Message: "not allowed"})
		return
	}
	// switching rooms leaves the previous draft first
	if c.draftID != "" && c.draftID != draftID {
		c.leaveRoom(ctx, true)
	}

	sessionID, err := c.registry.Join(ctx, draftID, c.userID)
	if err != nil {
		logutil.GetLogger(ctx).Error("session join failed",
			zap.String("draft_id", draftID),
			zap.String("user_id", c.userID),
			zap.Error(err))
		c.enqueue(ServerMessage{Type: MsgError, DraftID: draftID, Message: "join failed"})
		return
	}
	c.draftID = draftID
	c.sessionID = sessionID
	c.hub.Join(draftID, c)

	c.hub.BroadcastExcept(draftID, c, ServerMessage{
		Type:    MsgUserJoined,
		DraftID: draftID,
		UserID:  c.userID,
	})
	c.enqueue(ServerMessage{
		Type:    MsgUsersList,
		DraftID: draftID,
		Users:   c.roster(ctx, draftID),
	})
}

func (c *Conn) handleHeartbeat(ctx context.Context) {
	if c.sessionID == "" {
		return
	}
	err := c.registry.Heartbeat(ctx, c.sessionID)
	if err == appErr.ErrNotFound {
		// swept while idle: rejoin transparently
		sessionID, joinErr := c.registry.Join(ctx, c.draftID, c.userID)
		if joinErr == nil {
			c.sessionID = sessionID
		}
		return
	}
	if err != nil {
		logutil.GetLogger(ctx).Warn("heartbeat failed",
			zap.String("session_id", c.sessionID),
			zap.Error(err))
	}
}

// handleContentChange relays an already-saved content to the rest of the
// room. The save itself goes through the HTTP path; the socket only keeps
// other members current and refreshes the sender's liveness.
func (c *Conn) handleContentChange(ctx context.Context, msg ClientMessage) {
	draftID := msg.DraftID
	if draftID == "" {
		draftID = c.draftID
	}
	if draftID == "" || draftID != c.draftID {
		c.enqueue(ServerMessage{Type: MsgError, Message: "join the draft first"})
		return
	}
	c.handleHeartbeat(ctx)
	version, err := c.svc.CurrentVersion(ctx, draftID)
	if err != nil {
		// An unversioned relay would be dropped by every receiver's version
		// guard anyway, so don't send one.
		logutil.GetLogger(ctx).Warn("current version lookup failed",
			zap.String("draft_id", draftID),
			zap.Error(err))
		return
	}
	c.hub.BroadcastExcept(draftID, c, ServerMessage{
		Type:      MsgContentUpdated,
		DraftID:   draftID,
		UserID:    c.userID,
		Content:   msg.Content,
		Version:   version,
		Timestamp: time.Now().Unix(),
	})
}

// leaveRoom removes the connection from its room. Only an explicit leave
// deactivates the session; a dropped connection keeps it alive so liveness
// is judged by last-activity recency, not by transport state.
func (c *Conn) leaveRoom(ctx context.Context, explicit bool) {
	if c.draftID == "" {
		return
	}
	draftID := c.draftID
	c.hub.Leave(draftID, c)
	if explicit && c.sessionID != "" {
		if err := c.registry.Leave(ctx, c.sessionID); err != nil && err != appErr.ErrNotFound {
			logutil.GetLogger(ctx).Warn("session leave failed",
				zap.String("session_id", c.sessionID),
				zap.Error(err))
		}
	}
	c.hub.BroadcastExcept(draftID, c, ServerMessage{
		Type:    MsgUserLeft,
		DraftID: draftID,
		UserID:  c.userID,
	})
	c.draftID = ""
	c.sessionID = ""
}

func (c *Conn) roster(ctx context.Context, draftID string) []string {
	active, err := c.registry.ListActive(ctx, draftID, 0)
	if err != nil {
		logutil.GetLogger(ctx).Warn("roster lookup failed",
			zap.String("draft_id", draftID),
			zap.Error(err))
		return nil
	}
	seen := make(map[string]struct{}, len(active))
	users := make([]string, 0, len(active))
	for _, sess := range active {
		if _, ok := seen[sess.UserID]; ok {
			continue
		}
		seen[sess.UserID] = struct{}{}
		users = append(users, sess.UserID)
	}
	return users
}
