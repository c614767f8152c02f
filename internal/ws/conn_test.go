package ws

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/draftwire/draftwire/internal/session"
)

type fakeDraftService struct {
	authorizeErr error
	version      int
	versionErr   error
}

func (f *fakeDraftService) Authorize(ctx context.Context, draftID, userID string) error {
	return f.authorizeErr
}

func (f *fakeDraftService) CurrentVersion(ctx context.Context, draftID string) (int, error) {
	return f.version, f.versionErr
}

func newConnFixture(t *testing.T, userID string) (*Conn, *Hub, *session.Registry, *fakeDraftService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	registry := session.NewRegistry(rdb, 30*time.Second, 60*time.Second)
	hub := NewHub()
	svc := &fakeDraftService{version: 1}
	return NewConn(nil, hub, svc, registry, userID, 4), hub, registry, svc
}

func TestDroppedConnectionKeepsSessionAlive(t *testing.T) {
	conn, hub, registry, _ := newConnFixture(t, "alice")
	ctx := context.Background()

	conn.handleJoin(ctx, "draft-1")
	require.NotEmpty(t, conn.sessionID)

	// The transport drops without a leave message: the room membership goes,
	// but the session stays and ages out by recency.
	conn.leaveRoom(ctx, false)
	conn.closeSend()

	require.Empty(t, hub.conns("draft-1"))
	active, err := registry.ListActive(ctx, "draft-1", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "alice", active[0].UserID)
}

func TestExplicitLeaveDeactivatesSession(t *testing.T) {
	conn, hub, registry, _ := newConnFixture(t, "alice")
	ctx := context.Background()

	conn.handleJoin(ctx, "draft-1")
	conn.leaveRoom(ctx, true)

	require.Empty(t, hub.conns("draft-1"))
	active, err := registry.ListActive(ctx, "draft-1", 0)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestContentChangeSkippedWhenVersionUnknown(t *testing.T) {
	sender, hub, registry, svc := newConnFixture(t, "alice")
	receiver := NewConn(nil, hub, svc, registry, "bob", 4)
	ctx := context.Background()

	sender.handleJoin(ctx, "draft-1")
	receiver.handleJoin(ctx, "draft-1")
	drain(sender)
	drain(receiver)

	// Without a version the relay would be dropped by every receiver's
	// version guard, so nothing should be broadcast at all.
	svc.versionErr = context.DeadlineExceeded
	sender.handleContentChange(ctx, ClientMessage{Type: MsgContentChange, DraftID: "draft-1", Content: "x"})
	require.Empty(t, drain(receiver))

	svc.versionErr = nil
	svc.version = 7
	sender.handleContentChange(ctx, ClientMessage{Type: MsgContentChange, DraftID: "draft-1", Content: "x"})
	msgs := drain(receiver)
	require.Len(t, msgs, 1)
	require.Equal(t, MsgContentUpdated, msgs[0].Type)
	require.Equal(t, 7, msgs[0].Version)
	require.Equal(t, "x", msgs[0].Content)
}
