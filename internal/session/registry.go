package session

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/draftwire/draftwire/internal/model"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
)

// Registry owns all session records. Nothing else writes session state.
//
// Layout per draft: a ZSET roster keyed by draft with score = last activity
// (unix seconds), a hash per session, and a (draft,user) index so a user keeps
// a single active session per draft across transports. Hashes carry a TTL so
// records of silently-gone clients age out even between sweeps.
type Registry struct {
	rdb            *redis.Client
	livenessWindow time.Duration
	sweepThreshold time.Duration
	now            func() time.Time
}

func NewRegistry(rdb *redis.Client, livenessWindow, sweepThreshold time.Duration) *Registry {
	return &Registry{
		rdb:            rdb,
		livenessWindow: livenessWindow,
		sweepThreshold: sweepThreshold,
		now:            time.Now,
	}
}

func (r *Registry) LivenessWindow() time.Duration {
	return r.livenessWindow
}

// reserveScript atomically claims the (draft,user) index key: the first
// joiner's candidate wins and every concurrent joiner is handed the same
// session ID, so a poll racing a socket join cannot mint two sessions.
var reserveScript = redis.NewScript(`
local existing = redis.call("GET", KEYS[1])
if existing then
	return existing
end
redis.call("SET", KEYS[1], ARGV[1], "EX", tonumber(ARGV[2]))
return ARGV[1]
`)

// Join creates a session or reactivates the user's existing one for the
// draft. A stale index entry is harmless: touch rebuilds the session hash
// under the reserved ID either way.
func (r *Registry) Join(ctx context.Context, draftID, userID string) (string, error) {
	candidate := uuid.NewString()
	ttlSecs := int64((r.sweepThreshold * 2) / time.Second)
	sessionID, err := reserveScript.Run(ctx, r.rdb,
		[]string{userKey(draftID, userID)},
		candidate, ttlSecs,
	).Text()
	if err != nil {
		return "", err
	}
	if err := r.touch(ctx, sessionID, draftID, userID); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Heartbeat refreshes last activity. Unknown sessions report ErrNotFound so
// the caller rejoins instead of resurrecting a swept record.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	fields, err := r.rdb.HGetAll(ctx, infoKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return appErr.ErrNotFound
	}
	return r.touch(ctx, sessionID, fields["draft_id"], fields["user_id"])
}

// Leave deactivates immediately on explicit disconnect. The hash is kept (with
// active=0) until its TTL runs out so late heartbeats still resolve to a
// rejoin rather than a phantom session.
func (r *Registry) Leave(ctx context.Context, sessionID string) error {
	fields, err := r.rdb.HGetAll(ctx, infoKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return appErr.ErrNotFound
	}
	tx := r.rdb.TxPipeline()
	tx.HSet(ctx, infoKey(sessionID), "active", "0")
	tx.ZRem(ctx, roomKey(fields["draft_id"]), sessionID)
	tx.Del(ctx, userKey(fields["draft_id"], fields["user_id"]))
	_, err = tx.Exec(ctx)
	return err
}

// ListActive returns sessions that are both flagged active and recently seen.
// The dual check tolerates clients that vanish without an explicit leave.
func (r *Registry) ListActive(ctx context.Context, draftID string, window time.Duration) ([]model.Session, error) {
	if window <= 0 {
		window = r.livenessWindow
	}
	cutoff := r.now().Add(-window).Unix()
	ids, err := r.rdb.ZRangeByScore(ctx, roomKey(draftID), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, infoKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	sessions := make([]model.Session, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if fields["active"] != "1" {
			continue
		}
		lastActivity, _ := strconv.ParseInt(fields["last_activity"], 10, 64)
		sessions = append(sessions, model.Session{
			ID:           ids[i],
			DraftID:      fields["draft_id"],
			UserID:       fields["user_id"],
			Active:       true,
			LastActivity: lastActivity,
		})
	}
	return sessions, nil
}

// sweepScript prunes roster members whose last activity predates the cutoff,
// together with their hash and (draft,user) index. Records already removed by
// a concurrent leave or expiry are simply skipped.
var sweepScript = redis.NewScript(`
local stale = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, sid in ipairs(stale) do
	local uid = redis.call("HGET", ARGV[2] .. sid, "user_id")
	if uid then
		redis.call("DEL", ARGV[3] .. uid)
	end
	redis.call("DEL", ARGV[2] .. sid)
end
if #stale > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return #stale
`)

// Sweep garbage-collects stale sessions across all drafts. Safe to run
// concurrently with joins and heartbeats: a session refreshed after the
// cutoff keeps a score above it and is never touched.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.sweepThreshold).Unix()
	total := 0
	iter := r.rdb.Scan(ctx, 0, roomKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		draftID := key[len(roomKeyPrefix):]
		removed, err := sweepScript.Run(ctx, r.rdb,
			[]string{key},
			strconv.FormatInt(cutoff, 10),
			infoKeyPrefix,
			userKeyPrefix+draftID+":",
		).Int()
		if err != nil && err != redis.Nil {
			return total, err
		}
		if removed > 0 {
			logutil.GetLogger(ctx).Debug("swept stale sessions",
				zap.String("draft_id", draftID),
				zap.Int("removed", removed))
		}
		total += removed
	}
	if err := iter.Err(); err != nil {
		return total, err
	}
	return total, nil
}

func (r *Registry) touch(ctx context.Context, sessionID, draftID, userID string) error {
	now := r.now().Unix()
	ttl := r.sweepThreshold * 2
	tx := r.rdb.TxPipeline()
	tx.HSet(ctx, infoKey(sessionID),
		"draft_id", draftID,
		"user_id", userID,
		"active", "1",
		"last_activity", strconv.FormatInt(now, 10),
	)
	tx.Expire(ctx, infoKey(sessionID), ttl)
	tx.ZAdd(ctx, roomKey(draftID), redis.Z{Score: float64(now), Member: sessionID})
	tx.Set(ctx, userKey(draftID, userID), sessionID, ttl)
	_, err := tx.Exec(ctx)
	return err
}
