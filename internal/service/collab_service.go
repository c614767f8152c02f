package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/draftwire/draftwire/internal/config"
	"github.com/draftwire/draftwire/internal/model"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
)

// contentPlaceholder is returned on conflict when neither the blob store nor
// the cached preview can produce the server's content.
const contentPlaceholder = "(content unavailable, please refresh)"

const minPreviewChars = 16

type DraftStore interface {
	Create(ctx context.Context, draft *model.Draft) error
	GetByID(ctx context.Context, draftID string) (*model.Draft, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset uint) ([]model.Draft, error)
	TouchMtime(ctx context.Context, draftID string, now int64) error
	Delete(ctx context.Context, ownerID, draftID string, now int64) error
}

type VersionStore interface {
	Create(ctx context.Context, record *model.VersionRecord) error
	Get(ctx context.Context, draftID string) (*model.VersionRecord, error)
	CompareAndSwap(ctx context.Context, draftID string, expectedVersion int, contentKey, preview, editorID string, now int64) (bool, error)
	Delete(ctx context.Context, draftID string) error
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type SessionStore interface {
	Join(ctx context.Context, draftID, userID string) (string, error)
	ListActive(ctx context.Context, draftID string, window time.Duration) ([]model.Session, error)
}

// Broadcaster pushes a content update to the draft's connected clients. The
// push transport registers itself here; polling clients observe the same
// change through Activity.
type Broadcaster interface {
	ContentUpdated(draftID, editorID, content string, version int, timestamp int64)
}

// SaveOutcome is the result of one save attempt. A version mismatch is a
// normal outcome, not an error: the caller decides between auto-retry and
// manual resolution.
type SaveOutcome struct {
	Success        bool   `json:"success"`
	NewVersion     int    `json:"new_version,omitempty"`
	Conflict       bool   `json:"conflict,omitempty"`
	CurrentVersion int    `json:"current_version,omitempty"`
	ServerContent  string `json:"server_content,omitempty"`
}

type ActivitySnapshot struct {
	ActiveUsers    []string `json:"active_users"`
	CurrentVersion int      `json:"current_version"`
	LastModifiedBy string   `json:"last_modified_by,omitempty"`
	LastModifiedAt int64    `json:"last_modified_at,omitempty"`
}

type DraftDetail struct {
	Draft   *model.Draft `json:"draft"`
	Content string       `json:"content"`
	Version int          `json:"version"`
}

type CollabService struct {
	drafts       DraftStore
	versions     VersionStore
	blobs        BlobStore
	sessions     SessionStore
	broadcaster  Broadcaster
	contentCache *expirable.LRU[string, string]
	merge        MergeThresholds
	storeTimeout time.Duration
	previewMax   int
	now          func() time.Time
}

func NewCollabService(drafts DraftStore, versions VersionStore, blobs BlobStore, sessions SessionStore, cfg config.CollabConfig) *CollabService {
	return &CollabService{
		drafts:       drafts,
		versions:     versions,
		blobs:        blobs,
		sessions:     sessions,
		contentCache: expirable.NewLRU[string, string](cfg.ContentCacheSize, nil, time.Duration(cfg.ContentCacheTTLSecs)*time.Second),
		merge: MergeThresholds{
			LenDelta:   cfg.AutoMergeLenDelta,
			RelDelta:   cfg.AutoMergeRelDelta,
			Window:     cfg.AutoMergeWindow,
			Similarity: cfg.AutoMergeSimilarity,
		},
		storeTimeout: time.Duration(cfg.StoreTimeoutMillis) * time.Millisecond,
		previewMax:   cfg.PreviewMaxChars,
		now:          time.Now,
	}
}

// SetBroadcaster wires the push transport in after construction; the hub and
// the service are created independently in main.
func (s *CollabService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *CollabService) MergeThresholds() MergeThresholds {
	return s.merge
}

// Save performs one optimistic-concurrency-controlled write. The version
// check and update are a single conditional statement, so two savers racing
// on the same expected version can never both succeed. A CAS loss after the
// blob write is handled exactly like a stale expected version.
func (s *CollabService) Save(ctx context.Context, draftID, editorID, content string, expectedVersion int) (*SaveOutcome, error) {
	if draftID == "" || editorID == "" || expectedVersion < 1 {
		return nil, appErr.ErrInvalid
	}
	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := authorize(draft, editorID); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	contentKey := newContentKey()
	if err := s.blobs.Put(storeCtx, contentKey, []byte(content)); err != nil {
		return nil, asStoreErr(err)
	}
	now := s.now().Unix()
	applied, err := s.versions.CompareAndSwap(storeCtx, draftID, expectedVersion, contentKey, preview(content, s.previewMax), editorID, now)
	if err != nil {
		return nil, asStoreErr(err)
	}
	if !applied {
		return s.conflictOutcome(ctx, draftID)
	}

	s.contentCache.Add(contentKey, content)
	newVersion := expectedVersion + 1
	if err := s.drafts.TouchMtime(ctx, draftID, now); err != nil {
		logutil.GetLogger(ctx).Warn("touch draft mtime failed", zap.String("draft_id", draftID), zap.Error(err))
	}
	if s.broadcaster != nil {
		s.broadcaster.ContentUpdated(draftID, editorID, content, newVersion, now)
	}
	logutil.GetLogger(ctx).Info("draft saved",
		zap.String("draft_id", draftID),
		zap.String("editor_id", editorID),
		zap.Int("version", newVersion))
	return &SaveOutcome{Success: true, NewVersion: newVersion}, nil
}

// CanAutoMerge exposes the heuristic with the service's configured thresholds.
func (s *CollabService) CanAutoMerge(local, server string) bool {
	return CanAutoMerge(local, server, s.merge)
}

// Activity answers the pull path: active roster plus current version. As a
// side effect the requester is joined/heartbeated, so pure pollers stay
// visible to socket clients and vice versa.
func (s *CollabService) Activity(ctx context.Context, draftID, requesterID string) (*ActivitySnapshot, error) {
	if draftID == "" || requesterID == "" {
		return nil, appErr.ErrInvalid
	}
	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := authorize(draft, requesterID); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Join(ctx, draftID, requesterID); err != nil {
		return nil, err
	}
	active, err := s.sessions.ListActive(ctx, draftID, 0)
	if err != nil {
		return nil, err
	}
	record, err := s.versions.Get(ctx, draftID)
	if err != nil {
		return nil, err
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
	return &ActivitySnapshot{
		ActiveUsers:    users,
		CurrentVersion: record.Version,
		LastModifiedBy: record.LastModifiedBy,
		LastModifiedAt: record.LastModifiedAt,
	}, nil
}

// Authorize reports whether the user may view/edit the draft. Used by the
// push transport before joining a room.
func (s *CollabService) Authorize(ctx context.Context, draftID, userID string) error {
	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return err
	}
	return authorize(draft, userID)
}

type DraftCreateInput struct {
	Title   string
	Content string
	Shared  bool
}

func (s *CollabService) CreateDraft(ctx context.Context, ownerID string, input DraftCreateInput) (*DraftDetail, error) {
	if ownerID == "" || input.Title == "" {
		return nil, appErr.ErrInvalid
	}
	now := s.now().Unix()
	shared := 0
	if input.Shared {
		shared = 1
	}
	draft := &model.Draft{
		ID:      newID(),
		OwnerID: ownerID,
		Title:   input.Title,
		Shared:  shared,
		State:   0,
		Ctime:   now,
		Mtime:   now,
	}
	if err := s.drafts.Create(ctx, draft); err != nil {
		return nil, err
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	contentKey := newContentKey()
	if err := s.blobs.Put(storeCtx, contentKey, []byte(input.Content)); err != nil {
		return nil, asStoreErr(err)
	}
	record := &model.VersionRecord{
		DraftID:        draft.ID,
		ContentKey:     contentKey,
		Preview:        preview(input.Content, s.previewMax),
		Version:        1,
		LastModifiedBy: ownerID,
		LastModifiedAt: now,
	}
	if err := s.versions.Create(ctx, record); err != nil {
		return nil, err
	}
	s.contentCache.Add(contentKey, input.Content)
	return &DraftDetail{Draft: draft, Content: input.Content, Version: 1}, nil
}

func (s *CollabService) GetDraft(ctx context.Context, requesterID, draftID string) (*DraftDetail, error) {
	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if err := authorize(draft, requesterID); err != nil {
		return nil, err
	}
	record, err := s.versions.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	content, err := s.loadContent(ctx, record)
	if err != nil {
		return nil, err
	}
	return &DraftDetail{Draft: draft, Content: content, Version: record.Version}, nil
}

func (s *CollabService) ListDrafts(ctx context.Context, ownerID string, limit, offset uint) ([]model.Draft, error) {
	return s.drafts.ListByOwner(ctx, ownerID, limit, offset)
}

func (s *CollabService) DeleteDraft(ctx context.Context, ownerID, draftID string) error {
	if err := s.drafts.Delete(ctx, ownerID, draftID, s.now().Unix()); err != nil {
		return err
	}
	return s.versions.Delete(ctx, draftID)
}

// CurrentVersion is used by the push transport to stamp relayed updates.
func (s *CollabService) CurrentVersion(ctx context.Context, draftID string) (int, error) {
	record, err := s.versions.Get(ctx, draftID)
	if err != nil {
		return 0, err
	}
	return record.Version, nil
}

func (s *CollabService) conflictOutcome(ctx context.Context, draftID string) (*SaveOutcome, error) {
	record, err := s.versions.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	content := s.serverContent(ctx, record)
	return &SaveOutcome{
		Conflict:       true,
		CurrentVersion: record.Version,
		ServerContent:  content,
	}, nil
}

// serverContent fetches the authoritative content for a conflict response,
// degrading from blob store to cached preview to a fixed placeholder. A
// conflict must always carry something readable for the user to compare.
func (s *CollabService) serverContent(ctx context.Context, record *model.VersionRecord) string {
	content, err := s.loadContent(ctx, record)
	if err == nil {
		return content
	}
	logutil.GetLogger(ctx).Warn("conflict content fetch failed, falling back to preview",
		zap.String("draft_id", record.DraftID),
		zap.Error(err))
	if utf8.RuneCountInString(record.Preview) >= minPreviewChars {
		return record.Preview
	}
	return contentPlaceholder
}

func (s *CollabService) loadContent(ctx context.Context, record *model.VersionRecord) (string, error) {
	if cached, ok := s.contentCache.Get(record.ContentKey); ok {
		return cached, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	data, err := s.blobs.Get(storeCtx, record.ContentKey)
	if err != nil {
		return "", asStoreErr(err)
	}
	content := string(data)
	s.contentCache.Add(record.ContentKey, content)
	return content, nil
}

func authorize(draft *model.Draft, userID string) error {
	if draft.OwnerID == userID || draft.Shared == 1 {
		return nil
	}
	return appErr.ErrForbidden
}

func preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}

// asStoreErr maps timeouts and cancellations to the retryable transient
// failure; no version was consumed, so the client may retry with the same
// expected version.
func asStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return appErr.ErrUnavailable
	}
	return err
}
