package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/draftwire/draftwire/internal/config"
	"github.com/draftwire/draftwire/internal/model"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
)

type fakeDrafts struct {
	mu     sync.Mutex
	drafts map[string]*model.Draft
}

func newFakeDrafts() *fakeDrafts {
	return &fakeDrafts{drafts: make(map[string]*model.Draft)}
}

func (f *fakeDrafts) Create(ctx context.Context, draft *model.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.drafts[draft.ID]; ok {
		return appErr.ErrConflict
	}
	clone := *draft
	f.drafts[draft.ID] = &clone
	return nil
}

func (f *fakeDrafts) GetByID(ctx context.Context, draftID string) (*model.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[draftID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	clone := *draft
	return &clone, nil
}

func (f *fakeDrafts) ListByOwner(ctx context.Context, ownerID string, limit, offset uint) ([]model.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Draft
	for _, d := range f.drafts {
		if d.OwnerID == ownerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDrafts) TouchMtime(ctx context.Context, draftID string, now int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.drafts[draftID]; ok {
		d.Mtime = now
	}
	return nil
}

func (f *fakeDrafts) Delete(ctx context.Context, ownerID, draftID string, now int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[draftID]
	if !ok || d.OwnerID != ownerID {
		return appErr.ErrNotFound
	}
	delete(f.drafts, draftID)
	return nil
}

type fakeVersions struct {
	mu      sync.Mutex
	records map[string]*model.VersionRecord
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{records: make(map[string]*model.VersionRecord)}
}

func (f *fakeVersions) Create(ctx context.Context, record *model.VersionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.DraftID]; ok {
		return appErr.ErrConflict
	}
	clone := *record
	f.records[record.DraftID] = &clone
	return nil
}

func (f *fakeVersions) Get(ctx context.Context, draftID string) (*model.VersionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[draftID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeVersions) CompareAndSwap(ctx context.Context, draftID string, expectedVersion int, contentKey, preview, editorID string, now int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[draftID]
	if !ok || rec.Version != expectedVersion {
		return false, nil
	}
	rec.Version++
	rec.ContentKey = contentKey
	rec.Preview = preview
	rec.LastModifiedBy = editorID
	rec.LastModifiedAt = now
	return true, nil
}

func (f *fakeVersions) Delete(ctx context.Context, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, draftID)
	return nil
}

type fakeBlobs struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	putErr error
	getErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.blobs[key]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

type fakeSessions struct {
	mu     sync.Mutex
	joins  []string
	active []model.Session
}

func (f *fakeSessions) Join(ctx context.Context, draftID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, draftID+"/"+userID)
	return "session-" + userID, nil
}

func (f *fakeSessions) ListActive(ctx context.Context, draftID string, window time.Duration) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Session(nil), f.active...), nil
}

func testCollabConfig() config.CollabConfig {
	cfg := config.CollabConfig{}
	// Mirror config.Load defaults.
	cfg.AutoMergeLenDelta = 30
	cfg.AutoMergeRelDelta = 0.1
	cfg.AutoMergeWindow = 100
	cfg.AutoMergeSimilarity = 0.8
	cfg.StoreTimeoutMillis = 1000
	cfg.ContentCacheSize = 16
	cfg.ContentCacheTTLSecs = 60
	cfg.PreviewMaxChars = 200
	return cfg
}

func newTestService(t *testing.T) (*CollabService, *fakeDrafts, *fakeVersions, *fakeBlobs, *fakeSessions) {
	t.Helper()
	drafts := newFakeDrafts()
	versions := newFakeVersions()
	blobs := newFakeBlobs()
	sessions := &fakeSessions{}
	svc := NewCollabService(drafts, versions, blobs, sessions, testCollabConfig())
	return svc, drafts, versions, blobs, sessions
}

func seedDraft(t *testing.T, svc *CollabService, owner string, shared bool) *DraftDetail {
	t.Helper()
	detail, err := svc.CreateDraft(context.Background(), owner, DraftCreateInput{
		Title:   "notes",
		Content: "initial content of the draft",
		Shared:  shared,
	})
	require.NoError(t, err)
	return detail
}

func TestSaveSuccessIncrementsVersion(t *testing.T) {
	svc, _, versions, blobs, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", false)
	ctx := context.Background()

	outcome, err := svc.Save(ctx, detail.Draft.ID, "alice", "updated content", 1)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, 2, outcome.NewVersion)

	rec, err := versions.Get(ctx, detail.Draft.ID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Version)
	require.Equal(t, "alice", rec.LastModifiedBy)

	data, err := blobs.Get(ctx, rec.ContentKey)
	require.NoError(t, err)
	require.Equal(t, "updated content", string(data))
}

func TestSaveMonotonicVersions(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", false)
	ctx := context.Background()

	for expected := 1; expected <= 5; expected++ {
		outcome, err := svc.Save(ctx, detail.Draft.ID, "alice", "rev", expected)
		require.NoError(t, err)
		require.True(t, outcome.Success)
		require.Equal(t, expected+1, outcome.NewVersion)
	}
}

func TestStaleSaveReturnsConflictWithWinnerContent(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", true)
	ctx := context.Background()

	// Bring the draft to version 3.
	for expected := 1; expected <= 2; expected++ {
		_, err := svc.Save(ctx, detail.Draft.ID, "alice", "warmup", expected)
		require.NoError(t, err)
	}

	// A wins against version 3.
	outcome, err := svc.Save(ctx, detail.Draft.ID, "alice", "content from A", 3)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, 4, outcome.NewVersion)

	// B's stale save against 3 gets a conflict carrying A's state.
	outcome, err = svc.Save(ctx, detail.Draft.ID, "bob", "content from B", 3)
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
	require.False(t, outcome.Success)
	require.Equal(t, 4, outcome.CurrentVersion)
	require.Equal(t, "content from A", outcome.ServerContent)
}

func TestConcurrentSaversAtMostOneWins(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", true)
	ctx := context.Background()

	const savers = 8
	outcomes := make([]*SaveOutcome, savers)
	errs := make([]error, savers)
	var wg sync.WaitGroup
	for i := 0; i < savers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.Save(ctx, detail.Draft.ID, "bob", "racer", 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, outcome := range outcomes {
		require.NoError(t, errs[i])
		if outcome.Success {
			wins++
			continue
		}
		require.True(t, outcome.Conflict)
		require.Greater(t, outcome.CurrentVersion, 1)
	}
	require.Equal(t, 1, wins)
}

func TestConflictFallsBackToPreviewThenPlaceholder(t *testing.T) {
	svc, _, versions, blobs, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", true)
	ctx := context.Background()

	_, err := svc.Save(ctx, detail.Draft.ID, "alice", "a fairly long server side body", 1)
	require.NoError(t, err)

	// Drop the cache and break the blob store: the preview still serves.
	svc.contentCache.Purge()
	blobs.getErr = context.DeadlineExceeded
	outcome, err := svc.Save(ctx, detail.Draft.ID, "bob", "stale", 1)
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
	require.Equal(t, "a fairly long server side body", outcome.ServerContent)

	// With an unusably short preview the placeholder is returned instead of
	// an empty string.
	rec, err := versions.Get(ctx, detail.Draft.ID)
	require.NoError(t, err)
	rec.Preview = "tiny"
	versions.records[detail.Draft.ID] = rec
	outcome, err = svc.Save(ctx, detail.Draft.ID, "bob", "stale", 1)
	require.NoError(t, err)
	require.True(t, outcome.Conflict)
	require.Equal(t, contentPlaceholder, outcome.ServerContent)
}

func TestSaveStoreTimeoutIsRetryable(t *testing.T) {
	svc, _, versions, blobs, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", false)
	ctx := context.Background()

	blobs.putErr = context.DeadlineExceeded
	_, err := svc.Save(ctx, detail.Draft.ID, "alice", "content", 1)
	require.ErrorIs(t, err, appErr.ErrUnavailable)

	// No version was consumed: the same expected version succeeds on retry.
	blobs.putErr = nil
	outcome, err := svc.Save(ctx, detail.Draft.ID, "alice", "content", 1)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	rec, err := versions.Get(ctx, detail.Draft.ID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Version)
}

func TestSaveAuthorization(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	private := seedDraft(t, svc, "alice", false)
	shared := seedDraft(t, svc, "alice", true)
	ctx := context.Background()

	_, err := svc.Save(ctx, private.Draft.ID, "bob", "content", 1)
	require.ErrorIs(t, err, appErr.ErrForbidden)

	outcome, err := svc.Save(ctx, shared.Draft.ID, "bob", "content", 1)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	_, err = svc.Save(ctx, "missing", "bob", "content", 1)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestSaveBroadcastsToPushPath(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", true)
	ctx := context.Background()

	var got struct {
		draftID string
		editor  string
		version int
	}
	svc.SetBroadcaster(broadcasterFunc(func(draftID, editorID, content string, version int, ts int64) {
		got.draftID = draftID
		got.editor = editorID
		got.version = version
	}))

	_, err := svc.Save(ctx, detail.Draft.ID, "bob", "pushed content", 1)
	require.NoError(t, err)
	require.Equal(t, detail.Draft.ID, got.draftID)
	require.Equal(t, "bob", got.editor)
	require.Equal(t, 2, got.version)
}

type broadcasterFunc func(draftID, editorID, content string, version int, ts int64)

func (f broadcasterFunc) ContentUpdated(draftID, editorID, content string, version int, ts int64) {
	f(draftID, editorID, content, version, ts)
}

func TestActivityJoinsRequesterAndDedupes(t *testing.T) {
	svc, _, _, _, sessions := newTestService(t)
	detail := seedDraft(t, svc, "alice", true)
	ctx := context.Background()

	sessions.active = []model.Session{
		{ID: "s1", DraftID: detail.Draft.ID, UserID: "alice", Active: true},
		{ID: "s2", DraftID: detail.Draft.ID, UserID: "bob", Active: true},
		{ID: "s3", DraftID: detail.Draft.ID, UserID: "bob", Active: true},
	}

	snapshot, err := svc.Activity(ctx, detail.Draft.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, snapshot.ActiveUsers)
	require.Equal(t, 1, snapshot.CurrentVersion)
	require.Equal(t, "alice", snapshot.LastModifiedBy)
	require.Contains(t, sessions.joins, detail.Draft.ID+"/bob")
}

func TestCreateDraftStartsAtVersionOne(t *testing.T) {
	svc, _, versions, _, _ := newTestService(t)
	detail := seedDraft(t, svc, "alice", false)

	require.Equal(t, 1, detail.Version)
	rec, err := versions.Get(context.Background(), detail.Draft.ID)
	require.NoError(t, err)
	require.Equal(t, 1, rec.Version)
	require.Equal(t, "alice", rec.LastModifiedBy)
}
