package repo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/draftwire/draftwire/internal/model"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
	"github.com/draftwire/draftwire/internal/repo"
	"github.com/draftwire/draftwire/internal/testutil"
)

func seedDraft(t *testing.T, drafts *repo.DraftRepo, versions *repo.VersionRepo) string {
	t.Helper()
	now := time.Now().Unix()
	draftID := uuid.NewString()
	require.NoError(t, drafts.Create(context.Background(), &model.Draft{
		ID:      draftID,
		OwnerID: "user-1",
		Title:   "title",
		State:   repo.DraftStateNormal,
		Ctime:   now,
		Mtime:   now,
	}))
	require.NoError(t, versions.Create(context.Background(), &model.VersionRecord{
		DraftID:        draftID,
		ContentKey:     "key-v1",
		Preview:        "initial",
		Version:        1,
		LastModifiedBy: "user-1",
		LastModifiedAt: now,
	}))
	return draftID
}

func TestVersionRepoCompareAndSwap(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	drafts := repo.NewDraftRepo(db)
	versions := repo.NewVersionRepo(db)
	draftID := seedDraft(t, drafts, versions)

	applied, err := versions.CompareAndSwap(context.Background(), draftID, 1, "key-v2", "second", "user-2", time.Now().Unix())
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := versions.Get(context.Background(), draftID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Version)
	require.Equal(t, "key-v2", rec.ContentKey)
	require.Equal(t, "user-2", rec.LastModifiedBy)

	// Same expected version again: the row moved on, nothing is applied.
	applied, err = versions.CompareAndSwap(context.Background(), draftID, 1, "key-v3", "stale", "user-3", time.Now().Unix())
	require.NoError(t, err)
	require.False(t, applied)

	rec, err = versions.Get(context.Background(), draftID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Version)
	require.Equal(t, "key-v2", rec.ContentKey)
}

func TestVersionRepoConcurrentWritersSingleWinner(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	drafts := repo.NewDraftRepo(db)
	versions := repo.NewVersionRepo(db)
	draftID := seedDraft(t, drafts, versions)

	const writers = 8
	results := make([]bool, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = versions.CompareAndSwap(context.Background(), draftID, 1, "key-w", "w", "writer", time.Now().Unix())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	require.Equal(t, 1, winners)

	rec, err := versions.Get(context.Background(), draftID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Version)
}

func TestVersionRepoDuplicateCreateConflicts(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	drafts := repo.NewDraftRepo(db)
	versions := repo.NewVersionRepo(db)
	draftID := seedDraft(t, drafts, versions)

	err := versions.Create(context.Background(), &model.VersionRecord{
		DraftID:        draftID,
		ContentKey:     "key-dup",
		Version:        1,
		LastModifiedBy: "user-1",
		LastModifiedAt: time.Now().Unix(),
	})
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestDraftRepoSoftDeleteHidesDraft(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()

	drafts := repo.NewDraftRepo(db)
	versions := repo.NewVersionRepo(db)
	draftID := seedDraft(t, drafts, versions)

	require.NoError(t, drafts.Delete(context.Background(), "user-1", draftID, time.Now().Unix()))

	_, err := drafts.GetByID(context.Background(), draftID)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	// Deleting someone else's draft reports not found, not success.
	other := seedDraft(t, drafts, versions)
	err = drafts.Delete(context.Background(), "user-2", other, time.Now().Unix())
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
