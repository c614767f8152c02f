package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/draftwire/draftwire/internal/model"
	"github.com/draftwire/draftwire/internal/pkg/dbutil"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
)

type VersionRepo struct {
	db *sql.DB
}

func NewVersionRepo(db *sql.DB) *VersionRepo {
	return &VersionRepo{db: db}
}

func (r *VersionRepo) Create(ctx context.Context, record *model.VersionRecord) error {
	data := map[string]interface{}{
		"draft_id":         record.DraftID,
		"content_key":      record.ContentKey,
		"preview":          record.Preview,
		"version":          record.Version,
		"last_modified_by": record.LastModifiedBy,
		"last_modified_at": record.LastModifiedAt,
	}
	sqlStr, args, err := builder.BuildInsert("draft_versions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil && dbutil.IsUniqueViolation(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *VersionRepo) Get(ctx context.Context, draftID string) (*model.VersionRecord, error) {
	where := map[string]interface{}{"draft_id": draftID}
	sqlStr, args, err := builder.BuildSelect("draft_versions", where, []string{"draft_id", "content_key", "preview", "version", "last_modified_by", "last_modified_at"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	var rec model.VersionRecord
	if err := rows.Scan(&rec.DraftID, &rec.ContentKey, &rec.Preview, &rec.Version, &rec.LastModifiedBy, &rec.LastModifiedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CompareAndSwap advances the version record in a single conditional update.
// Zero rows affected means another writer won against the same expected
// version; the caller must treat that as a conflict, not retry blindly.
func (r *VersionRepo) CompareAndSwap(ctx context.Context, draftID string, expectedVersion int, contentKey, preview, editorID string, now int64) (bool, error) {
	sqlStr := `
		UPDATE draft_versions
		SET content_key = $1,
		    preview = $2,
		    version = version + 1,
		    last_modified_by = $3,
		    last_modified_at = $4
		WHERE draft_id = $5
		  AND version = $6
	`
	res, err := r.db.ExecContext(ctx, sqlStr, contentKey, preview, editorID, now, draftID, expectedVersion)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *VersionRepo) Delete(ctx context.Context, draftID string) error {
	sqlStr, args, err := builder.BuildDelete("draft_versions", map[string]interface{}{"draft_id": draftID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
