package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/draftwire/draftwire/internal/model"
	"github.com/draftwire/draftwire/internal/pkg/dbutil"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
)

const (
	DraftStateNormal  = 0
	DraftStateDeleted = 1
)

type DraftRepo struct {
	db *sql.DB
}

func NewDraftRepo(db *sql.DB) *DraftRepo {
	return &DraftRepo{db: db}
}

func (r *DraftRepo) Create(ctx context.Context, draft *model.Draft) error {
	data := map[string]interface{}{
		"id":       draft.ID,
		"owner_id": draft.OwnerID,
		"title":    draft.Title,
		"shared":   draft.Shared,
		"state":    draft.State,
		"ctime":    draft.Ctime,
		"mtime":    draft.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("drafts", []map[string]interface{}{data})
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

func (r *DraftRepo) GetByID(ctx context.Context, draftID string) (*model.Draft, error) {
	where := map[string]interface{}{
		"id":    draftID,
		"state": DraftStateNormal,
	}
	sqlStr, args, err := builder.BuildSelect("drafts", where, []string{"id", "owner_id", "title", "shared", "state", "ctime", "mtime"})
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
	var d model.Draft
	if err := rows.Scan(&d.ID, &d.OwnerID, &d.Title, &d.Shared, &d.State, &d.Ctime, &d.Mtime); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DraftRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset uint) ([]model.Draft, error) {
	where := map[string]interface{}{
		"owner_id": ownerID,
		"state":    DraftStateNormal,
		"_orderby": "mtime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("drafts", where, []string{"id", "owner_id", "title", "shared", "state", "ctime", "mtime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	drafts := make([]model.Draft, 0)
	for rows.Next() {
		var d model.Draft
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Title, &d.Shared, &d.State, &d.Ctime, &d.Mtime); err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (r *DraftRepo) TouchMtime(ctx context.Context, draftID string, now int64) error {
	where := map[string]interface{}{"id": draftID}
	update := map[string]interface{}{"mtime": now}
	sqlStr, args, err := builder.BuildUpdate("drafts", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DraftRepo) Delete(ctx context.Context, ownerID, draftID string, now int64) error {
	where := map[string]interface{}{
		"id":       draftID,
		"owner_id": ownerID,
	}
	update := map[string]interface{}{
		"state": DraftStateDeleted,
		"mtime": now,
	}
	sqlStr, args, err := builder.BuildUpdate("drafts", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}
