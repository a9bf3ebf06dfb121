package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/pkgmirror/pkgmirror"
)

// RecordSyncRun implements datastore.SyncStore.
func (s *Store) RecordSyncRun(ctx context.Context, run *pkgmirror.SyncRun) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rec := goqu.Record{
			"repo_id":    run.RepositoryID,
			"started":    run.Started.Unix(),
			"completed":  int64(0),
			"status":     string(run.Status),
			"downloaded": run.Downloaded,
			"skipped":    run.Skipped,
			"failed":     run.Failed,
			"unlinked":   run.Unlinked,
			"bytes":      run.Bytes,
			"error":      run.Error,
		}
		if !run.Completed.IsZero() {
			rec["completed"] = run.Completed.Unix()
		}
		q, args, err := s.gq.Update("sync_run").Set(rec).Where(goqu.Ex{"id": run.ID}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building update: %w", err)
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("sqlstore: updating sync run: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		rec["id"] = run.ID
		q, args, err = s.gq.Insert("sync_run").Rows(rec).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlstore: inserting sync run: %w", err)
		}
		return nil
	})
}

// ListSyncRuns implements datastore.SyncStore. Runs come back newest
// first; limit <= 0 means no limit.
func (s *Store) ListSyncRuns(ctx context.Context, repoID string, limit int) ([]pkgmirror.SyncRun, error) {
	ds := s.gq.From("sync_run").
		Select("id", "repo_id", "started", "completed", "status", "downloaded", "skipped", "failed", "unlinked", "bytes", "error").
		Where(goqu.Ex{"repo_id": repoID}).
		Order(goqu.I("started").Desc(), goqu.I("id").Desc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing sync runs: %w", err)
	}
	defer rows.Close()
	var out []pkgmirror.SyncRun
	for rows.Next() {
		var (
			run                pkgmirror.SyncRun
			status             string
			started, completed int64
		)
		if err := rows.Scan(&run.ID, &run.RepositoryID, &started, &completed, &status,
			&run.Downloaded, &run.Skipped, &run.Failed, &run.Unlinked, &run.Bytes, &run.Error); err != nil {
			return nil, fmt.Errorf("sqlstore: reading sync run: %w", err)
		}
		run.Status = pkgmirror.SyncStatus(status)
		run.Started = time.Unix(started, 0).UTC()
		if completed > 0 {
			run.Completed = time.Unix(completed, 0).UTC()
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
