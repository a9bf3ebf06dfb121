package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/pkgmirror/pkgmirror"
)

// insertRow executes an insert through tx and reads the new row's id
// back by its unique key. The sqlite3 goqu dialect rejects RETURNING
// at SQL-generation time, so the id cannot come from the insert.
func (s *Store) insertRow(ctx context.Context, tx *sql.Tx, table string, rec goqu.Record, key goqu.Ex) (int64, error) {
	q, args, err := s.gq.Insert(table).Rows(rec).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: building insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return 0, fmt.Errorf("sqlstore: inserting into %s: %w", table, err)
	}
	q, args, err = s.gq.From(table).Select("id").Where(key).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: building query: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("sqlstore: reading %s id: %w", table, err)
	}
	return id, nil
}

// CreateSnapshot implements datastore.SnapshotStore.
func (s *Store) CreateSnapshot(ctx context.Context, repoID, name, description string) (*pkgmirror.Snapshot, error) {
	var snap *pkgmirror.Snapshot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = s.createSnapshot(ctx, tx, repoID, name, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// createSnapshot is the transaction body, shared with view snapshots.
func (s *Store) createSnapshot(ctx context.Context, tx *sql.Tx, repoID, name, description string) (*pkgmirror.Snapshot, error) {
	q, args, err := s.gq.From("snapshot").Select(goqu.COUNT("*")).
		Where(goqu.Ex{"repo_id": repoID, "name": name}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	var n int64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return nil, fmt.Errorf("sqlstore: checking snapshot name: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("sqlstore: snapshot %q of %q: %w", name, repoID, pkgmirror.ErrDuplicateSnapshot)
	}

	now := time.Now()
	id, err := s.insertRow(ctx, tx, "snapshot", goqu.Record{
		"repo_id":     repoID,
		"name":        name,
		"description": description,
		"created_at":  now.Unix(),
	}, goqu.Ex{"repo_id": repoID, "name": name})
	if err != nil {
		return nil, err
	}

	// Freeze the current link set server-side; nothing round-trips.
	q, args, err = s.gq.Insert("snapshot_content").Cols("snapshot_id", "sha256").
		FromQuery(s.gq.From("repository_content").
			Select(goqu.V(id), "sha256").
			Where(goqu.Ex{"repo_id": repoID})).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("sqlstore: freezing snapshot content: %w", err)
	}

	count, size, err := s.snapshotTotals(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return &pkgmirror.Snapshot{
		ID:           id,
		RepositoryID: repoID,
		Name:         name,
		Description:  description,
		CreatedAt:    now.UTC(),
		PackageCount: count,
		TotalSize:    size,
	}, nil
}

func (s *Store) snapshotTotals(ctx context.Context, tx *sql.Tx, id int64) (count, size int64, err error) {
	q, args, err := s.gq.From(goqu.T("snapshot_content").As("sc")).
		Join(goqu.T("content_item").As("ci"), goqu.On(goqu.Ex{"ci.sha256": goqu.I("sc.sha256")})).
		Select(goqu.COUNT("*"), goqu.COALESCE(goqu.SUM("ci.size"), 0)).
		Where(goqu.Ex{"sc.snapshot_id": id}).Prepared(true).ToSQL()
	if err != nil {
		return 0, 0, fmt.Errorf("sqlstore: building query: %w", err)
	}
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&count, &size); err != nil {
		return 0, 0, fmt.Errorf("sqlstore: sizing snapshot: %w", err)
	}
	return count, size, nil
}

// lookupSnapshot reads the base snapshot row through tx, for use inside
// open transactions.
func (s *Store) lookupSnapshot(ctx context.Context, tx *sql.Tx, repoID, name string) (*pkgmirror.Snapshot, error) {
	q, args, err := s.gq.From("snapshot").Select("id", "description", "created_at").
		Where(goqu.Ex{"repo_id": repoID, "name": name}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	var (
		sn pkgmirror.Snapshot
		ts int64
	)
	err = tx.QueryRowContext(ctx, q, args...).Scan(&sn.ID, &sn.Description, &ts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("sqlstore: snapshot %q of %q: %w", name, repoID, pkgmirror.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("sqlstore: reading snapshot: %w", err)
	}
	sn.RepositoryID, sn.Name = repoID, name
	sn.CreatedAt = time.Unix(ts, 0).UTC()
	return &sn, nil
}

// GetSnapshot implements datastore.SnapshotStore.
func (s *Store) GetSnapshot(ctx context.Context, repoID, name string) (*pkgmirror.Snapshot, error) {
	snaps, err := s.querySnapshots(ctx, goqu.Ex{"s.repo_id": repoID, "s.name": name})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("sqlstore: snapshot %q of %q: %w", name, repoID, pkgmirror.ErrNotFound)
	}
	return &snaps[0], nil
}

// ListSnapshots implements datastore.SnapshotStore.
func (s *Store) ListSnapshots(ctx context.Context, repoID string) ([]pkgmirror.Snapshot, error) {
	return s.querySnapshots(ctx, goqu.Ex{"s.repo_id": repoID})
}

func (s *Store) querySnapshots(ctx context.Context, where goqu.Ex) ([]pkgmirror.Snapshot, error) {
	q, args, err := s.gq.From(goqu.T("snapshot").As("s")).
		LeftJoin(goqu.T("snapshot_content").As("sc"), goqu.On(goqu.Ex{"sc.snapshot_id": goqu.I("s.id")})).
		LeftJoin(goqu.T("content_item").As("ci"), goqu.On(goqu.Ex{"ci.sha256": goqu.I("sc.sha256")})).
		Select(goqu.I("s.id"), goqu.I("s.repo_id"), goqu.I("s.name"), goqu.I("s.description"), goqu.I("s.created_at"),
			goqu.COUNT(goqu.I("sc.sha256")), goqu.COALESCE(goqu.SUM(goqu.I("ci.size")), 0)).
		GroupBy(goqu.I("s.id"), goqu.I("s.repo_id"), goqu.I("s.name"), goqu.I("s.description"), goqu.I("s.created_at")).
		Where(where).
		Order(goqu.I("s.created_at").Asc(), goqu.I("s.id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing snapshots: %w", err)
	}
	defer rows.Close()
	var out []pkgmirror.Snapshot
	for rows.Next() {
		var (
			sn pkgmirror.Snapshot
			ts int64
		)
		if err := rows.Scan(&sn.ID, &sn.RepositoryID, &sn.Name, &sn.Description, &ts, &sn.PackageCount, &sn.TotalSize); err != nil {
			return nil, fmt.Errorf("sqlstore: reading snapshot: %w", err)
		}
		sn.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, sn)
	}
	return out, rows.Err()
}

// SnapshotContent implements datastore.SnapshotStore.
func (s *Store) SnapshotContent(ctx context.Context, id int64) ([]pkgmirror.ContentItem, error) {
	q, args, err := s.gq.From("content_item").Select(contentItemCols...).
		Join(goqu.T("snapshot_content"), goqu.On(goqu.Ex{"snapshot_content.sha256": goqu.I("content_item.sha256")})).
		Where(goqu.Ex{"snapshot_content.snapshot_id": id}).
		Order(goqu.I("content_item.name").Asc(), goqu.I("content_item.version").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	return s.queryContent(ctx, q, args)
}

// CopySnapshot implements datastore.SnapshotStore.
func (s *Store) CopySnapshot(ctx context.Context, repoID, src, dst string) (*pkgmirror.Snapshot, error) {
	var snap *pkgmirror.Snapshot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		from, err := s.lookupSnapshot(ctx, tx, repoID, src)
		if err != nil {
			return err
		}
		count, size, err := s.snapshotTotals(ctx, tx, from.ID)
		if err != nil {
			return err
		}
		q, args, err := s.gq.From("snapshot").Select(goqu.COUNT("*")).
			Where(goqu.Ex{"repo_id": repoID, "name": dst}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building query: %w", err)
		}
		var n int64
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return fmt.Errorf("sqlstore: checking snapshot name: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("sqlstore: snapshot %q of %q: %w", dst, repoID, pkgmirror.ErrDuplicateSnapshot)
		}

		now := time.Now()
		id, err := s.insertRow(ctx, tx, "snapshot", goqu.Record{
			"repo_id":     repoID,
			"name":        dst,
			"description": from.Description,
			"created_at":  now.Unix(),
		}, goqu.Ex{"repo_id": repoID, "name": dst})
		if err != nil {
			return err
		}
		q, args, err = s.gq.Insert("snapshot_content").Cols("snapshot_id", "sha256").
			FromQuery(s.gq.From("snapshot_content").
				Select(goqu.V(id), "sha256").
				Where(goqu.Ex{"snapshot_id": from.ID})).
			Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlstore: copying snapshot content: %w", err)
		}
		snap = &pkgmirror.Snapshot{
			ID:           id,
			RepositoryID: repoID,
			Name:         dst,
			Description:  from.Description,
			CreatedAt:    now.UTC(),
			PackageCount: count,
			TotalSize:    size,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// DeleteSnapshot implements datastore.SnapshotStore.
//
// A snapshot still referenced by a view snapshot cannot be deleted;
// delete the view snapshot first.
func (s *Store) DeleteSnapshot(ctx context.Context, repoID, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		snap, err := s.lookupSnapshot(ctx, tx, repoID, name)
		if err != nil {
			return err
		}
		q, args, err := s.gq.From("view_snapshot_member").Select(goqu.COUNT("*")).
			Where(goqu.Ex{"snapshot_id": snap.ID}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building query: %w", err)
		}
		var n int64
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return fmt.Errorf("sqlstore: checking view references: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("sqlstore: snapshot %q of %q is referenced by a view snapshot", name, repoID)
		}
		for _, table := range []string{"snapshot_content", "snapshot"} {
			col := "snapshot_id"
			if table == "snapshot" {
				col = "id"
			}
			q, args, err := s.gq.Delete(table).Where(goqu.Ex{col: snap.ID}).Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("sqlstore: deleting snapshot: %w", err)
			}
		}
		return nil
	})
}

// CreateViewSnapshot implements datastore.SnapshotStore.
//
// Member snapshots are named "<view>@<name>" in each repository so they
// show up in the repository's own snapshot list.
func (s *Store) CreateViewSnapshot(ctx context.Context, view *pkgmirror.View, name, description string) (*pkgmirror.ViewSnapshot, error) {
	var vs *pkgmirror.ViewSnapshot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		q, args, err := s.gq.From("view_snapshot").Select(goqu.COUNT("*")).
			Where(goqu.Ex{"view_name": view.Name, "name": name}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building query: %w", err)
		}
		var n int64
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return fmt.Errorf("sqlstore: checking view snapshot name: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("sqlstore: view snapshot %q of %q: %w", name, view.Name, pkgmirror.ErrDuplicateSnapshot)
		}

		now := time.Now()
		vs = &pkgmirror.ViewSnapshot{
			ViewName:    view.Name,
			Name:        name,
			Description: description,
			CreatedAt:   now.UTC(),
		}
		memberName := view.Name + "@" + name
		for _, repoID := range view.Repositories {
			snap, err := s.createSnapshot(ctx, tx, repoID, memberName, description)
			if err != nil {
				return err
			}
			vs.SnapshotIDs = append(vs.SnapshotIDs, snap.ID)
			vs.PackageCount += snap.PackageCount
			vs.TotalSize += snap.TotalSize
		}

		vs.ID, err = s.insertRow(ctx, tx, "view_snapshot", goqu.Record{
			"view_name":   view.Name,
			"name":        name,
			"description": description,
			"created_at":  now.Unix(),
		}, goqu.Ex{"view_name": view.Name, "name": name})
		if err != nil {
			return err
		}
		members := make([]any, len(vs.SnapshotIDs))
		for i, id := range vs.SnapshotIDs {
			members[i] = goqu.Record{"view_snapshot_id": vs.ID, "snapshot_id": id, "position": i}
		}
		q, args, err = s.gq.Insert("view_snapshot_member").Rows(members...).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlstore: inserting view snapshot members: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vs, nil
}

// GetViewSnapshot implements datastore.SnapshotStore.
func (s *Store) GetViewSnapshot(ctx context.Context, viewName, name string) (*pkgmirror.ViewSnapshot, error) {
	vss, err := s.queryViewSnapshots(ctx, goqu.Ex{"view_name": viewName, "name": name})
	if err != nil {
		return nil, err
	}
	if len(vss) == 0 {
		return nil, fmt.Errorf("sqlstore: view snapshot %q of %q: %w", name, viewName, pkgmirror.ErrNotFound)
	}
	return &vss[0], nil
}

// ListViewSnapshots implements datastore.SnapshotStore.
func (s *Store) ListViewSnapshots(ctx context.Context, viewName string) ([]pkgmirror.ViewSnapshot, error) {
	return s.queryViewSnapshots(ctx, goqu.Ex{"view_name": viewName})
}

func (s *Store) queryViewSnapshots(ctx context.Context, where goqu.Ex) ([]pkgmirror.ViewSnapshot, error) {
	q, args, err := s.gq.From("view_snapshot").
		Select("id", "view_name", "name", "description", "created_at").
		Where(where).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing view snapshots: %w", err)
	}
	defer rows.Close()
	var out []pkgmirror.ViewSnapshot
	for rows.Next() {
		var (
			vs pkgmirror.ViewSnapshot
			ts int64
		)
		if err := rows.Scan(&vs.ID, &vs.ViewName, &vs.Name, &vs.Description, &ts); err != nil {
			return nil, fmt.Errorf("sqlstore: reading view snapshot: %w", err)
		}
		vs.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, vs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.fillViewSnapshot(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) fillViewSnapshot(ctx context.Context, vs *pkgmirror.ViewSnapshot) error {
	q, args, err := s.gq.From("view_snapshot_member").Select("snapshot_id").
		Where(goqu.Ex{"view_snapshot_id": vs.ID}).
		Order(goqu.I("position").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: listing view snapshot members: %w", err)
	}
	defer rows.Close()
	vs.SnapshotIDs = vs.SnapshotIDs[:0]
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		vs.SnapshotIDs = append(vs.SnapshotIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(vs.SnapshotIDs) == 0 {
		return nil
	}
	// Shared items are counted once across members.
	q, args, err = s.gq.From(goqu.T("snapshot_content").As("sc")).
		Join(goqu.T("content_item").As("ci"), goqu.On(goqu.Ex{"ci.sha256": goqu.I("sc.sha256")})).
		SelectDistinct(goqu.I("ci.sha256"), goqu.I("ci.size")).
		Where(goqu.C("snapshot_id").Table("sc").In(vs.SnapshotIDs)).
		Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("sqlstore: building query: %w", err)
	}
	drows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: sizing view snapshot: %w", err)
	}
	defer drows.Close()
	vs.PackageCount, vs.TotalSize = 0, 0
	for drows.Next() {
		var (
			sha  string
			size int64
		)
		if err := drows.Scan(&sha, &size); err != nil {
			return err
		}
		vs.PackageCount++
		vs.TotalSize += size
	}
	return drows.Err()
}

// DeleteViewSnapshot implements datastore.SnapshotStore. The member
// snapshots it created are deleted with it.
func (s *Store) DeleteViewSnapshot(ctx context.Context, viewName, name string) error {
	vs, err := s.GetViewSnapshot(ctx, viewName, name)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		del := []struct {
			table string
			where goqu.Expression
		}{
			{"view_snapshot_member", goqu.Ex{"view_snapshot_id": vs.ID}},
			{"view_snapshot", goqu.Ex{"id": vs.ID}},
			{"snapshot_content", goqu.C("snapshot_id").In(vs.SnapshotIDs)},
			{"snapshot", goqu.C("id").In(vs.SnapshotIDs)},
		}
		for _, d := range del {
			q, args, err := s.gq.Delete(d.table).Where(d.where).Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("sqlstore: deleting view snapshot: %w", err)
			}
		}
		return nil
	})
}
