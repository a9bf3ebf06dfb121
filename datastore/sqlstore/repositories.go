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

// UpsertRepository implements datastore.RepositoryStore.
func (s *Store) UpsertRepository(ctx context.Context, r *pkgmirror.Repository) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rec := goqu.Record{
			"name":    r.Name,
			"type":    string(r.Type),
			"feed":    r.Feed,
			"enabled": r.Enabled,
			"mode":    string(r.Mode),
		}
		q, args, err := s.gq.Update("repository").Set(rec).Where(goqu.Ex{"id": r.ID}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building update: %w", err)
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("sqlstore: updating repository: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			return nil
		}
		rec["id"] = r.ID
		rec["last_sync"] = r.LastSync.Unix()
		if r.LastSync.IsZero() {
			rec["last_sync"] = 0
		}
		q, args, err = s.gq.Insert("repository").Rows(rec).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlstore: inserting repository: %w", err)
		}
		return nil
	})
}

// GetRepository implements datastore.RepositoryStore.
func (s *Store) GetRepository(ctx context.Context, id string) (*pkgmirror.Repository, error) {
	q, args, err := s.gq.From("repository").
		Select("id", "name", "type", "feed", "enabled", "mode", "last_sync").
		Where(goqu.Ex{"id": id}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	r, err := scanRepository(s.db.QueryRowContext(ctx, q, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("sqlstore: repository %q: %w", id, pkgmirror.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("sqlstore: reading repository: %w", err)
	}
	return r, nil
}

// ListRepositories implements datastore.RepositoryStore.
func (s *Store) ListRepositories(ctx context.Context) ([]pkgmirror.Repository, error) {
	q, args, err := s.gq.From("repository").
		Select("id", "name", "type", "feed", "enabled", "mode", "last_sync").
		Order(goqu.I("id").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing repositories: %w", err)
	}
	defer rows.Close()
	var out []pkgmirror.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: reading repository: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SetLastSync implements datastore.RepositoryStore.
func (s *Store) SetLastSync(ctx context.Context, id string, at int64) error {
	q, args, err := s.gq.Update("repository").
		Set(goqu.Record{"last_sync": at}).
		Where(goqu.Ex{"id": id}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("sqlstore: building update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: updating last sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlstore: repository %q: %w", id, pkgmirror.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*pkgmirror.Repository, error) {
	var (
		r    pkgmirror.Repository
		typ  string
		mode string
		ts   int64
	)
	if err := row.Scan(&r.ID, &r.Name, &typ, &r.Feed, &r.Enabled, &mode, &ts); err != nil {
		return nil, err
	}
	r.Type = pkgmirror.ContentType(typ)
	r.Mode = pkgmirror.Mode(mode)
	if ts > 0 {
		r.LastSync = time.Unix(ts, 0).UTC()
	}
	return &r, nil
}
