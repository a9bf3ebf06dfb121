package sqlstore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v8"

	"github.com/pkgmirror/pkgmirror/datastore"
)

// Referenced implements datastore.MetaStore.
//
// The result is the union of repository links, snapshot content, and
// mirror-mode file digests. The pool's cleanup removes everything else.
func (s *Store) Referenced(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	queries := []struct {
		table, col string
	}{
		{"repository_content", "sha256"},
		{"snapshot_content", "sha256"},
		{"repository_file", "sha256"},
	}
	for _, src := range queries {
		q, args, err := s.gq.From(src.table).SelectDistinct(src.col).Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: building query: %w", err)
		}
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: reading %s: %w", src.table, err)
		}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			if v != "" {
				out[v] = struct{}{}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Stats implements datastore.MetaStore.
func (s *Store) Stats(ctx context.Context) (*datastore.Stats, error) {
	var st datastore.Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"repository", &st.Repositories},
		{"content_item", &st.ContentItems},
		{"snapshot", &st.Snapshots},
		{"view_snapshot", &st.ViewSnapshots},
		{"sync_run", &st.SyncRuns},
	}
	for _, c := range counts {
		q, args, err := s.gq.From(c.table).Select(goqu.COUNT("*")).Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: building query: %w", err)
		}
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("sqlstore: counting %s: %w", c.table, err)
		}
	}
	q, args, err := s.gq.From("content_item").Select(goqu.COALESCE(goqu.SUM("size"), 0)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&st.ContentBytes); err != nil {
		return nil, fmt.Errorf("sqlstore: summing content size: %w", err)
	}
	return &st, nil
}
