package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/pkgmirror/pkgmirror"
)

// batchSize caps IN-lists and multi-row inserts. SQLite's default
// variable limit is 999; content rows carry 9 columns.
const batchSize = 100

var contentCols = []any{"sha256", "filename", "size", "type", "name", "version", "arch", "metadata", "created_at"}

// contentItemCols is contentCols qualified for joined selects; both
// join tables carry a sha256 column.
var contentItemCols = []any{
	goqu.I("content_item.sha256"),
	goqu.I("content_item.filename"),
	goqu.I("content_item.size"),
	goqu.I("content_item.type"),
	goqu.I("content_item.name"),
	goqu.I("content_item.version"),
	goqu.I("content_item.arch"),
	goqu.I("content_item.metadata"),
	goqu.I("content_item.created_at"),
}

// UpsertContentItems implements datastore.ContentStore.
func (s *Store) UpsertContentItems(ctx context.Context, items []pkgmirror.ContentItem) (int64, error) {
	var created int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for off := 0; off < len(items); off += batchSize {
			batch := items[off:min(off+batchSize, len(items))]
			shas := make([]string, len(batch))
			for i := range batch {
				shas[i] = batch[i].SHA256
			}
			have, err := s.existing(ctx, tx, "content_item", "sha256", shas)
			if err != nil {
				return err
			}
			var rows []any
			for i := range batch {
				it := &batch[i]
				if _, ok := have[it.SHA256]; ok {
					continue
				}
				md, err := json.Marshal(it.Metadata)
				if err != nil {
					return fmt.Errorf("sqlstore: encoding metadata for %s: %w", it.SHA256, err)
				}
				at := it.CreatedAt
				if at.IsZero() {
					at = time.Now()
				}
				rows = append(rows, goqu.Record{
					"sha256":     it.SHA256,
					"filename":   it.Filename,
					"size":       it.Size,
					"type":       string(it.Type),
					"name":       it.Name,
					"version":    it.Version,
					"arch":       it.Arch,
					"metadata":   string(md),
					"created_at": at.Unix(),
				})
			}
			if len(rows) == 0 {
				continue
			}
			q, args, err := s.gq.Insert("content_item").Rows(rows...).Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("sqlstore: inserting content: %w", err)
			}
			created += int64(len(rows))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// existing returns which of vals already appear in col of table.
func (s *Store) existing(ctx context.Context, tx *sql.Tx, table, col string, vals []string) (map[string]struct{}, error) {
	q, args, err := s.gq.From(table).Select(col).Where(goqu.C(col).In(vals)).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: querying %s: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string]struct{}, len(vals))
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = struct{}{}
	}
	return out, rows.Err()
}

// GetContent implements datastore.ContentStore.
func (s *Store) GetContent(ctx context.Context, sha256 string) (*pkgmirror.ContentItem, error) {
	q, args, err := s.gq.From("content_item").Select(contentCols...).
		Where(goqu.Ex{"sha256": sha256}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	it, err := scanContentItem(s.db.QueryRowContext(ctx, q, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("sqlstore: content %s: %w", sha256, pkgmirror.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("sqlstore: reading content: %w", err)
	}
	return it, nil
}

// FindContent implements datastore.ContentStore.
func (s *Store) FindContent(ctx context.Context, typ pkgmirror.ContentType, name, version, arch string) (*pkgmirror.ContentItem, error) {
	q, args, err := s.gq.From("content_item").Select(contentCols...).
		Where(goqu.Ex{"type": string(typ), "name": name, "version": version, "arch": arch}).
		Limit(1).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	it, err := scanContentItem(s.db.QueryRowContext(ctx, q, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("sqlstore: content %s %s-%s.%s: %w", typ, name, version, arch, pkgmirror.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("sqlstore: reading content: %w", err)
	}
	return it, nil
}

// LinkContent implements datastore.ContentStore.
func (s *Store) LinkContent(ctx context.Context, repoID string, sha256s []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for off := 0; off < len(sha256s); off += batchSize {
			batch := sha256s[off:min(off+batchSize, len(sha256s))]
			q, args, err := s.gq.From("repository_content").Select("sha256").
				Where(goqu.Ex{"repo_id": repoID}, goqu.C("sha256").In(batch)).
				Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building query: %w", err)
			}
			rows, err := tx.QueryContext(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("sqlstore: querying links: %w", err)
			}
			have := make(map[string]struct{})
			for rows.Next() {
				var v string
				if err := rows.Scan(&v); err != nil {
					rows.Close()
					return err
				}
				have[v] = struct{}{}
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			var ins []any
			for _, sha := range batch {
				if _, ok := have[sha]; ok {
					continue
				}
				ins = append(ins, goqu.Record{"repo_id": repoID, "sha256": sha})
			}
			if len(ins) == 0 {
				continue
			}
			q, args, err = s.gq.Insert("repository_content").Rows(ins...).Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("sqlstore: linking content: %w", err)
			}
		}
		return nil
	})
}

// UnlinkContent implements datastore.ContentStore.
func (s *Store) UnlinkContent(ctx context.Context, repoID string, sha256s []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for off := 0; off < len(sha256s); off += batchSize {
			batch := sha256s[off:min(off+batchSize, len(sha256s))]
			q, args, err := s.gq.Delete("repository_content").
				Where(goqu.Ex{"repo_id": repoID}, goqu.C("sha256").In(batch)).
				Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("sqlstore: unlinking content: %w", err)
			}
		}
		return nil
	})
}

// ListRepositoryContent implements datastore.ContentStore.
func (s *Store) ListRepositoryContent(ctx context.Context, repoID string) ([]pkgmirror.ContentItem, error) {
	q, args, err := s.gq.From("content_item").Select(contentItemCols...).
		Join(goqu.T("repository_content"), goqu.On(goqu.Ex{"repository_content.sha256": goqu.I("content_item.sha256")})).
		Where(goqu.Ex{"repository_content.repo_id": repoID}).
		Order(goqu.I("content_item.name").Asc(), goqu.I("content_item.version").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	return s.queryContent(ctx, q, args)
}

func (s *Store) queryContent(ctx context.Context, q string, args []any) ([]pkgmirror.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing content: %w", err)
	}
	defer rows.Close()
	var out []pkgmirror.ContentItem
	for rows.Next() {
		it, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: reading content: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// LinkedDigests implements datastore.ContentStore.
func (s *Store) LinkedDigests(ctx context.Context, repoID string) (map[string]struct{}, error) {
	q, args, err := s.gq.From("repository_content").Select("sha256").
		Where(goqu.Ex{"repo_id": repoID}).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing links: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = struct{}{}
	}
	return out, rows.Err()
}

// ReplaceRepositoryFiles implements datastore.ContentStore.
func (s *Store) ReplaceRepositoryFiles(ctx context.Context, repoID string, files []pkgmirror.RepositoryFile) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		q, args, err := s.gq.Delete("repository_file").Where(goqu.Ex{"repo_id": repoID}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("sqlstore: building delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("sqlstore: clearing repository files: %w", err)
		}
		for off := 0; off < len(files); off += batchSize {
			batch := files[off:min(off+batchSize, len(files))]
			rows := make([]any, 0, len(batch))
			for i := range batch {
				f := &batch[i]
				md, err := json.Marshal(f.Metadata)
				if err != nil {
					return fmt.Errorf("sqlstore: encoding metadata for %s: %w", f.OriginalPath, err)
				}
				at := f.CreatedAt
				if at.IsZero() {
					at = time.Now()
				}
				rows = append(rows, goqu.Record{
					"repo_id":       repoID,
					"sha256":        f.SHA256,
					"size":          f.Size,
					"category":      f.Category,
					"file_type":     f.FileType,
					"original_path": f.OriginalPath,
					"metadata":      string(md),
					"created_at":    at.Unix(),
				})
			}
			q, args, err := s.gq.Insert("repository_file").Rows(rows...).Prepared(true).ToSQL()
			if err != nil {
				return fmt.Errorf("sqlstore: building insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("sqlstore: inserting repository files: %w", err)
			}
		}
		return nil
	})
}

// ListRepositoryFiles implements datastore.ContentStore.
func (s *Store) ListRepositoryFiles(ctx context.Context, repoID string) ([]pkgmirror.RepositoryFile, error) {
	q, args, err := s.gq.From("repository_file").
		Select("sha256", "size", "category", "file_type", "original_path", "metadata", "created_at").
		Where(goqu.Ex{"repo_id": repoID}).
		Order(goqu.I("original_path").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing repository files: %w", err)
	}
	defer rows.Close()
	var out []pkgmirror.RepositoryFile
	for rows.Next() {
		var (
			f  pkgmirror.RepositoryFile
			md string
			ts int64
		)
		if err := rows.Scan(&f.SHA256, &f.Size, &f.Category, &f.FileType, &f.OriginalPath, &md, &ts); err != nil {
			return nil, fmt.Errorf("sqlstore: reading repository file: %w", err)
		}
		if err := json.Unmarshal([]byte(md), &f.Metadata); err != nil {
			return nil, fmt.Errorf("sqlstore: decoding metadata for %s: %w", f.OriginalPath, err)
		}
		f.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanContentItem(row rowScanner) (*pkgmirror.ContentItem, error) {
	var (
		it  pkgmirror.ContentItem
		typ string
		md  string
		ts  int64
	)
	if err := row.Scan(&it.SHA256, &it.Filename, &it.Size, &typ, &it.Name, &it.Version, &it.Arch, &md, &ts); err != nil {
		return nil, err
	}
	it.Type = pkgmirror.ContentType(typ)
	if err := json.Unmarshal([]byte(md), &it.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	it.CreatedAt = time.Unix(ts, 0).UTC()
	return &it, nil
}
