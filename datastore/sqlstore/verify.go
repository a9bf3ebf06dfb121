package sqlstore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v8"
)

// referenceChecks are the parent/child pairs Verify inspects. Foreign
// keys should make orphans impossible; the check exists for databases
// migrated or repaired by hand.
var referenceChecks = []struct {
	child, childCol   string
	parent, parentCol string
}{
	{"repository_content", "repo_id", "repository", "id"},
	{"repository_content", "sha256", "content_item", "sha256"},
	{"repository_file", "repo_id", "repository", "id"},
	{"snapshot", "repo_id", "repository", "id"},
	{"snapshot_content", "snapshot_id", "snapshot", "id"},
	{"snapshot_content", "sha256", "content_item", "sha256"},
	{"view_snapshot_member", "view_snapshot_id", "view_snapshot", "id"},
	{"view_snapshot_member", "snapshot_id", "snapshot", "id"},
}

// Verify runs referential integrity checks and returns a description of
// every problem found. An empty slice means the database is consistent.
func (s *Store) Verify(ctx context.Context) ([]string, error) {
	var problems []string
	for _, c := range referenceChecks {
		q, args, err := s.gq.From(goqu.T(c.child).As("c")).
			LeftJoin(goqu.T(c.parent).As("p"), goqu.On(goqu.I("c."+c.childCol).Eq(goqu.I("p."+c.parentCol)))).
			Where(goqu.I("p." + c.parentCol).IsNull()).
			Select(goqu.COUNT(goqu.Star())).
			Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: building check: %w", err)
		}
		var n int64
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlstore: checking %s.%s: %w", c.child, c.childCol, err)
		}
		if n > 0 {
			problems = append(problems,
				fmt.Sprintf("%d %s rows reference a missing %s", n, c.child, c.parent))
		}
	}
	return problems, nil
}
