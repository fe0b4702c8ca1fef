package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // legacy source database speaks the pq driver

	"github.com/vietddude/classifier/internal/core/domain"
)

// identPattern guards interpolated source table names.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SourceDB is a read-only connection to the legacy source database.
type SourceDB struct {
	db          *sql.DB
	collections []string
}

// NewSourceDB opens the source database and pins the collection list.
func NewSourceDB(ctx context.Context, url string, collections []string) (*SourceDB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping source database: %w", err)
	}

	for _, c := range collections {
		if !identPattern.MatchString(c) {
			_ = db.Close()
			return nil, fmt.Errorf("invalid source collection name: %q", c)
		}
	}

	return &SourceDB{db: db, collections: collections}, nil
}

// Close closes the source connection.
func (s *SourceDB) Close() error {
	return s.db.Close()
}

// Health checks the source database connection.
func (s *SourceDB) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Collections lists the source collections in migration order.
func (s *SourceDB) Collections(ctx context.Context) ([]string, error) {
	return s.collections, nil
}

// Count returns the number of rows in one collection.
func (s *SourceDB) Count(ctx context.Context, collection string) (int64, error) {
	if !identPattern.MatchString(collection) {
		return 0, fmt.Errorf("invalid source collection name: %q", collection)
	}
	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s`, collection)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return count, nil
}

// FetchPage reads one keyset page ordered by the monotonically increasing id.
func (s *SourceDB) FetchPage(
	ctx context.Context,
	collection string,
	afterID int64,
	limit int,
) ([]domain.SourceRow, error) {
	if !identPattern.MatchString(collection) {
		return nil, fmt.Errorf("invalid source collection name: %q", collection)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, title FROM %s WHERE id > $1 ORDER BY id LIMIT $2`, collection),
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page from %s: %w", collection, err)
	}
	defer rows.Close()

	var page []domain.SourceRow
	for rows.Next() {
		var r domain.SourceRow
		if err := rows.Scan(&r.ID, &r.Title); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		page = append(page, r)
	}
	return page, rows.Err()
}
