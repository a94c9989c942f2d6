// Package sqlite implements crawler.BusinessStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	_ "modernc.org/sqlite"
)

var _ crawler.BusinessStore = (*BusinessStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS businesses (
	id TEXT PRIMARY KEY,
	bi_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	region TEXT NOT NULL DEFAULT '',
	sector TEXT NOT NULL DEFAULT '',
	contact TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL,
	selector TEXT NOT NULL DEFAULT '',
	target_name TEXT NOT NULL DEFAULT '',
	discovered_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS businesses_target_idx ON businesses (target_name);
CREATE TABLE IF NOT EXISTS crawl_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_name TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER NOT NULL,
	pages_crawled INTEGER NOT NULL,
	businesses_added INTEGER NOT NULL,
	error_count INTEGER NOT NULL
);
`

// BusinessStore persists businesses and crawl runs with database/sql.
type BusinessStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn and applies the schema.
func New(dsn string) (*BusinessStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &BusinessStore{db: db}, nil
}

// UpsertBusiness inserts or replaces a business keyed by ID.
func (s *BusinessStore) UpsertBusiness(ctx context.Context, record crawler.BusinessRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT id FROM businesses WHERE bi_id = ?`, record.BIID).Scan(&owner)
	switch {
	case err == nil && owner != record.ID:
		return fmt.Errorf("upsert business %s: %w", record.BIID, crawler.ErrDuplicateBIID)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check bi-id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO businesses (
		id, bi_id, name, region, sector, contact, source_url, extraction_method, selector, target_name, discovered_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		bi_id = excluded.bi_id,
		name = excluded.name,
		region = excluded.region,
		sector = excluded.sector,
		contact = excluded.contact,
		source_url = excluded.source_url,
		extraction_method = excluded.extraction_method,
		selector = excluded.selector,
		target_name = excluded.target_name,
		discovered_at = excluded.discovered_at
	`,
		record.ID,
		record.BIID,
		record.Name,
		record.Region,
		record.Sector,
		record.Contact,
		record.SourceURL,
		string(record.ExtractionMethod),
		record.Selector,
		record.TargetName,
		record.DiscoveredAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert business: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// BIIDExists reports whether biID is already stored.
func (s *BusinessStore) BIIDExists(ctx context.Context, biID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM businesses WHERE bi_id = ?)`, biID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check bi-id: %w", err)
	}
	return exists, nil
}

// RecordCrawlRun stores one run's metadata.
func (s *BusinessStore) RecordCrawlRun(ctx context.Context, run crawler.CrawlRun) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO crawl_runs (target_name, start_time, end_time, pages_crawled, businesses_added, error_count)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.TargetName,
		run.StartTime.UTC().UnixNano(),
		run.EndTime.UTC().UnixNano(),
		run.PagesCrawled,
		run.BusinessesAdded,
		run.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("record crawl run: %w", err)
	}
	return nil
}

// CrawlerStatistics aggregates crawl_runs.
func (s *BusinessStore) CrawlerStatistics(ctx context.Context, now time.Time) (crawler.CrawlerStats, error) {
	var (
		stats    crawler.CrawlerStats
		lastNS   sql.NullInt64
		firstNS  sql.NullInt64
		pages    sql.NullInt64
		business sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*), SUM(pages_crawled), SUM(businesses_added), MAX(end_time), MIN(start_time)
	FROM crawl_runs
	`).Scan(&stats.TotalRuns, &pages, &business, &lastNS, &firstNS)
	if err != nil {
		return crawler.CrawlerStats{}, fmt.Errorf("crawler statistics: %w", err)
	}
	stats.TotalPagesCrawled = int(pages.Int64)
	stats.TotalBusinessesAdded = int(business.Int64)
	return crawler.FinishStats(stats, nanosToTime(lastNS), nanosToTime(firstNS), now), nil
}

// ListBusinesses returns matching records, newest first.
func (s *BusinessStore) ListBusinesses(ctx context.Context, filter crawler.BusinessFilter) ([]crawler.BusinessRecord, error) {
	query := `SELECT id, bi_id, name, region, sector, contact, source_url, extraction_method, selector, target_name, discovered_at
	FROM businesses WHERE 1=1`
	args := []any{}

	if filter.TargetName != "" {
		query += ` AND target_name = ?`
		args = append(args, filter.TargetName)
	}
	if filter.Region != "" {
		query += ` AND region = ? COLLATE NOCASE`
		args = append(args, filter.Region)
	}
	if filter.Sector != "" {
		query += ` AND sector = ? COLLATE NOCASE`
		args = append(args, filter.Sector)
	}

	query += ` ORDER BY discovered_at DESC, id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var out []crawler.BusinessRecord
	for rows.Next() {
		var (
			rec          crawler.BusinessRecord
			method       string
			discoveredNS int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.BIID, &rec.Name, &rec.Region, &rec.Sector, &rec.Contact,
			&rec.SourceURL, &method, &rec.Selector, &rec.TargetName, &discoveredNS,
		); err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		rec.ExtractionMethod = crawler.ExtractionMethod(method)
		rec.DiscoveredAt = time.Unix(0, discoveredNS).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *BusinessStore) Close() error {
	return s.db.Close()
}

func nanosToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
