// Package postgres provides a Postgres-backed crawler.BusinessStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/bizdirectory-crawler/internal/crawler"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ crawler.BusinessStore = (*BusinessStore)(nil)

const uniqueViolation = "23505"

// Schema creates the tables used by BusinessStore.
const Schema = `
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
	discovered_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS businesses_target_idx ON businesses (target_name);
CREATE TABLE IF NOT EXISTS crawl_runs (
	id BIGSERIAL PRIMARY KEY,
	target_name TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	pages_crawled INTEGER NOT NULL,
	businesses_added INTEGER NOT NULL,
	error_count INTEGER NOT NULL
);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// BusinessStore writes businesses and crawl runs into Postgres.
type BusinessStore struct {
	pool pool
}

// New connects a pool using cfg and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*BusinessStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &BusinessStore{pool: p}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*BusinessStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &BusinessStore{pool: p}, nil
}

// EnsureSchema applies Schema.
func (s *BusinessStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *BusinessStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertBusiness inserts or replaces a business keyed by ID.
func (s *BusinessStore) UpsertBusiness(ctx context.Context, record crawler.BusinessRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := `
INSERT INTO businesses (
	id,
	bi_id,
	name,
	region,
	sector,
	contact,
	source_url,
	extraction_method,
	selector,
	target_name,
	discovered_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (id) DO UPDATE SET
	bi_id = EXCLUDED.bi_id,
	name = EXCLUDED.name,
	region = EXCLUDED.region,
	sector = EXCLUDED.sector,
	contact = EXCLUDED.contact,
	source_url = EXCLUDED.source_url,
	extraction_method = EXCLUDED.extraction_method,
	selector = EXCLUDED.selector,
	target_name = EXCLUDED.target_name,
	discovered_at = EXCLUDED.discovered_at`

	_, err := s.pool.Exec(ctx, query,
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
		record.DiscoveredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("upsert business %s: %w", record.BIID, crawler.ErrDuplicateBIID)
		}
		return fmt.Errorf("upsert business: %w", err)
	}
	return nil
}

// BIIDExists reports whether biID is already stored.
func (s *BusinessStore) BIIDExists(ctx context.Context, biID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM businesses WHERE bi_id = $1)`, biID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check bi-id: %w", err)
	}
	return exists, nil
}

// RecordCrawlRun stores one run's metadata.
func (s *BusinessStore) RecordCrawlRun(ctx context.Context, run crawler.CrawlRun) error {
	query := `
INSERT INTO crawl_runs (target_name, start_time, end_time, pages_crawled, businesses_added, error_count)
VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := s.pool.Exec(ctx, query,
		run.TargetName,
		run.StartTime,
		run.EndTime,
		run.PagesCrawled,
		run.BusinessesAdded,
		run.ErrorCount,
	); err != nil {
		return fmt.Errorf("record crawl run: %w", err)
	}
	return nil
}

// CrawlerStatistics aggregates crawl_runs.
func (s *BusinessStore) CrawlerStatistics(ctx context.Context, now time.Time) (crawler.CrawlerStats, error) {
	var (
		runs, pages, businesses int64
		last, first             *time.Time
	)
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*), COALESCE(SUM(pages_crawled), 0), COALESCE(SUM(businesses_added), 0), MAX(end_time), MIN(start_time)
FROM crawl_runs`).Scan(&runs, &pages, &businesses, &last, &first)
	if err != nil {
		return crawler.CrawlerStats{}, fmt.Errorf("crawler statistics: %w", err)
	}
	stats := crawler.CrawlerStats{
		TotalRuns:            int(runs),
		TotalPagesCrawled:    int(pages),
		TotalBusinessesAdded: int(businesses),
	}
	return crawler.FinishStats(stats, last, first, now), nil
}

// ListBusinesses returns matching records, newest first.
func (s *BusinessStore) ListBusinesses(ctx context.Context, filter crawler.BusinessFilter) ([]crawler.BusinessRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.TargetName != "" {
		args = append(args, filter.TargetName)
		where = append(where, fmt.Sprintf("target_name = $%d", len(args)))
	}
	if filter.Region != "" {
		args = append(args, filter.Region)
		where = append(where, fmt.Sprintf("lower(region) = lower($%d)", len(args)))
	}
	if filter.Sector != "" {
		args = append(args, filter.Sector)
		where = append(where, fmt.Sprintf("lower(sector) = lower($%d)", len(args)))
	}

	query := `SELECT id, bi_id, name, region, sector, contact, source_url, extraction_method, selector, target_name, discovered_at
FROM businesses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY discovered_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var out []crawler.BusinessRecord
	for rows.Next() {
		var (
			rec    crawler.BusinessRecord
			method string
		)
		if err := rows.Scan(
			&rec.ID, &rec.BIID, &rec.Name, &rec.Region, &rec.Sector, &rec.Contact,
			&rec.SourceURL, &method, &rec.Selector, &rec.TargetName, &rec.DiscoveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		rec.ExtractionMethod = crawler.ExtractionMethod(method)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	return out, nil
}
