// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careerscope/jobharvester/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ListingStoreConfig controls the Postgres connection pool used for listing rows.
type ListingStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ListingStore writes job listings into Postgres.
type ListingStore struct {
	pool  execCloser
	table string
}

// NewListingStore creates a Postgres-backed ListingStore using the provided config.
func NewListingStore(ctx context.Context, cfg ListingStoreConfig) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(pool execCloser, table string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Store inserts one listing row and returns the listing id.
func (s *ListingStore) Store(ctx context.Context, listing scrape.Listing) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("listing store is not configured")
	}
	if listing.ID == "" {
		return "", fmt.Errorf("listing id is required")
	}
	salaryJSON, err := json.Marshal(listing.Salary)
	if err != nil {
		return "", fmt.Errorf("marshal salary: %w", err)
	}
	skillsJSON, err := json.Marshal(listing.Skills)
	if err != nil {
		return "", fmt.Errorf("marshal skills: %w", err)
	}
	requirementsJSON, err := json.Marshal(listing.Requirements)
	if err != nil {
		return "", fmt.Errorf("marshal requirements: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	company,
	location,
	description,
	requirements,
	salary,
	employment_type,
	remote,
	experience_level,
	skills,
	posted_at,
	source_url,
	source_name,
	scraped_at,
	confidence
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)`, s.table)

	args := []any{
		listing.ID,
		listing.Title,
		listing.Company,
		listing.Location,
		listing.Description,
		requirementsJSON,
		salaryJSON,
		listing.EmploymentType,
		listing.Remote,
		listing.ExperienceLevel,
		skillsJSON,
		listing.PostedAt,
		listing.SourceURL,
		listing.SourceName,
		listing.ScrapedAt,
		listing.Confidence,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	return listing.ID, nil
}
