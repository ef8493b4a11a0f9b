package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// driverName returns the database/sql driver registered for d.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, string(d))
	}
}

// CreateSchema creates all tables. Safe to call multiple times.
func CreateSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	seqColumn := "seq BIGSERIAL PRIMARY KEY"
	if d == DialectSQLite {
		seqColumn = "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	for _, stmt := range []string{
		fmt.Sprintf(votesTable, seqColumn),
		standingsTable,
		standingsIndex,
		appliedTable,
		cursorsTable,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

const votesTable = `
CREATE TABLE IF NOT EXISTS votes (
    %s,
    id TEXT NOT NULL UNIQUE,
    collection_id TEXT NOT NULL,
    voter_id TEXT NOT NULL,
    winner_id TEXT NOT NULL,
    loser_id TEXT NOT NULL,
    pair_key TEXT NOT NULL,
    dedupe_key TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE (collection_id, dedupe_key)
)`

const standingsTable = `
CREATE TABLE IF NOT EXISTS standings (
    collection_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    rating DOUBLE PRECISION NOT NULL,
    wins BIGINT NOT NULL DEFAULT 0 CHECK (wins >= 0),
    losses BIGINT NOT NULL DEFAULT 0 CHECK (losses >= 0),
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (collection_id, item_id)
)`

const standingsIndex = `
CREATE INDEX IF NOT EXISTS idx_standings_rank ON standings (collection_id, rating, item_id)`

const appliedTable = `
CREATE TABLE IF NOT EXISTS applied_votes (
    vote_id TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

const cursorsTable = `
CREATE TABLE IF NOT EXISTS feed_cursors (
    name TEXT PRIMARY KEY,
    seq BIGINT NOT NULL
)`
