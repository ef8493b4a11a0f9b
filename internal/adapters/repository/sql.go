package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"   // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/metrics"
)

// voteInsertLock serializes vote inserts on PostgreSQL so that sequences
// become visible in order and the feed cursor never passes an uncommitted row.
const voteInsertLock = 7240601

// SQLStore implements Store on PostgreSQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// OpenSQL connects to dsn, creates the schema and starts the metrics updater.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*SQLStore, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// one writer; also keeps ":memory:" databases on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := CreateSchema(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, dialect: dialect, stopChan: make(chan struct{})}
	s.startMetricsUpdater(ctx, buildOptions(opts).metricsUpdateInterval)
	return s, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) startMetricsUpdater(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if n, err := s.Count(ctx); err == nil {
					metrics.UpdateStandingsTotal(n)
				}
			}
		}
	}()
}

// Close stops background goroutines and closes the database.
func (s *SQLStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordVote implements VoteStore with INSERT ... ON CONFLICT DO NOTHING.
// No returned row means the dedupe key already exists; the holder's id and
// sequence are read back so a retried insert can recognise itself.
func (s *SQLStore) RecordVote(ctx context.Context, v model.Vote) (model.Vote, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("record_vote", metrics.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Vote{}, fmt.Errorf("begin record vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, voteInsertLock); err != nil {
			return model.Vote{}, fmt.Errorf("lock votes: %w", err)
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO votes (id, collection_id, voter_id, winner_id, loser_id, pair_key, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (collection_id, dedupe_key) DO NOTHING
		RETURNING seq`,
		v.ID, v.CollectionID, v.VoterID, v.WinnerID, v.LoserID, v.PairKey, v.DedupeKey, v.CreatedAt.UnixNano(),
	).Scan(&v.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		existing := model.Vote{CollectionID: v.CollectionID, DedupeKey: v.DedupeKey}
		if err := tx.QueryRowContext(ctx,
			`SELECT id, seq FROM votes WHERE collection_id = $1 AND dedupe_key = $2`,
			v.CollectionID, v.DedupeKey,
		).Scan(&existing.ID, &existing.Seq); err != nil {
			return model.Vote{}, fmt.Errorf("read duplicate vote: %w", err)
		}
		return existing, fmt.Errorf("%w: %s", model.ErrDuplicateVote, v.DedupeKey)
	}
	if err != nil {
		return model.Vote{}, fmt.Errorf("insert vote: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Vote{}, fmt.Errorf("commit vote: %w", err)
	}
	return v, nil
}

// Committed implements VoteStore.
func (s *SQLStore) Committed(ctx context.Context, afterSeq int64, limit int) ([]model.Vote, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, collection_id, voter_id, winner_id, loser_id, pair_key, dedupe_key, created_at
		FROM votes WHERE seq > $1 ORDER BY seq LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query committed votes: %w", err)
	}
	defer rows.Close()

	var out []model.Vote
	for rows.Next() {
		var v model.Vote
		var created int64
		if err := rows.Scan(&v.Seq, &v.ID, &v.CollectionID, &v.VoterID, &v.WinnerID, &v.LoserID, &v.PairKey, &v.DedupeKey, &created); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return out, nil
}

// LastSeq implements VoteStore.
func (s *SQLStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM votes`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}

// LoadCursor implements VoteStore.
func (s *SQLStore) LoadCursor(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM feed_cursors WHERE name = $1`, name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor %s: %w", name, err)
	}
	return seq, nil
}

// SaveCursor implements VoteStore.
func (s *SQLStore) SaveCursor(ctx context.Context, name string, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feed_cursors (name, seq) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET seq = excluded.seq`, name, seq)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}

// GetStanding implements StandingStore.
func (s *SQLStore) GetStanding(ctx context.Context, collectionID, itemID string) (model.Standing, error) {
	st := model.Standing{CollectionID: collectionID, ItemID: itemID}
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT rating, wins, losses, updated_at FROM standings
		WHERE collection_id = $1 AND item_id = $2`, collectionID, itemID,
	).Scan(&st.Rating, &st.Wins, &st.Losses, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Standing{}, fmt.Errorf("%w: %s/%s", model.ErrNotFound, collectionID, itemID)
	}
	if err != nil {
		return model.Standing{}, fmt.Errorf("get standing: %w", err)
	}
	st.UpdatedAt = time.Unix(0, updated).UTC()
	return st, nil
}

// PutPair implements StandingStore in a single transaction.
func (s *SQLStore) PutPair(ctx context.Context, voteID string, winner, loser model.Standing) error {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("put_pair", metrics.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put pair: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO applied_votes (vote_id, applied_at) VALUES ($1, $2)
		ON CONFLICT (vote_id) DO NOTHING`, voteID, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("mark vote applied: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark vote applied: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrAlreadyApplied, voteID)
	}

	for _, st := range []model.Standing{winner, loser} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO standings (collection_id, item_id, rating, wins, losses, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (collection_id, item_id) DO UPDATE SET
				rating = excluded.rating,
				wins = excluded.wins,
				losses = excluded.losses,
				updated_at = excluded.updated_at`,
			st.CollectionID, st.ItemID, st.Rating, st.Wins, st.Losses, st.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("upsert standing %s: %w", st.ItemID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put pair: %w", err)
	}
	return nil
}

// Page implements StandingStore with keyset pagination.
func (s *SQLStore) Page(ctx context.Context, collectionID string, order model.Order, after *model.Cursor, limit int) ([]model.Standing, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("page", metrics.Since(start)) }()

	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	query := `SELECT item_id, rating, wins, losses, updated_at FROM standings WHERE collection_id = $1`
	args := []any{collectionID}
	if after != nil {
		if order == model.OrderAsc {
			query += ` AND (rating > $2 OR (rating = $2 AND item_id < $3))`
		} else {
			query += ` AND (rating < $2 OR (rating = $2 AND item_id > $3))`
		}
		args = append(args, after.Rating, after.ItemID)
	}
	if order == model.OrderAsc {
		query += ` ORDER BY rating ASC, item_id DESC`
	} else {
		query += ` ORDER BY rating DESC, item_id ASC`
	}
	query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	out := make([]model.Standing, 0, limit)
	for rows.Next() {
		st := model.Standing{CollectionID: collectionID}
		var updated int64
		if err := rows.Scan(&st.ItemID, &st.Rating, &st.Wins, &st.Losses, &updated); err != nil {
			return nil, fmt.Errorf("scan standing: %w", err)
		}
		st.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate standings: %w", err)
	}
	return out, nil
}

// Count implements StandingStore.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM standings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count standings: %w", err)
	}
	return n, nil
}
