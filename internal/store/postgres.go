package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/db"
	"github.com/sells-group/cma-engine/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore on an open pool. The pool is shared
// with the market data source and closed by Close.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS deepening_history (
	fingerprint   TEXT NOT NULL,
	level         INTEGER NOT NULL,
	session_id    TEXT NOT NULL,
	level_label   TEXT NOT NULL DEFAULT '',
	quality_score INTEGER NOT NULL DEFAULT 0,
	data_gaps     JSONB NOT NULL DEFAULT '[]',
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (fingerprint, level)
);

CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	fingerprint   TEXT NOT NULL,
	status        TEXT NOT NULL,
	quality_score INTEGER NOT NULL DEFAULT 0,
	session       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS learning_entries (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	entry       JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_fingerprint ON analyses(fingerprint);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_learning_region ON learning_entries(region, recorded_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// AppendDeepening serializes writers per fingerprint with a transaction
// scoped advisory lock before computing the next level.
func (s *PostgresStore) AppendDeepening(ctx context.Context, rec model.DeepeningRecord) (*model.DeepeningRecord, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	gaps, err := marshalGaps(rec.DataGaps)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: append deepening")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: append deepening: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.Fingerprint); err != nil {
		return nil, eris.Wrap(err, "postgres: append deepening: lock")
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO deepening_history (fingerprint, level, session_id, level_label, quality_score, data_gaps, recorded_at)
		 SELECT $1::text, COALESCE(MAX(level), 0) + 1, $2::text, $3::text, $4::int, $5::jsonb, $6::timestamptz
		 FROM deepening_history WHERE fingerprint = $1
		 RETURNING level`,
		rec.Fingerprint, rec.SessionID, rec.LevelLabel, rec.QualityScore, gaps, rec.RecordedAt,
	).Scan(&rec.Level)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: append deepening: insert")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: append deepening: commit")
	}
	return &rec, nil
}

func (s *PostgresStore) LatestDeepening(ctx context.Context, fingerprint string) (*model.DeepeningRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, level, session_id, level_label, quality_score, data_gaps, recorded_at
		 FROM deepening_history WHERE fingerprint = $1 ORDER BY level DESC LIMIT 1`,
		fingerprint,
	)
	rec, err := scanDeepeningPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest deepening")
	}
	return rec, nil
}

func (s *PostgresStore) ListDeepening(ctx context.Context, fingerprint string) ([]model.DeepeningRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint, level, session_id, level_label, quality_score, data_gaps, recorded_at
		 FROM deepening_history WHERE fingerprint = $1 ORDER BY level`,
		fingerprint,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deepening")
	}
	defer rows.Close()

	var recs []model.DeepeningRecord
	for rows.Next() {
		rec, err := scanDeepeningPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan deepening")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list deepening iterate")
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, session *model.AnalysisSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (id, fingerprint, status, quality_score, session, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   quality_score = EXCLUDED.quality_score,
		   session = EXCLUDED.session,
		   updated_at = EXCLUDED.updated_at`,
		session.ID, session.Fingerprint, string(session.Status), session.QualityScore, data,
		session.CreatedAt, session.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save analysis %s", session.ID)
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisSession, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT session FROM analyses WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}

	var sess model.AnalysisSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal analysis")
	}
	return &sess, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisSession, error) {
	query := `SELECT session FROM analyses WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Fingerprint != "" {
		query += fmt.Sprintf(` AND fingerprint = $%d`, argIdx)
		args = append(args, filter.Fingerprint)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var out []model.AnalysisSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		var sess model.AnalysisSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal analysis")
		}
		out = append(out, sess)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func (s *PostgresStore) RecordLearning(ctx context.Context, entry model.LearningEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal learning entry")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO learning_entries (id, region, fingerprint, session_id, entry, recorded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Region, entry.Fingerprint, entry.SessionID, data, entry.RecordedAt,
	)
	return eris.Wrapf(err, "postgres: record learning for %s", entry.Region)
}

func (s *PostgresStore) ListLearning(ctx context.Context, region string, limit int) ([]model.LearningEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entry FROM learning_entries WHERE region = $1 ORDER BY recorded_at DESC LIMIT $2`,
		region, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list learning")
	}
	defer rows.Close()

	var out []model.LearningEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan learning entry")
		}
		var e model.LearningEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal learning entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list learning iterate")
}

func scanDeepeningPG(row scannable) (*model.DeepeningRecord, error) {
	var rec model.DeepeningRecord
	var gaps []byte
	if err := row.Scan(&rec.Fingerprint, &rec.Level, &rec.SessionID, &rec.LevelLabel,
		&rec.QualityScore, &gaps, &rec.RecordedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(gaps, &rec.DataGaps); err != nil {
		return nil, eris.Wrap(err, "unmarshal data gaps")
	}
	return &rec, nil
}
