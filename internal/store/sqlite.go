package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cma-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// SQLite has a single writer; one connection keeps level assignment
	// and :memory: databases consistent.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS deepening_history (
	fingerprint   TEXT NOT NULL,
	level         INTEGER NOT NULL,
	session_id    TEXT NOT NULL,
	level_label   TEXT NOT NULL DEFAULT '',
	quality_score INTEGER NOT NULL DEFAULT 0,
	data_gaps     TEXT NOT NULL DEFAULT '[]',
	recorded_at   DATETIME NOT NULL,
	PRIMARY KEY (fingerprint, level)
);

CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	fingerprint   TEXT NOT NULL,
	status        TEXT NOT NULL,
	quality_score INTEGER NOT NULL DEFAULT 0,
	session       TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_entries (
	id          TEXT PRIMARY KEY,
	region      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	entry       TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_fingerprint ON analyses(fingerprint);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_learning_region ON learning_entries(region, recorded_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendDeepening(ctx context.Context, rec model.DeepeningRecord) (*model.DeepeningRecord, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	gaps, err := marshalGaps(rec.DataGaps)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: append deepening")
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO deepening_history (fingerprint, level, session_id, level_label, quality_score, data_gaps, recorded_at)
		 SELECT ?, COALESCE(MAX(level), 0) + 1, ?, ?, ?, ?, ? FROM deepening_history WHERE fingerprint = ?
		 RETURNING level`,
		rec.Fingerprint, rec.SessionID, rec.LevelLabel, rec.QualityScore, string(gaps), rec.RecordedAt, rec.Fingerprint,
	).Scan(&rec.Level)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: append deepening")
	}
	return &rec, nil
}

func (s *SQLiteStore) LatestDeepening(ctx context.Context, fingerprint string) (*model.DeepeningRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, level, session_id, level_label, quality_score, data_gaps, recorded_at
		 FROM deepening_history WHERE fingerprint = ? ORDER BY level DESC LIMIT 1`,
		fingerprint,
	)
	rec, err := scanDeepening(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest deepening")
	}
	return rec, nil
}

func (s *SQLiteStore) ListDeepening(ctx context.Context, fingerprint string) ([]model.DeepeningRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, level, session_id, level_label, quality_score, data_gaps, recorded_at
		 FROM deepening_history WHERE fingerprint = ? ORDER BY level`,
		fingerprint,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deepening")
	}
	defer rows.Close() //nolint:errcheck

	var recs []model.DeepeningRecord
	for rows.Next() {
		rec, err := scanDeepening(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deepening")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list deepening iterate")
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, session *model.AnalysisSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, fingerprint, status, quality_score, session, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status,
		   quality_score = excluded.quality_score,
		   session = excluded.session,
		   updated_at = excluded.updated_at`,
		session.ID, session.Fingerprint, string(session.Status), session.QualityScore, string(data),
		session.CreatedAt.UTC(), session.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save analysis %s", session.ID)
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT session FROM analyses WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}

	var sess model.AnalysisSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	return &sess, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisSession, error) {
	query := `SELECT session FROM analyses WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Fingerprint != "" {
		query += ` AND fingerprint = ?`
		args = append(args, filter.Fingerprint)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AnalysisSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		var sess model.AnalysisSession
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
		}
		out = append(out, sess)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

func (s *SQLiteStore) RecordLearning(ctx context.Context, entry model.LearningEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal learning entry")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learning_entries (id, region, fingerprint, session_id, entry, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Region, entry.Fingerprint, entry.SessionID, string(data), entry.RecordedAt,
	)
	return eris.Wrapf(err, "sqlite: record learning for %s", entry.Region)
}

func (s *SQLiteStore) ListLearning(ctx context.Context, region string, limit int) ([]model.LearningEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM learning_entries WHERE region = ? ORDER BY recorded_at DESC LIMIT ?`,
		region, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list learning")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LearningEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan learning entry")
		}
		var e model.LearningEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal learning entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list learning iterate")
}

func scanDeepening(row scannable) (*model.DeepeningRecord, error) {
	var rec model.DeepeningRecord
	var gaps string
	if err := row.Scan(&rec.Fingerprint, &rec.Level, &rec.SessionID, &rec.LevelLabel,
		&rec.QualityScore, &gaps, &rec.RecordedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(gaps), &rec.DataGaps); err != nil {
		return nil, eris.Wrap(err, "unmarshal data gaps")
	}
	return &rec, nil
}
