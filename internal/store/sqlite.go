package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/csa-normalizer/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS results (
	document_id    TEXT PRIMARY KEY,
	result_id      TEXT NOT NULL,
	confidence     REAL NOT NULL,
	requires_review INTEGER NOT NULL DEFAULT 0,
	payload        TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ground_truth (
	reference_id TEXT PRIMARY KEY,
	fields       TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_results_requires_review ON results(requires_review);
CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result *model.NormalizedResult) error {
	if result == nil || result.DocumentID == "" {
		return eris.New("sqlite: result must carry a document id")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (document_id, result_id, confidence, requires_review, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			result_id = excluded.result_id,
			confidence = excluded.confidence,
			requires_review = excluded.requires_review,
			payload = excluded.payload,
			created_at = excluded.created_at`,
		result.DocumentID, result.ID, result.OverallConfidence,
		boolToInt(result.RequiresHumanReview), string(payload), result.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save result %s", result.DocumentID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, documentID string) (*model.NormalizedResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM results WHERE document_id = ?`,
		documentID,
	)
	return scanResult(row)
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.NormalizedResult, error) {
	query := `SELECT payload FROM results WHERE 1=1`
	var args []any

	if filter.RequiresReview != nil {
		query += ` AND requires_review = ?`
		args = append(args, boolToInt(*filter.RequiresReview))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []model.NormalizedResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) SaveGroundTruth(ctx context.Context, referenceID string, fields map[string]any) error {
	if referenceID == "" {
		return eris.New("sqlite: ground truth needs a reference id")
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal ground truth")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ground_truth (reference_id, fields, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(reference_id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at`,
		referenceID, string(fieldsJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save ground truth %s", referenceID)
}

func (s *SQLiteStore) GetGroundTruth(ctx context.Context, referenceID string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fields FROM ground_truth WHERE reference_id = ?`,
		referenceID,
	)

	var fieldsJSON string
	err := row.Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, &model.GroundTruthUnavailableError{ReferenceID: referenceID}
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get ground truth")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal ground truth")
	}
	return fields, nil
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResult(row scannable) (*model.NormalizedResult, error) {
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan result")
	}

	var r model.NormalizedResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal result")
	}
	return &r, nil
}
