package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/csa-normalizer/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"save_result":       `INSERT INTO results (document_id, result_id, confidence, requires_review, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (document_id) DO UPDATE SET result_id = $2, confidence = $3, requires_review = $4, payload = $5, created_at = $6`,
	"get_result":        `SELECT payload FROM results WHERE document_id = $1`,
	"get_ground_truth":  `SELECT fields FROM ground_truth WHERE reference_id = $1`,
	"save_ground_truth": `INSERT INTO ground_truth (reference_id, fields, updated_at) VALUES ($1, $2, $3) ON CONFLICT (reference_id) DO UPDATE SET fields = $2, updated_at = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS results (
	document_id     TEXT PRIMARY KEY,
	result_id       TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	requires_review BOOLEAN NOT NULL DEFAULT false,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ground_truth (
	reference_id TEXT PRIMARY KEY,
	fields       JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_results_requires_review ON results(requires_review);
CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
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
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result *model.NormalizedResult) error {
	if result == nil || result.DocumentID == "" {
		return eris.New("postgres: result must carry a document id")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO results (document_id, result_id, confidence, requires_review, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (document_id) DO UPDATE SET
			result_id = $2, confidence = $3, requires_review = $4, payload = $5, created_at = $6`,
		result.DocumentID, result.ID, result.OverallConfidence,
		result.RequiresHumanReview, payload, result.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save result %s", result.DocumentID)
}

func (s *PostgresStore) GetResult(ctx context.Context, documentID string) (*model.NormalizedResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM results WHERE document_id = $1`,
		documentID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get result %s", documentID)
	}

	var r model.NormalizedResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &r, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.NormalizedResult, error) {
	query := `SELECT payload FROM results WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RequiresReview != nil {
		query += fmt.Sprintf(` AND requires_review = $%d`, argIdx)
		args = append(args, *filter.RequiresReview)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []model.NormalizedResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.NormalizedResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) SaveGroundTruth(ctx context.Context, referenceID string, fields map[string]any) error {
	if referenceID == "" {
		return eris.New("postgres: ground truth needs a reference id")
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal ground truth")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ground_truth (reference_id, fields, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (reference_id) DO UPDATE SET fields = $2, updated_at = $3`,
		referenceID, fieldsJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save ground truth %s", referenceID)
}

func (s *PostgresStore) GetGroundTruth(ctx context.Context, referenceID string) (map[string]any, error) {
	var fieldsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM ground_truth WHERE reference_id = $1`,
		referenceID,
	).Scan(&fieldsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.GroundTruthUnavailableError{ReferenceID: referenceID}
		}
		return nil, eris.Wrap(err, "postgres: get ground truth")
	}

	var fields map[string]any
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal ground truth")
	}
	return fields, nil
}
