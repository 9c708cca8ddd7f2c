package runs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// History is the interface ingest.go drives: the disk-backed Store and
// PostgresStore are interchangeable behind it, so a deployment can start
// on the file-backed store and move to Postgres without touching callers.
type History interface {
	CreateRun(variable string) (IngestRun, error)
	UpdateRun(id string, status Status, message string, metadata map[string]any) (IngestRun, error)
	ListRuns(limit int) []IngestRun
}

// PostgresStore is a History backed by a Postgres table, for deployments
// that already run Postgres and want run history to survive container
// restarts without a mounted volume for the JSON file Store uses.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ingestRunsSchema is the table PostgresStore reads and writes.
// NewPostgresStore runs it on connect (CREATE TABLE IF NOT EXISTS), so no
// separate migration step is needed.
const ingestRunsSchema = `
CREATE TABLE IF NOT EXISTS ingest_runs (
	id         text PRIMARY KEY,
	variable   text NOT NULL,
	status     text NOT NULL,
	started_at timestamptz NOT NULL,
	ended_at   timestamptz,
	message    text NOT NULL DEFAULT '',
	metadata   jsonb
)`

// NewPostgresStore connects to dsn and ensures the ingest_runs table
// exists. The pool is built with pgxpool.ParseConfig/NewWithConfig and
// sized small (MaxConns 5, MinConns 1) for the low-volume ingest-run
// bookkeeping this store does.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigErr, "failed to parse postgres dsn", err)
	}
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to connect to postgres", err)
	}
	if _, err := pool.Exec(ctx, ingestRunsSchema); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.StorageErr, "failed to ensure ingest_runs table", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateRun inserts a new running record.
func (s *PostgresStore) CreateRun(variable string) (IngestRun, error) {
	run := IngestRun{
		ID:        newRunID(),
		Variable:  variable,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO ingest_runs (id, variable, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Variable, run.Status, run.StartedAt)
	if err != nil {
		return IngestRun{}, apperr.Wrap(apperr.StorageErr, "failed to insert ingest run", err)
	}
	return run, nil
}

// UpdateRun mutates the run identified by id, returning apperr.NotFound if
// no such row exists.
func (s *PostgresStore) UpdateRun(id string, status Status, message string, metadata map[string]any) (IngestRun, error) {
	ctx := context.Background()

	var metadataJSON []byte
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return IngestRun{}, apperr.Wrap(apperr.EncodeErr, "failed to marshal run metadata", err)
		}
		metadataJSON = raw
	}

	var endedAt *time.Time
	if status != StatusRunning {
		now := time.Now().UTC()
		endedAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $2, message = $3, ended_at = COALESCE($4, ended_at),
		 metadata = COALESCE($5, metadata) WHERE id = $1`,
		id, status, message, endedAt, metadataJSON)
	if err != nil {
		return IngestRun{}, apperr.Wrap(apperr.StorageErr, "failed to update ingest run", err)
	}
	if tag.RowsAffected() == 0 {
		return IngestRun{}, apperr.New(apperr.NotFound, "no ingest run with id "+id)
	}
	return s.get(ctx, id)
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *PostgresStore) ListRuns(limit int) []IngestRun {
	ctx := context.Background()
	query := `SELECT id, variable, status, started_at, ended_at, message, metadata
	          FROM ingest_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []IngestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return out
		}
		out = append(out, run)
	}
	return out
}

func (s *PostgresStore) get(ctx context.Context, id string) (IngestRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, variable, status, started_at, ended_at, message, metadata
		 FROM ingest_runs WHERE id = $1`, id)
	return scanRun(row)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (IngestRun, error) {
	var run IngestRun
	var metadataJSON []byte
	if err := row.Scan(&run.ID, &run.Variable, &run.Status, &run.StartedAt, &run.EndedAt, &run.Message, &metadataJSON); err != nil {
		if err == pgx.ErrNoRows {
			return IngestRun{}, apperr.Wrap(apperr.NotFound, "ingest run not found", err)
		}
		return IngestRun{}, apperr.Wrap(apperr.DecodeErr, "failed to scan ingest run", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &run.Metadata); err != nil {
			return IngestRun{}, apperr.Wrap(apperr.DecodeErr, "failed to parse ingest run metadata", err)
		}
	}
	return run, nil
}
