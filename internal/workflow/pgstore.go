package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/fieldadmin/model"
)

// ObservationSchema creates the tables used by PgObservationStore.
const ObservationSchema = `
CREATE TABLE IF NOT EXISTS execution_observations (
	scope        TEXT        NOT NULL,
	execution_id TEXT        NOT NULL,
	workflow_id  TEXT        NOT NULL,
	status       TEXT        NOT NULL,
	history_len  INTEGER     NOT NULL,
	document     JSONB       NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (scope, execution_id)
);
CREATE TABLE IF NOT EXISTS workflow_versions (
	scope       TEXT        NOT NULL,
	workflow_id TEXT        NOT NULL,
	version     INTEGER     NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (scope, workflow_id)
);`

// PgObservationStore is a PostgreSQL-backed ObservationStore using pgx/v5.
// Replicas sharing one database agree on what was last observed.
type PgObservationStore struct {
	pool *pgxpool.Pool
}

// NewPgObservationStore creates a new PostgreSQL observation store.
func NewPgObservationStore(pool *pgxpool.Pool) *PgObservationStore {
	return &PgObservationStore{pool: pool}
}

// EnsureSchema creates the observation tables if they are missing.
func (s *PgObservationStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ObservationSchema); err != nil {
		return fmt.Errorf("create observation schema: %w", err)
	}
	return nil
}

// ObserveExecution checks and records next inside one transaction. An
// advisory lock on the execution serialises concurrent observers, including
// the first observation when no row exists yet.
func (s *PgObservationStore) ObserveExecution(ctx context.Context, scope string, next model.WorkflowExecution, check ExecutionCheck) error {
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, scope, next.ID); err != nil {
			return fmt.Errorf("lock execution observation: %w", err)
		}

		prev, seen, err := scanExecution(tx.QueryRow(ctx, `
			SELECT document FROM execution_observations
			WHERE scope = $1 AND execution_id = $2`,
			scope, next.ID,
		))
		if err != nil {
			return err
		}
		if err := check(prev, seen, next); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO execution_observations (
				scope, execution_id, workflow_id, status, history_len, document, observed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (scope, execution_id) DO UPDATE SET
				status = EXCLUDED.status,
				history_len = EXCLUDED.history_len,
				document = EXCLUDED.document,
				observed_at = EXCLUDED.observed_at`,
			scope, next.ID, next.WorkflowID, string(next.Status), len(next.History), doc, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert execution observation: %w", err)
		}
		return nil
	})
}

// LastExecution returns the last accepted observation.
func (s *PgObservationStore) LastExecution(ctx context.Context, scope, executionID string) (model.WorkflowExecution, bool, error) {
	return scanExecution(s.pool.QueryRow(ctx, `
		SELECT document FROM execution_observations
		WHERE scope = $1 AND execution_id = $2`,
		scope, executionID,
	))
}

// ObserveVersion records the workflow version unless a higher one is
// already stored.
func (s *PgObservationStore) ObserveVersion(ctx context.Context, scope, workflowID string, version int) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_versions (scope, workflow_id, version, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, workflow_id) DO UPDATE SET
			version = EXCLUDED.version,
			observed_at = EXCLUDED.observed_at
		WHERE workflow_versions.version <= EXCLUDED.version`,
		scope, workflowID, version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert workflow version: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var prev int
	err = s.pool.QueryRow(ctx, `
		SELECT version FROM workflow_versions
		WHERE scope = $1 AND workflow_id = $2`,
		scope, workflowID,
	).Scan(&prev)
	if err != nil {
		return fmt.Errorf("query workflow version: %w", err)
	}
	return model.NewProtocolViolationError(
		fmt.Sprintf("workflow %s version went from %d to %d", workflowID, prev, version),
	)
}

// ForgetWorkflow drops the recorded version.
func (s *PgObservationStore) ForgetWorkflow(ctx context.Context, scope, workflowID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM workflow_versions
		WHERE scope = $1 AND workflow_id = $2`,
		scope, workflowID,
	)
	if err != nil {
		return fmt.Errorf("delete workflow version: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PgObservationStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanExecution(row pgx.Row) (model.WorkflowExecution, bool, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowExecution{}, false, nil
	}
	if err != nil {
		return model.WorkflowExecution{}, false, fmt.Errorf("query execution observation: %w", err)
	}

	var e model.WorkflowExecution
	if err := json.Unmarshal(doc, &e); err != nil {
		return model.WorkflowExecution{}, false, fmt.Errorf("unmarshal execution observation: %w", err)
	}
	return e, true, nil
}
