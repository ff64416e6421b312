package database

import (
	"context"
	"errors"

	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/lib/pq"
)

const (
	policiesTable      = "policies"
	processingLogTable = "processing_log"

	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// schemaStatements create the tables if they are missing. The partial unique
// index on open attempts is what keeps two claims for the same
// (policy, stage) from both succeeding.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS policies (
		id           VARCHAR(32) PRIMARY KEY,
		title        TEXT,
		description  TEXT,
		filename     TEXT NOT NULL,
		file_size    BIGINT NOT NULL CHECK (file_size > 0),
		file_hash    CHAR(64),
		content_type VARCHAR(100) NOT NULL,
		storage_key  TEXT NOT NULL,
		language     VARCHAR(10) NOT NULL DEFAULT 'en',
		jurisdiction TEXT,
		policy_type  VARCHAR(32),
		status       VARCHAR(16) NOT NULL DEFAULT 'uploaded',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		archived_at  TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_file_hash ON policies (file_hash) WHERE file_hash IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_policies_listing ON policies (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS processing_log (
		id            BIGSERIAL PRIMARY KEY,
		policy_id     VARCHAR(32) NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		stage         VARCHAR(32) NOT NULL,
		status        VARCHAR(16) NOT NULL,
		result        JSONB,
		error_kind    VARCHAR(32),
		error_message TEXT,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_processing_log_open_attempt
		ON processing_log (policy_id, stage) WHERE status IN ('pending', 'in_progress')`,
	`CREATE INDEX IF NOT EXISTS idx_processing_log_policy_stage ON processing_log (policy_id, stage, status)`,
}

// EnsureSchema creates the pipeline tables and indexes
func EnsureSchema(ctx context.Context, client *postgres.Client) error {
	for _, stmt := range schemaStatements {
		if _, err := client.DB().ExecContext(ctx, stmt); err != nil {
			return apperrors.NewInternalError("failed to apply schema", err)
		}
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
