package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

const leaseExpiredMessage = "attempt lease expired before completion"

var entryColumns = []interface{}{
	"id", "policy_id", "stage", "status", "result", "error_kind",
	"error_message", "started_at", "completed_at", "created_at",
}

var openStatuses = []string{
	string(entities.AttemptStatusPending),
	string(entities.AttemptStatusInProgress),
}

// ProcessingLogAdapter implements the ProcessingLogRepository interface on PostgreSQL
type ProcessingLogAdapter struct {
	client *postgres.Client
	db     *goqu.Database
	now    func() time.Time
}

var _ repositories.ProcessingLogRepository = (*ProcessingLogAdapter)(nil)

// NewProcessingLogAdapter creates a new processing log adapter
func NewProcessingLogAdapter(client *postgres.Client) *ProcessingLogAdapter {
	return &ProcessingLogAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// StartAttempt claims the (policy, stage) slot inside one transaction. The
// policy row is locked so concurrent claims for the same document serialize.
func (a *ProcessingLogAdapter) StartAttempt(ctx context.Context, params entities.StartAttemptParams) (*entities.ProcessingLogEntry, error) {
	var (
		entry    *entities.ProcessingLogEntry
		claimErr error
	)

	err := a.client.WithTx(ctx, func(tx *sql.Tx) error {
		if err := a.lockPolicy(ctx, tx, params.PolicyID); err != nil {
			return err
		}

		history, err := a.history(ctx, tx, params.PolicyID, params.Stage)
		if err != nil {
			return err
		}

		now := a.now()
		stale, decision := entities.DecideClaim(history, params, now)
		if len(stale) > 0 {
			ids := make([]int64, 0, len(stale))
			for _, s := range stale {
				ids = append(ids, s.ID)
			}
			if err := a.expire(ctx, tx, goqu.C("id").In(ids), now); err != nil {
				return err
			}
		}
		if decision != nil {
			// commit the expirations; the claim itself is refused
			claimErr = decision
			return nil
		}

		entry, err = a.insertOpen(ctx, tx, params, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if claimErr != nil {
		return nil, claimErr
	}
	return entry, nil
}

func (a *ProcessingLogAdapter) lockPolicy(ctx context.Context, tx *sql.Tx, policyID string) error {
	query, args, err := a.db.Select("id").
		From(policiesTable).
		Where(goqu.Ex{"id": policyID}).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build lock query", err)
	}

	var id string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", policyID))
	}
	if err != nil {
		return apperrors.NewInternalError("failed to lock policy", err)
	}
	return nil
}

func (a *ProcessingLogAdapter) history(ctx context.Context, tx *sql.Tx, policyID string, stage entities.Stage) ([]*entities.ProcessingLogEntry, error) {
	query, args, err := a.db.Select(entryColumns...).
		From(processingLogTable).
		Where(goqu.Ex{"policy_id": policyID, "stage": string(stage)}).
		Order(goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build history query", err)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load processing history", err)
	}
	return collectEntries(rows)
}

func (a *ProcessingLogAdapter) insertOpen(ctx context.Context, tx *sql.Tx, params entities.StartAttemptParams, now time.Time) (*entities.ProcessingLogEntry, error) {
	query, args, err := a.db.Insert(processingLogTable).
		Rows(goqu.Record{
			"policy_id":  params.PolicyID,
			"stage":      string(params.Stage),
			"status":     string(entities.AttemptStatusPending),
			"created_at": now,
		}).
		Returning("id").
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build insert query", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if pqCode(err) == uniqueViolation {
			return nil, apperrors.NewConflictError(fmt.Sprintf(
				"stage %s is already in progress for policy %s", params.Stage, params.PolicyID))
		}
		return nil, apperrors.NewInternalError("failed to insert processing entry", err)
	}

	query, args, err = a.db.Update(processingLogTable).
		Set(goqu.Record{
			"status":     string(entities.AttemptStatusInProgress),
			"started_at": now,
		}).
		Where(goqu.Ex{"id": id}).
		Returning(entryColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build start query", err)
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to start processing entry", err)
	}
	return entry, nil
}

// CompleteAttempt moves an in_progress entry to completed
func (a *ProcessingLogAdapter) CompleteAttempt(ctx context.Context, id int64, result entities.StageResult) (*entities.ProcessingLogEntry, error) {
	var payload interface{}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to encode stage result", err)
		}
		payload = string(data)
	}

	return a.finish(ctx, id, goqu.Record{
		"status":       string(entities.AttemptStatusCompleted),
		"result":       payload,
		"completed_at": a.now(),
	})
}

// FailAttempt moves an in_progress entry to failed
func (a *ProcessingLogAdapter) FailAttempt(ctx context.Context, id int64, kind, message string) (*entities.ProcessingLogEntry, error) {
	return a.finish(ctx, id, goqu.Record{
		"status":        string(entities.AttemptStatusFailed),
		"error_kind":    kind,
		"error_message": message,
		"completed_at":  a.now(),
	})
}

func (a *ProcessingLogAdapter) finish(ctx context.Context, id int64, record goqu.Record) (*entities.ProcessingLogEntry, error) {
	query, args, err := a.db.Update(processingLogTable).
		Set(record).
		Where(goqu.Ex{"id": id, "status": string(entities.AttemptStatusInProgress)}).
		Returning(entryColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build update query", err)
	}

	entry, err := scanEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == nil {
		return entry, nil
	}
	if err != sql.ErrNoRows {
		return nil, apperrors.NewInternalError("failed to update processing entry", err)
	}

	// nothing matched: either the id is unknown or the entry already left in_progress
	query, args, err = a.db.Select("status").From(processingLogTable).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var status string
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("processing entry %d not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get processing entry", err)
	}
	return nil, apperrors.NewInvalidStateError(fmt.Sprintf(
		"processing entry %d is %s, expected %s", id, status, entities.AttemptStatusInProgress))
}

// LatestCompleted returns the authoritative completed entry, or nil
func (a *ProcessingLogAdapter) LatestCompleted(ctx context.Context, policyID string, stage entities.Stage) (*entities.ProcessingLogEntry, error) {
	query, args, err := a.db.Select(entryColumns...).
		From(processingLogTable).
		Where(goqu.Ex{
			"policy_id": policyID,
			"stage":     string(stage),
			"status":    string(entities.AttemptStatusCompleted),
		}).
		Order(goqu.I("completed_at").Desc(), goqu.I("id").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry, err := scanEntry(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get latest completed entry", err)
	}
	return entry, nil
}

// ListByPolicy returns every entry of a policy ordered by id
func (a *ProcessingLogAdapter) ListByPolicy(ctx context.Context, policyID string) ([]*entities.ProcessingLogEntry, error) {
	query, args, err := a.db.Select(entryColumns...).
		From(processingLogTable).
		Where(goqu.Ex{"policy_id": policyID}).
		Order(goqu.I("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list processing entries", err)
	}
	return collectEntries(rows)
}

// ReconcileStale fails open entries opened before cutoff
func (a *ProcessingLogAdapter) ReconcileStale(ctx context.Context, cutoff time.Time) ([]*entities.ProcessingLogEntry, error) {
	query, args, err := a.db.Update(processingLogTable).
		Set(expiredRecord(a.now())).
		Where(
			goqu.C("status").In(openStatuses),
			goqu.COALESCE(goqu.C("started_at"), goqu.C("created_at")).Lt(cutoff),
		).
		Returning(entryColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build reconcile query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to reconcile stale entries", err)
	}
	return collectEntries(rows)
}

func (a *ProcessingLogAdapter) expire(ctx context.Context, tx *sql.Tx, where exp.Expression, now time.Time) error {
	query, args, err := a.db.Update(processingLogTable).
		Set(expiredRecord(now)).
		Where(where, goqu.C("status").In(openStatuses)).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build expire query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to expire stale entries", err)
	}
	return nil
}

func expiredRecord(now time.Time) goqu.Record {
	return goqu.Record{
		"status":        string(entities.AttemptStatusFailed),
		"error_kind":    entities.ErrorKindLeaseExpired,
		"error_message": leaseExpiredMessage,
		"completed_at":  now,
	}
}

func collectEntries(rows *sql.Rows) ([]*entities.ProcessingLogEntry, error) {
	defer rows.Close()

	entries := []*entities.ProcessingLogEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan processing entry", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate processing entries", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*entities.ProcessingLogEntry, error) {
	entry := &entities.ProcessingLogEntry{}
	var (
		stage, status           string
		result                  []byte
		errorKind, errorMessage sql.NullString
		startedAt, completedAt  sql.NullTime
	)

	err := row.Scan(
		&entry.ID,
		&entry.PolicyID,
		&stage,
		&status,
		&result,
		&errorKind,
		&errorMessage,
		&startedAt,
		&completedAt,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Stage = entities.Stage(stage)
	entry.Status = entities.AttemptStatus(status)
	entry.ErrorKind = errorKind.String
	entry.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		t := startedAt.Time
		entry.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		entry.CompletedAt = &t
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &entry.Result); err != nil {
			return nil, fmt.Errorf("failed to decode stage result: %w", err)
		}
	}
	return entry, nil
}
